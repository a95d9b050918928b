package herostate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// API exposes a Store and its Gates over HTTP so a browser client can drive
// the coordinator with its environmental signals and stream gate transitions
// back over SSE.
type API struct {
	store *Store
	gates *Gates
}

// NewAPI wraps store and gates. Both must outlive the API.
func NewAPI(store *Store, gates *Gates) *API {
	return &API{store: store, gates: gates}
}

// Routes returns the /hero subrouter.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/state", a.handleState)
	r.Post("/signals", a.handleSignals)
	r.Get("/gates", a.handleGates)
	return r
}

// signalBody mirrors the client-side signal payload. All fields optional;
// absent fields leave the corresponding state untouched.
type signalBody struct {
	PageVisible    *bool     `json:"page_visible,omitempty"`
	LandingVisible *bool     `json:"landing_visible,omitempty"`
	EggActive      *bool     `json:"egg_active,omitempty"`
	ReducedMotion  *bool     `json:"reduced_motion,omitempty"`
	Viewport       *Viewport `json:"viewport,omitempty"`
	Location       string    `json:"location,omitempty"`
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.State())
}

func (a *API) handleSignals(w http.ResponseWriter, r *http.Request) {
	var body signalBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	// Navigation first: AtHome/NewToHome derivation must see the location
	// before dependent flags land in the same request.
	if body.Location != "" {
		u, err := url.Parse(body.Location)
		if err != nil {
			http.Error(w, "invalid location URL", http.StatusBadRequest)
			return
		}
		if err := a.store.Navigate(u); err != nil {
			writeStoreErr(w, err)
			return
		}
	}

	patch := Patch{
		PageVisible:          body.PageVisible,
		LandingVisible:       body.LandingVisible,
		EggActive:            body.EggActive,
		PrefersReducedMotion: body.ReducedMotion,
	}
	if !patch.IsZero() {
		if err := a.store.Update(patch); err != nil {
			writeStoreErr(w, err)
			return
		}
	}
	if body.Viewport != nil {
		if err := a.store.SetViewport(*body.Viewport); err != nil {
			writeStoreErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleGates streams gate transitions as SSE events. Each gate emits its
// current value on connect, then only on change.
func (a *API) handleGates(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	type transition struct {
		name  string
		value bool
	}
	// Buffered: gate callbacks run on the updating goroutine and must never
	// block on a slow client. A full buffer drops the event; the client
	// re-syncs from the next transition.
	events := make(chan transition, 16)

	var cancels []func()
	for _, g := range a.gates.All() {
		g := g
		cancels = append(cancels, g.Notify(func(v bool) {
			select {
			case events <- transition{g.Name(), v}:
			default:
			}
		}))
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case t := <-events:
			fmt.Fprintf(w, "event: %s\ndata: {\"allowed\": %t}\n\n", t.name, t.value)
			flusher.Flush()
		}
	}
}

func writeStoreErr(w http.ResponseWriter, err error) {
	if err == ErrStoreClosed {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
