package worker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"

	"github.com/go-chi/chi/v5"

	"github.com/plainlicense/herokit/herostate"
	"github.com/plainlicense/herokit/shield"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	// AdminUser/AdminPasswordHash guard the /worker admin routes with Basic
	// Auth (bcrypt hash). Empty AdminUser leaves the routes open — only
	// acceptable in dev.
	AdminUser         string
	AdminPasswordHash []byte
	// Hero mounts the hero coordinator API under /hero when set.
	Hero *herostate.API
	// RateLimit optionally throttles the admin routes.
	RateLimit *shield.RateLimiter
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

// NewRouter builds the worker's router: fetch interception on the asset
// catch-all, admin endpoints under /worker, hero coordinator under /hero.
func NewRouter(m *Manager, cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.HeadToGet)

	if cfg.Hero != nil {
		r.Mount("/hero", cfg.Hero.Routes())
	}

	r.Route("/worker", func(wr chi.Router) {
		if cfg.RateLimit != nil {
			wr.Use(cfg.RateLimit.Middleware)
		}
		if cfg.AdminUser != "" {
			wr.Use(shield.BasicAuth("herokit", cfg.AdminUser, cfg.AdminPasswordHash))
		}
		wr.Use(shield.MaxBody(1 << 20))
		wr.Post("/message", m.handleMessage)
		wr.Get("/status", m.handleStatus)
	})

	// Fetch interception: same-origin GETs go through the cache strategies;
	// anything else passes through to the origin untouched.
	proxy := httputil.NewSingleHostReverseProxy(m.up.Base())
	r.Handle("/*", m.assetHandler(proxy))

	return r
}

func (m *Manager) assetHandler(passthrough http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			passthrough.ServeHTTP(w, r)
			return
		}
		path := r.URL.Path
		if path == "" || path == "/" {
			path = "/index.html"
		}

		entry, err := m.Fetch(r.Context(), path)
		if err != nil {
			m.log.Warn("worker: asset fetch failed", "path", path, "error", err)
			http.Error(w, "asset unavailable", statusFromError(err))
			return
		}
		w.Header().Set("X-Cache-Strategy", ChooseStrategy(path).String())
		entry.WriteTo(w)
	}
}

// workerMessage is the structured message a page posts to the worker.
type workerMessage struct {
	Type    string `json:"type"`
	Payload struct {
		URLs []string `json:"urls"`
	} `json:"payload"`
}

func (m *Manager) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg workerMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	switch msg.Type {
	case "CACHE_URLS":
		if len(msg.Payload.URLs) == 0 {
			http.Error(w, "empty urls payload", http.StatusBadRequest)
			return
		}
		if err := m.AddURLs(r.Context(), msg.Payload.URLs); err != nil {
			m.log.Warn("worker: CACHE_URLS failed", "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cached": len(msg.Payload.URLs)})
	default:
		http.Error(w, "unknown message type", http.StatusBadRequest)
	}
}

func (m *Manager) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := m.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
