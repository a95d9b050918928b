// Package herostate coordinates which hero animations may run.
//
// A single Store aggregates environmental signals (navigation, page
// visibility, viewport geometry, reduced-motion preference, easter-egg
// overlay) into one HeroState snapshot. Pure predicates map a snapshot to a
// per-component permission, and Gates turn those predicates into
// edge-triggered streams so an animation consumer is only told about
// transitions, never about repeated identical values.
//
// The Store is explicitly constructed and passed to consumers — there is no
// package-level singleton. One Store exists per page session; after Close a
// fresh Store may be constructed for the next session.
package herostate

import (
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Viewport is the current viewport geometry reported by the client.
type Viewport struct {
	OffsetX int `json:"offset_x"`
	OffsetY int `json:"offset_y"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

// HeroState is the single source of truth for animation gating. All fields
// are merged monotonically: an Update only touches the fields its Patch
// carries, never resets the rest.
type HeroState struct {
	AtHome               bool      `json:"at_home"`
	LandingVisible       bool      `json:"landing_visible"`
	PageVisible          bool      `json:"page_visible"`
	EggActive            bool      `json:"egg_active"`
	PrefersReducedMotion bool      `json:"prefers_reduced_motion"`
	NewToHome            bool      `json:"new_to_home"`
	Viewport             Viewport  `json:"viewport"`
	Location             *url.URL  `json:"-"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Patch is a partial HeroState update. Nil fields are left untouched by the
// merge. Malformed or contradictory patches are accepted as-is — validation
// belongs to the signal sources, not the store.
type Patch struct {
	AtHome               *bool
	LandingVisible       *bool
	PageVisible          *bool
	EggActive            *bool
	PrefersReducedMotion *bool
	NewToHome            *bool
	Viewport             *Viewport
	Location             *url.URL
}

// IsZero reports whether the patch carries no fields at all.
func (p Patch) IsZero() bool {
	return p.AtHome == nil && p.LandingVisible == nil && p.PageVisible == nil &&
		p.EggActive == nil && p.PrefersReducedMotion == nil && p.NewToHome == nil &&
		p.Viewport == nil && p.Location == nil
}

// Bool returns a pointer to b, for building patches inline.
func Bool(b bool) *bool { return &b }

// Seed provides the initial synchronous readings the store is constructed
// from, mirroring the first-paint reads a client performs before any signal
// source has fired.
type Seed struct {
	Location             *url.URL
	PageVisible          bool
	PrefersReducedMotion bool
	Viewport             Viewport
}

// Config configures a Store.
type Config struct {
	// Site is the root URL of the site. Navigation to the same origin with
	// the root path counts as "home". Required.
	Site *url.URL
	// LeaveGrace is how long the store waits after a navigation to a foreign
	// origin before tearing itself down. Transient redirects bounce through
	// foreign origins, so this must be generous. Default: 30s.
	LeaveGrace time.Duration
	// ViewportDebounce coalesces bursts of viewport updates (resize storms)
	// into a single merge. Default: 150ms.
	ViewportDebounce time.Duration
	// Seed is the initial state.
	Seed Seed
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.LeaveGrace <= 0 {
		c.LeaveGrace = 30 * time.Second
	}
	if c.ViewportDebounce <= 0 {
		c.ViewportDebounce = 150 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store owns the HeroState snapshot. Updates are applied in call order and
// published synchronously to every subscriber before Update returns.
type Store struct {
	cfg Config
	log *slog.Logger

	// pubMu serializes merge+publish so subscribers always observe
	// snapshots in application order.
	pubMu sync.Mutex

	// mu protects state, subs and the timers.
	mu      sync.Mutex
	state   HeroState
	closed  bool
	subs    map[int]func(HeroState)
	nextSub int

	leaveTimer *time.Timer

	vpTimer   *time.Timer
	vpPending *Viewport

	// Counters for observability (exported via Stats).
	updates atomic.Int64
	emits   atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Updates   int64 `json:"updates"`
	Emissions int64 `json:"emissions"`
	Closed    bool  `json:"closed"`
}

// New creates a Store seeded from cfg.Seed. It returns ErrNoSite if cfg.Site
// is nil.
func New(cfg Config) (*Store, error) {
	if cfg.Site == nil {
		return nil, ErrNoSite
	}
	cfg.defaults()
	s := &Store{
		cfg:  cfg,
		log:  cfg.Logger,
		subs: make(map[int]func(HeroState)),
	}
	loc := cfg.Seed.Location
	if loc == nil {
		loc = cfg.Site
	}
	s.state = HeroState{
		AtHome:               s.isHome(loc),
		PageVisible:          cfg.Seed.PageVisible,
		PrefersReducedMotion: cfg.Seed.PrefersReducedMotion,
		Viewport:             cfg.Seed.Viewport,
		Location:             loc,
		UpdatedAt:            time.Now(),
	}
	return s, nil
}

// State returns the current snapshot.
func (s *Store) State() HeroState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return Stats{
		Updates:   s.updates.Load(),
		Emissions: s.emits.Load(),
		Closed:    closed,
	}
}

// Subscribe registers fn to receive every snapshot published after this
// call. fn runs on the updating goroutine and must not call Update or Close.
// The returned cancel function is idempotent.
func (s *Store) Subscribe(fn func(HeroState)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Update merges a partial update into the current state and publishes the
// new snapshot to all subscribers before returning. An empty patch leaves
// the observable state untouched (subscribers still see a tick; gates
// deduplicate it away). After Close, Update returns ErrStoreClosed.
func (s *Store) Update(p Patch) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.merge(p)
	snap := s.state
	fns := make([]func(HeroState), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.updates.Add(1)
	for _, fn := range fns {
		s.emits.Add(1)
		fn(snap)
	}
	return nil
}

// merge applies p to s.state. Caller holds s.mu.
func (s *Store) merge(p Patch) {
	st := &s.state
	if p.AtHome != nil {
		st.AtHome = *p.AtHome
	}
	if p.LandingVisible != nil {
		st.LandingVisible = *p.LandingVisible
	}
	if p.PageVisible != nil {
		st.PageVisible = *p.PageVisible
	}
	if p.EggActive != nil {
		st.EggActive = *p.EggActive
	}
	if p.PrefersReducedMotion != nil {
		st.PrefersReducedMotion = *p.PrefersReducedMotion
	}
	if p.NewToHome != nil {
		st.NewToHome = *p.NewToHome
	}
	if p.Viewport != nil {
		st.Viewport = *p.Viewport
	}
	if p.Location != nil {
		st.Location = p.Location
	}
	if !p.IsZero() {
		st.UpdatedAt = time.Now()
	}
}

// Close tears the store down: pending timers are stopped, subscribers are
// dropped, and every subsequent Update fails with ErrStoreClosed. Close is
// idempotent. A caller that needs a coordinator for a new session constructs
// a new Store.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.leaveTimer != nil {
		s.leaveTimer.Stop()
		s.leaveTimer = nil
	}
	if s.vpTimer != nil {
		s.vpTimer.Stop()
		s.vpTimer = nil
		s.vpPending = nil
	}
	s.subs = make(map[int]func(HeroState))
	s.mu.Unlock()
	s.log.Debug("herostate: store closed")
}

// Closed reports whether Close has run.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// isHome reports whether u is the site root: same scheme+host as cfg.Site
// and the root path (or the site's configured base path).
func (s *Store) isHome(u *url.URL) bool {
	if u == nil {
		return false
	}
	if !sameOrigin(u, s.cfg.Site) {
		return false
	}
	base := s.cfg.Site.Path
	if base == "" {
		base = "/"
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return p == base || p == base+"index.html"
}

func sameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Scheme == b.Scheme && a.Host == b.Host
}
