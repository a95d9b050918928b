// Package worker implements the asset cache worker: precache from the build
// manifest, cache generations with stale-key pruning, cache-first and
// stale-while-revalidate fetch strategies, and content-hash fallback
// recovery, all behind the install → waiting → activating → active
// lifecycle a service worker follows.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/plainlicense/herokit/cachestore"
	"github.com/plainlicense/herokit/manifest"
	"github.com/plainlicense/herokit/observability"
	"github.com/plainlicense/herokit/revalidate"
)

// Config configures a Manager.
type Config struct {
	// Manifest is the precache manifest for this deployment. Required; an
	// invalid manifest is a configuration error and fails construction.
	Manifest *manifest.Manifest
	// DiscoverHTML scans precached HTML for same-origin hashed subresources
	// and folds them into the live precache set.
	DiscoverHTML bool
	// Events is an optional event log for lifecycle and pruning records.
	Events *observability.EventLog
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

// Manager owns the single named cache generation. All cache mutations go
// through it; individual storage operations are atomic but multi-step
// sequences are not transactional — concurrent maintenance converges on the
// same idempotent end state.
type Manager struct {
	man      *manifest.Manifest
	store    *cachestore.Store
	up       *Upstream
	queue    *revalidate.Queue
	events   *observability.EventLog
	log      *slog.Logger
	discover bool

	// mu protects phase and the live precache set.
	mu        sync.Mutex
	phase     Phase
	live      map[string]struct{}
	liveOrder []string

	// Counters for observability (exported via Stats).
	hits      atomic.Int64
	misses    atomic.Int64
	refreshes atomic.Int64
	prunes    atomic.Int64
}

// NewManager validates cfg and builds a Manager in the installing phase.
// An empty cache name or empty URL list fails with a CacheError — a blank
// manifest must abort installation, never silently no-op. queue may be nil;
// stale-while-revalidate then refreshes on a best-effort goroutine instead
// of the durable queue.
func NewManager(cfg Config, store *cachestore.Store, up *Upstream, queue *revalidate.Queue) (*Manager, error) {
	if cfg.Manifest == nil {
		return nil, &CacheError{Op: "init", Err: errors.New("nil manifest")}
	}
	if err := cfg.Manifest.Validate(); err != nil {
		return nil, &CacheError{Op: "init", Err: err}
	}
	if store == nil {
		return nil, &CacheError{Op: "init", Err: errors.New("nil cache store")}
	}
	if up == nil {
		return nil, &CacheError{Op: "init", Err: errors.New("nil upstream")}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		man:      cfg.Manifest,
		store:    store,
		up:       up,
		queue:    queue,
		events:   cfg.Events,
		log:      cfg.Logger,
		discover: cfg.DiscoverHTML,
		phase:    PhaseInstalling,
		live:     make(map[string]struct{}, len(cfg.Manifest.URLs)),
	}
	for _, u := range cfg.Manifest.URLs {
		m.addLive(u)
	}
	return m, nil
}

// CacheName returns the current cache generation name.
func (m *Manager) CacheName() string { return m.man.CacheName }

// addLive adds u to the live precache set, preserving first-seen order.
func (m *Manager) addLive(u string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[u]; ok {
		return false
	}
	m.live[u] = struct{}{}
	m.liveOrder = append(m.liveOrder, u)
	return true
}

func (m *Manager) liveURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.liveOrder))
	copy(out, m.liveOrder)
	return out
}

// Precache fetches and stores every URL in the live precache set. The batch
// is all-or-nothing: any failed fetch fails the whole call with a CacheError
// itemizing every failure, so installation aborts and the previous worker
// generation keeps serving. Entries stored before the failure stay cached —
// the retry is idempotent.
func (m *Manager) Precache(ctx context.Context) error {
	urls := m.liveURLs()
	var failures []error
	stored := 0

	for i := 0; i < len(urls); i++ {
		u := urls[i]
		entry, err := m.fetchAndStore(ctx, u)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", u, err))
			continue
		}
		stored++

		if m.discover && isHTML(entry.ContentType) {
			for _, sub := range DiscoverSubresources(entry.Body) {
				if m.addLive(sub) {
					// Discovered subresources join the batch being walked.
					urls = append(urls, sub)
				}
			}
		}
	}

	m.log.Info("worker: precache finished",
		"cache", m.CacheName(), "stored", stored, "failed", len(failures))
	if m.events != nil {
		m.events.Record(ctx, observability.Event{
			Type:    "precache",
			Subject: m.CacheName(),
			Detail:  fmt.Sprintf("stored=%d failed=%d", stored, len(failures)),
			Success: len(failures) == 0,
		})
	}

	if len(failures) > 0 {
		return &CacheError{Op: "precache", Err: errors.Join(failures...)}
	}
	return nil
}

// Cleanup deletes every cache generation other than the current one,
// removing leftovers from prior deployments.
func (m *Manager) Cleanup(ctx context.Context) error {
	n, err := m.store.DropOthers(ctx, m.CacheName())
	if err != nil {
		return &CacheError{Op: "cleanup", Err: err}
	}
	m.log.Info("worker: cleanup finished", "cache", m.CacheName(), "dropped_entries", n)
	if m.events != nil {
		m.events.Record(ctx, observability.Event{
			Type:    "cleanup",
			Subject: m.CacheName(),
			Detail:  fmt.Sprintf("dropped=%d", n),
			Success: true,
		})
	}
	return nil
}

// CacheIt ensures url is cached. When resp is a successful response it is
// stored directly; otherwise the URL is fetched (with fallback recovery)
// only if absent. Stale-key pruning always runs afterwards, error path
// included.
func (m *Manager) CacheIt(ctx context.Context, url string, resp *http.Response) (err error) {
	defer m.CheckForStaleKey(ctx, url)

	if resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		entry, ferr := cachestore.FromResponse(url, resp)
		if ferr != nil {
			return &CacheError{Op: "cacheIt", Err: ferr}
		}
		if perr := m.store.Put(ctx, m.CacheName(), entry); perr != nil {
			return &CacheError{Op: "cacheIt", Err: perr}
		}
		return nil
	}

	existing, merr := m.store.Match(ctx, m.CacheName(), url)
	if merr != nil {
		return &CacheError{Op: "cacheIt", Err: merr}
	}
	if existing != nil {
		return nil
	}

	entry, ferr := m.FallbackFetch(ctx, url)
	if ferr != nil {
		return ferr
	}
	if perr := m.store.Put(ctx, m.CacheName(), entry); perr != nil {
		return &CacheError{Op: "cacheIt", Err: perr}
	}
	if entry.URL != url {
		m.CheckForStaleKey(ctx, entry.URL)
	}
	return nil
}

// CheckForStaleKey removes every cached key that shares url's logical
// basename but carries a different content hash. This is what keeps the
// cache from growing without bound across rebuilds. Best-effort: failures
// are logged and never propagate — pruning must not block the operation it
// rides on.
func (m *Manager) CheckForStaleKey(ctx context.Context, url string) {
	base, _, ext, ok := manifest.SplitHash(url)
	if !ok {
		return
	}
	keys, err := m.store.Keys(ctx, m.CacheName())
	if err != nil {
		m.log.Warn("worker: stale key scan failed", "url", url, "error", err)
		return
	}
	for _, k := range keys {
		if k == url {
			continue
		}
		b, _, e, ok := manifest.SplitHash(k)
		if !ok || b != base || e != ext {
			continue
		}
		if _, err := m.store.Delete(ctx, m.CacheName(), k); err != nil {
			m.log.Warn("worker: stale key delete failed", "key", k, "error", err)
			continue
		}
		m.prunes.Add(1)
		m.log.Debug("worker: pruned stale key", "key", k, "superseded_by", url)
		if m.events != nil {
			m.events.Record(ctx, observability.Event{
				Type: "prune", Subject: k, Detail: "superseded by " + url, Success: true,
			})
		}
	}
}

// AddURLs extends the live precache set at runtime (the CACHE_URLS message)
// and caches each new URL cache-first. Failures are itemized; URLs that
// succeed stay cached.
func (m *Manager) AddURLs(ctx context.Context, urls []string) error {
	var failures []error
	for _, u := range urls {
		m.addLive(u)
		if err := m.CacheIt(ctx, u, nil); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", u, err))
		}
	}
	if len(failures) > 0 {
		return &CacheError{Op: "cache_urls", Err: errors.Join(failures...)}
	}
	return nil
}

// fetchAndStore fetches path directly from the origin and stores it.
// Precache uses this instead of FallbackFetch: manifest URLs are current by
// definition, so a miss is a build error worth failing on, not recovering
// from.
func (m *Manager) fetchAndStore(ctx context.Context, path string) (*cachestore.Entry, error) {
	resp, err := m.up.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &NetworkError{URL: path, Status: resp.StatusCode}
	}
	entry, err := cachestore.FromResponse(path, resp)
	if err != nil {
		return nil, &CacheError{Op: "precache", Err: err}
	}
	if err := m.store.Put(ctx, m.CacheName(), entry); err != nil {
		return nil, &CacheError{Op: "precache", Err: err}
	}
	m.CheckForStaleKey(ctx, path)
	return entry, nil
}

// Stats reports the worker's observable counters.
type Stats struct {
	Phase            string `json:"phase"`
	CacheName        string `json:"cache_name"`
	Entries          int64  `json:"entries"`
	Hits             int64  `json:"hits"`
	Misses           int64  `json:"misses"`
	Refreshes        int64  `json:"refreshes"`
	Prunes           int64  `json:"prunes"`
	PendingRefreshes int    `json:"pending_refreshes"`
}

// Stats returns a point-in-time snapshot.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	entries, err := m.store.Count(ctx, m.CacheName())
	if err != nil {
		return Stats{}, &CacheError{Op: "stats", Err: err}
	}
	s := Stats{
		Phase:     m.Phase().String(),
		CacheName: m.CacheName(),
		Entries:   entries,
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Refreshes: m.refreshes.Load(),
		Prunes:    m.prunes.Load(),
	}
	if m.queue != nil {
		if n, err := m.queue.Len(ctx); err == nil {
			s.PendingRefreshes = n
		}
	}
	return s, nil
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(contentType, "text/html")
}
