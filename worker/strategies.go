package worker

import (
	"context"
	"regexp"

	"github.com/plainlicense/herokit/cachestore"
)

// Strategy selects how a request is satisfied.
type Strategy int

const (
	// StrategyCacheFirst serves the cached copy and only fetches on a miss.
	StrategyCacheFirst Strategy = iota
	// StrategySWR serves the cached copy immediately and refreshes it in the
	// background.
	StrategySWR
)

func (s Strategy) String() string {
	if s == StrategySWR {
		return "stale-while-revalidate"
	}
	return "cache-first"
}

// swrExtensions matches the frequently-redeployed asset classes. Everything
// else (images, fonts, media) is immutable-by-hash and safe to serve
// cache-first forever.
var swrExtensions = regexp.MustCompile(`\.(js|css|html|json)$`)

// ChooseStrategy picks the strategy for a request path.
func ChooseStrategy(path string) Strategy {
	if swrExtensions.MatchString(path) {
		return StrategySWR
	}
	return StrategyCacheFirst
}

// Fetch dispatches url through the strategy chosen for its extension class.
func (m *Manager) Fetch(ctx context.Context, url string) (*cachestore.Entry, error) {
	if ChooseStrategy(url) == StrategySWR {
		return m.StaleWhileRevalidate(ctx, url)
	}
	return m.CacheFirst(ctx, url)
}

// CacheFirst returns the cached entry when present. On a miss it fetches
// (with fallback recovery), caches the result under the URL that actually
// answered, and returns it. A network failure with no cached entry
// propagates to the caller — there is no synthetic offline response.
func (m *Manager) CacheFirst(ctx context.Context, url string) (*cachestore.Entry, error) {
	cached, err := m.store.Match(ctx, m.CacheName(), url)
	if err != nil {
		return nil, &CacheError{Op: "match", Err: err}
	}
	if cached != nil {
		m.hits.Add(1)
		return cached, nil
	}
	m.misses.Add(1)

	entry, err := m.FallbackFetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if perr := m.store.Put(ctx, m.CacheName(), entry); perr != nil {
		// The fetch succeeded; a storage failure should not turn into a
		// failed page load. Serve the entry and log.
		m.log.Warn("worker: cache store failed after fetch", "url", entry.URL, "error", perr)
		return entry, nil
	}
	m.CheckForStaleKey(ctx, entry.URL)
	return entry, nil
}

// StaleWhileRevalidate returns the cached entry immediately when present and
// queues a background refresh; the caller never waits on the refresh and
// never sees its errors. On a miss it degrades to CacheFirst.
func (m *Manager) StaleWhileRevalidate(ctx context.Context, url string) (*cachestore.Entry, error) {
	cached, err := m.store.Match(ctx, m.CacheName(), url)
	if err != nil {
		return nil, &CacheError{Op: "match", Err: err}
	}
	if cached == nil {
		return m.CacheFirst(ctx, url)
	}
	m.hits.Add(1)

	if m.queue != nil {
		if qerr := m.queue.Enqueue(ctx, url); qerr != nil {
			m.log.Warn("worker: refresh enqueue failed", "url", url, "error", qerr)
		}
	} else {
		// No durable queue wired: refresh on a detached goroutine. The
		// request context is about to end, so the refresh runs on its own.
		go func() {
			if rerr := m.Refresh(context.Background(), url); rerr != nil {
				m.log.Warn("worker: background refresh failed", "url", url, "error", rerr)
			}
		}()
	}
	return cached, nil
}

// Refresh fetches a fresh copy of url and replaces the cached entry. Used by
// the revalidation runner; errors are for the runner's retry logic, never
// for an end user.
func (m *Manager) Refresh(ctx context.Context, url string) error {
	entry, err := m.FallbackFetch(ctx, url)
	if err != nil {
		return err
	}
	if perr := m.store.Put(ctx, m.CacheName(), entry); perr != nil {
		return &CacheError{Op: "refresh", Err: perr}
	}
	m.refreshes.Add(1)
	m.CheckForStaleKey(ctx, entry.URL)
	return nil
}
