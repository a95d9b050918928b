package worker

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/plainlicense/herokit/cachestore"
	"github.com/plainlicense/herokit/manifest"
)

// FallbackFetch fetches path from the origin, recovering from stale hashed
// references. When the direct fetch answers non-OK and the path carries a
// content hash, the precache manifest is searched for a sibling hash of the
// same logical asset; failing that, the hash segment is stripped entirely.
// This covers the deployment race where a cached HTML page still references
// an asset the latest build renamed.
//
// The returned entry's URL is the path that actually answered, so callers
// cache under the live key and stale-key pruning retires the dead one.
func (m *Manager) FallbackFetch(ctx context.Context, path string) (*cachestore.Entry, error) {
	entry, status, err := m.tryFetch(ctx, path)
	if entry != nil {
		return entry, nil
	}
	if err != nil {
		return nil, err
	}

	_, _, _, hashed := manifest.SplitHash(path)
	if !hashed {
		return nil, &NetworkError{URL: path, Status: status}
	}

	retry := m.man.Lookup(path)
	if retry == "" {
		retry = manifest.StripHash(path)
	}
	m.log.Debug("worker: fallback retry", "path", path, "retry", retry, "status", status)

	entry, retryStatus, err := m.tryFetch(ctx, retry)
	if entry != nil {
		return entry, nil
	}
	if err != nil {
		return nil, err
	}
	if retryStatus != 0 {
		status = retryStatus
	}
	return nil, &NetworkError{URL: path, Status: status}
}

// tryFetch performs one origin fetch. Exactly one of entry, err is set on
// the happy/transport paths; a non-OK HTTP answer returns (nil, status, nil)
// so the caller can decide how to recover.
func (m *Manager) tryFetch(ctx context.Context, path string) (*cachestore.Entry, int, error) {
	resp, err := m.up.Get(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, resp.StatusCode, nil
	}
	entry, err := cachestore.FromResponse(path, resp)
	if err != nil {
		return nil, resp.StatusCode, &NetworkError{URL: path, Status: resp.StatusCode, Err: err}
	}
	return entry, resp.StatusCode, nil
}

// statusFromError maps a strategy error onto the HTTP status served to the
// client: a known upstream status passes through, anything else is a 502.
func statusFromError(err error) int {
	var ne *NetworkError
	if errors.As(err, &ne) && ne.Status != 0 {
		return ne.Status
	}
	return http.StatusBadGateway
}
