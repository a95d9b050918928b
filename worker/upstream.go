package worker

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Upstream fetches assets from the site origin. Every fetch goes through the
// circuit breaker; transport failures trip it, HTTP error statuses do not —
// a 404 is an answer, not an outage.
type Upstream struct {
	base    *url.URL
	client  *http.Client
	breaker *breaker
	log     *slog.Logger
}

// UpstreamOption configures an Upstream.
type UpstreamOption func(*Upstream)

// WithHTTPClient overrides the default HTTP client (10s timeout).
func WithHTTPClient(c *http.Client) UpstreamOption {
	return func(u *Upstream) { u.client = c }
}

// WithBreaker tunes the circuit breaker.
func WithBreaker(threshold int, resetTimeout time.Duration) UpstreamOption {
	return func(u *Upstream) { u.breaker = newBreaker(threshold, resetTimeout) }
}

// WithUpstreamLogger overrides the default slog logger.
func WithUpstreamLogger(l *slog.Logger) UpstreamOption {
	return func(u *Upstream) { u.log = l }
}

// NewUpstream creates a fetcher for the origin at base.
func NewUpstream(base *url.URL, opts ...UpstreamOption) *Upstream {
	u := &Upstream{
		base:    base,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: newBreaker(0, 0),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Base returns the origin base URL.
func (u *Upstream) Base() *url.URL { return u.base }

// Get fetches path (e.g. "/assets/app.3f2a1c9d.js") from the origin. The
// caller owns the response body. A *NetworkError is returned for transport
// failures and breaker rejections; HTTP error statuses come back as a normal
// response for the caller to judge.
func (u *Upstream) Get(ctx context.Context, path string) (*http.Response, error) {
	if !u.breaker.allow() {
		return nil, &NetworkError{URL: path, Err: ErrUpstreamDown}
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, &NetworkError{URL: path, Err: err}
	}
	target := u.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &NetworkError{URL: path, Err: err}
	}

	resp, err := u.client.Do(req)
	if err != nil {
		u.breaker.recordFailure()
		return nil, &NetworkError{URL: path, Err: err}
	}
	u.breaker.recordSuccess()
	return resp, nil
}
