package herostate

import "errors"

// ErrStoreClosed is returned by Update after the store has been torn down.
// Callers must treat this as a signal to stop driving the store, not as a
// condition to ignore.
var ErrStoreClosed = errors.New("herostate: store is closed")

// ErrNoSite is returned by New when no site root URL is configured.
var ErrNoSite = errors.New("herostate: site root URL is required")
