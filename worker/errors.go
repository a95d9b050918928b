package worker

import (
	"errors"
	"fmt"
)

// CacheError wraps failures in cache storage operations or configuration
// validation. Configuration errors abort installation so a previous worker
// generation keeps serving.
type CacheError struct {
	Op  string // the operation that failed: "init", "precache", "cleanup", ...
	Err error  // optional cause
}

func (e *CacheError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("worker: cache %s failed", e.Op)
	}
	return fmt.Sprintf("worker: cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// NetworkError wraps a non-OK upstream response or a transport failure.
// Status is the last HTTP status seen, 0 when the request never completed.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("worker: fetch %s: %v", e.URL, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("worker: fetch %s: status %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("worker: fetch %s failed", e.URL)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ErrUpstreamDown is returned when the circuit breaker rejects a fetch
// without trying the origin.
var ErrUpstreamDown = errors.New("worker: upstream circuit open")

// ErrBadTransition is returned when a lifecycle method is called out of
// order.
var ErrBadTransition = errors.New("worker: invalid lifecycle transition")
