// Package kit holds the small transport adapters shared by herokit's HTTP
// and MCP surfaces: a transport-neutral Endpoint shape and the glue that
// mounts an Endpoint as an MCP tool.
package kit

import "context"

// Endpoint is a transport-neutral operation: typed request in, typed
// response out. HTTP handlers and MCP tools both decode into one of these.
type Endpoint func(ctx context.Context, req any) (any, error)

type contextKey string

const (
	// TransportKey records which transport invoked the endpoint
	// ("http", "mcp").
	TransportKey contextKey = "kit_transport"
	// RequestIDKey carries the per-request identifier.
	RequestIDKey contextKey = "kit_request_id"
)

// WithTransport tags ctx with the invoking transport.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the invoking transport, defaulting to "http".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

// WithRequestID tags ctx with a request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID returns the request identifier, or "".
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}
