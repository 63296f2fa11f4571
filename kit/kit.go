// Package kit holds the transport adapters dompatch exposes its
// diagnostics through: a typed endpoint abstraction, request-scoped
// context keys, and the MCP tool registration glue.
package kit

import "context"

// Endpoint is a transport-agnostic handler: typed request in, typed
// response out. MCP (and any future transport) adapts onto this.
type Endpoint func(ctx context.Context, req any) (any, error)

type contextKey string

const (
	// RequestIDKey correlates one inbound diagnostics call.
	RequestIDKey contextKey = "kit_request_id"
	// TransportKey records how the call arrived ("mcp", "http").
	TransportKey contextKey = "kit_transport"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}
