// Package kit holds the transport-neutral endpoint shape shared by the HTTP
// and MCP surfaces, plus request-scoped context values.
package kit

import "context"

// Endpoint is a transport-agnostic handler: decoded request in, response out.
type Endpoint func(ctx context.Context, req any) (any, error)

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp", "cli", "internal"
	RequestIDKey contextKey = "kit_request_id"
	TriggerKey   contextKey = "kit_trigger" // who started a pipeline run
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the transport, "internal" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok && v != "" {
		return v
	}
	return "internal"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, TriggerKey, trigger)
}

// GetTrigger returns the run trigger, "manual" when unset.
func GetTrigger(ctx context.Context) string {
	if v, ok := ctx.Value(TriggerKey).(string); ok && v != "" {
		return v
	}
	return "manual"
}
