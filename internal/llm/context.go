package llm

import "context"

type callerKey struct{}

// WithCaller tags ctx with the surface that triggered a generation
// ("web", "api", "telegram", "cli"). The tag ends up in the usage ledger.
func WithCaller(ctx context.Context, caller string) context.Context {
	if caller == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller tag stored in ctx, or "unknown".
func CallerFrom(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
