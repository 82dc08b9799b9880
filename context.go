package staffauth

import "context"

type ctxKey int

const (
	ctxKeyClientIP ctxKey = iota
	ctxKeyUserAgent
)

// WithClientIP attaches the request's source address to ctx. The engine uses
// it for origin rate limiting and refresh-token metadata.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithUserAgent attaches the request's user agent to ctx. The engine records
// it on refresh tokens for audit.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

func clientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientIP).(string); ok {
		return v
	}
	return ""
}

func userAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
