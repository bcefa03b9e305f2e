package core

import "context"

type contextKey string

const (
	ctxKeyToken    contextKey = "auth_token"
	ctxKeyClientIP contextKey = "client_ip"
)

// ContextWithToken stores the caller's auth token. Sample service clients
// forward it in place of their configured token.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyToken, token)
}

// TokenFromContext returns the token stored by ContextWithToken, or "".
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyToken).(string); ok {
		return v
	}
	return ""
}

// ContextWithClientIP records the caller's address for logging.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ClientIPFromContext returns the address stored by ContextWithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientIP).(string); ok {
		return v
	}
	return ""
}
