package web

import (
	"net"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

// withRequestMetadata stores the client IP and the caller's sample service
// token in the request context.
func withRequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithClientIP(r.Context(), clientIP(r))
		if tok := bearerToken(r); tok != "" {
			ctx = core.ContextWithToken(ctx, tok)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP returns RemoteAddr without its port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// bearerToken accepts "Authorization: Bearer <t>" or a bare token.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return h
}
