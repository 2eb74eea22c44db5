package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientKeyContextKey struct{}

// ClientKey stores the rate limiting identity of the caller in the request
// context. With trustProxy the left-most X-Forwarded-For entry is used when
// present; otherwise the host part of RemoteAddr.
func ClientKey(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ResolveClientKey(r, trustProxy)
			ctx := context.WithValue(r.Context(), clientKeyContextKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientKey returns the key stored by ClientKey, or "" when absent.
func GetClientKey(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(clientKeyContextKey{}).(string)
	return key
}

// ResolveClientKey derives the client key for r without touching the context.
func ResolveClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
