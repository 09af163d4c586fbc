package middleware

import (
	"net"
	"net/http"

	"github.com/znz-systems/threadline/internal/ratelimit"
)

// RateLimit rejects requests over the per-IP budget with a 429 JSON body.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port in RemoteAddr, use it as-is.
		return r.RemoteAddr
	}
	return ip
}
