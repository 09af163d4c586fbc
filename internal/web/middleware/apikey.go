package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/znz-systems/threadline/internal/auth"
)

// RequireAPIKey guards a route group with a bearer API key checked against a
// bcrypt hash. An empty hash disables the surface entirely rather than
// leaving it open.
func RequireAPIKey(apiKeyHash string) func(http.Handler) http.Handler {
	apiKeyHash = strings.TrimSpace(apiKeyHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKeyHash == "" {
				writeError(w, http.StatusServiceUnavailable, "api is not configured")
				return
			}
			key, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err := auth.CheckAPIKey(apiKeyHash, key); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(headerValue string) (string, bool) {
	headerValue = strings.TrimSpace(headerValue)
	const prefix = "Bearer "
	if !strings.HasPrefix(headerValue, prefix) {
		return "", false
	}
	key := strings.TrimSpace(strings.TrimPrefix(headerValue, prefix))
	return key, key != ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
