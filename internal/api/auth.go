package api

import (
	"net/http"
	"strings"
)

// requireAPIKey enforces `Authorization: Bearer <api-key>` on mutating
// routes when an API key is configured (spec.md §6). An empty apiKey
// disables auth entirely, matching a local/dev deployment with no key
// configured.
func requireAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token != apiKey {
				respondError(w, r, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
