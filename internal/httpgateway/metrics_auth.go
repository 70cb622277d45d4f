package httpgateway

import (
	"crypto/subtle"
	"net/http"

	"github.com/meterly/gateway/internal/errors"
)

// adminMetricsAuth gates /metrics behind a bearer token compared in
// constant time. An empty apiKey disables auth entirely (local/dev use).
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
				errors.WriteSimpleError(w, errors.Unauthorized, "missing bearer token")
				return
			}
			token := auth[len(prefix):]
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				errors.WriteSimpleError(w, errors.Unauthorized, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
