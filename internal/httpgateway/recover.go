package httpgateway

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/meterly/gateway/internal/errors"
)

// recoverMiddleware converts a panic anywhere downstream into a 503
// internal error instead of tearing down the connection, mirroring
// the observability registry's per-hook recoverPanic.
func recoverMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error().
						Interface("panic", err).
						Str("path", r.URL.Path).
						Msg("httpgateway.panic_recovered")
					errors.WriteInternal(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
