package httpgateway

import (
	"net/http"
	"strings"
)

const (
	defaultBodyLimit = 1 << 20       // 1 MiB
	transcribeLimit  = 50 << 20      // 50 MiB, per spec §4.Q's transcription exception
	transcribePrefix = "/v1/transcribe"
)

// BodySizeLimit caps request bodies at defaultBodyLimit, except for the
// transcription routes which accept up to transcribeLimit (spec §4.Q:
// "JSON body parsing with per-route size caps (default 1 MB;
// transcription 50 MB)"). A body over its cap causes the eventual
// io.Reader on it to return http.MaxBytesError, which downstream JSON
// decoding surfaces as a validation failure (bad_request).
func BodySizeLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := int64(defaultBodyLimit)
		if strings.HasPrefix(r.URL.Path, transcribePrefix) {
			limit = transcribeLimit
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
