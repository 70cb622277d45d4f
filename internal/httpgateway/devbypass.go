package httpgateway

import (
	"crypto/subtle"
	"net/http"

	"github.com/meterly/gateway/internal/config"
)

// devBypass implements spec §4.Q's dev-bypass: a constant-time equality
// check of a configured secret against a specific header, active only
// when the environment flag is set. When matched, the request is routed
// directly to bypassTarget, marked with X-Dev-Bypass so a caller can
// tell the response never crossed either payment middleware, and
// neither payment middleware runs at all.
func devBypass(cfg config.DevBypassConfig, next, bypassTarget http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(cfg.Header)
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(cfg.Secret)) == 1 {
			w.Header().Set("X-Dev-Bypass", "1")
			bypassTarget.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
