package gatewaymw

import (
	"encoding/json"
	"net/http"

	"github.com/meterly/gateway/internal/errors"
)

// writeNetworkError writes the {error, network} body shape specific to
// spec §4.L's missing-txHash rejection, distinct from the generic
// payment_missing_proof {error, hint} body in internal/errors.
func writeNetworkError(w http.ResponseWriter, code errors.ErrorCode, message, network string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]interface{}{
		"error":   message,
		"network": network,
	})
}
