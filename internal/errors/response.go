package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteSimpleError writes `{error}` with the status implied by code, matching
// bad_request/not_found/unauthorized/rate_limited/upstream_not_configured's
// plain body shape from spec §7.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	writeJSON(w, code.HTTPStatus(), map[string]interface{}{"error": message})
}

// WriteUpstreamUnavailable writes `{error, retryable:true, upstreamStatus?}`
// with a Retry-After header, per spec §7's upstream_unavailable row.
func WriteUpstreamUnavailable(w http.ResponseWriter, message string, upstreamStatus int, retryAfterSeconds int) {
	body := map[string]interface{}{
		"error":     message,
		"retryable": true,
	}
	if upstreamStatus != 0 {
		body["upstreamStatus"] = upstreamStatus
	}
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	}
	writeJSON(w, UpstreamUnavailable.HTTPStatus(), body)
}

// WriteTimeout writes `{error, retryable:true, timeout_ms, elapsed_ms}`, per
// spec §7's timeout row.
func WriteTimeout(w http.ResponseWriter, message string, timeoutMs, elapsedMs int64) {
	writeJSON(w, Timeout.HTTPStatus(), map[string]interface{}{
		"error":      message,
		"retryable":  true,
		"timeout_ms": timeoutMs,
		"elapsed_ms": elapsedMs,
	})
}

// WritePaymentRejected writes `{error, reason, network}`, per spec §7's
// payment_rejected row; reason is one of the verification-result kinds.
func WritePaymentRejected(w http.ResponseWriter, message, reason, caip2 string) {
	writeJSON(w, PaymentRejected.HTTPStatus(), map[string]interface{}{
		"error":   message,
		"reason":  reason,
		"network": caip2,
	})
}

// WritePaymentMissingProof writes `{error, hint}`, per spec §7's
// payment_missing_proof row.
func WritePaymentMissingProof(w http.ResponseWriter, message, hint string) {
	writeJSON(w, PaymentMissingProof.HTTPStatus(), map[string]interface{}{
		"error": message,
		"hint":  hint,
	})
}

// WriteUpstreamRejected writes a sanitized 4xx: the upstream's own status
// code is preserved (client input was the problem, not an outage), but
// its body is never forwarded verbatim, per spec §7's "4xx from upstream
// propagates as a sanitized 4xx" rule.
func WriteUpstreamRejected(w http.ResponseWriter, upstreamStatus int) {
	writeJSON(w, upstreamStatus, map[string]interface{}{
		"error":          "upstream rejected the request",
		"upstreamStatus": upstreamStatus,
	})
}

// WriteInternal writes `{error:"Internal error", retryable:true}` with a
// Retry-After hint, the tail error handler's catch-all (spec §7, §4.Q).
func WriteInternal(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "5")
	writeJSON(w, Internal.HTTPStatus(), map[string]interface{}{
		"error":     "Internal error",
		"retryable": true,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(body)
}
