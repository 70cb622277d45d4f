package metrics

import (
	"time"
)

// MeasureDBQuery wraps a ledger operation with timing instrumentation.
//
//	defer metrics.MeasureDBQuery(m, "record_proof")()
func MeasureDBQuery(m *Metrics, operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, time.Since(start))
	}
}

// RecordDBQuery records a ledger query duration directly, when timing was
// already captured elsewhere.
func RecordDBQuery(m *Metrics, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ObserveDBQuery(operation, duration)
}
