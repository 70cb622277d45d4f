package dispatcher

import (
	"net/http"

	"github.com/meterly/gateway/internal/errors"
)

// UploadGate bounds the number of simultaneous upload-shaped requests
// (e.g. IPFS pinning) that may be in flight, per spec §5's backpressure
// paragraph. It is a non-blocking semaphore: a request that finds the
// gate full is rejected immediately rather than queued, since queuing
// large uploads behind a slow upstream is the memory-exhaustion path
// this gate exists to prevent.
type UploadGate struct {
	slots chan struct{}
}

// NewUploadGate returns a gate allowing at most n concurrent holders.
func NewUploadGate(n int) *UploadGate {
	return &UploadGate{slots: make(chan struct{}, n)}
}

// TryAcquire attempts to take a slot without blocking. The caller must
// call Release exactly once for every successful TryAcquire.
func (g *UploadGate) TryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot to the gate.
func (g *UploadGate) Release() {
	<-g.slots
}

// Guard wraps an upload handler so that it only runs while a gate slot
// is free; otherwise it responds 503 with a retryable hint.
func (g *UploadGate) Guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.TryAcquire() {
			errors.WriteUpstreamUnavailable(w, "upload capacity exceeded, try again shortly", 0, 2)
			return
		}
		defer g.Release()
		next.ServeHTTP(w, r)
	}
}
