// Package reqtimeout enforces a per-path-category deadline on every
// request (spec §4.O), responding with a structured timeout body if the
// deadline expires before a response has been sent.
package reqtimeout

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/meterly/gateway/internal/errors"
)

// category maps a path prefix to its deadline. Checked in order; the
// first match wins, so more specific prefixes must come first.
type category struct {
	prefix   string
	deadline time.Duration
}

var categories = []category{
	{"/v1/llm", 180 * time.Second},
	{"/v1/video", 300 * time.Second},
	{"/v1/image", 90 * time.Second},
	{"/v1/tts", 90 * time.Second},
	{"/v1/transcribe", 90 * time.Second},
	{"/v1/code", 90 * time.Second},
	{"/v1/travel", 60 * time.Second},
	{"/v1/ipfs", 60 * time.Second},
}

const defaultDeadline = 30 * time.Second

// DeadlineFor returns the configured deadline for path, or the default
// if no category prefix matches.
func DeadlineFor(path string) time.Duration {
	for _, c := range categories {
		if strings.HasPrefix(path, c.prefix) {
			return c.deadline
		}
	}
	return defaultDeadline
}

// bufferedWriter collects a handler's response in memory so that if the
// deadline fires first, nothing the handler writes afterward ever
// reaches the real ResponseWriter: the goroutine racing the timeout
// writes here, never directly to w.
type bufferedWriter struct {
	mu         sync.Mutex
	header     http.Header
	statusCode int
	body       bytes.Buffer
	timedOut   bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timedOut {
		return len(p), nil
	}
	if b.statusCode == 0 {
		b.statusCode = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timedOut || b.statusCode != 0 {
		return
	}
	b.statusCode = code
}

// flushTo copies the buffered response into w, if the deadline hasn't
// already fired.
func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timedOut {
		return
	}
	for k, vs := range b.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if b.statusCode == 0 {
		b.statusCode = http.StatusOK
	}
	w.WriteHeader(b.statusCode)
	w.Write(b.body.Bytes())
}

// markTimedOut marks the buffer dead so a still-running handler's
// writes are silently dropped instead of racing a real write to w.
func (b *bufferedWriter) markTimedOut() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timedOut = true
}

// Middleware bounds every request to its category's deadline. On normal
// completion the buffered response is flushed to the real
// ResponseWriter; on expiry before the handler finished, it writes a
// 408 with elapsed/timeout bookkeeping and discards whatever the
// straggling handler goroutine eventually produces. A panic in the
// handler before the deadline is re-raised on the calling goroutine, so
// recovery middleware wrapped around this one still sees it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline := DeadlineFor(r.URL.Path)
		ctx, cancel := context.WithTimeout(r.Context(), deadline)
		defer cancel()

		buf := newBufferedWriter()
		start := time.Now()
		done := make(chan struct{})
		panicked := make(chan interface{}, 1)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
					return
				}
				close(done)
			}()
			next.ServeHTTP(buf, r.WithContext(ctx))
		}()

		select {
		case p := <-panicked:
			panic(p)
		case <-done:
			buf.flushTo(w)
		case <-ctx.Done():
			buf.markTimedOut()
			errors.WriteTimeout(w, "Request exceeded its deadline", deadline.Milliseconds(), time.Since(start).Milliseconds())
		}
	})
}
