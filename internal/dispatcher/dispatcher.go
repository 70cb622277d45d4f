// Package dispatcher implements the uniform upstream-call handler every
// paid route runs after payment has cleared (spec §4.P): validate input,
// probe the cache, acquire a credential, make the retrying outbound call,
// normalize the response, populate the cache, and log the request.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterly/gateway/internal/circuitbreaker"
	"github.com/meterly/gateway/internal/creds"
	"github.com/meterly/gateway/internal/errors"
	"github.com/meterly/gateway/internal/gatewaymw"
	"github.com/meterly/gateway/internal/ledger"
	"github.com/meterly/gateway/internal/metrics"
	"github.com/meterly/gateway/internal/rpcutil"
	"github.com/meterly/gateway/internal/svcreg"
	"github.com/meterly/gateway/internal/ttlcache"
)

// RequestLogger is the subset of *ledger.Ledger the dispatcher needs to
// enqueue its completion log rows.
type RequestLogger interface {
	LogRequest(entry ledger.RequestLogEntry)
}

// Adapter is the per-endpoint plug-in a route registers with the
// Dispatcher: it knows how to validate that route's input, build the
// upstream request from a credential and validated input, and project
// the upstream's raw body into the stable shape returned to the client.
// Everything else (caching, retries, credential rotation, logging,
// error taxonomy) is uniform and lives in Dispatcher.Handler.
type Adapter interface {
	// Validate parses and validates the incoming request. cacheKey must
	// be a canonical, collision-free string derived from the validated
	// inputs (e.g. "price:ETH:USD"); it is combined with the service ID
	// by the Dispatcher. A non-nil error is reported to the caller as
	// bad_request.
	Validate(r *http.Request) (cacheKey string, input json.RawMessage, err error)

	// BuildRequest constructs the outbound upstream HTTP request, given
	// the credential acquired from the pool (empty if the provider tag
	// needs none) and the validated input from Validate.
	BuildRequest(ctx context.Context, credential string, input json.RawMessage) (*http.Request, error)

	// Normalize projects the upstream's response body into the stable
	// shape served to the client. Only called for 2xx upstream
	// responses; the dispatcher's retry loop handles 429/5xx itself.
	Normalize(statusCode int, body []byte) (json.RawMessage, error)
}

// Route bundles one service's dispatch configuration: which adapter
// handles it, how long a successful response may be cached, and the
// per-call timeout bound for the outbound request.
type Route struct {
	Adapter     Adapter
	CacheTTL    time.Duration // 0 disables caching for this route
	CallTimeout time.Duration
}

// Dispatcher wires the shared infrastructure (credentials, cache,
// retries, circuit breaking, logging) behind the uniform per-route
// handler contract of spec §4.P.
type Dispatcher struct {
	creds    *creds.Pool
	cache    *ttlcache.Cache[json.RawMessage]
	breakers *circuitbreaker.Manager
	client   *http.Client
	log      RequestLogger
	logger   zerolog.Logger
	retry    rpcutil.RetryConfig
	metrics  *metrics.Metrics
}

// WithMetrics attaches a Prometheus collector to record per-service call
// counts, latencies, and error categories. Optional: a nil or never-called
// Dispatcher has no metrics wired, and every observation is skipped.
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// New constructs a Dispatcher. client is reused across all routes; a
// caller-supplied client lets tests substitute a fake transport and lets
// production wiring set connection pooling and proxy settings in one
// place (spec §4.P step 4's "bounded timeout" is layered on per-call via
// Route.CallTimeout / context, not on the client itself).
func New(pool *creds.Pool, breakers *circuitbreaker.Manager, client *http.Client, log RequestLogger, logger zerolog.Logger) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{
		creds:    pool,
		cache:    ttlcache.New[json.RawMessage](),
		breakers: breakers,
		client:   client,
		log:      log,
		logger:   logger,
		retry:    rpcutil.NewRetryConfig(2, 500*time.Millisecond),
	}
}

// Handler builds the http.HandlerFunc for one paid service, implementing
// the full 8-step algorithm of spec §4.P.
func (d *Dispatcher) Handler(svc svcreg.Service, route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Step 1: input validation.
		cacheKey, input, err := route.Adapter.Validate(r)
		if err != nil {
			errors.WriteSimpleError(w, errors.BadRequest, err.Error())
			return
		}
		fullKey := svc.ID + ":" + cacheKey

		// Step 2: cache probe.
		if route.CacheTTL > 0 {
			if cached, ok := d.cache.Get(fullKey); ok {
				d.writeNormalized(w, http.StatusOK, cached)
				d.logCompletion(r, svc, http.StatusOK, start)
				return
			}
		}

		// Step 3: credential acquisition.
		var credential string
		if svc.UpstreamTag != "" {
			secret, ok := d.creds.Acquire(svc.UpstreamTag)
			if !ok {
				errors.WriteSimpleError(w, errors.UpstreamNotConfigured, fmt.Sprintf("no credentials configured for %q", svc.UpstreamTag))
				return
			}
			credential = secret
		}

		// Step 4: outbound HTTP with bounded timeout and retry.
		timeout := route.CallTimeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		callStart := time.Now()
		status, body, err := d.call(ctx, route.Adapter, credential, input)
		if d.metrics != nil {
			d.metrics.ObserveUpstreamCall(svc.ID, time.Since(callStart), err)
		}
		if err != nil {
			d.logger.Warn().Err(err).Str("service_id", svc.ID).Msg("dispatcher.upstream_call_failed")
			errors.WriteUpstreamUnavailable(w, "upstream request failed", status, 2)
			d.logCompletion(r, svc, status, start)
			return
		}

		// Step 5: response normalization. A non-2xx here means the
		// upstream accepted the call but rejected the input (the retry
		// loop in d.call already exhausted 429/5xx); the client's input
		// was the problem, so the status is preserved but the raw body
		// is never forwarded (spec §7).
		if status < 200 || status >= 300 {
			errors.WriteUpstreamRejected(w, status)
			d.logCompletion(r, svc, status, start)
			return
		}

		normalized, err := route.Adapter.Normalize(status, body)
		if err != nil {
			errors.WriteSimpleError(w, errors.BadRequest, "upstream returned an unexpected response shape")
			d.logCompletion(r, svc, status, start)
			return
		}

		// Step 6: cache populate on 200.
		if route.CacheTTL > 0 && status == http.StatusOK {
			d.cache.Put(fullKey, normalized, route.CacheTTL)
		}

		d.writeNormalized(w, status, normalized)

		// Step 7: log via the ledger, async/non-blocking by construction
		// (RequestLogger.LogRequest only enqueues).
		d.logCompletion(r, svc, status, start)
	}
}

// call performs the retrying outbound HTTP round-trip, wrapped in the
// upstream circuit breaker. Retries per spec §4.P step 4: 5xx and 429
// responses, exponential jittered backoff, capped attempts.
func (d *Dispatcher) call(ctx context.Context, adapter Adapter, credential string, input json.RawMessage) (int, []byte, error) {
	type result struct {
		status int
		body   []byte
	}

	res, err := rpcutil.WithRetryCustom(ctx, d.retry, func() (result, error) {
		raw, err := d.breakers.Execute(circuitbreaker.ServiceUpstream, func() (interface{}, error) {
			req, err := adapter.BuildRequest(ctx, credential, input)
			if err != nil {
				return nil, fmt.Errorf("build upstream request: %w", err)
			}

			resp, err := d.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("upstream request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
			if err != nil {
				return nil, fmt.Errorf("read upstream response: %w", err)
			}

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return result{status: resp.StatusCode, body: body}, fmt.Errorf("upstream returned status %d", resp.StatusCode)
			}
			return result{status: resp.StatusCode, body: body}, nil
		})
		if err != nil {
			r, _ := raw.(result)
			return r, err
		}
		return raw.(result), nil
	})

	return res.status, res.body, err
}

func (d *Dispatcher) writeNormalized(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	var buf bytes.Buffer
	if len(body) == 0 {
		buf.WriteString("{}")
	} else {
		buf.Write(body)
	}
	_, _ = w.Write(buf.Bytes())
}

func (d *Dispatcher) logCompletion(r *http.Request, svc svcreg.Service, status int, start time.Time) {
	if d.log == nil {
		return
	}
	payment, _ := gatewaymw.PaymentFromContext(r.Context())
	d.log.LogRequest(ledger.RequestLogEntry{
		ServiceID:       svc.ID,
		Endpoint:        r.URL.Path,
		Payer:           payment.Payer,
		CAIP2:           payment.CAIP2,
		AmountBaseUnits: payment.AmountBaseUnits,
		UpstreamStatus:  status,
		LatencyMs:       time.Since(start).Milliseconds(),
	})
}
