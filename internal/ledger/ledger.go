// Package ledger is the gateway's durable store (spec §4.F): an
// append-only, asynchronously-flushed request log and a replay-proof
// table guarded by an atomic insert-or-ignore.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meterly/gateway/internal/config"
	"github.com/meterly/gateway/internal/metrics"
)

// RequestLogEntry is one append-only row of the requests table (spec §3).
type RequestLogEntry struct {
	ID              string
	ServiceID       string
	Endpoint        string
	Payer           string
	CAIP2           string
	AmountBaseUnits string // decimal string form of a big.Int, stored as NUMERIC
	UpstreamStatus  int
	LatencyMs       int64
	CreatedAt       time.Time
}

// Stats is an approximate, cheap-to-compute summary for observability
// endpoints (spec §4.F: catalog-estimate totals, bounded recent count).
type Stats struct {
	ApproxTotalRequests   int64
	ApproxTotalUsedProofs int64
	RequestsLast24h       int64
}

// Ledger is the gateway's Postgres-backed request log and replay-proof
// store. Request logging is buffered and flushed by a background
// goroutine; proof recording is synchronous and atomic.
type Ledger struct {
	db *sql.DB

	requestsTable  string
	usedProofsTable string

	flushInterval time.Duration
	batchSize     int

	mu     sync.Mutex
	buffer []RequestLogEntry

	flushNow chan struct{}
	stop     chan struct{}
	done     chan struct{}

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// WithMetrics attaches a metrics collector; every query the ledger runs
// against Postgres is then timed and reported via ObserveDBQuery. Safe
// to skip, in which case timings are simply not recorded.
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

// New opens (and, if necessary, creates) the ledger's tables and starts
// the background flusher. The caller owns db and must Close the ledger
// before closing db, so the final buffer drain can run.
func New(db *sql.DB, cfg config.DatabaseConfig, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		db:              db,
		requestsTable:   "requests",
		usedProofsTable: "used_proofs",
		flushInterval:   cfg.FlushInterval.Duration,
		batchSize:       cfg.BatchSize,
		flushNow:        make(chan struct{}, 1),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		log:             log.With().Str("component", "ledger").Logger(),
	}
	if l.flushInterval <= 0 {
		l.flushInterval = 2 * time.Second
	}
	if l.batchSize <= 0 {
		l.batchSize = 50
	}

	if err := l.createTables(); err != nil {
		return nil, err
	}

	go l.run()
	return l, nil
}

func (l *Ledger) createTables() error {
	start := time.Now()
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			service_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			payer TEXT NOT NULL,
			caip2 TEXT NOT NULL,
			amount_base_units NUMERIC NOT NULL,
			upstream_status INTEGER NOT NULL,
			latency_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_service_id ON %s(service_id);
		CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s(created_at);
		CREATE INDEX IF NOT EXISTS idx_%s_payer ON %s(payer);

		CREATE TABLE IF NOT EXISTS %s (
			proof_key TEXT PRIMARY KEY,
			payer TEXT NOT NULL,
			amount_base_units NUMERIC NOT NULL,
			caip2 TEXT NOT NULL,
			accepted_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_accepted_at ON %s(accepted_at);
	`,
		l.requestsTable,
		l.requestsTable, l.requestsTable,
		l.requestsTable, l.requestsTable,
		l.requestsTable, l.requestsTable,
		l.usedProofsTable,
		l.usedProofsTable, l.usedProofsTable,
	)
	_, err := l.db.Exec(schema)
	metrics.RecordDBQuery(l.metrics, "create_tables", time.Since(start))
	if err != nil {
		return fmt.Errorf("ledger: create tables: %w", err)
	}
	return nil
}

// LogRequest enqueues an entry for asynchronous, batched persistence.
// It never blocks on I/O and never returns an error to the caller: a
// request log is an observability concern, not a correctness one. An
// entry with an empty ID is given a random UUID.
func (l *Ledger) LogRequest(entry RequestLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.buffer = append(l.buffer, entry)
	shouldFlush := len(l.buffer) >= l.batchSize
	l.mu.Unlock()

	if shouldFlush {
		select {
		case l.flushNow <- struct{}{}:
		default:
		}
	}
}

func (l *Ledger) run() {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	defer close(l.done)

	for {
		select {
		case <-l.stop:
			l.flush()
			return
		case <-ticker.C:
			l.flush()
		case <-l.flushNow:
			l.flush()
		}
	}
}

func (l *Ledger) flush() {
	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if err := l.insertBatch(batch); err != nil {
		l.log.Warn().Err(err).Int("count", len(batch)).Msg("ledger: failed to flush request log batch")
	}
}

func (l *Ledger) insertBatch(batch []RequestLogEntry) error {
	defer metrics.MeasureDBQuery(l.metrics, "insert_requests_batch")()

	const cols = 8
	placeholders := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*cols)

	for i, e := range batch {
		offset := i * cols
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			offset+1, offset+2, offset+3, offset+4, offset+5, offset+6, offset+7, offset+8))
		args = append(args, e.ID, e.ServiceID, e.Endpoint, e.Payer, e.CAIP2, e.AmountBaseUnits, e.UpstreamStatus, e.LatencyMs)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, service_id, endpoint, payer, caip2, amount_base_units, upstream_status, latency_ms, created_at)
		SELECT v.id, v.service_id, v.endpoint, v.payer, v.caip2, v.amount_base_units, v.upstream_status, v.latency_ms, NOW()
		FROM (VALUES %s) AS v(id, service_id, endpoint, payer, caip2, amount_base_units, upstream_status, latency_ms)
		ON CONFLICT (id) DO NOTHING
	`, l.requestsTable, joinPlaceholders(placeholders))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := l.db.ExecContext(ctx, query, args...)
	return err
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += ", " + p
	}
	return out
}

// RecordProof attempts an atomic insert-or-ignore of a used-proof record.
// It returns true iff this call performed the first insert for proofKey;
// a false return means the proof was already recorded (replay).
func (l *Ledger) RecordProof(ctx context.Context, proofKey, payer string, amountBaseUnits *big.Int, caip2 string) (bool, error) {
	defer metrics.MeasureDBQuery(l.metrics, "record_proof")()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (proof_key, payer, amount_base_units, caip2, accepted_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (proof_key) DO NOTHING
	`, l.usedProofsTable)

	result, err := l.db.ExecContext(ctx, query, proofKey, payer, amountBaseUnits.String(), caip2)
	if err != nil {
		return false, fmt.Errorf("ledger: record proof: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: record proof rows affected: %w", err)
	}
	return rows > 0, nil
}

// IsProofUsed is a non-locking existence probe. It is a fast-path
// short-circuit before expensive on-chain verification only; it is never
// the source of truth for admission. RecordProof's atomic insert is.
func (l *Ledger) IsProofUsed(ctx context.Context, proofKey string) (bool, error) {
	defer metrics.MeasureDBQuery(l.metrics, "is_proof_used")()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE proof_key = $1)`, l.usedProofsTable)
	var exists bool
	if err := l.db.QueryRowContext(ctx, query, proofKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("ledger: is proof used: %w", err)
	}
	return exists, nil
}

// Stats returns approximate totals (from the catalog's row-count
// estimate, not a sequential scan) plus a bounded recent-activity count.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	defer metrics.MeasureDBQuery(l.metrics, "stats")()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var s Stats
	if err := l.db.QueryRowContext(ctx,
		`SELECT reltuples::bigint FROM pg_class WHERE relname = $1`, l.requestsTable,
	).Scan(&s.ApproxTotalRequests); err != nil && err != sql.ErrNoRows {
		return Stats{}, fmt.Errorf("ledger: stats requests estimate: %w", err)
	}
	if err := l.db.QueryRowContext(ctx,
		`SELECT reltuples::bigint FROM pg_class WHERE relname = $1`, l.usedProofsTable,
	).Scan(&s.ApproxTotalUsedProofs); err != nil && err != sql.ErrNoRows {
		return Stats{}, fmt.Errorf("ledger: stats used_proofs estimate: %w", err)
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE created_at > NOW() - INTERVAL '1 day'`, l.requestsTable)
	if err := l.db.QueryRowContext(ctx, query).Scan(&s.RequestsLast24h); err != nil {
		return Stats{}, fmt.Errorf("ledger: stats recent count: %w", err)
	}

	return s, nil
}

// CleanupOldRequests deletes request-log rows older than the given
// retention window, in days. No code in the gateway calls it: nothing
// schedules it, and DatabaseConfig's RetentionDays and CleanupInterval
// are not read.
func (l *Ledger) CleanupOldRequests(ctx context.Context, days int) (int64, error) {
	defer metrics.MeasureDBQuery(l.metrics, "cleanup_old_requests")()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < NOW() - ($1 || ' days')::interval`, l.requestsTable)
	result, err := l.db.ExecContext(ctx, query, days)
	if err != nil {
		return 0, fmt.Errorf("ledger: cleanup old requests: %w", err)
	}
	return result.RowsAffected()
}

// Close stops the background flusher and drains any buffered entries.
// Safe to call once; satisfies io.Closer for lifecycle.Manager.
func (l *Ledger) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}
