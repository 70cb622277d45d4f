// Package monitoring watches the slow-B rail's fee-payer wallet and
// alerts when its SOL balance runs low, since a dry fee payer silently
// stalls every gasless settlement on that rail without returning an
// error any caller would see.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"

	"github.com/meterly/gateway/internal/config"
	"github.com/meterly/gateway/internal/httputil"
	"github.com/meterly/gateway/internal/logger"
)

// BalanceMonitor periodically checks the fee-payer wallet's balance and
// sends a webhook alert when it drops below the configured threshold.
type BalanceMonitor struct {
	cfg        config.MonitoringConfig
	rpcClient  *rpc.Client
	feePayer   solana.PublicKey
	httpClient *http.Client

	mu         sync.Mutex
	lastAlert  time.Time
	hasAlerted bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// BalanceAlert is the payload rendered into the alert webhook body.
type BalanceAlert struct {
	Wallet    string    `json:"wallet"`
	Balance   float64   `json:"balance"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBalanceMonitor builds a monitor for feePayer (a base58 Solana
// address). Returns an error if feePayer doesn't parse as a public key.
func NewBalanceMonitor(cfg config.MonitoringConfig, feePayer string) (*BalanceMonitor, error) {
	pub, err := solana.PublicKeyFromBase58(feePayer)
	if err != nil {
		return nil, fmt.Errorf("parse fee payer address: %w", err)
	}
	return &BalanceMonitor{
		cfg:        cfg,
		rpcClient:  rpc.New(cfg.RPCURL),
		feePayer:   pub,
		httpClient: httputil.NewClient(cfg.Timeout.Duration),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start begins the monitoring loop in the background. A no-op if no
// alert URL is configured.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if m.cfg.LowBalanceAlertURL == "" {
		log.Info().Msg("balance_monitor.disabled_no_url")
		return
	}

	log.Info().
		Str("wallet", logger.TruncateAddress(m.feePayer.String())).
		Dur("check_interval", m.cfg.CheckInterval.Duration).
		Float64("threshold_sol", m.cfg.LowBalanceThreshold).
		Msg("balance_monitor.started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Close stops the monitoring loop, satisfying lifecycle.Manager's
// io.Closer contract.
func (m *BalanceMonitor) Close() error {
	close(m.stopCh)
	m.wg.Wait()
	log.Info().Msg("balance_monitor.stopped")
	return nil
}

func (m *BalanceMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval.Duration)
	defer ticker.Stop()

	m.checkBalance(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBalance(ctx)
		}
	}
}

func (m *BalanceMonitor) checkBalance(ctx context.Context) {
	result, err := m.rpcClient.GetBalance(ctx, m.feePayer, rpc.CommitmentConfirmed)
	if err != nil {
		log.Error().
			Err(err).
			Str("wallet", logger.TruncateAddress(m.feePayer.String())).
			Msg("balance_monitor.fetch_error")
		return
	}

	balanceSOL := float64(result.Value) / 1e9
	log.Debug().
		Str("wallet", logger.TruncateAddress(m.feePayer.String())).
		Float64("balance_sol", balanceSOL).
		Msg("balance_monitor.balance_checked")

	if balanceSOL < m.cfg.LowBalanceThreshold {
		if m.shouldAlert() {
			m.sendAlert(ctx, balanceSOL)
		}
		return
	}
	m.clearAlert()
}

// shouldAlert limits the webhook to once per 24h while the wallet
// remains below threshold, to avoid paging on every check interval.
func (m *BalanceMonitor) shouldAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasAlerted {
		return true
	}
	return time.Since(m.lastAlert) > 24*time.Hour
}

func (m *BalanceMonitor) clearAlert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasAlerted = false
}

func (m *BalanceMonitor) sendAlert(ctx context.Context, balance float64) {
	wallet := m.feePayer.String()
	alert := BalanceAlert{
		Wallet:    wallet,
		Balance:   balance,
		Threshold: m.cfg.LowBalanceThreshold,
		Timestamp: time.Now(),
	}

	var body []byte
	var err error
	if m.cfg.BodyTemplate != "" {
		body, err = m.renderTemplate(alert)
	} else {
		body, err = json.Marshal(map[string]any{
			"content": fmt.Sprintf(
				"Low fee-payer balance\n\nWallet: `%s`\nBalance: %.6f SOL\nThreshold: %.6f SOL\n\n"+
					"Slow-B rail settlements will fail without more SOL.",
				wallet, balance, m.cfg.LowBalanceThreshold,
			),
		})
	}
	if err != nil {
		log.Error().Err(err).Str("wallet", logger.TruncateAddress(wallet)).Msg("balance_monitor.render_error")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.LowBalanceAlertURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("wallet", logger.TruncateAddress(wallet)).Msg("balance_monitor.request_error")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("wallet", logger.TruncateAddress(wallet)).Msg("balance_monitor.send_error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Info().
			Str("wallet", logger.TruncateAddress(wallet)).
			Float64("balance_sol", balance).
			Int("status_code", resp.StatusCode).
			Msg("balance_monitor.alert_sent")
		m.mu.Lock()
		m.hasAlerted = true
		m.lastAlert = time.Now()
		m.mu.Unlock()
		return
	}
	log.Warn().
		Str("wallet", logger.TruncateAddress(wallet)).
		Int("status_code", resp.StatusCode).
		Msg("balance_monitor.alert_failed")
}

func (m *BalanceMonitor) renderTemplate(alert BalanceAlert) ([]byte, error) {
	tmpl, err := template.New("alert").Parse(m.cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}
