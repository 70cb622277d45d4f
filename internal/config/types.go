package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Rails          RailsConfig          `yaml:"rails"`
	Facilitator    FacilitatorConfig    `yaml:"facilitator"`
	Providers      map[string][]string  `yaml:"providers"` // provider_tag -> credential list, consumed by internal/creds
	DevBypass      DevBypassConfig      `yaml:"dev_bypass"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	APIKeys        APIKeyConfig         `yaml:"api_keys"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
}

// MonitoringConfig watches the slow-B (Solana) fee-payer wallet's SOL
// balance and fires a webhook alert when it runs low, since a dry fee
// payer silently stalls every gasless settlement on that rail.
type MonitoringConfig struct {
	Enabled             bool              `yaml:"enabled"`
	RPCURL              string            `yaml:"rpc_url"`
	CheckInterval       Duration          `yaml:"check_interval"`
	LowBalanceThreshold float64           `yaml:"low_balance_threshold_sol"`
	LowBalanceAlertURL  string            `yaml:"low_balance_alert_url"`
	BodyTemplate        string            `yaml:"body_template"`
	Headers             map[string]string `yaml:"headers"`
	Timeout             Duration          `yaml:"timeout"`
}

// APIKeyConfig maps trusted callers to a rate-limit tier, so a known
// integration partner isn't bucketed alongside anonymous payers.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"` // api key -> tier ("pro", "enterprise", "partner")
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // optional, protects /metrics when set
	UploadConcurrency  int      `yaml:"upload_concurrency"`    // max simultaneous upload-shaped requests (e.g. IPFS pin), default 5
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// DatabaseConfig holds ledger storage configuration.
type DatabaseConfig struct {
	PostgresURL     string             `yaml:"postgres_url"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
	FlushInterval   Duration           `yaml:"flush_interval"`   // default: 2s
	BatchSize       int                `yaml:"batch_size"`       // default: 50
	RetentionDays   int                `yaml:"retention_days"`   // cleanup_old_requests window, default: 90
	CleanupInterval Duration           `yaml:"cleanup_interval"` // default: 24h
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default: 50
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default: 10
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default: 5m
}

// RailsConfig holds the three settlement rails' network parameters.
type RailsConfig struct {
	Fast  FastRailConfig  `yaml:"fast"`
	SlowA SlowRailConfig  `yaml:"slow_a"`
	SlowB SlowRailConfig  `yaml:"slow_b"`
}

// FastRailConfig configures the directly-verified EVM-style rail.
type FastRailConfig struct {
	CAIP2             string   `yaml:"caip2"`
	RPCURL            string   `yaml:"rpc_url"`
	StablecoinAddress string   `yaml:"stablecoin_address"`
	RecipientAddress  string   `yaml:"recipient_address"`
	ReceiptTimeout    Duration `yaml:"receipt_timeout"` // default: 15s
}

// SlowRailConfig configures a facilitator-verified rail.
type SlowRailConfig struct {
	CAIP2            string `yaml:"caip2"`
	StablecoinAsset  string `yaml:"stablecoin_asset"`
	RecipientAddress string `yaml:"recipient_address"`
	PermitName       string `yaml:"permit_name"`    // EIP-712 domain name, slow-rail-A
	PermitVersion    string `yaml:"permit_version"` // EIP-712 domain version, slow-rail-A
	FeePayer         string `yaml:"fee_payer"`      // extra field, slow-rail-B (Solana-style)
}

// FacilitatorConfig points at the external permit-verification service.
type FacilitatorConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"` // default: 10s
}

// DevBypassConfig controls the constant-time dev-bypass header check.
type DevBypassConfig struct {
	Enabled bool   `yaml:"enabled"`
	Header  string `yaml:"header"` // default: X-Dev-Bypass-Secret
	Secret  string `yaml:"-"`      // loaded from env only, never written to a config file
}

// RateLimitConfig holds the three named tiers of spec §4.N.
type RateLimitConfig struct {
	Free      TierLimit `yaml:"free"`      // default: 60/min
	Paid      TierLimit `yaml:"paid"`      // default: 300/min
	Expensive TierLimit `yaml:"expensive"` // default: 10/min
}

// TierLimit is a requests-per-window pair for one rate limit tier.
type TierLimit struct {
	Limit  int      `yaml:"limit"`
	Window Duration `yaml:"window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	FastRailRPC BreakerServiceConfig `yaml:"fast_rail_rpc"`
	Facilitator BreakerServiceConfig `yaml:"facilitator"`
	Upstream    BreakerServiceConfig `yaml:"upstream"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// CatalogConfig points at the Service Registry's route catalog.
type CatalogConfig struct {
	Path string `yaml:"path"` // JSON catalog file, loaded once at startup
}
