package config

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// finalize applies defaults that depend on other fields, then validates.
func (c *Config) finalize() error {
	if c.Database.FlushInterval.Duration <= 0 {
		c.Database.FlushInterval = Duration{Duration: 2 * time.Second}
	}
	if c.Database.BatchSize <= 0 {
		c.Database.BatchSize = 50
	}
	if c.Rails.Fast.ReceiptTimeout.Duration <= 0 {
		c.Rails.Fast.ReceiptTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.Facilitator.Timeout.Duration <= 0 {
		c.Facilitator.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.DevBypass.Header == "" {
		c.DevBypass.Header = "X-Dev-Bypass-Secret"
	}

	return c.validate()
}

// validate checks that required configuration fields are set, per spec §6's
// "required configuration" list. Missing required fields are a startup
// failure (cmd/gateway exits non-zero), never a silent default.
func (c *Config) validate() error {
	var errs []string

	if c.Database.PostgresURL == "" {
		errs = append(errs, "database.postgres_url is required")
	}

	if c.Rails.Fast.RPCURL == "" {
		errs = append(errs, "rails.fast.rpc_url is required")
	}
	if c.Rails.Fast.StablecoinAddress == "" {
		errs = append(errs, "rails.fast.stablecoin_address is required")
	}
	if c.Rails.Fast.RecipientAddress == "" {
		errs = append(errs, "rails.fast.recipient_address is required")
	}
	if c.Rails.SlowA.RecipientAddress == "" {
		errs = append(errs, "rails.slow_a.recipient_address is required")
	}
	if c.Rails.SlowB.RecipientAddress == "" {
		errs = append(errs, "rails.slow_b.recipient_address is required")
	}
	if c.DevBypass.Enabled && c.DevBypass.Secret == "" {
		errs = append(errs, "dev_bypass.enabled requires GATEWAY_DEV_BYPASS_SECRET to be set")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 50
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
