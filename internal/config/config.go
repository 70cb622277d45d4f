package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, optionally loads a local .env file,
// and applies environment overrides. Required per spec §6: database URL, a
// recipient address per rail, and the fast-rail RPC URL and stablecoin
// address must all resolve or Load fails. Provider secrets are optional;
// Load does not check them.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			ReadTimeout:       Duration{Duration: 15 * time.Second},
			WriteTimeout:      Duration{Duration: 15 * time.Second},
			IdleTimeout:       Duration{Duration: 60 * time.Second},
			UploadConcurrency: 5,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Database: DatabaseConfig{
			FlushInterval:   Duration{Duration: 2 * time.Second},
			BatchSize:       50,
			RetentionDays:   90,
			CleanupInterval: Duration{Duration: 24 * time.Hour},
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    50,
				MaxIdleConns:    10,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		Rails: RailsConfig{
			Fast: FastRailConfig{
				ReceiptTimeout: Duration{Duration: 15 * time.Second},
			},
		},
		Facilitator: FacilitatorConfig{
			Timeout: Duration{Duration: 10 * time.Second},
		},
		DevBypass: DevBypassConfig{
			Header: "X-Dev-Bypass-Secret",
		},
		RateLimit: RateLimitConfig{
			Free:      TierLimit{Limit: 60, Window: Duration{Duration: time.Minute}},
			Paid:      TierLimit{Limit: 300, Window: Duration{Duration: time.Minute}},
			Expensive: TierLimit{Limit: 10, Window: Duration{Duration: time.Minute}},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:     true,
			FastRailRPC: defaultBreaker(),
			Facilitator: defaultBreaker(),
			Upstream:    defaultBreaker(),
		},
		Catalog: CatalogConfig{
			Path: "./catalog.json",
		},
		Monitoring: MonitoringConfig{
			CheckInterval:       Duration{Duration: 5 * time.Minute},
			LowBalanceThreshold: 0.05,
			Timeout:             Duration{Duration: 10 * time.Second},
		},
	}
}

func defaultBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
