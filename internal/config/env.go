package config

import (
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the GATEWAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "GATEWAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "GATEWAY_ADMIN_METRICS_API_KEY")

	setIfEnv(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "GATEWAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "GATEWAY_ENVIRONMENT")

	setIfEnv(&c.Database.PostgresURL, "GATEWAY_DATABASE_URL")

	setIfEnv(&c.Rails.Fast.RPCURL, "GATEWAY_FAST_RAIL_RPC_URL")
	setIfEnv(&c.Rails.Fast.StablecoinAddress, "GATEWAY_FAST_RAIL_STABLECOIN_ADDRESS")
	setIfEnv(&c.Rails.Fast.RecipientAddress, "GATEWAY_FAST_RAIL_RECIPIENT")
	setIfEnv(&c.Rails.SlowA.RecipientAddress, "GATEWAY_SLOW_A_RECIPIENT")
	setIfEnv(&c.Rails.SlowB.RecipientAddress, "GATEWAY_SLOW_B_RECIPIENT")

	setIfEnv(&c.Facilitator.URL, "GATEWAY_FACILITATOR_URL")
	setDurationIfEnv(&c.Facilitator.Timeout, "GATEWAY_FACILITATOR_TIMEOUT")

	setBoolIfEnv(&c.DevBypass.Enabled, "GATEWAY_DEV_BYPASS_ENABLED")
	setIfEnv(&c.DevBypass.Secret, "GATEWAY_DEV_BYPASS_SECRET")

	setIfEnv(&c.Catalog.Path, "GATEWAY_CATALOG_PATH")

	// Provider credentials: GATEWAY_PROVIDER_<TAG>=secret1,secret2,...
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "GATEWAY_PROVIDER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		tag := strings.ToLower(strings.TrimPrefix(parts[0], "GATEWAY_PROVIDER_"))
		if tag == "" {
			continue
		}
		if c.Providers == nil {
			c.Providers = make(map[string][]string)
		}
		c.Providers[tag] = splitCredentialList(parts[1])
	}
}

// splitCredentialList splits a comma-separated credential list and drops empty entries,
// matching the teacher's "single value or comma-separated list" convention.
func splitCredentialList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
