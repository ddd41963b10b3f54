package config

import (
	"net/url"

	"go.uber.org/zap"
)

// LogConfigurationSummary returns zap fields summarizing the configuration,
// masking credentials. Logged once at startup for troubleshooting.
func (c *Config) LogConfigurationSummary() []zap.Field {
	return []zap.Field{
		zap.String("config_file_path", func() string {
			if c.configPath != "" {
				return c.configPath
			}
			return "none (using defaults and environment variables)"
		}()),
		zap.String("log_level", c.LogLevel),

		// Ticker
		zap.Int("tick_interval_seconds", c.TickIntervalSeconds),
		zap.String("target_database", c.TargetDatabase),
		zap.Int("restart_delay_seconds", c.RestartDelaySeconds),

		// Infrastructure
		zap.String("postgres_host", maskPostgresURLHost(c.PostgresURL)),

		// Host
		zap.Int("max_workers", c.MaxWorkers),
		zap.Int("health_port", c.HealthPort),
	}
}

// maskPostgresURLHost extracts just the host portion of a Postgres URL so the
// summary never leaks credentials.
func maskPostgresURLHost(pgURL string) string {
	if pgURL == "" {
		return ""
	}
	u, err := url.Parse(pgURL)
	if err != nil {
		return "invalid-url"
	}
	return u.Host
}
