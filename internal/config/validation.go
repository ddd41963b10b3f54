package config

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrMissingPostgresURL = errors.New("postgres_url is required")
)

// Validate checks if the configuration is valid.
//
// Note: target_database and a launch-supplied database identity are
// alternatives, so an empty target_database is legal here. The "exactly one
// target" invariant is enforced when a ticker runtime connects, because only
// then is the launch identity known.
func (c *Config) Validate() error {
	if err := c.validateTicker(); err != nil {
		return err
	}

	if err := c.validatePostgres(); err != nil {
		return err
	}

	if err := c.validateHost(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateTicker() error {
	if c.TickIntervalSeconds < 1 {
		return fmt.Errorf("tick_interval_seconds must be >= 1, got %d", c.TickIntervalSeconds)
	}
	if c.RestartDelaySeconds < -1 {
		return fmt.Errorf("restart_delay_seconds must be -1 or >= 0, got %d", c.RestartDelaySeconds)
	}
	return nil
}

func (c *Config) validatePostgres() error {
	if c.PostgresURL == "" {
		return ErrMissingPostgresURL
	}
	if _, err := url.Parse(c.PostgresURL); err != nil {
		return fmt.Errorf("invalid postgres_url: %w", err)
	}
	return nil
}

func (c *Config) validateHost() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.HealthPort < 0 {
		return fmt.Errorf("health_port must be >= 0, got %d", c.HealthPort)
	}
	return nil
}
