package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func getConfigLocations() []string {
	return []string{
		// Relative paths
		".env",
		".tickerd.yaml",
		"config/tickerd.yaml",
		"config/tickerd/config.yaml",
		"config/tickerd/.env",

		// Container-friendly absolute paths
		"/config/tickerd.yaml",
		"/config/tickerd/config.yaml",
		"/config/tickerd/.env",
	}
}

// Flags holds the command-line values that influence config resolution.
type Flags struct {
	Config string
}

type Config struct {
	// Ticker
	TickIntervalSeconds int    `yaml:"tick_interval_seconds" env:"TICK_INTERVAL_SECONDS"`
	TargetDatabase      string `yaml:"target_database" env:"TARGET_DATABASE"`
	RestartDelaySeconds int    `yaml:"restart_delay_seconds" env:"RESTART_DELAY_SECONDS"`

	// Infrastructure
	PostgresURL string `yaml:"postgres_url" env:"POSTGRES_URL"`

	// Host
	MaxWorkers int `yaml:"max_workers" env:"MAX_WORKERS"`

	// Observability
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL"`
	HealthPort int    `yaml:"health_port" env:"HEALTH_PORT"`
	GinMode    string `yaml:"gin_mode" env:"GIN_MODE"`

	configPath string
}

func (c *Config) initDefaults() {
	c.TickIntervalSeconds = 10
	c.RestartDelaySeconds = 10
	c.MaxWorkers = 8
	c.LogLevel = "info"
	c.HealthPort = 3333
	c.GinMode = "release"
}

// ConfigFilePath returns the resolved config file path, or "" when the
// configuration came entirely from defaults and environment variables.
func (c *Config) ConfigFilePath() string {
	return c.configPath
}

func (c *Config) parseConfigFile(flagPath string, osInterface OSInterface) error {
	// Get config file path from flag or env
	configPath := flagPath
	if envPath := osInterface.Getenv("CONFIG"); envPath != "" {
		if configPath != "" && configPath != envPath {
			return fmt.Errorf("conflicting config paths: flag=%s env=%s", configPath, envPath)
		}
		configPath = envPath
	}

	// If no explicit config path, try default locations
	if configPath == "" {
		for _, loc := range getConfigLocations() {
			if _, err := osInterface.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}

	if configPath == "" {
		return nil
	}

	data, err := osInterface.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	// Parse based on file extension
	if strings.HasSuffix(strings.ToLower(configPath), ".env") {
		envMap, err := godotenv.Read(configPath)
		if err != nil {
			return fmt.Errorf("error loading .env file: %w", err)
		}
		if err := env.ParseWithOptions(c, env.Options{
			Environment: envMap,
		}); err != nil {
			return fmt.Errorf("error parsing .env file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("error parsing yaml config: %w", err)
		}
	}
	c.configPath = configPath
	return nil
}

func (c *Config) parseEnvVariables() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("error parsing environment variables: %w", err)
	}
	return nil
}

func Parse(flags Flags) (*Config, error) {
	return ParseWithOS(flags, defaultOS)
}

func ParseWithOS(flags Flags, osInterface OSInterface) (*Config, error) {
	var config Config

	// Initialize defaults
	config.initDefaults()

	// Parse config file
	if err := config.parseConfigFile(flags.Config, osInterface); err != nil {
		return nil, err
	}

	// Parse environment variables (highest priority)
	if err := config.parseEnvVariables(); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
