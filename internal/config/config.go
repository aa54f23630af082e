// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults for values the operator is allowed to leave unset.
const (
	defaultConsecutiveErrorCap = 5
	defaultMarketMonitorPeriod = 60 * time.Second
	defaultReconcilerPeriod    = 300 * time.Second
	defaultHTTPPort            = 8080
	defaultFillPollAttempts    = 30
	defaultFillPollInterval    = 1 * time.Second
	defaultBrokerTimeout       = 5 * time.Second
)

// Config represents the complete application configuration for the engine
// process (cmd/server).
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Database    DatabaseConfig    `yaml:"database"`
	EventBus    EventBusConfig    `yaml:"event_bus"`
	Broker      BrokerConfig      `yaml:"broker"`
	Engine      EngineConfig      `yaml:"engine"`
	API         APIConfig         `yaml:"api"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// DatabaseConfig defines the Persistence Store's Postgres connection.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EventBusConfig defines the Event Bus transport.
type EventBusConfig struct {
	// Driver is "redis" or "memory". memory is used for tests and for
	// single-process deployments without a Redis instance.
	Driver string `yaml:"driver"`
	Addr   string `yaml:"addr"`
}

// BrokerConfig defines the default (env-sourced) broker adapter settings,
// used for users without explicit BrokerCredentials rows.
type BrokerConfig struct {
	Provider  string        `yaml:"provider"` // currently "alpaca"
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Secret    string        `yaml:"secret"`
	Sandbox   bool          `yaml:"sandbox"`
	Timeout   time.Duration `yaml:"timeout"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker wrapping every broker adapter.
type BreakerConfig struct {
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EngineConfig tunes the Supervisor, Market Monitor, Reconciler and
// BotRunner cycle behavior.
type EngineConfig struct {
	MarketMonitorPeriod time.Duration `yaml:"market_monitor_period"`
	ReconcilerPeriod    time.Duration `yaml:"reconciler_period"`
	ConsecutiveErrorCap int           `yaml:"consecutive_error_cap"`
	FillPollAttempts    int           `yaml:"fill_poll_attempts"`
	FillPollInterval    time.Duration `yaml:"fill_poll_interval"`
	StalePendingAge     time.Duration `yaml:"stale_pending_age"`
}

// APIConfig defines the Request Surface's HTTP settings.
type APIConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Normalize sets default values for configuration fields left unset.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Environment.Mode) == "" {
		c.Environment.Mode = "paper"
	}
	if strings.TrimSpace(c.Environment.LogLevel) == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if strings.TrimSpace(c.EventBus.Driver) == "" {
		c.EventBus.Driver = "memory"
	}
	if strings.TrimSpace(c.Broker.Provider) == "" {
		c.Broker.Provider = "alpaca"
	}
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = defaultBrokerTimeout
	}
	if c.Broker.Breaker.MaxRequests == 0 {
		c.Broker.Breaker.MaxRequests = 5
	}
	if c.Broker.Breaker.Interval == 0 {
		c.Broker.Breaker.Interval = 60 * time.Second
	}
	if c.Broker.Breaker.Timeout == 0 {
		c.Broker.Breaker.Timeout = 30 * time.Second
	}
	if c.Engine.MarketMonitorPeriod == 0 {
		c.Engine.MarketMonitorPeriod = defaultMarketMonitorPeriod
	}
	if c.Engine.ReconcilerPeriod == 0 {
		c.Engine.ReconcilerPeriod = defaultReconcilerPeriod
	}
	if c.Engine.ConsecutiveErrorCap == 0 {
		c.Engine.ConsecutiveErrorCap = defaultConsecutiveErrorCap
	}
	if c.Engine.FillPollAttempts == 0 {
		c.Engine.FillPollAttempts = defaultFillPollAttempts
	}
	if c.Engine.FillPollInterval == 0 {
		c.Engine.FillPollInterval = defaultFillPollInterval
	}
	if c.Engine.StalePendingAge == 0 {
		c.Engine.StalePendingAge = 5 * time.Minute
	}
	if c.API.Port == 0 {
		c.API.Port = defaultHTTPPort
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}

	switch c.EventBus.Driver {
	case "redis":
		if strings.TrimSpace(c.EventBus.Addr) == "" {
			return fmt.Errorf("event_bus.addr is required when event_bus.driver is 'redis'")
		}
	case "memory":
	default:
		return fmt.Errorf("event_bus.driver must be 'redis' or 'memory'")
	}

	switch strings.ToLower(c.Broker.Provider) {
	case "alpaca":
	default:
		return fmt.Errorf("broker.provider must be 'alpaca'")
	}
	if c.Broker.Timeout <= 0 {
		return fmt.Errorf("broker.timeout must be > 0")
	}

	if c.Engine.ConsecutiveErrorCap <= 0 {
		return fmt.Errorf("engine.consecutive_error_cap must be > 0")
	}
	if c.Engine.MarketMonitorPeriod < 10*time.Second {
		return fmt.Errorf("engine.market_monitor_period must be >= 10s")
	}
	if c.Engine.ReconcilerPeriod <= 0 {
		return fmt.Errorf("engine.reconciler_period must be > 0")
	}
	if c.Engine.FillPollAttempts <= 0 {
		return fmt.Errorf("engine.fill_poll_attempts must be > 0")
	}
	if c.Engine.FillPollInterval <= 0 {
		return fmt.Errorf("engine.fill_poll_interval must be > 0")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	return nil
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}
