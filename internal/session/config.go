// Package session wires one transport.Client to one store.Store: the
// only component in this module that instantiates concrete transport
// and store values, per spec.md §9's no-singleton design note.
package session

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds the session controller's host-supplied configuration,
// grounded on the analytics service's config.Config: env tags,
// envDefault, envSeparator for list fields, and a Validate method in
// the same shape.
type Config struct {
	URL              string   `env:"TRADECORE_URL" envDefault:"ws://localhost:8080/ws"`
	Symbols          []string `env:"TRADECORE_SYMBOLS" envSeparator:"," envDefault:"BTC_USD"`
	SubscribeTrades  bool     `env:"TRADECORE_SUBSCRIBE_TRADES" envDefault:"true"`
	SubscribeAccount bool     `env:"TRADECORE_SUBSCRIBE_ACCOUNT" envDefault:"false"`
	MetricsAddr      string   `env:"TRADECORE_METRICS_ADDR" envDefault:":9090"`
	LogLevel         string   `env:"TRADECORE_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig loads the configuration from the process environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("session: failed to parse environment variables: %w", err)
	}
	for i := range cfg.Symbols {
		cfg.Symbols[i] = strings.TrimSpace(cfg.Symbols[i])
	}
	return cfg, nil
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("session: missing transport URL")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("session: at least one symbol must be configured")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("session: invalid log level: %s", c.LogLevel)
	}
	return nil
}
