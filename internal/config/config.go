// Package config loads the engine configuration from a YAML file with
// environment variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/predyx/market-engine/internal/fixed"
)

// Config holds every tunable of the service. Values are loaded from
// YAML, then overridden from the environment.
type Config struct {
	Server struct {
		Port             string `yaml:"port"`
		TimeoutSec       int    `yaml:"timeout_sec"`
		ShutdownGraceSec int    `yaml:"shutdown_grace_sec"`
	} `yaml:"server"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Redis struct {
		URL         string `yaml:"url"`
		CacheTTLSec int    `yaml:"cache_ttl_sec"`
	} `yaml:"redis"`

	Engine struct {
		// StartingBalance seeds new user accounts, in credits.
		StartingBalance string `yaml:"starting_balance"`

		// PriceWindow is how many recent trades feed price discovery;
		// Alpha is the VWAP blend weight. Zero values use the defaults.
		PriceWindow int     `yaml:"price_window"`
		Alpha       float64 `yaml:"alpha"`
	} `yaml:"engine"`

	Risk struct {
		// Share exposure caps; zero disables the check.
		MaxPerMarket   string `yaml:"max_per_market"`
		MaxPerCategory string `yaml:"max_per_category"`
	} `yaml:"risk"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// Load reads the config file at path. An empty path or a missing file
// yields the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.TimeoutSec = 30
	cfg.Server.ShutdownGraceSec = 5
	cfg.Redis.CacheTTLSec = 30
	cfg.Engine.StartingBalance = "10000.00"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return cfg
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("server timeout must be positive")
	}
	if _, err := c.StartingBalance(); err != nil {
		return fmt.Errorf("starting_balance: %w", err)
	}
	if c.Risk.MaxPerMarket != "" {
		if _, err := fixed.ParseCredits2(c.Risk.MaxPerMarket); err != nil {
			return fmt.Errorf("risk.max_per_market: %w", err)
		}
	}
	if c.Risk.MaxPerCategory != "" {
		if _, err := fixed.ParseCredits2(c.Risk.MaxPerCategory); err != nil {
			return fmt.Errorf("risk.max_per_category: %w", err)
		}
	}
	if c.Engine.Alpha < 0 || c.Engine.Alpha > 1 {
		return fmt.Errorf("engine.alpha must be within [0, 1]")
	}
	return nil
}

// StartingBalance parses the configured starting balance.
func (c *Config) StartingBalance() (fixed.Credits2, error) {
	return fixed.ParseCredits2(c.Engine.StartingBalance)
}

// RiskCaps parses the exposure caps; empty strings mean disabled.
func (c *Config) RiskCaps() (perMarket, perCategory fixed.Credits2) {
	if c.Risk.MaxPerMarket != "" {
		perMarket, _ = fixed.ParseCredits2(c.Risk.MaxPerMarket)
	}
	if c.Risk.MaxPerCategory != "" {
		perCategory, _ = fixed.ParseCredits2(c.Risk.MaxPerCategory)
	}
	return perMarket, perCategory
}

// overrideWithEnv applies environment overrides where set.
func overrideWithEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if balance := os.Getenv("STARTING_BALANCE"); balance != "" {
		cfg.Engine.StartingBalance = balance
	}
}
