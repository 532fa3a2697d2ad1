// Package config loads server configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`

	Quote struct {
		BaseURL string  `yaml:"base_url"`
		APIKey  string  `yaml:"api_key"` // multiple keys separated by ":"
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"quote"`
}

// Load reads the YAML file at path (skipped if empty or missing), applies
// env overrides, and fills defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// Env overrides.
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("QUOTE_API_KEY"); v != "" {
		cfg.Quote.APIKey = v
	}

	// Defaults.
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 30
	}
	if cfg.Quote.RPS == 0 {
		cfg.Quote.RPS = 10
	}
	if cfg.Quote.Burst == 0 {
		cfg.Quote.Burst = 5
	}

	return &cfg, nil
}

// CacheTTL returns the Redis cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// QuoteKeys splits the configured API key string. Multiple keys may be
// separated by ":" to spread requests across upstream budgets.
func (c *Config) QuoteKeys() []string {
	var keys []string
	for _, k := range strings.Split(c.Quote.APIKey, ":") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
