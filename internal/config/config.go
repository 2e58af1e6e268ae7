package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/chaincache/internal/logging"
)

// Config holds runtime settings. DefaultTTL is both the freshness window and
// the lifetime of new cache entries. The cache counts it in minutes, so it is
// either zero (always refetch) or at least a minute. SweepInterval of zero
// disables the background sweeper.
type Config struct {
	DBPath        string        `env:"CHAINCACHE_DB_PATH"`
	LogFormat     string        `env:"CHAINCACHE_LOG_FORMAT"`
	LogLevel      string        `env:"CHAINCACHE_LOG_LEVEL"`
	DefaultTTL    time.Duration `env:"CHAINCACHE_DEFAULT_TTL"`
	SweepInterval time.Duration `env:"CHAINCACHE_SWEEP_INTERVAL"`
	FixturePath   string        `env:"CHAINCACHE_FIXTURE"`
	RetryAttempts int           `env:"CHAINCACHE_RETRY_ATTEMPTS"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DBPath = "chaincache.db"
	c.LogFormat = logging.FormatText
	c.LogLevel = "info"
	c.DefaultTTL = 15 * time.Minute
	c.SweepInterval = 0
	c.FixturePath = ""
	c.RetryAttempts = 3
}

// Load builds a Config from defaults, the JSON file at jsonPath (skipped when
// empty) and the environment.
func Load(jsonPath string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if jsonPath != "" {
		if err := parseJSON(cfg, jsonPath); err != nil {
			return nil, err
		}
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TTLMinutes returns DefaultTTL in minutes, as the cache expects, rounding
// partial minutes up. Zero stays zero.
func (c *Config) TTLMinutes() int {
	return int((c.DefaultTTL + time.Minute - 1) / time.Minute)
}

func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return fmt.Errorf("config: db path is empty")
	case c.DefaultTTL < 0:
		return fmt.Errorf("config: default ttl must not be negative, got %s", c.DefaultTTL)
	case c.DefaultTTL > 0 && c.DefaultTTL < time.Minute:
		return fmt.Errorf("config: default ttl must be zero or at least 1m, got %s", c.DefaultTTL)
	case c.SweepInterval < 0:
		return fmt.Errorf("config: sweep interval must not be negative, got %s", c.SweepInterval)
	case c.RetryAttempts < 0:
		return fmt.Errorf("config: retry attempts must not be negative, got %d", c.RetryAttempts)
	}
	switch c.LogFormat {
	case logging.FormatText, logging.FormatJSON, logging.FormatZap:
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}
