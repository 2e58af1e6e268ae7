package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

// Duration accepts either a string like "3s" or integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		d.Duration = v
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	d.Duration = time.Duration(n)
	return nil
}

// jsonConfig is used only for unmarshalling. Pointer fields tell absent keys
// apart from zero values.
type jsonConfig struct {
	DBPath        *string   `json:"db_path"`
	LogFormat     *string   `json:"log_format"`
	LogLevel      *string   `json:"log_level"`
	DefaultTTL    *Duration `json:"default_ttl"`
	SweepInterval *Duration `json:"sweep_interval"`
	FixturePath   *string   `json:"fixture_path"`
	RetryAttempts *int      `json:"retry_attempts"`
}

// parseJSON overlays cfg with the keys present in the file at path.
func parseJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc jsonConfig
	if err := sonic.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set(&cfg.DBPath, jc.DBPath)
	set(&cfg.LogFormat, jc.LogFormat)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.FixturePath, jc.FixturePath)
	set(&cfg.RetryAttempts, jc.RetryAttempts)
	if jc.DefaultTTL != nil {
		cfg.DefaultTTL = jc.DefaultTTL.Duration
	}
	if jc.SweepInterval != nil {
		cfg.SweepInterval = jc.SweepInterval.Duration
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
