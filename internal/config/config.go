// Package config loads server configuration from an optional YAML file
// plus SPOTX_-prefixed environment variable overrides, the way the
// market-making bot in the example pack layers viper over a config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DBConfig       `mapstructure:"db"`
	Matching MatchingConfig `mapstructure:"matching"`
}

// HTTPConfig controls the public HTTP listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DBConfig holds the MySQL/TiDB connection string.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MatchingConfig tunes the matching engine's internal retry behavior.
//
//   - TransientRetries: total number of attempts an order placement or a
//     cancellation makes when storage fails with a Transient error; 1
//     means no retry.
//   - TransientBackoff: base delay between retries (linear backoff).
//   - CascadeWorkers: size of the worker pool fanning out cancellations
//     when a user is deleted (§4.5).
type MatchingConfig struct {
	TransientRetries int           `mapstructure:"transient_retries"`
	TransientBackoff time.Duration `mapstructure:"transient_backoff"`
	CascadeWorkers   int           `mapstructure:"cascade_workers"`
}

// Load reads config from an optional YAML file at path (skipped silently if
// absent) with SPOTX_* environment variable overrides layered on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPOTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("matching.transient_retries", 3)
	v.SetDefault("matching.transient_backoff", 20*time.Millisecond)
	v.SetDefault("matching.cascade_workers", 8)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// DSN is bound explicitly: SPOTX_DB_DSN is the documented override and
	// must win even if a config file sets db.dsn.
	_ = v.BindEnv("db.dsn", "SPOTX_DB_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required (set SPOTX_DB_DSN)")
	}
	if c.Matching.TransientRetries < 1 {
		return fmt.Errorf("matching.transient_retries must be >= 1")
	}
	if c.Matching.CascadeWorkers < 1 {
		return fmt.Errorf("matching.cascade_workers must be >= 1")
	}
	return nil
}
