// Package config loads service configuration from an optional YAML file with
// environment variable overrides on top. Zero or missing fields fall back to
// defaults, so an empty config is fully usable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Vector   VectorConfig   `yaml:"vector"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig controls the SQLite file and pool behavior. Timeouts are
// in milliseconds. AuthToken, SyncURL, and EncryptionKey are accepted for
// compatibility with remote/replica deployments but the embedded driver
// does not use them.
type DatabaseConfig struct {
	URL               string `yaml:"url"`
	AuthToken         string `yaml:"authToken"`
	SyncURL           string `yaml:"syncUrl"`
	EncryptionKey     string `yaml:"encryptionKey"`
	MaxConnections    int    `yaml:"maxConnections"`
	IdleTimeoutMs     int    `yaml:"idleTimeoutMs"`
	CheckoutTimeoutMs int    `yaml:"checkoutTimeoutMs"`
}

// UsesRemoteFeatures reports whether any remote-only field is set.
func (d DatabaseConfig) UsesRemoteFeatures() bool {
	return d.AuthToken != "" || d.SyncURL != "" || d.EncryptionKey != ""
}

// CacheConfig controls the read-through caches. TTL is in milliseconds; zero
// means entries never expire.
type CacheConfig struct {
	MaxSize        int  `yaml:"maxSize"`
	TTLMs          int  `yaml:"ttlMs"`
	UpdateAgeOnGet bool `yaml:"updateAgeOnGet"`
}

// VectorConfig fixes the embedding dimensionality for the lifetime of the
// database.
type VectorConfig struct {
	Dimensions int `yaml:"dimensions"`
}

// LoggingConfig sets the log level (trace, debug, info, warn, error).
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a usable configuration for a local database.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:               "file:memoria.db",
			MaxConnections:    10,
			IdleTimeoutMs:     30000,
			CheckoutTimeoutMs: 10000,
		},
		Cache: CacheConfig{
			MaxSize:        1000,
			TTLMs:          300000, // 5 minutes
			UpdateAgeOnGet: true,
		},
		Vector: VectorConfig{
			Dimensions: 1536,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (if path is non-empty and the file
// exists), then applies environment overrides. Missing files are not an
// error; malformed files are.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// applyEnv lets the environment override file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("DATABASE_AUTH_TOKEN"); v != "" {
		c.Database.AuthToken = v
	}
	if v := os.Getenv("DATABASE_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Database.MaxConnections = n
		}
	}
	if v := os.Getenv("VECTOR_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Vector.Dimensions = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// fillDefaults backfills anything the file zeroed out.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Database.URL == "" {
		c.Database.URL = def.Database.URL
	}
	if c.Database.MaxConnections <= 0 {
		c.Database.MaxConnections = def.Database.MaxConnections
	}
	if c.Database.IdleTimeoutMs <= 0 {
		c.Database.IdleTimeoutMs = def.Database.IdleTimeoutMs
	}
	if c.Database.CheckoutTimeoutMs <= 0 {
		c.Database.CheckoutTimeoutMs = def.Database.CheckoutTimeoutMs
	}
	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = def.Cache.MaxSize
	}
	if c.Vector.Dimensions <= 0 {
		c.Vector.Dimensions = def.Vector.Dimensions
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// IdleTimeout returns the pool idle timeout as a duration.
func (d DatabaseConfig) IdleTimeout() time.Duration {
	return time.Duration(d.IdleTimeoutMs) * time.Millisecond
}

// CheckoutTimeout returns the pool checkout timeout as a duration.
func (d DatabaseConfig) CheckoutTimeout() time.Duration {
	return time.Duration(d.CheckoutTimeoutMs) * time.Millisecond
}

// TTL returns the cache TTL as a duration; zero means no expiry.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}
