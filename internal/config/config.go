// Package config provides configuration management for graphkeep.
// It loads settings from environment variables with the GRAPHKEEP_ prefix
// and provides sensible defaults for all options. An optional YAML file can
// be layered underneath the environment: file values override defaults, and
// environment variables override the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the graphkeep store.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Pool      PoolConfig      `yaml:"pool"`
	Cache     CacheConfig     `yaml:"cache"`
	Partition PartitionConfig `yaml:"partition"`
}

// StorageConfig contains database location settings.
type StorageConfig struct {
	// DatabaseURL is the SQLite DSN: a bare path, a file: URI, or :memory:.
	DatabaseURL string `yaml:"database_url"`
}

// PoolConfig contains connection pool settings.
type PoolConfig struct {
	Size           int           `yaml:"size"`            // Max concurrent handles (default: 5)
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // Bound on handle acquisition (default: 5s)
}

// CacheConfig contains statement and result cache settings.
type CacheConfig struct {
	StatementCapacity int           `yaml:"statement_capacity"` // Prepared statements per handle (default: 100)
	ResultCapacity    int           `yaml:"result_capacity"`    // Result cache entries (default: 1000)
	ResultTTL         time.Duration `yaml:"result_ttl"`         // Result entry time-to-live (default: 5m)
	SweepInterval     time.Duration `yaml:"sweep_interval"`     // Min interval between expiry sweeps (default: 60s)
}

// PartitionConfig contains partition maintenance settings.
type PartitionConfig struct {
	Enabled             bool          `yaml:"enabled"`              // Run the periodic maintenance pass (default: true)
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"` // Pass interval (default: 1h)
}

// fileConfig mirrors Config with string durations so that YAML files can use
// human-readable values like "5s" or "1h".
type fileConfig struct {
	Storage struct {
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"storage"`
	Pool struct {
		Size           int    `yaml:"size"`
		AcquireTimeout string `yaml:"acquire_timeout"`
	} `yaml:"pool"`
	Cache struct {
		StatementCapacity int    `yaml:"statement_capacity"`
		ResultCapacity    int    `yaml:"result_capacity"`
		ResultTTL         string `yaml:"result_ttl"`
		SweepInterval     string `yaml:"sweep_interval"`
	} `yaml:"cache"`
	Partition struct {
		Enabled             *bool  `yaml:"enabled"`
		MaintenanceInterval string `yaml:"maintenance_interval"`
	} `yaml:"partition"`
}

// LoadConfig loads configuration from environment variables with defaults.
// All environment variables use the GRAPHKEEP_ prefix.
func LoadConfig() (*Config, error) {
	return applyEnv(buildBaseConfig())
}

// LoadConfigFromFile layers a YAML config file between the defaults and the
// environment: defaults < file < environment.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if fc.Storage.DatabaseURL != "" {
		cfg.Storage.DatabaseURL = fc.Storage.DatabaseURL
	}
	if fc.Pool.Size > 0 {
		cfg.Pool.Size = fc.Pool.Size
	}
	if fc.Cache.StatementCapacity > 0 {
		cfg.Cache.StatementCapacity = fc.Cache.StatementCapacity
	}
	if fc.Cache.ResultCapacity > 0 {
		cfg.Cache.ResultCapacity = fc.Cache.ResultCapacity
	}
	if fc.Partition.Enabled != nil {
		cfg.Partition.Enabled = *fc.Partition.Enabled
	}

	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.Pool.AcquireTimeout, &cfg.Pool.AcquireTimeout, "pool.acquire_timeout"},
		{fc.Cache.ResultTTL, &cfg.Cache.ResultTTL, "cache.result_ttl"},
		{fc.Cache.SweepInterval, &cfg.Cache.SweepInterval, "cache.sweep_interval"},
		{fc.Partition.MaintenanceInterval, &cfg.Partition.MaintenanceInterval, "partition.maintenance_interval"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid duration for %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return applyEnv(cfg)
}

// buildBaseConfig constructs a Config with default values.
func buildBaseConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabaseURL: "./data/graphkeep.db",
		},
		Pool: PoolConfig{
			Size:           5,
			AcquireTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			StatementCapacity: 100,
			ResultCapacity:    1000,
			ResultTTL:         5 * time.Minute,
			SweepInterval:     60 * time.Second,
		},
		Partition: PartitionConfig{
			Enabled:             true,
			MaintenanceInterval: time.Hour,
		},
	}
}

// applyEnv overrides cfg fields from GRAPHKEEP_-prefixed environment
// variables.
func applyEnv(cfg *Config) (*Config, error) {
	cfg.Storage.DatabaseURL = getEnv("GRAPHKEEP_DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Pool.Size = getEnvInt("GRAPHKEEP_POOL_SIZE", cfg.Pool.Size)
	cfg.Cache.StatementCapacity = getEnvInt("GRAPHKEEP_STATEMENT_CACHE_SIZE", cfg.Cache.StatementCapacity)
	cfg.Cache.ResultCapacity = getEnvInt("GRAPHKEEP_RESULT_CACHE_SIZE", cfg.Cache.ResultCapacity)
	cfg.Partition.Enabled = getEnvBool("GRAPHKEEP_MAINTENANCE_ENABLED", cfg.Partition.Enabled)

	var err error
	if cfg.Pool.AcquireTimeout, err = getEnvDuration("GRAPHKEEP_ACQUIRE_TIMEOUT", cfg.Pool.AcquireTimeout); err != nil {
		return nil, err
	}
	if cfg.Cache.ResultTTL, err = getEnvDuration("GRAPHKEEP_RESULT_TTL", cfg.Cache.ResultTTL); err != nil {
		return nil, err
	}
	if cfg.Cache.SweepInterval, err = getEnvDuration("GRAPHKEEP_SWEEP_INTERVAL", cfg.Cache.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.Partition.MaintenanceInterval, err = getEnvDuration("GRAPHKEEP_MAINTENANCE_INTERVAL", cfg.Partition.MaintenanceInterval); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration for %s: %w", key, err)
	}
	return parsed, nil
}
