// Package config loads the build server configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the build server configuration.
type Config struct {
	// DataDir is the base directory holding per-project storage roots.
	DataDir string `yaml:"data_dir"`
	// NATSURL is the controller transport endpoint.
	NATSURL string `yaml:"nats_url"`
	// MetricsAddr is the Prometheus listen address; empty disables the
	// endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
	// InMemoryDelta selects an in-memory journal for the dependency
	// cache's per-build delta. Passed through to the data manager.
	InMemoryDelta bool `yaml:"in_memory_delta"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir:     "./buildforge-data",
		NATSURL:     "nats://127.0.0.1:4222",
		MetricsAddr: "",
		LogLevel:    "info",
	}
}

// Load reads path (optional), applies env overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir must not be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	return cfg, nil
}

// applyEnv overrides config fields from BUILDFORGE_* variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BUILDFORGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BUILDFORGE_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("BUILDFORGE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("BUILDFORGE_IN_MEMORY_DELTA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.InMemoryDelta = b
		}
	}
	if v := os.Getenv("BUILDFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
