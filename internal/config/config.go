// Package config loads Tempora's runtime configuration: YAML defaults on
// disk, layered with .env and process environment overrides, in that order
// of increasing priority.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything temporad/tickerd need to run.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	MasterKeyMaterial string `yaml:"master_key_material"`

	SnapshotBackend string `yaml:"snapshot_backend"` // "file" or "postgres"
	SnapshotPath    string `yaml:"snapshot_path"`
	PostgresDSN     string `yaml:"postgres_dsn"`

	TickInterval   time.Duration `yaml:"tick_interval"`
	MaxFutureTicks uint64        `yaml:"max_future_ticks"`

	LogLevel string `yaml:"log_level"`

	// AllowReset gates POST /v1/reset. Leave false in any real deployment;
	// it exists for local development and integration tests.
	AllowReset bool `yaml:"allow_reset"`
}

// Default returns the baseline configuration used when no file is present
// and no overrides apply.
func Default() Config {
	return Config{
		ListenAddr:      ":8088",
		SnapshotBackend: "file",
		SnapshotPath:    "tempora-state.json",
		TickInterval:    time.Second,
		MaxFutureTicks:  100,
		LogLevel:        "info",
		AllowReset:      false,
	}
}

// Load builds a Config starting from Default, then layering a YAML file at
// path (if present), then a .env file (if present), then process
// environment variables — each layer only overrides what it actually sets.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No config file is not an error; defaults plus env still apply.
		default:
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	_ = godotenv.Load() // best-effort; missing .env is fine

	applyEnvOverrides(&cfg)

	if cfg.MasterKeyMaterial == "" {
		return Config{}, fmt.Errorf("config: TEMPORA_MASTER_KEY (or master_key_material) must be set")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TEMPORA_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TEMPORA_MASTER_KEY"); v != "" {
		cfg.MasterKeyMaterial = v
	}
	if v := os.Getenv("TEMPORA_SNAPSHOT_BACKEND"); v != "" {
		cfg.SnapshotBackend = v
	}
	if v := os.Getenv("TEMPORA_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := os.Getenv("TEMPORA_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("TEMPORA_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TickInterval = d
		}
	}
	if v := os.Getenv("TEMPORA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TEMPORA_ALLOW_RESET"); v != "" {
		cfg.AllowReset = v == "1" || v == "true"
	}
}
