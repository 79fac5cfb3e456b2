// Package config loads the daemon configuration from a YAML file with
// environment overrides for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type APIConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

type QueueConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"   validate:"min=1"`
	StaleLockAge  time.Duration `yaml:"stale_lock_age" validate:"min=1s"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=1s"`
}

type WorkersConfig struct {
	Min          int           `yaml:"min"           validate:"min=1"`
	Max          int           `yaml:"max"           validate:"min=1,gtefield=Min"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"  validate:"min=1s"`
}

type TriggersConfig struct {
	DedupWindow    time.Duration `yaml:"dedup_window"    validate:"min=1s"`
	EventRetention time.Duration `yaml:"event_retention" validate:"min=1m"`
	PruneInterval  time.Duration `yaml:"prune_interval"  validate:"min=1s"`
	// FailureThreshold is how many consecutive run-start failures move a
	// trigger to the error state.
	FailureThreshold int `yaml:"failure_threshold" validate:"min=1"`
}

type Config struct {
	LogLevel     string         `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	DatabasePath string         `yaml:"database_path" validate:"required"`
	API          APIConfig      `yaml:"api"`
	Queue        QueueConfig    `yaml:"queue"`
	Workers      WorkersConfig  `yaml:"workers"`
	Triggers     TriggersConfig `yaml:"triggers"`
}

func Default() *Config {
	return &Config{
		LogLevel:     "info",
		DatabasePath: "weft.db",
		API:          APIConfig{Port: 8080},
		Queue: QueueConfig{
			MaxAttempts:   5,
			StaleLockAge:  5 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Workers: WorkersConfig{
			Min:          2,
			Max:          8,
			PollInterval: 250 * time.Millisecond,
			IdleTimeout:  30 * time.Second,
		},
		Triggers: TriggersConfig{
			DedupWindow:      time.Minute,
			EventRetention:   24 * time.Hour,
			PruneInterval:    time.Hour,
			FailureThreshold: 5,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; env overrides apply last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)

		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config invalid: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if level, ok := os.LookupEnv("WEFT_LOG_LEVEL"); ok {
		cfg.LogLevel = level
	}

	if path, ok := os.LookupEnv("WEFT_DATABASE_PATH"); ok {
		cfg.DatabasePath = path
	}

	if portStr, ok := os.LookupEnv("WEFT_API_PORT"); ok {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.API.Port = port
		}
	}
}
