package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	DatabasePath  string `yaml:"databasePath"`
	ServerURL     string `yaml:"serverURL"`
	LogLevel      string `yaml:"logLevel"`
	SweepInterval string `yaml:"sweepInterval"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("ASKOVA_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("ASKOVA_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseSweepInterval parses the reconciliation sweep interval, defaulting to
// one minute when unset.
func ParseSweepInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse sweep interval: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("sweep interval must be positive")
	}
	return d, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabasePath == "" {
		return errors.New("config: databasePath is required (set in config.yaml or ASKOVA_DB_PATH)")
	}
	if cfg.ServerURL == "" {
		return errors.New("config: serverURL is required (set in config.yaml or ASKOVA_SERVER_URL)")
	}
	return nil
}
