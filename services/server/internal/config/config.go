package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	DatabaseURL                string   `yaml:"databaseURL"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	SessionStrategy            string   `yaml:"sessionStrategy"`
	SessionTTL                 string   `yaml:"sessionTTL"`
	JWTSecret                  string   `yaml:"jwtSecret"`
	LogLevel                   string   `yaml:"logLevel"`
	LLMProvider                string   `yaml:"llmProvider"`
	LLMAPIKey                  string   `yaml:"llmAPIKey"`
	LLMModel                   string   `yaml:"llmModel"`
	LLMBaseURL                 string   `yaml:"llmBaseURL"`
	GenerateRateLimitPerMinute int      `yaml:"generateRateLimitPerMinute"`
	TrustedProxies             []string `yaml:"trustedProxies"`
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
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("ASKOVA_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("ASKOVA_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("ASKOVA_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("ASKOVA_GENERATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GenerateRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	return dur, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	// Missing provider credentials would otherwise only surface on the first
	// generation request, so refuse to start without them.
	if strings.TrimSpace(cfg.LLMAPIKey) == "" {
		return errors.New("config: llmAPIKey is required (set in config.yaml or ASKOVA_LLM_API_KEY)")
	}
	switch cfg.LLMProvider {
	case "", "gemini":
	case "openai":
		if strings.TrimSpace(cfg.LLMBaseURL) == "" {
			return errors.New("config: llmBaseURL is required for the openai provider")
		}
	default:
		return fmt.Errorf("config: unknown llmProvider %q (want gemini or openai)", cfg.LLMProvider)
	}
	switch cfg.SessionStrategy {
	case "", "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis session strategy")
		}
	case "jwt":
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return errors.New("config: jwtSecret is required for the jwt session strategy")
		}
	default:
		return fmt.Errorf("config: unknown sessionStrategy %q (want redis or jwt)", cfg.SessionStrategy)
	}
	if cfg.GenerateRateLimitPerMinute < 0 {
		return errors.New("config: generateRateLimitPerMinute must be >= 0")
	}
	return nil
}
