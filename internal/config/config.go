package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIBaseURL   string
	WSBaseURL    string
	SiteBaseURL  string
	StateFile    string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

// fileConfig is the YAML shape. Durations are strings ("5s") because
// yaml.v3 has no native time.Duration decoding.
type fileConfig struct {
	APIBaseURL   string `yaml:"api_base_url"`
	WSBaseURL    string `yaml:"ws_base_url"`
	SiteBaseURL  string `yaml:"site_base_url"`
	StateFile    string `yaml:"state_file"`
	PollInterval string `yaml:"poll_interval"`
	HTTPTimeout  string `yaml:"http_timeout"`
}

// Load builds the configuration from, in increasing precedence: defaults,
// an optional YAML file named by QRMEJA_CONFIG, and environment variables.
// A .env file in the working directory is applied first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:   "http://localhost:8081/api",
		WSBaseURL:    "ws://localhost:8081",
		SiteBaseURL:  "http://localhost:3000",
		StateFile:    defaultStateFile(),
		PollInterval: 5 * time.Second,
		HTTPTimeout:  10 * time.Second,
	}

	if path := os.Getenv("QRMEJA_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		if fc.APIBaseURL != "" {
			cfg.APIBaseURL = fc.APIBaseURL
		}
		if fc.WSBaseURL != "" {
			cfg.WSBaseURL = fc.WSBaseURL
		}
		if fc.SiteBaseURL != "" {
			cfg.SiteBaseURL = fc.SiteBaseURL
		}
		if fc.StateFile != "" {
			cfg.StateFile = fc.StateFile
		}
		if fc.PollInterval != "" {
			d, err := time.ParseDuration(fc.PollInterval)
			if err != nil {
				return nil, fmt.Errorf("invalid poll_interval: %w", err)
			}
			cfg.PollInterval = d
		}
		if fc.HTTPTimeout != "" {
			d, err := time.ParseDuration(fc.HTTPTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid http_timeout: %w", err)
			}
			cfg.HTTPTimeout = d
		}
	}

	cfg.APIBaseURL = getEnv("QRMEJA_API_URL", cfg.APIBaseURL)
	cfg.WSBaseURL = getEnv("QRMEJA_WS_URL", cfg.WSBaseURL)
	cfg.SiteBaseURL = getEnv("QRMEJA_SITE_URL", cfg.SiteBaseURL)
	cfg.StateFile = getEnv("QRMEJA_STATE_FILE", cfg.StateFile)

	if v := os.Getenv("QRMEJA_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid QRMEJA_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("QRMEJA_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid QRMEJA_HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPTimeout = d
	}

	return cfg, nil
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "qrmeja-state.json"
	}
	return filepath.Join(home, ".qrmeja", "state.json")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
