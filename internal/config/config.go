package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	FeedWSURL   string `yaml:"feed_ws_url"`

	AdminAddr string `yaml:"admin_addr"`

	HistoryLimit       int `yaml:"history_limit"`
	ProfileCacheTTLSec int `yaml:"profile_cache_ttl_sec"`

	FeedReconnectAttempts int `yaml:"feed_reconnect_attempts"`
}

// Load builds the configuration from defaults, then an optional YAML file
// named by RATING_CONFIG_FILE, then environment variables. Env wins.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		AdminAddr:             ":8790",
		HistoryLimit:          50,
		ProfileCacheTTLSec:    21600,
		FeedReconnectAttempts: 5,
	}

	if path := strings.TrimSpace(os.Getenv("RATING_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FEED_WS_URL")); v != "" {
		cfg.FeedWSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_ADDR")); v != "" {
		cfg.AdminAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("RATING_HISTORY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PROFILE_CACHE_TTL")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ProfileCacheTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEED_RECONNECT_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.FeedReconnectAttempts = n
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.FeedWSURL == "" {
		return nil, errors.New("FEED_WS_URL is required")
	}

	return cfg, nil
}
