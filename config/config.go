// Package config loads the chat client settings.
package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrNoConfig        = errors.New("config file not found")
	ErrInvalidJSON     = errors.New("invalid config JSON")
	ErrInvalidBaseURL  = errors.New("base_url must be an absolute http or https URL")
	ErrInvalidLogLevel = errors.New("log_level must be \"debug\", \"info\", \"warn\", or \"error\"")
)

const (
	DefaultBaseURL        = "http://localhost:8080/api"
	DefaultRequestTimeout = 60
	DefaultMessageLimit   = 50
	DefaultPageSize       = 10
)

// Config holds the client configuration.
type Config struct {
	BaseURL               string `json:"base_url"`
	Token                 string `json:"token"`                   // Bearer token; empty means use the stored one
	StatePath             string `json:"state_path"`              // Key-value file for the active conversation and token
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"` // Per request
	MessageLimit          int    `json:"message_limit"`           // Messages fetched per conversation load
	PageSize              int    `json:"page_size"`               // Conversations fetched per list
	LogLevel              string `json:"log_level"`
}

// Dir is ~/.config/livestock-chat.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "livestock-chat"), nil
}

// Load reads the config from ~/.config/livestock-chat/config.json.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(dir, "config.json"))
}

// LoadFrom reads the config from a specific path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, ErrInvalidJSON
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	// defaults always validate
	_ = cfg.Normalize()
	return cfg
}

// Normalize fills in defaults and validates the result. Call it again after
// overriding fields.
func (c *Config) Normalize() error {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.StatePath == "" {
		if dir, err := Dir(); err == nil {
			c.StatePath = filepath.Join(dir, "state.json")
		} else {
			c.StatePath = "livestock-chat-state.json"
		}
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = DefaultMessageLimit
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, ErrInvalidLogLevel
	}
}
