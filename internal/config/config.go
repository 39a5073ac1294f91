package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultReconcileWindowSeconds = 30
	defaultTypingTTLSeconds       = 6
)

// Config represents the global ~/.plateful/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	// ReconcileWindowSeconds bounds the optimistic-echo match: a change-feed
	// entry may replace a local placeholder only when both carry the same
	// sender and text and their timestamps fall within this window.
	ReconcileWindowSeconds int `toml:"reconcile_window_seconds"`

	// TypingTTLSeconds is how long a typing indicator survives without
	// refresh before the sweeper drops it.
	TypingTTLSeconds int `toml:"typing_ttl_seconds"`
}

// ReconcileWindow returns the echo-match window, applying the default when
// the field is unset or nonsensical.
func (c *Config) ReconcileWindow() time.Duration {
	s := c.ReconcileWindowSeconds
	if s <= 0 {
		s = defaultReconcileWindowSeconds
	}
	return time.Duration(s) * time.Second
}

// TypingTTL returns the typing-indicator expiry, applying the default when
// the field is unset or nonsensical.
func (c *Config) TypingTTL() time.Duration {
	s := c.TypingTTLSeconds
	if s <= 0 {
		s = defaultTypingTTLSeconds
	}
	return time.Duration(s) * time.Second
}

// Load reads config from the given path. Returns an error if the file is
// missing; callers treat that as "all defaults".
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
