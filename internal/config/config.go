package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultMaxMessagesPerMinute     = 60
	DefaultMaxAuthAttemptsPerMinute = 5
	DefaultNonceExpiry              = 5 * time.Minute
)

type Config struct {
	ServerAddr  string
	DatabaseDSN string
	// ServerPassword optionally gates every connection. A value with a
	// bcrypt prefix ("$2") is treated as a hash, anything else as the
	// literal password.
	ServerPassword string
	AdminToken     string
	// AdminKeys is the base64-encoded Ed25519 public keys granted the
	// admin flag at authentication time. Read-only after process start.
	AdminKeys                []string
	MaxMessagesPerMinute     int
	MaxAuthAttemptsPerMinute int
	NonceExpiry              time.Duration
	AllowedOrigins           []string
	UploadDir                string
}

// New validates cfg and fills in defaults for unset limits.
func New(cfg Config) (*Config, error) {
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if cfg.AdminToken == "" {
		return nil, fmt.Errorf("admin token cannot be empty")
	}

	if cfg.MaxMessagesPerMinute <= 0 {
		cfg.MaxMessagesPerMinute = DefaultMaxMessagesPerMinute
	}
	if cfg.MaxAuthAttemptsPerMinute <= 0 {
		cfg.MaxAuthAttemptsPerMinute = DefaultMaxAuthAttemptsPerMinute
	}
	if cfg.NonceExpiry <= 0 {
		cfg.NonceExpiry = DefaultNonceExpiry
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}

	for _, key := range cfg.AdminKeys {
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("decode admin key %q: %w", key, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("admin key %q: not an ed25519 public key", key)
		}
	}

	return &cfg, nil
}
