// Package config provides configuration loading and structs for the DocAssist gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Upstream UpstreamConfig `yaml:"upstream"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Production bool   `yaml:"production"`
}

// AuthConfig holds the login credential and session settings.
// Exactly one credential form is authoritative: a well-formed bcrypt hash
// takes precedence over a plaintext password.
type AuthConfig struct {
	PasswordHash    string `yaml:"password_hash"`
	PasswordPlain   string `yaml:"password_plain"`
	AttemptsPath    string `yaml:"attempts_path"` // sqlite database for attempt state; empty = in-memory
	SessionTTLHours int    `yaml:"session_ttl_hours"`
}

// SessionTTL returns the session validity window.
func (a *AuthConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLHours) * time.Hour
}

// UpstreamConfig points at the document-QA service.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the upstream request timeout.
func (u *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if cfg.Auth.AttemptsPath != "" {
		cfg.Auth.AttemptsPath = expandPath(cfg.Auth.AttemptsPath, filepath.Dir(path))
	}

	return &cfg, nil
}

// ValidateCredential checks that a login credential is configured.
// Called once at startup so a missing credential fails fast instead of
// silently denying every attempt.
func (c *Config) ValidateCredential() error {
	if c.Auth.PasswordHash == "" && c.Auth.PasswordPlain == "" {
		return fmt.Errorf("no login credential configured: set auth.password_hash or auth.password_plain")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
