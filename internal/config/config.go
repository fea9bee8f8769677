// Package config resolves the server's runtime configuration from built-in
// defaults, an optional JSON configuration file, and command-line overrides.
//
// The resolved RuntimeConfig is created once at startup and never mutated
// afterwards, so it is safe to share between goroutines without locking.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultFileName is the configuration file looked up next to the executable.
const DefaultFileName = "config.json"

// RuntimeConfig holds the fully resolved server configuration.
type RuntimeConfig struct {
	Port              int           `mapstructure:"port"`
	Host              string        `mapstructure:"host"`
	LogDir            string        `mapstructure:"logDir"`
	LogLevel          Level         `mapstructure:"logLevel"`
	MaxConnections    int           `mapstructure:"maxConnections"`
	IdleTimeout       time.Duration `mapstructure:"idleTimeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	MetricsInterval   time.Duration `mapstructure:"metricsInterval"`
	SessionTTL        time.Duration `mapstructure:"sessionTTL"`
	AdminUsername     string        `mapstructure:"adminUsername"`
	AdminPasswordHash string        `mapstructure:"adminPasswordHash"`
	AdminEnabled      bool          `mapstructure:"adminEnabled"`
	AuthRequired      bool          `mapstructure:"authRequired"`
	AdminRoot         string        `mapstructure:"adminRoot"`
	AllowedOrigins    string        `mapstructure:"allowedOrigins"`
	MaxMessageSize    int64         `mapstructure:"maxMessageSize"`
	SendQueueSize     int           `mapstructure:"sendQueueSize"`
	RateLimitBurst    int           `mapstructure:"rateLimitBurst"`
	RateLimitInterval time.Duration `mapstructure:"rateLimitInterval"`
}

// Default returns the built-in configuration.
func Default() RuntimeConfig {
	return RuntimeConfig{
		Port:              3000,
		LogDir:            "logs",
		LogLevel:          LevelInfo,
		MaxConnections:    100,
		IdleTimeout:       2 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		MetricsInterval:   5 * time.Second,
		SessionTTL:        time.Hour,
		AdminUsername:     "admin",
		AdminEnabled:      true,
		AuthRequired:      true,
		AdminRoot:         "admin",
		MaxMessageSize:    4096,
		SendQueueSize:     256,
		RateLimitBurst:    20,
		RateLimitInterval: time.Second,
	}
}

// Addr returns the listen address in host:port form.
func (c RuntimeConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Origins splits the comma-separated AllowedOrigins setting.
func (c RuntimeConfig) Origins() []string {
	return parseOrigins(c.AllowedOrigins)
}

// settings flattens the configuration into the key/value form used both for
// the viper default layer and for the persisted configuration file.
// Durations are written as strings so the file stays human-editable.
func (c RuntimeConfig) settings() map[string]any {
	return map[string]any{
		"port":              c.Port,
		"host":              c.Host,
		"logDir":            c.LogDir,
		"logLevel":          c.LogLevel.String(),
		"maxConnections":    c.MaxConnections,
		"idleTimeout":       c.IdleTimeout.String(),
		"heartbeatInterval": c.HeartbeatInterval.String(),
		"metricsInterval":   c.MetricsInterval.String(),
		"sessionTTL":        c.SessionTTL.String(),
		"adminUsername":     c.AdminUsername,
		"adminPasswordHash": c.AdminPasswordHash,
		"adminEnabled":      c.AdminEnabled,
		"authRequired":      c.AuthRequired,
		"adminRoot":         c.AdminRoot,
		"allowedOrigins":    c.AllowedOrigins,
		"maxMessageSize":    c.MaxMessageSize,
		"sendQueueSize":     c.SendQueueSize,
		"rateLimitBurst":    c.RateLimitBurst,
		"rateLimitInterval": c.RateLimitInterval.String(),
	}
}

// validate rejects values the server cannot start with and falls back to
// defaults for non-positive tuning knobs.
func validate(cfg RuntimeConfig, defaults RuntimeConfig) (RuntimeConfig, error) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return cfg, &ConfigError{Key: "port", Err: fmt.Errorf("port %d out of range", cfg.Port)}
	}
	if cfg.MaxConnections < 1 {
		return cfg, &ConfigError{Key: "maxConnections", Err: fmt.Errorf("must be at least 1, got %d", cfg.MaxConnections)}
	}
	if strings.TrimSpace(cfg.AdminUsername) == "" && cfg.AuthRequired {
		return cfg, &ConfigError{Key: "adminUsername", Err: fmt.Errorf("must not be empty when auth is required")}
	}

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = defaults.MetricsInterval
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaults.SessionTTL
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaults.RateLimitBurst
	}
	if cfg.RateLimitInterval <= 0 {
		cfg.RateLimitInterval = defaults.RateLimitInterval
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaults.LogDir
	}
	if cfg.AdminRoot == "" {
		cfg.AdminRoot = defaults.AdminRoot
	}
	return cfg, nil
}

func parseOrigins(origins string) []string {
	if strings.TrimSpace(origins) == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
