// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the layered server configuration: built-in defaults,
// an optional YAML or JSON file, and A2A_ environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. A2A_SERVER_HTTPADDR.
const EnvPrefix = "A2A"

// Config is the typed server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Push      PushConfig      `mapstructure:"push"`
	Retention RetentionConfig `mapstructure:"retention"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Agent     AgentConfig     `mapstructure:"agent"`
}

type ServerConfig struct {
	HTTPAddr     string  `mapstructure:"httpAddr"`
	GRPCAddr     string  `mapstructure:"grpcAddr"`
	MaxBodyBytes int64   `mapstructure:"maxBodyBytes"`
	RateLimit    float64 `mapstructure:"rateLimit"`
	RateBurst    int     `mapstructure:"rateBurst"`
}

type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	CacheSize int    `mapstructure:"cacheSize"`
}

type StreamConfig struct {
	BufferSize     int           `mapstructure:"bufferSize"`
	MaxSubscribers int           `mapstructure:"maxSubscribers"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	Grace          time.Duration `mapstructure:"grace"`
	// Overflow is "drop-oldest" or "disconnect".
	Overflow string `mapstructure:"overflow"`
}

type PushConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
	QueueSize      int           `mapstructure:"queueSize"`
}

type RetentionConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

type AuthConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	HMACSecret string `mapstructure:"hmacSecret"`
	Issuer     string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AgentConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	URL         string `mapstructure:"url"`
	Version     string `mapstructure:"version"`
}

// defaults lists every key with its default. Keys without a default are not
// picked up from the environment.
var defaults = map[string]any{
	"server.httpAddr":         ":8080",
	"server.grpcAddr":         ":9090",
	"server.maxBodyBytes":     4 << 20,
	"server.rateLimit":        0.0,
	"server.rateBurst":        20,
	"store.driver":            "memory",
	"store.dsn":               "",
	"store.cacheSize":         0,
	"stream.bufferSize":       64,
	"stream.maxSubscribers":   32,
	"stream.heartbeat":        "20s",
	"stream.grace":            "30s",
	"stream.overflow":         "drop-oldest",
	"push.enabled":            true,
	"push.maxAttempts":        5,
	"push.initialBackoff":     "500ms",
	"push.maxBackoff":         "30s",
	"push.timeout":            "10s",
	"push.queueSize":          256,
	"retention.window":        "24h",
	"retention.sweepInterval": "1m",
	"auth.enabled":            false,
	"auth.hmacSecret":         "",
	"auth.issuer":             "",
	"log.level":               "info",
	"log.format":              "text",
	"agent.name":              "a2a-server",
	"agent.description":       "",
	"agent.url":               "",
	"agent.version":           "",
}

// NewViper returns a viper instance carrying the defaults and reading
// A2A_-prefixed environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v and decodes the
// result. An empty path skips the file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration built from defaults and the
// environment only.
func Default() (*Config, error) {
	return Load(NewViper(), "")
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite", c.Store.Driver))
	}
	switch c.Stream.Overflow {
	case "drop-oldest", "disconnect":
	default:
		errs = append(errs, fmt.Errorf("stream.overflow %q is not one of drop-oldest, disconnect", c.Stream.Overflow))
	}
	if c.Stream.BufferSize <= 0 {
		errs = append(errs, errors.New("stream.bufferSize must be positive"))
	}
	if c.Stream.MaxSubscribers <= 0 {
		errs = append(errs, errors.New("stream.maxSubscribers must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.maxBodyBytes must be positive"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rateLimit must not be negative"))
	}
	if c.Push.Enabled && c.Push.MaxAttempts <= 0 {
		errs = append(errs, errors.New("push.maxAttempts must be positive"))
	}
	if c.Retention.Window < 0 {
		errs = append(errs, errors.New("retention.window must not be negative"))
	}
	if c.Retention.Window > 0 && c.Retention.SweepInterval <= 0 {
		errs = append(errs, errors.New("retention.sweepInterval must be positive"))
	}
	if c.Auth.Enabled && c.Auth.HMACSecret == "" {
		errs = append(errs, errors.New("auth.hmacSecret is required when auth is enabled"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Level, err)
	}
	return level, nil
}
