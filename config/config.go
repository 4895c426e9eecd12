// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Built-in remote authority endpoints used when none are configured.
const (
	DefaultUserURI = "http://localhost:5555/api/v1/validUser"
	DefaultACLURI  = "http://localhost:5555/api/v1/validACL"
)

// Request ID formats.
const (
	RequestIDRandom = "random"
	RequestIDUUID   = "uuid"
)

// Config holds all configuration for the HTTP auth delegate.
type Config struct {
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AuthConfig holds the remote authority settings.
type AuthConfig struct {
	UserURI   string        `yaml:"user_uri"`
	ACLURI    string        `yaml:"acl_uri"`
	Timeout   time.Duration `yaml:"timeout"`
	RequestID string        `yaml:"request_id"` // random, uuid
	UserAgent string        `yaml:"user_agent"`

	// UnsafeDebug logs full request payloads, credentials included.
	UnsafeDebug bool `yaml:"unsafe_debug"`

	// Server certificate verification for https authorities. Empty values
	// use system defaults.
	TLSCAFile             string `yaml:"tls_ca_file"`
	TLSServerName         string `yaml:"tls_server_name"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
// A zero FailureThreshold disables the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// RateLimitConfig caps the number of authority calls per username (credential
// checks) and per client ID (access checks).
//
// The username key is charged before the authority has verified anything, so
// any client that knows a username can spend its budget with bad passwords
// and lock the real user out until the bucket refills. Keep Burst well above
// the legitimate reconnect rate, or leave the limiter disabled where
// usernames are guessable.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"`  // calls per second per key
	Burst           int           `yaml:"burst"` // burst allowance
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ServerConfig holds the operational HTTP server configuration.
type ServerConfig struct {
	HealthEnabled   bool          `yaml:"health_enabled"`
	HealthAddr      string        `yaml:"health_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC collector
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			UserURI:   DefaultUserURI,
			ACLURI:    DefaultACLURI,
			Timeout:   5 * time.Second,
			RequestID: RequestIDRandom,
			UserAgent: "FluxMQ-AuthHTTP/1.0",
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
			RateLimit: RateLimitConfig{
				Enabled:         false,
				Rate:            10,
				Burst:           20,
				CleanupInterval: 5 * time.Minute,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			HealthEnabled:   true,
			HealthAddr:      ":8081",
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			ServiceName:     "fluxmq-authhttp",
			ServiceVersion:  "1.0.0",
			TracesEnabled:   false,
			MetricsEnabled:  true,
			TraceSampleRate: 0.1,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Unset endpoints fall back to the built-in ones.
	if cfg.Auth.UserURI == "" {
		cfg.Auth.UserURI = DefaultUserURI
	}
	if cfg.Auth.ACLURI == "" {
		cfg.Auth.ACLURI = DefaultACLURI
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Auth.Validate(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Server.HealthEnabled {
		if c.Server.HealthAddr == "" {
			return fmt.Errorf("server.health_addr required when health server is enabled")
		}
		if c.Server.ShutdownTimeout < time.Second {
			return fmt.Errorf("server.shutdown_timeout must be at least 1 second")
		}
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.TraceSampleRate < 0.0 || c.Telemetry.TraceSampleRate > 1.0 {
			return fmt.Errorf("telemetry.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	return nil
}

// Validate checks the remote authority settings.
func (a AuthConfig) Validate() error {
	if err := validateURI("auth.user_uri", a.UserURI); err != nil {
		return err
	}
	if err := validateURI("auth.acl_uri", a.ACLURI); err != nil {
		return err
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("auth.timeout must be positive")
	}
	if a.RequestID != RequestIDRandom && a.RequestID != RequestIDUUID {
		return fmt.Errorf("auth.request_id must be one of: random, uuid")
	}
	if a.CircuitBreaker.FailureThreshold < 0 {
		return fmt.Errorf("auth.circuit_breaker.failure_threshold cannot be negative")
	}
	if a.CircuitBreaker.FailureThreshold > 0 && a.CircuitBreaker.ResetTimeout < time.Second {
		return fmt.Errorf("auth.circuit_breaker.reset_timeout must be at least 1 second")
	}
	if a.RateLimit.Enabled {
		if a.RateLimit.Rate <= 0 {
			return fmt.Errorf("auth.rate_limit.rate must be positive")
		}
		if a.RateLimit.Burst < 1 {
			return fmt.Errorf("auth.rate_limit.burst must be at least 1")
		}
		if a.RateLimit.CleanupInterval <= 0 {
			return fmt.Errorf("auth.rate_limit.cleanup_interval must be positive")
		}
	}
	return nil
}

func validateURI(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

// Broker plugin option keys understood by ApplyOptions.
const (
	OptionUserURI     = "http_user_uri"
	OptionACLURI      = "http_acl_uri"
	OptionTimeout     = "http_timeout"
	OptionUnsafeDebug = "http_unsafe_debug"
)

// ApplyOptions overrides auth settings with broker plugin options
// (auth_opt_* lines in the broker configuration). Unknown keys are ignored
// and empty values keep the current setting.
func (a *AuthConfig) ApplyOptions(opts map[string]string) error {
	for key, value := range opts {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case OptionUserURI:
			a.UserURI = value
		case OptionACLURI:
			a.ACLURI = value
		case OptionTimeout:
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			a.Timeout = d
		case OptionUnsafeDebug:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			a.UnsafeDebug = b
		}
	}
	return a.Validate()
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
