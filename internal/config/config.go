// Package config provides configuration management for the docstore client
// and the fake document store.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultServerURL       = "http://localhost:8080"
	DefaultDatabase        = "default"
	DefaultLogLevel        = "info"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultFakeStorePort   = 8080
	DefaultFakeStoreMode   = "secured"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsEnabled  = true
)

// Environment variable names.
const (
	EnvConfigFile       = "DOCSTORE_CONFIG_FILE"
	EnvServerURL        = "DOCSTORE_SERVER_URL"
	EnvDatabase         = "DOCSTORE_DATABASE"
	EnvAPIKey           = "DOCSTORE_API_KEY" //nolint:gosec // env var name, not a credential
	EnvNativeDomain     = "DOCSTORE_NATIVE_DOMAIN"
	EnvNativeUsername   = "DOCSTORE_NATIVE_USERNAME"
	EnvNativePassword   = "DOCSTORE_NATIVE_PASSWORD" //nolint:gosec // env var name, not a credential
	EnvRequestTimeout   = "DOCSTORE_REQUEST_TIMEOUT"
	EnvLogLevel         = "DOCSTORE_LOG_LEVEL"
	EnvFakeStorePort    = "DOCSTORE_FAKESTORE_PORT"
	EnvFakeStoreMode    = "DOCSTORE_FAKESTORE_MODE"
	EnvFakeStoreAPIKeys = "DOCSTORE_FAKESTORE_API_KEYS" //nolint:gosec // env var name, not a credential
	EnvShutdownTimeout  = "DOCSTORE_SHUTDOWN_TIMEOUT"
	EnvMetricsEnabled   = "DOCSTORE_METRICS_ENABLED"
)

// Fake store challenge modes.
const (
	ModeOpen             = "open"
	ModeSecured          = "secured"
	ModeLegacy           = "legacy"
	ModeWindows          = "windows"
	ModeWindowsForbidden = "windows-forbidden"
	ModeBasicOnly        = "basic-only"
)

// Config holds the application configuration.
type Config struct {
	// Client settings.
	ServerURL      string        `yaml:"server_url"`
	Database       string        `yaml:"database"`
	APIKey         string        `yaml:"api_key"`
	NativeDomain   string        `yaml:"native_domain"`
	NativeUsername string        `yaml:"native_username"`
	NativePassword string        `yaml:"native_password"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`

	// Fake store settings.
	FakeStorePort int    `yaml:"fakestore_port"`
	FakeStoreMode string `yaml:"fakestore_mode"`
	// API keys accepted by the fake store (format: "name1:bcrypt_hash,name2:bcrypt_hash").
	FakeStoreAPIKeys string        `yaml:"fakestore_api_keys"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsEnabled   bool          `yaml:"metrics_enabled"`
}

// Validation errors.
var (
	ErrInvalidServerURL      = errors.New("server URL must be an absolute http or https URL")
	ErrInvalidDatabase       = errors.New("database name must not be empty")
	ErrInvalidAPIKey         = errors.New("API key must have the form name/secret")
	ErrInvalidNativeConfig   = errors.New("native username must be set when a native domain or password is set")
	ErrInvalidRequestTimeout = errors.New("request timeout must be positive")
	ErrInvalidLogLevel       = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidFakeStorePort  = errors.New("fake store port must be between 1 and 65535")
	ErrInvalidFakeStoreMode  = errors.New(
		"fake store mode must be one of: open, secured, legacy, windows, windows-forbidden, basic-only",
	)
	ErrInvalidFakeStoreKeys = errors.New(
		"fake store API keys must be set when the mode is secured or legacy",
	)
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// defaults returns a Config populated with default values.
func defaults() *Config {
	return &Config{
		ServerURL:       DefaultServerURL,
		Database:        DefaultDatabase,
		LogLevel:        DefaultLogLevel,
		RequestTimeout:  DefaultRequestTimeout,
		FakeStorePort:   DefaultFakeStorePort,
		FakeStoreMode:   DefaultFakeStoreMode,
		ShutdownTimeout: DefaultShutdownTimeout,
		MetricsEnabled:  DefaultMetricsEnabled,
	}
}

// Load reads configuration from the optional YAML file named by
// DOCSTORE_CONFIG_FILE and then from environment variables, which take
// priority over both the file and the defaults. Only client settings are
// validated; call ValidateFakeStore before serving.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays values from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration values from environment variables.
func (c *Config) loadFromEnv() error {
	if err := c.loadClientEnv(); err != nil {
		return err
	}

	if err := c.loadFakeStoreEnv(); err != nil {
		return err
	}

	return nil
}

// loadClientEnv loads client-related environment variables.
func (c *Config) loadClientEnv() error {
	if val := os.Getenv(EnvServerURL); val != "" {
		c.ServerURL = val
	}

	if val := os.Getenv(EnvDatabase); val != "" {
		c.Database = val
	}

	if val := os.Getenv(EnvAPIKey); val != "" {
		c.APIKey = val
	}

	if val := os.Getenv(EnvNativeDomain); val != "" {
		c.NativeDomain = val
	}

	if val := os.Getenv(EnvNativeUsername); val != "" {
		c.NativeUsername = val
	}

	if val := os.Getenv(EnvNativePassword); val != "" {
		c.NativePassword = val
	}

	if val := os.Getenv(EnvRequestTimeout); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvRequestTimeout, err)
		}
		c.RequestTimeout = timeout
	}

	if val := os.Getenv(EnvLogLevel); val != "" {
		c.LogLevel = val
	}

	return nil
}

// loadFakeStoreEnv loads fake store environment variables.
func (c *Config) loadFakeStoreEnv() error {
	if val := os.Getenv(EnvFakeStorePort); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvFakeStorePort, err)
		}
		c.FakeStorePort = port
	}

	if val := os.Getenv(EnvFakeStoreMode); val != "" {
		c.FakeStoreMode = val
	}

	if val := os.Getenv(EnvFakeStoreAPIKeys); val != "" {
		c.FakeStoreAPIKeys = val
	}

	if val := os.Getenv(EnvShutdownTimeout); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvShutdownTimeout, err)
		}
		c.ShutdownTimeout = timeout
	}

	if val := os.Getenv(EnvMetricsEnabled); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvMetricsEnabled, err)
		}
		c.MetricsEnabled = enabled
	}

	return nil
}

// Validate checks the client settings.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidServerURL
	}

	if strings.TrimSpace(c.Database) == "" {
		return ErrInvalidDatabase
	}

	if c.APIKey != "" {
		name, secret, ok := strings.Cut(c.APIKey, "/")
		if !ok || name == "" || secret == "" {
			return ErrInvalidAPIKey
		}
	}

	if c.NativeUsername == "" && (c.NativeDomain != "" || c.NativePassword != "") {
		return ErrInvalidNativeConfig
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return ErrInvalidLogLevel
	}

	return nil
}

// ValidateFakeStore checks the fake store settings.
func (c *Config) ValidateFakeStore() error {
	if c.FakeStorePort < 1 || c.FakeStorePort > 65535 {
		return ErrInvalidFakeStorePort
	}

	switch c.FakeStoreMode {
	case ModeOpen, ModeWindows, ModeWindowsForbidden, ModeBasicOnly:
	case ModeSecured, ModeLegacy:
		if strings.TrimSpace(c.FakeStoreAPIKeys) == "" {
			return ErrInvalidFakeStoreKeys
		}
	default:
		return ErrInvalidFakeStoreMode
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	return nil
}

// HasNativeCredential reports whether a native credential is configured.
func (c *Config) HasNativeCredential() bool {
	return c.NativeUsername != ""
}

// FakeStoreAddress returns the fake store address in host:port format.
func (c *Config) FakeStoreAddress() string {
	return fmt.Sprintf(":%d", c.FakeStorePort)
}
