// Package config provides configuration loading and validation for the
// Waypoint servers. It uses koanf to merge environment variables with
// optional file overrides; environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API and realtime servers.
type Config struct {
	// Server settings
	APIPort int    `koanf:"api_port"`
	WSPort  int    `koanf:"ws_port"`
	Env     string `koanf:"env"`

	// Public URLs used when building join links and stream URLs.
	BaseURL   string `koanf:"base_url"`
	BaseWSURL string `koanf:"base_ws_url"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication
	JWTSecret string `koanf:"jwt_secret"`

	// CORS
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingRedisURL    = errors.New("REDIS_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrShortJWTSecret     = errors.New("JWT_SECRET must be at least 32 characters")
	ErrInvalidPort        = errors.New("port must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultAPIPort      = 8080
	DefaultWSPort       = 8081
	DefaultEnv          = "development"
	DefaultBaseURL      = "http://localhost:8080"
	DefaultBaseWSURL    = "ws://localhost:8081"
	DefaultSamplingRate = 0.1

	// MinJWTSecretLen is the minimum accepted secret length for HMAC signing.
	MinJWTSecretLen = 32
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error
// is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// RUST_API_PORT / RUST_WS_PORT are recognized for compatibility with the
	// original deployment; the unprefixed names take precedence.
	apiPort, apiPortErr := getEnvIntOrDefaultMulti([]string{"API_PORT", "RUST_API_PORT", "PORT"}, k.Int("api_port"), DefaultAPIPort)
	if apiPortErr != nil {
		loadErrs = append(loadErrs, apiPortErr)
	}

	wsPort, wsPortErr := getEnvIntOrDefaultMulti([]string{"WS_PORT", "RUST_WS_PORT"}, k.Int("ws_port"), DefaultWSPort)
	if wsPortErr != nil {
		loadErrs = append(loadErrs, wsPortErr)
	}

	tracingEnabled := false
	if k.Exists("tracing_enabled") {
		tracingEnabled = k.Bool("tracing_enabled")
	}
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			tracingEnabled = true
		case "false", "0", "no", "off":
			tracingEnabled = false
		}
	}

	samplingRate, samplingErr := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultSamplingRate)
	if samplingErr != nil {
		loadErrs = append(loadErrs, samplingErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		APIPort:             apiPort,
		WSPort:              wsPort,
		Env:                 getEnvOrDefaultMulti([]string{"WAYPOINT_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		BaseURL:             getEnvOrDefault("BASE_URL", k.String("base_url"), DefaultBaseURL),
		BaseWSURL:           getEnvOrDefault("BASE_WS_URL", k.String("base_ws_url"), DefaultBaseWSURL),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:            getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:           getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		CORSAllowedOrigins:  getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		TracingEnabled:      tracingEnabled,
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), "otlp-http"),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvListOrKoanf returns a comma-separated environment variable as a list
// if set, otherwise the koanf list value.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisURL == "" {
		errs = append(errs, ErrMissingRedisURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	} else if len(c.JWTSecret) < MinJWTSecretLen {
		errs = append(errs, ErrShortJWTSecret)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"api_port":              fmt.Sprintf("%d", c.APIPort),
		"ws_port":               fmt.Sprintf("%d", c.WSPort),
		"env":                   c.Env,
		"base_url":              c.BaseURL,
		"base_ws_url":           c.BaseWSURL,
		"database_url":          maskConnURL(c.DatabaseURL),
		"redis_url":             maskConnURL(c.RedisURL),
		"jwt_secret":            maskSecret(c.JWTSecret),
		"cors_allowed_origins":  strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":       fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":      c.TracingExporter,
		"tracing_otlp_endpoint": c.TracingOTLPEndpoint,
		"tracing_sampling_rate": fmt.Sprintf("%g", c.TracingSamplingRate),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskConnURL masks the password in a connection URL.
// Supports postgres://, postgresql:// and redis:// schemes.
func maskConnURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
