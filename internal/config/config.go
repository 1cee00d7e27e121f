// Package config manages the gossp daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables. No field here
// configures a wire-protocol constant: every SSP timing and size value is
// fixed, so this package only ever configures the ambient concerns around
// the protocol: addressing, logging, metrics exposure, and the client's
// local prediction preference.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gossp configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Client  ClientConfig  `koanf:"client"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// ServerConfig holds the listening-side configuration (§4.2: bind port in
// [PortMin, PortMax] preferring BindAddr, then any address).
type ServerConfig struct {
	// BindAddr is the preferred local IP to bind to; empty means any.
	BindAddr string `koanf:"bind_addr"`
	// PortMin is the lowest UDP port the server will try to bind.
	PortMin int `koanf:"port_min"`
	// PortMax is the highest UDP port the server will try to bind.
	PortMax int `koanf:"port_max"`
}

// ClientConfig holds the connecting-side configuration.
type ClientConfig struct {
	// PredictionMode selects the local-echo prediction preference: "always",
	// "never", or "adaptive" (§6.1). The GOSSP_PREDICTION_MODE environment
	// variable the client reads takes precedence over it.
	PredictionMode string `koanf:"prediction_mode"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// Default server bind port range (§4.2).
const (
	DefaultPortMin = 60001
	DefaultPortMax = 60999
)

// DefaultPredictionMode is the client's out-of-the-box prediction
// preference (§6.1: "the default is adaptive").
const DefaultPredictionMode = "adaptive"

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			PortMin: DefaultPortMin,
			PortMax: DefaultPortMax,
		},
		Client: ClientConfig{
			PredictionMode: DefaultPredictionMode,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gossp configuration.
// Variables are named GOSSP_<section>_<key>, e.g., GOSSP_SERVER_PORT_MIN.
const envPrefix = "GOSSP_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOSSP_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOSSP_SERVER_PORT_MIN -> server.port_min.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// Only the first underscore separates the section from the key; the
	// rest belong to the key itself (port_min, prediction_mode).
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.bind_addr":      defaults.Server.BindAddr,
		"server.port_min":       defaults.Server.PortMin,
		"server.port_max":       defaults.Server.PortMax,
		"client.prediction_mode": defaults.Client.PredictionMode,
		"metrics.addr":          defaults.Metrics.Addr,
		"metrics.path":          defaults.Metrics.Path,
		"log.level":             defaults.Log.Level,
		"log.format":            defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidPortRange indicates the server port range is malformed.
	ErrInvalidPortRange = errors.New("server.port_min must be > 0 and <= server.port_max <= 65535")

	// ErrInvalidPredictionMode indicates an unrecognized prediction mode.
	ErrInvalidPredictionMode = errors.New("client.prediction_mode must be always, never, or adaptive")
)

// ValidPredictionModes lists the recognized prediction mode strings.
var ValidPredictionModes = map[string]bool{
	"always":   true,
	"never":    true,
	"adaptive": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Server.PortMin <= 0 || cfg.Server.PortMin > cfg.Server.PortMax || cfg.Server.PortMax > 65535 {
		return ErrInvalidPortRange
	}

	if !ValidPredictionModes[cfg.Client.PredictionMode] {
		return fmt.Errorf("prediction_mode %q: %w", cfg.Client.PredictionMode, ErrInvalidPredictionMode)
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PredictionModeFromEnv maps the GOSSP_PREDICTION_MODE environment variable
// value (§6.1: "always"/"never"/"adaptive") onto a validated mode string,
// falling back to cfg's configured default for anything unrecognized.
func PredictionModeFromEnv(envValue string, fallback string) string {
	if ValidPredictionModes[envValue] {
		return envValue
	}
	return fallback
}
