// Package config loads crosstx settings from YAML and builds the logger.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crosstx/internal/telemetry"
)

// Config is the full crosstx configuration file.
type Config struct {
	Primary   PrimaryConfig    `yaml:"primary"`
	Log       LogConfig        `yaml:"log"`
	Secondary SecondaryConfig  `yaml:"secondary"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// PrimaryConfig locates the primary SQLite store.
type PrimaryConfig struct {
	Path string `yaml:"path"`
}

// LogConfig locates the transaction log database.
type LogConfig struct {
	Path string `yaml:"path"`
}

// SecondaryConfig describes the Redis replica.
type SecondaryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Primary: PrimaryConfig{Path: "crosstx.db"},
		Log:     LogConfig{Path: "crosstx-log.db"},
		Secondary: SecondaryConfig{
			URL:       "redis://localhost:6379/0",
			KeyPrefix: "crosstx",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Telemetry: telemetry.Config{
			ServiceName:      "crosstx",
			PrometheusPort:   9464,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
// The CROSSTX_REDIS_PASSWORD environment variable overrides the password.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if pw := os.Getenv("CROSSTX_REDIS_PASSWORD"); pw != "" {
		cfg.Secondary.Password = pw
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that required settings are present and well-formed.
func (c Config) Validate() error {
	var errs []error
	if c.Primary.Path == "" {
		errs = append(errs, errors.New("primary.path is required"))
	}
	if c.Log.Path == "" {
		errs = append(errs, errors.New("log.path is required"))
	}
	if c.Primary.Path != "" && c.Primary.Path == c.Log.Path {
		errs = append(errs, errors.New("primary.path and log.path must differ"))
	}
	if c.Secondary.Enabled && c.Secondary.URL == "" {
		errs = append(errs, errors.New("secondary.url is required when the secondary is enabled"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	if c.Telemetry.Enabled && (c.Telemetry.PrometheusPort < 0 || c.Telemetry.PrometheusPort > 65535) {
		errs = append(errs, fmt.Errorf("telemetry.prometheus_port %d out of range", c.Telemetry.PrometheusPort))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level %q must be debug, info, warn or error", s)
	}
}

// NewLogger builds a logger writing to w. verbose forces debug level.
func NewLogger(cfg LoggingConfig, w io.Writer, verbose bool) *slog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
