// Package config loads the gallop server configuration from JSON.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap/zapcore"

	"github.com/yourusername/gallop/pkg/gallop/http11"
)

// Config is the process configuration.
type Config struct {
	// Addr is the TCP address the HTTP listener binds to.
	Addr string `json:"addr"`

	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string `json:"metrics_addr"`

	// RoutesFile is the JSON route table.
	RoutesFile string `json:"routes_file"`

	// WatchRoutes reloads RoutesFile when it changes.
	WatchRoutes bool `json:"watch_routes"`

	// ReadTimeout bounds reading one request head.
	ReadTimeout Duration `json:"read_timeout"`

	// WriteTimeout bounds writing one response.
	WriteTimeout Duration `json:"write_timeout"`

	// ShutdownTimeout bounds the graceful drain on exit.
	ShutdownTimeout Duration `json:"shutdown_timeout"`

	// ReadBufferSize is the size of each socket read.
	ReadBufferSize int `json:"read_buffer_size"`

	// MaxConns caps concurrent connections. Zero means unlimited.
	MaxConns int `json:"max_conns"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// Development switches to the human-readable console logger.
	Development bool `json:"development"`

	// Limits are the request-head size limits. Zero fields use defaults.
	Limits http11.Limits `json:"limits"`
}

// Duration is a time.Duration that reads and writes as a string like "30s".
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("config: invalid duration %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration.
func Default() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     Duration(30 * time.Second),
		WriteTimeout:    Duration(30 * time.Second),
		ShutdownTimeout: Duration(10 * time.Second),
		ReadBufferSize:  4096,
		LogLevel:        "info",
		Limits:          http11.DefaultLimits(),
	}
}

// Load reads path over the defaults and validates the result. Unknown
// fields are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.Limits = cfg.Limits.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("config: addr is required"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("config: timeouts must not be negative"))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("config: read_buffer_size must be positive, got %d", c.ReadBufferSize))
	}
	if c.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("config: max_conns must not be negative, got %d", c.MaxConns))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("config: log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, or info if it does not parse.
func (c Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
