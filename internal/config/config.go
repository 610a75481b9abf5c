// ============================================================================
// cachemon Config - YAML configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Loads and validates the YAML file consumed by the cachemon CLI
//
// Sections:
//   - store:      retention window and per-metric record cap
//   - alerts:     evaluation interval and extra rules
//   - export:     periodic export sink (console, local-storage, redis)
//   - telemetry:  Prometheus /metrics endpoint
//   - log:        slog level and format
//   - simulation: synthetic cache workload for `run --simulate`
//
// Missing keys keep their Default() values, so a partial file is valid.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ChuLiYu/cachemon/internal/alert"
	"github.com/ChuLiYu/cachemon/pkg/types"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Config represents the complete configuration file.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Export     ExportConfig     `yaml:"export"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// StoreConfig bounds the in-memory history.
type StoreConfig struct {
	MaxMetrics int           `yaml:"max_metrics"`
	Retention  time.Duration `yaml:"retention"`
}

// AlertsConfig drives the alert evaluation job.
type AlertsConfig struct {
	Interval        time.Duration     `yaml:"interval"`
	DisableDefaults bool              `yaml:"disable_defaults"`
	Rules           []types.AlertRule `yaml:"rules"`
}

// ExportConfig enables the periodic export. The sink fields are shared with
// the export package.
type ExportConfig struct {
	Enabled            bool `yaml:"enabled"`
	types.ExportConfig `yaml:",inline"`
}

// TelemetryConfig controls the Prometheus endpoint.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SimulationConfig shapes the synthetic workload.
type SimulationConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Keys      int           `yaml:"keys"`
	HitRatio  float64       `yaml:"hit_ratio"`
	ErrorRate float64       `yaml:"error_rate"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			MaxMetrics: 1000,
			Retention:  24 * time.Hour,
		},
		Alerts: AlertsConfig{
			Interval: 30 * time.Second,
		},
		Export: ExportConfig{
			ExportConfig: types.ExportConfig{
				ExportType:       types.ExportConsole,
				ExportIntervalMs: 60_000,
				BatchSize:        100,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Port:    9090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Simulation: SimulationConfig{
			Interval:  100 * time.Millisecond,
			Keys:      50,
			HitRatio:  0.85,
			ErrorRate: 0.02,
		},
	}
}

// Load reads path on top of Default() and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and rule definitions.
func (c Config) Validate() error {
	if c.Store.MaxMetrics < 0 {
		return fmt.Errorf("%w: store.max_metrics must not be negative", ErrInvalidConfig)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("%w: store.retention must not be negative", ErrInvalidConfig)
	}
	if c.Alerts.Interval <= 0 {
		return fmt.Errorf("%w: alerts.interval must be positive", ErrInvalidConfig)
	}
	for _, r := range c.Alerts.Rules {
		if err := alert.Validate(r); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if c.Export.Enabled {
		switch c.Export.ExportType {
		case types.ExportConsole, types.ExportLocalStorage, types.ExportRedis:
		default:
			return fmt.Errorf("%w: export.type %q", ErrInvalidConfig, c.Export.ExportType)
		}
	}

	if c.Telemetry.Enabled && (c.Telemetry.Port <= 0 || c.Telemetry.Port > 65535) {
		return fmt.Errorf("%w: telemetry.port %d out of range", ErrInvalidConfig, c.Telemetry.Port)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}

	if r := c.Simulation.HitRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: simulation.hit_ratio %v not in [0,1]", ErrInvalidConfig, r)
	}
	if r := c.Simulation.ErrorRate; r < 0 || r > 1 {
		return fmt.Errorf("%w: simulation.error_rate %v not in [0,1]", ErrInvalidConfig, r)
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: log.level %q", ErrInvalidConfig, l.Level)
}

// NewLogger builds a slog.Logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
