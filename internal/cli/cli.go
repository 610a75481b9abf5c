// ============================================================================
// cachemon CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra commands wrapping the in-process collector
//
// Command Structure:
//   cachemon                       # Root command
//   ├── run                        # Start collector, HTTP endpoints, optional workload
//   │   ├── --simulate            # Drive a synthetic cache workload
//   │   └── --metrics-port        # Override telemetry.port
//   ├── dashboard                  # Simulate traffic, print a colored dashboard
//   │   └── --steps               # Number of simulated lookups
//   ├── export                     # Simulate traffic, write one export snapshot
//   │   ├── --steps
//   │   ├── --out, -o             # Output file ("-" for stdout)
//   │   └── --compress            # gzip the snapshot
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --version
//
// run Command:
//   1. Load config file
//   2. Create Collector (alert evaluation starts immediately)
//   3. Configure export (if enabled)
//   4. Serve /metrics, /dashboard and /export (if telemetry enabled)
//   5. Start simulated workload (if --simulate)
//   6. Wait for SIGINT / SIGTERM, then dispose
//
// Configuration:
//   A missing file at the default path falls back to built-in defaults; an
//   explicitly passed path must exist.
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/cachemon/internal/collector"
	"github.com/ChuLiYu/cachemon/internal/config"
	"github.com/ChuLiYu/cachemon/internal/export"
	"github.com/ChuLiYu/cachemon/internal/simulate"
	"github.com/ChuLiYu/cachemon/internal/telemetry"
	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/default.yaml"

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cachemon",
		Short: "cachemon: in-process metrics and alerting for client-side caches",
		Long: `cachemon records cache and API metrics in memory with:
- counters, gauges, histograms and timers
- time-bucketed aggregation and percentiles
- threshold alerts with fire/resolve notifications
- periodic JSON export and Prometheus self-telemetry`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigPath, "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildDashboardCommand())
	rootCmd.AddCommand(buildExportCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

type runOptions struct {
	simulate    bool
	metricsPort int
}

func buildRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the collector and its HTTP endpoints",
		Long:  "Start the collector, serve /metrics, /dashboard and /export, and optionally drive a simulated cache workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if opts.metricsPort > 0 {
				cfg.Telemetry.Enabled = true
				cfg.Telemetry.Port = opts.metricsPort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSystem(ctx, cfg, opts, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "drive a simulated cache workload")
	cmd.Flags().IntVar(&opts.metricsPort, "metrics-port", 0, "override telemetry.port (enables telemetry)")

	return cmd
}

// runSystem blocks until ctx is cancelled.
func runSystem(ctx context.Context, cfg *config.Config, opts runOptions, logOut io.Writer) error {
	logger, err := cfg.Log.NewLogger(logOut)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := newCollector(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer c.Dispose()

	if cfg.Export.Enabled {
		if err := c.ConfigureExport(cfg.Export.ExportConfig, nil); err != nil {
			return fmt.Errorf("failed to configure export: %w", err)
		}
	}

	var srv *http.Server
	if cfg.Telemetry.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Telemetry.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", cfg.Telemetry.Port, err)
		}
		srv = &http.Server{Handler: newMux(c, reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "error", err)
			}
		}()
		logger.Info("Serving HTTP endpoints", "addr", lis.Addr().String())
	}

	if opts.simulate {
		sim := simulate.New(c, simulate.Config{
			Keys:      cfg.Simulation.Keys,
			HitRatio:  cfg.Simulation.HitRatio,
			ErrorRate: cfg.Simulation.ErrorRate,
		})
		go sim.Run(ctx, cfg.Simulation.Interval)
		logger.Info("Simulated workload started", "interval", cfg.Simulation.Interval)
	}

	logger.Info("System started successfully", "collector", c.ID())
	<-ctx.Done()
	logger.Info("Received shutdown signal, stopping gracefully...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", "error", err)
		}
	}
	if cfg.Export.Enabled {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.FlushExport(flushCtx); err != nil {
			logger.Warn("Final export failed", "error", err)
		}
	}

	logger.Info("System stopped. Goodbye!")
	return nil
}

func newMux(c *collector.Collector, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(reg))
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.GenerateDashboardData()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		body, err := c.ExportMetrics()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
	return mux
}

// ============================================================================
// dashboard / export
// ============================================================================

func buildDashboardCommand() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Simulate cache traffic and print the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			c, err := simulated(cmd.Context(), cfg, steps, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Dispose()

			renderDashboard(cmd.OutOrStdout(), c.GenerateDashboardData())
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1000, "number of simulated cache lookups")
	return cmd
}

func buildExportCommand() *cobra.Command {
	var steps int
	var out string
	var compress bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Simulate cache traffic and write one export snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			c, err := simulated(cmd.Context(), cfg, steps, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Dispose()

			return writeExport(cmd.Context(), c, out, compress, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1000, "number of simulated cache lookups")
	cmd.Flags().StringVarP(&out, "out", "o", "-", `output file ("-" for stdout)`)
	cmd.Flags().BoolVar(&compress, "compress", false, "gzip the snapshot")
	return cmd
}

func writeExport(ctx context.Context, c *collector.Collector, out string, compress bool, stdout io.Writer) error {
	if out == "-" {
		if compress {
			return errors.New("--compress requires --out")
		}
		body, err := c.ExportMetrics()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, body)
		return err
	}

	sink := export.NewFileSink(out, compress)
	err := c.ConfigureExport(types.ExportConfig{
		ExportType:  types.ExportLocalStorage,
		Compression: compress,
		Path:        out,
	}, sink)
	if err == nil {
		err = c.FlushExport(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(stdout, "Export written to %s\n", sink.Path())
	return nil
}

// simulated builds a quiet collector and feeds it steps lookups.
func simulated(ctx context.Context, cfg *config.Config, steps int, logOut io.Writer) (*collector.Collector, error) {
	logCfg := cfg.Log
	logCfg.Level = "warn"
	logger, err := logCfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}

	c, err := newCollector(cfg, logger, nil)
	if err != nil {
		return nil, err
	}

	sim := simulate.New(c, simulate.Config{
		Keys:      cfg.Simulation.Keys,
		HitRatio:  cfg.Simulation.HitRatio,
		ErrorRate: cfg.Simulation.ErrorRate,
	})
	for range steps {
		sim.Step()
	}
	if err := c.EvaluateAlerts(ctx); err != nil {
		c.Dispose()
		return nil, err
	}
	return c, nil
}

func newCollector(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*collector.Collector, error) {
	ccfg := collector.DefaultConfig()
	ccfg.MaxMetrics = cfg.Store.MaxMetrics
	ccfg.Retention = cfg.Store.Retention
	ccfg.AlertInterval = cfg.Alerts.Interval
	ccfg.DisableDefaultRules = cfg.Alerts.DisableDefaults
	ccfg.Rules = cfg.Alerts.Rules
	ccfg.Logger = logger
	ccfg.Registerer = reg

	c, err := collector.New(ccfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create collector: %w", err)
	}
	return c, nil
}

func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := config.Default()
			return &cfg, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
