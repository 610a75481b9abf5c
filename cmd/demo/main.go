package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/cachemon/internal/collector"
	"github.com/ChuLiYu/cachemon/internal/simulate"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// printNotifier echoes alert transitions to stdout.
type printNotifier struct{}

func (printNotifier) OnAlertFired(rule types.AlertRule, status types.AlertStatus) {
	fmt.Printf("🚨 FIRED    %-22s %s\n", rule.Name, status.Message)
}

func (printNotifier) OnAlertResolved(rule types.AlertRule, status types.AlertStatus) {
	fmt.Printf("✅ RESOLVED %-22s %s=%.3f (threshold %s %g)\n",
		rule.Name, rule.MetricName, status.CurrentValue, rule.Operator, rule.Threshold)
}

type phase struct {
	name     string
	hitRatio float64
	errRate  float64
	steps    int
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := collector.DefaultConfig()
	cfg.AlertInterval = time.Hour // evaluated explicitly after each phase
	cfg.Logger = logger
	cfg.Notifier = printNotifier{}

	c, err := collector.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create collector: %v", err)
	}
	defer c.Dispose()

	fmt.Printf("✓ Collector started (id: %s)\n", c.ID())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := simulate.New(c, simulate.Config{Keys: 50})
	phases := []phase{
		{"warm cache", 0.95, 0.01, 200},
		{"cache flush", 0.20, 0.10, 400},
		{"recovery", 1.00, 0.00, 2000},
	}

	for _, p := range phases {
		if ctx.Err() != nil {
			fmt.Println("\nReceived shutdown signal, stopping...")
			return
		}

		sim.SetHitRatio(p.hitRatio)
		sim.SetErrorRate(p.errRate)

		done := c.StartProfile(p.name)
		for range p.steps {
			sim.Step()
		}
		profile := done()

		if err := c.EvaluateAlerts(ctx); err != nil {
			log.Fatalf("Alert evaluation failed: %v", err)
		}

		summary := c.GenerateDashboardData().Summary
		fmt.Printf("\n📊 Phase %q (%d lookups, %.1fms):\n", p.name, p.steps, profile.DurationMs)
		fmt.Printf("  Hit Rate:   %.1f%%\n", summary.CurrentHitRate*100)
		fmt.Printf("  Misses:     %.0f\n", summary.TotalCacheMisses)
		fmt.Printf("  API Errors: %.0f\n", summary.TotalErrors)
		fmt.Printf("  Cache Size: %.0f\n", summary.CurrentCacheSize)
		fmt.Printf("  Firing:     %d\n\n", len(c.FiringAlerts()))
	}

	stats := c.Stats()
	fmt.Printf("✓ Done: %d series, %d records retained\n", stats["series"], stats["records"])
}
