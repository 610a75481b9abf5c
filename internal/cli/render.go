package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/fatih/color"
)

const sparkBars = "▁▂▃▄▅▆▇█"

// renderDashboard prints the dashboard in the same tree layout as the
// status output: summary, one line per chart, then alerts.
func renderDashboard(w io.Writer, d types.DashboardData) {
	headerColor := color.New(color.FgCyan, color.Bold)
	labelColor := color.New(color.FgWhite, color.Bold)
	okColor := color.New(color.FgGreen)
	warnColor := color.New(color.FgYellow)
	firingColor := color.New(color.FgRed, color.Bold)

	fmt.Fprintln(w)
	headerColor.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	headerColor.Fprintln(w, "║           cachemon Dashboard                              ║")
	headerColor.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintf(w, "Generated at %s\n\n", time.UnixMilli(d.GeneratedAt).Format(time.RFC3339))

	s := d.Summary
	hitColor := okColor
	if s.CurrentHitRate < 0.8 {
		hitColor = warnColor
	}
	labelColor.Fprintln(w, "📊 Summary:")
	fmt.Fprintf(w, "  ├─ Cache Hits:      %.0f\n", s.TotalCacheHits)
	fmt.Fprintf(w, "  ├─ Cache Misses:    %.0f\n", s.TotalCacheMisses)
	fmt.Fprintf(w, "  ├─ Hit Rate:        %s\n", hitColor.Sprintf("%.1f%%", s.CurrentHitRate*100))
	fmt.Fprintf(w, "  ├─ Cache Size:      %.0f entries\n", s.CurrentCacheSize)
	fmt.Fprintf(w, "  ├─ Active Requests: %.0f\n", s.ActiveRequests)
	fmt.Fprintf(w, "  └─ API Errors:      %.0f\n", s.TotalErrors)
	fmt.Fprintln(w)

	labelColor.Fprintln(w, "📈 Last Hour:")
	charts := []struct {
		label string
		data  types.AggregatedMetrics
		unit  string
	}{
		{"Hit Rate", d.Charts.HitRate, ""},
		{"Response Time", d.Charts.ResponseTime, "ms"},
		{"API Errors", d.Charts.ErrorRate, ""},
		{"Cache Size", d.Charts.CacheSize, ""},
	}
	for i, c := range charts {
		branch := "├─"
		if i == len(charts)-1 {
			branch = "└─"
		}
		agg := c.data.AggregatedData
		if agg.Count == 0 {
			fmt.Fprintf(w, "  %s %-14s no data\n", branch, c.label+":")
			continue
		}
		fmt.Fprintf(w, "  %s %-14s %s avg %.2f%s p95 %.2f%s (n=%d)\n",
			branch, c.label+":", sparkline(c.data.TimeSeries), agg.Avg, c.unit, agg.P95, c.unit, agg.Count)
	}
	fmt.Fprintln(w)

	labelColor.Fprintln(w, "🚨 Alerts:")
	if len(d.Alerts) == 0 {
		fmt.Fprintln(w, "  └─ No alerts")
		return
	}
	for i, a := range d.Alerts {
		branch := "├─"
		if i == len(d.Alerts)-1 {
			branch = "└─"
		}
		switch {
		case a.Firing:
			fmt.Fprintf(w, "  %s %-24s %s  %s\n", branch, a.RuleName, firingColor.Sprint("FIRING"), a.Message)
		case a.ResolvedAt != nil:
			fmt.Fprintf(w, "  %s %-24s %s  %s\n", branch, a.RuleName, okColor.Sprint("resolved"), a.Message)
		default:
			fmt.Fprintf(w, "  %s %-24s %s  value %g (threshold %g)\n", branch, a.RuleName, okColor.Sprint("ok"), a.CurrentValue, a.Threshold)
		}
	}
}

// sparkline scales points between their own min and max.
func sparkline(points []types.TimeSeriesPoint) string {
	if len(points) == 0 {
		return ""
	}
	lo, hi := points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}

	bars := []rune(sparkBars)
	var b strings.Builder
	for _, p := range points {
		idx := 0
		if hi > lo {
			idx = int((p.Value - lo) / (hi - lo) * float64(len(bars)-1))
		}
		b.WriteRune(bars[idx])
	}
	return b.String()
}
