// ============================================================================
// cachemon 儀表板 - 唯讀快照
// ============================================================================
//
// Package: internal/dashboard
// 文件: dashboard.go
// 功能: 組合摘要、最近一小時的四張圖表與告警狀態
//
// ============================================================================

package dashboard

import (
	"time"

	"github.com/ChuLiYu/cachemon/internal/aggregation"
	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/internal/recorder"
	"github.com/ChuLiYu/cachemon/internal/store"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// ChartWindow 圖表涵蓋的時間長度
const ChartWindow = time.Hour

// AlertSource 提供告警狀態
type AlertSource interface {
	StatusList() []types.AlertStatus
}

// Generator 儀表板產生器
type Generator struct {
	store      *store.Store
	aggregator *aggregation.Engine
	alerts     AlertSource
	clock      clock.Clock
}

// New 建立儀表板產生器
func New(s *store.Store, agg *aggregation.Engine, alerts AlertSource, clk clock.Clock) *Generator {
	if clk == nil {
		clk = clock.System()
	}
	return &Generator{store: s, aggregator: agg, alerts: alerts, clock: clk}
}

// Generate 產生目前的儀表板資料
func (g *Generator) Generate() types.DashboardData {
	now := g.clock.Now()
	window := types.TimeRange{
		Start: now.Add(-ChartWindow).UnixMilli(),
		End:   now.UnixMilli(),
	}

	hits := g.latest(recorder.MetricCacheHits, types.TypeCounter)
	misses := g.latest(recorder.MetricCacheMisses, types.TypeCounter)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	alerts := []types.AlertStatus{}
	if g.alerts != nil {
		alerts = append(alerts, g.alerts.StatusList()...)
	}

	return types.DashboardData{
		Summary: types.DashboardSummary{
			TotalCacheHits:   hits,
			TotalCacheMisses: misses,
			CurrentHitRate:   hitRate,
			CurrentCacheSize: g.latest(recorder.MetricCacheSize, types.TypeGauge),
			ActiveRequests:   g.latest(recorder.MetricActiveRequests, types.TypeGauge),
			TotalErrors:      g.latest(recorder.MetricAPIErrors, types.TypeCounter),
		},
		Charts: types.DashboardCharts{
			HitRate:      g.chart(recorder.MetricCacheHitRate, window),
			ResponseTime: g.chart(recorder.MetricOperationDuration, window),
			ErrorRate:    g.chart(recorder.MetricAPIErrors, window),
			CacheSize:    g.chart(recorder.MetricCacheSize, window),
		},
		Alerts:      alerts,
		GeneratedAt: now.UnixMilli(),
	}
}

func (g *Generator) chart(name string, window types.TimeRange) types.AggregatedMetrics {
	return g.aggregator.Aggregate(name, window, aggregation.DefaultBucketSize)
}

// latest 取指定類型的最新值，不存在時為 0
func (g *Generator) latest(name string, typ types.MetricType) float64 {
	m, ok := g.store.LatestOf(name, typ)
	if !ok {
		return 0
	}
	v, err := m.Value()
	if err != nil {
		return 0
	}
	return v
}
