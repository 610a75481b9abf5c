// ============================================================================
// cachemon 聚合引擎 - 時間分桶
// ============================================================================
//
// Package: internal/aggregation
// 文件: aggregation.go
// 功能: 將單一指標在時間範圍內的紀錄切成固定大小的時間桶
//
// 計算方式:
//   - 桶的起點 = floor(timestamp / bucketSize) * bucketSize
//   - 每個桶的值 = 桶內所有紀錄值的平均
//   - 整體統計 (count/sum/min/max/avg/p50/p95/p99) 以所有紀錄值計算
//
// ============================================================================

package aggregation

import (
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/ChuLiYu/cachemon/internal/stats"
	"github.com/ChuLiYu/cachemon/internal/store"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// DefaultBucketSize bucketSize <= 0 時使用的桶大小
const DefaultBucketSize = time.Minute

// Engine 聚合引擎，只讀取 Store
type Engine struct {
	store  *store.Store
	logger *slog.Logger
}

// New 建立聚合引擎，logger 為 nil 時使用 slog.Default()
func New(s *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, logger: logger}
}

type bucket struct {
	sum   float64
	count int
}

// Aggregate 聚合 name 在 tr（含端點）內的紀錄
//
// 沒有紀錄時回傳零值統計與空的時間序列。無法取值的紀錄會被略過。
func (e *Engine) Aggregate(name string, tr types.TimeRange, bucketSize time.Duration) types.AggregatedMetrics {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	size := bucketSize.Milliseconds()
	if size <= 0 {
		size = 1
	}

	records := e.store.Select([]string{name}, func(m types.Metric) bool {
		return tr.Contains(m.Timestamp)
	})

	all := make([]float64, 0, len(records))
	buckets := make(map[int64]*bucket)
	for _, m := range records {
		v, err := m.Value()
		if err != nil {
			e.logger.Warn("skip malformed metric", "metric", name, "error", err)
			continue
		}
		all = append(all, v)

		start := floorDiv(m.Timestamp, size) * size
		b, ok := buckets[start]
		if !ok {
			b = &bucket{}
			buckets[start] = b
		}
		b.sum += v
		b.count++
	}

	series := make([]types.TimeSeriesPoint, 0, len(buckets))
	for _, start := range slices.Sorted(maps.Keys(buckets)) {
		b := buckets[start]
		series = append(series, types.TimeSeriesPoint{Timestamp: start, Value: b.sum / float64(b.count)})
	}

	s := stats.Calculate(all)
	return types.AggregatedMetrics{
		TimeRange:  tr,
		MetricName: name,
		AggregatedData: types.AggregatedData{
			Count: s.Count,
			Sum:   s.Sum,
			Min:   s.Min,
			Max:   s.Max,
			Avg:   s.Mean,
			P50:   s.Median,
			P95:   s.P95,
			P99:   s.P99,
		},
		TimeSeries: series,
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
