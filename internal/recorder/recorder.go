// ============================================================================
// cachemon 指標記錄器 - 寫入 API
// ============================================================================
//
// Package: internal/recorder
// 文件: recorder.go
// 功能: 產生四種類型的指標紀錄並寫入 Store
//
// 寫入保證:
//   - 所有方法同步執行、立即返回，不會回傳錯誤
//   - 計數器的「讀最新值 -> 累加 -> 寫入」透過 Store.AppendWith 在同一把鎖內完成
//   - 空的直方圖輸入合法，統計值全為 0
//   - NaN 與 ±Inf 以 0 記錄，保證匯出的 JSON 可序列化
//
// ============================================================================

package recorder

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/internal/stats"
	"github.com/ChuLiYu/cachemon/internal/store"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// MetricOperationDuration StartTimer 使用的固定指標名稱
const MetricOperationDuration = "operation_duration"

// Option 設定單筆紀錄的可選欄位
type Option func(*options)

type options struct {
	tags        map[string]string
	priority    types.Priority
	description string
}

// WithTags 合併標籤（後設定者覆蓋）
func WithTags(tags map[string]string) Option {
	return func(o *options) {
		maps.Copy(o.tags, tags)
	}
}

// WithTag 設定單一標籤
func WithTag(key, value string) Option {
	return func(o *options) {
		o.tags[key] = value
	}
}

// WithPriority 設定優先級，未知值會被忽略
func WithPriority(p types.Priority) Option {
	return func(o *options) {
		if p.Valid() {
			o.priority = p
		}
	}
}

// WithDescription 設定描述
func WithDescription(d string) Option {
	return func(o *options) {
		o.description = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		tags:     make(map[string]string),
		priority: types.PriorityMedium,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// appender 由 *store.Store 與 *store.Txn 實作
type appender interface {
	AppendWith(name string, typ types.MetricType, build func(prev *types.Metric) types.Metric) types.Metric
}

// finite 將 NaN 與 ±Inf 轉為 0
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Recorder 指標記錄器
type Recorder struct {
	store *store.Store
	clock clock.Clock
}

// New 建立記錄器
func New(s *store.Store, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.System()
	}
	return &Recorder{store: s, clock: clk}
}

func (r *Recorder) base(name string, typ types.MetricType, o options) types.Metric {
	return types.Metric{
		Name:        name,
		Type:        typ,
		Priority:    o.priority,
		Description: o.description,
		Tags:        o.tags,
		Timestamp:   clock.NowMillis(r.clock),
	}
}

// IncrementCounter 將計數器累加 increment（可為負數）
//
// 新紀錄的 Count = 同名最新計數器的 Count + increment，沒有舊紀錄時從 0 開始。
func (r *Recorder) IncrementCounter(name string, increment float64, opts ...Option) types.Metric {
	return r.incrementIn(r.store, name, increment, buildOptions(opts))
}

func (r *Recorder) incrementIn(a appender, name string, increment float64, o options) types.Metric {
	increment = finite(increment)
	return a.AppendWith(name, types.TypeCounter, func(prev *types.Metric) types.Metric {
		last := 0.0
		if prev != nil && prev.Counter != nil {
			last = prev.Counter.Count
		}
		m := r.base(name, types.TypeCounter, o)
		m.Counter = &types.CounterData{Count: last + increment, Increment: increment}
		return m
	})
}

// Increment 將計數器加 1
func (r *Recorder) Increment(name string, opts ...Option) types.Metric {
	return r.IncrementCounter(name, 1, opts...)
}

// RecordGauge 記錄量測值，PreviousValue 為同名前一筆 gauge 的值
func (r *Recorder) RecordGauge(name string, value float64, opts ...Option) types.Metric {
	return r.gaugeIn(r.store, name, value, buildOptions(opts))
}

func (r *Recorder) gaugeIn(a appender, name string, value float64, o options) types.Metric {
	value = finite(value)
	return a.AppendWith(name, types.TypeGauge, func(prev *types.Metric) types.Metric {
		m := r.base(name, types.TypeGauge, o)
		m.Gauge = &types.GaugeData{Value: value}
		if prev != nil && prev.Gauge != nil {
			pv := prev.Gauge.Value
			m.Gauge.PreviousValue = &pv
		}
		return m
	})
}

// RecordHistogram 記錄一批樣本
//
// 樣本會被複製並排序，輸入切片不受影響；非有限值以 0 計。
func (r *Recorder) RecordHistogram(name string, values []float64, opts ...Option) types.Metric {
	sorted := make([]float64, len(values))
	for i, v := range values {
		sorted[i] = finite(v)
	}
	slices.Sort(sorted)

	m := r.base(name, types.TypeHistogram, buildOptions(opts))
	m.Histogram = &types.HistogramData{
		Values:     sorted,
		Buckets:    stats.CreateBuckets(sorted),
		Statistics: stats.CalculateSorted(sorted),
	}
	return r.store.Append(m)
}

// RecordTimer 記錄一次操作耗時
func (r *Recorder) RecordTimer(name string, start, end time.Time, operationName string, opts ...Option) types.Metric {
	m := r.base(name, types.TypeTimer, buildOptions(opts))
	m.Timer = &types.TimerData{
		DurationMs:    float64(end.Sub(start)) / float64(time.Millisecond),
		StartTime:     start.UnixMilli(),
		EndTime:       end.UnixMilli(),
		OperationName: operationName,
	}
	return r.store.Append(m)
}

// StartTimer 開始計時，回傳的函式停止計時並寫入 operation_duration
//
// 停止函式重複呼叫只會寫入一次，之後回傳同一筆紀錄。
func (r *Recorder) StartTimer(operationName string, opts ...Option) func() types.Metric {
	start := r.clock.Now()

	var once sync.Once
	var recorded types.Metric
	return func() types.Metric {
		once.Do(func() {
			all := append([]Option{WithTag("operation", operationName)}, opts...)
			recorded = r.RecordTimer(MetricOperationDuration, start, r.clock.Now(), operationName, all...)
		})
		return recorded
	}
}
