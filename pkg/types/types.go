// Package types 定義了 cachemon 系統中使用的核心領域模型
package types

import (
	"errors"
	"fmt"
)

// ErrMalformedMetric 指標的 Type 與其承載的變體資料不一致
var ErrMalformedMetric = errors.New("metric: malformed variant")

// MetricType 指標種類，作為變體的判別欄位
type MetricType string

// 定義指標種類常數
const (
	TypeCounter   MetricType = "counter"   // 累計計數
	TypeGauge     MetricType = "gauge"     // 瞬時值
	TypeHistogram MetricType = "histogram" // 一批樣本的分佈
	TypeTimer     MetricType = "timer"     // 單次操作耗時
)

// Priority 指標優先級，與告警無關的粗略分類
type Priority string

// 定義優先級常數
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid 檢查優先級是否為已知值
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Metric 一筆不可變的指標紀錄
//
// Type 決定 Counter/Gauge/Histogram/Timer 中哪一個欄位有值，其餘皆為 nil。
// Tags 在建立後視為唯讀。
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Priority    Priority          `json:"priority"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags"`
	Timestamp   int64             `json:"timestamp"` // Unix 毫秒

	Counter   *CounterData   `json:"counter,omitempty"`
	Gauge     *GaugeData     `json:"gauge,omitempty"`
	Histogram *HistogramData `json:"histogram,omitempty"`
	Timer     *TimerData     `json:"timer,omitempty"`
}

// CounterData 計數器變體
type CounterData struct {
	Count     float64 `json:"count"`     // 到此筆為止的累計值
	Increment float64 `json:"increment"` // 本次事件的增量
}

// GaugeData 量測值變體
type GaugeData struct {
	Value         float64  `json:"value"`
	PreviousValue *float64 `json:"previousValue,omitempty"` // 同名前一筆 gauge 的值，首筆為 nil
}

// HistogramData 直方圖變體
type HistogramData struct {
	Values     []float64      `json:"values"`  // 已排序（遞增）的原始樣本
	Buckets    map[string]int `json:"buckets"` // 區間標籤 -> 樣本數
	Statistics Statistics     `json:"statistics"`
}

// TimerData 計時器變體
type TimerData struct {
	DurationMs    float64 `json:"durationMs"`
	StartTime     int64   `json:"startTime"`
	EndTime       int64   `json:"endTime"`
	OperationName string  `json:"operationName"`
}

// Statistics 一組數值的摘要統計
type Statistics struct {
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Value 依變體取出代表數值
//
// Counter 取 Count、Gauge 取 Value、Histogram 取 Statistics.Mean、Timer 取 DurationMs。
// 未知的 Type 或缺少對應變體資料時回傳 ErrMalformedMetric。
func (m Metric) Value() (float64, error) {
	switch m.Type {
	case TypeCounter:
		if m.Counter != nil {
			return m.Counter.Count, nil
		}
	case TypeGauge:
		if m.Gauge != nil {
			return m.Gauge.Value, nil
		}
	case TypeHistogram:
		if m.Histogram != nil {
			return m.Histogram.Statistics.Mean, nil
		}
	case TypeTimer:
		if m.Timer != nil {
			return m.Timer.DurationMs, nil
		}
	default:
		return 0, fmt.Errorf("%w: unknown type %q for %s", ErrMalformedMetric, m.Type, m.Name)
	}
	return 0, fmt.Errorf("%w: %s payload missing for %s", ErrMalformedMetric, m.Type, m.Name)
}

// Operator 告警比較運算子
type Operator string

// 定義比較運算子常數
const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "neq"
)

// AlertRule 告警規則，以 Name 為唯一鍵
type AlertRule struct {
	Name               string   `json:"name" yaml:"name"`
	MetricName         string   `json:"metricName" yaml:"metric_name"`
	Threshold          float64  `json:"threshold" yaml:"threshold"`
	Operator           Operator `json:"operator" yaml:"operator"`
	EvaluationPeriodMs int64    `json:"evaluationPeriodMs" yaml:"evaluation_period_ms"`
	Severity           Priority `json:"severity" yaml:"severity"`
	Description        string   `json:"description" yaml:"description"`
	Enabled            bool     `json:"enabled" yaml:"enabled"`
}

// AlertStatus 單一規則目前的觸發狀態
type AlertStatus struct {
	RuleName     string  `json:"ruleName"`
	Firing       bool    `json:"firing"`
	FiredAt      *int64  `json:"firedAt,omitempty"`    // 最近一次觸發時間（Unix 毫秒）
	ResolvedAt   *int64  `json:"resolvedAt,omitempty"` // 最近一次解除時間（Unix 毫秒）
	CurrentValue float64 `json:"currentValue"`
	Threshold    float64 `json:"threshold"`
	Message      string  `json:"message"`
}

// PerformanceProfile 一次效能剖析的結果，同名重跑會覆蓋
type PerformanceProfile struct {
	Name       string        `json:"name"`
	StartTime  int64         `json:"startTime"`
	EndTime    int64         `json:"endTime"`
	DurationMs float64       `json:"durationMs"`
	Memory     MemoryUsage   `json:"memory"`
	Resources  ResourceUsage `json:"resourceUsage"`
}

// MemoryUsage 記憶體取樣（位元組），無法取樣時為 0
type MemoryUsage struct {
	Initial uint64 `json:"initial"`
	Peak    uint64 `json:"peak"`
	Final   uint64 `json:"final"`
}

// ResourceUsage 剖析期間的資源使用計數
type ResourceUsage struct {
	Goroutines  int    `json:"goroutines"`
	GCCycles    uint32 `json:"gcCycles"`
	Allocations uint64 `json:"allocations"`
}

// TimeRange 閉區間時間範圍（Unix 毫秒）
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains 判斷時間戳是否落在範圍內（含端點）
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.Start && ts <= r.End
}

// SortField 查詢排序欄位
type SortField string

// SortOrder 查詢排序方向
type SortOrder string

// 定義排序常數
const (
	SortByTimestamp SortField = "timestamp"
	SortByValue     SortField = "value"

	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// MetricQuery 查詢條件，所有條件以 AND 組合，零值代表不過濾
type MetricQuery struct {
	MetricNames []string          `json:"metricNames,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	TimeRange   *TimeRange        `json:"timeRange,omitempty"`
	Priorities  []Priority        `json:"priority,omitempty"`
	SortBy      SortField         `json:"sortBy,omitempty"`
	SortOrder   SortOrder         `json:"sortOrder,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}

// AggregatedData 整段範圍的彙總統計
type AggregatedData struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// TimeSeriesPoint 時間序列上的一個桶
type TimeSeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// AggregatedMetrics 單一指標在時間範圍內的聚合結果
type AggregatedMetrics struct {
	TimeRange      TimeRange         `json:"timeRange"`
	MetricName     string            `json:"metricName"`
	AggregatedData AggregatedData    `json:"aggregatedData"`
	TimeSeries     []TimeSeriesPoint `json:"timeSeries"`
}

// DashboardSummary 儀表板摘要
type DashboardSummary struct {
	TotalCacheHits   float64 `json:"totalCacheHits"`
	TotalCacheMisses float64 `json:"totalCacheMisses"`
	CurrentHitRate   float64 `json:"currentHitRate"`
	CurrentCacheSize float64 `json:"currentCacheSize"`
	ActiveRequests   float64 `json:"activeRequests"`
	TotalErrors      float64 `json:"totalErrors"`
}

// DashboardCharts 儀表板圖表資料（最近一小時）
type DashboardCharts struct {
	HitRate      AggregatedMetrics `json:"hitRate"`
	ResponseTime AggregatedMetrics `json:"responseTime"`
	ErrorRate    AggregatedMetrics `json:"errorRate"`
	CacheSize    AggregatedMetrics `json:"cacheSize"`
}

// DashboardData 提供給呈現層的唯讀快照
type DashboardData struct {
	Summary     DashboardSummary `json:"summary"`
	Charts      DashboardCharts  `json:"charts"`
	Alerts      []AlertStatus    `json:"alerts"`
	GeneratedAt int64            `json:"generatedAt"`
}

// ExportType 匯出目的地種類
type ExportType string

// 定義匯出種類常數
const (
	ExportConsole      ExportType = "console"
	ExportLocalStorage ExportType = "local-storage"
	ExportRedis        ExportType = "redis"
	ExportCustom       ExportType = "custom"
)

// ExportConfig 匯出設定
//
// Path 僅供 local-storage 使用；Redis* 僅供 redis 使用。
type ExportConfig struct {
	ExportType       ExportType `json:"exportType" yaml:"type"`
	ExportIntervalMs int64      `json:"exportIntervalMs" yaml:"interval_ms"`
	BatchSize        int        `json:"batchSize" yaml:"batch_size"`
	Compression      bool       `json:"compression" yaml:"compression"`
	Path             string     `json:"path,omitempty" yaml:"path"`
	RedisAddr        string     `json:"redisAddr,omitempty" yaml:"redis_addr"`
	RedisKey         string     `json:"redisKey,omitempty" yaml:"redis_key"`
	RedisTTLMs       int64      `json:"redisTtlMs,omitempty" yaml:"redis_ttl_ms"`
}
