// ============================================================================
// cachemon 收集器 - 系統核心協調器
// ============================================================================
//
// Package: internal/collector
// 文件: collector.go
// 功能: 組裝所有元件並管理其生命週期，對外提供單一入口
//
// 架構設計:
//   Collector 是整個監控引擎的擁有者，負責協調以下組件：
//   - Store / Recorder: 指標寫入與保存（Recorder 內嵌，寫入 API 直接暴露）
//   - Query / Aggregation / Dashboard: 唯讀查詢
//   - Alert Engine: 告警規則與狀態機
//   - Export Manager: 定期匯出
//   - Profiler: 效能剖析
//   - Telemetry: Prometheus 自我監控（設定 Registerer 時啟用）
//
// 背景任務（由 Scheduler 驅動，彼此不會交錯執行）:
//   1. alerts - 每 AlertInterval 評估一次告警規則
//   2. export - ConfigureExport 之後每 ExportIntervalMs 匯出一次
//
// 生命週期:
//   New      -> 驗證設定、建立元件、載入預設規則、啟動告警任務
//   Dispose  -> 停止所有任務、清空指標 / 告警規則與狀態 / 剖析結果
//   Dispose 可重複呼叫，nil 指標上呼叫也安全；之後的查詢回傳空結果。
//
// ============================================================================

package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/cachemon/internal/aggregation"
	"github.com/ChuLiYu/cachemon/internal/alert"
	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/internal/dashboard"
	"github.com/ChuLiYu/cachemon/internal/export"
	"github.com/ChuLiYu/cachemon/internal/profiler"
	"github.com/ChuLiYu/cachemon/internal/query"
	"github.com/ChuLiYu/cachemon/internal/recorder"
	"github.com/ChuLiYu/cachemon/internal/scheduler"
	"github.com/ChuLiYu/cachemon/internal/store"
	"github.com/ChuLiYu/cachemon/internal/telemetry"
	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// AlertJobName 告警評估在排程器中的任務名稱
const AlertJobName = "alerts"

// ErrInvalidConfig Collector 設定不合法
var ErrInvalidConfig = errors.New("collector: invalid config")

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Collector 配置
type Config struct {
	MaxMetrics          int                   // 每個指標名稱保留的最大筆數，0 表示不限
	Retention           time.Duration         // 紀錄保留時間，0 表示不限
	AlertInterval       time.Duration         // 告警評估間隔
	DisableDefaultRules bool                  // 不載入內建告警規則
	Rules               []types.AlertRule     // 額外的告警規則
	Logger              *slog.Logger          // nil 時使用 slog.Default()
	Clock               clock.Clock           // nil 時使用系統時鐘
	Registerer          prometheus.Registerer // nil 時不啟用 telemetry
	Notifier            alert.Notifier        // nil 時使用 alert.LogNotifier
	MemorySampler       profiler.Sampler      // nil 時記憶體取樣為 0
}

// DefaultConfig 回傳預設配置
func DefaultConfig() Config {
	return Config{
		MaxMetrics:    1000,
		Retention:     24 * time.Hour,
		AlertInterval: 30 * time.Second,
		MemorySampler: profiler.RuntimeSampler,
	}
}

// Validate 檢查配置
func (c Config) Validate() error {
	if c.MaxMetrics < 0 {
		return fmt.Errorf("%w: MaxMetrics must not be negative", ErrInvalidConfig)
	}
	if c.Retention < 0 {
		return fmt.Errorf("%w: Retention must not be negative", ErrInvalidConfig)
	}
	if c.AlertInterval <= 0 {
		return fmt.Errorf("%w: AlertInterval must be positive", ErrInvalidConfig)
	}
	return nil
}

// Collector 監控引擎
type Collector struct {
	*recorder.Recorder

	id        string
	store     *store.Store
	query     *query.Engine
	aggregate *aggregation.Engine
	alerts    *alert.Engine
	profiler  *profiler.Profiler
	dashboard *dashboard.Generator
	exporter  *export.Manager
	scheduler *scheduler.Scheduler
	telemetry *telemetry.Collector // 可能為 nil
	logger    *slog.Logger

	mu       sync.Mutex
	disposed bool
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立 Collector 並啟動告警評估任務
//
// 流程：
//  1. 驗證配置
//  2. 建立 telemetry（若有 Registerer）與各元件
//  3. 載入預設規則與額外規則
//  4. 啟動告警評估任務
func New(cfg Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}

	id := uuid.NewString()
	logger = logger.With("collector", id)

	// 1. Telemetry
	var tel *telemetry.Collector
	var storeOpts []store.Option
	alertOpts := []alert.Option{alert.WithClock(clk), alert.WithLogger(logger), alert.WithNotifier(cfg.Notifier)}
	exportOpts := []export.Option{export.WithClock(clk), export.WithLogger(logger), export.WithInstance(id)}
	if cfg.Registerer != nil {
		t, err := telemetry.NewCollector(cfg.Registerer, id)
		if err != nil {
			return nil, err
		}
		tel = t
		storeOpts = append(storeOpts, store.WithObserver(tel))
		alertOpts = append(alertOpts, alert.WithObserver(tel))
		exportOpts = append(exportOpts, export.WithObserver(tel))
	}

	// 2. 元件
	st := store.New(store.Config{MaxMetrics: cfg.MaxMetrics, Retention: cfg.Retention}, clk, storeOpts...)
	if tel != nil {
		if err := tel.RegisterStore(st); err != nil {
			return nil, err
		}
	}
	alerts := alert.New(st, alertOpts...)
	prof := profiler.New(clk, cfg.MemorySampler)
	agg := aggregation.New(st, logger)
	sched := scheduler.New(logger)

	c := &Collector{
		Recorder:  recorder.New(st, clk),
		id:        id,
		store:     st,
		query:     query.New(st),
		aggregate: agg,
		alerts:    alerts,
		profiler:  prof,
		dashboard: dashboard.New(st, agg, alerts, clk),
		exporter:  export.New(export.Sources{Metrics: st, Alerts: alerts, Profiles: prof}, sched, exportOpts...),
		scheduler: sched,
		telemetry: tel,
		logger:    logger,
	}

	// 3. 告警規則
	var rules []types.AlertRule
	if !cfg.DisableDefaultRules {
		rules = append(rules, alert.DefaultRules()...)
	}
	rules = append(rules, cfg.Rules...)
	for _, r := range rules {
		if err := alerts.AddRule(r); err != nil {
			sched.Stop()
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	// 4. 告警評估任務
	if err := sched.Every(AlertJobName, cfg.AlertInterval, c.evaluateTick); err != nil {
		sched.Stop()
		return nil, fmt.Errorf("failed to schedule alert evaluation: %w", err)
	}

	logger.Info("Collector started",
		"max_metrics", cfg.MaxMetrics,
		"retention", cfg.Retention,
		"alert_interval", cfg.AlertInterval,
		"rules", len(rules))
	return c, nil
}

func (c *Collector) evaluateTick(ctx context.Context) {
	if err := c.alerts.Evaluate(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Alert evaluation aborted", "error", err)
	}
}

// ID 回傳實例 ID（telemetry 的 instance_id 與匯出的 instance）
func (c *Collector) ID() string {
	return c.id
}

// ============================================================================
// 查詢 API
// ============================================================================

// QueryMetrics 依條件查詢紀錄
func (c *Collector) QueryMetrics(q types.MetricQuery) []types.Metric {
	return c.query.Query(q)
}

// AggregateMetrics 將單一指標依時間分桶聚合，bucketSize <= 0 時為 60 秒
func (c *Collector) AggregateMetrics(name string, tr types.TimeRange, bucketSize time.Duration) types.AggregatedMetrics {
	return c.aggregate.Aggregate(name, tr, bucketSize)
}

// GenerateDashboardData 產生儀表板快照
func (c *Collector) GenerateDashboardData() types.DashboardData {
	return c.dashboard.Generate()
}

// ExportMetrics 回傳完整狀態的 JSON 字串
func (c *Collector) ExportMetrics() (string, error) {
	return c.exporter.ExportJSON()
}

// Stats 回傳儲存統計（series / records）
func (c *Collector) Stats() map[string]int {
	return c.store.Stats()
}

// MetricNames 回傳所有指標名稱
func (c *Collector) MetricNames() []string {
	return c.store.Names()
}

// ============================================================================
// 匯出 API
// ============================================================================

// ConfigureExport 設定匯出目的地並啟動定期匯出
//
// sink 為 nil 時依 cfg.ExportType 建立內建 Sink。
func (c *Collector) ConfigureExport(cfg types.ExportConfig, sink export.Sink) error {
	if c.isDisposed() {
		return scheduler.ErrStopped
	}
	return c.exporter.Configure(cfg, sink)
}

// FlushExport 立即匯出一次
func (c *Collector) FlushExport(ctx context.Context) error {
	return c.exporter.Flush(ctx)
}

// ============================================================================
// 告警 API
// ============================================================================

// AddAlertRule 新增或取代告警規則
func (c *Collector) AddAlertRule(rule types.AlertRule) error {
	return c.alerts.AddRule(rule)
}

// RemoveAlertRule 移除告警規則
func (c *Collector) RemoveAlertRule(name string) bool {
	return c.alerts.RemoveRule(name)
}

// AlertRules 回傳所有規則
func (c *Collector) AlertRules() []types.AlertRule {
	return c.alerts.Rules()
}

// EvaluateAlerts 立即評估一次所有規則（不等排程）
func (c *Collector) EvaluateAlerts(ctx context.Context) error {
	return c.alerts.Evaluate(ctx)
}

// Alerts 回傳所有告警狀態，以規則名稱為鍵
func (c *Collector) Alerts() map[string]types.AlertStatus {
	return c.alerts.Statuses()
}

// FiringAlerts 回傳觸發中的告警
func (c *Collector) FiringAlerts() []types.AlertStatus {
	return c.alerts.Firing()
}

// ============================================================================
// 效能剖析 API
// ============================================================================

// StartProfile 開始剖析，回傳的函式結束剖析並保存結果
func (c *Collector) StartProfile(name string) func() types.PerformanceProfile {
	return c.profiler.Start(name)
}

// Profiles 回傳所有剖析結果
func (c *Collector) Profiles() map[string]types.PerformanceProfile {
	return c.profiler.Profiles()
}

// ============================================================================
// 生命週期
// ============================================================================

func (c *Collector) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Dispose 停止所有背景任務並清空狀態
//
// 順序：
//  1. 停止匯出任務並關閉內建 Sink
//  2. 停止排程器（等待執行中的任務結束）
//  3. 清空指標、告警規則與狀態、剖析結果
func (c *Collector) Dispose() {
	if c == nil {
		return
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	c.exporter.Stop()
	c.scheduler.Stop()

	c.store.Reset()
	c.alerts.Reset()
	c.profiler.Reset()
	if c.telemetry != nil {
		c.telemetry.ResetFiring()
	}

	c.logger.Info("Collector disposed")
}
