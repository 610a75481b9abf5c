// ============================================================================
// cachemon 匯出管理 - 定期序列化完整狀態
// ============================================================================
//
// Package: internal/export
// 文件: export.go
// 功能: 將指標、告警狀態與效能剖析序列化為 JSON，交給設定的 Sink
//
// 匯出格式:
//   {timestamp, instance, config, metrics:{name:[record]}, alerts:{rule:status},
//    profiles:{name:profile}}
//
// 錯誤處理:
//   - 定期匯出時 Sink 的錯誤只記錄日誌，不會中斷排程
//   - Flush 同步執行並把錯誤回傳給呼叫者
//
// ============================================================================

package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/internal/scheduler"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// JobName 定期匯出在排程器中的任務名稱
const JobName = "export"

// DefaultInterval ExportIntervalMs <= 0 時使用的匯出間隔
const DefaultInterval = time.Minute

var (
	// ErrUnknownExportType 無法辨識的匯出種類
	ErrUnknownExportType = errors.New("export: unknown export type")
	// ErrSinkRequired custom 匯出需要呼叫者提供 Sink
	ErrSinkRequired = errors.New("export: custom export requires a sink")
	// ErrNotConfigured 尚未呼叫 Configure
	ErrNotConfigured = errors.New("export: not configured")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Payload 一次匯出的完整內容
type Payload struct {
	Timestamp int64                               `json:"timestamp"`
	Instance  string                              `json:"instance,omitempty"`
	Config    types.ExportConfig                  `json:"config"`
	Metrics   map[string][]types.Metric           `json:"metrics"`
	Alerts    map[string]types.AlertStatus        `json:"alerts"`
	Profiles  map[string]types.PerformanceProfile `json:"profiles"`
}

// MetricSource 提供所有指標紀錄，由 Store 實作
type MetricSource interface {
	Snapshot() map[string][]types.Metric
}

// AlertSource 提供告警狀態
type AlertSource interface {
	Statuses() map[string]types.AlertStatus
}

// ProfileSource 提供效能剖析結果
type ProfileSource interface {
	Profiles() map[string]types.PerformanceProfile
}

// Sources 匯出時讀取的資料來源，nil 欄位匯出為空物件
type Sources struct {
	Metrics  MetricSource
	Alerts   AlertSource
	Profiles ProfileSource
}

// Observer 接收匯出結果，用於自我監控
type Observer interface {
	ExportSucceeded(sink string, bytes int)
	ExportFailed(sink string)
}

type noopObserver struct{}

func (noopObserver) ExportSucceeded(string, int) {}
func (noopObserver) ExportFailed(string)         {}

// Option 調整 Manager 的可選行為
type Option func(*Manager)

// WithClock 設定時間來源
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger 設定日誌輸出
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver 設定匯出觀察者
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithInstance 設定寫入 Payload 的實例 ID
func WithInstance(id string) Option {
	return func(m *Manager) {
		m.instance = id
	}
}

// Manager 匯出管理器
type Manager struct {
	mu     sync.Mutex
	config *types.ExportConfig // nil 表示尚未設定
	sink   Sink
	owned  bool // sink 由 NewSink 建立，由 Manager 負責關閉

	sources   Sources
	scheduler *scheduler.Scheduler
	clock     clock.Clock
	logger    *slog.Logger
	observer  Observer
	instance  string
}

// New 建立匯出管理器，sched 為 nil 時只能手動 Flush
func New(sources Sources, sched *scheduler.Scheduler, opts ...Option) *Manager {
	m := &Manager{
		sources:   sources,
		scheduler: sched,
		clock:     clock.System(),
		logger:    slog.Default(),
		observer:  noopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Configure 設定匯出目的地並（重新）啟動定期匯出
//
// sink 為 nil 時依 cfg.ExportType 建立內建 Sink；內建 Sink 在被取代或 Stop 時關閉，
// 呼叫者提供的 Sink 由呼叫者自行管理。
func (m *Manager) Configure(cfg types.ExportConfig, sink Sink) error {
	owned := false
	if sink == nil {
		s, err := NewSink(cfg)
		if err != nil {
			return err
		}
		sink, owned = s, true
	}

	m.mu.Lock()
	old, oldOwned := m.sink, m.owned
	m.config = &cfg
	m.sink, m.owned = sink, owned
	m.mu.Unlock()

	// Every 會等舊任務退出，之後才能安全關閉舊 Sink
	var schedErr error
	if m.scheduler != nil {
		schedErr = m.scheduler.Every(JobName, interval(cfg), m.tick)
	}
	if old != nil && oldOwned {
		closeSink(old, m.logger)
	}
	if schedErr != nil {
		return fmt.Errorf("schedule export: %w", schedErr)
	}

	m.logger.Info("Export configured",
		"type", cfg.ExportType,
		"interval", interval(cfg),
		"compression", cfg.Compression)
	return nil
}

// Config 回傳目前的匯出設定
func (m *Manager) Config() (types.ExportConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return types.ExportConfig{}, false
	}
	return *m.config, true
}

// Snapshot 組合目前的匯出內容
func (m *Manager) Snapshot() Payload {
	cfg, _ := m.Config()

	p := Payload{
		Timestamp: clock.NowMillis(m.clock),
		Instance:  m.instance,
		Config:    cfg,
		Metrics:   map[string][]types.Metric{},
		Alerts:    map[string]types.AlertStatus{},
		Profiles:  map[string]types.PerformanceProfile{},
	}
	if m.sources.Metrics != nil {
		p.Metrics = m.sources.Metrics.Snapshot()
	}
	if m.sources.Alerts != nil {
		p.Alerts = m.sources.Alerts.Statuses()
	}
	if m.sources.Profiles != nil {
		p.Profiles = m.sources.Profiles.Profiles()
	}
	return p
}

// ExportJSON 回傳目前狀態的 JSON 字串（不經過 Sink、不壓縮）
func (m *Manager) ExportJSON() (string, error) {
	b, err := json.Marshal(m.Snapshot())
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	return string(b), nil
}

// Flush 同步匯出一次
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	cfg, sink := m.config, m.sink
	m.mu.Unlock()

	if cfg == nil || sink == nil {
		return ErrNotConfigured
	}
	name := string(cfg.ExportType)

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		m.observer.ExportFailed(name)
		return fmt.Errorf("marshal export: %w", err)
	}
	if cfg.Compression && cfg.ExportType != types.ExportConsole {
		if data, err = Compress(data); err != nil {
			m.observer.ExportFailed(name)
			return err
		}
	}

	if err := sink.Export(ctx, data); err != nil {
		m.observer.ExportFailed(name)
		return fmt.Errorf("export to %s: %w", name, err)
	}
	m.observer.ExportSucceeded(name, len(data))
	return nil
}

// tick 定期匯出，錯誤只記錄
func (m *Manager) tick(ctx context.Context) {
	if err := m.Flush(ctx); err != nil {
		m.logger.Error("Export failed", "error", err)
	}
}

// Stop 停止定期匯出並關閉內建 Sink，可重複呼叫
func (m *Manager) Stop() {
	if m.scheduler != nil {
		m.scheduler.Cancel(JobName)
	}

	m.mu.Lock()
	sink, owned := m.sink, m.owned
	m.sink, m.owned = nil, false
	m.config = nil
	m.mu.Unlock()

	if sink != nil && owned {
		closeSink(sink, m.logger)
	}
}

func interval(cfg types.ExportConfig) time.Duration {
	if cfg.ExportIntervalMs <= 0 {
		return DefaultInterval
	}
	return time.Duration(cfg.ExportIntervalMs) * time.Millisecond
}

func closeSink(s Sink, logger *slog.Logger) {
	c, ok := s.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("Failed to close export sink", "error", err)
	}
}
