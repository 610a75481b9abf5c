// ============================================================================
// cachemon 告警引擎 - 閾值狀態機
// ============================================================================
//
// Package: internal/alert
// 文件: alert.go
// 功能: 依規則比較指標最新值與閾值，維護每條規則的觸發狀態
//
// 狀態機（每條規則獨立）:
//   Idle   --條件成立-->  Firing   (寫入 firedAt，通知 OnAlertFired)
//   Firing --條件不成立--> Idle     (寫入 resolvedAt，通知 OnAlertResolved)
//   其餘情況只更新 currentValue，不通知
//
// 每條已註冊的規則恰有一筆 AlertStatus：AddRule 時建立 Idle 狀態，
// RemoveRule 時一併移除。
//
// 容錯:
//   - 指標不存在時跳過該規則
//   - 單一規則的錯誤或 panic 只記錄日誌，不影響其他規則
//   - 通知在鎖外執行，Notifier 的 panic 同樣被隔離
//
// ============================================================================

package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// ErrInvalidRule 規則欄位不合法
var ErrInvalidRule = errors.New("alert: invalid rule")

// LatestSource 提供指標最新值，由 Store 實作
type LatestSource interface {
	Latest(name string) (types.Metric, bool)
}

// Notifier 接收狀態轉換通知
type Notifier interface {
	OnAlertFired(rule types.AlertRule, status types.AlertStatus)
	OnAlertResolved(rule types.AlertRule, status types.AlertStatus)
}

// Observer 接收評估結果，用於自我監控
type Observer interface {
	AlertFired(rule string, severity types.Priority)
	AlertResolved(rule string)
	EvaluationFailed(rule string)
}

type noopObserver struct{}

func (noopObserver) AlertFired(string, types.Priority) {}
func (noopObserver) AlertResolved(string)              {}
func (noopObserver) EvaluationFailed(string)           {}

// LogNotifier 將狀態轉換寫入 slog
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

// OnAlertFired 實作 Notifier
func (n LogNotifier) OnAlertFired(rule types.AlertRule, status types.AlertStatus) {
	n.logger().Warn("Alert fired",
		"rule", rule.Name,
		"severity", rule.Severity,
		"value", status.CurrentValue,
		"threshold", status.Threshold,
		"message", status.Message)
}

// OnAlertResolved 實作 Notifier
func (n LogNotifier) OnAlertResolved(rule types.AlertRule, status types.AlertStatus) {
	n.logger().Info("Alert resolved",
		"rule", rule.Name,
		"value", status.CurrentValue)
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Option 調整 Engine 的可選行為
type Option func(*Engine)

// WithNotifier 設定通知接收者，nil 會被忽略
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithObserver 設定評估觀察者
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger 設定日誌輸出
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock 設定時間來源
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// Engine 告警引擎
type Engine struct {
	mu            sync.Mutex
	rules         []types.AlertRule            // 依註冊順序
	statuses      map[string]types.AlertStatus // 與 rules 一一對應
	lastEvaluated map[string]int64             // 規則最近一次評估時間（Unix 毫秒）

	source   LatestSource
	clock    clock.Clock
	logger   *slog.Logger
	notifier Notifier
	observer Observer
}

// transition 一次需要通知的狀態轉換
type transition struct {
	rule   types.AlertRule
	status types.AlertStatus
	fired  bool
}

// New 建立告警引擎
func New(source LatestSource, opts ...Option) *Engine {
	e := &Engine{
		statuses:      make(map[string]types.AlertStatus),
		lastEvaluated: make(map[string]int64),
		source:        source,
		clock:         clock.System(),
		logger:        slog.Default(),
		observer:      noopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = LogNotifier{Logger: e.logger}
	}
	return e
}

// DefaultRules 內建的快取告警規則
func DefaultRules() []types.AlertRule {
	return []types.AlertRule{
		{
			Name:        "cache-hit-rate-low",
			MetricName:  "cache_hit_rate",
			Threshold:   0.8,
			Operator:    types.OpLessThan,
			Severity:    types.PriorityHigh,
			Description: "Cache hit rate below 80%",
			Enabled:     true,
		},
		{
			Name:        "api-error-count-high",
			MetricName:  "api_errors",
			Threshold:   10,
			Operator:    types.OpGreaterThan,
			Severity:    types.PriorityCritical,
			Description: "More than 10 API errors",
			Enabled:     true,
		},
	}
}

// ============================================================================
// 規則管理
// ============================================================================

// Validate 檢查規則欄位
func Validate(rule types.AlertRule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	}
	if rule.MetricName == "" {
		return fmt.Errorf("%w: rule %s has no metric", ErrInvalidRule, rule.Name)
	}
	if _, err := compare(rule.Operator, 0, 0); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, rule.Name, err)
	}
	if rule.EvaluationPeriodMs < 0 {
		return fmt.Errorf("%w: rule %s has negative evaluation period", ErrInvalidRule, rule.Name)
	}
	return nil
}

// AddRule 註冊規則，同名規則會被原地取代
//
// 新規則建立 Idle 狀態；取代時保留既有的觸發狀態並更新閾值，重置評估節流。
func (e *Engine) AddRule(rule types.AlertRule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	if rule.Severity == "" {
		rule.Severity = types.PriorityMedium
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.lastEvaluated, rule.Name)
	if i := e.indexLocked(rule.Name); i >= 0 {
		e.rules[i] = rule
		status := e.statuses[rule.Name]
		status.RuleName = rule.Name
		status.Threshold = rule.Threshold
		e.statuses[rule.Name] = status
		return nil
	}
	e.rules = append(e.rules, rule)
	e.statuses[rule.Name] = types.AlertStatus{RuleName: rule.Name, Threshold: rule.Threshold}
	return nil
}

// RemoveRule 移除規則與其狀態，回傳規則是否存在
//
// 觸發中的規則被移除時通知 Observer.AlertResolved，讓觸發中計數歸位。
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	i := e.indexLocked(name)
	if i < 0 {
		e.mu.Unlock()
		return false
	}
	e.rules = slices.Delete(e.rules, i, i+1)
	wasFiring := e.statuses[name].Firing
	delete(e.statuses, name)
	delete(e.lastEvaluated, name)
	e.mu.Unlock()

	if wasFiring {
		e.observer.AlertResolved(name)
	}
	return true
}

// Rules 回傳所有規則的副本（註冊順序）
func (e *Engine) Rules() []types.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.rules)
}

func (e *Engine) indexLocked(name string) int {
	return slices.IndexFunc(e.rules, func(r types.AlertRule) bool { return r.Name == name })
}

// ============================================================================
// 評估
// ============================================================================

// Evaluate 依註冊順序評估所有啟用的規則
//
// ctx 被取消時停止評估剩餘規則並回傳 ctx.Err()。
func (e *Engine) Evaluate(ctx context.Context) error {
	rules := e.Rules()

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !rule.Enabled {
			continue
		}

		t, err := e.evaluateRule(rule)
		if err != nil {
			e.observer.EvaluationFailed(rule.Name)
			e.logger.Error("Alert rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		if t != nil {
			e.notify(*t)
		}
	}
	return nil
}

// evaluateRule 評估單一規則，panic 會轉成 error
func (e *Engine) evaluateRule(rule types.AlertRule) (t *transition, err error) {
	defer func() {
		if r := recover(); r != nil {
			t = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	now := clock.NowMillis(e.clock)
	if e.throttled(rule, now) {
		return nil, nil
	}

	m, ok := e.source.Latest(rule.MetricName)
	if !ok {
		return nil, nil
	}
	value, err := m.Value()
	if err != nil {
		return nil, err
	}
	breached, err := compare(rule.Operator, value, rule.Threshold)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// 規則可能在評估期間被移除
	if e.indexLocked(rule.Name) < 0 {
		return nil, nil
	}
	e.lastEvaluated[rule.Name] = now

	status := e.statuses[rule.Name]
	status.RuleName = rule.Name
	status.Threshold = rule.Threshold

	switch {
	case breached && !status.Firing:
		at := monotonic(now, status)
		status = types.AlertStatus{
			RuleName:     rule.Name,
			Firing:       true,
			FiredAt:      &at,
			ResolvedAt:   status.ResolvedAt,
			CurrentValue: value,
			Threshold:    rule.Threshold,
			Message:      message(rule, value),
		}
		e.statuses[rule.Name] = status
		return &transition{rule: rule, status: status, fired: true}, nil

	case !breached && status.Firing:
		at := monotonic(now, status)
		status.Firing = false
		status.ResolvedAt = &at
		status.CurrentValue = value
		status.Message = resolvedMessage(rule, value)
		e.statuses[rule.Name] = status
		return &transition{rule: rule, status: status}, nil
	}

	status.CurrentValue = value
	e.statuses[rule.Name] = status
	return nil, nil
}

func (e *Engine) throttled(rule types.AlertRule, now int64) bool {
	if rule.EvaluationPeriodMs <= 0 {
		return false
	}
	e.mu.Lock()
	last, ok := e.lastEvaluated[rule.Name]
	e.mu.Unlock()
	return ok && now-last < rule.EvaluationPeriodMs
}

// notify 在鎖外呼叫 Notifier
func (e *Engine) notify(t transition) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Alert notifier panicked", "rule", t.rule.Name, "panic", r)
		}
	}()

	if t.fired {
		e.observer.AlertFired(t.rule.Name, t.rule.Severity)
		e.notifier.OnAlertFired(t.rule, t.status)
		return
	}
	e.observer.AlertResolved(t.rule.Name)
	e.notifier.OnAlertResolved(t.rule, t.status)
}

// monotonic 確保同一規則的時間戳不倒退
func monotonic(now int64, prev types.AlertStatus) int64 {
	for _, p := range []*int64{prev.FiredAt, prev.ResolvedAt} {
		if p != nil && *p > now {
			now = *p
		}
	}
	return now
}

func message(rule types.AlertRule, value float64) string {
	desc := rule.Description
	if desc == "" {
		desc = rule.Name
	}
	return fmt.Sprintf("%s: %s=%g %s %g", desc, rule.MetricName, value, rule.Operator, rule.Threshold)
}

func resolvedMessage(rule types.AlertRule, value float64) string {
	desc := rule.Description
	if desc == "" {
		desc = rule.Name
	}
	return fmt.Sprintf("%s: resolved, %s=%g", desc, rule.MetricName, value)
}

func compare(op types.Operator, value, threshold float64) (bool, error) {
	switch op {
	case types.OpGreaterThan:
		return value > threshold, nil
	case types.OpGreaterOrEqual:
		return value >= threshold, nil
	case types.OpLessThan:
		return value < threshold, nil
	case types.OpLessOrEqual:
		return value <= threshold, nil
	case types.OpEqual:
		return value == threshold, nil
	case types.OpNotEqual:
		return value != threshold, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// ============================================================================
// 狀態查詢
// ============================================================================

// Status 回傳單一規則的狀態，規則不存在時回傳 false
func (e *Engine) Status(name string) (types.AlertStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.statuses[name]
	return s, ok
}

// Statuses 回傳所有狀態，以規則名稱為鍵
func (e *Engine) Statuses() map[string]types.AlertStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return maps.Clone(e.statuses)
}

// StatusList 回傳所有狀態，依規則註冊順序
func (e *Engine) StatusList() []types.AlertStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.AlertStatus, 0, len(e.statuses))
	for _, r := range e.rules {
		if s, ok := e.statuses[r.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Firing 回傳目前觸發中的狀態，依規則註冊順序
func (e *Engine) Firing() []types.AlertStatus {
	return slices.DeleteFunc(e.StatusList(), func(s types.AlertStatus) bool { return !s.Firing })
}

// Reset 清除所有規則、狀態與評估紀錄
//
// 狀態與規則一起清除，Reset 之後 Statuses 為空。
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = nil
	e.statuses = make(map[string]types.AlertStatus)
	e.lastEvaluated = make(map[string]int64)
}
