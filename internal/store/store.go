// ============================================================================
// cachemon 指標儲存 - 依名稱分組的僅追加歷史
// ============================================================================
//
// Package: internal/store
// 文件: store.go
// 功能: 保存每個指標名稱的紀錄序列，並在每次寫入時執行淘汰
//
// 設計理念:
//   1. history - 每個名稱一個依插入順序排列的序列（時間戳非遞減）
//   2. latest 索引 - 每個名稱、每種類型的最新一筆，與序列在同一臨界區內更新
//   3. 全域序號 - 跨名稱查詢時維持插入順序
//
// 淘汰規則（每次寫入時執行，不另開清掃循環）:
//   - 長度上限：超過 MaxMetrics 時丟棄最舊的紀錄
//   - 保留時間：早於 now - Retention 的紀錄被丟棄
//
// 並發安全:
//   - 使用 sync.RWMutex 保護所有資料結構
//   - AppendWith 讓「讀最新值 -> 計算 -> 寫入」在同一把鎖內完成
//   - Update 讓跨名稱的多筆寫入（例如計數器與衍生的比率）在同一把鎖內完成
//
// ============================================================================

package store

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// Config 儲存配置
type Config struct {
	MaxMetrics int           // 每個名稱保留的最大筆數，<= 0 表示不限
	Retention  time.Duration // 最長保留時間，<= 0 表示不限
}

// Observer 接收寫入與淘汰事件，用於自我監控
type Observer interface {
	MetricStored(m types.Metric)
	MetricsEvicted(name string, n int)
}

type noopObserver struct{}

func (noopObserver) MetricStored(types.Metric) {}
func (noopObserver) MetricsEvicted(string, int) {}

// Option 調整 Store 的可選行為
type Option func(*Store)

// WithObserver 設定事件觀察者
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

type entry struct {
	seq    uint64
	metric types.Metric
}

type series struct {
	entries []entry
	latest  map[types.MetricType]types.Metric // 每種類型的最新一筆
	last    types.Metric                      // 不分類型的最新一筆
}

// Store 指標儲存
type Store struct {
	mu       sync.RWMutex
	series   map[string]*series
	seq      uint64
	config   Config
	clock    clock.Clock
	observer Observer
}

// New 建立儲存實例
func New(cfg Config, clk clock.Clock, opts ...Option) *Store {
	if clk == nil {
		clk = clock.System()
	}
	s := &Store{
		series:   make(map[string]*series),
		config:   cfg,
		clock:    clk,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append 寫入一筆紀錄並執行淘汰
func (s *Store) Append(m types.Metric) types.Metric {
	return s.AppendWith(m.Name, m.Type, func(*types.Metric) types.Metric { return m })
}

// AppendWith 在同一臨界區內讀取 name/typ 的最新紀錄、建立新紀錄並寫入
//
// build 收到的 prev 在沒有舊紀錄時為 nil。build 不可呼叫 Store 的方法。
func (s *Store) AppendWith(name string, typ types.MetricType, build func(prev *types.Metric) types.Metric) types.Metric {
	var m types.Metric
	s.Update(func(tx *Txn) {
		m = tx.AppendWith(name, typ, build)
	})
	return m
}

// Txn 在 Update 的臨界區內讀寫多個名稱
//
// 只能在 Update 的回呼中使用。
type Txn struct {
	s       *Store
	stored  []types.Metric
	evicted []eviction
}

type eviction struct {
	name string
	n    int
}

// Update 在單一臨界區內執行 fn，Observer 事件在解鎖後依寫入順序送出
//
// fn 不可呼叫 Store 的方法，只能透過 Txn 存取。
func (s *Store) Update(fn func(tx *Txn)) {
	tx := &Txn{s: s}

	s.mu.Lock()
	fn(tx)
	s.mu.Unlock()

	for _, m := range tx.stored {
		s.observer.MetricStored(m)
	}
	for _, ev := range tx.evicted {
		s.observer.MetricsEvicted(ev.name, ev.n)
	}
}

// LatestOf 回傳名稱下指定類型的最新一筆（含本交易中的寫入）
func (tx *Txn) LatestOf(name string, typ types.MetricType) (types.Metric, bool) {
	sr, ok := tx.s.series[name]
	if !ok {
		return types.Metric{}, false
	}
	m, ok := sr.latest[typ]
	return m, ok
}

// AppendWith 同 Store.AppendWith，但不另外加鎖
func (tx *Txn) AppendWith(name string, typ types.MetricType, build func(prev *types.Metric) types.Metric) types.Metric {
	s := tx.s
	sr, ok := s.series[name]
	if !ok {
		sr = &series{latest: make(map[types.MetricType]types.Metric)}
		s.series[name] = sr
	}

	var prev *types.Metric
	if p, ok := sr.latest[typ]; ok {
		prev = &p
	}

	m := build(prev)
	m.Name = name

	s.seq++
	sr.entries = append(sr.entries, entry{seq: s.seq, metric: m})
	sr.latest[m.Type] = m
	sr.last = m

	tx.stored = append(tx.stored, m)
	if n := s.evictLocked(sr); n > 0 {
		tx.evicted = append(tx.evicted, eviction{name: name, n: n})
	}
	return m
}

// evictLocked 依長度上限與保留時間丟棄最舊的紀錄，回傳丟棄筆數
func (s *Store) evictLocked(sr *series) int {
	drop := 0
	if limit := s.config.MaxMetrics; limit > 0 && len(sr.entries) > limit {
		drop = len(sr.entries) - limit
	}

	if s.config.Retention > 0 {
		cutoff := s.clock.Now().Add(-s.config.Retention).UnixMilli()
		for drop < len(sr.entries) && sr.entries[drop].metric.Timestamp < cutoff {
			drop++
		}
	}

	if drop > 0 {
		sr.entries = sr.entries[drop:]
	}
	return drop
}

// Latest 回傳名稱下不分類型的最新一筆
func (s *Store) Latest(name string) (types.Metric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[name]
	if !ok {
		return types.Metric{}, false
	}
	return sr.last, true
}

// LatestOf 回傳名稱下指定類型的最新一筆
func (s *Store) LatestOf(name string, typ types.MetricType) (types.Metric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[name]
	if !ok {
		return types.Metric{}, false
	}
	m, ok := sr.latest[typ]
	return m, ok
}

// History 回傳名稱下目前保留的紀錄（插入順序）
func (s *Store) History(name string) []types.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[name]
	if !ok {
		return nil
	}
	out := make([]types.Metric, len(sr.entries))
	for i, e := range sr.entries {
		out[i] = e.metric
	}
	return out
}

// Len 回傳名稱下目前保留的筆數
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sr, ok := s.series[name]; ok {
		return len(sr.entries)
	}
	return 0
}

// Names 回傳所有名稱（字典序）
func (s *Store) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Select 回傳 match 為 true 的紀錄，依全域插入順序排列
//
// names 非空時只掃描這些名稱。
func (s *Store) Select(names []string, match func(types.Metric) bool) []types.Metric {
	s.mu.RLock()
	var hits []entry
	scan := func(sr *series) {
		for _, e := range sr.entries {
			if match == nil || match(e.metric) {
				hits = append(hits, e)
			}
		}
	}
	if len(names) > 0 {
		for _, name := range slices.Compact(slices.Sorted(slices.Values(names))) {
			if sr, ok := s.series[name]; ok {
				scan(sr)
			}
		}
	} else {
		for _, sr := range s.series {
			scan(sr)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(hits, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	out := make([]types.Metric, len(hits))
	for i, e := range hits {
		out[i] = e.metric
	}
	return out
}

// Snapshot 回傳所有名稱的紀錄副本
func (s *Store) Snapshot() map[string][]types.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]types.Metric, len(s.series))
	for name, sr := range s.series {
		records := make([]types.Metric, len(sr.entries))
		for i, e := range sr.entries {
			records[i] = e.metric
		}
		out[name] = records
	}
	return out
}

// Stats 回傳儲存統計
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := 0
	for _, sr := range s.series {
		records += len(sr.entries)
	}
	return map[string]int{
		"series":  len(s.series),
		"records": records,
	}
}

// Reset 清空所有紀錄與最新值索引
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = make(map[string]*series)
}
