// ============================================================================
// cachemon 排程器 - 週期性任務
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 以固定間隔執行具名任務（告警評估、定期匯出）
//
// 運作方式:
//   - 每個任務一個 goroutine，以 time.Ticker 驅動
//   - 所有任務共用一把執行鎖，同一時間只有一個任務在跑
//   - 任務的 panic 被攔截並記錄，循環繼續
//
// 關閉流程:
//   1. 取消共用 context（通知執行中的任務）
//   2. 關閉每個任務的 stopCh
//   3. sync.WaitGroup 等待所有循環退出
//
// ============================================================================

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

var (
	// ErrStopped 排程器已停止
	ErrStopped = errors.New("scheduler: stopped")
	// ErrInvalidInterval 間隔必須大於 0
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")
)

// Task 週期任務，ctx 在排程器停止時被取消
type Task func(ctx context.Context)

type job struct {
	stopCh chan struct{}
	done   chan struct{}
}

// Scheduler 週期任務排程器
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool

	runMu  sync.Mutex // 序列化任務執行
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New 建立排程器，logger 為 nil 時使用 slog.Default()
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Every 每隔 interval 執行一次 task，第一次在一個間隔之後
//
// 同名任務會先被取消再重新啟動。不可在任務內呼叫。
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s got %v", ErrInvalidInterval, name, interval)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	old := s.jobs[name]
	j := &job{stopCh: make(chan struct{}), done: make(chan struct{})}
	s.jobs[name] = j
	s.wg.Add(1)
	s.mu.Unlock()

	if old != nil {
		close(old.stopCh)
		<-old.done
	}

	go s.loop(name, interval, task, j)
	s.logger.Debug("Job scheduled", "job", name, "interval", interval)
	return nil
}

// Cancel 停止具名任務並等待其退出，回傳任務是否存在
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	close(j.stopCh)
	<-j.done
	return true
}

// Running 回傳所有執行中的任務名稱（字典序）
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.jobs))
}

// Stop 停止所有任務並等待退出，可重複呼叫
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	jobs := s.jobs
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	s.cancel()
	for _, j := range jobs {
		close(j.stopCh)
	}
	s.wg.Wait()
	s.logger.Debug("Scheduler stopped")
}

func (s *Scheduler) loop(name string, interval time.Duration, task Task, j *job) {
	defer s.wg.Done()
	defer close(j.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			s.logger.Debug("Job stopped", "job", name)
			return

		case <-ticker.C:
			s.run(name, task, j)
		}
	}
}

func (s *Scheduler) run(name string, task Task, j *job) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	// 等鎖期間可能已被取消
	select {
	case <-j.stopCh:
		return
	default:
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job panicked", "job", name, "panic", r)
		}
	}()
	task(s.ctx)
}
