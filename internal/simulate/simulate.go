// Package simulate drives a synthetic client-cache workload through the
// recorder API: cache lookups that miss fall through to an API call with
// random latency and occasional failures.
package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/ChuLiYu/cachemon/pkg/types"
)

// Target receives the simulated events. *collector.Collector satisfies it.
type Target interface {
	RecordCacheHit(key string) types.Metric
	RecordCacheMiss(key string) types.Metric
	RecordAPIRequest(endpoint, method string, status int, duration time.Duration) types.Metric
	RecordAPIError(endpoint, method string, status int, errType string) types.Metric
	RecordRetry(endpoint string, attempt int) types.Metric
	RecordCacheSize(size int) types.Metric
	RecordActiveRequests(n int) types.Metric
}

// Config shapes the workload.
type Config struct {
	Keys      int     // distinct keys per category
	HitRatio  float64 // probability a lookup is served from cache
	ErrorRate float64 // probability an API call fails
	Seed      uint64  // 0 picks a random seed
}

var categories = []struct {
	prefix   string
	endpoint string
}{
	{"profile", "/xrpc/app.bsky.actor.getProfile"},
	{"timeline", "/xrpc/app.bsky.feed.getTimeline"},
	{"thread", "/xrpc/app.bsky.feed.getPostThread"},
	{"notifications", "/xrpc/app.bsky.notification.listNotifications"},
}

// Simulator produces one lookup per Step.
type Simulator struct {
	target Target

	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	cached map[string]struct{}
}

// New returns a simulator writing to target.
func New(target Target, cfg Config) *Simulator {
	if cfg.Keys <= 0 {
		cfg.Keys = 50
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		target: target,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		cached: make(map[string]struct{}),
	}
}

// SetHitRatio changes the hit probability of later steps.
func (s *Simulator) SetHitRatio(r float64) {
	s.mu.Lock()
	s.cfg.HitRatio = r
	s.mu.Unlock()
}

// SetErrorRate changes the API failure probability of later steps.
func (s *Simulator) SetErrorRate(r float64) {
	s.mu.Lock()
	s.cfg.ErrorRate = r
	s.mu.Unlock()
}

// Step simulates one cache lookup.
func (s *Simulator) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat := categories[s.rng.IntN(len(categories))]
	key := fmt.Sprintf("%s:%d", cat.prefix, s.rng.IntN(s.cfg.Keys))

	if s.rng.Float64() < s.cfg.HitRatio {
		s.target.RecordCacheHit(key)
		return
	}
	s.target.RecordCacheMiss(key)

	s.target.RecordActiveRequests(1)
	defer s.target.RecordActiveRequests(0)

	latency := time.Duration((20 + s.rng.ExpFloat64()*80) * float64(time.Millisecond))
	if s.rng.Float64() < s.cfg.ErrorRate {
		status := http.StatusServiceUnavailable
		if s.rng.IntN(2) == 0 {
			status = http.StatusTooManyRequests
		}
		s.target.RecordAPIRequest(cat.endpoint, http.MethodGet, status, latency)
		s.target.RecordAPIError(cat.endpoint, http.MethodGet, status, http.StatusText(status))
		s.target.RecordRetry(cat.endpoint, 1)
		return
	}

	s.target.RecordAPIRequest(cat.endpoint, http.MethodGet, http.StatusOK, latency)
	s.cached[key] = struct{}{}
	s.target.RecordCacheSize(len(s.cached))
}

// Run calls Step every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}
