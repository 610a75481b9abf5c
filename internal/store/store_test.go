package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// newTestStore creates a store driven by a manual clock
func newTestStore(cfg Config) (*Store, *clock.Manual) {
	clk := clock.NewManual(t0)
	return New(cfg, clk), clk
}

// gauge builds a gauge record stamped at the clock's current time
func gauge(clk clock.Clock, name string, v float64) types.Metric {
	return types.Metric{
		Name:      name,
		Type:      types.TypeGauge,
		Priority:  types.PriorityMedium,
		Tags:      map[string]string{},
		Timestamp: clock.NowMillis(clk),
		Gauge:     &types.GaugeData{Value: v},
	}
}

type countingObserver struct {
	mu      sync.Mutex
	stored  int
	evicted map[string]int
}

func (o *countingObserver) MetricStored(types.Metric) {
	o.mu.Lock()
	o.stored++
	o.mu.Unlock()
}

func (o *countingObserver) MetricsEvicted(name string, n int) {
	o.mu.Lock()
	if o.evicted == nil {
		o.evicted = make(map[string]int)
	}
	o.evicted[name] += n
	o.mu.Unlock()
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

func TestAppendAndHistory(t *testing.T) {
	s, clk := newTestStore(Config{MaxMetrics: 10})

	for i := 0; i < 3; i++ {
		s.Append(gauge(clk, "cache_size", float64(i)))
		clk.Advance(time.Second)
	}

	history := s.History("cache_size")
	require.Len(t, history, 3)
	for i, m := range history {
		assert.Equal(t, float64(i), m.Gauge.Value)
	}
	assert.Equal(t, 3, s.Len("cache_size"))
	assert.Nil(t, s.History("unknown"))
}

func TestLatestIndex(t *testing.T) {
	s, clk := newTestStore(Config{})

	_, ok := s.Latest("mixed")
	assert.False(t, ok, "no latest before first write")

	s.Append(gauge(clk, "mixed", 1))
	s.Append(types.Metric{
		Name:      "mixed",
		Type:      types.TypeCounter,
		Timestamp: clock.NowMillis(clk),
		Counter:   &types.CounterData{Count: 7, Increment: 7},
	})

	latest, ok := s.Latest("mixed")
	require.True(t, ok)
	assert.Equal(t, types.TypeCounter, latest.Type)

	g, ok := s.LatestOf("mixed", types.TypeGauge)
	require.True(t, ok)
	assert.Equal(t, 1.0, g.Gauge.Value)

	_, ok = s.LatestOf("mixed", types.TypeTimer)
	assert.False(t, ok)
}

func TestAppendWithSeesPrevious(t *testing.T) {
	s, clk := newTestStore(Config{})

	var seen []*types.Metric
	for i := 1; i <= 2; i++ {
		s.AppendWith("g", types.TypeGauge, func(prev *types.Metric) types.Metric {
			seen = append(seen, prev)
			return gauge(clk, "g", float64(i))
		})
	}

	require.Len(t, seen, 2)
	assert.Nil(t, seen[0])
	require.NotNil(t, seen[1])
	assert.Equal(t, 1.0, seen[1].Gauge.Value)
}

// ============================================================================
// Eviction Tests
// ============================================================================

func TestMaxMetricsDropsOldest(t *testing.T) {
	obs := &countingObserver{}
	clk := clock.NewManual(t0)
	s := New(Config{MaxMetrics: 5}, clk, WithObserver(obs))

	for i := 0; i < 12; i++ {
		s.Append(gauge(clk, "hits", float64(i)))
		assert.LessOrEqual(t, s.Len("hits"), 5)
	}

	history := s.History("hits")
	require.Len(t, history, 5)
	assert.Equal(t, 7.0, history[0].Gauge.Value, "oldest entries are the ones dropped")
	assert.Equal(t, 11.0, history[4].Gauge.Value)
	assert.Equal(t, 12, obs.stored)
	assert.Equal(t, 7, obs.evicted["hits"])
}

func TestRetentionEvictsOnWrite(t *testing.T) {
	s, clk := newTestStore(Config{MaxMetrics: 100, Retention: time.Minute})

	s.Append(gauge(clk, "size", 1))
	clk.Advance(30 * time.Second)
	s.Append(gauge(clk, "size", 2))
	clk.Advance(45 * time.Second)

	// Nothing is swept until the next write.
	assert.Equal(t, 2, s.Len("size"))

	s.Append(gauge(clk, "size", 3))
	history := s.History("size")
	require.Len(t, history, 2)
	assert.Equal(t, 2.0, history[0].Gauge.Value)
	assert.Equal(t, 3.0, history[1].Gauge.Value)
}

func TestRetentionIsPerName(t *testing.T) {
	s, clk := newTestStore(Config{Retention: time.Minute})

	s.Append(gauge(clk, "a", 1))
	s.Append(gauge(clk, "b", 1))
	clk.Advance(2 * time.Minute)
	s.Append(gauge(clk, "a", 2))

	assert.Equal(t, 1, s.Len("a"))
	assert.Equal(t, 1, s.Len("b"), "b has not been written since")
}

// ============================================================================
// Read Tests
// ============================================================================

func TestSelectKeepsInsertionOrderAcrossNames(t *testing.T) {
	s, clk := newTestStore(Config{})

	order := []string{"b", "a", "b", "c", "a"}
	for i, name := range order {
		s.Append(gauge(clk, name, float64(i)))
	}

	all := s.Select(nil, nil)
	require.Len(t, all, 5)
	for i, m := range all {
		assert.Equal(t, order[i], m.Name)
		assert.Equal(t, float64(i), m.Gauge.Value)
	}

	some := s.Select([]string{"a", "a", "missing"}, func(m types.Metric) bool { return m.Gauge.Value > 1 })
	require.Len(t, some, 1)
	assert.Equal(t, 4.0, some[0].Gauge.Value)
}

func TestSnapshotAndStats(t *testing.T) {
	s, clk := newTestStore(Config{})
	s.Append(gauge(clk, "x", 1))
	s.Append(gauge(clk, "x", 2))
	s.Append(gauge(clk, "y", 3))

	snap := s.Snapshot()
	assert.Len(t, snap["x"], 2)
	assert.Len(t, snap["y"], 1)

	stats := s.Stats()
	assert.Equal(t, 2, stats["series"])
	assert.Equal(t, 3, stats["records"])
	assert.Equal(t, []string{"x", "y"}, s.Names())
}

func TestReset(t *testing.T) {
	s, clk := newTestStore(Config{})
	s.Append(gauge(clk, "x", 1))

	s.Reset()

	assert.Empty(t, s.Snapshot())
	_, ok := s.Latest("x")
	assert.False(t, ok)
	assert.NotPanics(t, s.Reset)
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentAppendWith(t *testing.T) {
	s, clk := newTestStore(Config{MaxMetrics: 1000})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.AppendWith("count", types.TypeCounter, func(prev *types.Metric) types.Metric {
					last := 0.0
					if prev != nil {
						last = prev.Counter.Count
					}
					return types.Metric{
						Type:      types.TypeCounter,
						Timestamp: clock.NowMillis(clk),
						Counter:   &types.CounterData{Count: last + 1, Increment: 1},
						Tags:      map[string]string{"worker": fmt.Sprint(w)},
					}
				})
			}
		}(w)
	}
	wg.Wait()

	latest, ok := s.LatestOf("count", types.TypeCounter)
	require.True(t, ok)
	assert.Equal(t, 400.0, latest.Counter.Count)
}

func TestUpdateWritesSeveralNamesAtomically(t *testing.T) {
	obs := &countingObserver{}
	clk := clock.NewManual(t0)
	s := New(Config{MaxMetrics: 1}, clk, WithObserver(obs))
	s.Append(gauge(clk, "a", 0))

	s.Update(func(tx *Txn) {
		tx.AppendWith("a", types.TypeGauge, func(prev *types.Metric) types.Metric {
			require.NotNil(t, prev)
			return gauge(clk, "a", prev.Gauge.Value+1)
		})

		// 同一交易內可讀到剛寫入的值
		latest, ok := tx.LatestOf("a", types.TypeGauge)
		require.True(t, ok)
		tx.AppendWith("b", types.TypeGauge, func(*types.Metric) types.Metric {
			return gauge(clk, "b", latest.Gauge.Value*10)
		})
	})

	b, ok := s.LatestOf("b", types.TypeGauge)
	require.True(t, ok)
	assert.Equal(t, 10.0, b.Gauge.Value)
	assert.Equal(t, 1, s.Len("a"))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 3, obs.stored)
	assert.Equal(t, map[string]int{"a": 1}, obs.evicted)
}
