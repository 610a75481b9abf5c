package collector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/cachemon/internal/recorder"
	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentProducers 多個 goroutine 同時寫入時計數不遺失，且歷史受上限約束
func TestConcurrentProducers(t *testing.T) {
	c, _ := createTestCollector(t, func(cfg *Config) { cfg.MaxMetrics = 100 })

	const producers = 8
	const perProducer = 250

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				c.RecordCacheHit(fmt.Sprintf("profile:%d", i))
				c.RecordGauge("queue_depth", float64(i), recorder.WithTag("producer", fmt.Sprint(p)))
			}
		}()
	}

	// 寫入期間同時讀取與評估
	ctx, cancel := context.WithCancel(context.Background())
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for ctx.Err() == nil {
			c.QueryMetrics(types.MetricQuery{MetricNames: []string{recorder.MetricCacheHits}, Limit: 5})
			c.GenerateDashboardData()
			_ = c.EvaluateAlerts(ctx)
		}
	}()

	wg.Wait()
	cancel()
	<-readerDone

	latest, ok := c.store.LatestOf(recorder.MetricCacheHits, types.TypeCounter)
	require.True(t, ok)
	assert.Equal(t, float64(producers*perProducer), latest.Counter.Count, "running sum must include every increment")

	assert.Equal(t, 100, c.store.Len(recorder.MetricCacheHits))
	assert.Equal(t, 100, c.store.Len("queue_depth"))
	assert.InDelta(t, 1.0, c.HitRate(), 1e-9)
}

func BenchmarkRecordCacheHit(b *testing.B) {
	cfg := DefaultConfig()
	cfg.AlertInterval = time.Hour
	cfg.MemorySampler = nil
	c, err := New(cfg)
	require.NoError(b, err)
	defer c.Dispose()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.RecordCacheHit("timeline:home")
	}
	b.StopTimer()
}

func BenchmarkQuery(b *testing.B) {
	cfg := DefaultConfig()
	cfg.AlertInterval = time.Hour
	cfg.MemorySampler = nil
	c, err := New(cfg)
	require.NoError(b, err)
	defer c.Dispose()

	for i := range 1000 {
		c.RecordAPIRequest("/xrpc/app.bsky.feed.getTimeline", "GET", 200, time.Duration(i)*time.Millisecond)
	}
	q := types.MetricQuery{
		MetricNames: []string{recorder.MetricOperationDuration},
		SortBy:      types.SortByValue,
		SortOrder:   types.SortDesc,
		Limit:       10,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.QueryMetrics(q)
	}
	b.StopTimer()
}
