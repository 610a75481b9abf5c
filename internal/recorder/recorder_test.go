package recorder

import (
	"math"
	"testing"
	"time"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/internal/store"
	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestRecorder() (*Recorder, *store.Store, *clock.Manual) {
	clk := clock.NewManual(t0)
	s := store.New(store.Config{MaxMetrics: 1000, Retention: time.Hour}, clk)
	return New(s, clk), s, clk
}

func TestIncrementCounterRunningSum(t *testing.T) {
	r, s, _ := newTestRecorder()

	increments := []float64{1, 5, 2, -3, 10}
	want := 0.0
	for _, k := range increments {
		want += k
		m := r.IncrementCounter("requests", k)
		require.NotNil(t, m.Counter)
		assert.Equal(t, want, m.Counter.Count)
		assert.Equal(t, k, m.Counter.Increment)
	}

	history := s.History("requests")
	require.Len(t, history, len(increments))
	running := 0.0
	for i, m := range history {
		running += increments[i]
		assert.Equal(t, running, m.Counter.Count)
	}
}

func TestIncrementDefaults(t *testing.T) {
	r, _, _ := newTestRecorder()

	m := r.Increment("x")
	assert.Equal(t, 1.0, m.Counter.Count)
	assert.Equal(t, types.PriorityMedium, m.Priority)
	assert.NotNil(t, m.Tags)
	assert.Equal(t, t0.UnixMilli(), m.Timestamp)
}

func TestOptions(t *testing.T) {
	r, _, _ := newTestRecorder()

	m := r.IncrementCounter("x", 1,
		WithTags(map[string]string{"env": "test", "region": "eu"}),
		WithTag("region", "us"),
		WithPriority(types.PriorityCritical),
		WithPriority("bogus"),
		WithDescription("requests served"),
	)

	assert.Equal(t, map[string]string{"env": "test", "region": "us"}, m.Tags)
	assert.Equal(t, types.PriorityCritical, m.Priority)
	assert.Equal(t, "requests served", m.Description)
}

func TestTagsAreCopied(t *testing.T) {
	r, _, _ := newTestRecorder()

	tags := map[string]string{"env": "test"}
	m := r.RecordGauge("g", 1, WithTags(tags))
	tags["env"] = "prod"

	assert.Equal(t, "test", m.Tags["env"])
}

func TestRecordGaugePreviousValue(t *testing.T) {
	r, _, _ := newTestRecorder()

	first := r.RecordGauge("cache_size", 10)
	assert.Nil(t, first.Gauge.PreviousValue)

	second := r.RecordGauge("cache_size", 25)
	require.NotNil(t, second.Gauge.PreviousValue)
	assert.Equal(t, 10.0, *second.Gauge.PreviousValue)
	assert.Equal(t, 25.0, second.Gauge.Value)
}

func TestRecordHistogram(t *testing.T) {
	r, _, _ := newTestRecorder()

	in := []float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5}
	m := r.RecordHistogram("latency", in)

	require.NotNil(t, m.Histogram)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, m.Histogram.Values)
	assert.Equal(t, 10.0, in[0], "input must not be reordered")
	assert.Equal(t, 10, m.Histogram.Statistics.Count)
	assert.Equal(t, 5.5, m.Histogram.Statistics.Median)
	assert.Equal(t, 9, m.Histogram.Buckets["0-10"])
	assert.Equal(t, 1, m.Histogram.Buckets["10-50"])
}

func TestRecordHistogramEmpty(t *testing.T) {
	r, _, _ := newTestRecorder()

	assert.NotPanics(t, func() {
		m := r.RecordHistogram("empty", nil)
		assert.Equal(t, 0, m.Histogram.Statistics.Count)
		assert.Empty(t, m.Histogram.Values)

		v, err := m.Value()
		require.NoError(t, err)
		assert.Zero(t, v)
	})
}

func TestRecordTimer(t *testing.T) {
	r, _, _ := newTestRecorder()

	start := t0
	end := t0.Add(250 * time.Millisecond)
	m := r.RecordTimer("db_query", start, end, "select")

	require.NotNil(t, m.Timer)
	assert.Equal(t, 250.0, m.Timer.DurationMs)
	assert.Equal(t, start.UnixMilli(), m.Timer.StartTime)
	assert.Equal(t, end.UnixMilli(), m.Timer.EndTime)
	assert.Equal(t, "select", m.Timer.OperationName)
}

func TestStartTimer(t *testing.T) {
	r, s, clk := newTestRecorder()

	stop := r.StartTimer("fetch_profile")
	clk.Advance(120 * time.Millisecond)
	m := stop()

	assert.Equal(t, MetricOperationDuration, m.Name)
	assert.Equal(t, 120.0, m.Timer.DurationMs)
	assert.Equal(t, "fetch_profile", m.Tags["operation"])

	clk.Advance(time.Second)
	again := stop()
	assert.Equal(t, m, again, "stop is idempotent")
	assert.Equal(t, 1, s.Len(MetricOperationDuration))
}

func TestCounterAndGaugeShareNameIndependently(t *testing.T) {
	r, _, _ := newTestRecorder()

	r.IncrementCounter("mixed", 2)
	r.RecordGauge("mixed", 100)
	m := r.IncrementCounter("mixed", 3)

	assert.Equal(t, 5.0, m.Counter.Count, "counter reads the latest counter, not the latest record")
}

func TestNonFiniteValuesRecordedAsZero(t *testing.T) {
	r, _, _ := newTestRecorder()

	g := r.RecordGauge("latency", math.Inf(1))
	assert.Zero(t, g.Gauge.Value)

	g = r.RecordGauge("latency", 3)
	require.NotNil(t, g.Gauge.PreviousValue)
	assert.Zero(t, *g.Gauge.PreviousValue)

	c := r.IncrementCounter("requests", math.NaN())
	assert.Zero(t, c.Counter.Count)
	assert.Zero(t, c.Counter.Increment)
	c = r.IncrementCounter("requests", 2)
	assert.Equal(t, 2.0, c.Counter.Count)

	values := []float64{math.NaN(), 4, math.Inf(-1)}
	h := r.RecordHistogram("sizes", values)
	assert.Equal(t, []float64{0, 0, 4}, h.Histogram.Values)
	assert.InDelta(t, 4.0/3.0, h.Histogram.Statistics.Mean, 1e-9)
	assert.Equal(t, 3, h.Histogram.Buckets["0-10"])
	assert.True(t, math.IsNaN(values[0]), "input slice untouched")
}
