package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/cachemon/internal/clock"
	"github.com/ChuLiYu/cachemon/internal/recorder"
	"github.com/ChuLiYu/cachemon/internal/store"
	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg, "")
	require.NoError(t, err)
	return c, reg
}

func TestNewCollector(t *testing.T) {
	c, _ := newTestCollector(t)

	assert.NotNil(t, c.recordsTotal)
	assert.NotNil(t, c.alertsFiring)
	assert.NotNil(t, c.exportSize)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg, "")
	require.NoError(t, err)

	_, err = NewCollector(reg, "")
	assert.Error(t, err)
}

func TestInstanceLabelsKeepCollectorsApart(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg, "a")
	require.NoError(t, err)
	_, err = NewCollector(reg, "b")
	require.NoError(t, err)

	a.MetricStored(types.Metric{Type: types.TypeGauge})

	expected := `
# HELP cachemon_records_total Total number of metric records written
# TYPE cachemon_records_total counter
cachemon_records_total{instance_id="a",type="gauge"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cachemon_records_total"))
}

func TestStoreObserver(t *testing.T) {
	c, _ := newTestCollector(t)
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := store.New(store.Config{MaxMetrics: 2}, clk, store.WithObserver(c))
	r := recorder.New(s, clk)

	for range 5 {
		r.Increment("hits")
	}
	r.RecordGauge("size", 1)

	assert.Equal(t, 5.0, testutil.ToFloat64(c.recordsTotal.WithLabelValues("counter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordsTotal.WithLabelValues("gauge")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.evictedTotal.WithLabelValues("hits")))
}

func TestAlertObserver(t *testing.T) {
	c, _ := newTestCollector(t)

	c.AlertFired("low-hit-rate", types.PriorityHigh)
	c.AlertFired("errors", types.PriorityCritical)
	c.AlertResolved("low-hit-rate")
	c.EvaluationFailed("broken")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsFiring))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsFired.WithLabelValues("errors", "critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evaluationFailures.WithLabelValues("broken")))

	c.ResetFiring()
	assert.Zero(t, testutil.ToFloat64(c.alertsFiring))
}

func TestExportObserver(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ExportSucceeded("console", 2048)
	c.ExportSucceeded("console", 512)
	c.ExportFailed("redis")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.exportsTotal.WithLabelValues("console", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.exportsTotal.WithLabelValues("redis", "failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.exportSize))
}

func TestStoreBridge(t *testing.T) {
	c, reg := newTestCollector(t)
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := store.New(store.Config{}, clk)
	r := recorder.New(s, clk)
	require.NoError(t, c.RegisterStore(s))

	r.IncrementCounter("cache_hits", 3)
	r.RecordCacheSize(42)
	r.RecordGauge("cache_hits", 7)

	expected := `
# HELP cachemon_metric_value Latest value of each recorded metric by type
# TYPE cachemon_metric_value gauge
cachemon_metric_value{metric="cache_hits",type="counter"} 3
cachemon_metric_value{metric="cache_hits",type="gauge"} 7
cachemon_metric_value{metric="cache_size",type="gauge"} 42
# HELP cachemon_store_records Number of records held in the store
# TYPE cachemon_store_records gauge
cachemon_store_records 3
# HELP cachemon_store_series Number of metric names held in the store
# TYPE cachemon_store_series gauge
cachemon_store_series 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"cachemon_metric_value", "cachemon_store_records", "cachemon_store_series"))
}

func TestHandler(t *testing.T) {
	c, reg := newTestCollector(t)
	c.ExportFailed("redis")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `cachemon_exports_total{result="failure",sink="redis"} 1`)
}
