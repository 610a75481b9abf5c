// ============================================================================
// cachemon Telemetry - Prometheus 自我監控指標
// ============================================================================
//
// Package: internal/telemetry
// 文件: telemetry.go
// 功能: 將監控引擎本身的運作狀況暴露為 Prometheus 指標
//
// 指標分類:
//
//   1. 寫入與淘汰 (Counter)：
//      - cachemon_records_total{type}: 寫入的紀錄數
//      - cachemon_records_evicted_total{metric}: 被淘汰的紀錄數
//
//   2. 告警 (Counter / Gauge)：
//      - cachemon_alerts_fired_total{rule,severity}
//      - cachemon_alerts_resolved_total{rule}
//      - cachemon_alerts_firing: 目前觸發中的規則數
//      - cachemon_alert_evaluation_failures_total{rule}
//
//   3. 匯出 (Counter / Histogram)：
//      - cachemon_exports_total{sink,result}
//      - cachemon_export_size_bytes
//
//   4. 儲存橋接（抓取時計算，見 bridge.go）：
//      - cachemon_metric_value{metric,type}: 每個指標各類型的最新值
//      - cachemon_store_series / cachemon_store_records
//
// 所有指標帶有常數標籤 instance_id，區分同一行程內的多個 Collector。
//
// ============================================================================

package telemetry

import (
	"fmt"
	"net/http"

	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cachemon"

// Collector Prometheus 指標收集器
//
// 同時實作 store.Observer、alert.Observer 與 export.Observer。
type Collector struct {
	// 寫入相關指標
	recordsTotal *prometheus.CounterVec
	evictedTotal *prometheus.CounterVec

	// 告警指標
	alertsFired        *prometheus.CounterVec
	alertsResolved     *prometheus.CounterVec
	alertsFiring       prometheus.Gauge
	evaluationFailures *prometheus.CounterVec

	// 匯出指標
	exportsTotal *prometheus.CounterVec
	exportSize   prometheus.Histogram

	registerer prometheus.Registerer
}

// NewCollector 建立並註冊指標收集器
//
// 參數：
//   - reg: 註冊目標，nil 時使用 prometheus.DefaultRegisterer
//   - instanceID: 常數標籤 instance_id 的值，空字串時不加標籤
func NewCollector(reg prometheus.Registerer, instanceID string) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if instanceID != "" {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"instance_id": instanceID}, reg)
	}

	c := &Collector{
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of metric records written",
		}, []string{"type"}),
		evictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_evicted_total",
			Help:      "Total number of records dropped by count cap or retention",
		}, []string{"metric"}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Total number of Idle to Firing transitions",
		}, []string{"rule", "severity"}),
		alertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_resolved_total",
			Help:      "Total number of Firing to Idle transitions",
		}, []string{"rule"}),
		alertsFiring: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_firing",
			Help:      "Current number of firing alert rules",
		}),
		evaluationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_evaluation_failures_total",
			Help:      "Total number of rule evaluations that errored or panicked",
		}, []string{"rule"}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of export attempts",
		}, []string{"sink", "result"}),
		exportSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_size_bytes",
			Help:      "Size of delivered export payloads in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		registerer: reg,
	}

	for _, m := range []prometheus.Collector{
		c.recordsTotal, c.evictedTotal,
		c.alertsFired, c.alertsResolved, c.alertsFiring, c.evaluationFailures,
		c.exportsTotal, c.exportSize,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register telemetry: %w", err)
		}
	}
	return c, nil
}

// RegisterStore 註冊儲存橋接，抓取時讀取 src 的最新值
func (c *Collector) RegisterStore(src StoreSource) error {
	if err := c.registerer.Register(newStoreBridge(src)); err != nil {
		return fmt.Errorf("register store bridge: %w", err)
	}
	return nil
}

// MetricStored 記錄寫入
func (c *Collector) MetricStored(m types.Metric) {
	c.recordsTotal.WithLabelValues(string(m.Type)).Inc()
}

// MetricsEvicted 記錄淘汰
func (c *Collector) MetricsEvicted(name string, n int) {
	c.evictedTotal.WithLabelValues(name).Add(float64(n))
}

// AlertFired 記錄告警觸發
func (c *Collector) AlertFired(rule string, severity types.Priority) {
	c.alertsFired.WithLabelValues(rule, string(severity)).Inc()
	c.alertsFiring.Inc()
}

// AlertResolved 記錄告警解除
func (c *Collector) AlertResolved(rule string) {
	c.alertsResolved.WithLabelValues(rule).Inc()
	c.alertsFiring.Dec()
}

// EvaluationFailed 記錄規則評估失敗
func (c *Collector) EvaluationFailed(rule string) {
	c.evaluationFailures.WithLabelValues(rule).Inc()
}

// ExportSucceeded 記錄匯出成功
func (c *Collector) ExportSucceeded(sink string, bytes int) {
	c.exportsTotal.WithLabelValues(sink, "success").Inc()
	c.exportSize.Observe(float64(bytes))
}

// ExportFailed 記錄匯出失敗
func (c *Collector) ExportFailed(sink string) {
	c.exportsTotal.WithLabelValues(sink, "failure").Inc()
}

// ResetFiring 將觸發中告警數歸零（告警狀態被清除時呼叫）
func (c *Collector) ResetFiring() {
	c.alertsFiring.Set(0)
}

// Handler 回傳 g 的 Prometheus HTTP handler
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
