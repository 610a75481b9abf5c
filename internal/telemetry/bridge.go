package telemetry

import (
	"github.com/ChuLiYu/cachemon/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

// StoreSource is the read side of the metric store needed at scrape time.
type StoreSource interface {
	Names() []string
	LatestOf(name string, typ types.MetricType) (types.Metric, bool)
	Stats() map[string]int
}

var metricTypes = []types.MetricType{
	types.TypeCounter, types.TypeGauge, types.TypeHistogram, types.TypeTimer,
}

// storeBridge exposes the latest stored values as Prometheus gauges. Values
// are read on every scrape, nothing is cached.
type storeBridge struct {
	src     StoreSource
	value   *prometheus.Desc
	series  *prometheus.Desc
	records *prometheus.Desc
}

func newStoreBridge(src StoreSource) *storeBridge {
	return &storeBridge{
		src: src,
		value: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "metric_value"),
			"Latest value of each recorded metric by type",
			[]string{"metric", "type"}, nil,
		),
		series: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "series"),
			"Number of metric names held in the store",
			nil, nil,
		),
		records: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "records"),
			"Number of records held in the store",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (b *storeBridge) Describe(ch chan<- *prometheus.Desc) {
	ch <- b.value
	ch <- b.series
	ch <- b.records
}

// Collect implements prometheus.Collector.
func (b *storeBridge) Collect(ch chan<- prometheus.Metric) {
	stats := b.src.Stats()
	ch <- prometheus.MustNewConstMetric(b.series, prometheus.GaugeValue, float64(stats["series"]))
	ch <- prometheus.MustNewConstMetric(b.records, prometheus.GaugeValue, float64(stats["records"]))

	for _, name := range b.src.Names() {
		for _, typ := range metricTypes {
			m, ok := b.src.LatestOf(name, typ)
			if !ok {
				continue
			}
			v, err := m.Value()
			if err != nil {
				continue
			}
			ch <- prometheus.MustNewConstMetric(b.value, prometheus.GaugeValue, v, name, string(typ))
		}
	}
}
