package recorder

import (
	"strconv"
	"strings"
	"time"

	"github.com/ChuLiYu/cachemon/internal/store"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// Metric names used by the cache and API convenience wrappers.
const (
	MetricCacheHits      = "cache_hits"
	MetricCacheMisses    = "cache_misses"
	MetricCacheHitRate   = "cache_hit_rate"
	MetricCacheSize      = "cache_size"
	MetricAPIRequests    = "api_requests"
	MetricAPIErrors      = "api_errors"
	MetricAPIRetries     = "api_retries"
	MetricActiveRequests = "api_active_requests"
)

// KeyCategory reduces a cache key to a coarse category: the lowercased
// prefix before the first ':' or '/'. Keys without a separator are "other",
// empty prefixes are "unknown".
func KeyCategory(key string) string {
	key = strings.TrimSpace(key)
	i := strings.IndexAny(key, ":/")
	switch {
	case key == "" || i == 0:
		return "unknown"
	case i < 0:
		return "other"
	}
	return strings.ToLower(key[:i])
}

// RecordCacheHit counts a cache hit and refreshes the hit-rate gauge.
func (r *Recorder) RecordCacheHit(key string) types.Metric {
	return r.recordLookup(MetricCacheHits, key)
}

// RecordCacheMiss counts a cache miss and refreshes the hit-rate gauge.
func (r *Recorder) RecordCacheMiss(key string) types.Metric {
	return r.recordLookup(MetricCacheMisses, key)
}

// recordLookup writes the counter and the derived cache_hit_rate gauge in one
// store transaction, so the gauge always matches the counters it was
// computed from.
func (r *Recorder) recordLookup(name, key string) types.Metric {
	counterOpts := buildOptions([]Option{WithTag("category", KeyCategory(key))})
	gaugeOpts := buildOptions(nil)

	var m types.Metric
	r.store.Update(func(tx *store.Txn) {
		m = r.incrementIn(tx, name, 1, counterOpts)
		r.gaugeIn(tx, MetricCacheHitRate, hitRate(tx), gaugeOpts)
	})
	return m
}

type counterSource interface {
	LatestOf(name string, typ types.MetricType) (types.Metric, bool)
}

// HitRate derives hits/(hits+misses) from the latest counters. It is 0
// before any traffic.
func (r *Recorder) HitRate() float64 {
	return hitRate(r.store)
}

func hitRate(src counterSource) float64 {
	hits := latestCount(src, MetricCacheHits)
	misses := latestCount(src, MetricCacheMisses)
	if hits+misses == 0 {
		return 0
	}
	return hits / (hits + misses)
}

func latestCount(src counterSource, name string) float64 {
	m, ok := src.LatestOf(name, types.TypeCounter)
	if !ok || m.Counter == nil {
		return 0
	}
	return m.Counter.Count
}

// RecordAPIRequest counts a request and records its latency on the shared
// operation_duration timer.
func (r *Recorder) RecordAPIRequest(endpoint, method string, status int, duration time.Duration) types.Metric {
	tags := map[string]string{
		"endpoint": endpoint,
		"method":   method,
		"status":   strconv.Itoa(status),
	}
	m := r.Increment(MetricAPIRequests, WithTags(tags))

	end := r.clock.Now()
	r.RecordTimer(MetricOperationDuration, end.Add(-duration), end, method+" "+endpoint,
		WithTags(tags), WithTag("operation", "api_request"))
	return m
}

// RecordAPIError counts a failed request.
func (r *Recorder) RecordAPIError(endpoint, method string, status int, errType string) types.Metric {
	return r.Increment(MetricAPIErrors,
		WithTags(map[string]string{
			"endpoint":   endpoint,
			"method":     method,
			"status":     strconv.Itoa(status),
			"error_type": errType,
		}),
		WithPriority(types.PriorityHigh),
	)
}

// RecordRetry counts a retry attempt.
func (r *Recorder) RecordRetry(endpoint string, attempt int) types.Metric {
	return r.Increment(MetricAPIRetries,
		WithTag("endpoint", endpoint),
		WithTag("attempt", strconv.Itoa(attempt)),
		WithPriority(types.PriorityLow),
	)
}

// RecordCacheSize records the number of cached entries.
func (r *Recorder) RecordCacheSize(size int) types.Metric {
	return r.RecordGauge(MetricCacheSize, float64(size))
}

// RecordCacheHitRate records the hit ratio (0..1).
func (r *Recorder) RecordCacheHitRate(rate float64) types.Metric {
	return r.RecordGauge(MetricCacheHitRate, rate)
}

// RecordActiveRequests records the number of in-flight requests.
func (r *Recorder) RecordActiveRequests(n int) types.Metric {
	return r.RecordGauge(MetricActiveRequests, float64(n))
}
