// Package query filters and orders stored metric records.
package query

import (
	"cmp"
	"slices"

	"github.com/ChuLiYu/cachemon/internal/store"
	"github.com/ChuLiYu/cachemon/pkg/types"
)

// Engine answers MetricQuery requests against a Store. It never writes.
type Engine struct {
	store *store.Store
}

// New returns a query engine over s.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Query returns the records matching every non-empty condition of q.
//
// Without SortBy the result keeps global insertion order. Sorting is stable,
// and Limit (> 0) is applied after sorting.
func (e *Engine) Query(q types.MetricQuery) []types.Metric {
	results := e.store.Select(q.MetricNames, matcher(q))

	if key := sortKey(q.SortBy); key != nil {
		sign := 1
		if q.SortOrder == types.SortDesc {
			sign = -1
		}
		slices.SortStableFunc(results, func(a, b types.Metric) int {
			return sign * cmp.Compare(key(a), key(b))
		})
	}

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

func matcher(q types.MetricQuery) func(types.Metric) bool {
	return func(m types.Metric) bool {
		for k, v := range q.Tags {
			if tv, ok := m.Tags[k]; !ok || tv != v {
				return false
			}
		}
		if q.TimeRange != nil && !q.TimeRange.Contains(m.Timestamp) {
			return false
		}
		if len(q.Priorities) > 0 && !slices.Contains(q.Priorities, m.Priority) {
			return false
		}
		return true
	}
}

// valueOf treats malformed records as 0 so they still sort deterministically.
func valueOf(m types.Metric) float64 {
	v, err := m.Value()
	if err != nil {
		return 0
	}
	return v
}

func sortKey(by types.SortField) func(types.Metric) float64 {
	switch by {
	case types.SortByTimestamp:
		return func(m types.Metric) float64 { return float64(m.Timestamp) }
	case types.SortByValue:
		return valueOf
	}
	return nil
}
