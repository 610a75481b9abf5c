// ============================================================================
// Statistics - percentile, summary and bucket helpers
// Purpose: Pure functions shared by the recorder (histograms) and the
// aggregation engine. No state.
// ============================================================================

package stats

import (
	"math"
	"slices"

	"github.com/ChuLiYu/cachemon/pkg/types"
)

// bucketBounds are the lower bounds of the fixed histogram ranges.
// The last range is open ended.
var bucketBounds = []float64{0, 10, 50, 100, 500, 1000, 5000}

var bucketLabels = []string{"0-10", "10-50", "50-100", "100-500", "500-1000", "1000-5000", "5000+"}

// BucketLabels returns the histogram range labels in ascending order.
func BucketLabels() []string {
	return slices.Clone(bucketLabels)
}

// Percentile returns the p-th percentile (0..1) of an ascending slice using
// linear interpolation between the two closest ranks.
//
// An empty slice yields 0 and a single element is returned as is. A NaN p
// is treated as 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch n {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	if math.IsNaN(p) {
		return sorted[0]
	}
	p = math.Max(0, math.Min(1, p))
	index := float64(n-1) * p
	lo := int(math.Floor(index))
	hi := int(math.Ceil(index))
	if lo == hi {
		return sorted[lo]
	}

	weight := index - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*weight
}

// Calculate summarises values. The input is not modified.
func Calculate(values []float64) types.Statistics {
	if len(values) == 0 {
		return types.Statistics{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return calculateSorted(sorted)
}

// CalculateSorted is Calculate for input already in ascending order.
func CalculateSorted(sorted []float64) types.Statistics {
	if len(sorted) == 0 {
		return types.Statistics{}
	}
	return calculateSorted(sorted)
}

func calculateSorted(sorted []float64) types.Statistics {
	var sum float64
	for _, v := range sorted {
		sum += v
	}

	n := len(sorted)
	return types.Statistics{
		Count:  n,
		Sum:    sum,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   sum / float64(n),
		Median: Percentile(sorted, 0.5),
		P95:    Percentile(sorted, 0.95),
		P99:    Percentile(sorted, 0.99),
	}
}

// CreateBuckets counts values into the fixed half-open ranges
// [0,10) [10,50) [50,100) [100,500) [500,1000) [1000,5000) [5000,inf).
//
// Every label is present in the result. Negative values are counted in the
// first range.
func CreateBuckets(values []float64) map[string]int {
	buckets := make(map[string]int, len(bucketLabels))
	for _, label := range bucketLabels {
		buckets[label] = 0
	}

	for _, v := range values {
		buckets[bucketLabels[bucketIndex(v)]]++
	}
	return buckets
}

func bucketIndex(v float64) int {
	for i := len(bucketBounds) - 1; i > 0; i-- {
		if v >= bucketBounds[i] {
			return i
		}
	}
	return 0
}
