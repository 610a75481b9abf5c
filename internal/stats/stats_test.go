package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func oneToTen() []float64 {
	return []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
}

func TestPercentile(t *testing.T) {
	testCases := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"median of 1..10", oneToTen(), 0.5, 5.5},
		{"p0 is min", oneToTen(), 0, 1},
		{"p100 is max", oneToTen(), 1, 10},
		{"p95 interpolates", oneToTen(), 0.95, 9.55},
		{"single element", []float64{42}, 0.99, 42},
		{"empty", nil, 0.5, 0},
		{"p above one is clamped", []float64{1, 3}, 2, 3},
		{"exact rank", []float64{10, 20, 30}, 0.5, 20},
		{"NaN p is the minimum", []float64{10, 20, 30}, math.NaN(), 10},
		{"negative infinity is clamped", []float64{10, 20, 30}, math.Inf(-1), 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Percentile(tc.sorted, tc.p), 1e-9)
		})
	}
}

func TestCalculate(t *testing.T) {
	s := Calculate([]float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5})

	assert.Equal(t, 10, s.Count)
	assert.Equal(t, 55.0, s.Sum)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.Equal(t, 5.5, s.Mean)
	assert.Equal(t, 5.5, s.Median)
	assert.InDelta(t, 9.55, s.P95, 1e-9)
	assert.InDelta(t, 9.91, s.P99, 1e-9)
}

func TestCalculateDoesNotReorderInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Calculate(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestCalculateEmpty(t *testing.T) {
	assert.NotPanics(t, func() {
		s := Calculate(nil)
		assert.Equal(t, 0, s.Count)
		assert.Zero(t, s.Mean)
		assert.Zero(t, s.P99)
	})
}

func TestCreateBuckets(t *testing.T) {
	buckets := CreateBuckets([]float64{5, 25, 75, 150, 750, 2000, 8000})

	assert.Len(t, buckets, 7)
	for _, label := range BucketLabels() {
		assert.Equal(t, 1, buckets[label], "bucket %s", label)
	}
}

func TestCreateBucketsBoundaries(t *testing.T) {
	buckets := CreateBuckets([]float64{0, 9.999, 10, 50, 4999, 5000, -3})

	assert.Equal(t, 3, buckets["0-10"])
	assert.Equal(t, 1, buckets["10-50"])
	assert.Equal(t, 1, buckets["50-100"])
	assert.Equal(t, 1, buckets["1000-5000"])
	assert.Equal(t, 1, buckets["5000+"])
	assert.Equal(t, 0, buckets["100-500"])
}

func TestBucketLabelsIsACopy(t *testing.T) {
	labels := BucketLabels()
	labels[0] = "changed"
	assert.Equal(t, "0-10", BucketLabels()[0])
}
