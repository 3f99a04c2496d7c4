package analytics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aidin1998/perpstats/internal/analytics"
)

func TestPercentileLinear(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	assert.InDelta(t, 2.5, analytics.Median(values), 1e-9)
	assert.InDelta(t, 1.0, analytics.Percentile(values, 0), 1e-9)
	assert.InDelta(t, 4.0, analytics.Percentile(values, 100), 1e-9)
	assert.InDelta(t, 1.75, analytics.Percentile(values, 25), 1e-9)
	assert.Equal(t, []float64{4, 1, 3, 2}, values, "input must not be reordered")

	ps := analytics.Percentiles(values, 10, 50, 99)
	assert.Contains(t, ps, "p10")
	assert.InDelta(t, 2.5, ps["p50"], 1e-9)
	assert.InDelta(t, 3.97, ps["p99"], 1e-9)
}

func TestStdDev(t *testing.T) {
	assert.InDelta(t, 2.138089935, analytics.StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-6)
}

func TestSizeHistogram(t *testing.T) {
	buckets := analytics.SizeHistogram([]float64{50, 100, 499, 999, 4999, 9999, 49999, 99999, 100000, 1e9})
	counts := make(map[string]int)
	for _, b := range buckets {
		counts[b.Label] = b.Count
	}
	assert.Len(t, buckets, 8)
	assert.Equal(t, "<$100", buckets[0].Label)
	assert.Equal(t, 1, counts["<$100"])
	assert.Equal(t, 2, counts["$100-500"])
	assert.Equal(t, 1, counts["$500-1k"])
	assert.Equal(t, 1, counts["$1k-5k"])
	assert.Equal(t, 1, counts["$5k-10k"])
	assert.Equal(t, 1, counts["$10k-50k"])
	assert.Equal(t, 1, counts["$50k-100k"])
	assert.Equal(t, 2, counts[">$100k"])
	assert.InDelta(t, 20.0, buckets[1].Percentage, 1e-9)

	for _, b := range analytics.SizeHistogram(nil) {
		assert.Equal(t, 0.0, b.Percentage)
	}
}

func TestTrend(t *testing.T) {
	assert.Equal(t, analytics.TrendUp, analytics.Trend([]float64{100, 100, 110, 110}))
	assert.Equal(t, analytics.TrendDown, analytics.Trend([]float64{100, 100, 90, 90}))
	assert.Equal(t, analytics.TrendFlat, analytics.Trend([]float64{100, 100, 103, 103}))
	assert.Equal(t, analytics.TrendFlat, analytics.Trend([]float64{100}))
}
