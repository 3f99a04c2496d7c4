package analytics

import (
	"math"
	"sort"
	"strconv"
)

// Mean is the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return finite(sum / float64(len(values)))
}

// Median of values, 0 for an empty slice. The input is not modified.
func Median(values []float64) float64 {
	return Percentile(values, 50)
}

// StdDev is the sample standard deviation; fewer than two values yield 0.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return finite(math.Sqrt(ss / float64(len(values)-1)))
}

// Percentile returns the p-th percentile (0-100) using linear interpolation between
// closest ranks. The input is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	p = math.Max(0, math.Min(100, p))
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return finite(sorted[lo] + (sorted[hi]-sorted[lo])*frac)
}

// Percentiles returns the requested percentiles keyed as "p10", "p50", ...
func Percentiles(values []float64, ps ...float64) map[string]float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	out := make(map[string]float64, len(ps))
	for _, p := range ps {
		out[percentileKey(p)] = percentileSorted(sorted, p)
	}
	return out
}

func percentileKey(p float64) string {
	return "p" + strconv.Itoa(int(math.Round(p)))
}

func minMax(values []float64) (lo, hi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// SizeBucket is one histogram bin of trade notional sizes.
type SizeBucket struct {
	Label      string  `json:"range"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

var sizeBins = []struct {
	label string
	max   float64
}{
	{"<$100", 100},
	{"$100-500", 500},
	{"$500-1k", 1000},
	{"$1k-5k", 5000},
	{"$5k-10k", 10000},
	{"$10k-50k", 50000},
	{"$50k-100k", 100000},
	{">$100k", math.Inf(1)},
}

// SizeHistogram buckets trade sizes; a size falls into the first bin whose upper bound
// exceeds it.
func SizeHistogram(sizes []float64) []SizeBucket {
	out := make([]SizeBucket, len(sizeBins))
	for i, b := range sizeBins {
		out[i].Label = b.label
	}
	for _, s := range sizes {
		for i, b := range sizeBins {
			if s < b.max {
				out[i].Count++
				break
			}
		}
	}
	for i := range out {
		out[i].Percentage = Percent(float64(out[i].Count), float64(len(sizes)))
	}
	return out
}

// Direction labels returned by Trend.
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"
)

// Trend compares the mean of the second half of a series with the first half.
// A move of more than 5% either way is up or down.
func Trend(values []float64) string {
	if len(values) < 2 {
		return TrendFlat
	}
	mid := len(values) / 2
	first := Mean(values[:mid])
	second := Mean(values[mid:])
	switch {
	case second > first*1.05:
		return TrendUp
	case second < first*0.95:
		return TrendDown
	default:
		return TrendFlat
	}
}
