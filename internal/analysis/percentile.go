package analysis

import (
	"math"
	"sort"
)

// CalculatePercentile returns the percentile rank of value within sorted,
// an ascending sample. Values at or below the minimum rank 0 and values at
// or above the maximum rank 100. In between, sample i sits at rank
// (i+0.5)/n and the rank is interpolated linearly between the two samples
// bracketing value. The result is rounded to one decimal.
func CalculatePercentile(value float64, sorted []float64) float64 {
	n := len(sorted)
	if n == 0 || value <= sorted[0] {
		return 0
	}
	if value >= sorted[n-1] {
		return 100
	}

	// first sample strictly greater than value; 1 <= upper <= n-1
	upper := sort.Search(n, func(i int) bool { return sorted[i] > value })
	lower := upper - 1

	frac := 0.0
	if span := sorted[upper] - sorted[lower]; span > 0 {
		frac = (value - sorted[lower]) / span
	}
	rank := (float64(lower) + frac + 0.5) * 100 / float64(n)
	return math.Round(rank*10) / 10
}
