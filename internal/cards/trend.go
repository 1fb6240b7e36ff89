package cards

import "math"

// Direction is the raw direction of change between two windows. It says
// nothing about whether the change is good or bad.
type Direction string

const (
	TrendUp     Direction = "up"
	TrendDown   Direction = "down"
	TrendStable Direction = "stable"
)

// ZeroBaseline decides how a trend is reported when the previous window
// is zero and the ratio is undefined.
type ZeroBaseline int

const (
	// ZeroBaselineStable reports any change from zero as stable 0%.
	ZeroBaselineStable ZeroBaseline = iota
	// ZeroBaselineFixed reports growth from zero as up 100%.
	ZeroBaselineFixed
)

// Trend compares the current window to the previous one. Percent is the
// magnitude of the change rounded to one decimal.
type Trend struct {
	Direction Direction `json:"direction"`
	Percent   float64   `json:"percent"`
}

// ComputeTrend returns the trend from previous to current. Changes whose
// magnitude is below threshold percent are reported as stable.
func ComputeTrend(current, previous float64, policy ZeroBaseline, threshold float64) Trend {
	if previous <= 0 {
		if policy == ZeroBaselineFixed && current > 0 {
			return Trend{Direction: TrendUp, Percent: 100}
		}
		return Trend{Direction: TrendStable}
	}

	delta := (current - previous) / previous * 100
	magnitude := math.Round(math.Abs(delta)*10) / 10
	switch {
	case math.Abs(delta) < threshold || magnitude == 0:
		return Trend{Direction: TrendStable}
	case delta > 0:
		return Trend{Direction: TrendUp, Percent: magnitude}
	default:
		return Trend{Direction: TrendDown, Percent: magnitude}
	}
}
