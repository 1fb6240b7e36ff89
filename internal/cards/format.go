package cards

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// FormatCount renders n with thousands separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatDuration renders milliseconds rounded to the nearest whole one.
func FormatDuration(ms float64) string {
	return fmt.Sprintf("%d ms", int64(math.Round(ms)))
}

// FormatRate renders a percentage with one decimal.
func FormatRate(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}

// FormatTrend renders a trend as "up 12.5%".
func FormatTrend(t Trend) string {
	return fmt.Sprintf("%s %.1f%%", t.Direction, t.Percent)
}
