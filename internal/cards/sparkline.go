package cards

import (
	"time"

	"perftrail/internal/models"
)

// Point is one day of a sparkline.
type Point struct {
	Day   time.Time `json:"day"`
	Label string    `json:"label"`
	Value float64   `json:"value"`
}

// Sparkline is a continuous daily series ending today, one point per UTC
// calendar day with zero for days without data.
type Sparkline []Point

// Map returns the series keyed by day label.
func (s Sparkline) Map() map[string]float64 {
	m := make(map[string]float64, len(s))
	for _, p := range s {
		m[p.Label] = p.Value
	}
	return m
}

// Values returns the series values in day order.
func (s Sparkline) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// buildSparkline materializes rangeDays+1 points starting at start.
func buildSparkline(m Metric, sums []models.Summary, start time.Time, rangeDays int) Sparkline {
	byDay := make(map[time.Time][]models.Summary)
	for _, s := range sums {
		day := models.PeriodDay.Truncate(s.PeriodStart)
		byDay[day] = append(byDay[day], s)
	}

	points := make(Sparkline, 0, rangeDays+1)
	for i := 0; i <= rangeDays; i++ {
		day := start.AddDate(0, 0, i)
		points = append(points, Point{
			Day:   day,
			Label: day.Format("Jan 02"),
			Value: metricValue(m, byDay[day]),
		})
	}
	return points
}
