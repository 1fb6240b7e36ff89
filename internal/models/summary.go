package models

import (
	"fmt"
	"time"
)

// TargetKind identifies what a Summary aggregates.
type TargetKind string

const (
	TargetJob   TargetKind = "job"
	TargetRoute TargetKind = "route"
	TargetQuery TargetKind = "query"
)

// TargetRef is the tagged reference from a Summary to the entity it describes.
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func (t TargetRef) String() string {
	return string(t.Kind) + ":" + t.ID
}

// PeriodType is the bucket width of a Summary.
type PeriodType string

const (
	PeriodDay  PeriodType = "day"
	PeriodWeek PeriodType = "week"
)

// Length returns the width of one bucket.
func (p PeriodType) Length() (time.Duration, error) {
	switch p {
	case PeriodDay:
		return 24 * time.Hour, nil
	case PeriodWeek:
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown period type %q", p)
	}
}

// Truncate returns the start of the bucket containing t. Days start at UTC
// midnight and weeks on Monday UTC, so buckets for one target never overlap.
func (p PeriodType) Truncate(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if p != PeriodWeek {
		return day
	}
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Summary is a precomputed aggregate of trace roots for one target over one bucket.
type Summary struct {
	Target      TargetRef  `json:"target"`
	PeriodType  PeriodType `json:"period_type"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	Count       int64      `json:"count"`
	ErrorCount  int64      `json:"error_count"`
	AvgDuration float64    `json:"avg_duration_ms"`
}

// Normalize enforces count >= error_count >= 0 and avg = 0 for empty buckets.
func (s *Summary) Normalize() {
	if s.Count < 0 {
		s.Count = 0
	}
	if s.ErrorCount < 0 {
		s.ErrorCount = 0
	}
	if s.ErrorCount > s.Count {
		s.ErrorCount = s.Count
	}
	if s.Count == 0 || s.AvgDuration < 0 {
		s.AvgDuration = 0
	}
}
