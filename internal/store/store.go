// Package store persists trace roots, operations, queries and summaries on
// top of the relational connection from package db.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"perftrail/internal/db"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the repository used by the recorder, the summarizer and the
// read-side engines.
type Store struct {
	db *db.DB
}

// New wraps an open, migrated database.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// Aggregate is the result of a COUNT / SUM / AVG query over one bucket.
type Aggregate struct {
	Count       int64
	ErrorCount  int64
	AvgDuration float64
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func fromMs(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

func encodeMap(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMap(v sql.NullString) map[string]string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil
	}
	return m
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}
