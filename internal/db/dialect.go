package db

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Dialect captures the few places where the supported databases disagree:
// placeholders, upserts and index DDL.
type Dialect struct {
	Name       string
	DriverName string
}

// DialectFor maps a configured driver name onto a dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return Dialect{Name: DialectSQLite, DriverName: "sqlite3"}, nil
	case "postgres", "postgresql", "pgx":
		return Dialect{Name: DialectPostgres, DriverName: "pgx"}, nil
	case "mysql":
		return Dialect{Name: DialectMySQL, DriverName: "mysql"}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

// Rebind converts ? placeholders to $n for PostgreSQL. Queries in this
// repository never contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d.Name != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Upsert returns the clause appended to an INSERT so that a conflict on
// conflictCols overwrites updateCols with the incoming values.
func (d Dialect) Upsert(conflictCols, updateCols []string) string {
	sets := make([]string, len(updateCols))
	for i, col := range updateCols {
		if d.Name == DialectMySQL {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		} else {
			sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
		}
	}
	if d.Name == DialectMySQL {
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictCols, ", "), strings.Join(sets, ", "))
}

// InsertIgnore returns an INSERT statement prefix and suffix that silently
// skip rows conflicting on conflictCols.
func (d Dialect) InsertIgnore(table string, cols []string, conflictCols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	if d.Name == DialectMySQL {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, strings.Join(cols, ", "), placeholders, strings.Join(conflictCols, ", "))
}

func (d Dialect) indexDDL(name, table, cols string) string {
	if d.Name == DialectMySQL {
		return fmt.Sprintf("CREATE INDEX %s ON %s(%s)", name, table, cols)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", name, table, cols)
}

func (d Dialect) schema() []string {
	return []string{
		// Trace roots (requests and job runs)
		`CREATE TABLE IF NOT EXISTS trace_roots (
			id VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			target_id VARCHAR(191) NOT NULL,
			route VARCHAR(191),
			action VARCHAR(191),
			job_name VARCHAR(191),
			queue VARCHAR(191),
			occurred_at BIGINT NOT NULL,
			duration_ms DOUBLE PRECISION NOT NULL,
			status VARCHAR(16) NOT NULL,
			tags TEXT
		)`,
		// Normalized SQL fingerprints
		`CREATE TABLE IF NOT EXISTS queries (
			id VARCHAR(64) PRIMARY KEY,
			fingerprint VARCHAR(64) NOT NULL UNIQUE,
			normalized_sql TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		// Operations (spans)
		`CREATE TABLE IF NOT EXISTS operations (
			id VARCHAR(64) PRIMARY KEY,
			parent_kind VARCHAR(16) NOT NULL,
			parent_id VARCHAR(64) NOT NULL,
			parent_span_id VARCHAR(64),
			operation_type VARCHAR(32) NOT NULL,
			label VARCHAR(191) NOT NULL,
			start_time BIGINT NOT NULL,
			duration_ms DOUBLE PRECISION NOT NULL,
			query_id VARCHAR(64),
			metadata TEXT,
			CHECK (parent_kind IN ('request', 'job_run'))
		)`,
		// Periodic summaries
		`CREATE TABLE IF NOT EXISTS summaries (
			target_kind VARCHAR(16) NOT NULL,
			target_id VARCHAR(191) NOT NULL,
			period_type VARCHAR(8) NOT NULL,
			period_start BIGINT NOT NULL,
			period_end BIGINT NOT NULL,
			count BIGINT NOT NULL,
			error_count BIGINT NOT NULL,
			avg_duration DOUBLE PRECISION NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (target_kind, target_id, period_type, period_start),
			CHECK (count >= error_count AND error_count >= 0)
		)`,
		// Indexes
		d.indexDDL("idx_trace_roots_target", "trace_roots", "kind, target_id, occurred_at"),
		d.indexDDL("idx_trace_roots_occurred", "trace_roots", "occurred_at"),
		d.indexDDL("idx_operations_parent", "operations", "parent_kind, parent_id"),
		d.indexDDL("idx_operations_query", "operations", "query_id, start_time"),
		d.indexDDL("idx_operations_label", "operations", "operation_type, label, start_time"),
		d.indexDDL("idx_summaries_period", "summaries", "target_kind, period_type, period_start"),
	}
}
