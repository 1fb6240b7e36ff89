// Package db provides connection handling, SQL dialects and migrations for
// the relational store behind perftrail.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the database connection together with its dialect.
type DB struct {
	*sql.DB
	dialect Dialect
	dsn     string
}

// New opens a connection for the given driver. Accepted drivers are
// "sqlite3" (alias "sqlite"), "postgres" (alias "pgx") and "mysql".
func New(driver, dsn string) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	if dialect.Name == DialectSQLite {
		dsn, err = prepareSQLite(dsn)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect.Name == DialectSQLite {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:      db,
		dialect: dialect,
		dsn:     dsn,
	}, nil
}

// Dialect returns the SQL dialect of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Rebind rewrites ? placeholders for the connection's dialect.
func (db *DB) Rebind(query string) string {
	return db.dialect.Rebind(query)
}

func prepareSQLite(dsn string) (string, error) {
	if dsn == "" {
		return "", errors.New("sqlite dsn is required")
	}
	if strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:") {
		return dsn, nil
	}

	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create db directory: %w", err)
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	return dsn, nil
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	for _, migration := range db.dialect.schema() {
		if _, err := db.Exec(migration); err != nil {
			if db.dialect.Name == DialectMySQL && isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// isDuplicateIndex reports MySQL error 1061, raised when an index already
// exists since MySQL has no CREATE INDEX IF NOT EXISTS.
func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1061
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
