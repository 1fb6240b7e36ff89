package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver string
		name   string
		sqlDrv string
	}{
		{"sqlite3", DialectSQLite, "sqlite3"},
		{"sqlite", DialectSQLite, "sqlite3"},
		{"postgres", DialectPostgres, "pgx"},
		{"pgx", DialectPostgres, "pgx"},
		{"MySQL", DialectMySQL, "mysql"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := DialectFor(tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name)
			assert.Equal(t, tt.sqlDrv, d.DriverName)
		})
	}

	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := Dialect{Name: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := Dialect{Name: DialectSQLite}
	assert.Equal(t, "a = ?", lite.Rebind("a = ?"))
}

func TestUpsert(t *testing.T) {
	lite := Dialect{Name: DialectSQLite}
	assert.Equal(t,
		" ON CONFLICT (a, b) DO UPDATE SET c = excluded.c",
		lite.Upsert([]string{"a", "b"}, []string{"c"}))

	my := Dialect{Name: DialectMySQL}
	assert.Equal(t,
		" ON DUPLICATE KEY UPDATE c = VALUES(c), d = VALUES(d)",
		my.Upsert([]string{"a"}, []string{"c", "d"}))
}

func TestInsertIgnore(t *testing.T) {
	pg := Dialect{Name: DialectPostgres}
	assert.Equal(t,
		"INSERT INTO q (id, fp) VALUES (?, ?) ON CONFLICT (fp) DO NOTHING",
		pg.InsertIgnore("q", []string{"id", "fp"}, []string{"fp"}))

	my := Dialect{Name: DialectMySQL}
	assert.Equal(t, "INSERT IGNORE INTO q (id) VALUES (?)", my.InsertIgnore("q", []string{"id"}, []string{"id"}))
}

func TestNewAndMigrateSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "perftrail.db")

	database, err := New("sqlite3", path)
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.Migrate())
	// Migrations are idempotent.
	require.NoError(t, database.Migrate())

	var n int
	err = database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('trace_roots', 'operations', 'queries', 'summaries')`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New("oracle", "whatever")
	assert.Error(t, err)
}
