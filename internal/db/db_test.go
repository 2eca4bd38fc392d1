package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_Memory_Defaults(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)

	// a second statement must see the same in-memory database
	_, err = database.Exec("INSERT INTO t (v) VALUES ('a');")
	require.NoError(t, err)

	var count int
	require.NoError(t, database.Get(&count, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, database.Stats().MaxOpenConnections)
}

func TestNewSqliteDB_File_CreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	assert.FileExists(t, dbPath)
}

func TestNewSqliteDB_MemoryIgnoresPoolSize(t *testing.T) {
	database, err := NewSqliteDB(WithMaxOpenConns(8))
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, 1, database.Stats().MaxOpenConnections)
}

func TestNewSqliteDB_CustomPragmas(t *testing.T) {
	database, err := NewSqliteDB(WithPragmas("PRAGMA foreign_keys=ON;"))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY);")
	assert.NoError(t, err)
}

func TestNewSqliteDB_EveryConnectionEnforcesForeignKeys(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pool.db")
	database, err := NewSqliteDB(WithPath(dbPath), WithMaxOpenConns(3), WithMaxIdleConns(3),
		WithPragmas("PRAGMA temp_store=MEMORY;"))
	require.NoError(t, err)
	defer database.Close()

	ctx := t.Context()
	for range 3 {
		conn, err := database.Connx(ctx)
		require.NoError(t, err)
		defer conn.Close()

		var on int
		require.NoError(t, conn.GetContext(ctx, &on, "PRAGMA foreign_keys"))
		assert.Equal(t, 1, on)
	}
}

func TestMigrate(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	err = Migrate(database,
		`CREATE TABLE IF NOT EXISTS a (id INTEGER PRIMARY KEY)`,
		`CREATE INDEX IF NOT EXISTS idx_a ON a(id)`,
	)
	require.NoError(t, err)

	// idempotent
	require.NoError(t, Migrate(database, `CREATE TABLE IF NOT EXISTS a (id INTEGER PRIMARY KEY)`))

	err = Migrate(database, `CREATE TABLE broken (`)
	assert.Error(t, err)
}
