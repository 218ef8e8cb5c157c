package database_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PapaMarky/retirement-planning-v2/internal/database"
	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
)

const (
	testKeyHex  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	otherKeyHex = "ffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100"
)

func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.Open(path, testKeyHex)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db, path
}

func TestOpenWrongKey(t *testing.T) {
	db, path := openTestDB(t)
	_, err := db.Exec(`INSERT INTO categories(name) VALUES ('Groceries')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = database.Open(path, otherKeyHex)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrAuthentication)

	// the right key still works afterwards
	db2, err := database.Open(path, testKeyHex)
	require.NoError(t, err)
	defer db2.Close()
	var n int
	require.NoError(t, db2.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	// running again is a no-op
	require.NoError(t, database.Migrate(ctx, db))

	var v int
	require.NoError(t, db.QueryRow(`SELECT version FROM schema_version`).Scan(&v))
	assert.Equal(t, database.SchemaVersion, v)

	for _, table := range []string{"categories", "transactions", "rules", "pending_archives"} {
		var n int
		err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	_, err := db.Exec(`UPDATE schema_version SET version = ?`, database.SchemaVersion+1)
	require.NoError(t, err)

	err = database.Migrate(ctx, db)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrUnsupportedSchema)
}

func TestSeedDefaults(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	require.NoError(t, database.SeedDefaults(ctx, db))
	cats, err := repository.NewCategoryRepo(db).List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, cats)
	first := len(cats)

	// idempotent on restart
	require.NoError(t, database.SeedDefaults(ctx, db))
	cats, err = repository.NewCategoryRepo(db).List(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, first)

	// a user-emptied category table is respected only when truly empty;
	// one surviving row means no re-seed
	_, err = db.Exec(`DELETE FROM categories WHERE name != 'Groceries'`)
	require.NoError(t, err)
	require.NoError(t, database.SeedDefaults(ctx, db))
	cats, err = repository.NewCategoryRepo(db).List(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestAcquireLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	lock, err := database.AcquireLock(path)
	require.NoError(t, err)
	defer lock.Unlock()

	_, err = database.AcquireLock(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrLocked)

	require.NoError(t, lock.Unlock())
	lock2, err := database.AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock2.Unlock())
}

func TestWithTxRollback(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)

	boom := errors.New("boom")
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO categories(name) VALUES ('Doomed')`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&n))
	assert.Zero(t, n)
}
