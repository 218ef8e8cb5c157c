package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mutecomm/go-sqlcipher/v4"
)

// Open opens (or creates) the SQLCipher database with sensible defaults.
// keyHex is the raw database key in hex, 64 chars for a 256-bit key.
// A wrong key surfaces as ErrAuthentication before any data access.
func Open(path, keyHex string) (*sql.DB, error) {
	pragmas := url.Values{}
	pragmas.Set("_pragma_key", fmt.Sprintf("x'%s'", keyHex))
	pragmas.Set("_pragma_cipher_page_size", "4096")
	pragmas.Set("_foreign_keys", "on")
	pragmas.Set("_busy_timeout", "5000")
	dsn := fmt.Sprintf("file:%s?%s", path, pragmas.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	// With the wrong key the file reads as noise and the catalog probe
	// fails with SQLITE_NOTADB.
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return db, nil
}

// AcquireLock takes the session's advisory file lock. The lock is held
// for the whole session; a second process gets ErrLocked immediately.
func AcquireLock(dbPath string) (*flock.Flock, error) {
	fl := flock.New(dbPath + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return fl, nil
}

// WithTx runs fn in a transaction. A batch either fully commits or fully
// rolls back; there is no partial visibility.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Now returns UTC time truncated to seconds (consistent with SQLite default).
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
