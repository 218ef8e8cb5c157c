package database

import "errors"

// Store-level error taxonomy. Callers branch with errors.Is.
var (
	// ErrAuthentication means the database key is wrong. Raised before
	// any data access.
	ErrAuthentication = errors.New("database key rejected")

	// ErrLocked means another session holds the database. The store is
	// single-writer; concurrent opens fail fast instead of corrupting.
	ErrLocked = errors.New("database locked by another session")

	// ErrUnsupportedSchema means the database was written by newer code.
	// Migrations are forward-only; downgrade is not supported.
	ErrUnsupportedSchema = errors.New("database schema newer than supported")
)
