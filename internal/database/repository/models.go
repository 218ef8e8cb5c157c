package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so repositories work
// unchanged inside a batch transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Row-level error taxonomy.
var (
	// ErrDataIntegrity means a re-imported record disagrees with the
	// stored row on a financial field that is immutable once inserted.
	ErrDataIntegrity = errors.New("immutable field mismatch")

	// ErrReferentialIntegrity means a delete would orphan referencing
	// rows and no cascade was requested.
	ErrReferentialIntegrity = errors.New("row is still referenced")

	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// ExpenseType classifies a category for retirement-expense forecasting.
type ExpenseType int

const (
	NotExpense ExpenseType = 0
	OneTime    ExpenseType = 1
	Recurring  ExpenseType = 2
)

// Transaction represents a ledger row. FITID is the content-derived
// identity; account, type, posted, amount, name, memo and checknum are
// immutable once inserted, category assignment is not.
type Transaction struct {
	FITID      string
	Account    string
	Type       string
	Posted     time.Time
	Amount     decimal.Decimal
	Name       string
	Memo       string
	Checknum   string
	CategoryID *int64
}

// Category represents a category row.
type Category struct {
	ID          int64
	Name        string
	ExpenseType ExpenseType
}

// Rule targets for pattern matching.
const (
	TargetName = "name"
	TargetMemo = "memo"
)

// Rule is one ordered categorization rule: a case-insensitive substring
// pattern against the target field. Lower priority wins; ties break on
// creation order (id).
type Rule struct {
	ID          int64
	Pattern     string
	TargetField string
	CategoryID  int64
	Priority    int
}

// PendingArchive is one statement file waiting for post-commit
// encryption. Persisted so a crash between commit and archival is
// recoverable on next startup.
type PendingArchive struct {
	ID          string
	SourcePath  string
	ContentHash string
	QueuedAt    time.Time
}
