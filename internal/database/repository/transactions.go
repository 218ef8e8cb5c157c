package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PapaMarky/retirement-planning-v2/internal/ofx"
)

// UpsertOutcome says what Upsert did with a record.
type UpsertOutcome int

const (
	Inserted UpsertOutcome = iota
	Duplicate
)

// TransactionFilters defines list filters. Zero values mean no filter;
// Uncategorized selects rows with a NULL category explicitly.
type TransactionFilters struct {
	Account       string
	CategoryID    *int64
	Uncategorized bool
	From          time.Time
	To            time.Time
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) *TransactionRepo { return &TransactionRepo{db: db} }

// Upsert inserts t when its fitid is unseen. A second sighting with an
// identical payload is a duplicate, not an error, and leaves the stored
// row (including any manual category edit) untouched. A second sighting
// that disagrees on an immutable field fails with ErrDataIntegrity.
func (r *TransactionRepo) Upsert(ctx context.Context, t Transaction) (UpsertOutcome, error) {
	existing, err := r.Get(ctx, t.FITID)
	if err != nil && err != ErrNotFound {
		return 0, err
	}
	if err == nil {
		if field := immutableMismatch(*existing, t); field != "" {
			return 0, fmt.Errorf("%w: fitid %s field %s", ErrDataIntegrity, t.FITID, field)
		}
		return Duplicate, nil
	}

	_, err = r.db.ExecContext(ctx, `
	INSERT INTO transactions(fitid, account, type, posted, amount, name, memo, checknum, category_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, t.FITID, t.Account, t.Type, t.Posted.UTC().Format(time.RFC3339), t.Amount.StringFixed(2),
		t.Name, t.Memo, t.Checknum, t.CategoryID)
	if err != nil {
		return 0, err
	}
	return Inserted, nil
}

// immutableMismatch compares with the same canonicalization the identity
// hash uses: name and memo through the content fingerprint, so a
// re-export that differs only in casing or spacing stays a duplicate.
func immutableMismatch(stored, incoming Transaction) string {
	switch {
	case stored.Account != incoming.Account:
		return "account"
	case stored.Type != incoming.Type:
		return "type"
	case !stored.Posted.Equal(incoming.Posted):
		return "posted"
	case !stored.Amount.Equal(incoming.Amount):
		return "amount"
	case ofx.Fingerprint(stored.Name) != ofx.Fingerprint(incoming.Name):
		return "name"
	case ofx.Fingerprint(stored.Memo) != ofx.Fingerprint(incoming.Memo):
		return "memo"
	case stored.Checknum != incoming.Checknum:
		return "checknum"
	}
	return ""
}

func (r *TransactionRepo) Get(ctx context.Context, fitid string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT fitid, account, type, posted, amount, name, memo, checknum, category_id
	FROM transactions WHERE fitid = ?`, fitid)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateCategory sets (or clears, with nil) the category of one row.
func (r *TransactionRepo) UpdateCategory(ctx context.Context, fitid string, categoryID *int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET category_id = ? WHERE fitid = ?`, categoryID, fitid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: fitid %s", ErrNotFound, fitid)
	}
	return nil
}

// List returns transactions matching f in stable (posted, fitid) order.
func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []any

	if f.Account != "" {
		where = append(where, "account = ?")
		args = append(args, f.Account)
	}
	if f.Uncategorized {
		where = append(where, "category_id IS NULL")
	} else if f.CategoryID != nil {
		where = append(where, "category_id = ?")
		args = append(args, *f.CategoryID)
	}
	if !f.From.IsZero() {
		where = append(where, "posted >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		where = append(where, "posted < ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}

	query := `SELECT fitid, account, type, posted, amount, name, memo, checknum, category_id FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY posted, fitid"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// CategoryTotal is the aggregate for one category over a date range. A
// nil CategoryID bucket collects uncategorized rows.
type CategoryTotal struct {
	CategoryID *int64
	Total      decimal.Decimal
	Count      int
}

// SumByCategory aggregates amounts per category over [from, to). Sums are
// computed in decimal arithmetic, not sqlite floats.
func (r *TransactionRepo) SumByCategory(ctx context.Context, from, to time.Time) ([]CategoryTotal, error) {
	f := TransactionFilters{From: from, To: to}
	txns, err := r.List(ctx, f)
	if err != nil {
		return nil, err
	}
	byKey := map[int64]*CategoryTotal{}
	var uncat *CategoryTotal
	var order []*CategoryTotal
	for _, t := range txns {
		var bucket *CategoryTotal
		if t.CategoryID == nil {
			if uncat == nil {
				uncat = &CategoryTotal{}
				order = append(order, uncat)
			}
			bucket = uncat
		} else {
			b, ok := byKey[*t.CategoryID]
			if !ok {
				id := *t.CategoryID
				b = &CategoryTotal{CategoryID: &id}
				byKey[id] = b
				order = append(order, b)
			}
			bucket = b
		}
		bucket.Total = bucket.Total.Add(t.Amount)
		bucket.Count++
	}
	out := make([]CategoryTotal, 0, len(order))
	for _, b := range order {
		out = append(out, *b)
	}
	return out, nil
}

// MonthTotal is the expense aggregate for one calendar month.
type MonthTotal struct {
	Year  int
	Month time.Month
	Total decimal.Decimal
	Count int
}

// SumExpensesByMonth aggregates expense amounts per calendar month over
// [from, to). Rows filed under a non-expense category (income, savings,
// transfers) are excluded; uncategorized rows count as expenses until
// the user files them otherwise.
func (r *TransactionRepo) SumExpensesByMonth(ctx context.Context, from, to time.Time) ([]MonthTotal, error) {
	query := `
	SELECT t.posted, t.amount
	FROM transactions t
	LEFT JOIN categories c ON c.id = t.category_id
	WHERE (t.category_id IS NULL OR c.expense_type != 0)`
	var args []any
	if !from.IsZero() {
		query += " AND t.posted >= ?"
		args = append(args, from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		query += " AND t.posted < ?"
		args = append(args, to.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY t.posted"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthTotal
	for rows.Next() {
		var posted, amount string
		if err := rows.Scan(&posted, &amount); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339, posted)
		if err != nil {
			return nil, fmt.Errorf("stored posted timestamp %q: %w", posted, err)
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("stored amount %q: %w", amount, err)
		}
		year, month := ts.UTC().Year(), ts.UTC().Month()
		if n := len(out); n == 0 || out[n-1].Year != year || out[n-1].Month != month {
			out = append(out, MonthTotal{Year: year, Month: month})
		}
		bucket := &out[len(out)-1]
		bucket.Total = bucket.Total.Add(amt)
		bucket.Count++
	}
	return out, rows.Err()
}

func scanTransaction(row interface{ Scan(dest ...any) error }) (Transaction, error) {
	var t Transaction
	var posted, amount string
	var category sql.NullInt64
	if err := row.Scan(&t.FITID, &t.Account, &t.Type, &posted, &amount,
		&t.Name, &t.Memo, &t.Checknum, &category); err != nil {
		return Transaction{}, err
	}
	ts, err := time.Parse(time.RFC3339, posted)
	if err != nil {
		return Transaction{}, fmt.Errorf("stored posted timestamp %q: %w", posted, err)
	}
	t.Posted = ts
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("stored amount %q: %w", amount, err)
	}
	t.Amount = amt
	if category.Valid {
		t.CategoryID = &category.Int64
	}
	return t, nil
}
