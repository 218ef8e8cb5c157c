package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// CategoryRepo handles categories.
type CategoryRepo struct {
	db DBTX
}

func NewCategoryRepo(db DBTX) *CategoryRepo { return &CategoryRepo{db: db} }

func (r *CategoryRepo) Create(ctx context.Context, name string, et ExpenseType) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories(name, expense_type) VALUES (?, ?)`, name, int(et))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *CategoryRepo) Get(ctx context.Context, id int64) (*Category, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, expense_type FROM categories WHERE id = ?`, id)
	var c Category
	var et int
	if err := row.Scan(&c.ID, &c.Name, &et); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.ExpenseType = ExpenseType(et)
	return &c, nil
}

func (r *CategoryRepo) List(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, expense_type FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		var et int
		if err := rows.Scan(&c.ID, &c.Name, &et); err != nil {
			return nil, err
		}
		c.ExpenseType = ExpenseType(et)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Update edits a category, including its expense type. Expense type only
// changes through this explicit call, never as a side effect of rule
// application.
func (r *CategoryRepo) Update(ctx context.Context, c Category) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, expense_type = ? WHERE id = ?`,
		c.Name, int(c.ExpenseType), c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: category %d", ErrNotFound, c.ID)
	}
	return nil
}

// Delete removes a category. A category still referenced by transactions
// or rules is rejected with ErrReferentialIntegrity unless cascade is
// set, which reassigns the transactions to uncategorized and drops the
// referencing rules. Run inside a store transaction.
func (r *CategoryRepo) Delete(ctx context.Context, id int64, cascade bool) error {
	var txns, rules int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE category_id = ?`, id).Scan(&txns); err != nil {
		return err
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rules WHERE category_id = ?`, id).Scan(&rules); err != nil {
		return err
	}
	if (txns > 0 || rules > 0) && !cascade {
		return fmt.Errorf("%w: category %d referenced by %d transactions, %d rules",
			ErrReferentialIntegrity, id, txns, rules)
	}
	if cascade {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE transactions SET category_id = NULL WHERE category_id = ?`, id); err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM rules WHERE category_id = ?`, id); err != nil {
			return err
		}
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: category %d", ErrNotFound, id)
	}
	return nil
}
