package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// RuleRepo stores ordered categorization rules.
type RuleRepo struct {
	db DBTX
}

func NewRuleRepo(db DBTX) *RuleRepo { return &RuleRepo{db: db} }

// Create validates and stores a rule. The target category must exist.
func (r *RuleRepo) Create(ctx context.Context, rule Rule) (int64, error) {
	if rule.Pattern == "" {
		return 0, fmt.Errorf("rule pattern required")
	}
	if rule.TargetField != TargetName && rule.TargetField != TargetMemo {
		return 0, fmt.Errorf("rule target must be %q or %q", TargetName, TargetMemo)
	}
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM categories WHERE id = ?`, rule.CategoryID).Scan(&one)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: category %d", ErrNotFound, rule.CategoryID)
	}
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO rules(pattern, target_field, category_id, priority) VALUES (?, ?, ?, ?)`,
		rule.Pattern, rule.TargetField, rule.CategoryID, rule.Priority)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns rules in evaluation order: ascending priority, ties broken
// by creation order (id). This total order makes first-match
// classification deterministic.
func (r *RuleRepo) List(ctx context.Context) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, pattern, target_field, category_id, priority
		 FROM rules ORDER BY priority, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.Pattern, &rule.TargetField,
			&rule.CategoryID, &rule.Priority); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *RuleRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: rule %d", ErrNotFound, id)
	}
	return nil
}
