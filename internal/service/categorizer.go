package service

import (
	"context"
	"strings"

	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
)

// CategorizerService classifies transactions with the ordered rule set.
// Classification is deterministic: rules evaluate ascending (priority,
// creation order) and the first match wins. No match is a valid terminal
// state, not an error.
type CategorizerService struct {
	Transactions *repository.TransactionRepo
	Rules        *repository.RuleRepo
	Categories   *repository.CategoryRepo
}

// Classify returns the category for one transaction, or nil when no rule
// matches. Rules referencing a missing category are never applied.
func (s *CategorizerService) Classify(ctx context.Context, t repository.Transaction) (*int64, error) {
	rules, valid, err := s.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	return classify(rules, valid, t), nil
}

// CategorizeNew assigns categories to the given rows, skipping any that
// already have one. Used by ingestion for newly inserted rows only.
func (s *CategorizerService) CategorizeNew(ctx context.Context, fitids []string) (int, error) {
	rules, valid, err := s.loadRules(ctx)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, fitid := range fitids {
		t, err := s.Transactions.Get(ctx, fitid)
		if err != nil {
			return updated, err
		}
		if t.CategoryID != nil {
			continue
		}
		catID := classify(rules, valid, *t)
		if catID == nil {
			continue
		}
		if err := s.Transactions.UpdateCategory(ctx, fitid, catID); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// BulkClassify re-evaluates the rule set against an explicit, user-chosen
// set of transactions, including already-categorized ones. Rows no rule
// matches keep their current category. Returns the number of rows whose
// category changed.
func (s *CategorizerService) BulkClassify(ctx context.Context, f repository.TransactionFilters) (int, error) {
	rules, valid, err := s.loadRules(ctx)
	if err != nil {
		return 0, err
	}
	txns, err := s.Transactions.List(ctx, f)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, t := range txns {
		catID := classify(rules, valid, t)
		if catID == nil {
			continue
		}
		if t.CategoryID != nil && *t.CategoryID == *catID {
			continue
		}
		if err := s.Transactions.UpdateCategory(ctx, t.FITID, catID); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (s *CategorizerService) loadRules(ctx context.Context) ([]repository.Rule, map[int64]bool, error) {
	rules, err := s.Rules.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	cats, err := s.Categories.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	valid := make(map[int64]bool, len(cats))
	for _, c := range cats {
		valid[c.ID] = true
	}
	return rules, valid, nil
}

// classify runs the first-match interpreter. Case-insensitive substring
// semantics against the rule's target field.
func classify(rules []repository.Rule, validCategories map[int64]bool, t repository.Transaction) *int64 {
	for _, rule := range rules {
		if !validCategories[rule.CategoryID] {
			continue
		}
		var field string
		switch rule.TargetField {
		case repository.TargetMemo:
			field = t.Memo
		default:
			field = t.Name
		}
		if strings.Contains(strings.ToUpper(field), strings.ToUpper(rule.Pattern)) {
			id := rule.CategoryID
			return &id
		}
	}
	return nil
}
