package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PapaMarky/retirement-planning-v2/internal/database"
	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
	"github.com/PapaMarky/retirement-planning-v2/internal/logger"
	"github.com/PapaMarky/retirement-planning-v2/internal/ofx"
)

// ErrStrictAbort wraps the first record error when strict mode rolls a
// batch back.
var ErrStrictAbort = errors.New("strict mode: batch aborted")

// IngestService merges parsed statement records into the store without
// duplication. A batch runs inside one store transaction: it fully
// commits or fully rolls back.
type IngestService struct {
	DB          *sql.DB
	Categorizer *CategorizerService

	// Strict aborts the whole batch on the first bad record instead of
	// skipping it.
	Strict bool
}

// RecordError ties a per-record failure to its position in the batch.
type RecordError struct {
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

// ImportSummary enumerates what a batch did. Silent partial failure is
// disallowed: every skipped record appears in Errors.
type ImportSummary struct {
	Inserted   int
	Duplicates int
	Errors     []RecordError
}

// Ingest merges records into the store. Structurally invalid records are
// recorded and skipped (fatal under Strict); duplicates are counted, not
// failures. After commit, only the newly inserted rows are
// auto-categorized, so prior manual edits survive re-imports.
func (s *IngestService) Ingest(ctx context.Context, records []ofx.RawRecord) (ImportSummary, error) {
	log := logger.FromContext(ctx)
	summary := ImportSummary{}
	var inserted []string

	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		repo := repository.NewTransactionRepo(tx)
		for i, raw := range records {
			rec, err := ofx.Normalize(raw)
			if err != nil {
				summary.Errors = append(summary.Errors, RecordError{Index: i, Err: err})
				if s.Strict {
					return fmt.Errorf("%w: %v", ErrStrictAbort, RecordError{Index: i, Err: err})
				}
				continue
			}
			fitid := rec.FITID()
			outcome, err := repo.Upsert(ctx, repository.Transaction{
				FITID:    fitid,
				Account:  rec.Account,
				Type:     rec.Type,
				Posted:   rec.Posted,
				Amount:   rec.Amount,
				Name:     rec.Name,
				Memo:     rec.Memo,
				Checknum: rec.Checknum,
			})
			if err != nil {
				if errors.Is(err, repository.ErrDataIntegrity) {
					summary.Errors = append(summary.Errors, RecordError{Index: i, Err: err})
					if s.Strict {
						return fmt.Errorf("%w: %v", ErrStrictAbort, RecordError{Index: i, Err: err})
					}
					continue
				}
				return err
			}
			switch outcome {
			case repository.Inserted:
				summary.Inserted++
				inserted = append(inserted, fitid)
			case repository.Duplicate:
				summary.Duplicates++
			}
		}
		return nil
	})
	if err != nil {
		// rollback leaves the store in its pre-batch state
		return summary, err
	}

	log.Info().
		Int("inserted", summary.Inserted).
		Int("duplicates", summary.Duplicates).
		Int("errors", len(summary.Errors)).
		Msg("import batch committed")

	if s.Categorizer != nil && len(inserted) > 0 {
		if _, err := s.Categorizer.CategorizeNew(ctx, inserted); err != nil {
			return summary, fmt.Errorf("auto-categorize new rows: %w", err)
		}
	}
	return summary, nil
}
