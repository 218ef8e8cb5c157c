package service_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PapaMarky/retirement-planning-v2/internal/database"
	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
	"github.com/PapaMarky/retirement-planning-v2/internal/ofx"
	"github.com/PapaMarky/retirement-planning-v2/internal/service"
	"github.com/PapaMarky/retirement-planning-v2/internal/testdata"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type harness struct {
	db           *sql.DB
	transactions *repository.TransactionRepo
	categories   *repository.CategoryRepo
	rules        *repository.RuleRepo
	categorizer  *service.CategorizerService
	ingestor     *service.IngestService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"), testKeyHex)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	h := &harness{
		db:           db,
		transactions: repository.NewTransactionRepo(db),
		categories:   repository.NewCategoryRepo(db),
		rules:        repository.NewRuleRepo(db),
	}
	h.categorizer = &service.CategorizerService{
		Transactions: h.transactions,
		Rules:        h.rules,
		Categories:   h.categories,
	}
	h.ingestor = &service.IngestService{DB: db, Categorizer: h.categorizer}
	return h
}

func rawRecord(posted, amount, name string) ofx.RawRecord {
	return ofx.RawRecord{
		Account: "CHK-1234",
		Type:    "checking",
		Posted:  posted,
		Amount:  amount,
		Name:    name,
	}
}

func TestIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	batch := []ofx.RawRecord{
		rawRecord("2024-03-01", "-10.00", "SHELL GAS"),
		rawRecord("2024-03-02", "-20.00", "SAFEWAY"),
	}

	first, err := h.ingestor.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Zero(t, first.Duplicates)
	assert.Empty(t, first.Errors)

	second, err := h.ingestor.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 2, second.Duplicates)

	n, err := h.transactions.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// A bad record is skipped and reported; a later corrected re-import of
// the whole file inserts only the fixed record.
func TestIngestPartialBatchThenCorrectedReimport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	broken := []ofx.RawRecord{
		rawRecord("2024-03-01", "-10.00", "SHELL GAS"),
		rawRecord("2024-03-02", "", "SAFEWAY"),
		rawRecord("2024-03-03", "-30.00", "NETFLIX"),
	}
	summary, err := h.ingestor.Ingest(ctx, broken)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted)
	assert.Zero(t, summary.Duplicates)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 1, summary.Errors[0].Index)
	var verr *ofx.ValidationError
	require.ErrorAs(t, summary.Errors[0].Err, &verr)
	assert.Equal(t, "amount", verr.Field)

	fixed := []ofx.RawRecord{
		rawRecord("2024-03-01", "-10.00", "SHELL GAS"),
		rawRecord("2024-03-02", "-20.00", "SAFEWAY"),
		rawRecord("2024-03-03", "-30.00", "NETFLIX"),
	}
	summary, err = h.ingestor.Ingest(ctx, fixed)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 2, summary.Duplicates)
	assert.Empty(t, summary.Errors)
}

// Formatting noise across exports must not create new rows.
func TestIngestFormattingVariantsDeduplicate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ingestor.Ingest(ctx, []ofx.RawRecord{
		rawRecord("2024-03-01", "-10.00", "SHELL GAS"),
	})
	require.NoError(t, err)

	variant := ofx.RawRecord{
		Account: "  chk-1234 ",
		Type:    "CHECKING",
		Posted:  "2024-03-01 00:00:00",
		Amount:  "-10.0",
		Name:    "shell   gas",
	}
	summary, err := h.ingestor.Ingest(ctx, []ofx.RawRecord{variant})
	require.NoError(t, err)
	assert.Zero(t, summary.Inserted)
	assert.Equal(t, 1, summary.Duplicates)
}

func TestIngestStrictRollsBackWholeBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ingestor.Strict = true

	summary, err := h.ingestor.Ingest(ctx, []ofx.RawRecord{
		rawRecord("2024-03-01", "-10.00", "SHELL GAS"),
		rawRecord("2024-03-02", "", "SAFEWAY"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrStrictAbort)
	_ = summary

	n, err := h.transactions.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "strict abort leaves the store in its pre-batch state")
}

func TestIngestConflictingPayloadReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ingestor.Ingest(ctx, []ofx.RawRecord{
		rawRecord("2024-03-01", "-10.00", "SHELL GAS"),
	})
	require.NoError(t, err)

	// a different memo changes the content identity: distinct row, not
	// a conflict
	variantMemo := rawRecord("2024-03-01", "-10.00", "SHELL GAS")
	variantMemo.Memo = "POS PURCHASE"
	summary, err := h.ingestor.Ingest(ctx, []ofx.RawRecord{variantMemo})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Empty(t, summary.Errors)

	// checknum is outside the identity hash, so the same identity with
	// a conflicting checknum is a real integrity violation
	variantCheck := rawRecord("2024-03-01", "-10.00", "SHELL GAS")
	variantCheck.Checknum = "1041"
	summary, err = h.ingestor.Ingest(ctx, []ofx.RawRecord{variantCheck})
	require.NoError(t, err, "non-strict mode reports and skips")
	assert.Zero(t, summary.Inserted)
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0].Err, repository.ErrDataIntegrity)
}

func TestIngestGeneratedBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	batch := testdata.Records(7, "CHK-1234", 50)
	summary, err := h.ingestor.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 50, summary.Inserted+summary.Duplicates)

	// replay of the same generated batch inserts nothing
	again, err := h.ingestor.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, again.Inserted)
	assert.Equal(t, 50, again.Duplicates+len(again.Errors))
	assert.Empty(t, again.Errors)
}

func TestIngestAutoCategorizesOnlyNewRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	gasID, err := h.categories.Create(ctx, "Auto > Gas", repository.Recurring)
	require.NoError(t, err)
	diningID, err := h.categories.Create(ctx, "Dining", repository.Recurring)
	require.NoError(t, err)

	_, err = h.rules.Create(ctx, repository.Rule{
		Pattern: "SHELL", TargetField: repository.TargetName, CategoryID: gasID, Priority: 10,
	})
	require.NoError(t, err)

	_, err = h.ingestor.Ingest(ctx, []ofx.RawRecord{
		rawRecord("2024-03-01", "-10.00", "SHELL GAS"),
	})
	require.NoError(t, err)

	txns, err := h.transactions.List(ctx, repository.TransactionFilters{})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.NotNil(t, txns[0].CategoryID)
	assert.Equal(t, gasID, *txns[0].CategoryID)

	// manual reclassification, then a re-import of the same file plus a
	// new record: the edit survives, only the new row gets the rule
	require.NoError(t, h.transactions.UpdateCategory(ctx, txns[0].FITID, &diningID))

	_, err = h.ingestor.Ingest(ctx, []ofx.RawRecord{
		rawRecord("2024-03-01", "-10.00", "SHELL GAS"),
		rawRecord("2024-03-05", "-15.00", "SHELL CARWASH"),
	})
	require.NoError(t, err)

	edited, err := h.transactions.Get(ctx, txns[0].FITID)
	require.NoError(t, err)
	require.NotNil(t, edited.CategoryID)
	assert.Equal(t, diningID, *edited.CategoryID)

	fresh, err := h.transactions.List(ctx, repository.TransactionFilters{CategoryID: &gasID})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "SHELL CARWASH", fresh[0].Name)
}
