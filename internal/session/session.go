// Package session owns the lifetime of one authenticated store session:
// key derivation, the single-writer lock, the open database, and the
// services built on top. Everything downstream goes through a Session;
// nothing hands out the raw database.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/PapaMarky/retirement-planning-v2/internal/archive"
	"github.com/PapaMarky/retirement-planning-v2/internal/config"
	"github.com/PapaMarky/retirement-planning-v2/internal/database"
	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
	"github.com/PapaMarky/retirement-planning-v2/internal/keys"
	"github.com/PapaMarky/retirement-planning-v2/internal/logger"
	"github.com/PapaMarky/retirement-planning-v2/internal/ofx"
	"github.com/PapaMarky/retirement-planning-v2/internal/service"
)

// Session is one authenticated store session. Explicitly Close it to
// release the lock and zero the in-memory keys.
type Session struct {
	Transactions *repository.TransactionRepo
	Categories   *repository.CategoryRepo
	Rules        *repository.RuleRepo

	Ingestor    *service.IngestService
	Categorizer *service.CategorizerService
	Suspects    *service.SuspectService
	Maintenance *service.MaintenanceService

	db        *sql.DB
	lock      *flock.Flock
	keyCtx    *keys.EncryptionContext
	encryptor *archive.Encryptor
	worker    *archive.Worker
}

// Open authenticates the master password and brings up the store. A
// first run initializes the salt sidecar; after that a wrong password
// fails with keys.ErrAuthentication before any data is touched.
func Open(ctx context.Context, cfg config.Config, masterPassword string) (*Session, error) {
	log := logger.FromContext(ctx)

	if len(masterPassword) < cfg.Security.MinPasswordChars {
		return nil, fmt.Errorf("master password must be at least %d characters", cfg.Security.MinPasswordChars)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	params := keys.Params{
		Time:        cfg.Security.Argon2Time,
		MemoryKiB:   cfg.Security.Argon2MemoryKiB,
		Parallelism: cfg.Security.Argon2Threads,
	}
	var keyCtx *keys.EncryptionContext
	var err error
	if keys.Exists(cfg.Security.SaltPath) {
		keyCtx, err = keys.Load(cfg.Security.SaltPath, masterPassword)
	} else {
		keyCtx, err = keys.Setup(cfg.Security.SaltPath, masterPassword, params)
	}
	if err != nil {
		return nil, err
	}

	lock, err := database.AcquireLock(cfg.Database.Path)
	if err != nil {
		keyCtx.Zero()
		return nil, err
	}

	db, err := database.Open(cfg.Database.Path, keyCtx.DatabaseKeyHex())
	if err != nil {
		_ = lock.Unlock()
		keyCtx.Zero()
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		keyCtx.Zero()
		return nil, err
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		keyCtx.Zero()
		return nil, err
	}

	txRepo := repository.NewTransactionRepo(db)
	catRepo := repository.NewCategoryRepo(db)
	ruleRepo := repository.NewRuleRepo(db)
	queueRepo := repository.NewArchiveQueueRepo(db)

	categorizer := &service.CategorizerService{Transactions: txRepo, Rules: ruleRepo, Categories: catRepo}
	encryptor := archive.NewEncryptor(keyCtx.ArchiveKey, cfg.Archive.Dir)
	worker := &archive.Worker{Queue: queueRepo, Encryptor: encryptor, Log: log}

	s := &Session{
		Transactions: txRepo,
		Categories:   catRepo,
		Rules:        ruleRepo,
		Ingestor:     &service.IngestService{DB: db, Categorizer: categorizer, Strict: cfg.Import.Strict},
		Categorizer:  categorizer,
		Suspects:     &service.SuspectService{Transactions: txRepo},
		Maintenance:  &service.MaintenanceService{DB: db},
		db:           db,
		lock:         lock,
		keyCtx:       keyCtx,
		encryptor:    encryptor,
		worker:       worker,
	}

	worker.Start(ctx)
	// recover archives left pending by a crash between commit and
	// archival
	if err := worker.Drain(ctx); err != nil {
		log.Error().Err(err).Msg("startup archive drain")
	}
	return s, nil
}

// ImportFile ingests a parsed batch and, once it commits, queues the
// source statement file for encryption. Archival runs asynchronously
// but always completes before Close returns.
func (s *Session) ImportFile(ctx context.Context, records []ofx.RawRecord, sourcePath string) (service.ImportSummary, error) {
	summary, err := s.Ingestor.Ingest(ctx, records)
	if err != nil {
		return summary, err
	}
	if sourcePath != "" {
		if err := s.worker.Enqueue(ctx, sourcePath); err != nil {
			return summary, fmt.Errorf("queue archive for %s: %w", sourcePath, err)
		}
	}
	return summary, nil
}

// DecryptArchive opens a previously written archive with the session's
// archive key.
func (s *Session) DecryptArchive(path string) (string, []byte, error) {
	return s.encryptor.Decrypt(path)
}

// ListTransactions is part of the read-only surface for downstream
// consumers (forecasting, reporting).
func (s *Session) ListTransactions(ctx context.Context, f repository.TransactionFilters) ([]repository.Transaction, error) {
	return s.Transactions.List(ctx, f)
}

// DeleteCategory removes a category. Without cascade it fails with
// repository.ErrReferentialIntegrity if anything still references it;
// with cascade the referencing transactions are uncategorized and the
// referencing rules dropped, atomically.
func (s *Session) DeleteCategory(ctx context.Context, id int64, cascade bool) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return repository.NewCategoryRepo(tx).Delete(ctx, id, cascade)
	})
}

// ListCategories is part of the read-only surface.
func (s *Session) ListCategories(ctx context.Context) ([]repository.Category, error) {
	return s.Categories.List(ctx)
}

// AggregateByCategory sums amounts per category over [from, to).
func (s *Session) AggregateByCategory(ctx context.Context, from, to time.Time) ([]repository.CategoryTotal, error) {
	return s.Transactions.SumByCategory(ctx, from, to)
}

// MonthlyExpenses sums expense amounts per calendar month over [from, to).
func (s *Session) MonthlyExpenses(ctx context.Context, from, to time.Time) ([]repository.MonthTotal, error) {
	return s.Transactions.SumExpensesByMonth(ctx, from, to)
}

// Close finishes pending archives, closes the database, releases the
// session lock and zeroes the keys. The session is unusable afterwards.
func (s *Session) Close(ctx context.Context) error {
	var firstErr error
	if err := s.worker.Close(ctx); err != nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.keyCtx.Zero()
	return firstErr
}
