package archive

import (
	"context"
	"os"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PapaMarky/retirement-planning-v2/internal/database"
	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
)

// Worker archives queued statement files asynchronously after batch
// commit. Queue rows persist in the store, so a crash between commit
// and archive completion is recovered by the startup drain.
type Worker struct {
	Queue     *repository.ArchiveQueueRepo
	Encryptor *Encryptor
	Log       zerolog.Logger

	mu     sync.Mutex
	notify chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// Start launches the background drain loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.notify = make(chan struct{}, 1)
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Enqueue records srcPath for archival and nudges the worker. Called
// after the ingestion batch commits.
func (w *Worker) Enqueue(ctx context.Context, srcPath string) error {
	hash, err := ContentHash(srcPath)
	if err != nil {
		return err
	}
	pa := repository.PendingArchive{
		ID:          uuid.NewString(),
		SourcePath:  srcPath,
		ContentHash: hash,
		QueuedAt:    database.Now(),
	}
	if err := w.Queue.Add(ctx, pa); err != nil {
		return err
	}
	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// Drain processes every queued row synchronously. The session runs it
// once at startup (crash recovery) and the loop runs it on every nudge.
// Drains never overlap: a concurrent caller waits, then sees an already
// emptied queue instead of archiving the same row twice.
func (w *Worker) Drain(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending, err := w.Queue.List(ctx)
	if err != nil {
		return err
	}
	for _, pa := range pending {
		if err := w.archiveOne(ctx, pa); err != nil {
			// leave the row queued; the plaintext is untouched and the
			// next drain retries
			w.Log.Error().Str("source", pa.SourcePath).Err(err).Msg("archive failed, will retry")
			continue
		}
		if err := w.Queue.Remove(ctx, pa.ID); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) archiveOne(ctx context.Context, pa repository.PendingArchive) error {
	if _, err := os.Stat(pa.SourcePath); os.IsNotExist(err) {
		// plaintext already gone: archived before a crash, or removed
		// by hand. Either way there is nothing left to protect.
		w.Log.Warn().Str("source", pa.SourcePath).Msg("queued source missing, dropping queue entry")
		return nil
	}
	if hash, err := ContentHash(pa.SourcePath); err == nil && hash != pa.ContentHash {
		w.Log.Warn().Str("source", pa.SourcePath).Msg("source changed since import, archiving current content")
	}

	op := func() error {
		_, err := w.Encryptor.Archive(pa.SourcePath)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}

// Close drains outstanding work and stops the loop. Archival must
// complete before the session ends.
func (w *Worker) Close(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	err := w.Drain(ctx)
	w.cancel()
	<-w.done
	return err
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.notify:
			if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.Log.Error().Err(err).Msg("archive drain")
			}
		}
	}
}
