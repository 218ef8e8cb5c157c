package repository

import (
	"context"
	"time"
)

// ArchiveQueueRepo persists the pending-archive queue. Rows survive a
// crash between batch commit and archive completion; startup re-drains
// whatever is left.
type ArchiveQueueRepo struct {
	db DBTX
}

func NewArchiveQueueRepo(db DBTX) *ArchiveQueueRepo { return &ArchiveQueueRepo{db: db} }

func (r *ArchiveQueueRepo) Add(ctx context.Context, pa PendingArchive) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO pending_archives(id, source_path, content_hash, queued_at)
	VALUES (?, ?, ?, ?)`,
		pa.ID, pa.SourcePath, pa.ContentHash, pa.QueuedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *ArchiveQueueRepo) List(ctx context.Context) ([]PendingArchive, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, source_path, content_hash, queued_at
	FROM pending_archives ORDER BY queued_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingArchive
	for rows.Next() {
		var pa PendingArchive
		var queued string
		if err := rows.Scan(&pa.ID, &pa.SourcePath, &pa.ContentHash, &queued); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, queued); err == nil {
			pa.QueuedAt = t
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

// Remove drops a queue row once its archive is written and verified.
func (r *ArchiveQueueRepo) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_archives WHERE id = ?`, id)
	return err
}
