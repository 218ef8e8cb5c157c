package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PapaMarky/retirement-planning-v2/internal/database"
)

// MaintenanceService houses destructive ops actions.
type MaintenanceService struct {
	DB *sql.DB
}

// Reset wipes all user data. It keeps the schema intact so the session
// can continue running.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"pending_archives",
			"rules",
			"transactions",
			"categories",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}
