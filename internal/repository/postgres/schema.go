package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id                TEXT PRIMARY KEY,
		patient_name      TEXT NOT NULL,
		contact_number    TEXT NOT NULL,
		room_number       TEXT NOT NULL,
		bed_number        TEXT,
		disease           TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		priority          TEXT NOT NULL,
		status            TEXT NOT NULL,
		assigned_nurse_id TEXT,
		created_at        TIMESTAMPTZ NOT NULL,
		completed_at      TIMESTAMPTZ,
		archived_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_status_created ON requests (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_completed_at ON requests (completed_at DESC) WHERE status = 'completed'`,
}

// Migrate creates the archive schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	return WithTx(ctx, db, func(tx *sqlx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}
