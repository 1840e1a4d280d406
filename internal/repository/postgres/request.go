package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/nurse-call-api/internal/model"
	"github.com/jwalitptl/nurse-call-api/internal/repository"
	apperrors "github.com/jwalitptl/nurse-call-api/pkg/errors"
)

const requestColumns = `id, patient_name, contact_number, room_number, bed_number, disease,
	description, priority, status, assigned_nurse_id, created_at, completed_at`

type requestArchive struct {
	db *sqlx.DB
}

func NewRequestArchive(db *sqlx.DB) repository.RequestArchive {
	return &requestArchive{db: db}
}

// Save upserts a committed snapshot. A completed row is never moved back to
// an active status, so a late or replayed snapshot cannot undo a completion.
func (r *requestArchive) Save(ctx context.Context, req model.Request) error {
	query := `
		INSERT INTO requests (` + requestColumns + `)
		VALUES (:id, :patient_name, :contact_number, :room_number, :bed_number, :disease,
			:description, :priority, :status, :assigned_nurse_id, :created_at, :completed_at)
		ON CONFLICT (id) DO UPDATE SET
			status            = EXCLUDED.status,
			assigned_nurse_id = EXCLUDED.assigned_nurse_id,
			completed_at      = EXCLUDED.completed_at,
			archived_at       = now()
		WHERE requests.status <> 'completed' OR EXCLUDED.status = 'completed'
	`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("failed to archive request %s: %w", req.ID, err)
	}
	return nil
}

func (r *requestArchive) Get(ctx context.Context, id string) (model.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	var req model.Request
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Request{}, apperrors.NewNotFound("request "+id, err)
		}
		return model.Request{}, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

func (r *requestArchive) ListActive(ctx context.Context) ([]model.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status IN ('pending', 'assigned')
		ORDER BY created_at ASC, id ASC
	`
	var reqs []model.Request
	if err := r.db.SelectContext(ctx, &reqs, query); err != nil {
		return nil, fmt.Errorf("failed to list active requests: %w", err)
	}
	return reqs, nil
}

func (r *requestArchive) ListCompleted(ctx context.Context) ([]model.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = 'completed'
		ORDER BY completed_at DESC, id ASC
	`
	var reqs []model.Request
	if err := r.db.SelectContext(ctx, &reqs, query); err != nil {
		return nil, fmt.Errorf("failed to list completed requests: %w", err)
	}
	return reqs, nil
}
