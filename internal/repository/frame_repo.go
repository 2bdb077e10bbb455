package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screenloom/backend/internal/models"
)

type FrameRepo struct {
	pool *pgxpool.Pool
}

func NewFrameRepo(pool *pgxpool.Pool) *FrameRepo {
	return &FrameRepo{pool: pool}
}

// Upsert writes the frame, replacing any existing row with the same
// (project_id, id). Placeholders and final content go through the same path.
func (r *FrameRepo) Upsert(ctx context.Context, f *models.Frame) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO frames (id, project_id, title, html_content, ord, is_loading)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, id) DO UPDATE
		SET title = $3, html_content = $4, ord = $5, is_loading = $6, updated_at = now()
		RETURNING updated_at
	`, f.ID, f.ProjectID, f.Title, f.HTMLContent, f.Ord, f.IsLoading).Scan(&f.UpdatedAt)
}

func (r *FrameRepo) GetByID(ctx context.Context, projectID uuid.UUID, frameID string) (*models.Frame, error) {
	var f models.Frame
	err := r.pool.QueryRow(ctx, `
		SELECT id, project_id, title, html_content, ord, is_loading, updated_at
		FROM frames WHERE project_id = $1 AND id = $2
	`, projectID, frameID).Scan(&f.ID, &f.ProjectID, &f.Title, &f.HTMLContent, &f.Ord, &f.IsLoading, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FrameRepo) ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*models.Frame, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, title, html_content, ord, is_loading, updated_at
		FROM frames WHERE project_id = $1 ORDER BY ord
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Frame
	for rows.Next() {
		var f models.Frame
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Title, &f.HTMLContent, &f.Ord, &f.IsLoading, &f.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &f)
	}
	return list, rows.Err()
}

func (r *FrameRepo) Delete(ctx context.Context, projectID uuid.UUID, frameID string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM frames WHERE project_id = $1 AND id = $2", projectID, frameID)
	return err
}
