package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screenloom/backend/internal/models"
)

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func (r *ProjectRepo) Create(ctx context.Context, p *models.Project) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO projects (id, owner_id, name, theme_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, p.ID, p.OwnerID, p.Name, p.ThemeID).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *ProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, theme_id, created_at, updated_at
		FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.Name, &p.ThemeID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetTheme persists the theme chosen at planning time. New projects only;
// editing jobs carry the existing theme forward unchanged.
func (r *ProjectRepo) SetTheme(ctx context.Context, id uuid.UUID, themeID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE projects SET theme_id = $2, updated_at = now() WHERE id = $1
	`, id, themeID)
	return err
}

func (r *ProjectRepo) ListByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]*models.Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, name, theme_id, created_at, updated_at
		FROM projects WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.ThemeID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}
