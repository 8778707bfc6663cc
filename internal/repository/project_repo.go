package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kairon-backend/internal/models"
)

// ErrNotFound is returned when a record does not exist or is not owned by
// the caller. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// MutateFunc edits a locked copy of a project. Returning an error aborts the
// write.
type MutateFunc func(p *models.StudyProject) error

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

const projectColumns = `id, owner_id, name, ingested_text, status, artifacts, created_at, updated_at`

func scanProject(row pgx.Row) (*models.StudyProject, error) {
	p := &models.StudyProject{}
	var raw []byte
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.IngestedText, &p.Status, &raw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Artifacts = make(models.Artifacts)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts of project %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func encodeArtifacts(a models.Artifacts) (string, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode artifacts: %w", err)
	}
	return string(b), nil
}

func (r *ProjectRepo) Create(ctx context.Context, p *models.StudyProject) error {
	p.ID = uuid.New()
	if p.Artifacts == nil {
		p.Artifacts = make(models.Artifacts)
	}
	artifacts, err := encodeArtifacts(p.Artifacts)
	if err != nil {
		return err
	}

	query := `INSERT INTO study_projects (id, owner_id, name, ingested_text, status, artifacts)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb) RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		p.ID, p.OwnerID, p.Name, p.IngestedText, p.Status, artifacts,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *ProjectRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.StudyProject, error) {
	query := `SELECT ` + projectColumns + ` FROM study_projects
		WHERE owner_id = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]*models.StudyProject, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepo) Get(ctx context.Context, ownerID, id uuid.UUID) (*models.StudyProject, error) {
	query := `SELECT ` + projectColumns + ` FROM study_projects WHERE id = $1 AND owner_id = $2`
	return scanProject(r.pool.QueryRow(ctx, query, id, ownerID))
}

// Update applies patch in a single statement so the merge is atomic: named
// slots are overwritten, null slots are removed, everything else is kept.
func (r *ProjectRepo) Update(ctx context.Context, ownerID, id uuid.UUID, patch models.ProjectPatch) (*models.StudyProject, error) {
	set, removed := patch.Split()
	setJSON, err := encodeArtifacts(set)
	if err != nil {
		return nil, err
	}
	if removed == nil {
		removed = []models.Slot{}
	}
	removedKeys := make([]string, len(removed))
	for i, s := range removed {
		removedKeys[i] = string(s)
	}

	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	query := `UPDATE study_projects SET
			name = COALESCE($3, name),
			status = COALESCE($4, status),
			artifacts = (artifacts || $5::jsonb) - $6::text[],
			updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + projectColumns

	return scanProject(r.pool.QueryRow(ctx, query, id, ownerID, patch.Name, status, setJSON, removedKeys))
}

// Mutate runs fn against the current row while holding its lock, then
// writes back name, status and artifacts.
func (r *ProjectRepo) Mutate(ctx context.Context, ownerID, id uuid.UUID, fn MutateFunc) (*models.StudyProject, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + projectColumns + ` FROM study_projects WHERE id = $1 AND owner_id = $2 FOR UPDATE`
	p, err := scanProject(tx.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		return nil, err
	}

	if err := fn(p); err != nil {
		return nil, err
	}

	artifacts, err := encodeArtifacts(p.Artifacts)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx,
		`UPDATE study_projects SET name = $3, status = $4, artifacts = $5::jsonb, updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 RETURNING updated_at`,
		id, ownerID, p.Name, p.Status, artifacts,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return p, nil
}

func (r *ProjectRepo) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM study_projects WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
