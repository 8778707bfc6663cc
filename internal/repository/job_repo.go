package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kairon-backend/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	j.ID = uuid.New()
	j.Status = models.JobPending

	request := j.RequestJSON
	if len(request) == 0 {
		request = []byte("{}")
	}

	query := `INSERT INTO generation_jobs (id, user_id, project_id, kinds, request_json, initial, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		j.ID, j.UserID, j.ProjectID, j.Kinds, request, j.Initial, j.Status,
	).Scan(&j.CreatedAt)
}

// GetByID returns the job only when it belongs to userID.
func (r *JobRepo) GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	query := `SELECT id, user_id, project_id, kinds, request_json, initial, status, error_message, created_at, completed_at
		FROM generation_jobs WHERE id = $1 AND user_id = $2`

	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&j.ID, &j.UserID, &j.ProjectID, &j.Kinds, &j.RequestJSON, &j.Initial, &j.Status,
		&j.ErrorMessage, &j.CreatedAt, &j.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

func (r *JobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	if status == models.JobCompleted || status == models.JobFailed {
		_, err := r.pool.Exec(ctx,
			"UPDATE generation_jobs SET status = $1, completed_at = $2 WHERE id = $3",
			status, time.Now(), id,
		)
		return err
	}
	_, err := r.pool.Exec(ctx, "UPDATE generation_jobs SET status = $1 WHERE id = $2", status, id)
	return err
}

func (r *JobRepo) UpdateError(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx, "UPDATE generation_jobs SET error_message = $1 WHERE id = $2", errMsg, id)
	return err
}
