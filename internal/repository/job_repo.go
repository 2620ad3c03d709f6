package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"kairos-backend/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	j.ID = uuid.New()
	j.Status = models.JobStatusPending
	j.RetryCount = 0
	if j.MaxRetries <= 0 {
		j.MaxRetries = 3
	}

	config := []byte(j.ConfigJSON)
	if len(config) == 0 {
		config = []byte("{}")
	}

	query := `INSERT INTO jobs (id, user_id, type, config_json, status, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		j.ID, j.UserID, j.Type, config, j.Status, j.RetryCount, j.MaxRetries,
	).Scan(&j.CreatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	query := `SELECT id, user_id, type, config_json, status, retry_count, max_retries, result_json, error_message, created_at, completed_at
		FROM jobs WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.UserID, &j.Type, &j.ConfigJSON, &j.Status, &j.RetryCount, &j.MaxRetries,
		&j.ResultJSON, &j.ErrorMessage, &j.CreatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// terminalGuard keeps finished jobs from being moved back into the queue.
const terminalGuard = "status NOT IN ('completed', 'failed', 'cancelled')"

// UpdateStatus moves a job that has not finished yet. Updates to finished
// jobs are ignored.
func (r *JobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	switch status {
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		_, err := r.pool.Exec(ctx,
			"UPDATE jobs SET status = $1, completed_at = NOW() WHERE id = $2 AND "+terminalGuard, status, id)
		return err
	}
	_, err := r.pool.Exec(ctx, "UPDATE jobs SET status = $1 WHERE id = $2 AND "+terminalGuard, status, id)
	return err
}

func (r *JobRepo) UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE jobs SET error_message = $1, retry_count = $2 WHERE id = $3",
		errMsg, retryCount, id,
	)
	return err
}

// Complete stores the job result and marks it completed.
func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		"UPDATE jobs SET status = $1, result_json = $2, completed_at = NOW() WHERE id = $3 AND "+terminalGuard,
		models.JobStatusCompleted, data, id,
	)
	return err
}

// Cancel marks a job cancelled unless it already finished. It reports whether
// the job was cancelled.
func (r *JobRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, completed_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)`,
		models.JobStatusCancelled, id, models.JobStatusPending, models.JobStatusProcessing,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
