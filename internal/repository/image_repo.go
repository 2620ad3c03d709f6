package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"kairos-backend/internal/models"
)

type ImageRepo struct {
	pool *pgxpool.Pool
}

func NewImageRepo(pool *pgxpool.Pool) *ImageRepo {
	return &ImageRepo{pool: pool}
}

// Create inserts the record. The caller assigns the id since it names the file on disk.
func (r *ImageRepo) Create(ctx context.Context, img *models.ImageRecord) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}

	query := `INSERT INTO images (id, user_id, job_id, prompt, revised_prompt, model, size, format, transparent, file_path, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		img.ID, img.UserID, img.JobID, img.Prompt, img.RevisedPrompt, img.Model,
		img.Size, img.Format, img.Transparent, img.FilePath, img.SizeBytes,
	).Scan(&img.CreatedAt)
}

const imageColumns = `id, user_id, job_id, prompt, revised_prompt, model, size, format, transparent, file_path, size_bytes, created_at`

func (r *ImageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error) {
	img := &models.ImageRecord{}
	err := r.pool.QueryRow(ctx, "SELECT "+imageColumns+" FROM images WHERE id = $1", id).Scan(
		&img.ID, &img.UserID, &img.JobID, &img.Prompt, &img.RevisedPrompt, &img.Model,
		&img.Size, &img.Format, &img.Transparent, &img.FilePath, &img.SizeBytes, &img.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (r *ImageRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.ImageRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM images WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		"SELECT "+imageColumns+" FROM images WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var images []*models.ImageRecord
	for rows.Next() {
		img := &models.ImageRecord{}
		if err := rows.Scan(
			&img.ID, &img.UserID, &img.JobID, &img.Prompt, &img.RevisedPrompt, &img.Model,
			&img.Size, &img.Format, &img.Transparent, &img.FilePath, &img.SizeBytes, &img.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		images = append(images, img)
	}
	return images, total, rows.Err()
}
