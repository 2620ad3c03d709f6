package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kairos-backend/internal/models"
)

func QueueName(jobType string) string {
	return "queue:" + jobType
}

// RedisQueue is a FIFO job list per type (LPUSH in, BRPOP out) plus per-job locks.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, QueueName(job.Type), data).Err()
}

// Dequeue blocks up to timeout for the oldest queued job. It returns nil, nil
// on timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration, queues ...string) (*models.Job, error) {
	result, err := q.client.BRPop(ctx, timeout, queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job models.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Lock(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (bool, error) {
	return q.client.SetNX(ctx, lockKey(jobID), "1", ttl).Result()
}

func (q *RedisQueue) Unlock(ctx context.Context, jobID uuid.UUID) error {
	return q.client.Del(ctx, lockKey(jobID)).Err()
}

func lockKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job_lock:%s", jobID.String())
}
