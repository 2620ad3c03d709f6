package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"kairos-backend/internal/models"
	"kairos-backend/internal/services"
)

const (
	dequeueTimeout = 5 * time.Second
	lockTTL        = 10 * time.Minute
)

type jobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Dequeue(ctx context.Context, timeout time.Duration, queues ...string) (*models.Job, error)
	Lock(ctx context.Context, jobID uuid.UUID, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, jobID uuid.UUID) error
}

type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
	Complete(ctx context.Context, id uuid.UUID, result any) error
}

type imageGenerator interface {
	Generate(ctx context.Context, userID uuid.UUID, jobID *uuid.UUID, req models.ImageRequest) (*models.ImageResponse, error)
}

type publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

// ImageJobResult is stored on the job once it completes.
type ImageJobResult struct {
	ImageIDs      []uuid.UUID `json:"image_ids"`
	RevisedPrompt string      `json:"revised_prompt,omitempty"`
}

type Pool struct {
	queue       jobQueue
	jobs        jobStore
	images      imageGenerator
	pub         publisher
	workerCount int
	backoff     func(attempt int) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(queue jobQueue, jobs jobStore, images imageGenerator, pub publisher, workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       queue,
		jobs:        jobs,
		images:      images,
		pub:         pub,
		workerCount: workerCount,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *Pool) Start() {
	queues := []string{QueueName(models.JobTypeImageGeneration)}

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, queues)
	}

	log.Printf("Started %d worker goroutines", p.workerCount)
}

// Stop cancels in-flight jobs and waits for the workers to exit.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker(id int, queues []string) {
	defer p.wg.Done()
	for {
		if p.ctx.Err() != nil {
			log.Printf("Worker %d shutting down", id)
			return
		}

		job, err := p.queue.Dequeue(p.ctx, dequeueTimeout, queues...)
		if err != nil {
			if p.ctx.Err() == nil {
				log.Printf("Worker %d: dequeue failed: %v", id, err)
				time.Sleep(time.Second)
			}
			continue
		}
		if job == nil {
			continue
		}

		p.processJob(p.ctx, id, job)
	}
}

func (p *Pool) processJob(ctx context.Context, workerID int, job *models.Job) {
	locked, err := p.queue.Lock(ctx, job.ID, lockTTL)
	if err != nil || !locked {
		return // Another worker has this job
	}
	defer p.queue.Unlock(context.Background(), job.ID)

	if current, err := p.jobs.GetByID(ctx, job.ID); err == nil && current.Terminal() {
		log.Printf("Worker %d: skipping job %s (%s)", workerID, job.ID, current.Status)
		return
	}

	log.Printf("Worker %d: processing job %s (type: %s)", workerID, job.ID, job.Type)
	p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusProcessing)

	p.publish(ctx, job.UserID, models.WSMessage{
		Type: models.EventStatusUpdate,
		Payload: models.StatusUpdate{
			JobID:                     job.ID,
			Status:                    models.JobStatusProcessing,
			Attempt:                   job.RetryCount + 1,
			StepName:                  "Generating images",
			EstimatedSecondsRemaining: 30,
		},
	})

	var (
		result     *ImageJobResult
		processErr error
	)
	switch job.Type {
	case models.JobTypeImageGeneration:
		result, processErr = p.processImage(ctx, job)
	default:
		processErr = &permanentError{fmt.Errorf("unknown job type: %s", job.Type)}
	}

	if processErr != nil {
		p.handleFailure(ctx, job, processErr)
		return
	}
	p.handleSuccess(ctx, job, result)
}

func (p *Pool) processImage(ctx context.Context, job *models.Job) (*ImageJobResult, error) {
	var req models.ImageRequest
	if err := json.Unmarshal(job.ConfigJSON, &req); err != nil {
		return nil, &permanentError{fmt.Errorf("invalid job config: %w", err)}
	}

	resp, err := p.images.Generate(ctx, job.UserID, &job.ID, req)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return nil, &permanentError{fmt.Errorf("invalid image request: %v", verr.Fields)}
		}
		return nil, err
	}
	return &ImageJobResult{ImageIDs: resp.IDs, RevisedPrompt: resp.RevisedPrompt}, nil
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job, result *ImageJobResult) {
	// A job cancelled while generating keeps its images but is not reported as completed.
	if current, err := p.jobs.GetByID(ctx, job.ID); err == nil && current.Status == models.JobStatusCancelled {
		log.Printf("Job %s finished after cancellation", job.ID)
		return
	}

	if err := p.jobs.Complete(ctx, job.ID, result); err != nil {
		log.Printf("Job %s: failed to store result: %v", job.ID, err)
	}

	p.publish(ctx, job.UserID, models.WSMessage{
		Type: models.EventCompleted,
		Payload: models.CompletedEvent{
			JobID:      job.ID,
			ResultIDs:  result.ImageIDs,
			ResultType: "image",
		},
	})

	log.Printf("Job %s completed successfully", job.ID)
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	// The pool context is cancelled on shutdown; job bookkeeping must still land.
	bg := context.WithoutCancel(ctx)

	if current, getErr := p.jobs.GetByID(bg, job.ID); getErr == nil && current.Status == models.JobStatusCancelled {
		log.Printf("Job %s failed after cancellation: %v", job.ID, err)
		return
	}

	if ctx.Err() != nil {
		log.Printf("Job %s interrupted by shutdown, re-queueing", job.ID)
		p.jobs.UpdateStatus(bg, job.ID, models.JobStatusPending)
		if err := p.queue.Enqueue(bg, job); err != nil {
			log.Printf("Job %s: failed to re-queue: %v", job.ID, err)
		}
		return
	}

	job.RetryCount++
	errMsg := err.Error()

	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var perm *permanentError
	if !errors.As(err, &perm) && job.RetryCount < maxRetries {
		log.Printf("Job %s failed (attempt %d): %s, retrying", job.ID, job.RetryCount, errMsg)
		p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusPending)
		p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

		retry := *job
		time.AfterFunc(p.backoff(job.RetryCount), func() {
			if err := p.queue.Enqueue(context.Background(), &retry); err != nil {
				log.Printf("Job %s: failed to re-queue: %v", retry.ID, err)
			}
		})
		return
	}

	log.Printf("Job %s failed permanently: %s", job.ID, errMsg)
	p.jobs.UpdateStatus(bg, job.ID, models.JobStatusFailed)
	p.jobs.UpdateError(bg, job.ID, errMsg, job.RetryCount)

	p.publish(bg, job.UserID, models.WSMessage{
		Type: models.EventError,
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ErrorCode:    "JOB_FAILED",
			ErrorMessage: errMsg,
		},
	})
}

func (p *Pool) publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(ctx, userID, msg); err != nil {
		log.Printf("Failed to publish %s update for user %s: %v", msg.Type, userID, err)
	}
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
