package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kairos-backend/internal/middleware"
	"kairos-backend/internal/models"
)

type jobRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error
}

type JobHandler struct {
	jobRepo jobRepository
	events  eventPublisher
}

func NewJobHandler(jobRepo jobRepository, events eventPublisher) *JobHandler {
	return &JobHandler{jobRepo: jobRepo, events: events}
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}

	cancelled, err := h.jobRepo.Cancel(r.Context(), job.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to cancel job", r))
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", "Job has already finished", r))
		return
	}

	if h.events != nil {
		msg := models.WSMessage{Type: models.EventCancelled, Payload: models.CancelledEvent{JobID: job.ID}}
		if err := h.events.Publish(r.Context(), job.UserID, msg); err != nil {
			log.Printf("Failed to publish cancellation of job %s: %v", job.ID, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
}

func (h *JobHandler) load(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid job ID", r))
		return nil, false
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Job not found", r))
		return nil, false
	}

	if job.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}
	return job, true
}
