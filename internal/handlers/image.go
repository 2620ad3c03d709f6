package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kairos-backend/internal/middleware"
	"kairos-backend/internal/models"
)

type imageService interface {
	Normalize(req *models.ImageRequest) error
	Generate(ctx context.Context, userID uuid.UUID, jobID *uuid.UUID, req models.ImageRequest) (*models.ImageResponse, error)
}

type imageRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImageRecord, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.ImageRecord, int, error)
}

type jobCreator interface {
	Create(ctx context.Context, j *models.Job) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

type ImageHandler struct {
	images  imageService
	records imageRepository
	jobs    jobCreator
	queue   jobEnqueuer
}

func NewImageHandler(images imageService, records imageRepository, jobs jobCreator, queue jobEnqueuer) *ImageHandler {
	return &ImageHandler{images: images, records: records, jobs: jobs, queue: queue}
}

// Generate creates images synchronously and returns them base64 encoded.
func (h *ImageHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.ImageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.images.Generate(r.Context(), middleware.GetUserID(r.Context()), nil, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateJob queues an image generation and returns immediately. Progress is
// reported over the websocket.
func (h *ImageHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.ImageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.images.Normalize(&req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	configBytes, _ := json.Marshal(req)
	job := &models.Job{
		UserID:     middleware.GetUserID(r.Context()),
		Type:       models.JobTypeImageGeneration,
		ConfigJSON: configBytes,
	}

	if err := h.jobs.Create(r.Context(), job); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create job", r))
		return
	}

	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		log.Printf("failed to enqueue image-generation job %s: %v", job.ID, err)
		_ = h.jobs.UpdateStatus(r.Context(), job.ID, models.JobStatusFailed)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to enqueue image job", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, offset := pagination(r)

	images, total, err := h.records.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch images", r))
		return
	}
	for _, img := range images {
		img.URL = "/api/v1/images/" + img.ID.String() + "/file"
	}
	if images == nil {
		images = []*models.ImageRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"images": images,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// File serves the stored image bytes.
func (h *ImageHandler) File(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid image ID", r))
		return
	}

	img, err := h.records.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Image not found", r))
		return
	}

	if img.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return
	}

	f, err := os.Open(img.FilePath)
	if err != nil {
		log.Printf("image %s file missing: %v", img.ID, err)
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Image file not found", r))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", img.ContentType())
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeContent(w, r, "", img.CreatedAt, f)
}
