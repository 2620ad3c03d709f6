package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageRequest is the payload of POST /api/gen-image and POST /api/v1/images/jobs.
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	Count       int    `json:"count"`
	Format      string `json:"format"` // "png" | "jpeg" | "webp"
	Transparent bool   `json:"transparent"`
	Size        string `json:"size"`
}

type ImageResponse struct {
	Image         string      `json:"image"`
	Images        []string    `json:"images"`
	Format        string      `json:"format"`
	Size          string      `json:"size"`
	RevisedPrompt string      `json:"revised_prompt,omitempty"`
	IDs           []uuid.UUID `json:"ids,omitempty"`
}

type ImageRecord struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	JobID         *uuid.UUID `json:"job_id,omitempty"`
	Prompt        string     `json:"prompt"`
	RevisedPrompt *string    `json:"revised_prompt,omitempty"`
	Model         string     `json:"model"`
	Size          string     `json:"size"`
	Format        string     `json:"format"`
	Transparent   bool       `json:"transparent"`
	FilePath      string     `json:"-"`
	SizeBytes     int64      `json:"size_bytes"`
	CreatedAt     time.Time  `json:"created_at"`
	URL           string     `json:"url,omitempty"`
}

// ContentType returns the MIME type of the stored image file.
func (r *ImageRecord) ContentType() string {
	switch r.Format {
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
