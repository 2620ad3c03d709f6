package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"kairos-backend/internal/llm"
	"kairos-backend/internal/models"
)

const (
	DefaultImageSize = "1024x1024"
	MaxImageCount    = 10

	promptRequiredMessage = "프롬프트를 입력해주세요"
)

var imageFormats = []string{"png", "jpeg", "webp"}

type imageModelLimits struct {
	sizes     []string
	maxCount  int
	maxPrompt int
	// Only the gpt-image family honors output format and background.
	formats bool
}

func limitsFor(model string) imageModelLimits {
	switch {
	case model == "dall-e-3":
		return imageModelLimits{sizes: []string{"1024x1024", "1792x1024", "1024x1792"}, maxCount: 1, maxPrompt: 4000}
	case model == "dall-e-2":
		return imageModelLimits{sizes: []string{"256x256", "512x512", "1024x1024"}, maxCount: MaxImageCount, maxPrompt: 1000}
	default:
		return imageModelLimits{sizes: []string{"1024x1024", "1536x1024", "1024x1536", "auto"}, maxCount: MaxImageCount, maxPrompt: 32000, formats: true}
	}
}

type imageStore interface {
	Create(ctx context.Context, img *models.ImageRecord) error
}

type ImageService struct {
	provider    llm.ImageProvider
	model       string
	images      imageStore
	storagePath string
	slots       *Slots
	timeout     time.Duration
}

func NewImageService(provider llm.ImageProvider, model string, images imageStore, storagePath string, slots *Slots, timeout time.Duration) *ImageService {
	if slots == nil {
		slots = NewSlots(1)
	}
	return &ImageService{
		provider:    provider,
		model:       model,
		images:      images,
		storagePath: storagePath,
		slots:       slots,
		timeout:     timeout,
	}
}

func (s *ImageService) Model() string { return s.model }

// Sizes lists the sizes the configured model accepts.
func (s *ImageService) Sizes() []string { return slices.Clone(limitsFor(s.model).sizes) }

func (s *ImageService) MaxCount() int { return limitsFor(s.model).maxCount }

func (s *ImageService) Formats() []string {
	if !limitsFor(s.model).formats {
		return []string{"png"}
	}
	return slices.Clone(imageFormats)
}

// Normalize validates req in place: it trims the prompt, fills defaults and
// switches transparent JPEG requests to PNG.
func (s *ImageService) Normalize(req *models.ImageRequest) error {
	limits := limitsFor(s.model)
	fields := map[string]string{}

	req.Prompt = strings.TrimSpace(req.Prompt)
	switch {
	case req.Prompt == "":
		fields["prompt"] = promptRequiredMessage
	case utf8.RuneCountInString(req.Prompt) > limits.maxPrompt:
		fields["prompt"] = fmt.Sprintf("must be at most %d characters", limits.maxPrompt)
	}

	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 1 || req.Count > limits.maxCount {
		fields["count"] = fmt.Sprintf("must be between 1 and %d for %s", limits.maxCount, s.model)
	}

	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	switch req.Format {
	case "":
		req.Format = "png"
	case "jpg":
		req.Format = "jpeg"
	}
	if !slices.Contains(imageFormats, req.Format) {
		fields["format"] = "must be png, jpeg or webp"
	}
	if req.Transparent && req.Format == "jpeg" {
		req.Format = "png"
	}
	if !limits.formats {
		req.Format = "png"
		req.Transparent = false
	}

	req.Size = strings.TrimSpace(req.Size)
	if req.Size == "" {
		req.Size = DefaultImageSize
	}
	if !slices.Contains(limits.sizes, req.Size) {
		fields["size"] = fmt.Sprintf("must be one of %s for %s", strings.Join(limits.sizes, ", "), s.model)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Generate creates images for req. Images are stored on disk and recorded
// when userID is set. For job runs (jobID set) a storage failure fails the
// call; for synchronous requests it is logged and the images are still returned.
func (s *ImageService) Generate(ctx context.Context, userID uuid.UUID, jobID *uuid.UUID, req models.ImageRequest) (*models.ImageResponse, error) {
	if err := s.Normalize(&req); err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.slots.Acquire(ctx); err != nil {
		return nil, &RateLimitError{Message: "Image generation is busy, please try again shortly"}
	}
	defer s.slots.Release()

	params := llm.ImageParams{
		Prompt:      req.Prompt,
		Count:       req.Count,
		Size:        req.Size,
		Format:      req.Format,
		Transparent: req.Transparent,
	}
	if userID != uuid.Nil {
		params.User = userID.String()
	}

	start := time.Now()
	generated, err := s.provider.GenerateImages(ctx, params)
	if err != nil {
		return nil, &UpstreamError{Message: "이미지 생성에 실패했습니다", Err: err}
	}
	if len(generated) == 0 {
		return nil, &UpstreamError{Message: "이미지 생성에 실패했습니다"}
	}
	log.Printf("Generated %d image(s) with %s in %s", len(generated), s.model, time.Since(start).Round(time.Millisecond))

	resp := &models.ImageResponse{
		Image:         generated[0].B64,
		Format:        req.Format,
		Size:          req.Size,
		RevisedPrompt: generated[0].RevisedPrompt,
	}
	for _, g := range generated {
		resp.Images = append(resp.Images, g.B64)
	}

	if userID == uuid.Nil || s.images == nil {
		return resp, nil
	}

	for _, g := range generated {
		rec, err := s.store(ctx, userID, jobID, req, g)
		if err != nil {
			if jobID != nil {
				return nil, err
			}
			log.Printf("Failed to store generated image: %v", err)
			continue
		}
		resp.IDs = append(resp.IDs, rec.ID)
	}
	return resp, nil
}

func (s *ImageService) store(ctx context.Context, userID uuid.UUID, jobID *uuid.UUID, req models.ImageRequest, g llm.GeneratedImage) (*models.ImageRecord, error) {
	data, err := base64.StdEncoding.DecodeString(g.B64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	dir := filepath.Join(s.storagePath, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	rec := &models.ImageRecord{
		ID:          uuid.New(),
		UserID:      userID,
		JobID:       jobID,
		Prompt:      req.Prompt,
		Model:       s.model,
		Size:        req.Size,
		Format:      req.Format,
		Transparent: req.Transparent,
		SizeBytes:   int64(len(data)),
	}
	if g.RevisedPrompt != "" {
		revised := g.RevisedPrompt
		rec.RevisedPrompt = &revised
	}
	rec.FilePath = filepath.Join(dir, rec.ID.String()+"."+fileExt(req.Format))

	if err := os.WriteFile(rec.FilePath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write image: %w", err)
	}
	if err := s.images.Create(ctx, rec); err != nil {
		_ = os.Remove(rec.FilePath)
		return nil, fmt.Errorf("failed to record image: %w", err)
	}
	return rec, nil
}

func fileExt(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}
