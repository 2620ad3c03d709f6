package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kairos-backend/internal/middleware"
	"kairos-backend/internal/models"
	"kairos-backend/internal/web"
)

type conversationRepository interface {
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Conversation, int, error)
	Delete(ctx context.Context, id string) error
}

type personaNames interface {
	Names() []string
}

type ConversationHandler struct {
	repo     conversationRepository
	personas personaNames
}

func NewConversationHandler(repo conversationRepository, personas personaNames) *ConversationHandler {
	return &ConversationHandler{repo: repo, personas: personas}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, offset := pagination(r)

	conversations, total, err := h.repo.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch conversations", r))
		return
	}
	if conversations == nil {
		conversations = []*models.Conversation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Transcript renders the conversation as HTML with one block per persona turn.
func (h *ConversationHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.load(w, r)
	if !ok {
		return
	}

	transcript, err := web.BuildTranscript(conv, h.personas.Names())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to render transcript", r))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := web.Render(w, "transcript.html", transcript); err != nil {
		log.Printf("failed to render transcript %s: %v", conv.ID, err)
	}
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.load(w, r)
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), conv.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete conversation", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
}

// load fetches the conversation named in the URL and checks ownership.
func (h *ConversationHandler) load(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid conversation ID", r))
		return nil, false
	}

	conv, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Conversation not found", r))
		return nil, false
	}

	if conv.UserID != middleware.GetUserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}
	return conv, true
}
