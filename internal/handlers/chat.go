package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"kairos-backend/internal/middleware"
	"kairos-backend/internal/models"
	"kairos-backend/internal/services"
	"kairos-backend/internal/stream"
)

type chatStreamer interface {
	Stream(ctx context.Context, userID uuid.UUID, req *models.ChatRequest, out services.PartWriter) error
}

type ChatHandler struct {
	chat chatStreamer
}

func NewChatHandler(chat chatStreamer) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Chat streams the persona reply in the AI SDK data-stream format.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out := stream.NewWriter(w)
	err := h.chat.Stream(r.Context(), middleware.GetUserID(r.Context()), &req, out)
	if err != nil && !out.Started() {
		handleServiceError(w, r, err)
	}
}
