package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

type guestIssuer interface {
	GenerateGuestToken(userID uuid.UUID) (string, time.Time, error)
}

type AuthHandler struct {
	jwt guestIssuer
}

func NewAuthHandler(jwt guestIssuer) *AuthHandler {
	return &AuthHandler{jwt: jwt}
}

// Guest issues a token for a fresh anonymous identity. Conversations and
// images are kept per identity, so clients should reuse the token.
func (h *AuthHandler) Guest(w http.ResponseWriter, r *http.Request) {
	userID := uuid.New()
	token, expires, err := h.jwt.GenerateGuestToken(userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to issue token", r))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token":      token,
		"user_id":    userID,
		"expires_at": expires,
	})
}
