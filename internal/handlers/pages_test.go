package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubImageOptions struct{}

func (stubImageOptions) Model() string     { return "gpt-image-1" }
func (stubImageOptions) Sizes() []string   { return []string{"1024x1024", "1536x1024"} }
func (stubImageOptions) Formats() []string { return []string{"png", "webp"} }
func (stubImageOptions) MaxCount() int     { return 10 }

func TestPageHandler_Chat(t *testing.T) {
	h := NewPageHandler(stubPersonas{}, stubImageOptions{})

	rr := httptest.NewRecorder()
	h.Chat(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "카이 &amp; 로스") {
		t.Fatalf("expected persona title in page")
	}
}

func TestPageHandler_Image(t *testing.T) {
	h := NewPageHandler(stubPersonas{}, stubImageOptions{})

	rr := httptest.NewRecorder()
	h.Image(rr, httptest.NewRequest(http.MethodGet, "/image", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"1536x1024", "webp", "gpt-image-1"} {
		if !strings.Contains(body, want) {
			t.Errorf("image page missing %q", want)
		}
	}
}

type stubGuestIssuer struct{}

func (stubGuestIssuer) GenerateGuestToken(userID uuid.UUID) (string, time.Time, error) {
	return "token-" + userID.String(), time.Now().Add(time.Hour), nil
}

func TestAuthHandler_Guest(t *testing.T) {
	h := NewAuthHandler(stubGuestIssuer{})

	rr := httptest.NewRecorder()
	h.Guest(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/guest", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}

	var payload struct {
		Token  string    `json:"token"`
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.UserID == uuid.Nil || payload.Token != "token-"+payload.UserID.String() {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler("openai", map[string]Pinger{"postgres": stubPinger{}, "redis": stubPinger{}})

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	h = NewHealthHandler("openai", map[string]Pinger{"postgres": stubPinger{}, "redis": stubPinger{err: errors.New("refused")}})
	rr = httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"redis":"down"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}
