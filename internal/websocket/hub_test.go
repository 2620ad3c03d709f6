package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
)

type staticAuth struct {
	userID uuid.UUID
}

func (s staticAuth) ParseToken(token string) (uuid.UUID, error) {
	if token != "good" {
		return uuid.Nil, errors.New("invalid token")
	}
	return s.userID, nil
}

func TestHub_RejectsMissingToken(t *testing.T) {
	hub := NewHub(nil, staticAuth{userID: uuid.New()})
	rr := httptest.NewRecorder()
	hub.HandleWebSocket(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHub_SendToUser(t *testing.T) {
	userID := uuid.New()
	hub := NewHub(nil, staticAuth{userID: userID})
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=good"
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.SendToUser(userID, map[string]string{"type": "completed"})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != `{"type":"completed"}` {
		t.Errorf("unexpected message %s", data)
	}

	client.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Connections(userID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUserChannel(t *testing.T) {
	id := uuid.MustParse("6f1c2b9e-8d7a-4c3b-9a2e-1f0e5d4c3b2a")
	if got := UserChannel(id); got != "user_updates:6f1c2b9e-8d7a-4c3b-9a2e-1f0e5d4c3b2a" {
		t.Errorf("unexpected channel %q", got)
	}
}
