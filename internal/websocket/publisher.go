package websocket

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kairos-backend/internal/models"
)

func UserChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

// Publisher sends updates to a user's sockets through Redis, reaching every
// server instance that holds one of them.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, UserChannel(userID), data).Err()
}
