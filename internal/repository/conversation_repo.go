package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kairos-backend/internal/models"
)

// ErrNotOwner is returned when a conversation id is already taken by another user.
var ErrNotOwner = errors.New("conversation belongs to another user")

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// Save upserts the conversation and replaces its messages in one transaction.
func (r *ConversationRepo) Save(ctx context.Context, c *models.Conversation, msgs []models.StoredMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c.MessageCount = len(msgs)
	query := `INSERT INTO conversations (id, user_id, title, provider, message_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
			SET provider = EXCLUDED.provider, message_count = EXCLUDED.message_count, updated_at = NOW()
			WHERE conversations.user_id = EXCLUDED.user_id
		RETURNING title, created_at, updated_at`

	err = tx.QueryRow(ctx, query, c.ID, c.UserID, c.Title, c.Provider, c.MessageCount).
		Scan(&c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotOwner
	}
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", c.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range msgs {
		m := &msgs[i]
		m.ID = uuid.New()
		m.ConversationID = c.ID
		m.Position = i

		var invocations []byte
		if len(m.ToolInvocations) > 0 {
			invocations, _ = json.Marshal(m.ToolInvocations)
		}
		batch.Queue(`INSERT INTO messages (id, conversation_id, position, role, content, tool_invocations)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.ConversationID, m.Position, m.Role, m.Content, invocations)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert messages: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	c := &models.Conversation{}
	query := `SELECT id, user_id, title, provider, message_count, created_at, updated_at
		FROM conversations WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.UserID, &c.Title, &c.Provider, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, conversation_id, position, role, content, tool_invocations, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m           models.StoredMessage
			invocations []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Position, &m.Role, &m.Content, &invocations, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(invocations) > 0 {
			if err := json.Unmarshal(invocations, &m.ToolInvocations); err != nil {
				return nil, fmt.Errorf("failed to decode tool invocations: %w", err)
			}
		}
		c.Messages = append(c.Messages, m)
	}
	return c, rows.Err()
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Conversation, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM conversations WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, user_id, title, provider, message_count, created_at, updated_at
		FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		c := &models.Conversation{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Provider, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, c)
	}
	return conversations, total, rows.Err()
}

func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	return err
}
