package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ToolStatePartialCall = "partial-call"
	ToolStateCall        = "call"
	ToolStateResult      = "result"
)

// ToolInvocation is a tool call attached to an assistant message by the chat client.
type ToolInvocation struct {
	State      string          `json:"state"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// UIMessage is a message as the chat client sends it.
type UIMessage struct {
	ID              string           `json:"id,omitempty"`
	Role            string           `json:"role"` // "user" | "assistant" | "system"
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
}

// ChatRequest is the payload of POST /api/chat.
type ChatRequest struct {
	ID       string      `json:"id"`
	Messages []UIMessage `json:"messages"`
}

type Conversation struct {
	ID           string          `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Title        string          `json:"title"`
	MessageCount int             `json:"message_count"`
	Provider     string          `json:"provider"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Messages     []StoredMessage `json:"messages,omitempty"`
}

type StoredMessage struct {
	ID              uuid.UUID        `json:"id"`
	ConversationID  string           `json:"conversation_id"`
	Position        int              `json:"position"`
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
