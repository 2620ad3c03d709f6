package llm

import (
	"context"
	"encoding/json"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons, normalized to the values understood by chat clients.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content-filter"
	FinishToolCalls     = "tool-calls"
	FinishError         = "error"
	FinishOther         = "other"
	FinishUnknown       = "unknown"
)

// Message is the provider-neutral conversation entry.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant only
	ToolCallID string     // tool only
	Name       string     // tool only
}

type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolSpec describes a callable function. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type StepRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float32
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

type StepResult struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// ChatProvider runs a single model call. Text deltas are handed to onDelta as
// they arrive; a non-nil error from onDelta aborts the step.
type ChatProvider interface {
	Name() string
	Step(ctx context.Context, req StepRequest, onDelta func(string) error) (*StepResult, error)
}

type ImageParams struct {
	Prompt      string
	Count       int
	Size        string
	Format      string
	Transparent bool
	User        string
}

type GeneratedImage struct {
	B64           string
	RevisedPrompt string
}

type ImageProvider interface {
	GenerateImages(ctx context.Context, params ImageParams) ([]GeneratedImage, error)
}
