package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"kairos-backend/internal/llm"
	"kairos-backend/internal/models"
	"kairos-backend/internal/repository"
)

const (
	MaxChatMessages    = 100
	MaxChatContentLen  = 100_000
	maxConversationID  = 128
	conversationTitleN = 60
)

// PartWriter receives the data-stream parts of a chat reply.
type PartWriter interface {
	StartStep(messageID string) error
	Text(delta string) error
	ToolCall(call llm.ToolCall) error
	ToolResult(toolCallID string, result json.RawMessage) error
	FinishStep(reason string, usage llm.Usage, continued bool) error
	FinishMessage(reason string, usage llm.Usage) error
	Error(message string) error
}

type toolExecutor interface {
	Specs() []llm.ToolSpec
	Execute(ctx context.Context, call llm.ToolCall) (json.RawMessage, error)
}

type promptSource interface {
	SystemPrompt() string
}

type conversationStore interface {
	Save(ctx context.Context, c *models.Conversation, msgs []models.StoredMessage) error
}

type ChatService struct {
	provider    llm.ChatProvider
	tools       toolExecutor
	persona     promptSource
	convs       conversationStore
	slots       *Slots
	maxSteps    int
	maxDuration time.Duration
}

func NewChatService(
	provider llm.ChatProvider,
	tools toolExecutor,
	persona promptSource,
	convs conversationStore,
	slots *Slots,
	maxSteps int,
	maxDuration time.Duration,
) *ChatService {
	if maxSteps <= 0 {
		maxSteps = 1
	}
	if slots == nil {
		slots = NewSlots(1)
	}
	return &ChatService{
		provider:    provider,
		tools:       tools,
		persona:     persona,
		convs:       convs,
		slots:       slots,
		maxSteps:    maxSteps,
		maxDuration: maxDuration,
	}
}

func ValidateChatRequest(req *models.ChatRequest) error {
	fields := map[string]string{}

	if len(req.ID) > maxConversationID {
		fields["id"] = fmt.Sprintf("must be at most %d characters", maxConversationID)
	}

	switch n := len(req.Messages); {
	case n == 0:
		fields["messages"] = "at least one message is required"
	case n > MaxChatMessages:
		fields["messages"] = fmt.Sprintf("at most %d messages are allowed", MaxChatMessages)
	}

	total := 0
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem:
		default:
			fields[fmt.Sprintf("messages[%d].role", i)] = "must be user, assistant or system"
		}
		total += utf8.RuneCountInString(m.Content)
	}
	if total > MaxChatContentLen {
		fields["messages"] = fmt.Sprintf("conversation exceeds %d characters", MaxChatContentLen)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ToLLMMessages converts client messages into provider messages. Assistant
// messages carrying finished tool invocations become a tool-call message, the
// matching tool results, and then the assistant text. System messages are
// returned separately since they are folded into the system prompt.
func ToLLMMessages(msgs []models.UIMessage) (history []llm.Message, system []string) {
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
		case llm.RoleUser:
			history = append(history, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case llm.RoleAssistant:
			var (
				calls   []llm.ToolCall
				results []llm.Message
			)
			for _, inv := range m.ToolInvocations {
				if inv.State != models.ToolStateResult {
					continue
				}
				args := inv.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				calls = append(calls, llm.ToolCall{ID: inv.ToolCallID, Name: inv.ToolName, Args: args})
				result := inv.Result
				if len(result) == 0 {
					result = json.RawMessage("null")
				}
				results = append(results, llm.Message{
					Role:       llm.RoleTool,
					ToolCallID: inv.ToolCallID,
					Name:       inv.ToolName,
					Content:    string(result),
				})
			}
			if len(calls) > 0 {
				history = append(history, llm.Message{Role: llm.RoleAssistant, ToolCalls: calls})
				history = append(history, results...)
			}
			if m.Content != "" {
				history = append(history, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			}
		}
	}
	return history, system
}

// Stream runs the multi-step chat loop and writes the reply to out. Errors
// returned before any part was written leave the response untouched so the
// caller can answer with a JSON error; later failures become an error part.
func (s *ChatService) Stream(ctx context.Context, userID uuid.UUID, req *models.ChatRequest, out PartWriter) error {
	if err := ValidateChatRequest(req); err != nil {
		return err
	}

	if s.maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxDuration)
		defer cancel()
	}

	if err := s.slots.Acquire(ctx); err != nil {
		return &RateLimitError{Message: "The assistant is busy, please try again shortly"}
	}
	defer s.slots.Release()

	history, extraSystem := ToLLMMessages(req.Messages)
	system := s.persona.SystemPrompt()
	if len(extraSystem) > 0 {
		system = strings.Join(append([]string{system}, extraSystem...), "\n\n")
	}
	specs := s.tools.Specs()

	reply := models.UIMessage{ID: "msg-" + uuid.NewString(), Role: llm.RoleAssistant}
	var (
		text   strings.Builder
		total  llm.Usage
		finish = llm.FinishUnknown
	)

	for step := 0; step < s.maxSteps; step++ {
		if err := out.StartStep("msg-" + uuid.NewString()); err != nil {
			return nil
		}

		res, err := s.provider.Step(ctx, llm.StepRequest{
			System:   system,
			Messages: history,
			Tools:    specs,
		}, out.Text)
		if err != nil {
			log.Printf("Chat step %d via %s failed: %v", step+1, s.provider.Name(), err)
			_ = out.Error(streamErrorMessage(ctx, err))
			return nil
		}

		total = total.Add(res.Usage)
		finish = res.FinishReason
		text.WriteString(res.Text)

		if len(res.ToolCalls) == 0 {
			if err := out.FinishStep(finish, res.Usage, false); err != nil {
				return nil
			}
			break
		}

		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: res.Text, ToolCalls: res.ToolCalls})
		for _, call := range res.ToolCalls {
			if err := out.ToolCall(call); err != nil {
				return nil
			}
		}
		for _, call := range res.ToolCalls {
			result, _ := s.tools.Execute(ctx, call)
			if err := out.ToolResult(call.ID, result); err != nil {
				return nil
			}
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    string(result),
			})
			reply.ToolInvocations = append(reply.ToolInvocations, models.ToolInvocation{
				State:      models.ToolStateResult,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Args:       call.Args,
				Result:     result,
			})
		}

		if err := out.FinishStep(finish, res.Usage, false); err != nil {
			return nil
		}
	}

	if err := out.FinishMessage(finish, total); err != nil {
		return nil
	}

	reply.Content = text.String()
	s.persist(ctx, userID, req, reply)
	return nil
}

func (s *ChatService) persist(ctx context.Context, userID uuid.UUID, req *models.ChatRequest, reply models.UIMessage) {
	if s.convs == nil || userID == uuid.Nil || req.ID == "" {
		return
	}

	// The request deadline may already be spent by the stream.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	all := make([]models.UIMessage, 0, len(req.Messages)+1)
	all = append(all, req.Messages...)
	all = append(all, reply)

	msgs := make([]models.StoredMessage, 0, len(all))
	for _, m := range all {
		msgs = append(msgs, models.StoredMessage{
			Role:            m.Role,
			Content:         m.Content,
			ToolInvocations: m.ToolInvocations,
		})
	}

	conv := &models.Conversation{
		ID:       req.ID,
		UserID:   userID,
		Title:    ConversationTitle(req.Messages),
		Provider: s.provider.Name(),
	}
	if err := s.convs.Save(ctx, conv, msgs); err != nil {
		if errors.Is(err, repository.ErrNotOwner) {
			log.Printf("Conversation %s not saved: owned by another user", req.ID)
			return
		}
		log.Printf("Failed to save conversation %s: %v", req.ID, err)
	}
}

// ConversationTitle is the first user message, cut to a short single line.
func ConversationTitle(msgs []models.UIMessage) string {
	for _, m := range msgs {
		if m.Role != llm.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(m.Content), " ")
		if title == "" {
			continue
		}
		if utf8.RuneCountInString(title) > conversationTitleN {
			title = string([]rune(title)[:conversationTitleN]) + "…"
		}
		return title
	}
	return "새 대화"
}

func streamErrorMessage(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "The response took too long and was stopped."
	}
	return "An error occurred."
}
