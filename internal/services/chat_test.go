package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos-backend/internal/llm"
	"kairos-backend/internal/models"
	"kairos-backend/internal/repository"
)

// scriptedProvider replays one StepResult per call and records the requests.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []*llm.StepResult
	err      error
	requests []llm.StepRequest
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) Step(ctx context.Context, req llm.StepRequest, onDelta func(string) error) (*llm.StepResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.steps) == 0 {
		return nil, errors.New("no scripted step left")
	}
	res := p.steps[0]
	p.steps = p.steps[1:]
	if res.Text != "" {
		if err := onDelta(res.Text); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type fakeTools struct {
	calls []llm.ToolCall
}

func (f *fakeTools) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{{Name: "getHanRiverTemp", Description: "temp"}}
}

func (f *fakeTools) Execute(ctx context.Context, call llm.ToolCall) (json.RawMessage, error) {
	f.calls = append(f.calls, call)
	if call.Name != "getHanRiverTemp" {
		err := fmt.Errorf("unknown tool: %s", call.Name)
		return json.RawMessage(`{"error":"unknown tool: ` + call.Name + `"}`), err
	}
	return json.RawMessage(`{"temp":"12.5"}`), nil
}

type staticPrompt string

func (s staticPrompt) SystemPrompt() string { return string(s) }

type fakeConversations struct {
	saved *models.Conversation
	msgs  []models.StoredMessage
	err   error
}

func (f *fakeConversations) Save(ctx context.Context, c *models.Conversation, msgs []models.StoredMessage) error {
	if f.err != nil {
		return f.err
	}
	f.saved = c
	f.msgs = msgs
	return nil
}

// recorder captures parts as "code:payload" strings.
type recorder struct {
	parts []string
}

func (r *recorder) add(code string, v any) error {
	data, _ := json.Marshal(v)
	r.parts = append(r.parts, code+":"+string(data))
	return nil
}

func (r *recorder) StartStep(id string) error { return r.add("f", id[:4]) }
func (r *recorder) Text(d string) error       { return r.add("0", d) }
func (r *recorder) ToolCall(c llm.ToolCall) error {
	return r.add("9", c.Name)
}
func (r *recorder) ToolResult(id string, res json.RawMessage) error {
	return r.add("a", res)
}
func (r *recorder) FinishStep(reason string, u llm.Usage, cont bool) error {
	return r.add("e", reason)
}
func (r *recorder) FinishMessage(reason string, u llm.Usage) error {
	return r.add("d", fmt.Sprintf("%s/%d/%d", reason, u.PromptTokens, u.CompletionTokens))
}
func (r *recorder) Error(msg string) error { return r.add("3", msg) }

func (r *recorder) codes() string {
	var b strings.Builder
	for _, p := range r.parts {
		b.WriteByte(p[0])
	}
	return b.String()
}

func userRequest(text string) *models.ChatRequest {
	return &models.ChatRequest{ID: "chat-1", Messages: []models.UIMessage{{ID: "u1", Role: "user", Content: text}}}
}

func TestChatService_PlainReply(t *testing.T) {
	provider := &scriptedProvider{steps: []*llm.StepResult{
		{Text: "'카이': 안녕!\n'로스': 반가워!", FinishReason: llm.FinishStop, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5}},
	}}
	svc := NewChatService(provider, &fakeTools{}, staticPrompt("persona prompt"), nil, NewSlots(1), 10, time.Minute)

	rec := &recorder{}
	require.NoError(t, svc.Stream(context.Background(), uuid.Nil, userRequest("안녕"), rec))

	assert.Equal(t, "f0ed", rec.codes())
	assert.Equal(t, `d:"stop/10/5"`, rec.parts[3])

	require.Len(t, provider.requests, 1)
	assert.Equal(t, "persona prompt", provider.requests[0].System)
	assert.Len(t, provider.requests[0].Tools, 1)
}

func TestChatService_ToolRoundTrip(t *testing.T) {
	provider := &scriptedProvider{steps: []*llm.StepResult{
		{
			ToolCalls:    []llm.ToolCall{{ID: "call_1", Name: "getHanRiverTemp", Args: json.RawMessage(`{}`)}},
			FinishReason: llm.FinishToolCalls,
			Usage:        llm.Usage{PromptTokens: 7, CompletionTokens: 2},
		},
		{Text: "'카이': 12.5도래!", FinishReason: llm.FinishStop, Usage: llm.Usage{PromptTokens: 20, CompletionTokens: 6}},
	}}
	tools := &fakeTools{}
	convs := &fakeConversations{}
	svc := NewChatService(provider, tools, staticPrompt("p"), convs, NewSlots(1), 10, time.Minute)

	rec := &recorder{}
	userID := uuid.New()
	require.NoError(t, svc.Stream(context.Background(), userID, userRequest("한강 물 온도 알려줘"), rec))

	assert.Equal(t, "f9aef0ed", rec.codes())
	assert.Equal(t, `a:{"temp":"12.5"}`, rec.parts[2])
	assert.Equal(t, `d:"stop/27/8"`, rec.parts[7])

	require.Len(t, provider.requests, 2)
	second := provider.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	assert.Equal(t, "call_1", second[1].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Equal(t, `{"temp":"12.5"}`, second[2].Content)

	require.NotNil(t, convs.saved)
	assert.Equal(t, "chat-1", convs.saved.ID)
	assert.Equal(t, userID, convs.saved.UserID)
	assert.Equal(t, "한강 물 온도 알려줘", convs.saved.Title)
	assert.Equal(t, "fake", convs.saved.Provider)
	require.Len(t, convs.msgs, 2)
	assert.Equal(t, "'카이': 12.5도래!", convs.msgs[1].Content)
	require.Len(t, convs.msgs[1].ToolInvocations, 1)
	assert.Equal(t, models.ToolStateResult, convs.msgs[1].ToolInvocations[0].State)
}

func TestChatService_UnknownToolDoesNotAbort(t *testing.T) {
	provider := &scriptedProvider{steps: []*llm.StepResult{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "launchRocket"}}, FinishReason: llm.FinishToolCalls},
		{Text: "그런 도구는 없어!", FinishReason: llm.FinishStop},
	}}
	svc := NewChatService(provider, &fakeTools{}, staticPrompt("p"), nil, NewSlots(1), 10, time.Minute)

	rec := &recorder{}
	require.NoError(t, svc.Stream(context.Background(), uuid.Nil, userRequest("rocket"), rec))

	assert.Equal(t, "f9aef0ed", rec.codes())
	assert.Contains(t, rec.parts[2], "unknown tool: launchRocket")
}

func TestChatService_StepBudget(t *testing.T) {
	loop := func() *llm.StepResult {
		return &llm.StepResult{
			ToolCalls:    []llm.ToolCall{{ID: uuid.NewString(), Name: "getHanRiverTemp"}},
			FinishReason: llm.FinishToolCalls,
		}
	}
	provider := &scriptedProvider{steps: []*llm.StepResult{loop(), loop(), loop(), loop()}}
	tools := &fakeTools{}
	svc := NewChatService(provider, tools, staticPrompt("p"), nil, NewSlots(1), 3, time.Minute)

	rec := &recorder{}
	require.NoError(t, svc.Stream(context.Background(), uuid.Nil, userRequest("loop"), rec))

	assert.Len(t, provider.requests, 3)
	assert.Len(t, tools.calls, 3)
	assert.Equal(t, "f9aef9aef9aed", rec.codes())
	assert.Equal(t, `d:"tool-calls/0/0"`, rec.parts[len(rec.parts)-1])
}

func TestChatService_ProviderErrorBecomesErrorPart(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream 500")}
	convs := &fakeConversations{}
	svc := NewChatService(provider, &fakeTools{}, staticPrompt("p"), convs, NewSlots(1), 10, time.Minute)

	rec := &recorder{}
	require.NoError(t, svc.Stream(context.Background(), uuid.New(), userRequest("hi"), rec))

	assert.Equal(t, "f3", rec.codes())
	assert.Equal(t, `3:"An error occurred."`, rec.parts[1])
	assert.Nil(t, convs.saved)
}

func TestChatService_ValidationHappensBeforeStreaming(t *testing.T) {
	svc := NewChatService(&scriptedProvider{}, &fakeTools{}, staticPrompt("p"), nil, NewSlots(1), 10, time.Minute)

	rec := &recorder{}
	err := svc.Stream(context.Background(), uuid.Nil, &models.ChatRequest{}, rec)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "messages")
	assert.Empty(t, rec.parts)
}

func TestChatService_BusySlots(t *testing.T) {
	slots := NewSlots(1)
	require.NoError(t, slots.Acquire(context.Background()))
	defer slots.Release()

	svc := NewChatService(&scriptedProvider{}, &fakeTools{}, staticPrompt("p"), nil, slots, 10, 50*time.Millisecond)

	rec := &recorder{}
	err := svc.Stream(context.Background(), uuid.Nil, userRequest("hi"), rec)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Empty(t, rec.parts)
}

func TestChatService_NotOwnerIsNotFatal(t *testing.T) {
	provider := &scriptedProvider{steps: []*llm.StepResult{{Text: "ok", FinishReason: llm.FinishStop}}}
	convs := &fakeConversations{err: repository.ErrNotOwner}
	svc := NewChatService(provider, &fakeTools{}, staticPrompt("p"), convs, NewSlots(1), 10, time.Minute)

	rec := &recorder{}
	require.NoError(t, svc.Stream(context.Background(), uuid.New(), userRequest("hi"), rec))
	assert.Equal(t, "f0ed", rec.codes())
}

func TestValidateChatRequest(t *testing.T) {
	many := make([]models.UIMessage, MaxChatMessages+1)
	for i := range many {
		many[i] = models.UIMessage{Role: "user", Content: "x"}
	}

	tests := []struct {
		name    string
		req     models.ChatRequest
		wantKey string
	}{
		{"empty", models.ChatRequest{}, "messages"},
		{"too many", models.ChatRequest{Messages: many}, "messages"},
		{"bad role", models.ChatRequest{Messages: []models.UIMessage{{Role: "tool", Content: "x"}}}, "messages[0].role"},
		{"too long", models.ChatRequest{Messages: []models.UIMessage{{Role: "user", Content: strings.Repeat("가", MaxChatContentLen+1)}}}, "messages"},
		{"long id", models.ChatRequest{ID: strings.Repeat("a", 200), Messages: []models.UIMessage{{Role: "user", Content: "x"}}}, "id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateChatRequest(&tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.wantKey)
		})
	}

	ok := models.ChatRequest{Messages: []models.UIMessage{{Role: "system", Content: "s"}, {Role: "user", Content: "hi"}}}
	assert.NoError(t, ValidateChatRequest(&ok))
}

func TestToLLMMessages(t *testing.T) {
	msgs := []models.UIMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "온도?"},
		{Role: "assistant", Content: "12.5도!", ToolInvocations: []models.ToolInvocation{
			{State: models.ToolStateResult, ToolCallID: "c1", ToolName: "getHanRiverTemp", Args: json.RawMessage(`{}`), Result: json.RawMessage(`{"temp":"12.5"}`)},
			{State: models.ToolStateCall, ToolCallID: "c2", ToolName: "getHanRiverTemp"},
		}},
		{Role: "user", Content: "고마워"},
	}

	history, system := ToLLMMessages(msgs)
	assert.Equal(t, []string{"be brief"}, system)
	require.Len(t, history, 5)

	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, "c1", history[1].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, history[2].Role)
	assert.Equal(t, "getHanRiverTemp", history[2].Name)
	assert.Equal(t, `{"temp":"12.5"}`, history[2].Content)
	assert.Equal(t, "12.5도!", history[3].Content)
	assert.Equal(t, "고마워", history[4].Content)
}

func TestConversationTitle(t *testing.T) {
	assert.Equal(t, "새 대화", ConversationTitle(nil))
	assert.Equal(t, "hello world", ConversationTitle([]models.UIMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "  hello\n world "},
	}))

	long := strings.Repeat("가", 80)
	title := ConversationTitle([]models.UIMessage{{Role: "user", Content: long}})
	assert.Equal(t, strings.Repeat("가", 60)+"…", title)
}

// echoTools answers each call with its own id so result order is observable.
type echoTools struct {
	fakeTools
}

func (e *echoTools) Execute(ctx context.Context, call llm.ToolCall) (json.RawMessage, error) {
	e.calls = append(e.calls, call)
	return json.RawMessage(`{"id":"` + call.ID + `"}`), nil
}

func TestChatService_ToolResultsFollowCallOrder(t *testing.T) {
	provider := &scriptedProvider{steps: []*llm.StepResult{
		{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "getHanRiverTemp", Args: json.RawMessage(`{}`)},
			{ID: "call-2", Name: "getHanRiverTemp", Args: json.RawMessage(`{}`)},
		}},
		{Text: "'카이': 12.5도!", FinishReason: llm.FinishStop},
	}}
	tools := &echoTools{}
	svc := NewChatService(provider, tools, staticPrompt("p"), nil, NewSlots(1), 5, time.Minute)

	rec := &recorder{}
	require.NoError(t, svc.Stream(context.Background(), uuid.Nil, userRequest("물 온도?"), rec))

	assert.Equal(t, "f99aaef0ed", rec.codes())
	assert.Equal(t, `a:{"id":"call-1"}`, rec.parts[3])
	assert.Equal(t, `a:{"id":"call-2"}`, rec.parts[4])

	require.Len(t, provider.requests, 2)
	history := provider.requests[1].Messages
	require.Len(t, history, 4)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 2)
	assert.Equal(t, "call-1", history[1].ToolCalls[0].ID)
	assert.Equal(t, "call-2", history[1].ToolCalls[1].ID)
	assert.Equal(t, llm.RoleTool, history[2].Role)
	assert.Equal(t, "call-1", history[2].ToolCallID)
	assert.Equal(t, llm.RoleTool, history[3].Role)
	assert.Equal(t, "call-2", history[3].ToolCallID)
}

type blockingProvider struct{}

func (blockingProvider) Name() string { return "slow" }

func (blockingProvider) Step(ctx context.Context, req llm.StepRequest, onDelta func(string) error) (*llm.StepResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestChatService_MaxDurationStopsStream(t *testing.T) {
	svc := NewChatService(blockingProvider{}, &fakeTools{}, staticPrompt("p"), nil, NewSlots(1), 5, 20*time.Millisecond)

	rec := &recorder{}
	require.NoError(t, svc.Stream(context.Background(), uuid.Nil, userRequest("안녕"), rec))

	assert.Equal(t, "f3", rec.codes())
	assert.Equal(t, `3:"The response took too long and was stopped."`, rec.parts[1])
}
