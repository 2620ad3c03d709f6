// Package stream writes the AI SDK data stream protocol: one "<code>:<json>\n"
// part per line, flushed as soon as it is written.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"kairos-backend/internal/llm"
)

const (
	HeaderName  = "X-Vercel-AI-Data-Stream"
	HeaderValue = "v1"
)

// Part type codes.
const (
	CodeText          = "0"
	CodeError         = "3"
	CodeToolCall      = "9"
	CodeToolResult    = "a"
	CodeFinishMessage = "d"
	CodeFinishStep    = "e"
	CodeStartStep     = "f"
)

type toolCallPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

type toolResultPart struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

type finishStepPart struct {
	FinishReason string    `json:"finishReason"`
	Usage        llm.Usage `json:"usage"`
	IsContinued  bool      `json:"isContinued"`
}

type finishMessagePart struct {
	FinishReason string    `json:"finishReason"`
	Usage        llm.Usage `json:"usage"`
}

type startStepPart struct {
	MessageID string `json:"messageId"`
}

// Writer is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func NewWriter(w http.ResponseWriter) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Start sends the response headers. It is called implicitly by the first part.
func (s *Writer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Writer) startLocked() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderName, HeaderValue)
	s.w.WriteHeader(http.StatusOK)
}

func (s *Writer) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Writer) StartStep(messageID string) error {
	return s.write(CodeStartStep, startStepPart{MessageID: messageID})
}

func (s *Writer) Text(delta string) error {
	return s.write(CodeText, delta)
}

func (s *Writer) ToolCall(call llm.ToolCall) error {
	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return s.write(CodeToolCall, toolCallPart{ToolCallID: call.ID, ToolName: call.Name, Args: args})
}

func (s *Writer) ToolResult(toolCallID string, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return s.write(CodeToolResult, toolResultPart{ToolCallID: toolCallID, Result: result})
}

func (s *Writer) FinishStep(reason string, usage llm.Usage, continued bool) error {
	return s.write(CodeFinishStep, finishStepPart{FinishReason: reason, Usage: usage, IsContinued: continued})
}

func (s *Writer) FinishMessage(reason string, usage llm.Usage) error {
	return s.write(CodeFinishMessage, finishMessagePart{FinishReason: reason, Usage: usage})
}

func (s *Writer) Error(message string) error {
	return s.write(CodeError, message)
}

func (s *Writer) write(code string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s part: %w", code, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()

	if _, err := fmt.Fprintf(s.w, "%s:%s\n", code, data); err != nil {
		return fmt.Errorf("failed to write %s part: %w", code, err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
