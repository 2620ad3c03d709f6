package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"kairos-backend/internal/llm"
)

// Tool is a function the model may call during a chat.
type Tool interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Cache stores raw tool results between calls.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Spec().Name] = t
}

// Specs returns the tool definitions sorted by name.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs the named tool. The returned result is always valid JSON: on
// failure it is an {"error": "..."} object the model can read, and err carries
// the cause for logging.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (json.RawMessage, error) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("unknown tool: %s", call.Name)
		return errorResult(err), err
	}

	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		err := fmt.Errorf("invalid arguments for %s", call.Name)
		return errorResult(err), err
	}

	start := time.Now()
	result, err := t.Execute(ctx, args)
	if err != nil {
		log.Printf("Tool %s failed after %s: %v", call.Name, time.Since(start).Round(time.Millisecond), err)
		return errorResult(err), err
	}
	return result, nil
}

func errorResult(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}
