package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, temperature: 0.7}, nil
}

func (g *GeminiProvider) Close() {
	g.client.Close()
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Step(ctx context.Context, req StepRequest, onDelta func(string) error) (*StepResult, error) {
	model := g.client.GenerativeModel(g.model)
	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.temperature
	}
	model.SetTemperature(temperature)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	model.Tools = toGeminiTools(req.Tools)

	contents := toGeminiContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	last := contents[len(contents)-1]

	iter := cs.SendMessageStream(ctx, last.Parts...)

	var (
		text   strings.Builder
		result StepResult
	)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Gemini API error: %w", err)
		}

		if resp.UsageMetadata != nil {
			result.Usage = Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}

		for _, cand := range resp.Candidates {
			if cand.FinishReason != genai.FinishReasonUnspecified {
				result.FinishReason = geminiFinishReason(cand.FinishReason)
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					delta := string(p)
					if delta == "" {
						continue
					}
					text.WriteString(delta)
					if onDelta != nil {
						if err := onDelta(delta); err != nil {
							return nil, err
						}
					}
				case genai.FunctionCall:
					args, _ := json.Marshal(p.Args)
					if p.Args == nil {
						args = []byte("{}")
					}
					result.ToolCalls = append(result.ToolCalls, ToolCall{
						// Gemini does not assign call ids.
						ID:   "call_" + uuid.NewString(),
						Name: p.Name,
						Args: args,
					})
				}
			}
		}
	}

	result.Text = text.String()
	if len(result.ToolCalls) > 0 {
		result.FinishReason = FinishToolCalls
	}
	if result.FinishReason == "" {
		result.FinishReason = FinishUnknown
	}
	return &result, nil
}

// toGeminiContents maps neutral messages onto Gemini roles. Consecutive tool
// results are merged into a single user turn of FunctionResponse parts.
func toGeminiContents(msgs []Message) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case RoleAssistant:
			var parts []genai.Part
			if m.Content != "" {
				parts = append(parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Args, &args)
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			part := genai.FunctionResponse{Name: m.Name, Response: toolResponseMap(m.Content)}
			if n := len(out); n > 0 && out[n-1].Role == "user" && isFunctionResponses(out[n-1]) {
				out[n-1].Parts = append(out[n-1].Parts, part)
				continue
			}
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{part}})
		}
	}
	return out
}

func isFunctionResponses(c *genai.Content) bool {
	for _, p := range c.Parts {
		if _, ok := p.(genai.FunctionResponse); !ok {
			return false
		}
	}
	return len(c.Parts) > 0
}

// toolResponseMap wraps a JSON tool result into the object Gemini expects.
func toolResponseMap(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj
	}
	var anyVal any
	if err := json.Unmarshal([]byte(content), &anyVal); err == nil {
		return map[string]any{"result": anyVal}
	}
	return map[string]any{"result": content}
}

func toGeminiTools(specs []ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  toGeminiSchema(s.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema converts the small JSON-schema subset used by our tools.
// Gemini rejects object schemas without properties, so those become nil.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	out := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		s := &genai.Schema{Type: genai.TypeString}
		switch prop["type"] {
		case "number":
			s.Type = genai.TypeNumber
		case "integer":
			s.Type = genai.TypeInteger
		case "boolean":
			s.Type = genai.TypeBoolean
		}
		if d, ok := prop["description"].(string); ok {
			s.Description = d
		}
		out.Properties[name] = s
	}
	if req, ok := schema["required"].([]string); ok {
		out.Required = req
	}
	return out
}

func geminiFinishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return FinishContentFilter
	case genai.FinishReasonOther:
		return FinishOther
	default:
		return FinishUnknown
	}
}
