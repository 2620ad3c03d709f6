package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
)

type OpenAIProvider struct {
	client      *goopenai.Client
	chatModel   string
	imageModel  string
	temperature float32
}

func NewOpenAIProvider(apiKey, baseURL, chatModel, imageModel string) *OpenAIProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{
		client:      goopenai.NewClientWithConfig(cfg),
		chatModel:   chatModel,
		imageModel:  imageModel,
		temperature: 0.7,
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) ImageModel() string { return o.imageModel }

func (o *OpenAIProvider) Step(ctx context.Context, req StepRequest, onDelta func(string) error) (*StepResult, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = o.temperature
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:         o.chatModel,
		Messages:      toOpenAIMessages(req.System, req.Messages),
		Tools:         toOpenAITools(req.Tools),
		Temperature:   temperature,
		Stream:        true,
		StreamOptions: &goopenai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("error creating chat completion stream: %w", err)
	}
	defer stream.Close()

	var (
		text   strings.Builder
		result StepResult
		calls  = map[int]*ToolCall{}
		args   = map[int]*strings.Builder{}
	)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error receiving from stream: %w", err)
		}

		if resp.Usage != nil {
			result.Usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if delta := choice.Delta.Content; delta != "" {
			text.WriteString(delta)
			if onDelta != nil {
				if err := onDelta(delta); err != nil {
					return nil, err
				}
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &ToolCall{}
				calls[idx] = call
				args[idx] = &strings.Builder{}
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			args[idx].WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			result.FinishReason = openAIFinishReason(choice.FinishReason)
		}
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		call := calls[idx]
		raw := strings.TrimSpace(args[idx].String())
		if raw == "" {
			raw = "{}"
		}
		call.Args = json.RawMessage(raw)
		result.ToolCalls = append(result.ToolCalls, *call)
	}

	result.Text = text.String()
	if result.FinishReason == "" {
		result.FinishReason = FinishUnknown
	}
	return &result, nil
}

func (o *OpenAIProvider) GenerateImages(ctx context.Context, params ImageParams) ([]GeneratedImage, error) {
	req := goopenai.ImageRequest{
		Prompt: params.Prompt,
		Model:  o.imageModel,
		N:      params.Count,
		Size:   params.Size,
		User:   params.User,
	}

	if strings.HasPrefix(o.imageModel, "dall-e") {
		req.ResponseFormat = goopenai.CreateImageResponseFormatB64JSON
	} else {
		// gpt-image models always answer with base64 and accept format/background.
		req.OutputFormat = params.Format
		if params.Transparent {
			req.Background = "transparent"
		}
	}

	resp, err := o.client.CreateImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("error creating image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no images in response")
	}

	images := make([]GeneratedImage, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.B64JSON == "" {
			continue
		}
		images = append(images, GeneratedImage{B64: d.B64JSON, RevisedPrompt: d.RevisedPrompt})
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("image response contained no base64 data")
	}
	return images, nil
}

func toOpenAIMessages(system string, msgs []Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range msgs {
		msg := goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
					ID:   tc.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
		case RoleTool:
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []goopenai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, len(specs))
	for _, s := range specs {
		params := s.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func openAIFinishReason(r goopenai.FinishReason) string {
	switch r {
	case goopenai.FinishReasonStop:
		return FinishStop
	case goopenai.FinishReasonLength:
		return FinishLength
	case goopenai.FinishReasonContentFilter:
		return FinishContentFilter
	case goopenai.FinishReasonToolCalls, goopenai.FinishReasonFunctionCall:
		return FinishToolCalls
	case goopenai.FinishReasonNull, "":
		return FinishUnknown
	default:
		return FinishOther
	}
}
