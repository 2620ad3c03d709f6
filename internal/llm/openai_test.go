package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks []string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, capture))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIProvider_StepStreamsText(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"'카이': "}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"안녕!"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`,
	}, &body)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL+"/v1", "gpt-4o", "gpt-image-1")

	var deltas []string
	res, err := p.Step(context.Background(), StepRequest{
		System:   "system prompt",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Tools:    []ToolSpec{{Name: "getHanRiverTemp", Description: "temp"}},
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"'카이': ", "안녕!"}, deltas)
	assert.Equal(t, "'카이': 안녕!", res.Text)
	assert.Equal(t, FinishStop, res.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 4}, res.Usage)
	assert.Empty(t, res.ToolCalls)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, true, body["stream"])
	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
}

func TestOpenAIProvider_StepAccumulatesToolCalls(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"getHanRiverTemp","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"other","arguments":"{\"x\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"1}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}, nil)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL+"/v1", "gpt-4o", "gpt-image-1")
	res, err := p.Step(context.Background(), StepRequest{Messages: []Message{{Role: RoleUser, Content: "물 온도?"}}}, nil)
	require.NoError(t, err)

	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "call_a", res.ToolCalls[0].ID)
	assert.Equal(t, "getHanRiverTemp", res.ToolCalls[0].Name)
	assert.JSONEq(t, `{}`, string(res.ToolCalls[0].Args))
	assert.Equal(t, "call_b", res.ToolCalls[1].ID)
	assert.JSONEq(t, `{"x":1}`, string(res.ToolCalls[1].Args))
	assert.Equal(t, FinishToolCalls, res.FinishReason)
}

func TestOpenAIProvider_StepAbortsOnDeltaError(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"b"}}]}`,
	}, nil)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL+"/v1", "gpt-4o", "gpt-image-1")
	stop := fmt.Errorf("client went away")
	_, err := p.Step(context.Background(), StepRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}, func(string) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
}

func TestOpenAIProvider_GenerateImages(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generations", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"created":1,"data":[{"b64_json":"aGVsbG8="},{"b64_json":"d29ybGQ="}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL+"/v1", "gpt-4o", "gpt-image-1")
	images, err := p.GenerateImages(context.Background(), ImageParams{
		Prompt: "한강 야경", Count: 2, Size: "1536x1024", Format: "webp", Transparent: true,
	})
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "aGVsbG8=", images[0].B64)

	assert.Equal(t, "gpt-image-1", body["model"])
	assert.Equal(t, "webp", body["output_format"])
	assert.Equal(t, "transparent", body["background"])
	assert.Nil(t, body["response_format"])
}

func TestOpenAIProvider_GenerateImagesDallE(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"created":1,"data":[{"b64_json":"aGVsbG8=","revised_prompt":"a river"}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL+"/v1", "gpt-4o", "dall-e-3")
	images, err := p.GenerateImages(context.Background(), ImageParams{Prompt: "river", Count: 1, Size: "1792x1024", Format: "png"})
	require.NoError(t, err)
	assert.Equal(t, "a river", images[0].RevisedPrompt)
	assert.Equal(t, "b64_json", body["response_format"])
	assert.Nil(t, body["output_format"])
}

func TestToOpenAIMessages_ToolRoundTrip(t *testing.T) {
	msgs := toOpenAIMessages("sys", []Message{
		{Role: RoleUser, Content: "온도?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "getHanRiverTemp", Args: json.RawMessage(`{}`)}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "getHanRiverTemp", Content: `{"temp":"12.3"}`},
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "c1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.True(t, strings.Contains(msgs[3].Content, "12.3"))
}
