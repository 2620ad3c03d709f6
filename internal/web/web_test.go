package web

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos-backend/internal/models"
)

func TestBuildTranscript_SplitsPersonaTurns(t *testing.T) {
	conv := &models.Conversation{
		ID:    "chat-1",
		Title: "한강 온도",
		Messages: []models.StoredMessage{
			{Role: "user", Content: "한강 물 **몇 도**야?"},
			{
				Role:    "assistant",
				Content: "'카이': 지금 12.5도래!\n'로스': <script>alert(1)</script> 차갑다!",
				ToolInvocations: []models.ToolInvocation{
					{State: "result", ToolCallID: "c1", ToolName: "getHanRiverTemp", Args: json.RawMessage(`{}`), Result: json.RawMessage(`{"temp":"12.5"}`)},
				},
			},
		},
	}

	tr, err := BuildTranscript(conv, []string{"카이", "로스"})
	require.NoError(t, err)
	require.Len(t, tr.Entries, 3)

	assert.Equal(t, "user", tr.Entries[0].Role)
	assert.Contains(t, string(tr.Entries[0].HTML), "<strong>몇 도</strong>")

	assert.Equal(t, "카이", tr.Entries[1].Speaker)
	require.Len(t, tr.Entries[1].Tools, 1)
	assert.Equal(t, "getHanRiverTemp", tr.Entries[1].Tools[0].Name)
	assert.Contains(t, tr.Entries[1].Tools[0].Result, `"temp": "12.5"`)

	assert.Equal(t, "로스", tr.Entries[2].Speaker)
	assert.NotContains(t, string(tr.Entries[2].HTML), "<script>")
	assert.Empty(t, tr.Entries[2].Tools)
}

func TestBuildTranscript_ToolOnlyReply(t *testing.T) {
	conv := &models.Conversation{Messages: []models.StoredMessage{{
		Role:            "assistant",
		ToolInvocations: []models.ToolInvocation{{ToolName: "getHanRiverTemp", State: "result"}},
	}}}

	tr, err := BuildTranscript(conv, []string{"카이"})
	require.NoError(t, err)
	require.Len(t, tr.Entries, 1)
	assert.Len(t, tr.Entries[0].Tools, 1)
}

func TestRenderTemplates(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, "chat.html", ChatPage{Title: "카이 & 로스", Personas: []string{"카이", "로스"}}))
	assert.Contains(t, buf.String(), "카이, 로스에게 말을 걸어보세요")
	assert.Contains(t, buf.String(), "/api/chat")

	buf.Reset()
	require.NoError(t, Render(&buf, "image.html", ImagePage{
		Model:    "gpt-image-1",
		Sizes:    []string{"1024x1024", "1536x1024"},
		Formats:  []string{"png", "jpeg", "webp"},
		MaxCount: 10,
	}))
	assert.Contains(t, buf.String(), `<option value="1536x1024">`)
	assert.Contains(t, buf.String(), "/api/gen-image")

	buf.Reset()
	tr := &Transcript{
		Conversation: &models.Conversation{Title: "대화", Provider: "openai", UpdatedAt: time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)},
		Entries:      []TranscriptEntry{{Role: "assistant", Speaker: "카이", HTML: "<p>안녕</p>"}},
	}
	require.NoError(t, Render(&buf, "transcript.html", tr))
	out := buf.String()
	assert.Contains(t, out, "2025-05-01 09:30")
	assert.Contains(t, out, `<span class="speaker">카이</span><p>안녕</p>`)
	assert.True(t, strings.Contains(out, "<title>대화</title>"))
}
