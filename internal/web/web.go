package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
	gmext "github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"kairos-backend/internal/models"
	"kairos-backend/internal/persona"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Raw HTML in model output is escaped: goldmark's renderer is not in unsafe mode.
var markdown = goldmark.New(
	goldmark.WithExtensions(gmext.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

func Render(w io.Writer, name string, data any) error {
	return templates.ExecuteTemplate(w, name, data)
}

type ChatPage struct {
	Title    string
	Personas []string
}

type ImagePage struct {
	Model    string
	Sizes    []string
	Formats  []string
	MaxCount int
}

type Transcript struct {
	Conversation *models.Conversation
	Entries      []TranscriptEntry
}

type TranscriptEntry struct {
	Role    string
	Speaker string
	HTML    template.HTML
	Tools   []ToolView
}

type ToolView struct {
	Name   string
	Args   string
	Result string
}

// BuildTranscript renders stored messages as HTML, splitting assistant
// replies into one entry per persona turn.
func BuildTranscript(conv *models.Conversation, names []string) (*Transcript, error) {
	t := &Transcript{Conversation: conv}
	for _, m := range conv.Messages {
		var tools []ToolView
		for _, inv := range m.ToolInvocations {
			tools = append(tools, ToolView{Name: inv.ToolName, Args: indentJSON(inv.Args), Result: indentJSON(inv.Result)})
		}

		if m.Role != "assistant" {
			rendered, err := RenderMarkdown(m.Content)
			if err != nil {
				return nil, err
			}
			t.Entries = append(t.Entries, TranscriptEntry{Role: m.Role, HTML: rendered, Tools: tools})
			continue
		}

		turns := persona.SplitTurns(m.Content, names)
		for i, turn := range turns {
			rendered, err := RenderMarkdown(turn.Text)
			if err != nil {
				return nil, err
			}
			entry := TranscriptEntry{Role: m.Role, Speaker: turn.Speaker, HTML: rendered}
			if i == 0 {
				entry.Tools = tools
			}
			t.Entries = append(t.Entries, entry)
		}
		if len(turns) == 0 && len(tools) > 0 {
			t.Entries = append(t.Entries, TranscriptEntry{Role: m.Role, Tools: tools})
		}
	}
	return t, nil
}

func RenderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
