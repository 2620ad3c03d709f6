package persona

import "strings"

type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// SplitTurns breaks an assistant reply into persona turns. A turn starts at a
// line prefixed with a persona name followed by a colon, quoted or not
// ("'카이': ...", "카이: ..."). Text before the first prefix has no speaker.
func SplitTurns(text string, names []string) []Turn {
	var (
		turns   []Turn
		current *Turn
		body    strings.Builder
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(body.String())
		if current.Text != "" || current.Speaker != "" {
			turns = append(turns, *current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if speaker, rest, ok := matchPrefix(line, names); ok {
			flush()
			current = &Turn{Speaker: speaker}
			body.WriteString(rest)
			continue
		}
		if current == nil {
			current = &Turn{}
		}
		if body.Len() > 0 {
			body.WriteString("\n")
		}
		body.WriteString(line)
	}
	flush()

	return turns
}

func matchPrefix(line string, names []string) (speaker, rest string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t*-")
	for _, name := range names {
		for _, form := range []string{"'" + name + "'", "\"" + name + "\"", name} {
			if !strings.HasPrefix(trimmed, form) {
				continue
			}
			after := strings.TrimPrefix(trimmed[len(form):], "**")
			after = strings.TrimLeft(after, " ")
			if strings.HasPrefix(after, ":") {
				return name, strings.TrimSpace(strings.TrimPrefix(after, ":")), true
			}
		}
	}
	return "", "", false
}
