package persona

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Persona struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Set is a group of voices the assistant speaks with. When System is set it is
// used verbatim instead of the generated prompt.
type Set struct {
	Name          string    `yaml:"name" json:"name"`
	Personas      []Persona `yaml:"personas" json:"personas"`
	Tone          string    `yaml:"tone" json:"tone"`
	AllMustAnswer bool      `yaml:"all_must_answer" json:"all_must_answer"`
	System        string    `yaml:"system,omitempty" json:"system,omitempty"`
}

func Default() *Set {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded persona set: %v", err))
	}
	return s
}

func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse persona set: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Set) Validate() error {
	if strings.TrimSpace(s.System) != "" {
		return nil
	}
	if len(s.Personas) == 0 {
		return fmt.Errorf("persona set %q has no personas", s.Name)
	}
	seen := make(map[string]bool, len(s.Personas))
	for i, p := range s.Personas {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("persona %d has no name", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate persona name %q", name)
		}
		seen[name] = true
	}
	return nil
}

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.Personas))
	for _, p := range s.Personas {
		names = append(names, strings.TrimSpace(p.Name))
	}
	return names
}

// SystemPrompt renders the instruction the model receives before the
// conversation.
func (s *Set) SystemPrompt() string {
	if sys := strings.TrimSpace(s.System); sys != "" {
		return sys
	}

	names := s.Names()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "너는 %s라는 이름을 가진 %s개의 페르소나의 어시스턴트야.\n", joinWithParticle(quoted, names), koreanCount(len(names)))

	if s.Tone != "" {
		fmt.Fprintf(&b, "유저의 요청에 대해서 %s\n", strings.TrimSpace(s.Tone))
	}

	prefixes := make([]string, len(quoted))
	for i, q := range quoted {
		prefixes[i] = q + ":"
	}
	fmt.Fprintf(&b, "답변할때는 %s 와 같은 형식의 접두어를 붙여 답변하고", strings.Join(prefixes, " 또는 "))
	if s.AllMustAnswer && len(names) > 1 {
		fmt.Fprintf(&b, ", 유저의 말에 대해 반드시 %s가 답변해야 해.", everyone(len(names)))
	} else {
		b.WriteString(", 상황에 맞는 페르소나가 답변해 줘.")
	}

	for _, p := range s.Personas {
		if p.Description != "" {
			fmt.Fprintf(&b, "\n- '%s': %s", strings.TrimSpace(p.Name), p.Description)
		}
	}

	return b.String()
}

// joinWithParticle joins names as "'A', 'B'와 'C'", choosing 와/과 from the
// final consonant of the second to last name.
func joinWithParticle(quoted, names []string) string {
	switch len(quoted) {
	case 0:
		return ""
	case 1:
		return quoted[0]
	}
	head := strings.Join(quoted[:len(quoted)-1], ", ")
	return head + particleWa(names[len(names)-2]) + quoted[len(quoted)-1]
}

func particleWa(word string) string {
	runes := []rune(word)
	if len(runes) == 0 {
		return "와 "
	}
	last := runes[len(runes)-1]
	if last >= 0xAC00 && last <= 0xD7A3 && (last-0xAC00)%28 != 0 {
		return "과 "
	}
	return "와 "
}

func koreanCount(n int) string {
	switch n {
	case 1:
		return "한"
	case 2:
		return "두"
	case 3:
		return "세"
	case 4:
		return "네"
	default:
		return fmt.Sprintf("%d", n)
	}
}

func everyone(n int) string {
	switch n {
	case 2:
		return "둘 모두"
	case 3:
		return "셋 모두"
	case 4:
		return "넷 모두"
	default:
		return "모두"
	}
}
