package personality

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"github.com/quailyquaily/guildmind/internal/pathutil"
	"github.com/quailyquaily/guildmind/internal/prompttmpl"
	"gopkg.in/yaml.v3"
)

const DefaultName = "default"

// BaseGuidelines apply to every personality and are appended at render time.
const BaseGuidelines = `Important guidelines for all interactions:
- Do not pretend to be human; be straightforward and natural
- Avoid phrases that sound like an AI trying too hard to be casual
- Do not be artificially enthusiastic or energetic
- Respond as if you were having a genuine conversation with a friend
- Be brief and to the point when that is called for
- Avoid over-explaining
- You may use emoji naturally and sparingly (1-2 per message)
- Ask clarifying questions only when genuinely needed
- Prefer the server's own custom emoji when they fit, written as {emoji_name}`

var ErrUnknownPersonality = errors.New("unknown personality")

//go:embed personalities.yaml
var builtinYAML []byte

//go:embed prompt.tmpl
var promptSource string

var promptTemplate = prompttmpl.MustParse("personality", promptSource, template.FuncMap{
	"baseGuidelines": func() string { return BaseGuidelines },
})

var validate = validator.New()

// Definition is one named personality. Every field is required.
type Definition struct {
	Name               string   `yaml:"name" json:"name" validate:"required,max=64"`
	DisplayName        string   `yaml:"display_name" json:"display_name" validate:"required"`
	Description        string   `yaml:"description" json:"description" validate:"required"`
	Traits             []string `yaml:"traits" json:"traits" validate:"required,min=1,dive,required"`
	CommunicationStyle []string `yaml:"communication_style" json:"communication_style" validate:"required,min=1,dive,required"`
	BehaviorPatterns   []string `yaml:"behavior_patterns" json:"behavior_patterns" validate:"required,min=1,dive,required"`
}

// Render composes def with the base guidelines. def is not modified.
func Render(def Definition) (string, error) {
	return prompttmpl.Render(promptTemplate, def)
}

// Registry is an immutable set of validated definitions with their rendered
// prompts.
type Registry struct {
	defs    map[string]Definition
	prompts map[string]string
}

// Builtin returns the embedded registry.
func Builtin() *Registry {
	r, err := LoadRegistry(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin personalities: %v", err))
	}
	return r
}

// LoadRegistry parses a YAML list of definitions. It fails on the first
// malformed entry, on duplicate names, and when "default" is missing.
func LoadRegistry(data []byte) (*Registry, error) {
	defs, err := parseDefinitions(data)
	if err != nil {
		return nil, err
	}
	return newRegistry(defs)
}

// LoadRegistryFile loads the built-in definitions, then adds or replaces
// them with those in path.
func LoadRegistryFile(path string) (*Registry, error) {
	path = pathutil.ExpandHomePath(path)
	if path == "" {
		return Builtin(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personalities %s: %w", path, err)
	}
	base, err := parseDefinitions(builtinYAML)
	if err != nil {
		return nil, err
	}
	extra, err := parseDefinitions(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	merged := map[string]Definition{}
	var order []string
	for _, d := range append(base, extra...) {
		if _, ok := merged[d.Name]; !ok {
			order = append(order, d.Name)
		}
		merged[d.Name] = d
	}
	defs := make([]Definition, 0, len(order))
	for _, name := range order {
		defs = append(defs, merged[name])
	}
	return newRegistry(defs)
}

func parseDefinitions(data []byte) ([]Definition, error) {
	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("decode personalities: %w", err)
	}
	for i := range defs {
		defs[i].Name = strings.TrimSpace(defs[i].Name)
		if err := validate.Struct(defs[i]); err != nil {
			return nil, fmt.Errorf("personality %d (%q): %w", i, defs[i].Name, formatValidationError(err))
		}
	}
	return defs, nil
}

func newRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:    make(map[string]Definition, len(defs)),
		prompts: make(map[string]string, len(defs)),
	}
	for _, d := range defs {
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate personality %q", d.Name)
		}
		prompt, err := Render(d)
		if err != nil {
			return nil, fmt.Errorf("render personality %q: %w", d.Name, err)
		}
		r.defs[d.Name] = d
		r.prompts[d.Name] = prompt
	}
	if _, ok := r.defs[DefaultName]; !ok {
		return nil, fmt.Errorf("personality %q is required", DefaultName)
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.defs[strings.TrimSpace(name)]
	return d, ok
}

// Prompt returns the rendered prompt for a registered name.
func (r *Registry) Prompt(name string) (string, bool) {
	p, ok := r.prompts[strings.TrimSpace(name)]
	return p, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s needs at least %s entries", field, e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
