package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

const (
	CellSystem     = "cell_system"
	CellUser       = "cell_user"
	DialogueSystem = "dialogue_system"
	DialogueUser   = "dialogue_user"
)

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// Vars holds the values substituted into a template
type Vars map[string]string

// NewTemplateEngine creates an engine preloaded with the default templates
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	for _, tmpl := range defaultTemplates() {
		e.RegisterTemplate(tmpl)
	}
	return e
}

// RegisterTemplate registers or replaces a template. Variables are derived from the content.
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) {
	tmpl.Variables = ParseTemplateVariables(tmpl.Content)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[tmpl.Name] = tmpl
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render substitutes {{name}} placeholders. Unknown placeholders are left as-is.
func (e *TemplateEngine) Render(name string, vars Vars) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}
	out := varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		key := varRegex.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	})
	return out, nil
}

// ParseTemplateVariables extracts the sorted unique variable names of a template
func ParseTemplateVariables(content string) []string {
	seen := make(map[string]bool)
	for _, m := range varRegex.FindAllStringSubmatch(content, -1) {
		seen[m[1]] = true
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

func defaultTemplates() []*Template {
	return []*Template{
		{
			Name:        CellSystem,
			Description: "Game master persona for cell content",
			Content: `You are the Game Master of a persistent shared world. You populate one square
region of land at a time. Content must fit the biome, stay consistent with the
neighbouring regions and quietly connect to what players have been doing.

Respond with a single JSON object and nothing else:
{"pois":[{"type":"landmark|building|resource|mystery","name":"...","description":"...","x":0.0,"z":0.0}],
 "npcs":[{"name":"...","archetype":"merchant|guard|wanderer|quest_giver|sage|mysterious","mood":"...","x":0.0,"z":0.0}]}
Place 1 to 3 points of interest and at most 2 NPCs. Coordinates are world
coordinates and must lie inside the region bounds.`,
		},
		{
			Name:        CellUser,
			Description: "Context bundle for one cell",
			Content: `## Region
Cell {{cell_id}} ({{biome}}), bounds x:[{{min_x}}, {{max_x}}) z:[{{min_z}}, {{max_z}})

## Neighbouring regions
{{neighbors}}

## Explorers nearby
{{players}}

## Recent world events
{{events}}

## Active storylines
{{narratives}}`,
		},
		{
			Name:        DialogueSystem,
			Description: "NPC persona for dialogue",
			Content: `You are {{npc_name}}, a {{archetype}} in a living world. Your mood is {{mood}} and
you are currently {{action}}. Your goals: {{goals}}.

Your relationship with this traveller is {{relationship}} on a scale from -100
(hostile) to 100 (devoted). Topics you discussed before: {{topics}}.
{{secret_hints}}
{{recalled}}

Stay in character and answer in one to three sentences. Respond with a single
JSON object: {"text":"...","emotion":"...","action":"idle|walking|talking|working"}`,
		},
		{
			Name:        DialogueUser,
			Description: "Player utterance",
			Content:     `{{player_name}} says: {{utterance}}`,
		},
	}
}
