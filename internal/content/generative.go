package content

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/models"
	"livingworld/server/internal/prompts"
	"livingworld/server/internal/spatial"
)

const cellSchemaJSON = `{
  "type": "object",
  "required": ["pois", "npcs"],
  "properties": {
    "pois": {
      "type": "array",
      "minItems": 1,
      "maxItems": 3,
      "items": {
        "type": "object",
        "required": ["type", "name", "description", "x", "z"],
        "properties": {
          "type": {"enum": ["landmark", "building", "resource", "mystery"]},
          "name": {"type": "string", "minLength": 1, "maxLength": 80},
          "description": {"type": "string", "minLength": 1, "maxLength": 400},
          "x": {"type": "number"},
          "z": {"type": "number"}
        }
      }
    },
    "npcs": {
      "type": "array",
      "maxItems": 2,
      "items": {
        "type": "object",
        "required": ["name", "archetype", "mood", "x", "z"],
        "properties": {
          "name": {"type": "string", "minLength": 1, "maxLength": 60},
          "archetype": {"enum": ["merchant", "guard", "wanderer", "quest_giver", "sage", "mysterious"]},
          "mood": {"type": "string", "minLength": 1, "maxLength": 40},
          "x": {"type": "number"},
          "z": {"type": "number"}
        }
      }
    }
  }
}`

var cellSchema = jsonschema.MustCompileString("mem://cell.schema.json", cellSchemaJSON)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

type generatedCell struct {
	POIs []struct {
		Type        models.POIType `json:"type"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		X           float64        `json:"x"`
		Z           float64        `json:"z"`
	} `json:"pois"`
	NPCs []struct {
		Name      string           `json:"name"`
		Archetype models.Archetype `json:"archetype"`
		Mood      string           `json:"mood"`
		X         float64          `json:"x"`
		Z         float64          `json:"z"`
	} `json:"npcs"`
}

const defaultTimeout = 45 * time.Second

// Generative asks the text backend for cell content and falls back to
// procedural content on any failure.
type Generative struct {
	textGen  interfaces.TextGenerator
	fallback *Procedural
	prompts  *prompts.TemplateEngine
	timeout  time.Duration
	log      logrus.FieldLogger
}

func NewGenerative(textGen interfaces.TextGenerator, fallback *Procedural, log logrus.FieldLogger) *Generative {
	return &Generative{
		textGen:  textGen,
		fallback: fallback,
		prompts:  prompts.NewTemplateEngine(),
		timeout:  defaultTimeout,
		log:      log.WithField("component", "content"),
	}
}

// SetTimeout bounds each backend call. Non-positive values keep the default.
func (g *Generative) SetTimeout(d time.Duration) {
	if d > 0 {
		g.timeout = d
	}
}

// Generate does not surface backend failures. They are logged and
// answered with procedural content for the same cell.
func (g *Generative) Generate(ctx context.Context, req Request) (*Content, error) {
	out, err := g.generate(ctx, req)
	if err == nil {
		return out, nil
	}
	g.log.WithError(err).WithField("cell", req.Cell.Key()).Warn("generative content failed, using procedural fallback")
	return g.fallback.Generate(ctx, req)
}

func (g *Generative) generate(ctx context.Context, req Request) (*Content, error) {
	system, err := g.prompts.Render(prompts.CellSystem, nil)
	if err != nil {
		return nil, err
	}
	user, err := g.prompts.Render(prompts.CellUser, cellVars(req))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.textGen.Complete(ctx, &interfaces.CompletionRequest{
		Messages: []interfaces.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		JSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("text generation: %w", err)
	}
	return ParseCellContent(raw, req)
}

// ParseCellContent turns raw model output into typed content. It fails with
// ErrInvalidContent unless the whole object passes the cell schema and every
// position lies inside the cell.
func ParseCellContent(raw string, req Request) (*Content, error) {
	var doc generatedCell
	if err := DecodeValidated(raw, cellSchema, &doc); err != nil {
		return nil, err
	}

	originX, originZ, size := spatial.Bounds(req.Cell, req.CellSize)
	inside := func(x, z float64) bool {
		return x >= originX && x < originX+size && z >= originZ && z < originZ+size
	}

	cellKey := req.Cell.Key()
	out := &Content{Source: models.SourceGenerative, NPCs: []models.NPC{}}
	for i, p := range doc.POIs {
		if !inside(p.X, p.Z) {
			return nil, fmt.Errorf("%w: poi %d outside cell %s", ErrInvalidContent, i, cellKey)
		}
		out.POIs = append(out.POIs, models.POI{
			ID:          fmt.Sprintf("poi_%d_%d_%d", req.Cell.X, req.Cell.Z, i),
			Type:        p.Type,
			Name:        strings.TrimSpace(p.Name),
			Description: strings.TrimSpace(p.Description),
			Position:    spatial.Vec3{X: p.X, Z: p.Z},
			CellID:      cellKey,
		})
	}
	for i, n := range doc.NPCs {
		if !inside(n.X, n.Z) {
			return nil, fmt.Errorf("%w: npc %d outside cell %s", ErrInvalidContent, i, cellKey)
		}
		out.NPCs = append(out.NPCs, models.NPC{
			ID:            fmt.Sprintf("npc_%d_%d_%d", req.Cell.X, req.Cell.Z, i),
			Name:          strings.TrimSpace(n.Name),
			Archetype:     n.Archetype,
			Mood:          strings.TrimSpace(n.Mood),
			Position:      spatial.Vec3{X: n.X, Z: n.Z},
			CurrentAction: models.ActionIdle,
			CellID:        cellKey,
		})
	}
	return out, nil
}

// ExtractJSON returns the first JSON object in raw: a fenced block when
// present, otherwise the span from the first '{' to the last '}'.
func ExtractJSON(raw string) (string, bool) {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// DecodeValidated extracts a JSON object from raw, validates it against
// schema and decodes it into out.
func DecodeValidated(raw string, schema *jsonschema.Schema, out interface{}) error {
	body, ok := ExtractJSON(raw)
	if !ok {
		return fmt.Errorf("%w: no JSON object in output", ErrInvalidContent)
	}
	var generic interface{}
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return nil
}

func cellVars(req Request) prompts.Vars {
	originX, originZ, size := spatial.Bounds(req.Cell, req.CellSize)
	return prompts.Vars{
		"cell_id":    req.Cell.Key(),
		"biome":      string(req.Biome),
		"min_x":      formatFloat(originX),
		"max_x":      formatFloat(originX + size),
		"min_z":      formatFloat(originZ),
		"max_z":      formatFloat(originZ + size),
		"neighbors":  summarizeNeighbors(req.Context.Neighbors),
		"players":    bulletList(req.Context.Players),
		"events":     bulletList(req.Context.Events),
		"narratives": bulletList(req.Context.Narratives),
	}
}

func summarizeNeighbors(ns []NeighborSummary) string {
	lines := make([]string, 0, len(ns))
	for _, n := range ns {
		line := fmt.Sprintf("%s %s (%s)", n.ID, n.Biome, n.Status)
		if len(n.POINames) > 0 {
			line += ": " + strings.Join(n.POINames, ", ")
		}
		lines = append(lines, line)
	}
	return bulletList(lines)
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- none"
	}
	return "- " + strings.Join(items, "\n- ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
