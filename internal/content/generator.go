package content

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"livingworld/server/internal/config"
	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/models"
	"livingworld/server/internal/spatial"
)

// ErrInvalidContent marks generative output that failed parsing or validation
var ErrInvalidContent = errors.New("invalid generated content")

// NeighborSummary describes an adjacent cell for the context bundle
type NeighborSummary struct {
	ID       string
	Biome    spatial.Biome
	Status   models.CellStatus
	POINames []string
}

// ContextBundle is the world context handed to the generative backend
type ContextBundle struct {
	Neighbors  []NeighborSummary
	Players    []string
	Events     []string
	Narratives []string
}

// Request asks for the content of one cell
type Request struct {
	Cell     spatial.CellID
	Biome    spatial.Biome
	CellSize float64
	Context  ContextBundle
}

// Content is the generated population of a cell
type Content struct {
	POIs   []models.POI
	NPCs   []models.NPC
	Source models.ContentSource
}

// Generator produces cell content
type Generator interface {
	Generate(ctx context.Context, req Request) (*Content, error)
}

// New picks the generator once at startup: generative when a text backend
// is configured, procedural otherwise.
func New(cfg config.AIConfig, textGen interfaces.TextGenerator, log logrus.FieldLogger) Generator {
	procedural := NewProcedural()
	if textGen == nil || !cfg.GenerativeEnabled() {
		log.WithField("component", "content").Info("using procedural content generator")
		return procedural
	}
	log.WithField("component", "content").WithField("model", cfg.LLM.Model).Info("using generative content generator")
	g := NewGenerative(textGen, procedural, log)
	g.SetTimeout(cfg.LLM.Timeout)
	return g
}
