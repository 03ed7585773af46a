package content

import (
	"context"
	"fmt"
	"math"

	"livingworld/server/internal/models"
	"livingworld/server/internal/spatial"
)

// Procedural derives cell content from the cell id alone.
// The same id always yields the same content in any process.
type Procedural struct{}

func NewProcedural() *Procedural {
	return &Procedural{}
}

// Generate never fails
func (p *Procedural) Generate(_ context.Context, req Request) (*Content, error) {
	return p.Build(req.Cell, req.Biome, req.CellSize), nil
}

// Build draws, in order: the POI count, then per POI its type, name,
// description, x and z; then an NPC coin flip and, if it lands under 0.5,
// archetype, name, x, z, yaw and mood.
func (p *Procedural) Build(id spatial.CellID, biome spatial.Biome, cellSize float64) *Content {
	if biome == "" {
		biome = spatial.BiomeOf(id)
	}
	names := biomeNames[biome]
	descs := biomeDescriptions[biome]
	originX, originZ, size := spatial.Bounds(id, cellSize)
	r := NewMulberry32(SeedForCell(id))
	cellKey := id.Key()

	count := 1 + r.Intn(3)
	pois := make([]models.POI, 0, count)
	for i := 0; i < count; i++ {
		poi := models.POI{
			ID:     fmt.Sprintf("poi_%d_%d_%d", id.X, id.Z, i),
			Type:   pick(r, models.POITypes),
			CellID: cellKey,
		}
		poi.Name = pick(r, names)
		poi.Description = pick(r, descs)
		poi.Position.X = originX + r.Float64()*size
		poi.Position.Z = originZ + r.Float64()*size
		pois = append(pois, poi)
	}

	npcs := []models.NPC{}
	if r.Float64() < 0.5 {
		npc := models.NPC{
			ID:            fmt.Sprintf("npc_%d_%d_0", id.X, id.Z),
			Archetype:     pick(r, models.Archetypes),
			CurrentAction: models.ActionIdle,
			CellID:        cellKey,
		}
		npc.Name = pick(r, npcNames)
		npc.Position.X = originX + r.Float64()*size
		npc.Position.Z = originZ + r.Float64()*size
		npc.Rotation = r.Float64() * 2 * math.Pi
		npc.Mood = pick(r, archetypeMoods[npc.Archetype])
		npcs = append(npcs, npc)
	}

	return &Content{POIs: pois, NPCs: npcs, Source: models.SourceProcedural}
}
