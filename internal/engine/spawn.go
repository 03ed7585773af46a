package engine

import (
	"livingworld/server/internal/models"
	"livingworld/server/internal/spatial"
)

// SpawnCell is where new players enter the world
var SpawnCell = spatial.CellID{X: 0, Z: 0}

// SeedSpawn makes the spawn cell ready with a plaza and two residents. It
// reports false when the cell was already ready.
func (o *Orchestrator) SeedSpawn() bool {
	if cell, ok := o.store.GetCell(SpawnCell.Key()); ok && cell.Status == models.CellReady {
		return false
	}

	// the plaza sits at the cell centre with the residents either side of it
	x, z, size := spatial.Bounds(SpawnCell, o.opts.CellSize)
	cx, cz := x+size/2, z+size/2
	dx, dz := size/20, size/50

	pois := []models.POI{{
		ID:          "poi_spawn_plaza",
		Type:        models.POILandmark,
		Name:        "Crossroads Plaza",
		Description: "A worn stone square where every road seems to begin.",
		Position:    spatial.Vec3{X: cx, Z: cz},
	}}
	npcs := []models.NPC{
		{
			ID:            "npc_spawn_merchant",
			Name:          "Mara the Trader",
			Archetype:     models.ArchetypeMerchant,
			Position:      spatial.Vec3{X: cx - dx, Z: cz + dz},
			CurrentAction: models.ActionIdle,
			Mood:          "cheerful",
		},
		{
			ID:            "npc_spawn_guard",
			Name:          "Captain Brann",
			Archetype:     models.ArchetypeGuard,
			Position:      spatial.Vec3{X: cx + dx, Z: cz - dz},
			CurrentAction: models.ActionIdle,
			Mood:          "watchful",
		},
	}

	now := o.clock()
	o.store.CommitCell(SpawnCell, pois, npcs, models.SourceSpawn, now)
	for _, n := range npcs {
		o.memory.RegisterNPC(n.ID, n.Name, string(n.Archetype))
		o.idle.Schedule(n.ID, now.Add(o.idleDelay()))
	}
	o.log.Info("spawn cell seeded")
	return true
}
