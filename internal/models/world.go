package models

import (
	"time"

	"livingworld/server/internal/spatial"
)

// CellStatus is the generation state of a cell
type CellStatus string

const (
	CellPending    CellStatus = "pending"
	CellGenerating CellStatus = "generating"
	CellReady      CellStatus = "ready"
	CellError      CellStatus = "error"
)

// NeedsGeneration reports whether a cell in this status should be (re)generated.
// Error is treated like pending so failed cells are retried later.
func (s CellStatus) NeedsGeneration() bool {
	return s != CellReady && s != CellGenerating
}

// ContentSource records which generator produced a cell
type ContentSource string

const (
	SourceProcedural ContentSource = "procedural"
	SourceGenerative ContentSource = "generative"
	SourceSpawn      ContentSource = "spawn"
)

// Cell represents one chunk of the world grid
type Cell struct {
	ID          string        `json:"id"`
	X           int           `json:"x"`
	Z           int           `json:"z"`
	Status      CellStatus    `json:"status"`
	Biome       spatial.Biome `json:"biome"`
	NPCIDs      []string      `json:"npcIds"`
	POIs        []POI         `json:"pois"`
	Source      ContentSource `json:"source,omitempty"`
	GeneratedAt *time.Time    `json:"generatedAt,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
}

// Clone returns a deep copy of the cell
func (c Cell) Clone() Cell {
	out := c
	out.NPCIDs = append([]string(nil), c.NPCIDs...)
	if c.POIs != nil {
		out.POIs = make([]POI, len(c.POIs))
		for i, p := range c.POIs {
			out.POIs[i] = p.Clone()
		}
	}
	if c.GeneratedAt != nil {
		t := *c.GeneratedAt
		out.GeneratedAt = &t
	}
	return out
}

// POIType categorises a point of interest
type POIType string

const (
	POILandmark POIType = "landmark"
	POIBuilding POIType = "building"
	POIResource POIType = "resource"
	POIMystery  POIType = "mystery"
)

// POITypes lists the point-of-interest types in draw order.
var POITypes = []POIType{POILandmark, POIBuilding, POIResource, POIMystery}

// POI is a point of interest placed inside a cell
type POI struct {
	ID           string       `json:"id"`
	Type         POIType      `json:"type"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Position     spatial.Vec3 `json:"position"`
	CellID       string       `json:"cellId"`
	Discovered   bool         `json:"discovered"`
	DiscoveredBy string       `json:"discoveredBy,omitempty"`
	DiscoveredAt *time.Time   `json:"discoveredAt,omitempty"`
}

// Clone returns a deep copy of the POI
func (p POI) Clone() POI {
	out := p
	if p.DiscoveredAt != nil {
		t := *p.DiscoveredAt
		out.DiscoveredAt = &t
	}
	return out
}

// NPCAction is what an NPC is currently doing
type NPCAction string

const (
	ActionIdle    NPCAction = "idle"
	ActionWalking NPCAction = "walking"
	ActionTalking NPCAction = "talking"
	ActionWorking NPCAction = "working"
)

// ParseNPCAction maps free text to a known action, defaulting to idle.
func ParseNPCAction(s string) NPCAction {
	switch NPCAction(s) {
	case ActionIdle, ActionWalking, ActionTalking, ActionWorking:
		return NPCAction(s)
	}
	return ActionIdle
}

// Archetype is the behavioural role of an NPC
type Archetype string

const (
	ArchetypeMerchant   Archetype = "merchant"
	ArchetypeGuard      Archetype = "guard"
	ArchetypeWanderer   Archetype = "wanderer"
	ArchetypeQuestGiver Archetype = "quest_giver"
	ArchetypeSage       Archetype = "sage"
	ArchetypeMysterious Archetype = "mysterious"
)

// Archetypes lists every archetype in draw order.
var Archetypes = []Archetype{
	ArchetypeMerchant,
	ArchetypeGuard,
	ArchetypeWanderer,
	ArchetypeQuestGiver,
	ArchetypeSage,
	ArchetypeMysterious,
}

// Valid reports whether a is a known archetype
func (a Archetype) Valid() bool {
	for _, known := range Archetypes {
		if a == known {
			return true
		}
	}
	return false
}

// Mystery is how evasive the archetype is when asked direct questions, in [0,1].
func (a Archetype) Mystery() float64 {
	switch a {
	case ArchetypeMysterious:
		return 0.9
	case ArchetypeSage:
		return 0.7
	case ArchetypeWanderer:
		return 0.4
	case ArchetypeQuestGiver:
		return 0.3
	default:
		return 0.1
	}
}

// NPC is a non-player character owned by the world store
type NPC struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Archetype     Archetype    `json:"archetype"`
	Position      spatial.Vec3 `json:"position"`
	Rotation      float64      `json:"rotation"`
	CurrentAction NPCAction    `json:"currentAction"`
	Mood          string       `json:"mood"`
	CellID        string       `json:"cellId"`
}

// Player is a connected participant
type Player struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Position   spatial.Vec3 `json:"position"`
	Rotation   float64      `json:"rotation"`
	Velocity   spatial.Vec3 `json:"velocity"`
	LastUpdate time.Time    `json:"lastUpdate"`
}

// EventType names a world event
type EventType string

const (
	EventPlayerJoin     EventType = "player_join"
	EventPlayerLeave    EventType = "player_leave"
	EventDiscovery      EventType = "discovery"
	EventChunkGenerated EventType = "chunk_generated"
	EventWorldChange    EventType = "world_change"
	EventQuestStart     EventType = "quest_start"
	EventQuestComplete  EventType = "quest_complete"
	EventNPCDialogue    EventType = "npc_dialogue"
)

// WorldEvent is an entry of the bounded world event log
type WorldEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	PlayerID  string                 `json:"playerId,omitempty"`
	NPCID     string                 `json:"npcId,omitempty"`
	CellID    string                 `json:"cellId,omitempty"`
}

// Clone copies the event and its top-level payload map
func (e WorldEvent) Clone() WorldEvent {
	out := e
	if e.Payload != nil {
		out.Payload = make(map[string]interface{}, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	return out
}
