package interfaces

import "context"

// MemoryKind represents the kind of recalled memory
type MemoryKind string

const (
	MemoryInteraction MemoryKind = "interaction" // player acted on an NPC
	MemoryDialogue    MemoryKind = "dialogue"    // one exchanged line pair
	MemoryDiscovery   MemoryKind = "discovery"   // POI or secret found
)

// Memory is a semantically searchable summary tied to an NPC and a player
type Memory struct {
	ID        string
	Kind      MemoryKind
	NPCID     string
	PlayerID  string
	Content   string
	Metadata  map[string]interface{}
	Timestamp int64
	Score     float32 // similarity, filled on search
}

// RecallIndex stores and searches memories by meaning
type RecallIndex interface {
	// StoreMemory embeds and stores a memory
	StoreMemory(ctx context.Context, memory *Memory) error

	// SearchMemories returns memories for the (npc, player) pair closest to query
	SearchMemories(ctx context.Context, npcID, playerID, query string, limit int) ([]*Memory, error)
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
