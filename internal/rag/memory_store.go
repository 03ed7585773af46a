package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"livingworld/server/internal/interfaces"
)

// MemoryStore embeds NPC memories and searches them per (npc, player) pair
type MemoryStore struct {
	points   PointStore
	embedder interfaces.Embedder
	log      logrus.FieldLogger
}

// NewMemoryStore creates a new memory store
func NewMemoryStore(points PointStore, embedder interfaces.Embedder, log logrus.FieldLogger) *MemoryStore {
	return &MemoryStore{
		points:   points,
		embedder: embedder,
		log:      log.WithField("component", "recall"),
	}
}

// StoreMemory stores a memory with its embedding. Missing ids and timestamps are filled in.
func (s *MemoryStore) StoreMemory(ctx context.Context, memory *interfaces.Memory) error {
	if strings.TrimSpace(memory.Content) == "" {
		return fmt.Errorf("empty memory content")
	}
	if memory.ID == "" {
		memory.ID = uuid.New().String()
	}
	if memory.Timestamp == 0 {
		memory.Timestamp = time.Now().Unix()
	}

	vector, err := s.embedder.Embed(ctx, memory.Content)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	payload := map[string]interface{}{
		"kind":      string(memory.Kind),
		"npc_id":    memory.NPCID,
		"player_id": memory.PlayerID,
		"content":   memory.Content,
		"timestamp": memory.Timestamp,
	}
	for k, v := range memory.Metadata {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}

	return s.points.Upsert(ctx, []*Point{{ID: memory.ID, Vector: vector, Payload: payload}})
}

// SearchMemories returns the memories of npcID about playerID closest to query
func (s *MemoryStore) SearchMemories(ctx context.Context, npcID, playerID, query string, limit int) ([]*interfaces.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	filter := Filter{"npc_id": npcID}
	if playerID != "" {
		filter["player_id"] = playerID
	}
	results, err := s.points.Search(ctx, vector, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	memories := make([]*interfaces.Memory, 0, len(results))
	for _, r := range results {
		mem, ok := resultToMemory(r)
		if !ok {
			continue
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

func resultToMemory(r *SearchResult) (*interfaces.Memory, bool) {
	content, ok := r.Payload["content"].(string)
	if !ok || content == "" {
		return nil, false
	}
	kind, _ := r.Payload["kind"].(string)
	npcID, _ := r.Payload["npc_id"].(string)
	playerID, _ := r.Payload["player_id"].(string)

	var ts int64
	switch v := r.Payload["timestamp"].(type) {
	case int64:
		ts = v
	case float64:
		ts = int64(v)
	case int:
		ts = int64(v)
	}

	return &interfaces.Memory{
		ID:        r.ID,
		Kind:      interfaces.MemoryKind(kind),
		NPCID:     npcID,
		PlayerID:  playerID,
		Content:   content,
		Metadata:  r.Payload,
		Timestamp: ts,
		Score:     r.Score,
	}, true
}

// BuildContextSummary renders recalled memories as a prompt section
func BuildContextSummary(memories []*interfaces.Memory, maxMemories int) string {
	if len(memories) == 0 {
		return ""
	}
	if len(memories) > maxMemories {
		memories = memories[:maxMemories]
	}

	var summary strings.Builder
	summary.WriteString("Things you remember about this traveller:\n")
	for i, mem := range memories {
		summary.WriteString(fmt.Sprintf("%d. %s", i+1, mem.Content))
		if mem.Timestamp > 0 {
			summary.WriteString(fmt.Sprintf(" (%s)", time.Unix(mem.Timestamp, 0).UTC().Format("Jan 2 15:04")))
		}
		summary.WriteString("\n")
	}
	return summary.String()
}
