package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/logging"
)

// keywordEmbedder maps text onto a few fixed axes so similarity is predictable
type keywordEmbedder struct {
	calls int
	err   error
}

var axes = []string{"gift", "sword", "river", "bread"}

func (k *keywordEmbedder) Embeddings(_ context.Context, texts []string) ([][]float32, error) {
	k.calls++
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(axes))
		for j, a := range axes {
			if strings.Contains(strings.ToLower(t), a) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func newTestStore(backend *keywordEmbedder) (*MemoryStore, *LocalStore) {
	points := NewLocalStore()
	emb := NewEmbeddingService(backend, 16, logging.Discard())
	return NewMemoryStore(points, emb, logging.Discard()), points
}

func TestMemoryStoreSearchFiltersByPair(t *testing.T) {
	store, points := newTestStore(&keywordEmbedder{})
	ctx := context.Background()

	memories := []*interfaces.Memory{
		{Kind: interfaces.MemoryInteraction, NPCID: "npc_a", PlayerID: "p1", Content: "p1 gave a gift of bread"},
		{Kind: interfaces.MemoryInteraction, NPCID: "npc_a", PlayerID: "p1", Content: "p1 asked about the river"},
		{Kind: interfaces.MemoryInteraction, NPCID: "npc_a", PlayerID: "p2", Content: "p2 brought a gift"},
		{Kind: interfaces.MemoryInteraction, NPCID: "npc_b", PlayerID: "p1", Content: "p1 gave a gift"},
	}
	for _, m := range memories {
		if err := store.StoreMemory(ctx, m); err != nil {
			t.Fatalf("StoreMemory: %v", err)
		}
		if m.ID == "" || m.Timestamp == 0 {
			t.Fatalf("id/timestamp not filled: %+v", m)
		}
	}
	if points.Len() != 4 {
		t.Fatalf("points = %d", points.Len())
	}

	got, err := store.SearchMemories(ctx, "npc_a", "p1", "a gift", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d", len(got))
	}
	if got[0].Content != "p1 gave a gift of bread" || got[0].Kind != interfaces.MemoryInteraction {
		t.Fatalf("best match = %+v", got[0])
	}
	for _, m := range got {
		if m.NPCID != "npc_a" || m.PlayerID != "p1" {
			t.Fatalf("filter leaked: %+v", m)
		}
	}

	got, _ = store.SearchMemories(ctx, "npc_a", "p1", "a gift", 1)
	if len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}

func TestMemoryStoreRejectsEmptyContent(t *testing.T) {
	store, points := newTestStore(&keywordEmbedder{})
	if err := store.StoreMemory(context.Background(), &interfaces.Memory{NPCID: "n", Content: "  "}); err == nil {
		t.Fatal("expected error")
	}
	if points.Len() != 0 {
		t.Fatal("empty memory stored")
	}
}

func TestMemoryStoreEmbeddingFailure(t *testing.T) {
	store, _ := newTestStore(&keywordEmbedder{err: errors.New("offline")})
	if err := store.StoreMemory(context.Background(), &interfaces.Memory{NPCID: "n", Content: "gift"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := store.SearchMemories(context.Background(), "n", "p", "gift", 3); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbeddingServiceCaches(t *testing.T) {
	backend := &keywordEmbedder{}
	svc := NewEmbeddingService(backend, 2, logging.Discard())
	ctx := context.Background()

	v1, err := svc.Embed(ctx, "gift and sword")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Embed(ctx, "gift and sword"); err != nil {
		t.Fatal(err)
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d", backend.calls)
	}
	var norm float32
	for _, x := range v1 {
		norm += x * x
	}
	if norm < 0.999 || norm > 1.001 {
		t.Fatalf("vector not normalised: %v", v1)
	}

	svc.Embed(ctx, "river")
	svc.Embed(ctx, "bread")
	if svc.CacheSize() != 2 {
		t.Fatalf("cache size = %d", svc.CacheSize())
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s, _ := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); s < 0.999 {
		t.Fatalf("identical = %v", s)
	}
	if s, _ := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Fatalf("orthogonal = %v", s)
	}
	if _, err := CosineSimilarity([]float32{1}, []float32{1, 0}); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestBuildContextSummary(t *testing.T) {
	if BuildContextSummary(nil, 3) != "" {
		t.Fatal("expected empty summary")
	}
	mems := []*interfaces.Memory{{Content: "a"}, {Content: "b"}, {Content: "c"}, {Content: "d"}}
	s := BuildContextSummary(mems, 3)
	if !strings.Contains(s, "3. c") || strings.Contains(s, "d") {
		t.Fatalf("summary = %q", s)
	}
}
