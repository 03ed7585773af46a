package rag

import (
	"context"
	"sort"
	"sync"
)

// LocalStore is an in-process PointStore with brute-force cosine search.
// It is used when qdrant is disabled and in tests.
type LocalStore struct {
	mu     sync.RWMutex
	points map[string]*Point
}

func NewLocalStore() *LocalStore {
	return &LocalStore{points: make(map[string]*Point)}
}

// Upsert inserts or replaces points by id
func (s *LocalStore) Upsert(_ context.Context, points []*Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if p.ID == "" {
			continue
		}
		payload := make(map[string]interface{}, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		s.points[p.ID] = &Point{
			ID:      p.ID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: payload,
		}
	}
	return nil
}

// Search scores every matching point and returns the best limit
func (s *LocalStore) Search(_ context.Context, vector []float32, filter Filter, limit int) ([]*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*SearchResult, 0)
	for _, p := range s.points {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		score, err := CosineSimilarity(vector, p.Vector)
		if err != nil {
			continue
		}
		results = append(results, &SearchResult{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Len returns the number of stored points
func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func (s *LocalStore) Close() error { return nil }

func matchesFilter(payload map[string]interface{}, filter Filter) bool {
	for k, want := range filter {
		got, ok := payload[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}
