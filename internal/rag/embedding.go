package rag

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	cacheTTL         = 24 * time.Hour
	defaultCacheSize = 1024
)

// BatchEmbedder is the remote embedding capability (llm.Client)
type BatchEmbedder interface {
	Embeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// embeddingCache stores normalised vectors by text
type embeddingCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedEmbedding
	max     int
}

type cachedEmbedding struct {
	Vector    []float32
	CreatedAt time.Time
}

// EmbeddingService embeds text with a TTL cache in front of the remote model
type EmbeddingService struct {
	backend BatchEmbedder
	cache   *embeddingCache
	now     func() time.Time
	log     logrus.FieldLogger
}

// NewEmbeddingService creates a service holding at most cacheSize vectors
func NewEmbeddingService(backend BatchEmbedder, cacheSize int, log logrus.FieldLogger) *EmbeddingService {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &EmbeddingService{
		backend: backend,
		cache:   &embeddingCache{entries: make(map[string]*cachedEmbedding), max: cacheSize},
		now:     time.Now,
		log:     log.WithField("component", "embedding"),
	}
}

// Embed generates the embedding for a single text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts, only sending uncached ones to the backend
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))
	for i, text := range texts {
		if vec, ok := s.getFromCache(text); ok {
			out[i] = vec
			continue
		}
		uncachedIndices = append(uncachedIndices, i)
		uncachedTexts = append(uncachedTexts, text)
	}
	if len(uncachedTexts) == 0 {
		return out, nil
	}

	vectors, err := s.backend.Embeddings(ctx, uncachedTexts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) != len(uncachedTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(uncachedTexts))
	}
	for i, idx := range uncachedIndices {
		vec := NormalizeVector(vectors[i])
		out[idx] = vec
		s.putInCache(uncachedTexts[i], vec)
	}
	return out, nil
}

func (s *EmbeddingService) getFromCache(text string) ([]float32, bool) {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()

	cached, ok := s.cache.entries[text]
	if !ok || s.now().Sub(cached.CreatedAt) > cacheTTL {
		return nil, false
	}
	return cached.Vector, true
}

// putInCache stores a vector, evicting the oldest entry when full
func (s *EmbeddingService) putInCache(text string, vector []float32) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()

	if _, ok := s.cache.entries[text]; !ok && len(s.cache.entries) >= s.cache.max {
		var oldestKey string
		var oldest time.Time
		for k, e := range s.cache.entries {
			if oldestKey == "" || e.CreatedAt.Before(oldest) {
				oldestKey, oldest = k, e.CreatedAt
			}
		}
		delete(s.cache.entries, oldestKey)
	}
	s.cache.entries[text] = &cachedEmbedding{Vector: vector, CreatedAt: s.now()}
}

// CacheSize returns the number of cached embeddings
func (s *EmbeddingService) CacheSize() int {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()
	return len(s.cache.entries)
}

// NormalizeVector scales a vector to unit length
func NormalizeVector(vector []float32) []float32 {
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector
	}
	norm = math.Sqrt(norm)
	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}

// CosineSimilarity of two vectors of equal length
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions don't match: %d vs %d", len(v1), len(v2))
	}
	var dot, n1, n2 float64
	for i := range v1 {
		dot += float64(v1[i]) * float64(v2[i])
		n1 += float64(v1[i]) * float64(v1[i])
		n2 += float64(v2[i]) * float64(v2[i])
	}
	if n1 == 0 || n2 == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(n1) * math.Sqrt(n2))), nil
}
