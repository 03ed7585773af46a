package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"livingworld/server/internal/config"
)

// ErrNotFound is returned by Load when no checkpoint exists under a key
var ErrNotFound = errors.New("checkpoint not found")

// Checkpointer persists opaque state blobs by key
type Checkpointer interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Open creates the checkpoint backend named by the persistence config.
// Backend "none" returns a nil Checkpointer.
func Open(cfg *config.Config, log logrus.FieldLogger) (Checkpointer, error) {
	switch cfg.Persistence.Backend {
	case "none":
		return nil, nil
	case "", "file":
		return NewFileStore(cfg.Persistence.Dir)
	case "redis":
		return NewRedisStore(cfg.Database.Redis)
	case "mysql":
		return NewMySQLStore(cfg.Database.MySQL)
	case "sqlite":
		return OpenSQLite(cfg.Database.SQLite.Path, log)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

// MemoryStore keeps checkpoints in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	s.data[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Close() error { return nil }
