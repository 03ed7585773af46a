package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"livingworld/server/internal/models"
	"livingworld/server/internal/narrative"
	"livingworld/server/internal/world"
)

const (
	NarrativeKey = "narrative"
	WorldKey     = "world"
)

// CheckpointManager moves narrative memory and world state in and out of a Checkpointer
type CheckpointManager struct {
	cp       Checkpointer
	store    *world.Store
	memory   *narrative.Memory
	interval time.Duration
	log      logrus.FieldLogger

	saves    atomic.Int64
	failures atomic.Int64
}

func NewCheckpointManager(cp Checkpointer, store *world.Store, memory *narrative.Memory, interval time.Duration, log logrus.FieldLogger) *CheckpointManager {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CheckpointManager{
		cp:       cp,
		store:    store,
		memory:   memory,
		interval: interval,
		log:      log.WithField("component", "checkpoint"),
	}
}

// Load restores both checkpoints. Missing or corrupt data is logged and the
// affected state starts fresh; Load itself only fails on backend errors.
func (m *CheckpointManager) Load(ctx context.Context) error {
	data, err := m.cp.Load(ctx, NarrativeKey)
	switch {
	case errors.Is(err, ErrNotFound):
		m.log.Info("no narrative checkpoint, starting fresh")
	case err != nil:
		return fmt.Errorf("failed to load narrative checkpoint: %w", err)
	default:
		if err := m.memory.Restore(data); err != nil {
			m.log.WithError(err).Warn("narrative checkpoint is corrupt, starting fresh")
		}
	}

	data, err = m.cp.Load(ctx, WorldKey)
	switch {
	case errors.Is(err, ErrNotFound):
		m.log.Info("no world checkpoint, starting fresh")
	case err != nil:
		return fmt.Errorf("failed to load world checkpoint: %w", err)
	default:
		var ws models.WorldSnapshot
		if err := json.Unmarshal(data, &ws); err != nil {
			m.log.WithError(err).Warn("world checkpoint is corrupt, starting fresh")
			return nil
		}
		m.store.Restore(ws)
	}
	return nil
}

// Save writes both checkpoints
func (m *CheckpointManager) Save(ctx context.Context) error {
	narr, err := m.memory.Marshal()
	if err != nil {
		m.failures.Inc()
		return err
	}
	ws, err := json.Marshal(m.store.Export(time.Now()))
	if err != nil {
		m.failures.Inc()
		return fmt.Errorf("failed to marshal world snapshot: %w", err)
	}

	if err := m.cp.Save(ctx, NarrativeKey, narr); err != nil {
		m.failures.Inc()
		return err
	}
	if err := m.cp.Save(ctx, WorldKey, ws); err != nil {
		m.failures.Inc()
		return err
	}
	m.saves.Inc()
	m.log.WithFields(logrus.Fields{"narrative_bytes": len(narr), "world_bytes": len(ws)}).Debug("checkpoint saved")
	return nil
}

// Run saves on a fixed interval and once more when ctx is done
func (m *CheckpointManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := m.Save(saveCtx); err != nil {
				m.log.WithError(err).Error("final checkpoint failed")
			} else {
				m.log.Info("final checkpoint saved")
			}
			cancel()
			return
		case <-ticker.C:
			if err := m.Save(ctx); err != nil {
				m.log.WithError(err).Error("checkpoint failed")
			}
		}
	}
}

// Saves returns the number of successful saves
func (m *CheckpointManager) Saves() int64 {
	return m.saves.Load()
}
