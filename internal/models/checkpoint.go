package models

import (
	"time"
)

// Checkpoint is one persisted blob of serialized state (narrative memory or world snapshot)
type Checkpoint struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Data      string    `gorm:"type:longtext" json:"-"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name regardless of gorm naming strategy
func (Checkpoint) TableName() string {
	return "checkpoints"
}

// WorldSnapshot is the persisted form of the world store. Players are not
// persisted: they reconnect and re-register.
type WorldSnapshot struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"saved_at"`
	Cells   []Cell       `json:"cells"`
	NPCs    []NPC        `json:"npcs"`
	Events  []WorldEvent `json:"events"`
}
