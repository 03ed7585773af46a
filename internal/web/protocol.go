package web

import (
	"encoding/json"

	"livingworld/server/internal/models"
	"livingworld/server/internal/spatial"
	"livingworld/server/internal/world"
)

// Error codes sent in error payloads
const (
	CodeBadRequest    = "bad_request"
	CodeUnknownType   = "unknown_type"
	CodeInvalidCellID = "invalid_cell_id"
	CodeOutOfRange    = "out_of_range"
	CodeNotJoined     = "not_joined"
)

// Envelope is the frame of every websocket message
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type JoinPayload struct {
	PlayerID string        `json:"playerId"`
	Name     string        `json:"name"`
	Position *spatial.Vec3 `json:"position,omitempty"`
}

type PositionPayload struct {
	Position spatial.Vec3 `json:"position"`
	Rotation float64      `json:"rotation"`
	Velocity spatial.Vec3 `json:"velocity"`
}

type InteractPayload struct {
	TargetID string `json:"targetId"`
	Action   string `json:"action"`
	Message  string `json:"message,omitempty"`
}

type TalkPayload struct {
	NPCID   string `json:"npcId"`
	Message string `json:"message"`
}

type RequestCellPayload struct {
	CellID string `json:"cellId"`
}

// WelcomePayload is sent once a session has joined
type WelcomePayload struct {
	SessionID string         `json:"sessionId"`
	Player    models.Player  `json:"player"`
	World     world.Snapshot `json:"world"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(outbound{Type: msgType, Payload: payload})
}
