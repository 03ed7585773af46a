package web

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"livingworld/server/internal/engine"
	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/spatial"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 256
)

// Session is one websocket connection. A session joins as exactly one player.
type Session struct {
	ID     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	log    logrus.FieldLogger

	mu       sync.Mutex
	closed   bool
	playerID string
}

func newSession(conn *websocket.Conn, srv *Server) *Session {
	id := uuid.NewString()
	return &Session{
		ID:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: srv,
		log:    srv.log.WithField("session", id),
	}
}

// enqueue queues raw data without blocking. It returns false when the
// buffer is full or the session is closed.
func (s *Session) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *Session) player() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

func (s *Session) reply(msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal reply")
		return
	}
	if !s.enqueue(data) {
		s.log.WithField("type", msgType).Warn("reply dropped")
	}
}

func (s *Session) replyError(code, message string) {
	s.reply(interfaces.MsgError, ErrorPayload{Code: code, Message: message})
}

// writePump pumps queued messages to the connection and keeps it alive with pings
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client frames until the connection drops, then removes the
// session and, when it was the player's last one, the player.
func (s *Session) readPump(ctx context.Context) {
	defer func() {
		playerID := s.player()
		if remaining := s.server.hub.unregister(s, playerID); remaining == 0 && playerID != "" {
			s.server.orch.HandleLeave(playerID)
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Warn("unexpected close")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(ctx, data)
	}
}

// handle dispatches one client frame. Malformed frames get an error reply and
// never close the session.
func (s *Session) handle(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		s.replyError(CodeBadRequest, "message must be a JSON object with a type")
		return
	}

	if env.Type == interfaces.MsgJoin {
		s.handleJoin(env.Payload)
		return
	}

	playerID := s.player()
	switch env.Type {
	case interfaces.MsgPosition, interfaces.MsgInteract, interfaces.MsgTalk, interfaces.MsgRequestCell:
		if playerID == "" {
			s.replyError(CodeNotJoined, "send join first")
			return
		}
	default:
		s.replyError(CodeUnknownType, "unknown message type "+env.Type)
		return
	}

	orch := s.server.orch
	switch env.Type {
	case interfaces.MsgPosition:
		var p PositionPayload
		if !s.decode(env.Payload, &p) {
			return
		}
		if _, err := orch.HandlePosition(ctx, playerID, "", p.Position, p.Rotation, p.Velocity); err != nil {
			s.replyError(CodeOutOfRange, err.Error())
		}

	case interfaces.MsgInteract:
		var p InteractPayload
		if !s.decode(env.Payload, &p) {
			return
		}
		s.interact(ctx, engine.Interaction{PlayerID: playerID, TargetID: p.TargetID, Action: p.Action, Message: p.Message})

	case interfaces.MsgTalk:
		var p TalkPayload
		if !s.decode(env.Payload, &p) {
			return
		}
		s.interact(ctx, engine.Interaction{PlayerID: playerID, TargetID: p.NPCID, Action: "talk", Message: p.Message})

	case interfaces.MsgRequestCell:
		var p RequestCellPayload
		if !s.decode(env.Payload, &p) {
			return
		}
		cell, ready, err := orch.RequestCell(ctx, playerID, p.CellID)
		if errors.Is(err, spatial.ErrOutOfBounds) {
			s.replyError(CodeOutOfRange, err.Error())
			return
		}
		if err != nil {
			s.replyError(CodeInvalidCellID, err.Error())
			return
		}
		if ready {
			s.reply(interfaces.MsgCellReady, cell)
		}
	}
}

func (s *Session) decode(raw json.RawMessage, out interface{}) bool {
	if len(raw) == 0 {
		s.replyError(CodeBadRequest, "missing payload")
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.replyError(CodeBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Session) interact(ctx context.Context, in engine.Interaction) {
	if in.TargetID == "" {
		s.replyError(CodeBadRequest, "targetId is required")
		return
	}
	if err := s.server.orch.HandleInteraction(ctx, in); err != nil {
		if errors.Is(err, engine.ErrOutOfRange) {
			s.replyError(CodeOutOfRange, err.Error())
			return
		}
		s.replyError(CodeBadRequest, err.Error())
	}
}

func (s *Session) handleJoin(raw json.RawMessage) {
	var p JoinPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			s.replyError(CodeBadRequest, err.Error())
			return
		}
	}

	pos := spawnPosition(s.server.cellSize)
	if p.Position != nil {
		pos = *p.Position
	}
	if err := spatial.CheckPosition(pos, s.server.cellSize); err != nil {
		s.replyError(CodeOutOfRange, err.Error())
		return
	}

	s.mu.Lock()
	if s.playerID != "" {
		s.mu.Unlock()
		s.replyError(CodeBadRequest, "session already joined")
		return
	}
	if p.PlayerID == "" {
		p.PlayerID = uuid.NewString()
	}
	s.playerID = p.PlayerID
	s.mu.Unlock()

	if p.Name == "" {
		p.Name = "Traveller"
	}

	s.server.hub.bind(s, p.PlayerID)
	player, err := s.server.orch.HandleJoin(p.PlayerID, p.Name, pos)
	if err != nil {
		s.replyError(CodeOutOfRange, err.Error())
		return
	}
	s.reply(interfaces.MsgWelcome, WelcomePayload{
		SessionID: s.ID,
		Player:    player,
		World:     s.server.store.Snapshot(time.Now(), s.server.snapshotEvents),
	})
	s.log.WithField("player", p.PlayerID).Info("player joined")
}

// spawnPosition is the centre of the spawn cell
func spawnPosition(cellSize float64) spatial.Vec3 {
	x, z, size := spatial.Bounds(engine.SpawnCell, cellSize)
	return spatial.Vec3{X: x + size/2, Z: z + size/2}
}
