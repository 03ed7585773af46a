package web

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

type delivery struct {
	playerID string // empty for broadcast
	data     []byte
}

// HubStats are delivery counters
type HubStats struct {
	Sessions int   `json:"sessions"`
	Players  int   `json:"players"`
	Sent     int64 `json:"sent"`
	Dropped  int64 `json:"dropped"`
}

// Hub fans server messages out to websocket sessions. It implements
// interfaces.Notifier; delivery is asynchronous and never blocks the caller.
type Hub struct {
	sessions map[string]*Session
	players  map[string]map[string]*Session
	outbox   chan delivery
	mu       sync.RWMutex
	log      logrus.FieldLogger

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		players:  make(map[string]map[string]*Session),
		outbox:   make(chan delivery, 1024),
		log:      log.WithField("component", "hub"),
	}
}

// Run delivers queued messages until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-h.outbox:
			h.deliver(d)
		}
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"session": s.ID, "total": n}).Info("session connected")
}

// bind attaches a session to a player so SendTo reaches it
func (h *Hub) bind(s *Session, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.players[playerID]
	if !ok {
		set = make(map[string]*Session)
		h.players[playerID] = set
	}
	set[s.ID] = s
}

// unregister removes a session and reports how many sessions its player still has
func (h *Hub) unregister(s *Session, playerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID]; !ok {
		return len(h.players[playerID])
	}
	delete(h.sessions, s.ID)
	s.closeSend()

	remaining := 0
	if set, ok := h.players[playerID]; ok {
		delete(set, s.ID)
		remaining = len(set)
		if remaining == 0 {
			delete(h.players, playerID)
		}
	}
	h.log.WithFields(logrus.Fields{"session": s.ID, "total": len(h.sessions)}).Info("session disconnected")
	return remaining
}

// Broadcast queues a message for every session
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	h.enqueue("", msgType, payload)
}

// SendTo queues a message for the sessions of one player
func (h *Hub) SendTo(playerID string, msgType string, payload interface{}) {
	if playerID == "" {
		return
	}
	h.enqueue(playerID, msgType, payload)
}

func (h *Hub) enqueue(playerID, msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.log.WithError(err).WithField("type", msgType).Error("failed to marshal message")
		return
	}
	select {
	case h.outbox <- delivery{playerID: playerID, data: data}:
	default:
		h.dropped.Inc()
		h.log.WithField("type", msgType).Warn("hub outbox full, dropping message")
	}
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.sessions
	if d.playerID != "" {
		targets = h.players[d.playerID]
	}
	for _, s := range targets {
		if s.enqueue(d.data) {
			h.sent.Inc()
		} else {
			h.dropped.Inc()
			h.log.WithField("session", s.ID).Warn("session send buffer full")
		}
	}
}

// SessionCount returns the number of connected sessions
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Sessions: len(h.sessions),
		Players:  len(h.players),
		Sent:     h.sent.Load(),
		Dropped:  h.dropped.Load(),
	}
}
