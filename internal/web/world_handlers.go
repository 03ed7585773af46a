package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"livingworld/server/internal/engine"
	"livingworld/server/internal/models"
	"livingworld/server/internal/narrative"
	"livingworld/server/internal/spatial"
	"livingworld/server/internal/world"
)

// CellResponse is returned by GET /api/v1/cells/{cellID}
type CellResponse struct {
	Cell  models.Cell `json:"cell"`
	Ready bool        `json:"ready"`
}

// StatsResponse is returned by GET /api/v1/stats
type StatsResponse struct {
	World  world.Stats  `json:"world"`
	Engine engine.Stats `json:"engine"`
	Hub    HubStats     `json:"hub"`
}

// EventsResponse is returned by GET /api/v1/events
type EventsResponse struct {
	Source string              `json:"source"`
	Events []models.WorldEvent `json:"events"`
}

// GetCell returns a ready cell, or schedules generation and answers 202
func (s *Server) GetCell(w http.ResponseWriter, r *http.Request) {
	cellID := chi.URLParam(r, "cellID")
	cell, ready, err := s.orch.RequestCell(r.Context(), r.URL.Query().Get("player"), cellID)
	if err != nil {
		if errors.Is(err, spatial.ErrMalformedCellID) {
			writeError(w, http.StatusBadRequest, CodeInvalidCellID, err.Error())
			return
		}
		if errors.Is(err, spatial.ErrOutOfBounds) {
			writeError(w, http.StatusBadRequest, CodeOutOfRange, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, CodeBadRequest, err.Error())
		return
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusAccepted
	}
	writeJSON(w, status, CellResponse{Cell: cell, Ready: ready})
}

// GetSnapshot returns a copy of the world with the latest events
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	k := s.snapshotEvents
	if v := r.URL.Query().Get("events"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "events must be a non-negative integer")
			return
		}
		k = n
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot(time.Now(), k))
}

// GetNPCContext returns what the NPC knows about a player
func (s *Server) GetNPCContext(w http.ResponseWriter, r *http.Request) {
	npcID := chi.URLParam(r, "npcID")
	if _, err := s.store.GetNPC(npcID); err != nil {
		writeError(w, http.StatusNotFound, CodeBadRequest, err.Error())
		return
	}
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "player query parameter is required")
		return
	}

	resp := struct {
		Context narrative.NPCContext `json:"context"`
		Profile *narrative.Profile   `json:"profile,omitempty"`
	}{
		Context: s.memory.NPCContext(npcID, playerID),
	}
	if p, ok := s.memory.LookupProfile(playerID); ok {
		resp.Profile = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEvents lists events newest first, optionally for one player. The
// durable archive is used when configured, the in-memory log otherwise.
func (s *Server) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	playerID := q.Get("player")

	if s.archive != nil {
		events, err := s.archive.ArchivedEvents(r.Context(), playerID, limit)
		if err != nil {
			s.log.WithError(err).Warn("event archive query failed")
			writeError(w, http.StatusInternalServerError, CodeBadRequest, "event archive unavailable")
			return
		}
		writeJSON(w, http.StatusOK, EventsResponse{Source: "archive", Events: events})
		return
	}

	recent := s.store.RecentEvents(0)
	events := make([]models.WorldEvent, 0, limit)
	for i := len(recent) - 1; i >= 0 && len(events) < limit; i-- {
		if playerID == "" || recent[i].PlayerID == playerID {
			events = append(events, recent[i])
		}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Source: "memory", Events: events})
}

func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		World:  s.store.Stats(),
		Engine: s.orch.Stats(),
		Hub:    s.hub.Stats(),
	})
}
