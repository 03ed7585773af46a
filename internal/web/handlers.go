package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"livingworld/server/internal/config"
	"livingworld/server/internal/engine"
	"livingworld/server/internal/models"
	"livingworld/server/internal/narrative"
	"livingworld/server/internal/world"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // no authentication, any origin may connect
	},
}

// Server owns the HTTP and websocket surface
type Server struct {
	store  *world.Store
	memory *narrative.Memory
	orch   *engine.Orchestrator
	hub    *Hub
	log    logrus.FieldLogger

	// archive answers /events beyond the in-memory log when set
	archive EventArchive

	// ctx scopes work started by websocket sessions
	ctx            context.Context
	cellSize       float64
	snapshotEvents int
}

// NewServer wires the transport to the core. ctx bounds session handling.
func NewServer(ctx context.Context, cfg *config.Config, store *world.Store, memory *narrative.Memory, orch *engine.Orchestrator, hub *Hub, log logrus.FieldLogger) *Server {
	return &Server{
		store:          store,
		memory:         memory,
		orch:           orch,
		hub:            hub,
		log:            log.WithField("component", "web"),
		ctx:            ctx,
		cellSize:       cfg.World.CellSize,
		snapshotEvents: cfg.World.SnapshotEvents,
	}
}

// EventArchive is a durable event history (storage.SQLiteIndex)
type EventArchive interface {
	ArchivedEvents(ctx context.Context, playerID string, limit int) ([]models.WorldEvent, error)
}

// SetArchive makes /api/v1/events read from a durable archive
func (s *Server) SetArchive(a EventArchive) {
	s.archive = a
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"service":  "livingworld",
		"sessions": s.hub.SessionCount(),
	})
}

// ServeWS upgrades the connection and starts the session pumps
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	session := newSession(conn, s)
	s.hub.register(session)
	go session.writePump()
	go session.readPump(s.ctx)
}

// corsMiddleware allows any origin
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("request")
		})
	}
}

// NewRouter builds the chi router for the server
func NewRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(requestLogger(s.log))
	r.Use(corsMiddleware)

	r.Get("/health", s.HealthCheck)
	r.Get("/ws", s.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cells/{cellID}", s.GetCell)
		r.Get("/world/snapshot", s.GetSnapshot)
		r.Get("/npcs/{npcID}/context", s.GetNPCContext)
		r.Get("/events", s.GetEvents)
		r.Get("/stats", s.GetStats)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorPayload{Code: code, Message: message})
}
