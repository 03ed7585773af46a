package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	_ "modernc.org/sqlite"

	"livingworld/server/internal/models"
)

const (
	archiveBuffer = 4096
	commitEvery   = 200
	commitMaxWait = time.Second
)

// SQLiteIndex stores checkpoints and archives world events in a single SQLite
// file. Event writes are queued and committed in batches by one writer goroutine.
type SQLiteIndex struct {
	db  *sql.DB
	log logrus.FieldLogger

	ch     chan archiveReq
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool

	archived atomic.Int64
	dropped  atomic.Int64
}

type archiveReq struct {
	event models.WorldEvent
	// flush is closed by the writer after everything queued before it is committed
	flush chan struct{}
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string, log logrus.FieldLogger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: log.WithField("component", "sqlite"),
		ch:  make(chan archiveReq, archiveBuffer),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			size INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			ts TEXT NOT NULL,
			player_id TEXT,
			npc_id TEXT,
			cell_id TEXT,
			payload TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS events_ts ON events(ts);`,
		`CREATE INDEX IF NOT EXISTS events_player ON events(player_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints(key,data,size,updated_at) VALUES(?,?,?,?)`,
		key, data, len(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteIndex) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM checkpoints WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", key, err)
	}
	return data, nil
}

// Archive queues an event for the events table. It never blocks; events are
// dropped when the writer falls behind.
func (s *SQLiteIndex) Archive(e models.WorldEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- archiveReq{event: e}:
	default:
		s.dropped.Inc()
	}
}

// Flush blocks until every event queued so far is committed
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.ch <- archiveReq{flush: done}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ArchivedEvents returns up to limit archived events, newest first. An
// empty playerID matches every event.
func (s *SQLiteIndex) ArchivedEvents(ctx context.Context, playerID string, limit int) ([]models.WorldEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,type,ts,player_id,npc_id,cell_id,payload FROM events`
	args := []interface{}{}
	if playerID != "" {
		query += ` WHERE player_id = ?`
		args = append(args, playerID)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WorldEvent
	for rows.Next() {
		var (
			e                      models.WorldEvent
			typ, ts                string
			player, npc, cell, raw sql.NullString
		)
		if err := rows.Scan(&e.ID, &typ, &ts, &player, &npc, &cell, &raw); err != nil {
			return nil, err
		}
		e.Type = models.EventType(typ)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.PlayerID, e.NPCID, e.CellID = player.String, npc.String, cell.String
		if raw.Valid && raw.String != "" {
			_ = json.Unmarshal([]byte(raw.String), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats returns archive counters
func (s *SQLiteIndex) Stats() (archived, dropped int64) {
	return s.archived.Load(), s.dropped.Load()
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO events(id,type,ts,player_id,npc_id,cell_id,payload) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.WithError(err).Error("failed to prepare event insert, archive disabled")
		for r := range s.ch {
			if r.flush != nil {
				close(r.flush)
			}
		}
		return
	}
	defer insert.Close()

	var (
		tx         *sql.Tx
		pending    int
		lastCommit = time.Now()
	)
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.WithError(err).Warn("event archive commit failed")
		} else {
			s.archived.Add(int64(pending))
		}
		tx = nil
		pending = 0
		lastCommit = time.Now()
	}
	defer commit()

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r archiveReq
		select {
		case <-ticker.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case req, ok := <-s.ch:
			if !ok {
				return
			}
			r = req
		}

		if r.flush != nil {
			commit()
			close(r.flush)
			continue
		}
		if tx == nil {
			txx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				s.log.WithError(err).Warn("event archive begin failed")
				s.dropped.Inc()
				continue
			}
			tx = txx
		}

		e := r.event
		var payload []byte
		if len(e.Payload) > 0 {
			payload, _ = json.Marshal(e.Payload)
		}
		if _, err := tx.Stmt(insert).Exec(
			e.ID,
			string(e.Type),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.PlayerID,
			e.NPCID,
			e.CellID,
			string(payload),
		); err != nil {
			s.log.WithError(err).WithField("event", e.ID).Warn("event archive insert failed")
			_ = tx.Rollback()
			s.dropped.Add(int64(pending + 1))
			tx = nil
			pending = 0
			continue
		}
		pending++

		if pending >= commitEvery {
			commit()
		}
	}
}
