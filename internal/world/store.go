package world

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"livingworld/server/internal/models"
	"livingworld/server/internal/spatial"
)

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrNPCNotFound    = errors.New("npc not found")
	ErrCellNotFound   = errors.New("cell not found")
	ErrPOINotFound    = errors.New("poi not found")
)

// EventSink receives a copy of every appended event, outside the store lock.
type EventSink interface {
	Archive(event models.WorldEvent)
}

// Options are the store tunables taken from the world config section
type Options struct {
	EventRetention  int
	LivenessTimeout time.Duration
}

// CellUpdate is a partial cell write. Nil fields are left untouched.
type CellUpdate struct {
	Status      *models.CellStatus
	NPCIDs      []string
	POIs        []models.POI
	Source      *models.ContentSource
	GeneratedAt *time.Time
	LastError   *string
}

// WithStatus is shorthand for a status-only update
func WithStatus(s models.CellStatus) CellUpdate {
	return CellUpdate{Status: &s}
}

// Snapshot is a value copy of the world used as generation context
type Snapshot struct {
	Players []models.Player     `json:"players"`
	NPCs    []models.NPC        `json:"npcs"`
	Cells   []models.Cell       `json:"cells"`
	Events  []models.WorldEvent `json:"events"`
}

// Stats is a cheap summary of store sizes
type Stats struct {
	Players     int                       `json:"players"`
	NPCs        int                       `json:"npcs"`
	Cells       int                       `json:"cells"`
	CellsByStat map[models.CellStatus]int `json:"cells_by_status"`
	Events      int                       `json:"events"`
}

// Store is the authoritative in-memory world state
type Store struct {
	opts Options
	log  logrus.FieldLogger

	mu      sync.RWMutex
	players map[string]*models.Player
	npcs    map[string]*models.NPC
	cells   map[string]*models.Cell
	events  []models.WorldEvent

	sink EventSink
}

// NewStore creates an empty world store
func NewStore(opts Options, log logrus.FieldLogger) *Store {
	if opts.EventRetention <= 0 {
		opts.EventRetention = 1000
	}
	if opts.LivenessTimeout <= 0 {
		opts.LivenessTimeout = 60 * time.Second
	}
	return &Store{
		opts:    opts,
		log:     log.WithField("component", "world"),
		players: make(map[string]*models.Player),
		npcs:    make(map[string]*models.NPC),
		cells:   make(map[string]*models.Cell),
	}
}

// SetEventSink attaches an archive for appended events
func (s *Store) SetEventSink(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// UpsertPlayer inserts or replaces a player record
func (s *Store) UpsertPlayer(p models.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.players[p.ID] = &cp
}

// RemovePlayer deletes a player. It reports whether the player existed.
func (s *Store) RemovePlayer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return false
	}
	delete(s.players, id)
	return true
}

// GetPlayer returns a copy of the player record
func (s *Store) GetPlayer(id string) (models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return models.Player{}, ErrPlayerNotFound
	}
	return *p, nil
}

// ActivePlayers returns players whose last update is within the liveness timeout, sorted by id.
func (s *Store) ActivePlayers(now time.Time) []models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePlayersLocked(now)
}

func (s *Store) activePlayersLocked(now time.Time) []models.Player {
	out := make([]models.Player, 0, len(s.players))
	for _, p := range s.players {
		if now.Sub(p.LastUpdate) < s.opts.LivenessTimeout {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertNPC inserts or replaces an NPC
func (s *Store) UpsertNPC(n models.NPC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := n
	s.npcs[n.ID] = &cp
}

// GetNPC returns a copy of the NPC
func (s *Store) GetNPC(id string) (models.NPC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.npcs[id]
	if !ok {
		return models.NPC{}, ErrNPCNotFound
	}
	return *n, nil
}

// UpdateNPC applies fn to the stored NPC under the store lock and returns the result.
func (s *Store) UpdateNPC(id string, fn func(*models.NPC)) (models.NPC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.npcs[id]
	if !ok {
		return models.NPC{}, ErrNPCNotFound
	}
	fn(n)
	n.ID = id
	return *n, nil
}

// NPCsInCell returns the NPCs whose cell is cellKey, sorted by id
func (s *Store) NPCsInCell(cellKey string) []models.NPC {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.NPC
	for _, n := range s.npcs {
		if n.CellID == cellKey {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NPCIDs returns every NPC id, sorted
func (s *Store) NPCIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.npcs))
	for id := range s.npcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) newCellLocked(id spatial.CellID) *models.Cell {
	c := &models.Cell{
		ID:     id.Key(),
		X:      id.X,
		Z:      id.Z,
		Status: models.CellPending,
		Biome:  spatial.BiomeOf(id),
		NPCIDs: []string{},
		POIs:   []models.POI{},
	}
	s.cells[c.ID] = c
	return c
}

// UpsertCell creates the cell as pending with its biome when absent, then merges u field by field.
func (s *Store) UpsertCell(id spatial.CellID, u CellUpdate) models.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[id.Key()]
	if !ok {
		c = s.newCellLocked(id)
	}
	applyCellUpdate(c, u)
	return c.Clone()
}

func applyCellUpdate(c *models.Cell, u CellUpdate) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.NPCIDs != nil {
		c.NPCIDs = append([]string(nil), u.NPCIDs...)
	}
	if u.POIs != nil {
		c.POIs = make([]models.POI, len(u.POIs))
		for i, p := range u.POIs {
			c.POIs[i] = p.Clone()
		}
	}
	if u.Source != nil {
		c.Source = *u.Source
	}
	if u.GeneratedAt != nil {
		t := *u.GeneratedAt
		c.GeneratedAt = &t
	}
	if u.LastError != nil {
		c.LastError = *u.LastError
	}
}

// GetCell returns a copy of the cell
func (s *Store) GetCell(key string) (models.Cell, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cells[key]
	if !ok {
		return models.Cell{}, false
	}
	return c.Clone(), true
}

// EnsureCells creates every absent cell as pending and returns the keys it created, in input order.
func (s *Store) EnsureCells(ids []spatial.CellID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var created []string
	for _, id := range ids {
		if _, ok := s.cells[id.Key()]; ok {
			continue
		}
		s.newCellLocked(id)
		created = append(created, id.Key())
	}
	return created
}

// CommitCell stores the NPCs and marks the cell ready in one step.
// NPCs already present keep their live state; only new ids are inserted.
func (s *Store) CommitCell(id spatial.CellID, pois []models.POI, npcs []models.NPC, source models.ContentSource, at time.Time) models.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[id.Key()]
	if !ok {
		c = s.newCellLocked(id)
	}
	ids := make([]string, 0, len(npcs))
	for _, n := range npcs {
		if _, exists := s.npcs[n.ID]; !exists {
			cp := n
			cp.CellID = c.ID
			s.npcs[n.ID] = &cp
		}
		ids = append(ids, n.ID)
	}
	for i := range pois {
		pois[i].CellID = c.ID
	}
	status := models.CellReady
	empty := ""
	applyCellUpdate(c, CellUpdate{
		Status:      &status,
		NPCIDs:      ids,
		POIs:        pois,
		Source:      &source,
		GeneratedAt: &at,
		LastError:   &empty,
	})
	return c.Clone()
}

// DiscoverPOI marks a POI discovered. The flag flips once; later calls
// return the stored POI with changed=false and never alter the discoverer.
func (s *Store) DiscoverPOI(cellKey, poiID, playerID string, at time.Time) (poi models.POI, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[cellKey]
	if !ok {
		return models.POI{}, false, ErrCellNotFound
	}
	for i := range c.POIs {
		p := &c.POIs[i]
		if p.ID != poiID {
			continue
		}
		if p.Discovered {
			return p.Clone(), false, nil
		}
		t := at
		p.Discovered = true
		p.DiscoveredBy = playerID
		p.DiscoveredAt = &t
		return p.Clone(), true, nil
	}
	return models.POI{}, false, ErrPOINotFound
}

// FindPOI looks up a POI by id across all cells
func (s *Store) FindPOI(poiID string) (models.POI, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cells {
		for _, p := range c.POIs {
			if p.ID == poiID {
				return p.Clone(), true
			}
		}
	}
	return models.POI{}, false
}

// AppendEvent appends to the log and evicts the oldest entries beyond the retention cap.
// Missing id and timestamp are filled in.
func (s *Store) AppendEvent(e models.WorldEvent) models.WorldEvent {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.events = append(s.events, e.Clone())
	if over := len(s.events) - s.opts.EventRetention; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(s.events, s.events[over:])
		for i := n; i < len(s.events); i++ {
			s.events[i] = models.WorldEvent{}
		}
		s.events = s.events[:n]
	}
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.Archive(e.Clone())
	}
	return e
}

// RecentEvents returns up to k most recent events, oldest first. k <= 0 returns all retained.
func (s *Store) RecentEvents(k int) []models.WorldEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recentEventsLocked(k)
}

func (s *Store) recentEventsLocked(k int) []models.WorldEvent {
	start := 0
	if k > 0 && len(s.events) > k {
		start = len(s.events) - k
	}
	out := make([]models.WorldEvent, 0, len(s.events)-start)
	for _, e := range s.events[start:] {
		out = append(out, e.Clone())
	}
	return out
}

// Snapshot returns a deep copy of active players, all NPCs, all cells and the k most recent events.
func (s *Store) Snapshot(now time.Time, k int) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Players: s.activePlayersLocked(now),
		NPCs:    make([]models.NPC, 0, len(s.npcs)),
		Cells:   make([]models.Cell, 0, len(s.cells)),
		Events:  s.recentEventsLocked(k),
	}
	for _, n := range s.npcs {
		snap.NPCs = append(snap.NPCs, *n)
	}
	for _, c := range s.cells {
		snap.Cells = append(snap.Cells, c.Clone())
	}
	sort.Slice(snap.NPCs, func(i, j int) bool { return snap.NPCs[i].ID < snap.NPCs[j].ID })
	sort.Slice(snap.Cells, func(i, j int) bool { return snap.Cells[i].ID < snap.Cells[j].ID })
	return snap
}

// Stats summarises store sizes
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Players:     len(s.players),
		NPCs:        len(s.npcs),
		Cells:       len(s.cells),
		CellsByStat: make(map[models.CellStatus]int),
		Events:      len(s.events),
	}
	for _, c := range s.cells {
		st.CellsByStat[c.Status]++
	}
	return st
}

// Export returns the persisted form of the store. Players are left out.
func (s *Store) Export(now time.Time) models.WorldSnapshot {
	snap := s.Snapshot(now, 0)
	return models.WorldSnapshot{
		Version: 1,
		SavedAt: now,
		Cells:   snap.Cells,
		NPCs:    snap.NPCs,
		Events:  snap.Events,
	}
}

// Restore loads cells, NPCs and events from a persisted snapshot.
// Cells saved mid-generation come back as pending since in-flight work does not survive a restart.
func (s *Store) Restore(ws models.WorldSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range ws.Cells {
		cp := c.Clone()
		if cp.Status == models.CellGenerating {
			cp.Status = models.CellPending
		}
		if cp.NPCIDs == nil {
			cp.NPCIDs = []string{}
		}
		if cp.POIs == nil {
			cp.POIs = []models.POI{}
		}
		s.cells[cp.ID] = &cp
	}
	for _, n := range ws.NPCs {
		cp := n
		s.npcs[cp.ID] = &cp
	}
	s.events = s.events[:0]
	for _, e := range ws.Events {
		s.events = append(s.events, e.Clone())
	}
	if over := len(s.events) - s.opts.EventRetention; over > 0 {
		s.events = append([]models.WorldEvent(nil), s.events[over:]...)
	}
	s.log.WithFields(logrus.Fields{
		"cells":  len(ws.Cells),
		"npcs":   len(ws.NPCs),
		"events": len(s.events),
	}).Info("world state restored")
}
