package world

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"livingworld/server/internal/logging"
	"livingworld/server/internal/models"
	"livingworld/server/internal/spatial"
)

func newTestStore(retention int) *Store {
	return NewStore(Options{EventRetention: retention, LivenessTimeout: 60 * time.Second}, logging.Discard())
}

func TestAppendEventEvictsOldestFirst(t *testing.T) {
	s := newTestStore(5)
	for i := 1; i <= 7; i++ {
		s.AppendEvent(models.WorldEvent{ID: fmt.Sprintf("E%d", i), Type: models.EventWorldChange})
	}
	var got []string
	for _, e := range s.RecentEvents(0) {
		got = append(got, e.ID)
	}
	want := []string{"E3", "E4", "E5", "E6", "E7"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	got = got[:0]
	for _, e := range s.RecentEvents(2) {
		got = append(got, e.ID)
	}
	if !reflect.DeepEqual(got, []string{"E6", "E7"}) {
		t.Fatalf("RecentEvents(2) = %v", got)
	}
}

func TestAppendEventFillsIDAndTimestamp(t *testing.T) {
	s := newTestStore(5)
	e := s.AppendEvent(models.WorldEvent{Type: models.EventPlayerJoin})
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("event not filled: %+v", e)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.WorldEvent
}

func (r *recordingSink) Archive(e models.WorldEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func TestEventSinkSeesEvictedEvents(t *testing.T) {
	s := newTestStore(2)
	sink := &recordingSink{}
	s.SetEventSink(sink)
	for i := 0; i < 4; i++ {
		s.AppendEvent(models.WorldEvent{Type: models.EventWorldChange})
	}
	if len(sink.events) != 4 {
		t.Fatalf("sink got %d events", len(sink.events))
	}
	if len(s.RecentEvents(0)) != 2 {
		t.Fatalf("store retained %d", len(s.RecentEvents(0)))
	}
}

func TestActivePlayersFiltersStale(t *testing.T) {
	s := newTestStore(10)
	now := time.Now()
	s.UpsertPlayer(models.Player{ID: "fresh", LastUpdate: now.Add(-10 * time.Second)})
	s.UpsertPlayer(models.Player{ID: "ghost", LastUpdate: now.Add(-2 * time.Minute)})

	active := s.ActivePlayers(now)
	if len(active) != 1 || active[0].ID != "fresh" {
		t.Fatalf("active = %+v", active)
	}
	// stale record still exists
	if _, err := s.GetPlayer("ghost"); err != nil {
		t.Fatalf("ghost removed: %v", err)
	}
	snap := s.Snapshot(now, 0)
	if len(snap.Players) != 1 {
		t.Fatalf("snapshot players = %d", len(snap.Players))
	}
}

func TestRemovePlayer(t *testing.T) {
	s := newTestStore(10)
	s.UpsertPlayer(models.Player{ID: "p1"})
	if !s.RemovePlayer("p1") {
		t.Fatalf("RemovePlayer returned false")
	}
	if s.RemovePlayer("p1") {
		t.Fatalf("second RemovePlayer returned true")
	}
	if _, err := s.GetPlayer("p1"); !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpsertCellCreatesPendingWithBiome(t *testing.T) {
	s := newTestStore(10)
	id := spatial.CellID{X: 3, Z: -2}
	c := s.UpsertCell(id, CellUpdate{})
	if c.Status != models.CellPending {
		t.Fatalf("status = %s", c.Status)
	}
	if c.Biome != spatial.BiomeOf(id) {
		t.Fatalf("biome = %s", c.Biome)
	}
	if c.ID != "3,-2" || c.X != 3 || c.Z != -2 {
		t.Fatalf("cell = %+v", c)
	}

	c = s.UpsertCell(id, WithStatus(models.CellGenerating))
	if c.Status != models.CellGenerating || c.Biome != spatial.BiomeOf(id) {
		t.Fatalf("merge lost fields: %+v", c)
	}
}

func TestEnsureCellsOnlyCreatesAbsent(t *testing.T) {
	s := newTestStore(10)
	s.UpsertCell(spatial.CellID{}, WithStatus(models.CellReady))

	created := s.EnsureCells(spatial.CellsInRadius(spatial.CellID{}, 1))
	if len(created) != 8 {
		t.Fatalf("created %d cells: %v", len(created), created)
	}
	c, _ := s.GetCell("0,0")
	if c.Status != models.CellReady {
		t.Fatalf("existing cell overwritten: %s", c.Status)
	}
	if again := s.EnsureCells(spatial.CellsInRadius(spatial.CellID{}, 1)); len(again) != 0 {
		t.Fatalf("second ensure created %v", again)
	}
}

func TestCommitCellKeepsLiveNPCState(t *testing.T) {
	s := newTestStore(10)
	id := spatial.CellID{X: 1, Z: 1}
	npc := models.NPC{ID: "npc_1_1_0", Name: "Ada", CurrentAction: models.ActionIdle}
	s.CommitCell(id, []models.POI{{ID: "poi_1_1_0"}}, []models.NPC{npc}, models.SourceProcedural, time.Now())

	if _, err := s.UpdateNPC(npc.ID, func(n *models.NPC) { n.CurrentAction = models.ActionTalking }); err != nil {
		t.Fatal(err)
	}
	c := s.CommitCell(id, []models.POI{{ID: "poi_1_1_0"}}, []models.NPC{npc}, models.SourceProcedural, time.Now())
	if c.Status != models.CellReady || c.GeneratedAt == nil {
		t.Fatalf("cell = %+v", c)
	}
	if c.POIs[0].CellID != "1,1" {
		t.Fatalf("poi cell id = %q", c.POIs[0].CellID)
	}
	got, _ := s.GetNPC(npc.ID)
	if got.CurrentAction != models.ActionTalking {
		t.Fatalf("commit clobbered npc state: %+v", got)
	}
	if n := len(s.NPCsInCell("1,1")); n != 1 {
		t.Fatalf("npcs in cell = %d", n)
	}
}

func TestDiscoverPOIIsMonotonic(t *testing.T) {
	s := newTestStore(10)
	id := spatial.CellID{}
	s.CommitCell(id, []models.POI{{ID: "poi_0_0_0"}}, nil, models.SourceSpawn, time.Now())

	t0 := time.Unix(100, 0)
	p, changed, err := s.DiscoverPOI("0,0", "poi_0_0_0", "alice", t0)
	if err != nil || !changed || !p.Discovered || p.DiscoveredBy != "alice" {
		t.Fatalf("first discover: %+v %v %v", p, changed, err)
	}
	p, changed, err = s.DiscoverPOI("0,0", "poi_0_0_0", "bob", time.Unix(200, 0))
	if err != nil || changed || p.DiscoveredBy != "alice" || !p.DiscoveredAt.Equal(t0) {
		t.Fatalf("second discover changed state: %+v %v %v", p, changed, err)
	}
	if _, _, err := s.DiscoverPOI("0,0", "missing", "bob", t0); !errors.Is(err, ErrPOINotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSnapshotIsValueCopy(t *testing.T) {
	s := newTestStore(10)
	s.CommitCell(spatial.CellID{}, []models.POI{{ID: "a", Name: "Well"}}, nil, models.SourceSpawn, time.Now())
	s.AppendEvent(models.WorldEvent{Type: models.EventWorldChange, Payload: map[string]interface{}{"k": "v"}})

	snap := s.Snapshot(time.Now(), 10)
	snap.Cells[0].POIs[0].Name = "changed"
	snap.Events[0].Payload["k"] = "changed"

	c, _ := s.GetCell("0,0")
	if c.POIs[0].Name != "Well" {
		t.Fatalf("snapshot aliases cell storage")
	}
	if s.RecentEvents(1)[0].Payload["k"] != "v" {
		t.Fatalf("snapshot aliases event payload")
	}
}

func TestRestoreTurnsGeneratingIntoPending(t *testing.T) {
	src := newTestStore(10)
	src.UpsertCell(spatial.CellID{X: 2}, WithStatus(models.CellGenerating))
	src.CommitCell(spatial.CellID{}, []models.POI{{ID: "p"}}, []models.NPC{{ID: "n"}}, models.SourceSpawn, time.Now())
	src.AppendEvent(models.WorldEvent{Type: models.EventChunkGenerated})
	exported := src.Export(time.Now())

	dst := newTestStore(10)
	dst.Restore(exported)
	c, ok := dst.GetCell("2,0")
	if !ok || c.Status != models.CellPending {
		t.Fatalf("restored cell = %+v", c)
	}
	if c, _ := dst.GetCell("0,0"); c.Status != models.CellReady {
		t.Fatalf("ready cell lost: %+v", c)
	}
	if _, err := dst.GetNPC("n"); err != nil {
		t.Fatalf("npc lost: %v", err)
	}
	if len(dst.RecentEvents(0)) != 1 {
		t.Fatalf("events lost")
	}
}

func TestConcurrentWritersAreSerialised(t *testing.T) {
	s := newTestStore(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := spatial.CellID{X: i % 5}
			s.UpsertCell(id, WithStatus(models.CellGenerating))
			s.AppendEvent(models.WorldEvent{Type: models.EventWorldChange})
			s.UpsertPlayer(models.Player{ID: fmt.Sprint(i), LastUpdate: time.Now()})
			_ = s.Snapshot(time.Now(), 5)
		}(i)
	}
	wg.Wait()
	if st := s.Stats(); st.Cells != 5 || st.Players != 20 || st.Events != 20 {
		t.Fatalf("stats = %+v", st)
	}
}
