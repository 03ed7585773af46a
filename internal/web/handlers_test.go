package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livingworld/server/internal/config"
	"livingworld/server/internal/content"
	"livingworld/server/internal/dialogue"
	"livingworld/server/internal/engine"
	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/logging"
	"livingworld/server/internal/models"
	"livingworld/server/internal/narrative"
	"livingworld/server/internal/spatial"
	"livingworld/server/internal/world"
)

type testEnv struct {
	store *world.Store
	mem   *narrative.Memory
	orch  *engine.Orchestrator
	hub   *Hub
	http  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.Default()
	log := logging.Discard()

	store := world.NewStore(world.Options{EventRetention: 100, LivenessTimeout: time.Minute}, log)
	mem := narrative.New(narrative.Options{}, log)
	mem.SeedDefaults()
	hub := NewHub(log)
	router := dialogue.NewRouter(store, mem, nil, nil, dialogue.Options{}, log)
	opts := engine.OptionsFromConfig(cfg.World)
	orch := engine.NewOrchestrator(store, mem, content.NewProcedural(), router, hub, opts, log)
	orch.SeedSpawn()
	orch.Start(ctx)
	go hub.Run(ctx)

	srv := NewServer(ctx, cfg, store, mem, orch, hub, log)
	ts := httptest.NewServer(NewRouter(srv))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		orch.Wait()
	})
	return &testEnv{store: store, mem: mem, orch: orch, hub: hub, http: ts}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	if err := conn.WriteJSON(outbound{Type: msgType, Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

// readUntil skips messages until one of the wanted type arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if env.Type == msgType {
			return env.Payload
		}
	}
}

func readError(t *testing.T, conn *websocket.Conn) ErrorPayload {
	t.Helper()
	var p ErrorPayload
	if err := json.Unmarshal(readUntil(t, conn, interfaces.MsgError), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestWebsocketProtocol(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, interfaces.MsgPosition, PositionPayload{})
	if e := readError(t, conn); e.Code != CodeNotJoined {
		t.Fatalf("code = %s", e.Code)
	}

	send(t, conn, interfaces.MsgJoin, JoinPayload{PlayerID: "p1", Name: "Ada"})
	var welcome WelcomePayload
	if err := json.Unmarshal(readUntil(t, conn, interfaces.MsgWelcome), &welcome); err != nil {
		t.Fatal(err)
	}
	if welcome.Player.ID != "p1" || welcome.SessionID == "" || len(welcome.World.Cells) == 0 {
		t.Fatalf("welcome = %+v", welcome)
	}
	if welcome.Player.Position != (spatial.Vec3{X: 50, Z: 50}) {
		t.Fatalf("spawn position = %+v", welcome.Player.Position)
	}

	send(t, conn, interfaces.MsgRequestCell, RequestCellPayload{CellID: "0,0"})
	var cell struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(readUntil(t, conn, interfaces.MsgCellReady), &cell); err != nil {
		t.Fatal(err)
	}
	if cell.ID != "0,0" || cell.Status != "ready" {
		t.Fatalf("cell = %+v", cell)
	}

	send(t, conn, interfaces.MsgRequestCell, RequestCellPayload{CellID: "north"})
	if e := readError(t, conn); e.Code != CodeInvalidCellID {
		t.Fatalf("code = %s", e.Code)
	}

	send(t, conn, "dance", nil)
	if e := readError(t, conn); e.Code != CodeUnknownType {
		t.Fatalf("code = %s", e.Code)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if e := readError(t, conn); e.Code != CodeBadRequest {
		t.Fatalf("code = %s", e.Code)
	}

	// the session survives malformed input
	send(t, conn, interfaces.MsgJoin, JoinPayload{PlayerID: "p1"})
	if e := readError(t, conn); e.Code != CodeBadRequest {
		t.Fatalf("code = %s", e.Code)
	}
}

func TestWebsocketRejectsPositionsOutsideWorld(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, interfaces.MsgJoin, JoinPayload{PlayerID: "p1", Name: "Ada", Position: &spatial.Vec3{X: 1e300}})
	if e := readError(t, conn); e.Code != CodeOutOfRange {
		t.Fatalf("join code = %s", e.Code)
	}
	if _, err := env.store.GetPlayer("p1"); err == nil {
		t.Fatal("player stored at an out of bounds position")
	}

	// the session can still join normally afterwards
	send(t, conn, interfaces.MsgJoin, JoinPayload{PlayerID: "p1", Name: "Ada"})
	readUntil(t, conn, interfaces.MsgWelcome)

	send(t, conn, interfaces.MsgPosition, PositionPayload{Position: spatial.Vec3{X: 1e300, Z: 10}})
	if e := readError(t, conn); e.Code != CodeOutOfRange {
		t.Fatalf("position code = %s", e.Code)
	}
	if p, _ := env.store.GetPlayer("p1"); p.Position != (spatial.Vec3{X: 50, Z: 50}) {
		t.Fatalf("player moved to %+v", p.Position)
	}

	send(t, conn, interfaces.MsgRequestCell, RequestCellPayload{CellID: "4294967296,0"})
	if e := readError(t, conn); e.Code != CodeOutOfRange {
		t.Fatalf("request_cell code = %s", e.Code)
	}
}

func TestWebsocketTalk(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, interfaces.MsgJoin, JoinPayload{PlayerID: "p1", Name: "Ada", Position: &spatial.Vec3{X: 47, Z: 52}})
	readUntil(t, conn, interfaces.MsgWelcome)

	send(t, conn, interfaces.MsgTalk, TalkPayload{NPCID: "npc_spawn_merchant", Message: "Hello!"})
	var speech engine.NPCSpeech
	if err := json.Unmarshal(readUntil(t, conn, interfaces.MsgNPCSpeak), &speech); err != nil {
		t.Fatal(err)
	}
	if speech.NPCID != "npc_spawn_merchant" || speech.Text == "" {
		t.Fatalf("speech = %+v", speech)
	}

	send(t, conn, interfaces.MsgTalk, TalkPayload{NPCID: "npc_spawn_guard", Message: "Hello!"})
	if e := readError(t, conn); e.Code != CodeOutOfRange {
		t.Fatalf("code = %s", e.Code)
	}
}

func TestDisconnectRemovesPlayer(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	send(t, conn, interfaces.MsgJoin, JoinPayload{PlayerID: "p9", Name: "Cy"})
	readUntil(t, conn, interfaces.MsgWelcome)

	conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := env.store.GetPlayer("p9"); err != nil && env.hub.SessionCount() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("player still present after disconnect")
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestRESTEndpoints(t *testing.T) {
	env := newTestEnv(t)
	base := env.http.URL

	if code := getJSON(t, base+"/health", nil); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}

	var e ErrorPayload
	if code := getJSON(t, base+"/api/v1/cells/abc", &e); code != http.StatusBadRequest || e.Code != CodeInvalidCellID {
		t.Fatalf("malformed cell = %d %+v", code, e)
	}

	var cell CellResponse
	if code := getJSON(t, base+"/api/v1/cells/0,0", &cell); code != http.StatusOK || !cell.Ready {
		t.Fatalf("spawn cell = %d %+v", code, cell)
	}
	if code := getJSON(t, base+"/api/v1/cells/9,-9", &cell); code != http.StatusAccepted {
		t.Fatalf("new cell = %d", code)
	}
	env.orch.Wait()
	if code := getJSON(t, base+"/api/v1/cells/9,-9", &cell); code != http.StatusOK || len(cell.Cell.POIs) == 0 {
		t.Fatalf("generated cell = %d %+v", code, cell)
	}

	if code := getJSON(t, base+"/api/v1/npcs/nobody/context?player=p1", nil); code != http.StatusNotFound {
		t.Fatalf("unknown npc = %d", code)
	}
	if code := getJSON(t, base+"/api/v1/npcs/npc_spawn_guard/context", nil); code != http.StatusBadRequest {
		t.Fatalf("missing player = %d", code)
	}
	var ctxResp struct {
		Context narrative.NPCContext `json:"context"`
	}
	if code := getJSON(t, base+"/api/v1/npcs/npc_spawn_guard/context?player=p1", &ctxResp); code != http.StatusOK || ctxResp.Context.NPCID != "npc_spawn_guard" {
		t.Fatalf("npc context = %d %+v", code, ctxResp)
	}
	if _, ok := env.mem.LookupProfile("p1"); ok {
		t.Fatal("context lookup created a player profile")
	}

	if code := getJSON(t, base+"/api/v1/world/snapshot?events=-1", nil); code != http.StatusBadRequest {
		t.Fatalf("bad snapshot query = %d", code)
	}
	var snap world.Snapshot
	if code := getJSON(t, base+"/api/v1/world/snapshot", &snap); code != http.StatusOK || len(snap.NPCs) < 2 {
		t.Fatalf("snapshot = %d npcs=%d", code, len(snap.NPCs))
	}

	var stats StatsResponse
	if code := getJSON(t, base+"/api/v1/stats", &stats); code != http.StatusOK || stats.Engine.Generated != 1 {
		t.Fatalf("stats = %d %+v", code, stats)
	}
}

type fakeArchive struct {
	player string
	limit  int
}

func (a *fakeArchive) ArchivedEvents(_ context.Context, playerID string, limit int) ([]models.WorldEvent, error) {
	a.player, a.limit = playerID, limit
	return []models.WorldEvent{{ID: "old", Type: models.EventDiscovery, PlayerID: playerID}}, nil
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	base := env.http.URL
	env.orch.HandleJoin("p1", "Ada", spatial.Vec3{X: 50, Z: 50})
	env.orch.HandleJoin("p2", "Bo", spatial.Vec3{X: 50, Z: 50})

	var resp EventsResponse
	if code := getJSON(t, base+"/api/v1/events?player=p1", &resp); code != http.StatusOK {
		t.Fatalf("events = %d", code)
	}
	if resp.Source != "memory" || len(resp.Events) != 1 || resp.Events[0].PlayerID != "p1" || resp.Events[0].Type != models.EventPlayerJoin {
		t.Fatalf("p1 events = %+v", resp)
	}
	if code := getJSON(t, base+"/api/v1/events?limit=1", &resp); code != http.StatusOK || len(resp.Events) != 1 || resp.Events[0].PlayerID != "p2" {
		t.Fatalf("newest event = %d %+v", code, resp)
	}
	if code := getJSON(t, base+"/api/v1/events?limit=0", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", code)
	}
}

func TestEventsEndpointReadsArchive(t *testing.T) {
	archive := &fakeArchive{}
	srv := NewServer(context.Background(), config.Default(), world.NewStore(world.Options{}, logging.Discard()), nil, nil, NewHub(logging.Discard()), logging.Discard())
	srv.SetArchive(archive)
	ts := httptest.NewServer(NewRouter(srv))
	defer ts.Close()

	var resp EventsResponse
	if code := getJSON(t, ts.URL+"/api/v1/events?player=p7&limit=5", &resp); code != http.StatusOK {
		t.Fatalf("events = %d", code)
	}
	if resp.Source != "archive" || len(resp.Events) != 1 || resp.Events[0].ID != "old" {
		t.Fatalf("events = %+v", resp)
	}
	if archive.player != "p7" || archive.limit != 5 {
		t.Fatalf("archive queried with %q %d", archive.player, archive.limit)
	}
}
