package web

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"livingworld/server/internal/logging"
)

func testSession(id string, buffer int) *Session {
	return &Session{ID: id, send: make(chan []byte, buffer), log: logging.Discard()}
}

func recv(t *testing.T, s *Session) outbound {
	t.Helper()
	select {
	case data := <-s.send:
		var m outbound
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatal(err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s received nothing", s.ID)
	}
	return outbound{}
}

func TestHubRouting(t *testing.T) {
	h := NewHub(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a, b := testSession("a", 4), testSession("b", 4)
	h.register(a)
	h.register(b)
	h.bind(a, "p1")
	h.bind(b, "p2")

	h.SendTo("p1", "narrative_hint", map[string]string{"text": "x"})
	if m := recv(t, a); m.Type != "narrative_hint" {
		t.Fatalf("a got %s", m.Type)
	}

	h.Broadcast("cell_ready", map[string]string{"id": "0,0"})
	if m := recv(t, a); m.Type != "cell_ready" {
		t.Fatalf("a got %s", m.Type)
	}
	if m := recv(t, b); m.Type != "cell_ready" {
		t.Fatalf("b got %s, want the broadcast and not the direct message", m.Type)
	}

	if remaining := h.unregister(a, "p1"); remaining != 0 {
		t.Fatalf("remaining = %d", remaining)
	}
	if _, ok := <-a.send; ok {
		t.Fatal("send channel not closed")
	}
	if a.enqueue([]byte("late")) {
		t.Fatal("closed session accepted data")
	}
	if st := h.Stats(); st.Sessions != 1 || st.Players != 1 || st.Sent != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHubDropsWhenSessionBufferFull(t *testing.T) {
	h := NewHub(logging.Discard())
	s := testSession("slow", 1)
	h.register(s)

	data, _ := encode("npc_updated", nil)
	h.deliver(delivery{data: data})
	h.deliver(delivery{data: data})

	st := h.Stats()
	if st.Sent != 1 || st.Dropped != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
