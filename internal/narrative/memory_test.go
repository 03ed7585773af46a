package narrative

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"livingworld/server/internal/logging"
)

func newTestMemory() *Memory {
	m := New(Options{}, logging.Discard())
	m.SetClock(func() time.Time { return time.Unix(1000, 0) })
	return m
}

func TestRecordVisitIsIdempotent(t *testing.T) {
	m := newTestMemory()
	if !m.RecordVisit("p1", "0,0") {
		t.Fatalf("first visit not recorded")
	}
	if m.RecordVisit("p1", "0,0") {
		t.Fatalf("duplicate visit recorded")
	}
	m.RecordVisit("p1", "1,0")
	if got := m.Profile("p1").VisitedCells; !reflect.DeepEqual(got, []string{"0,0", "1,0"}) {
		t.Fatalf("visited = %v", got)
	}
}

func TestSecretDiscoveryIsMonotonic(t *testing.T) {
	m := newTestMemory()
	m.AddSecret(Secret{
		ID:         "s1",
		Content:    "the full truth",
		Conditions: []Condition{{Kind: CondAction, Key: "poke", Min: 2}},
		Partials:   []PartialReveal{{Condition: Condition{Kind: CondAction, Key: "poke"}, Hint: "a hint"}},
	})

	r := m.CheckSecretReveals("alice", "poke")
	if len(r) != 1 || r[0].Full || r[0].Text != "a hint" {
		t.Fatalf("first reveals = %+v", r)
	}
	r = m.CheckSecretReveals("alice", "poke")
	if len(r) != 1 || !r[0].Full || r[0].Text != "the full truth" {
		t.Fatalf("second reveals = %+v", r)
	}
	for i := 0; i < 5; i++ {
		if r := m.CheckSecretReveals("alice", "poke"); len(r) != 0 {
			t.Fatalf("re-revealed: %+v", r)
		}
	}
	// another player meeting the conditions does not take over discovery
	m.CheckSecretReveals("bob", "poke")
	if r := m.CheckSecretReveals("bob", "poke"); len(r) != 0 {
		t.Fatalf("bob got reveals: %+v", r)
	}
	s, _ := m.Secret("s1")
	if !s.Discovered || s.DiscoveredBy != "alice" {
		t.Fatalf("secret = %+v", s)
	}
	if got := m.Profile("alice").DiscoveredSecrets; !reflect.DeepEqual(got, []string{"s1"}) {
		t.Fatalf("alice discovered = %v", got)
	}
}

func TestPartialHintsOncePerPlayer(t *testing.T) {
	m := newTestMemory()
	m.AddSecret(Secret{
		ID:         "s1",
		Content:    "never",
		Conditions: []Condition{{Kind: CondVisits, Min: 100}},
		Partials: []PartialReveal{
			{Condition: Condition{Kind: CondVisited, Key: "2,2"}, Hint: "h-visit"},
			{Condition: Condition{Kind: CondAction, Key: "talk"}, Hint: "h-talk"},
		},
	})
	m.RecordVisit("a", "2,2")
	r := m.CheckSecretReveals("a", "talk:sage")
	if len(r) != 2 {
		t.Fatalf("reveals = %+v", r)
	}
	if r := m.CheckSecretReveals("a", "talk:sage"); len(r) != 0 {
		t.Fatalf("hints repeated: %+v", r)
	}
	if r := m.CheckSecretReveals("b", "talk"); len(r) != 1 || r[0].Text != "h-talk" {
		t.Fatalf("player b reveals = %+v", r)
	}
}

func TestAdvanceNarrativeMovesForward(t *testing.T) {
	m := newTestMemory()
	m.AddThread(Thread{ID: "t1", Name: "Test", Type: ThreadMystery, Triggers: []string{"poke"}})

	var statuses []ThreadStatus
	last := 0.0
	for i := 0; i < 10; i++ {
		u := m.AdvanceNarrative("p1", "poke:hard")
		if len(u) != 1 {
			t.Fatalf("step %d updates = %+v", i, u)
		}
		if u[0].Progress < last {
			t.Fatalf("progress went backwards")
		}
		last = u[0].Progress
		statuses = append(statuses, u[0].Status)
	}
	want := []ThreadStatus{
		StatusActive, StatusActive, StatusActive, StatusActive, StatusActive, StatusActive,
		StatusClimax, StatusClimax, StatusClimax, StatusResolved,
	}
	if !reflect.DeepEqual(statuses, want) {
		t.Fatalf("statuses = %v", statuses)
	}
	if len(m.ActiveThreads()) != 0 {
		t.Fatalf("resolved thread still active")
	}
	th, ok := m.Thread("t1")
	if !ok || th.Status != StatusResolved || th.PlayerProgress != 1 || th.ResolvedAt == nil {
		t.Fatalf("thread = %+v", th)
	}
	if u := m.AdvanceNarrative("p1", "poke"); len(u) != 0 {
		t.Fatalf("resolved thread advanced again: %+v", u)
	}
	p := m.Profile("p1")
	if !reflect.DeepEqual(p.CompletedNarratives, []string{"t1"}) || len(p.ActiveQuests) != 0 {
		t.Fatalf("profile quests = %+v / %+v", p.CompletedNarratives, p.ActiveQuests)
	}
	if len(p.Choices) != 3 {
		t.Fatalf("choices = %+v", p.Choices)
	}
}

func TestAdvanceNarrativeIgnoresUnrelatedActions(t *testing.T) {
	m := newTestMemory()
	m.AddThread(Thread{ID: "t1", Triggers: []string{"talk:guard"}})
	if u := m.AdvanceNarrative("p1", "talk"); len(u) != 0 {
		t.Fatalf("broader action matched a narrower trigger: %+v", u)
	}
	if u := m.AdvanceNarrative("p1", "talk:guardian"); len(u) != 0 {
		t.Fatalf("prefix without separator matched: %+v", u)
	}
	th, _ := m.Thread("t1")
	if th.Status != StatusSeeded {
		t.Fatalf("status = %s", th.Status)
	}
}

func TestRelationshipIsClamped(t *testing.T) {
	m := newTestMemory()
	for i := 0; i < 20; i++ {
		m.UpdateNPCMemory("npc", "villain", InteractionInput{Action: "attack"})
		m.UpdateNPCMemory("npc", "hero", InteractionInput{Action: "gift"})
	}
	if r := m.Relationship("npc", "villain"); r != -100 {
		t.Fatalf("villain = %d", r)
	}
	if r := m.Relationship("npc", "hero"); r != 100 {
		t.Fatalf("hero = %d", r)
	}
}

func TestInteractionHistoryIsCapped(t *testing.T) {
	m := New(Options{InteractionHistory: 5}, logging.Discard())
	for i := 0; i < 8; i++ {
		m.UpdateNPCMemory("npc", "p", InteractionInput{Action: "talk", Summary: fmt.Sprint(i)})
	}
	mem, _ := m.NPCMemory("npc")
	if len(mem.Interactions) != 5 || mem.Interactions[0].Summary != "3" {
		t.Fatalf("interactions = %+v", mem.Interactions)
	}
}

func TestNPCContext(t *testing.T) {
	m := newTestMemory()
	m.SeedDefaults()
	m.RegisterNPC("npc_sage", "Isolde", "sage")

	m.UpdateNPCMemory("npc_sage", "p", InteractionInput{Action: "talk", Topics: []string{"weather"}})
	m.UpdateNPCMemory("npc_sage", "p", InteractionInput{Action: "talk", Topics: []string{"map", "flood"}})
	m.UpdateNPCMemory("npc_sage", "other", InteractionInput{Action: "talk", Topics: []string{"secret"}})
	m.UpdateNPCMemory("npc_sage", "p", InteractionInput{Action: "talk", Topics: []string{"map", "stars"}})

	ctx := m.NPCContext("npc_sage", "p")
	if ctx.Relationship != 6 {
		t.Fatalf("relationship = %d", ctx.Relationship)
	}
	if !reflect.DeepEqual(ctx.RecentTopics, []string{"stars", "map", "flood"}) {
		t.Fatalf("topics = %v", ctx.RecentTopics)
	}
	if len(ctx.PreviousInteractions) != 3 {
		t.Fatalf("interactions = %d", len(ctx.PreviousInteractions))
	}
	if len(ctx.SecretsToHint) != 0 {
		t.Fatalf("hinted below threshold: %v", ctx.SecretsToHint)
	}
	if len(ctx.RelevantNarratives) != 1 || ctx.RelevantNarratives[0].ID != "thread_old_ways" {
		t.Fatalf("narratives = %+v", ctx.RelevantNarratives)
	}
	if len(ctx.Goals) == 0 {
		t.Fatalf("sage has no goals")
	}

	m.UpdateNPCMemory("npc_sage", "p", InteractionInput{Action: "gift"})
	ctx = m.NPCContext("npc_sage", "p")
	if len(ctx.SecretsToHint) != 2 {
		t.Fatalf("hints = %v", ctx.SecretsToHint)
	}

	if empty := m.NPCContext("ghost", "p"); empty.Relationship != 0 || len(empty.PreviousInteractions) != 0 {
		t.Fatalf("unknown npc context = %+v", empty)
	}
}

func TestConversationBufferKeepsMostRecent(t *testing.T) {
	m := New(Options{ConversationRetention: 10}, logging.Discard())
	for i := 0; i < 13; i++ {
		m.AppendConversation("p", "npc", Exchange{PlayerText: fmt.Sprint(i)})
	}
	conv := m.Conversation("p", "npc")
	if len(conv) != 10 || conv[0].PlayerText != "3" || conv[9].PlayerText != "12" {
		t.Fatalf("conversation = %+v", conv)
	}
	if len(m.Conversation("p", "other")) != 0 {
		t.Fatalf("conversation leaked across npcs")
	}
}

func TestPlaystyleInference(t *testing.T) {
	m := newTestMemory()
	if p := m.Profile("new"); p.Playstyle != PlaystyleWanderer {
		t.Fatalf("new player = %s", p.Playstyle)
	}

	for i := 0; i < 10; i++ {
		m.RecordVisit("explorer", fmt.Sprintf("%d,0", i))
	}
	if p := m.Profile("explorer"); p.Playstyle != PlaystyleExplorer {
		t.Fatalf("explorer = %s", p.Playstyle)
	}

	for i := 0; i < 4; i++ {
		m.CheckSecretReveals("chatty", "talk:merchant")
	}
	p := m.Profile("chatty")
	if p.Playstyle != PlaystyleSocializer || !reflect.DeepEqual(p.Interests, []string{"talk"}) {
		t.Fatalf("chatty = %s %v", p.Playstyle, p.Interests)
	}

	m.RecordVisit("seeker", "0,0")
	for i := 0; i < 3; i++ {
		m.CheckSecretReveals("seeker", "discover:mystery")
	}
	if p := m.Profile("seeker"); p.Playstyle != PlaystyleSeeker {
		t.Fatalf("seeker = %s", p.Playstyle)
	}

	m.RegisterNPC("g", "Gus", "guard")
	m.UpdateNPCMemory("g", "chatty", InteractionInput{Action: "insult"})
	if p := m.Profile("chatty"); !reflect.DeepEqual(p.Avoidances, []string{"guard"}) {
		t.Fatalf("avoidances = %v", p.Avoidances)
	}
}

func TestMarshalRestoreRoundTrip(t *testing.T) {
	m := newTestMemory()
	m.SeedDefaults()
	m.RecordVisit("p", "0,0")
	m.UpdateNPCMemory("n", "p", InteractionInput{Action: "gift"})
	m.AdvanceNarrative("p", "talk:sage")
	data, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	fresh := newTestMemory()
	if err := fresh.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if fresh.Relationship("n", "p") != 15 {
		t.Fatalf("relationship lost")
	}
	th, ok := fresh.Thread("thread_old_ways")
	if !ok || th.Status != StatusActive {
		t.Fatalf("thread = %+v", th)
	}
	if got := fresh.Profile("p").VisitedCells; !reflect.DeepEqual(got, []string{"0,0"}) {
		t.Fatalf("visited = %v", got)
	}
}

func TestRestoreKeepsStateOnCorruptInput(t *testing.T) {
	m := newTestMemory()
	m.UpdateNPCMemory("n", "p", InteractionInput{Action: "help"})
	for _, bad := range []string{"{not json", `{"version": 99}`, `[1,2,3]`} {
		if err := m.Restore([]byte(bad)); err == nil {
			t.Fatalf("Restore(%q) succeeded", bad)
		}
	}
	if m.Relationship("n", "p") != 10 {
		t.Fatalf("state lost after failed restore")
	}
}

func TestRestoreToleratesMissingCollections(t *testing.T) {
	m := newTestMemory()
	if err := m.Restore([]byte(`{"profiles":{"p":{"visited_cells":["0,0"]}},"npcs":{"n":{}}}`)); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	m.RecordVisit("p", "1,1")
	m.CheckSecretReveals("p", "poke")
	m.AppendConversation("p", "n", Exchange{PlayerText: "hi"})
	if r := m.UpdateNPCMemory("n", "p", InteractionInput{Action: "talk"}); r != 2 {
		t.Fatalf("relationship = %d", r)
	}
	m.SeedDefaults()
	if len(m.ActiveThreads()) != len(DefaultThreads()) {
		t.Fatalf("threads = %d", len(m.ActiveThreads()))
	}
}

func TestProfileLookupDoesNotCreate(t *testing.T) {
	m := New(Options{}, logging.Discard())
	if p := m.Profile("ghost"); p.PlayerID != "ghost" || p.Playstyle != PlaystyleWanderer {
		t.Fatalf("profile = %+v", p)
	}
	if _, ok := m.LookupProfile("ghost"); ok {
		t.Fatal("reading a profile stored it")
	}
	data, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "ghost") {
		t.Fatal("unknown player persisted")
	}

	m.RecordVisit("p1", "0,0")
	if p, ok := m.LookupProfile("p1"); !ok || len(p.VisitedCells) != 1 {
		t.Fatalf("known profile = %+v, %v", p, ok)
	}
}
