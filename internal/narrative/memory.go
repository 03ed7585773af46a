package narrative

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	minRelationship = -100
	maxRelationship = 100
	progressEpsilon = 1e-9
)

// Options are the narrative tuning constants
type Options struct {
	ProgressIncrement         float64
	ClimaxThreshold           float64
	InteractionHistory        int
	HintRelationshipThreshold int
	ConversationRetention     int
}

func (o *Options) applyDefaults() {
	if o.ProgressIncrement <= 0 {
		o.ProgressIncrement = 0.1
	}
	if o.ClimaxThreshold <= 0 || o.ClimaxThreshold >= 1 {
		o.ClimaxThreshold = 0.7
	}
	if o.InteractionHistory <= 0 {
		o.InteractionHistory = 50
	}
	if o.HintRelationshipThreshold == 0 {
		o.HintRelationshipThreshold = 20
	}
	if o.ConversationRetention <= 0 {
		o.ConversationRetention = 10
	}
}

// valence maps action verbs to relationship deltas
var valence = map[string]int{
	"help":     10,
	"gift":     15,
	"trade":    5,
	"talk":     2,
	"greet":    3,
	"thank":    5,
	"farewell": 1,
	"ask":      1,
	"promise":  4,
	"lie":      -8,
	"insult":   -10,
	"steal":    -25,
	"threaten": -20,
	"attack":   -30,
}

// Valence returns the relationship delta for an action such as "gift" or "attack:guard"
func Valence(action string) int {
	verb := action
	if i := strings.IndexByte(action, ':'); i >= 0 {
		verb = action[:i]
	}
	return valence[strings.ToLower(verb)]
}

// state is everything that gets persisted
type state struct {
	Version  int                   `json:"version"`
	Threads  map[string]*Thread    `json:"threads"`
	Resolved []*Thread             `json:"resolved"`
	Secrets  map[string]*Secret    `json:"secrets"`
	NPCs     map[string]*NPCMemory `json:"npcs"`
	Profiles map[string]*Profile   `json:"profiles"`
}

func newState() *state {
	s := &state{}
	s.normalize()
	return s
}

func (s *state) normalize() {
	if s.Threads == nil {
		s.Threads = make(map[string]*Thread)
	}
	if s.Secrets == nil {
		s.Secrets = make(map[string]*Secret)
	}
	if s.NPCs == nil {
		s.NPCs = make(map[string]*NPCMemory)
	}
	if s.Profiles == nil {
		s.Profiles = make(map[string]*Profile)
	}
	for id, t := range s.Threads {
		if t == nil {
			delete(s.Threads, id)
		}
	}
	for id, sec := range s.Secrets {
		if sec == nil {
			delete(s.Secrets, id)
		}
	}
	for id, m := range s.NPCs {
		if m == nil {
			delete(s.NPCs, id)
			continue
		}
		if m.Relationships == nil {
			m.Relationships = make(map[string]int)
		}
		if m.LastSeen == nil {
			m.LastSeen = make(map[string]time.Time)
		}
		if m.NPCID == "" {
			m.NPCID = id
		}
	}
	for id, p := range s.Profiles {
		if p == nil {
			delete(s.Profiles, id)
			continue
		}
		if p.PlayerID == "" {
			p.PlayerID = id
		}
		p.normalize()
	}
	kept := s.Resolved[:0]
	for _, t := range s.Resolved {
		if t != nil {
			kept = append(kept, t)
		}
	}
	s.Resolved = kept
}

// Memory owns threads, secrets, NPC memories and player profiles
type Memory struct {
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time

	mu sync.Mutex
	st *state
}

// New creates an empty narrative memory. Call SeedDefaults to add the built-in storylines.
func New(opts Options, log logrus.FieldLogger) *Memory {
	opts.applyDefaults()
	return &Memory{
		opts: opts,
		log:  log.WithField("component", "narrative"),
		now:  time.Now,
		st:   newState(),
	}
}

// SetClock replaces the time source
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) profileLocked(playerID string) *Profile {
	p, ok := m.st.Profiles[playerID]
	if !ok {
		p = newProfile(playerID)
		m.st.Profiles[playerID] = p
	}
	return p
}

func (m *Memory) npcLocked(npcID string) *NPCMemory {
	mem, ok := m.st.NPCs[npcID]
	if !ok {
		mem = &NPCMemory{
			NPCID:          npcID,
			Relationships:  make(map[string]int),
			LastSeen:       make(map[string]time.Time),
			EmotionalState: "neutral",
		}
		m.st.NPCs[npcID] = mem
	}
	return mem
}

// AddThread registers a thread unless one with the same id exists (active or resolved).
func (m *Memory) AddThread(t Thread) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addThreadLocked(t)
}

func (m *Memory) addThreadLocked(t Thread) bool {
	if _, ok := m.st.Threads[t.ID]; ok {
		return false
	}
	for _, r := range m.st.Resolved {
		if r.ID == t.ID {
			return false
		}
	}
	if t.Status == "" {
		t.Status = StatusSeeded
	}
	m.st.Threads[t.ID] = t.clone()
	return true
}

// AddSecret registers a secret unless one with the same id exists
func (m *Memory) AddSecret(s Secret) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.Secrets[s.ID]; ok {
		return false
	}
	m.st.Secrets[s.ID] = s.clone()
	return true
}

// RegisterNPC gives a newly seen NPC its goals and the secrets it knows.
// Existing memories are left alone.
func (m *Memory) RegisterNPC(npcID, name, archetype string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.st.NPCs[npcID]; ok && existing.Archetype != "" {
		return
	}
	mem := m.npcLocked(npcID)
	mem.Name = name
	mem.Archetype = archetype
	mem.Goals = append([]string(nil), archetypeGoals[archetype]...)
	mem.SecretsKnown = append([]string(nil), archetypeSecrets[archetype]...)
}

// RecordVisit appends cellKey to the player's visited list once. It reports whether the cell was new.
func (m *Memory) RecordVisit(playerID, cellKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profileLocked(playerID)
	if p.hasVisited(cellKey) {
		return false
	}
	p.VisitedCells = append(p.VisitedCells, cellKey)
	return true
}

// CheckSecretReveals counts the action for the player, then evaluates every
// undiscovered secret. Each partial hint is released at most once per player.
// A secret whose conditions all hold is discovered by this player and never
// reported again.
func (m *Memory) CheckSecretReveals(playerID, action string) []Reveal {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.profileLocked(playerID)
	if action != "" {
		p.ActionCounts[action]++
	}

	ids := make([]string, 0, len(m.st.Secrets))
	for id := range m.st.Secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var reveals []Reveal
	for _, id := range ids {
		s := m.st.Secrets[id]
		if s.Discovered {
			continue
		}
		for i, pr := range s.Partials {
			key := fmt.Sprintf("%s#%d", s.ID, i)
			if p.HintsSeen[key] || !m.conditionHoldsLocked(p, pr.Condition) {
				continue
			}
			p.HintsSeen[key] = true
			reveals = append(reveals, Reveal{SecretID: s.ID, Text: pr.Hint})
		}
		if len(s.Conditions) == 0 {
			continue
		}
		all := true
		for _, c := range s.Conditions {
			if !m.conditionHoldsLocked(p, c) {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		at := m.now()
		s.Discovered = true
		s.DiscoveredBy = playerID
		s.DiscoveredAt = &at
		p.DiscoveredSecrets = append(p.DiscoveredSecrets, s.ID)
		reveals = append(reveals, Reveal{SecretID: s.ID, Text: s.Content, Full: true})
		m.log.WithFields(logrus.Fields{"secret": s.ID, "player": playerID}).Info("secret discovered")
	}
	return reveals
}

func (m *Memory) conditionHoldsLocked(p *Profile, c Condition) bool {
	min := c.Min
	switch c.Kind {
	case CondAction:
		if min <= 0 {
			min = 1
		}
		return float64(p.actionCount(c.Key)) >= min
	case CondVisits:
		return float64(len(p.VisitedCells)) >= min
	case CondVisited:
		return p.hasVisited(c.Key)
	case CondThreadProgress:
		if t, ok := m.st.Threads[c.Key]; ok {
			return t.PlayerProgress >= min
		}
		for _, t := range m.st.Resolved {
			if t.ID == c.Key {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// AdvanceNarrative bumps every unresolved thread triggered by action.
// Status only moves forward; reaching full progress resolves the thread
// and moves it to the resolved collection.
func (m *Memory) AdvanceNarrative(playerID, action string) []ThreadUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.profileLocked(playerID)
	now := m.now()

	ids := make([]string, 0, len(m.st.Threads))
	for id := range m.st.Threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var updates []ThreadUpdate
	for _, id := range ids {
		t := m.st.Threads[id]
		if !t.matches(action) {
			continue
		}
		prev := t.Status
		if t.Status == StatusSeeded {
			t.Status = StatusActive
		}
		t.PlayerProgress = clamp01(t.PlayerProgress + m.opts.ProgressIncrement)
		t.InvolvedPlayers = appendUnique(t.InvolvedPlayers, playerID)
		if !containsString(p.ActiveQuests, t.ID) && !containsString(p.CompletedNarratives, t.ID) {
			p.ActiveQuests = append(p.ActiveQuests, t.ID)
		}

		// float tolerance: ten steps of 0.1 sum to 0.9999999999999999
		switch {
		case t.PlayerProgress >= 1-progressEpsilon:
			t.PlayerProgress = 1
			t.Status = StatusResolved
			t.ResolvedAt = &now
			delete(m.st.Threads, t.ID)
			m.st.Resolved = append(m.st.Resolved, t)
			for _, pid := range t.InvolvedPlayers {
				pp := m.profileLocked(pid)
				pp.ActiveQuests = removeString(pp.ActiveQuests, t.ID)
				pp.CompletedNarratives = appendUnique(pp.CompletedNarratives, t.ID)
			}
		case t.PlayerProgress >= m.opts.ClimaxThreshold-progressEpsilon && t.Status == StatusActive:
			t.Status = StatusClimax
		}

		u := ThreadUpdate{
			ThreadID:       t.ID,
			Name:           t.Name,
			PreviousStatus: prev,
			Status:         t.Status,
			Progress:       t.PlayerProgress,
		}
		if u.StatusChanged() {
			p.Choices = append(p.Choices, Choice{
				Timestamp:   now,
				Description: fmt.Sprintf("%s moved %s to %s", action, t.Name, t.Status),
				ThreadID:    t.ID,
			})
		}
		updates = append(updates, u)
	}
	return updates
}

// UpdateNPCMemory records an interaction and moves the relationship by the
// action's valence, clamped to [-100,100]. It returns the new relationship.
func (m *Memory) UpdateNPCMemory(npcID, playerID string, in InteractionInput) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem := m.npcLocked(npcID)
	delta := Valence(in.Action)
	now := m.now()

	summary := in.Summary
	if summary == "" {
		summary = fmt.Sprintf("%s: %s", playerID, in.Action)
	}
	mem.Interactions = append(mem.Interactions, Interaction{
		PlayerID:        playerID,
		Timestamp:       now,
		Action:          in.Action,
		Summary:         summary,
		EmotionalImpact: delta,
		Topics:          append([]string(nil), in.Topics...),
		PromisesMade:    append([]string(nil), in.PromisesMade...),
		PromisesBroken:  append([]string(nil), in.PromisesBroken...),
	})
	if over := len(mem.Interactions) - m.opts.InteractionHistory; over > 0 {
		mem.Interactions = append([]Interaction(nil), mem.Interactions[over:]...)
	}

	rel := clampInt(mem.Relationships[playerID]+delta, minRelationship, maxRelationship)
	mem.Relationships[playerID] = rel
	mem.LastSeen[playerID] = now
	mem.EmotionalState = emotionFor(delta, rel)
	return rel
}

// Relationship returns the score between an NPC and a player
func (m *Memory) Relationship(npcID, playerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.st.NPCs[npcID]; ok {
		return mem.Relationships[playerID]
	}
	return 0
}

// NPCContext projects what an NPC knows about a player. Secret hints are only
// offered once the relationship reaches the hint threshold.
func (m *Memory) NPCContext(npcID, playerID string) NPCContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := NPCContext{NPCID: npcID, EmotionalState: "neutral"}
	mem, ok := m.st.NPCs[npcID]
	if !ok {
		return ctx
	}
	ctx.Relationship = mem.Relationships[playerID]
	ctx.EmotionalState = mem.EmotionalState
	ctx.Goals = append([]string(nil), mem.Goals...)

	var mine []Interaction
	for _, in := range mem.Interactions {
		if in.PlayerID == playerID {
			mine = append(mine, in)
		}
	}
	if len(mine) > 5 {
		mine = mine[len(mine)-5:]
	}
	ctx.PreviousInteractions = mine

	// last 3 distinct topics, newest first
	seen := make(map[string]bool)
	for i := len(mem.Interactions) - 1; i >= 0 && len(ctx.RecentTopics) < 3; i-- {
		in := mem.Interactions[i]
		if in.PlayerID != playerID {
			continue
		}
		for j := len(in.Topics) - 1; j >= 0 && len(ctx.RecentTopics) < 3; j-- {
			if topic := in.Topics[j]; !seen[topic] {
				seen[topic] = true
				ctx.RecentTopics = append(ctx.RecentTopics, topic)
			}
		}
	}

	if ctx.Relationship >= m.opts.HintRelationshipThreshold {
		for _, sid := range mem.SecretsKnown {
			s, ok := m.st.Secrets[sid]
			if !ok || s.Discovered || len(s.Partials) == 0 {
				continue
			}
			ctx.SecretsToHint = append(ctx.SecretsToHint, s.Partials[0].Hint)
		}
	}

	ids := make([]string, 0, len(m.st.Threads))
	for id := range m.st.Threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := m.st.Threads[id]
		if !containsString(t.InvolvedNPCs, npcID) && !containsString(t.InvolvedNPCs, mem.Archetype) {
			continue
		}
		ctx.RelevantNarratives = append(ctx.RelevantNarratives, ThreadSummary{
			ID: t.ID, Name: t.Name, Status: t.Status, Progress: t.PlayerProgress,
		})
	}
	return ctx
}

// AppendConversation keeps the most recent exchanges per (player, npc)
func (m *Memory) AppendConversation(playerID, npcID string, ex Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profileLocked(playerID)
	if ex.Timestamp.IsZero() {
		ex.Timestamp = m.now()
	}
	conv := append(p.Conversations[npcID], ex)
	if over := len(conv) - m.opts.ConversationRetention; over > 0 {
		conv = append([]Exchange(nil), conv[over:]...)
	}
	p.Conversations[npcID] = conv
}

// Conversation returns the retained exchanges for (player, npc), oldest first
func (m *Memory) Conversation(playerID, npcID string) []Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.Profiles[playerID]
	if !ok {
		return nil
	}
	return append([]Exchange(nil), p.Conversations[npcID]...)
}

// RecordSession appends a session summary to the player's history
func (m *Memory) RecordSession(playerID, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profileLocked(playerID)
	p.SessionHistory = append(p.SessionHistory, summary)
}

// Thread returns a copy of an active or resolved thread
func (m *Memory) Thread(id string) (Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.st.Threads[id]; ok {
		return *t.clone(), true
	}
	for _, t := range m.st.Resolved {
		if t.ID == id {
			return *t.clone(), true
		}
	}
	return Thread{}, false
}

// ActiveThreads returns unresolved threads sorted by id
func (m *Memory) ActiveThreads() []Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Thread, 0, len(m.st.Threads))
	for _, t := range m.st.Threads {
		out = append(out, *t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Secret returns a copy of a secret
func (m *Memory) Secret(id string) (Secret, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.Secrets[id]
	if !ok {
		return Secret{}, false
	}
	return *s.clone(), true
}

// NPCMemory returns a copy of one NPC's memory
func (m *Memory) NPCMemory(npcID string) (NPCMemory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.st.NPCs[npcID]
	if !ok {
		return NPCMemory{}, false
	}
	return *mem.clone(), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func emotionFor(delta, rel int) string {
	switch {
	case delta <= -20:
		return "angry"
	case delta < 0:
		return "wary"
	case rel >= 50:
		return "warm"
	case delta > 0:
		return "pleased"
	default:
		return "neutral"
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	if containsString(list, s) {
		return list
	}
	return append(list, s)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
