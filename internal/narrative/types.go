package narrative

import (
	"strings"
	"time"
)

type ThreadType string

const (
	ThreadMystery        ThreadType = "mystery"
	ThreadConflict       ThreadType = "conflict"
	ThreadDiscovery      ThreadType = "discovery"
	ThreadRelationship   ThreadType = "relationship"
	ThreadTransformation ThreadType = "transformation"
)

// ThreadStatus only moves forward: seeded, active, climax, resolved
type ThreadStatus string

const (
	StatusSeeded   ThreadStatus = "seeded"
	StatusActive   ThreadStatus = "active"
	StatusClimax   ThreadStatus = "climax"
	StatusResolved ThreadStatus = "resolved"
)

// Thread is a tracked storyline
type Thread struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Type            ThreadType   `json:"type"`
	Status          ThreadStatus `json:"status"`
	Urgency         float64      `json:"urgency"`
	InvolvedNPCs    []string     `json:"involved_npcs"`
	InvolvedPlayers []string     `json:"involved_players"`
	Locations       []string     `json:"locations"`
	// Triggers are action keys; "talk" matches "talk" and "talk:merchant"
	Triggers       []string   `json:"triggers"`
	PlayerProgress float64    `json:"player_progress"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func (t *Thread) clone() *Thread {
	cp := *t
	cp.InvolvedNPCs = append([]string(nil), t.InvolvedNPCs...)
	cp.InvolvedPlayers = append([]string(nil), t.InvolvedPlayers...)
	cp.Locations = append([]string(nil), t.Locations...)
	cp.Triggers = append([]string(nil), t.Triggers...)
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}

func (t *Thread) matches(action string) bool {
	for _, trig := range t.Triggers {
		if actionMatches(action, trig) {
			return true
		}
	}
	return false
}

// actionMatches reports whether action equals key or is a refinement of it ("talk:sage" refines "talk").
func actionMatches(action, key string) bool {
	return action == key || strings.HasPrefix(action, key+":")
}

// ThreadUpdate describes one progress step of a thread
type ThreadUpdate struct {
	ThreadID       string       `json:"thread_id"`
	Name           string       `json:"name"`
	PreviousStatus ThreadStatus `json:"previous_status"`
	Status         ThreadStatus `json:"status"`
	Progress       float64      `json:"progress"`
}

// StatusChanged reports whether the update moved the thread to a new status
func (u ThreadUpdate) StatusChanged() bool {
	return u.PreviousStatus != u.Status
}

type ConditionKind string

const (
	// CondAction holds once the player performed actions matching Key at least Min times
	CondAction ConditionKind = "action"
	// CondVisits holds once the player visited at least Min distinct cells
	CondVisits ConditionKind = "visits"
	// CondVisited holds once the player visited cell Key
	CondVisited ConditionKind = "visited"
	// CondThreadProgress holds once thread Key reached progress Min
	CondThreadProgress ConditionKind = "thread_progress"
)

type Condition struct {
	Kind ConditionKind `json:"kind"`
	Key  string        `json:"key,omitempty"`
	Min  float64       `json:"min,omitempty"`
}

// PartialReveal is a hint released when its single condition holds
type PartialReveal struct {
	Condition Condition `json:"condition"`
	Hint      string    `json:"hint"`
}

// Secret is lore gated behind reveal conditions
type Secret struct {
	ID           string          `json:"id"`
	Content      string          `json:"content"`
	Conditions   []Condition     `json:"conditions"`
	Partials     []PartialReveal `json:"partials"`
	Discovered   bool            `json:"discovered"`
	DiscoveredBy string          `json:"discovered_by,omitempty"`
	DiscoveredAt *time.Time      `json:"discovered_at,omitempty"`
}

func (s *Secret) clone() *Secret {
	cp := *s
	cp.Conditions = append([]Condition(nil), s.Conditions...)
	cp.Partials = append([]PartialReveal(nil), s.Partials...)
	if s.DiscoveredAt != nil {
		at := *s.DiscoveredAt
		cp.DiscoveredAt = &at
	}
	return &cp
}

// Reveal is emitted by CheckSecretReveals. Full reveals carry the secret content as Text.
type Reveal struct {
	SecretID string `json:"secret_id"`
	Text     string `json:"text"`
	Full     bool   `json:"full"`
}

// Interaction is one significant exchange remembered by an NPC
type Interaction struct {
	PlayerID        string    `json:"player_id"`
	Timestamp       time.Time `json:"timestamp"`
	Action          string    `json:"action"`
	Summary         string    `json:"summary"`
	EmotionalImpact int       `json:"emotional_impact"`
	Topics          []string  `json:"topics,omitempty"`
	PromisesMade    []string  `json:"promises_made,omitempty"`
	PromisesBroken  []string  `json:"promises_broken,omitempty"`
}

// NPCMemory is everything one NPC remembers
type NPCMemory struct {
	NPCID          string               `json:"npc_id"`
	Name           string               `json:"name"`
	Archetype      string               `json:"archetype"`
	Interactions   []Interaction        `json:"interactions"`
	Relationships  map[string]int       `json:"relationships"`
	Goals          []string             `json:"goals"`
	SecretsKnown   []string             `json:"secrets_known"`
	EmotionalState string               `json:"emotional_state"`
	LastSeen       map[string]time.Time `json:"last_seen"`
}

func (m *NPCMemory) clone() *NPCMemory {
	cp := *m
	cp.Interactions = make([]Interaction, len(m.Interactions))
	for i, in := range m.Interactions {
		in.Topics = append([]string(nil), in.Topics...)
		in.PromisesMade = append([]string(nil), in.PromisesMade...)
		in.PromisesBroken = append([]string(nil), in.PromisesBroken...)
		cp.Interactions[i] = in
	}
	cp.Relationships = make(map[string]int, len(m.Relationships))
	for k, v := range m.Relationships {
		cp.Relationships[k] = v
	}
	cp.LastSeen = make(map[string]time.Time, len(m.LastSeen))
	for k, v := range m.LastSeen {
		cp.LastSeen[k] = v
	}
	cp.Goals = append([]string(nil), m.Goals...)
	cp.SecretsKnown = append([]string(nil), m.SecretsKnown...)
	return &cp
}

// InteractionInput is what UpdateNPCMemory records
type InteractionInput struct {
	// Action is a verb, optionally refined: "talk", "gift", "attack:guard"
	Action         string
	Summary        string
	Topics         []string
	PromisesMade   []string
	PromisesBroken []string
}

// Exchange is one player line and the NPC reply
type Exchange struct {
	Timestamp  time.Time `json:"timestamp"`
	PlayerText string    `json:"player_text"`
	NPCText    string    `json:"npc_text"`
	Emotion    string    `json:"emotion,omitempty"`
}

// Choice is an entry of the significant choice log
type Choice struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	ThreadID    string    `json:"thread_id,omitempty"`
}

type Playstyle string

const (
	PlaystyleExplorer   Playstyle = "explorer"
	PlaystyleSocializer Playstyle = "socializer"
	PlaystyleSeeker     Playstyle = "seeker"
	PlaystyleWanderer   Playstyle = "wanderer"
)

// Profile is the per-player narrative record
type Profile struct {
	PlayerID            string                `json:"player_id"`
	Playstyle           Playstyle             `json:"playstyle"`
	Interests           []string              `json:"interests"`
	Avoidances          []string              `json:"avoidances"`
	DiscoveredSecrets   []string              `json:"discovered_secrets"`
	CompletedNarratives []string              `json:"completed_narratives"`
	ActiveQuests        []string              `json:"active_quests"`
	Choices             []Choice              `json:"choices"`
	SessionHistory      []string              `json:"session_history"`
	VisitedCells        []string              `json:"visited_cells"`
	ActionCounts        map[string]int        `json:"action_counts"`
	HintsSeen           map[string]bool       `json:"hints_seen"`
	Conversations       map[string][]Exchange `json:"conversations"`
}

func newProfile(playerID string) *Profile {
	p := &Profile{PlayerID: playerID, Playstyle: PlaystyleWanderer}
	p.normalize()
	return p
}

func (p *Profile) normalize() {
	if p.ActionCounts == nil {
		p.ActionCounts = make(map[string]int)
	}
	if p.HintsSeen == nil {
		p.HintsSeen = make(map[string]bool)
	}
	if p.Conversations == nil {
		p.Conversations = make(map[string][]Exchange)
	}
	if p.Playstyle == "" {
		p.Playstyle = PlaystyleWanderer
	}
}

func (p *Profile) clone() *Profile {
	cp := *p
	cp.Interests = append([]string(nil), p.Interests...)
	cp.Avoidances = append([]string(nil), p.Avoidances...)
	cp.DiscoveredSecrets = append([]string(nil), p.DiscoveredSecrets...)
	cp.CompletedNarratives = append([]string(nil), p.CompletedNarratives...)
	cp.ActiveQuests = append([]string(nil), p.ActiveQuests...)
	cp.Choices = append([]Choice(nil), p.Choices...)
	cp.SessionHistory = append([]string(nil), p.SessionHistory...)
	cp.VisitedCells = append([]string(nil), p.VisitedCells...)
	cp.ActionCounts = make(map[string]int, len(p.ActionCounts))
	for k, v := range p.ActionCounts {
		cp.ActionCounts[k] = v
	}
	cp.HintsSeen = make(map[string]bool, len(p.HintsSeen))
	for k, v := range p.HintsSeen {
		cp.HintsSeen[k] = v
	}
	cp.Conversations = make(map[string][]Exchange, len(p.Conversations))
	for k, v := range p.Conversations {
		cp.Conversations[k] = append([]Exchange(nil), v...)
	}
	return &cp
}

func (p *Profile) hasVisited(cellKey string) bool {
	for _, c := range p.VisitedCells {
		if c == cellKey {
			return true
		}
	}
	return false
}

// actionCount sums counters for key and every refinement of it
func (p *Profile) actionCount(key string) int {
	n := 0
	for action, c := range p.ActionCounts {
		if actionMatches(action, key) {
			n += c
		}
	}
	return n
}

// NPCContext is the read-only projection dialogue uses
type NPCContext struct {
	NPCID                string          `json:"npc_id"`
	Relationship         int             `json:"relationship"`
	EmotionalState       string          `json:"emotional_state"`
	Goals                []string        `json:"goals"`
	PreviousInteractions []Interaction   `json:"previous_interactions"`
	RecentTopics         []string        `json:"recent_topics"`
	SecretsToHint        []string        `json:"secrets_to_hint"`
	RelevantNarratives   []ThreadSummary `json:"relevant_narratives"`
}

type ThreadSummary struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   ThreadStatus `json:"status"`
	Progress float64      `json:"progress"`
}
