package narrative

var archetypeGoals = map[string][]string{
	"merchant":    {"turn a profit", "find rare goods for the caravan"},
	"guard":       {"keep the roads safe", "find out who is stirring the border"},
	"wanderer":    {"see what lies past the next hill", "find the lost caravan"},
	"quest_giver": {"recover what was taken", "find someone brave enough to help"},
	"sage":        {"preserve the old knowledge", "decide who is worthy of it"},
	"mysterious":  {"watch the newcomers", "keep the vault sealed"},
}

var archetypeSecrets = map[string][]string{
	"merchant":    {"secret_caravan"},
	"guard":       {"secret_border"},
	"wanderer":    {"secret_caravan", "secret_drowned_bell"},
	"quest_giver": {"secret_border"},
	"sage":        {"secret_old_map", "secret_founders"},
	"mysterious":  {"secret_founders", "secret_drowned_bell"},
}

// DefaultThreads are the storylines every new world starts with
func DefaultThreads() []Thread {
	return []Thread{
		{
			ID:           "thread_lost_caravan",
			Name:         "The Lost Caravan",
			Type:         ThreadMystery,
			Urgency:      0.6,
			InvolvedNPCs: []string{"merchant", "wanderer"},
			Triggers:     []string{"discover:mystery", "talk:wanderer", "talk:merchant"},
		},
		{
			ID:           "thread_border_tension",
			Name:         "Tension at the Border",
			Type:         ThreadConflict,
			Urgency:      0.8,
			InvolvedNPCs: []string{"guard", "quest_giver"},
			Triggers:     []string{"talk:guard", "talk:quest_giver", "discover:landmark"},
		},
		{
			ID:           "thread_old_ways",
			Name:         "The Old Ways",
			Type:         ThreadDiscovery,
			Urgency:      0.3,
			InvolvedNPCs: []string{"sage"},
			Triggers:     []string{"discover:resource", "discover:building", "talk:sage"},
		},
		{
			ID:           "thread_stranger",
			Name:         "The Watcher in the Fog",
			Type:         ThreadRelationship,
			Urgency:      0.4,
			InvolvedNPCs: []string{"mysterious"},
			Triggers:     []string{"talk:mysterious", "gift:mysterious", "help:mysterious"},
		},
	}
}

// DefaultSecrets is the lore gated behind exploration and conversation
func DefaultSecrets() []Secret {
	return []Secret{
		{
			ID:      "secret_founders",
			Content: "The spawn plaza was built on top of the founders' sealed vault.",
			Conditions: []Condition{
				{Kind: CondAction, Key: "discover:mystery", Min: 2},
				{Kind: CondVisits, Min: 12},
			},
			Partials: []PartialReveal{
				{Condition: Condition{Kind: CondVisits, Min: 6}, Hint: "The oldest stones always seem to point back toward the plaza."},
				{Condition: Condition{Kind: CondAction, Key: "discover:mystery", Min: 1}, Hint: "The same sigil repeats at every strange site you find."},
			},
		},
		{
			ID:      "secret_caravan",
			Content: "The caravan never left: its merchants founded the settlement under new names.",
			Conditions: []Condition{
				{Kind: CondThreadProgress, Key: "thread_lost_caravan", Min: 0.5},
				{Kind: CondAction, Key: "talk:merchant", Min: 3},
			},
			Partials: []PartialReveal{
				{Condition: Condition{Kind: CondAction, Key: "talk:merchant", Min: 1}, Hint: "Merchants change the subject whenever the caravan comes up."},
			},
		},
		{
			ID:      "secret_border",
			Content: "The raids on the border are staged by the guard captain to keep the pay flowing.",
			Conditions: []Condition{
				{Kind: CondAction, Key: "talk:guard", Min: 3},
				{Kind: CondAction, Key: "discover:landmark", Min: 2},
			},
			Partials: []PartialReveal{
				{Condition: Condition{Kind: CondAction, Key: "talk:guard", Min: 2}, Hint: "The guards' stories about the raids never quite agree."},
			},
		},
		{
			ID:      "secret_old_map",
			Content: "The sages keep the last copy of the world map from before the flood.",
			Conditions: []Condition{
				{Kind: CondAction, Key: "talk:sage", Min: 3},
				{Kind: CondThreadProgress, Key: "thread_old_ways", Min: 0.5},
			},
			Partials: []PartialReveal{
				{Condition: Condition{Kind: CondAction, Key: "talk:sage", Min: 1}, Hint: "The sage glances at a rolled parchment whenever you mention distant lands."},
			},
		},
		{
			ID:      "secret_drowned_bell",
			Content: "The bell heard over the swamp rings from a chapel that sank a century ago.",
			Conditions: []Condition{
				{Kind: CondVisits, Min: 20},
				{Kind: CondAction, Key: "discover:building", Min: 2},
			},
			Partials: []PartialReveal{
				{Condition: Condition{Kind: CondVisits, Min: 10}, Hint: "Travellers speak of a bell tolling where no tower stands."},
			},
		},
	}
}

// SeedDefaults adds the built-in threads and secrets that are not already present
func (m *Memory) SeedDefaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range DefaultThreads() {
		m.addThreadLocked(t)
	}
	for _, s := range DefaultSecrets() {
		if _, ok := m.st.Secrets[s.ID]; !ok {
			m.st.Secrets[s.ID] = s.clone()
		}
	}
}
