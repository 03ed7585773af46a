package narrative

import (
	"sort"
	"strings"
)

// Profile returns a copy of the player's profile with playstyle, interests
// and avoidances recomputed from the current counters. Unknown players get
// an empty profile that is not stored.
func (m *Memory) Profile(playerID string) Profile {
	p, _ := m.LookupProfile(playerID)
	return p
}

// LookupProfile is Profile plus whether the player has any recorded state
func (m *Memory) LookupProfile(playerID string) (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.st.Profiles[playerID]
	if !ok {
		p = newProfile(playerID)
	}
	p.Playstyle = inferPlaystyle(p)
	p.Interests = topCategories(p.ActionCounts, 3)
	p.Avoidances = m.avoidancesLocked(playerID)
	return *p.clone(), ok
}

// ProfileSummary is a one-line description used in generation context
func (m *Memory) ProfileSummary(playerID, name string) string {
	p := m.Profile(playerID)
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" (")
	b.WriteString(string(p.Playstyle))
	b.WriteString(")")
	if len(p.Interests) > 0 {
		b.WriteString(", interested in ")
		b.WriteString(strings.Join(p.Interests, ", "))
	}
	if len(p.Avoidances) > 0 {
		b.WriteString(", distrusted by ")
		b.WriteString(strings.Join(p.Avoidances, ", "))
	}
	return b.String()
}

// inferPlaystyle weighs exploration, conversation and discovery counters
func inferPlaystyle(p *Profile) Playstyle {
	talk := 0
	discover := 0
	for action, n := range p.ActionCounts {
		switch verb(action) {
		case "talk", "greet", "gift", "help", "trade", "ask", "thank":
			talk += n
		case "discover":
			discover += n
		}
	}
	visits := len(p.VisitedCells)

	switch {
	case talk == 0 && discover == 0 && visits < 5:
		return PlaystyleWanderer
	case discover >= talk && discover*4 >= visits:
		return PlaystyleSeeker
	case talk > discover && talk*2 >= visits:
		return PlaystyleSocializer
	case visits >= 5:
		return PlaystyleExplorer
	default:
		return PlaystyleWanderer
	}
}

// topCategories returns up to n action verbs ordered by count, then name
func topCategories(counts map[string]int, n int) []string {
	byVerb := make(map[string]int)
	for action, c := range counts {
		byVerb[verb(action)] += c
	}
	verbs := make([]string, 0, len(byVerb))
	for v := range byVerb {
		verbs = append(verbs, v)
	}
	sort.Slice(verbs, func(i, j int) bool {
		if byVerb[verbs[i]] != byVerb[verbs[j]] {
			return byVerb[verbs[i]] > byVerb[verbs[j]]
		}
		return verbs[i] < verbs[j]
	})
	if len(verbs) > n {
		verbs = verbs[:n]
	}
	return verbs
}

// avoidancesLocked lists archetypes of NPCs that hold a negative view of the player
func (m *Memory) avoidancesLocked(playerID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, mem := range m.st.NPCs {
		if mem.Relationships[playerID] >= 0 || mem.Archetype == "" || seen[mem.Archetype] {
			continue
		}
		seen[mem.Archetype] = true
		out = append(out, mem.Archetype)
	}
	sort.Strings(out)
	return out
}

func verb(action string) string {
	if i := strings.IndexByte(action, ':'); i >= 0 {
		return action[:i]
	}
	return action
}
