package dialogue

import (
	"hash/fnv"
	"math/rand/v2"
	"strings"

	"livingworld/server/internal/models"
)

// hostileBelow is the relationship under which every archetype answers coldly
const hostileBelow = -20

var responsePools = map[models.Archetype]map[Category][]string{
	models.ArchetypeMerchant: {
		CategoryGreeting: {"Welcome, {name}! Finest wares this side of the river.", "Ah, a customer. Come, look, no charge for looking.", "Good to see you, {name}. Business has been slow."},
		CategoryFarewell: {"Come back when your purse is heavier!", "Safe roads, {name}.", "Tell your friends where you found me."},
		CategoryHelp:     {"I could use someone to fetch goods from the next valley.", "Help? Bring me something rare and we will talk.", "The caravan routes are dangerous lately. A guard would be worth coin."},
		CategoryQuestion: {"Prices are fair, I promise you that.", "I hear everything that passes through the market. Ask away.", "The roads east are quieter than the roads west."},
		CategoryOther:    {"Mm. Interesting. Buying anything?", "Every story has a price, {name}.", "Hm, I will remember that."},
	},
	models.ArchetypeGuard: {
		CategoryGreeting: {"Halt. Oh, it is you, {name}.", "Stay out of trouble and we will get along.", "Move along, traveller. Or state your business."},
		CategoryFarewell: {"Keep your blade sheathed.", "Off with you, then.", "Watch the treeline on your way out."},
		CategoryHelp:     {"Trouble on the border. Report anything strange to me.", "If you want to help, keep your eyes open past the ridge.", "The captain pays for information about the raiders."},
		CategoryQuestion: {"That is need-to-know.", "The border has been tense. That is all you need to know.", "Ask the captain. I just keep watch."},
		CategoryOther:    {"Hm.", "I am on duty, {name}.", "Noted."},
	},
	models.ArchetypeWanderer: {
		CategoryGreeting: {"Another traveller! Well met, {name}.", "Hello there. Sit, rest your feet.", "Ah, company on the road at last."},
		CategoryFarewell: {"May the wind be at your back.", "Our paths will cross again.", "Go well, {name}."},
		CategoryHelp:     {"I am looking for a caravan that vanished years ago. Seen any traces?", "Help me map the hills to the north and I will share what I know.", "Keep an eye out for old wagon ruts."},
		CategoryQuestion: {"I have walked far. Ask me anything about the road.", "There is a ruin two days west that hums at night.", "Some places are best left unmapped."},
		CategoryOther:    {"The road teaches patience.", "I have heard stranger things, {name}.", "Ha, a fine tale."},
	},
	models.ArchetypeQuestGiver: {
		CategoryGreeting: {"{name}! Just the person I hoped to see.", "You look capable. I have need of that.", "Greetings. Have you a moment?"},
		CategoryFarewell: {"Do not forget what I asked of you.", "Return when the task is done.", "Until next time, {name}."},
		CategoryHelp:     {"Something precious was taken from the village. Will you find it?", "There is a task only someone new to these parts could do.", "Find the watcher in the fog and bring back word."},
		CategoryQuestion: {"All in good time. First, the task.", "The answer lies beyond the border stones.", "Ask the sage. She knows more than she lets on."},
		CategoryOther:    {"Yes, yes. Now, about that task.", "Hmm, perhaps.", "I see."},
	},
	models.ArchetypeSage: {
		CategoryGreeting: {"Welcome, seeker. Sit.", "The stars said someone would come today.", "Ah, {name}. I wondered when you would arrive."},
		CategoryFarewell: {"Knowledge walks with you.", "Remember what you have heard.", "Go, and look closer than others do."},
		CategoryHelp:     {"Bring me what the old stones hold and I will read it for you.", "Help yourself first: learn to listen.", "The old ways can still be restored, with patience."},
		CategoryQuestion: {"Before the flood, the land had other names.", "The founders built more than they admitted.", "Every ruin is a sentence in a long story."},
		CategoryOther:    {"Curious.", "There is wisdom in that, {name}.", "Hm. Yes."},
	},
	models.ArchetypeMysterious: {
		CategoryGreeting: {"...", "You can see me. Interesting.", "I have been watching you, {name}."},
		CategoryFarewell: {"We will meet where the fog is thickest.", "Go. For now.", "..."},
		CategoryHelp:     {"Help is a matter of perspective.", "Perhaps. Perhaps not.", "Find the bell that rings beneath the water."},
		CategoryQuestion: {"The vault remembers.", "Some doors open only from the inside.", "Ask the stones beneath the plaza."},
		CategoryOther:    {"Hm.", "...", "You are not what I expected."},
	},
}

var evasiveResponses = []string{
	"Some answers must be earned, not given.",
	"You ask the wrong question.",
	"Why do you wish to know?",
	"The fog keeps its own counsel.",
	"Perhaps one day you will understand.",
}

var coldResponses = []string{
	"I have nothing to say to you.",
	"Leave. Now.",
	"You have some nerve showing your face here.",
}

var categoryEmotion = map[Category]string{
	CategoryGreeting: "friendly",
	CategoryFarewell: "calm",
	CategoryHelp:     "helpful",
	CategoryQuestion: "thoughtful",
}

// fallbackReply is the deterministic keyword responder. turn distinguishes
// repeated identical utterances so the answer varies within a conversation.
func fallbackReply(npc models.NPC, playerName string, in Intent, relationship, turn int) *Reply {
	rng := rand.New(rand.NewPCG(seedFor(npc.ID, in.Text), uint64(turn)))

	if relationship < hostileBelow {
		return &Reply{
			Text:    coldResponses[rng.IntN(len(coldResponses))],
			Emotion: "hostile",
			Action:  models.ActionIdle,
		}
	}

	pools, ok := responsePools[npc.Archetype]
	if !ok {
		pools = responsePools[models.ArchetypeWanderer]
	}

	out := &Reply{Emotion: categoryEmotion[in.Category], Action: models.ActionTalking}
	if out.Emotion == "" {
		out.Emotion = npc.Mood
	}
	if in.Category == CategoryFarewell {
		out.Action = models.ActionIdle
	}

	if in.Category == CategoryQuestion && rng.Float64() < npc.Archetype.Mystery() {
		out.Text = evasiveResponses[rng.IntN(len(evasiveResponses))]
		out.Emotion = "mysterious"
		return out
	}
	pool := pools[in.Category]
	out.Text = strings.ReplaceAll(pool[rng.IntN(len(pool))], "{name}", playerName)
	return out
}

func seedFor(npcID, text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(npcID))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(text)))
	return h.Sum64()
}
