package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"livingworld/server/internal/content"
	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/models"
	"livingworld/server/internal/narrative"
	"livingworld/server/internal/prompts"
	"livingworld/server/internal/rag"
	"livingworld/server/internal/world"
)

// ErrUnknownNPC is returned when the target NPC does not exist
var ErrUnknownNPC = errors.New("unknown npc")

const replySchemaJSON = `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string", "minLength": 1, "maxLength": 600},
    "emotion": {"type": "string", "maxLength": 40},
    "action": {"enum": ["idle", "walking", "talking", "working"]}
  }
}`

var replySchema = jsonschema.MustCompileString("mem://reply.schema.json", replySchemaJSON)

// Reply is what an NPC says back
type Reply struct {
	NPCID        string           `json:"npcId"`
	Text         string           `json:"text"`
	Emotion      string           `json:"emotion"`
	Action       models.NPCAction `json:"action"`
	Relationship int              `json:"relationship"`
	Generated    bool             `json:"generated"`
}

type Options struct {
	// ConversationTurns is how many past exchanges go into the prompt
	ConversationTurns int
	// RecallLimit caps semantic memories added to the prompt
	RecallLimit int
	Timeout     time.Duration
}

// Router answers player utterances on behalf of NPCs
type Router struct {
	store   *world.Store
	memory  *narrative.Memory
	textGen interfaces.TextGenerator
	recall  interfaces.RecallIndex
	prompts *prompts.TemplateEngine
	parser  *IntentParser
	opts    Options
	log     logrus.FieldLogger

	wg sync.WaitGroup
}

// NewRouter creates a router. textGen and recall may be nil.
func NewRouter(store *world.Store, memory *narrative.Memory, textGen interfaces.TextGenerator, recall interfaces.RecallIndex, opts Options, log logrus.FieldLogger) *Router {
	if opts.ConversationTurns <= 0 {
		opts.ConversationTurns = 10
	}
	if opts.RecallLimit <= 0 {
		opts.RecallLimit = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &Router{
		store:   store,
		memory:  memory,
		textGen: textGen,
		recall:  recall,
		prompts: prompts.NewTemplateEngine(),
		parser:  NewIntentParser(),
		opts:    opts,
		log:     log.WithField("component", "dialogue"),
	}
}

// Reply produces the NPC's answer. Every reply, generated or not, is added to
// the conversation buffer and moves the NPC's relationship with the player.
func (r *Router) Reply(ctx context.Context, playerID, npcID, utterance string) (*Reply, error) {
	npc, err := r.store.GetNPC(npcID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNPC, npcID)
	}
	playerName := playerID
	if p, err := r.store.GetPlayer(playerID); err == nil && p.Name != "" {
		playerName = p.Name
	}

	in := r.parser.Parse(utterance)
	history := r.memory.Conversation(playerID, npcID)

	var reply *Reply
	if r.textGen != nil {
		reply, err = r.generate(ctx, npc, playerID, playerName, in, history)
		if err != nil {
			r.log.WithError(err).WithField("npc", npcID).Warn("generative reply failed, using keyword fallback")
		}
	}
	if reply == nil {
		reply = fallbackReply(npc, playerName, in, r.memory.Relationship(npcID, playerID), len(history))
	}
	reply.NPCID = npcID

	r.memory.AppendConversation(playerID, npcID, narrative.Exchange{
		PlayerText: in.Text,
		NPCText:    reply.Text,
		Emotion:    reply.Emotion,
	})
	summary := fmt.Sprintf("%s said %q; %s answered %q", playerName, truncate(in.Text, 120), npc.Name, truncate(reply.Text, 120))
	reply.Relationship = r.memory.UpdateNPCMemory(npcID, playerID, narrative.InteractionInput{
		Action:  in.Action,
		Summary: summary,
		Topics:  in.Topics,
	})

	r.store.UpdateNPC(npcID, func(n *models.NPC) {
		n.CurrentAction = reply.Action
		if reply.Emotion != "" {
			n.Mood = reply.Emotion
		}
	})

	r.remember(playerID, npcID, summary)
	return reply, nil
}

func (r *Router) generate(ctx context.Context, npc models.NPC, playerID, playerName string, in Intent, history []narrative.Exchange) (*Reply, error) {
	nctx := r.memory.NPCContext(npc.ID, playerID)

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var recalled string
	if r.recall != nil {
		mems, err := r.recall.SearchMemories(ctx, npc.ID, playerID, in.Text, r.opts.RecallLimit)
		if err != nil {
			r.log.WithError(err).Debug("memory recall failed")
		}
		recalled = rag.BuildContextSummary(mems, r.opts.RecallLimit)
	}

	system, err := r.prompts.Render(prompts.DialogueSystem, dialogueVars(npc, nctx, recalled))
	if err != nil {
		return nil, err
	}
	user, err := r.prompts.Render(prompts.DialogueUser, prompts.Vars{"player_name": playerName, "utterance": in.Text})
	if err != nil {
		return nil, err
	}

	if len(history) > r.opts.ConversationTurns {
		history = history[len(history)-r.opts.ConversationTurns:]
	}
	msgs := make([]interfaces.Message, 0, 2*len(history)+2)
	msgs = append(msgs, interfaces.Message{Role: "system", Content: system})
	for _, ex := range history {
		msgs = append(msgs,
			interfaces.Message{Role: "user", Content: ex.PlayerText},
			interfaces.Message{Role: "assistant", Content: ex.NPCText},
		)
	}
	msgs = append(msgs, interfaces.Message{Role: "user", Content: user})

	raw, err := r.textGen.Complete(ctx, &interfaces.CompletionRequest{Messages: msgs, MaxTokens: 300, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("text generation: %w", err)
	}

	var doc struct {
		Text    string `json:"text"`
		Emotion string `json:"emotion"`
		Action  string `json:"action"`
	}
	if err := content.DecodeValidated(raw, replySchema, &doc); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: blank reply text", content.ErrInvalidContent)
	}
	out := &Reply{
		Text:      text,
		Emotion:   strings.TrimSpace(doc.Emotion),
		Action:    models.ActionTalking,
		Generated: true,
	}
	if doc.Action != "" {
		out.Action = models.ParseNPCAction(doc.Action)
	}
	if out.Emotion == "" {
		out.Emotion = npc.Mood
	}
	return out, nil
}

// remember indexes the exchange for later semantic recall without delaying the reply
func (r *Router) remember(playerID, npcID, summary string) {
	if r.recall == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
		defer cancel()
		err := r.recall.StoreMemory(ctx, &interfaces.Memory{
			Kind:     interfaces.MemoryDialogue,
			NPCID:    npcID,
			PlayerID: playerID,
			Content:  summary,
		})
		if err != nil {
			r.log.WithError(err).WithField("npc", npcID).Debug("failed to index dialogue memory")
		}
	}()
}

// Wait blocks until background memory indexing has finished
func (r *Router) Wait() {
	r.wg.Wait()
}

func dialogueVars(npc models.NPC, nctx narrative.NPCContext, recalled string) prompts.Vars {
	goals := "none in particular"
	if len(nctx.Goals) > 0 {
		goals = strings.Join(nctx.Goals, "; ")
	}
	topics := "nothing yet"
	if len(nctx.RecentTopics) > 0 {
		topics = strings.Join(nctx.RecentTopics, ", ")
	}
	var hints string
	if len(nctx.SecretsToHint) > 0 {
		hints = "You trust this traveller enough to hint at: " + strings.Join(nctx.SecretsToHint, " ")
	}
	return prompts.Vars{
		"npc_name":     npc.Name,
		"archetype":    string(npc.Archetype),
		"mood":         npc.Mood,
		"action":       string(npc.CurrentAction),
		"goals":        goals,
		"relationship": strconv.Itoa(nctx.Relationship),
		"topics":       topics,
		"secret_hints": hints,
		"recalled":     recalled,
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
