package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"livingworld/server/internal/config"
	"livingworld/server/internal/content"
	"livingworld/server/internal/dialogue"
	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/models"
	"livingworld/server/internal/narrative"
	"livingworld/server/internal/spatial"
	"livingworld/server/internal/world"
)

// ErrOutOfRange is returned when an interaction target is farther than the interaction distance
var ErrOutOfRange = errors.New("target out of range")

// Options are the orchestrator tunables
type Options struct {
	CellSize            float64
	LookaheadRadius     int
	// LoadRadius is the square radius of ready cells pushed to a player on
	// entering a cell. Loaded cells farther than UnloadRadius get cell_unload.
	LoadRadius          int
	UnloadRadius        int
	TickInterval        time.Duration
	InteractionDistance float64
	SnapshotEvents      int
	MaxConcurrent       int
	QueueSize           int
	IdleMin             time.Duration
	IdleMax             time.Duration
	// Seed drives idle behaviour choices
	Seed uint64
}

// OptionsFromConfig maps the world config section onto orchestrator options
func OptionsFromConfig(w config.WorldConfig) Options {
	return Options{
		CellSize:            w.CellSize,
		LookaheadRadius:     w.LookaheadRadius,
		LoadRadius:          w.LoadRadius,
		UnloadRadius:        w.UnloadRadius,
		TickInterval:        w.TickInterval,
		InteractionDistance: w.InteractionDistance,
		SnapshotEvents:      w.SnapshotEvents,
		MaxConcurrent:       w.MaxConcurrentGenerations,
		QueueSize:           w.GenerationQueueSize,
		IdleMin:             w.IdleMin,
		IdleMax:             w.IdleMax,
		Seed:                uint64(time.Now().UnixNano()),
	}
}

func (o *Options) applyDefaults() {
	if o.CellSize <= 0 {
		o.CellSize = 100
	}
	if o.LoadRadius < 0 {
		o.LoadRadius = 0
	}
	if o.UnloadRadius < o.LoadRadius {
		o.UnloadRadius = o.LoadRadius
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 5 * time.Second
	}
	if o.InteractionDistance <= 0 {
		o.InteractionDistance = 5
	}
	if o.SnapshotEvents <= 0 {
		o.SnapshotEvents = 20
	}
	if o.IdleMin <= 0 {
		o.IdleMin = 5 * time.Second
	}
	if o.IdleMax < o.IdleMin {
		o.IdleMax = o.IdleMin
	}
}

// Interaction is an inbound player action on an NPC or POI
type Interaction struct {
	PlayerID string `json:"playerId"`
	TargetID string `json:"targetId"`
	Action   string `json:"action"`
	Message  string `json:"message,omitempty"`
}

// NPCSpeech is the payload of npc_speak
type NPCSpeech struct {
	NPCID    string           `json:"npcId"`
	PlayerID string           `json:"playerId"`
	Text     string           `json:"text"`
	Emotion  string           `json:"emotion,omitempty"`
	Action   models.NPCAction `json:"action,omitempty"`
}

// Stats are orchestrator counters
type Stats struct {
	Ticks         int64      `json:"ticks"`
	SkippedTicks  int64      `json:"skipped_ticks"`
	TickPanics    int64      `json:"tick_panics"`
	Generated     int64      `json:"generated"`
	Generative    int64      `json:"generative"`
	Failures      int64      `json:"failures"`
	Rejected      int64      `json:"rejected"`
	InFlight      int        `json:"in_flight"`
	QueueDepth    int        `json:"queue_depth"`
	IdleScheduled int        `json:"idle_scheduled"`
	NextIdle      *time.Time `json:"next_idle,omitempty"`
}

// view is what one player has been sent: the cell they stand in and the
// ready cells pushed to them since.
type view struct {
	center spatial.CellID
	loaded map[string]spatial.CellID
}

// Orchestrator drives world expansion: lookahead generation, interaction
// handling and NPC idle behaviour on top of the world store.
type Orchestrator struct {
	store     *world.Store
	memory    *narrative.Memory
	generator content.Generator
	dialogue  *dialogue.Router
	notifier  interfaces.Notifier
	opts      Options
	log       logrus.FieldLogger

	queue *GenerationQueue
	idle  *IdleScheduler

	// mu guards the in-flight set and player views. Check and mark of a
	// cell happen under one acquisition.
	mu       sync.Mutex
	inFlight map[string]struct{}
	views    map[string]*view

	rngMu sync.Mutex
	rng   *rand.Rand

	nowMu sync.RWMutex
	now   func() time.Time

	tickRunning atomic.Bool
	ticks       atomic.Int64
	skipped     atomic.Int64
	tickPanics  atomic.Int64
	generated   atomic.Int64
	generative  atomic.Int64
	failures    atomic.Int64
	rejected    atomic.Int64
}

// NewOrchestrator wires the orchestrator. router may be nil, in which case talk
// interactions only update NPC memory. Call Start or Run to begin processing.
func NewOrchestrator(store *world.Store, memory *narrative.Memory, gen content.Generator, router *dialogue.Router, notifier interfaces.Notifier, opts Options, log logrus.FieldLogger) *Orchestrator {
	opts.applyDefaults()
	if notifier == nil {
		notifier = interfaces.NopNotifier{}
	}
	o := &Orchestrator{
		store:     store,
		memory:    memory,
		generator: gen,
		dialogue:  router,
		notifier:  notifier,
		opts:      opts,
		log:       log.WithField("component", "orchestrator"),
		idle:      NewIdleScheduler(),
		inFlight:  make(map[string]struct{}),
		views:     make(map[string]*view),
		rng:       rand.New(rand.NewPCG(opts.Seed, 0x9E3779B97F4A7C15)),
		now:       time.Now,
	}
	o.queue = NewGenerationQueue(opts.QueueSize, opts.MaxConcurrent, o.generate, o.log)
	return o
}

// SetClock replaces the time source
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.nowMu.Lock()
	o.now = now
	o.nowMu.Unlock()
}

func (o *Orchestrator) clock() time.Time {
	o.nowMu.RLock()
	defer o.nowMu.RUnlock()
	return o.now()
}

// Start launches the generation workers and schedules idle behaviour for
// every NPC already in the store.
func (o *Orchestrator) Start(ctx context.Context) {
	now := o.clock()
	for _, id := range o.store.NPCIDs() {
		o.idle.Schedule(id, now.Add(o.idleDelay()))
	}
	o.queue.Start(ctx)
}

// Run ticks at the configured interval until ctx is done. A tick that is
// still running when the next one is due causes that one to be skipped.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Start(ctx)
	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	o.log.WithField("interval", o.opts.TickInterval).Info("orchestrator started")
	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopped")
			return
		case <-ticker.C:
			o.runTick(ctx)
		}
	}
}

// runTick executes one tick, recovering panics so the loop keeps going
func (o *Orchestrator) runTick(ctx context.Context) {
	if !o.tickRunning.CompareAndSwap(false, true) {
		o.skipped.Inc()
		return
	}
	defer o.tickRunning.Store(false)
	defer func() {
		if r := recover(); r != nil {
			o.tickPanics.Inc()
			o.log.Errorf("tick panicked: %v", r)
		}
	}()
	o.Tick(ctx)
}

// Tick records visits of active players, schedules generation for their
// lookahead cells nearest first and runs due idle behaviour. It returns the
// number of cells scheduled.
func (o *Orchestrator) Tick(ctx context.Context) int {
	now := o.clock()
	scheduled := 0
	for _, p := range o.store.ActivePlayers(now) {
		center := spatial.CellOf(p.Position, o.opts.CellSize)
		if o.memory.RecordVisit(p.ID, center.Key()) {
			o.notifyReveals(p.ID, o.memory.CheckSecretReveals(p.ID, ""))
		}

		ids := spatial.CellsInRadius(center, o.opts.LookaheadRadius)
		sort.SliceStable(ids, func(i, j int) bool {
			return spatial.Distance(center, ids[i]) < spatial.Distance(center, ids[j])
		})
		for _, id := range ids {
			if o.schedule(id) {
				scheduled++
			}
		}
	}
	o.processIdle(now)
	o.ticks.Inc()
	return scheduled
}

// schedule marks a cell in flight and queues it unless it is ready,
// generating or already in flight.
func (o *Orchestrator) schedule(id spatial.CellID) bool {
	key := id.Key()

	o.mu.Lock()
	if _, busy := o.inFlight[key]; busy {
		o.mu.Unlock()
		return false
	}
	if cell, ok := o.store.GetCell(key); ok && !cell.Status.NeedsGeneration() {
		o.mu.Unlock()
		return false
	}
	o.inFlight[key] = struct{}{}
	o.mu.Unlock()

	o.store.UpsertCell(id, world.WithStatus(models.CellGenerating))
	if err := o.queue.Enqueue(id); err != nil {
		o.rejected.Inc()
		o.store.UpsertCell(id, world.WithStatus(models.CellPending))
		o.release(key)
		o.log.WithField("cell", key).WithError(err).Warn("generation not scheduled")
		return false
	}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	delete(o.inFlight, key)
	o.mu.Unlock()
}

// generate is the queue handler for one cell. The cell always leaves the
// in-flight set, including when the generator panics.
func (o *Orchestrator) generate(ctx context.Context, id spatial.CellID) {
	key := id.Key()
	defer o.release(key)
	defer func() {
		if r := recover(); r != nil {
			o.fail(id, fmt.Errorf("generator panicked: %v", r))
		}
	}()

	start := time.Now()
	out, err := o.generator.Generate(ctx, o.buildRequest(id))
	if err != nil {
		o.fail(id, err)
		return
	}
	if out == nil {
		o.fail(id, errors.New("generator returned no content"))
		return
	}

	now := o.clock()
	cell := o.store.CommitCell(id, out.POIs, out.NPCs, out.Source, now)
	for _, n := range out.NPCs {
		o.memory.RegisterNPC(n.ID, n.Name, string(n.Archetype))
		o.idle.Schedule(n.ID, now.Add(o.idleDelay()))
	}
	o.generated.Inc()
	if out.Source == models.SourceGenerative {
		o.generative.Inc()
	}

	o.store.AppendEvent(models.WorldEvent{
		Type:   models.EventChunkGenerated,
		CellID: key,
		Payload: map[string]interface{}{
			"source": string(out.Source),
			"biome":  string(cell.Biome),
			"pois":   len(cell.POIs),
			"npcs":   len(cell.NPCIDs),
		},
	})
	o.notifier.Broadcast(interfaces.MsgCellReady, cell)
	o.markLoaded(id)
	o.log.WithFields(logrus.Fields{
		"cell":     key,
		"source":   out.Source,
		"duration": time.Since(start),
	}).Debug("cell ready")
}

func (o *Orchestrator) fail(id spatial.CellID, err error) {
	o.failures.Inc()
	msg := err.Error()
	status := models.CellError
	o.store.UpsertCell(id, world.CellUpdate{Status: &status, LastError: &msg})
	o.log.WithField("cell", id.Key()).WithError(err).Error("cell generation failed")
}

// buildRequest assembles the context bundle for one cell
func (o *Orchestrator) buildRequest(id spatial.CellID) content.Request {
	now := o.clock()
	var bundle content.ContextBundle

	for _, n := range spatial.Neighbors(id) {
		cell, ok := o.store.GetCell(n.Key())
		if !ok {
			continue
		}
		s := content.NeighborSummary{ID: cell.ID, Biome: cell.Biome, Status: cell.Status}
		for _, p := range cell.POIs {
			s.POINames = append(s.POINames, p.Name)
		}
		bundle.Neighbors = append(bundle.Neighbors, s)
	}
	for _, p := range o.store.ActivePlayers(now) {
		bundle.Players = append(bundle.Players, o.memory.ProfileSummary(p.ID, p.Name))
	}
	for _, e := range o.store.RecentEvents(o.opts.SnapshotEvents) {
		bundle.Events = append(bundle.Events, describeEvent(e))
	}
	for _, t := range o.memory.ActiveThreads() {
		bundle.Narratives = append(bundle.Narratives, fmt.Sprintf("%s (%s, %.0f%%)", t.Name, t.Status, t.PlayerProgress*100))
	}

	return content.Request{
		Cell:     id,
		Biome:    spatial.BiomeOf(id),
		CellSize: o.opts.CellSize,
		Context:  bundle,
	}
}

func describeEvent(e models.WorldEvent) string {
	s := string(e.Type)
	if e.PlayerID != "" {
		s += " by " + e.PlayerID
	}
	if e.CellID != "" {
		s += " in " + e.CellID
	}
	if name, ok := e.Payload["name"].(string); ok {
		s += ": " + name
	}
	return s
}

// HandleJoin registers a connecting player. Positions outside the world
// bounds are rejected with spatial.ErrOutOfBounds.
func (o *Orchestrator) HandleJoin(playerID, name string, pos spatial.Vec3) (models.Player, error) {
	if err := spatial.CheckPosition(pos, o.opts.CellSize); err != nil {
		return models.Player{}, err
	}
	now := o.clock()
	p := models.Player{ID: playerID, Name: name, Position: pos, LastUpdate: now}
	o.store.UpsertPlayer(p)
	o.store.AppendEvent(models.WorldEvent{
		Type:     models.EventPlayerJoin,
		PlayerID: playerID,
		Payload:  map[string]interface{}{"name": name},
	})
	o.touch(playerID, spatial.CellOf(pos, o.opts.CellSize))
	o.notifier.Broadcast(interfaces.MsgPlayerJoined, p)
	return p, nil
}

// HandleLeave removes a disconnecting player. Unknown ids are ignored.
func (o *Orchestrator) HandleLeave(playerID string) {
	p, err := o.store.GetPlayer(playerID)
	if err != nil {
		return
	}
	o.store.RemovePlayer(playerID)
	o.mu.Lock()
	delete(o.views, playerID)
	o.mu.Unlock()

	profile := o.memory.Profile(playerID)
	o.memory.RecordSession(playerID, fmt.Sprintf("%s left after visiting %d cells as a %s",
		p.Name, len(profile.VisitedCells), profile.Playstyle))
	o.store.AppendEvent(models.WorldEvent{
		Type:     models.EventPlayerLeave,
		PlayerID: playerID,
		Payload:  map[string]interface{}{"name": p.Name},
	})
	o.notifier.Broadcast(interfaces.MsgPlayerLeft, map[string]string{"playerId": playerID})
}

// HandlePosition updates a player and, when the player entered a new cell,
// creates the surrounding 3x3 cells as pending. It reports whether the cell
// changed. Positions outside the world bounds are rejected with
// spatial.ErrOutOfBounds and leave the player untouched.
func (o *Orchestrator) HandlePosition(_ context.Context, playerID, name string, pos spatial.Vec3, rotation float64, velocity spatial.Vec3) (bool, error) {
	if err := spatial.CheckPosition(pos, o.opts.CellSize); err != nil {
		return false, err
	}
	now := o.clock()
	if name == "" {
		if prev, err := o.store.GetPlayer(playerID); err == nil {
			name = prev.Name
		}
	}
	p := models.Player{
		ID:         playerID,
		Name:       name,
		Position:   pos,
		Rotation:   rotation,
		Velocity:   velocity,
		LastUpdate: now,
	}
	o.store.UpsertPlayer(p)
	o.notifier.Broadcast(interfaces.MsgPlayerMoved, p)
	return o.touch(playerID, spatial.CellOf(pos, o.opts.CellSize)), nil
}

// touch handles a player entering cell: unloads cells left behind, creates
// the 3x3 block as pending and pushes ready cells within the load radius.
func (o *Orchestrator) touch(playerID string, cell spatial.CellID) bool {
	key := cell.Key()
	o.mu.Lock()
	v, ok := o.views[playerID]
	if ok && v.center == cell {
		o.mu.Unlock()
		return false
	}
	if !ok {
		v = &view{loaded: make(map[string]spatial.CellID)}
		o.views[playerID] = v
	}
	v.center = cell
	var unload []string
	for k, id := range v.loaded {
		if o.beyondUnload(cell, id) {
			delete(v.loaded, k)
			unload = append(unload, k)
		}
	}
	o.mu.Unlock()
	sort.Strings(unload)
	for _, k := range unload {
		o.notifier.SendTo(playerID, interfaces.MsgCellUnload, map[string]string{"cellId": k})
	}

	o.store.EnsureCells(spatial.CellsInRadius(cell, 1))

	var load []models.Cell
	o.mu.Lock()
	for _, id := range spatial.CellsInRadius(cell, o.opts.LoadRadius) {
		k := id.Key()
		if _, sent := v.loaded[k]; sent {
			continue
		}
		if c, ok := o.store.GetCell(k); ok && c.Status == models.CellReady {
			v.loaded[k] = id
			load = append(load, c)
		}
	}
	o.mu.Unlock()
	for _, c := range load {
		o.notifier.SendTo(playerID, interfaces.MsgCellReady, c)
	}

	if o.memory.RecordVisit(playerID, key) {
		o.notifyReveals(playerID, o.memory.CheckSecretReveals(playerID, ""))
	}
	return true
}

// beyondUnload reports whether a loaded cell should be dropped for a player
// standing in center. Cells inside the load square are always kept.
func (o *Orchestrator) beyondUnload(center, id spatial.CellID) bool {
	if withinSquare(center, id, o.opts.LoadRadius) {
		return false
	}
	return spatial.Distance(center, id) > float64(o.opts.UnloadRadius)
}

// markLoaded records a freshly broadcast cell as loaded for every player
// whose load square contains it.
func (o *Orchestrator) markLoaded(id spatial.CellID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, v := range o.views {
		if withinSquare(v.center, id, o.opts.LoadRadius) {
			v.loaded[id.Key()] = id
		}
	}
}

func withinSquare(center, id spatial.CellID, r int) bool {
	dx, dz := id.X-center.X, id.Z-center.Z
	return dx >= -r && dx <= r && dz >= -r && dz <= r
}

// RequestCell validates an external cell id. A ready cell is returned with
// ready=true; otherwise generation is scheduled and the current state returned.
func (o *Orchestrator) RequestCell(_ context.Context, playerID, cellKey string) (models.Cell, bool, error) {
	id, err := spatial.ParseCellID(cellKey)
	if err != nil {
		return models.Cell{}, false, err
	}
	if cell, ok := o.store.GetCell(id.Key()); ok && cell.Status == models.CellReady {
		return cell, true, nil
	}
	o.store.EnsureCells([]spatial.CellID{id})
	if o.schedule(id) {
		o.log.WithFields(logrus.Fields{"cell": id.Key(), "player": playerID}).Debug("cell requested")
	}
	cell, _ := o.store.GetCell(id.Key())
	return cell, false, nil
}

// HandleInteraction routes an action to an NPC or POI. Stale player or target
// ids are ignored. Targets beyond the interaction distance yield ErrOutOfRange.
func (o *Orchestrator) HandleInteraction(ctx context.Context, in Interaction) error {
	player, err := o.store.GetPlayer(in.PlayerID)
	if err != nil {
		return nil
	}
	if npc, err := o.store.GetNPC(in.TargetID); err == nil {
		return o.interactNPC(ctx, player, npc, in)
	}
	if poi, ok := o.store.FindPOI(in.TargetID); ok {
		return o.interactPOI(player, poi)
	}
	return nil
}

func (o *Orchestrator) interactNPC(ctx context.Context, player models.Player, npc models.NPC, in Interaction) error {
	if spatial.DistanceXZ(player.Position, npc.Position) > o.opts.InteractionDistance {
		return fmt.Errorf("%w: %s", ErrOutOfRange, npc.ID)
	}
	action := in.Action
	if action == "" {
		action = "talk"
	}

	yaw := math.Atan2(player.Position.X-npc.Position.X, player.Position.Z-npc.Position.Z)
	updated, err := o.store.UpdateNPC(npc.ID, func(n *models.NPC) {
		n.Rotation = yaw
		n.CurrentAction = models.ActionTalking
	})
	if err != nil {
		return nil
	}
	now := o.clock()
	o.idle.Schedule(npc.ID, now.Add(o.opts.IdleMax))
	o.notifier.Broadcast(interfaces.MsgNPCUpdated, updated)

	if action == "talk" && in.Message != "" && o.dialogue != nil {
		reply, err := o.dialogue.Reply(ctx, player.ID, npc.ID, in.Message)
		if err != nil {
			return nil
		}
		o.notifier.Broadcast(interfaces.MsgNPCSpeak, NPCSpeech{
			NPCID:    npc.ID,
			PlayerID: player.ID,
			Text:     reply.Text,
			Emotion:  reply.Emotion,
			Action:   reply.Action,
		})
		o.store.AppendEvent(models.WorldEvent{
			Type:     models.EventNPCDialogue,
			PlayerID: player.ID,
			NPCID:    npc.ID,
			CellID:   npc.CellID,
			Payload:  map[string]interface{}{"text": reply.Text, "emotion": reply.Emotion},
		})
		if after, err := o.store.GetNPC(npc.ID); err == nil {
			o.notifier.Broadcast(interfaces.MsgNPCUpdated, after)
		}
	} else {
		o.memory.UpdateNPCMemory(npc.ID, player.ID, narrative.InteractionInput{
			Action:  action,
			Summary: fmt.Sprintf("%s chose to %s %s", player.Name, action, npc.Name),
		})
	}

	o.progressNarrative(player.ID, action+":"+string(npc.Archetype))
	return nil
}

func (o *Orchestrator) interactPOI(player models.Player, poi models.POI) error {
	if spatial.DistanceXZ(player.Position, poi.Position) > o.opts.InteractionDistance {
		return fmt.Errorf("%w: %s", ErrOutOfRange, poi.ID)
	}
	stored, changed, err := o.store.DiscoverPOI(poi.CellID, poi.ID, player.ID, o.clock())
	if err != nil || !changed {
		return nil
	}
	o.store.AppendEvent(models.WorldEvent{
		Type:     models.EventDiscovery,
		PlayerID: player.ID,
		CellID:   stored.CellID,
		Payload:  map[string]interface{}{"poi_id": stored.ID, "name": stored.Name, "type": string(stored.Type)},
	})
	o.notifier.Broadcast(interfaces.MsgPOIDiscovered, stored)
	o.progressNarrative(player.ID, "discover:"+string(stored.Type))
	return nil
}

// progressNarrative evaluates secrets and threads for one player action
func (o *Orchestrator) progressNarrative(playerID, action string) {
	o.notifyReveals(playerID, o.memory.CheckSecretReveals(playerID, action))

	for _, u := range o.memory.AdvanceNarrative(playerID, action) {
		o.notifier.SendTo(playerID, interfaces.MsgNarrativeUpdate, u)
		if !u.StatusChanged() {
			continue
		}
		switch {
		case u.PreviousStatus == narrative.StatusSeeded:
			o.store.AppendEvent(models.WorldEvent{
				Type:     models.EventQuestStart,
				PlayerID: playerID,
				Payload:  map[string]interface{}{"thread_id": u.ThreadID, "name": u.Name},
			})
		case u.Status == narrative.StatusResolved:
			o.store.AppendEvent(models.WorldEvent{
				Type:     models.EventQuestComplete,
				PlayerID: playerID,
				Payload:  map[string]interface{}{"thread_id": u.ThreadID, "name": u.Name},
			})
		}
	}
}

func (o *Orchestrator) notifyReveals(playerID string, reveals []narrative.Reveal) {
	for _, r := range reveals {
		o.notifier.SendTo(playerID, interfaces.MsgNarrativeHint, r)
		if r.Full {
			o.store.AppendEvent(models.WorldEvent{
				Type:     models.EventDiscovery,
				PlayerID: playerID,
				Payload:  map[string]interface{}{"secret_id": r.SecretID},
			})
		}
	}
}

// processIdle gives every due NPC a new idle action and reschedules it
func (o *Orchestrator) processIdle(now time.Time) {
	for _, id := range o.idle.PopDue(now) {
		npc, err := o.store.GetNPC(id)
		if err != nil {
			continue
		}
		action, dx, dz := o.idleStep()
		updated, err := o.store.UpdateNPC(id, func(n *models.NPC) {
			n.CurrentAction = action
			if action != models.ActionWalking {
				return
			}
			cell, err := spatial.ParseCellID(n.CellID)
			if err != nil {
				return
			}
			originX, originZ, size := spatial.Bounds(cell, o.opts.CellSize)
			n.Position.X = clamp(n.Position.X+dx, originX, originX+size-0.01)
			n.Position.Z = clamp(n.Position.Z+dz, originZ, originZ+size-0.01)
			n.Rotation = math.Atan2(dx, dz)
		})
		if err != nil {
			continue
		}
		if updated.CurrentAction != npc.CurrentAction || updated.Position != npc.Position {
			o.notifier.Broadcast(interfaces.MsgNPCUpdated, updated)
		}
		o.idle.Schedule(id, now.Add(o.idleDelay()))
	}
}

var idleActions = []models.NPCAction{models.ActionIdle, models.ActionWalking, models.ActionWorking}

func (o *Orchestrator) idleStep() (models.NPCAction, float64, float64) {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	action := idleActions[o.rng.IntN(len(idleActions))]
	angle := o.rng.Float64() * 2 * math.Pi
	dist := 1 + o.rng.Float64()*4
	return action, math.Sin(angle) * dist, math.Cos(angle) * dist
}

func (o *Orchestrator) idleDelay() time.Duration {
	spread := o.opts.IdleMax - o.opts.IdleMin
	if spread <= 0 {
		return o.opts.IdleMin
	}
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return o.opts.IdleMin + time.Duration(o.rng.Int64N(int64(spread)))
}

// Wait blocks until all queued generation has finished
func (o *Orchestrator) Wait() {
	o.queue.Wait()
}

// Stats returns a snapshot of the counters
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	inFlight := len(o.inFlight)
	o.mu.Unlock()
	var next *time.Time
	if at, ok := o.idle.Next(); ok {
		next = &at
	}
	return Stats{
		Ticks:         o.ticks.Load(),
		SkippedTicks:  o.skipped.Load(),
		TickPanics:    o.tickPanics.Load(),
		Generated:     o.generated.Load(),
		Generative:    o.generative.Load(),
		Failures:      o.failures.Load(),
		Rejected:      o.rejected.Load(),
		InFlight:      inFlight,
		QueueDepth:    o.queue.Depth(),
		IdleScheduled: o.idle.Len(),
		NextIdle:      next,
	}
}

// InFlight reports whether a cell is currently being generated
func (o *Orchestrator) InFlight(cellKey string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[cellKey]
	return ok
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
