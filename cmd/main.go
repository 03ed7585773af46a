package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"livingworld/server/internal/config"
	"livingworld/server/internal/content"
	"livingworld/server/internal/dialogue"
	"livingworld/server/internal/engine"
	"livingworld/server/internal/interfaces"
	"livingworld/server/internal/llm"
	"livingworld/server/internal/logging"
	"livingworld/server/internal/narrative"
	"livingworld/server/internal/rag"
	"livingworld/server/internal/storage"
	"livingworld/server/internal/web"
	"livingworld/server/internal/world"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := world.NewStore(world.Options{
		EventRetention:  cfg.World.EventRetention,
		LivenessTimeout: cfg.World.LivenessTimeout,
	}, log)
	memory := narrative.New(narrative.Options{
		ProgressIncrement:         cfg.Narrative.ProgressIncrement,
		ClimaxThreshold:           cfg.Narrative.ClimaxThreshold,
		InteractionHistory:        cfg.Narrative.InteractionHistory,
		HintRelationshipThreshold: cfg.Narrative.HintRelationshipThreshold,
		ConversationRetention:     cfg.World.ConversationRetention,
	}, log)

	// Persistence
	var checkpoints *storage.CheckpointManager
	checkpointer, err := storage.Open(cfg, log)
	if err != nil {
		log.WithError(err).Warn("checkpoint backend unavailable, state will not persist")
		checkpointer = nil
	}
	if checkpointer != nil {
		defer checkpointer.Close()
		checkpoints = storage.NewCheckpointManager(checkpointer, store, memory, cfg.Persistence.Interval, log)
		loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := checkpoints.Load(loadCtx); err != nil {
			log.WithError(err).Error("failed to load checkpoints, starting fresh")
		}
		cancel()
	}
	memory.SeedDefaults()

	var archive *storage.SQLiteIndex
	if cfg.Database.SQLite.ArchiveEvents {
		var ok bool
		archive, ok = checkpointer.(*storage.SQLiteIndex)
		if !ok {
			archive, err = storage.OpenSQLite(cfg.Database.SQLite.Path, log)
			if err != nil {
				log.WithError(err).Warn("event archive unavailable")
				archive = nil
			} else {
				defer archive.Close()
			}
		}
		if archive != nil {
			store.SetEventSink(archive)
			log.WithField("path", cfg.Database.SQLite.Path).Info("archiving world events to sqlite")
		}
	}

	// Generative backend
	var textGen interfaces.TextGenerator
	var llmClient *llm.Client
	if cfg.AI.GenerativeEnabled() {
		llmClient = llm.NewClient(cfg.AI, log)
		textGen = llmClient
	} else {
		log.Warn("no LLM API key provided, using procedural content and keyword dialogue")
	}
	generator := content.New(cfg.AI, textGen, log)

	recall, closeRecall := buildRecall(ctx, cfg, llmClient, log)
	defer closeRecall()

	hub := web.NewHub(log)
	go hub.Run(ctx)

	router := dialogue.NewRouter(store, memory, textGen, recall, dialogue.Options{
		ConversationTurns: cfg.World.ConversationRetention,
		RecallLimit:       3,
		Timeout:           cfg.AI.LLM.Timeout,
	}, log)

	orch := engine.NewOrchestrator(store, memory, generator, router, hub, engine.OptionsFromConfig(cfg.World), log)
	orch.SeedSpawn()
	go orch.Run(ctx)

	var background sync.WaitGroup
	if checkpoints != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			checkpoints.Run(ctx)
		}()
	}

	srv := web.NewServer(ctx, cfg, store, memory, orch, hub, log)
	if archive != nil {
		srv.SetArchive(archive)
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      web.NewRouter(srv),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}

	drained := make(chan struct{})
	go func() {
		orch.Wait()
		router.Wait()
		background.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn("shutdown timed out with work still in flight")
	}

	log.Info("server stopped")
}

// buildRecall sets up semantic NPC recall when an embedding key is present.
// Qdrant is used when enabled and reachable, an in-process index otherwise.
func buildRecall(ctx context.Context, cfg *config.Config, llmClient *llm.Client, log logrus.FieldLogger) (interfaces.RecallIndex, func()) {
	noop := func() {}
	if cfg.AI.Embedding.APIKey == "" {
		return nil, noop
	}

	backend := llmClient
	if backend == nil || cfg.AI.Embedding.APIKey != cfg.AI.LLM.APIKey {
		aiCfg := cfg.AI
		aiCfg.LLM.APIKey = cfg.AI.Embedding.APIKey
		backend = llm.NewClient(aiCfg, log)
	}
	embedder := rag.NewEmbeddingService(backend, cfg.AI.Embedding.CacheSize, log)

	var points rag.PointStore = rag.NewLocalStore()
	if cfg.Database.Qdrant.Enabled {
		qs, err := rag.NewQdrantStore(cfg.Database.Qdrant, log)
		if err != nil {
			log.WithError(err).Warn("qdrant unavailable, using in-process recall index")
		} else {
			initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = qs.InitializeCollection(initCtx)
			cancel()
			if err != nil {
				log.WithError(err).Warn("failed to initialize qdrant collection, using in-process recall index")
				qs.Close()
			} else {
				points = qs
				log.WithField("collection", cfg.Database.Qdrant.Collection).Info("qdrant recall enabled")
			}
		}
	}

	return rag.NewMemoryStore(points, embedder, log), func() { points.Close() }
}
