package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	World       WorldConfig       `yaml:"world"`
	Narrative   NarrativeConfig   `yaml:"narrative"`
	AI          AIConfig          `yaml:"ai"`
	Database    DatabaseConfig    `yaml:"database"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// WorldConfig holds the options consumed by the store and orchestrator at construction
type WorldConfig struct {
	CellSize                 float64       `yaml:"cell_size"`
	LoadRadius               int           `yaml:"load_radius"`
	UnloadRadius             int           `yaml:"unload_radius"`
	LookaheadRadius          int           `yaml:"lookahead_radius"`
	TickInterval             time.Duration `yaml:"tick_interval"`
	InteractionDistance      float64       `yaml:"interaction_distance"`
	EventRetention           int           `yaml:"event_retention"`
	ConversationRetention    int           `yaml:"conversation_retention"`
	LivenessTimeout          time.Duration `yaml:"liveness_timeout"`
	SnapshotEvents           int           `yaml:"snapshot_events"`
	MaxConcurrentGenerations int           `yaml:"max_concurrent_generations"`
	GenerationQueueSize      int           `yaml:"generation_queue_size"`
	IdleMin                  time.Duration `yaml:"idle_min"`
	IdleMax                  time.Duration `yaml:"idle_max"`
}

// NarrativeConfig holds tuning constants for narrative memory
type NarrativeConfig struct {
	ProgressIncrement         float64 `yaml:"progress_increment"`
	ClimaxThreshold           float64 `yaml:"climax_threshold"`
	InteractionHistory        int     `yaml:"interaction_history"`
	HintRelationshipThreshold int     `yaml:"hint_relationship_threshold"`
}

type DatabaseConfig struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
	// ArchiveEvents mirrors every world event into the sqlite events table.
	ArchiveEvents bool `yaml:"archive_events"`
}

type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
}

type AIConfig struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	CacheSize int    `yaml:"cache_size"`
}

type PersistenceConfig struct {
	// Backend is one of none, file, redis, mysql, sqlite
	Backend  string        `yaml:"backend"`
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration usable without any config file
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		World: WorldConfig{
			CellSize:                 100,
			LoadRadius:               2,
			UnloadRadius:             4,
			LookaheadRadius:          2,
			TickInterval:             5 * time.Second,
			InteractionDistance:      5,
			EventRetention:           1000,
			ConversationRetention:    10,
			LivenessTimeout:          60 * time.Second,
			SnapshotEvents:           20,
			MaxConcurrentGenerations: 4,
			GenerationQueueSize:      256,
			IdleMin:                  5 * time.Second,
			IdleMax:                  15 * time.Second,
		},
		Narrative: NarrativeConfig{
			ProgressIncrement:         0.1,
			ClimaxThreshold:           0.7,
			InteractionHistory:        50,
			HintRelationshipThreshold: 20,
		},
		AI: AIConfig{
			LLM: LLMConfig{
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				MaxTokens:   1024,
				Temperature: 0.8,
				Timeout:     20 * time.Second,
				MaxRetries:  2,
			},
			Embedding: EmbeddingConfig{
				Model:     "text-embedding-3-small",
				CacheSize: 1000,
			},
		},
		Database: DatabaseConfig{
			MySQL: MySQLConfig{
				Host:            "localhost",
				Port:            3306,
				Username:        "root",
				Database:        "living_world",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{
				Host:      "localhost",
				Port:      6379,
				PoolSize:  10,
				KeyPrefix: "livingworld:",
			},
			SQLite: SQLiteConfig{
				Path: "data/world.sqlite",
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "npc_memories",
				VectorSize: 1536,
			},
		},
		Persistence: PersistenceConfig{
			Backend:  "file",
			Dir:      "data",
			Interval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads configuration from a YAML file on top of Default().
// A missing file is not an error; the defaults are returned instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// keep defaults
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides
func (c *Config) applyEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.AI.LLM.APIKey = apiKey
	}
	if apiKey := os.Getenv("LW_LLM_API_KEY"); apiKey != "" {
		c.AI.LLM.APIKey = apiKey
	}
	if c.AI.Embedding.APIKey == "" {
		c.AI.Embedding.APIKey = c.AI.LLM.APIKey
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		c.Database.Qdrant.APIKey = apiKey
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Database.Redis.Password = pw
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if f := os.Getenv("LOG_FORMAT"); f != "" {
		c.Logging.Format = f
	}
}

// Validate rejects option combinations the world cannot run with
func (c *Config) Validate() error {
	w := c.World
	if w.CellSize <= 0 {
		return fmt.Errorf("world.cell_size must be positive, got %v", w.CellSize)
	}
	if w.LookaheadRadius < 0 || w.LoadRadius < 0 {
		return fmt.Errorf("world radii must not be negative")
	}
	if w.UnloadRadius < w.LoadRadius {
		return fmt.Errorf("world.unload_radius (%d) must be >= load_radius (%d)", w.UnloadRadius, w.LoadRadius)
	}
	if w.TickInterval <= 0 {
		return fmt.Errorf("world.tick_interval must be positive")
	}
	if w.EventRetention <= 0 || w.ConversationRetention <= 0 {
		return fmt.Errorf("world retention counts must be positive")
	}
	if w.MaxConcurrentGenerations <= 0 || w.GenerationQueueSize <= 0 {
		return fmt.Errorf("world generation pool sizes must be positive")
	}
	if w.IdleMax < w.IdleMin {
		return fmt.Errorf("world.idle_max must be >= idle_min")
	}

	n := c.Narrative
	if n.ProgressIncrement <= 0 || n.ProgressIncrement > 1 {
		return fmt.Errorf("narrative.progress_increment must be in (0,1], got %v", n.ProgressIncrement)
	}
	if n.ClimaxThreshold <= 0 || n.ClimaxThreshold >= 1 {
		return fmt.Errorf("narrative.climax_threshold must be in (0,1), got %v", n.ClimaxThreshold)
	}

	switch c.Persistence.Backend {
	case "", "none", "file", "redis", "mysql", "sqlite":
	default:
		return fmt.Errorf("unknown persistence backend %q", c.Persistence.Backend)
	}
	return nil
}

// Addr is the listen address of the HTTP server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GenerativeEnabled reports whether the generative backend has credentials
func (a AIConfig) GenerativeEnabled() bool {
	return a.LLM.APIKey != ""
}
