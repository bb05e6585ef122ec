// Package config provides configuration management for contextd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid indicates the configuration failed validation at startup.
// This is the only error the enrichment pipeline ever propagates to its
// caller; everything else degrades to defaults on the hot path.
var ErrInvalid = errors.New("invalid configuration")

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38100

	// DefaultRuntimeBaseURL is the local LLM runtime endpoint.
	DefaultRuntimeBaseURL = "http://127.0.0.1:11434"

	// DefaultEmbeddingDim is the embedding dimension the corpora carry.
	DefaultEmbeddingDim = 1024
)

// RuntimeConfig configures the external LLM runtime client.
type RuntimeConfig struct {
	BaseURL         string        `yaml:"baseUrl"`
	EmbedModel      string        `yaml:"embedModel"`
	EmbeddingDim    int           `yaml:"embeddingDim"`
	EmbedTimeout    time.Duration `yaml:"embedTimeout"`
	GenerateTimeout time.Duration `yaml:"generateTimeout"`
	OverallBudget   time.Duration `yaml:"overallBudget"`
}

// VectorIndexConfig configures the in-memory vector index.
type VectorIndexConfig struct {
	Enabled      bool `yaml:"enabled"`
	StaleAfterMs int  `yaml:"staleAfterMs"`
}

// ShortTermConfig bounds the recent-history window.
type ShortTermConfig struct {
	MaxMessages      int    `yaml:"maxMessages"`
	MaxTokenEstimate int    `yaml:"maxTokenEstimate"`
	Tokenizer        string `yaml:"tokenizer"` // "heuristic" or "cl100k"
}

// RAGConfig holds the default retrieval parameters before shaping.
type RAGConfig struct {
	TopK     int      `yaml:"topK"`
	MinScore float64  `yaml:"minScore"`
	Sources  []string `yaml:"sources"`
	InjectAs string   `yaml:"injectAs"`
}

// RoutingConfig configures the message classifier.
type RoutingConfig struct {
	Model        string `yaml:"model"`
	Fallback     string `yaml:"fallback"`
	EnforceModel bool   `yaml:"enforceModel"`
}

// FeaturesConfig toggles optional pipeline behavior.
type FeaturesConfig struct {
	SkipLogic          bool `yaml:"skipLogic"`
	EmbeddingCache     bool `yaml:"embeddingCache"`
	TimingStats        bool `yaml:"timingStats"`
	RouteAwareSources  bool `yaml:"routeAwareSources"`
	HistoryCompression bool `yaml:"historyCompression"`
}

// CacheConfig bounds the embedding cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"maxEntries"`
	TTL        time.Duration `yaml:"ttl"`
	KeyMaxLen  int           `yaml:"keyMaxLen"`
}

// CorpusConfig points at the read-only corpus databases.
// An empty path disables that source.
type CorpusConfig struct {
	MemoryPath   string `yaml:"memoryPath"`
	ChatPath     string `yaml:"chatPath"`
	TelegramPath string `yaml:"telegramPath"`
}

// ActivityConfig configures the optional append-only activity log.
type ActivityConfig struct {
	Path string `yaml:"path"`
}

// Config holds the application configuration.
type Config struct {
	Enabled           bool              `yaml:"enabled"`
	ParallelExecution bool              `yaml:"parallelExecution"`
	WorkerPort        int               `yaml:"workerPort"`
	Runtime           RuntimeConfig     `yaml:"runtime"`
	VectorIndex       VectorIndexConfig `yaml:"vectorIndex"`
	ShortTerm         ShortTermConfig   `yaml:"shortTerm"`
	RAG               RAGConfig         `yaml:"rag"`
	Routing           RoutingConfig     `yaml:"routing"`
	Features          FeaturesConfig    `yaml:"features"`
	Cache             CacheConfig       `yaml:"cache"`
	Corpus            CorpusConfig      `yaml:"corpus"`
	Activity          ActivityConfig    `yaml:"activity"`
}

// DataDir returns the data directory path (~/.contextd).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".contextd")
}

// SettingsPath returns the default config file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "contextd.yaml")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Enabled:           true,
		ParallelExecution: true,
		WorkerPort:        DefaultWorkerPort,
		Runtime: RuntimeConfig{
			BaseURL:         DefaultRuntimeBaseURL,
			EmbedModel:      "mxbai-embed-large",
			EmbeddingDim:    DefaultEmbeddingDim,
			EmbedTimeout:    5 * time.Second,
			GenerateTimeout: 8 * time.Second,
			OverallBudget:   10 * time.Second,
		},
		VectorIndex: VectorIndexConfig{
			Enabled:      true,
			StaleAfterMs: 60_000,
		},
		ShortTerm: ShortTermConfig{
			MaxMessages:      10,
			MaxTokenEstimate: 2000,
			Tokenizer:        "heuristic",
		},
		RAG: RAGConfig{
			TopK:     5,
			MinScore: 0.30,
			Sources:  []string{"memory", "chat"},
			InjectAs: "system",
		},
		Routing: RoutingConfig{
			Model:    "qwen2.5:7b-instruct",
			Fallback: "claude_sonnet",
		},
		Features: FeaturesConfig{
			SkipLogic:          true,
			EmbeddingCache:     true,
			TimingStats:        true,
			RouteAwareSources:  true,
			HistoryCompression: false,
		},
		Cache: CacheConfig{
			MaxEntries: 200,
			TTL:        5 * time.Minute,
			KeyMaxLen:  200,
		},
		Corpus: CorpusConfig{
			MemoryPath:   filepath.Join(DataDir(), "memory.db"),
			ChatPath:     filepath.Join(DataDir(), "chat.db"),
			TelegramPath: filepath.Join(DataDir(), "telegram.db"),
		},
	}
}

// Load loads configuration from path, merging over defaults.
// A missing file yields defaults; a malformed file is an error.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = SettingsPath()
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}

	applyEnv(cfg)
	return cfg, cfg.Validate()
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Runtime.BaseURL = v
	}
	if v := os.Getenv("CONTEXTD_WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.WorkerPort = p
		}
	}
	if v := os.Getenv("CONTEXTD_ACTIVITY_LOG"); v != "" {
		cfg.Activity.Path = v
	}
}

// Validate checks the closed key set for values the pipeline cannot
// run with. All violations wrap ErrInvalid.
func (c *Config) Validate() error {
	if c.Runtime.BaseURL == "" {
		return fmt.Errorf("%w: runtime.baseUrl is required", ErrInvalid)
	}
	if c.Runtime.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: runtime.embeddingDim must be positive", ErrInvalid)
	}
	if c.RAG.TopK < 0 {
		return fmt.Errorf("%w: rag.topK must not be negative", ErrInvalid)
	}
	if c.RAG.MinScore < -1 || c.RAG.MinScore > 1 {
		return fmt.Errorf("%w: rag.minScore must be within [-1, 1]", ErrInvalid)
	}
	if c.RAG.InjectAs != "" && c.RAG.InjectAs != "system" {
		return fmt.Errorf("%w: rag.injectAs must be \"system\"", ErrInvalid)
	}
	for _, s := range c.RAG.Sources {
		switch s {
		case "memory", "chat", "telegram":
		default:
			return fmt.Errorf("%w: unknown rag source %q", ErrInvalid, s)
		}
	}
	if c.ShortTerm.MaxMessages < 0 || c.ShortTerm.MaxTokenEstimate < 0 {
		return fmt.Errorf("%w: shortTerm budgets must not be negative", ErrInvalid)
	}
	switch c.ShortTerm.Tokenizer {
	case "", "heuristic", "cl100k":
	default:
		return fmt.Errorf("%w: unknown shortTerm.tokenizer %q", ErrInvalid, c.ShortTerm.Tokenizer)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("%w: cache.maxEntries must be positive", ErrInvalid)
	}
	if c.Routing.Fallback != "" {
		switch c.Routing.Fallback {
		case "claude_haiku", "claude_sonnet", "claude_opus", "local_qwen":
		default:
			return fmt.Errorf("%w: unknown routing.fallback %q", ErrInvalid, c.Routing.Fallback)
		}
	}
	if c.VectorIndex.StaleAfterMs <= 0 {
		return fmt.Errorf("%w: vectorIndex.staleAfterMs must be positive", ErrInvalid)
	}
	return nil
}
