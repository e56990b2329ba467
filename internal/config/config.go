// Package config loads and hot-reloads Skillsmith's on-disk configuration:
// the data root, ingestion source definitions, rate-limit presets, the
// sync schedule, and learning-layer tunables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all Skillsmith configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Catalog store settings
	Catalog CatalogConfig `json:"catalog"`

	// Ingestion source definitions
	Ingest IngestConfig `json:"ingest"`

	// Sync schedule
	Sync SyncConfig `json:"sync"`

	// Rate limit presets, keyed by name
	RateLimits map[string]RateLimitConfig `json:"rateLimits"`

	// Recommendation engine weights
	Recommend RecommendConfig `json:"recommend"`

	// Learning layer tunables
	Learning LearningConfig `json:"learning"`

	// Safety/install gate tunables
	Safety SafetyConfig `json:"safety"`

	// Embedding provider for semantic search and pattern similarity
	Embed EmbedConfig `json:"embed"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	Port     int    `json:"port"`
}

// EmbedConfig configures the context-embedding backend. An empty
// BaseURL falls back to the dependency-free hashing embedder.
type EmbedConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
}

// CatalogConfig configures the sqlite-backed catalog store.
type CatalogConfig struct {
	// DBPath is the sqlite file path, relative to DataDir unless absolute.
	DBPath string `json:"dbPath"`
	// EmbeddingDims is the fixed embedding dimension D (default 384).
	// The store refuses to open against a DB with a different dimension.
	EmbeddingDims int `json:"embeddingDims"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// CodeHostBaseURL is the base URL of the code-host search API.
	CodeHostBaseURL string `json:"codeHostBaseUrl"`
	// AppID/PrivateKeyPath configure app-installation JWT auth (RS256).
	AppID          string `json:"appId,omitempty"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	// StaticToken is a fallback bearer token used if app auth is unset.
	StaticToken string `json:"staticToken,omitempty"`
	// HighTrust lists curated high-trust repositories to probe directly.
	HighTrust []HighTrustSource `json:"highTrust"`
	// Topics lists search topics for the topic-discovery phase.
	Topics []string `json:"topics"`
	// MaxPagesPerTopic caps paginated topic search (default 5, hard cap 10).
	MaxPagesPerTopic int `json:"maxPagesPerTopic"`
	// RequestTimeoutSec is the per-HTTP-call timeout (default 30).
	RequestTimeoutSec int `json:"requestTimeoutSec"`
}

// HighTrustSource names a curated high-trust author repository.
type HighTrustSource struct {
	Owner       string   `json:"owner"`
	Repo        string   `json:"repo"`
	License     string   `json:"license"`
	BaseQuality float64  `json:"baseQuality"`
	Include     []string `json:"include,omitempty"`
	Exclude     []string `json:"exclude,omitempty"`
}

// SyncConfig is the singleton sync schedule configuration.
type SyncConfig struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency"` // "daily" | "weekly"
}

// RateLimitConfig names one token-bucket preset.
type RateLimitConfig struct {
	MaxTokens     float64 `json:"maxTokens"`
	RefillRate    float64 `json:"refillRate"`    // tokens/second
	FailMode      string  `json:"failMode"`      // "open" | "closed"
	QueueCap      int     `json:"queueCap"`      // 0 disables queueing for this preset
	WaitTimeoutMS int64   `json:"waitTimeoutMs"` // caller wait budget before ErrTimeout
}

// RecommendConfig holds the recommendation engine's ranking weights.
type RecommendConfig struct {
	QualityWeight    float64 `json:"qualityWeight"`
	ReputationWeight float64 `json:"reputationWeight"`
	LearnedBias      float64 `json:"learnedBiasWeight"`
	TrustTierFloor   string  `json:"trustTierFloor,omitempty"`
}

// LearningConfig tunes the EWC++ pattern store.
type LearningConfig struct {
	FisherDecay            float64 `json:"fisherDecay"`
	Lambda                 float64 `json:"lambda"`
	ConsolidationThreshold float64 `json:"consolidationThreshold"`
	ImportanceThreshold    float64 `json:"importanceThreshold"`
	MaxPatterns            int     `json:"maxPatterns"`
	MinPatternsForVerdict  int     `json:"minPatternsForVerdict"`
	SimilarityThreshold    float64 `json:"similarityThreshold"`
}

// SafetyConfig tunes the pre-install safety gate.
type SafetyConfig struct {
	ConflictBlockingThreshold float64 `json:"conflictBlockingThreshold"` // default 0.60
	ConflictWarningThreshold  float64 `json:"conflictWarningThreshold"`  // default 0.40
	BudgetLimit               int     `json:"budgetLimit"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  "./data",
			LogLevel: "info",
			Port:     8420,
		},
		Catalog: CatalogConfig{
			DBPath:        "skills.db",
			EmbeddingDims: 384,
		},
		Ingest: IngestConfig{
			MaxPagesPerTopic:  5,
			RequestTimeoutSec: 30,
		},
		Sync: SyncConfig{
			Enabled:   true,
			Frequency: "daily",
		},
		RateLimits: map[string]RateLimitConfig{
			"strict":          {MaxTokens: 10, RefillRate: 1, FailMode: "closed", QueueCap: 20, WaitTimeoutMS: 30000},
			"standard":        {MaxTokens: 30, RefillRate: 5, FailMode: "closed", QueueCap: 50, WaitTimeoutMS: 15000},
			"relaxed":         {MaxTokens: 60, RefillRate: 10, FailMode: "open"},
			"generous":        {MaxTokens: 120, RefillRate: 20, FailMode: "open"},
			"high_throughput": {MaxTokens: 500, RefillRate: 100, FailMode: "open"},
		},
		Recommend: RecommendConfig{
			QualityWeight:    0.3,
			ReputationWeight: 0.2,
			LearnedBias:      0.3,
		},
		Learning: LearningConfig{
			FisherDecay:            0.95,
			Lambda:                 5,
			ConsolidationThreshold: 0.1,
			ImportanceThreshold:    0.01,
			MaxPatterns:            10000,
			MinPatternsForVerdict:  3,
			SimilarityThreshold:    0.6,
		},
		Safety: SafetyConfig{
			ConflictBlockingThreshold: 0.60,
			ConflictWarningThreshold:  0.40,
			BudgetLimit:               50000,
		},
	}
}

// Load reads config from a JSON file, falling back to defaults for any
// fields the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("config: create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes the config to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	return os.WriteFile(path, data, 0o640)
}

// CatalogPath returns the resolved, absolute-or-relative-to-DataDir path
// to the catalog database file.
func (c *Config) CatalogPath() string {
	if filepath.IsAbs(c.Catalog.DBPath) {
		return c.Catalog.DBPath
	}
	return filepath.Join(c.Server.DataDir, c.Catalog.DBPath)
}
