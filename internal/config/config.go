// Package config manages global (~/.config/charmem/config.toml) and
// per-data-directory (<data-dir>/config.toml) configuration for charmem.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable. The data-dir file overrides the global one
// key by key.
type Config struct {
	Provider      ProviderConfig             `toml:"provider"`
	Memory        MemoryConfig               `toml:"memory"`
	Retrieval     RetrievalConfig            `toml:"retrieval"`
	Summarization SummarizationConfig        `toml:"summarization"`
	Hybrid        HybridConfig               `toml:"hybrid"`
	Eviction      EvictionConfig             `toml:"eviction"`
	Counter       CounterConfig              `toml:"counter"`
	Queue         QueueConfig                `toml:"queue"`
	Embedding     EmbeddingConfig            `toml:"embedding"`
	Log           LogConfig                  `toml:"log"`
	Metrics       MetricsConfig              `toml:"metrics"`
	Characters    map[string]CharacterConfig `toml:"characters"`
}

// ProviderConfig selects the LLM and embedding providers.
type ProviderConfig struct {
	// Completion is "openai", "claude" or "ollama".
	Completion string `toml:"completion"`
	// CompletionModel is used when a call names no model; empty takes the
	// provider's default.
	CompletionModel string `toml:"completion_model"`
	// Embedder is "openai" or "ollama".
	Embedder   string `toml:"embedder"`
	EmbedModel string `toml:"embed_model"`
	// ChatModel is the model whose context window usage is tracked.
	ChatModel    string `toml:"chat_model"`
	OllamaHost   string `toml:"ollama_host"`
	OpenAIKey    string `toml:"openai_key"`
	AnthropicKey string `toml:"anthropic_key"`
}

// APIKey returns the key configured for provider.
func (p ProviderConfig) APIKey(provider string) string {
	switch provider {
	case "openai":
		return p.OpenAIKey
	case "claude":
		return p.AnthropicKey
	}
	return ""
}

type MemoryConfig struct {
	MaxMemories int `toml:"max_memories"`
	RestoreDays int `toml:"restore_days"`
}

type RetrievalConfig struct {
	Limit            int     `toml:"limit"`
	MinSimilarity    float64 `toml:"min_similarity"`
	SimilarityWeight float64 `toml:"similarity_weight"`
	ImportanceWeight float64 `toml:"importance_weight"`
	MaxContextTokens int     `toml:"max_context_tokens"`
}

type SummarizationConfig struct {
	Threshold       float64        `toml:"threshold"`
	MinMessages     int            `toml:"min_messages"`
	BatchRatio      float64        `toml:"batch_ratio"`
	CheckInterval   int            `toml:"check_interval"`
	ExtractionModel string         `toml:"extraction_model"`
	StaleAfter      Duration       `toml:"stale_after"`
	ModelLimits     map[string]int `toml:"model_limits"`
}

// HybridConfig controls real-time fact extraction from user messages.
type HybridConfig struct {
	Enabled bool   `toml:"enabled"`
	Model   string `toml:"model"`
}

type EvictionConfig struct {
	InactiveDays int `toml:"inactive_days"`
	// Soft-expiry windows by importance tier, in days since last access.
	LowDays       int            `toml:"low_days"`
	MediumDays    int            `toml:"medium_days"`
	HighDays      int            `toml:"high_days"`
	NeverExpireAt float64        `toml:"never_expire_at"`
	GraceDays     int            `toml:"grace_days"`
	Schedules     ScheduleConfig `toml:"schedules"`
}

// ScheduleConfig holds cron specs (five fields or descriptors like
// "@hourly") for the periodic sweeps. An empty spec disables the sweep.
type ScheduleConfig struct {
	InactiveCleanup string `toml:"inactive_cleanup"`
	TieredExpiry    string `toml:"tiered_expiry"`
	PurgeExpired    string `toml:"purge_expired"`
	StaleJobs       string `toml:"stale_jobs"`
	ArchivePurge    string `toml:"archive_purge"`
	EmbeddingCache  string `toml:"embedding_cache"`
}

type CounterConfig struct {
	// Backend is "sqlite" or "redis".
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

type QueueConfig struct {
	Workers     int      `toml:"workers"`
	Capacity    int      `toml:"capacity"`
	MaxAttempts int      `toml:"max_attempts"`
	BaseBackoff Duration `toml:"base_backoff"`
	MaxBackoff  Duration `toml:"max_backoff"`
}

type EmbeddingConfig struct {
	// Backend is "sqlite" (sqlite-vec) or "chromem".
	Backend      string   `toml:"backend"`
	CacheTTL     Duration `toml:"cache_ttl"`
	CacheMaxCost int64    `toml:"cache_max_cost"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `toml:"addr"`
}

// CharacterConfig names a character for summarization prompts, keyed by
// character id. Character records themselves live in the chat backend.
type CharacterConfig struct {
	Name        string `toml:"name"`
	Personality string `toml:"personality"`
}

// Duration is a time.Duration written as a string such as "30m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Completion: "openai",
			Embedder:   "openai",
			EmbedModel: "text-embedding-3-small",
			ChatModel:  "gpt-4o",
			OllamaHost: "http://localhost:11434",
		},
		Memory: MemoryConfig{
			MaxMemories: 30,
			RestoreDays: 30,
		},
		Retrieval: RetrievalConfig{
			Limit:            5,
			MinSimilarity:    0.7,
			SimilarityWeight: 0.6,
			ImportanceWeight: 0.4,
			MaxContextTokens: 1000,
		},
		Summarization: SummarizationConfig{
			Threshold:       0.70,
			MinMessages:     4,
			BatchRatio:      0.5,
			CheckInterval:   5,
			ExtractionModel: "gpt-4o-mini",
			StaleAfter:      Duration{30 * time.Minute},
		},
		Hybrid: HybridConfig{
			Enabled: true,
			Model:   "gpt-4o-mini",
		},
		Eviction: EvictionConfig{
			InactiveDays:  90,
			LowDays:       30,
			MediumDays:    60,
			HighDays:      120,
			NeverExpireAt: 0.8,
			GraceDays:     7,
			Schedules: ScheduleConfig{
				InactiveCleanup: "0 3 * * *",
				TieredExpiry:    "0 * * * *",
				PurgeExpired:    "30 * * * *",
				StaleJobs:       "*/10 * * * *",
				ArchivePurge:    "30 3 * * *",
				EmbeddingCache:  "0 4 * * *",
			},
		},
		Counter: CounterConfig{
			Backend:   "sqlite",
			RedisAddr: "localhost:6379",
		},
		Queue: QueueConfig{
			Workers:     2,
			Capacity:    256,
			MaxAttempts: 3,
			BaseBackoff: Duration{500 * time.Millisecond},
			MaxBackoff:  Duration{30 * time.Second},
		},
		Embedding: EmbeddingConfig{
			Backend:      "sqlite",
			CacheTTL:     Duration{30 * 24 * time.Hour},
			CacheMaxCost: 64 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Days converts a day count into a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "charmem", "config.toml"), nil
}

// DefaultDataDir returns ~/.charmem, or $CHARMEM_HOME when set.
func DefaultDataDir() (string, error) {
	if v := os.Getenv("CHARMEM_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".charmem"), nil
}

// DBPath returns the path to the SQLite database in dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "charmem.db")
}

// DataConfigPath returns the path to dataDir's override file.
func DataConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// Load returns the effective config: defaults, then the global file, then
// dataDir's override, then API keys from the environment.
func Load(dataDir string) (Config, error) {
	cfg := Default()

	if path, err := GlobalConfigPath(); err == nil {
		if err := decodeIfExists(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: load global: %w", err)
		}
	}
	if dataDir != "" {
		if err := decodeIfExists(DataConfigPath(dataDir), &cfg); err != nil {
			return cfg, fmt.Errorf("config: load data dir: %w", err)
		}
	}

	// Let env vars override config file API keys.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Provider.OpenAIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Provider.AnthropicKey = v
	}
	return cfg, nil
}

func decodeIfExists(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	_, err := toml.DecodeFile(path, cfg)
	return err
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
