package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/embedding"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/metrics"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/tokens"
)

// Default retrieval settings.
const (
	DefaultLimit            = 5
	DefaultMaxContextTokens = 1000
)

// Searcher finds memories similar to a query within one config.
// *embedding.Index satisfies it.
type Searcher interface {
	SearchSimilarMemories(ctx context.Context, query, configID string, opts embedding.SearchOptions) ([]embedding.Match, error)
}

// Options scopes one retrieval.
type Options struct {
	UserID        string
	CharacterID   string
	CharacterName string
	Limit         int
	Kinds         []memory.Kind
	MinSimilarity float64
}

// Context is the result of GenerateRAGContext.
type Context struct {
	Memories         []RankedMemory
	FormattedContext string
	TotalTokens      int
	// Degraded is set when retrieval failed and the turn continues without
	// memory.
	Degraded bool
}

// Config tunes an Engine.
type Config struct {
	Limit            int
	MinSimilarity    float64
	SimilarityWeight float64
	ImportanceWeight float64
	MaxContextTokens int
	Tokens           tokens.Counter
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// Engine retrieves, ranks and renders memories for a chat turn.
type Engine struct {
	store     *memory.Store
	search    Searcher
	ranker    *Ranker
	formatter *Formatter
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates an Engine. Zero-valued Config fields take their defaults.
func New(store *memory.Store, search Searcher, cfg Config) *Engine {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = embedding.DefaultMinSimilarity
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultMaxContextTokens
	}
	ranker := NewRanker()
	if cfg.SimilarityWeight > 0 || cfg.ImportanceWeight > 0 {
		ranker.SimilarityWeight = cfg.SimilarityWeight
		ranker.ImportanceWeight = cfg.ImportanceWeight
	}
	return &Engine{
		store:     store,
		search:    search,
		ranker:    ranker,
		formatter: NewFormatter(cfg.Tokens),
		cfg:       cfg,
		logger:    logging.OrDefault(cfg.Logger),
		metrics:   cfg.Metrics,
	}
}

// SearchRelevantMemories returns up to opts.Limit memories for the owner,
// ranked by similarity to query blended with importance. Hits are
// reinforced; thin results are backfilled with salient memories.
func (e *Engine) SearchRelevantMemories(ctx context.Context, query string, opts Options) ([]RankedMemory, error) {
	if opts.UserID == "" || opts.CharacterID == "" {
		return nil, fmt.Errorf("rag: search: user and character are required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.Limit
	}
	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = e.cfg.MinSimilarity
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = memory.Kinds
	}

	// Retrieval counts as activity for the inactive-account sweep.
	cfg, err := e.store.GetOrCreateConfig(ctx, opts.UserID, opts.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	matches, err := e.search.SearchSimilarMemories(ctx, query, cfg.ID, embedding.SearchOptions{
		Kinds:         kinds,
		Limit:         2 * limit,
		MinSimilarity: minSim,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	refs := make([]memory.Ref, 0, len(matches))
	similarity := make(map[string]float64, len(matches))
	for _, m := range matches {
		refs = append(refs, m.Ref())
		similarity[m.MemoryID] = m.Similarity
	}
	recs, err := e.store.GetMany(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	if len(recs) > 0 {
		hits := make([]memory.Ref, 0, len(recs))
		for _, r := range recs {
			hits = append(hits, memory.RefOf(r))
		}
		if err := e.store.Touch(ctx, hits); err != nil {
			logging.Owner(e.logger, opts.UserID, opts.CharacterID).Warn("reinforce retrieved memories", slog.Any("error", err))
		}
	}

	if len(recs) < limit {
		extra, err := e.backfill(ctx, cfg.ID, kinds, limit-len(recs), recs)
		if err != nil {
			return nil, fmt.Errorf("rag: search: %w", err)
		}
		recs = append(recs, extra...)
	}

	ranked := e.ranker.Rank(recs, similarity)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// backfill collects up to need salient memories not already in have,
// taking one from each kind in turn.
func (e *Engine) backfill(ctx context.Context, configID string, kinds []memory.Kind, need int, have []memory.Record) ([]memory.Record, error) {
	seen := make(map[string]bool, len(have))
	for _, r := range have {
		seen[r.Meta().ID] = true
	}
	// Ask for enough per kind that duplicates of have cannot starve the result.
	per := need + len(have)
	pools := make([][]memory.Record, 0, len(kinds))
	for _, k := range kinds {
		recs, err := e.store.Salient(ctx, configID, k, per)
		if err != nil {
			return nil, err
		}
		pools = append(pools, recs)
	}

	var out []memory.Record
	for i := 0; len(out) < need; i++ {
		progressed := false
		for _, pool := range pools {
			if i >= len(pool) {
				continue
			}
			progressed = true
			r := pool[i]
			if seen[r.Meta().ID] {
				continue
			}
			seen[r.Meta().ID] = true
			out = append(out, r)
			if len(out) == need {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return out, nil
}

// GenerateRAGContext retrieves and renders memories for query. It never
// fails: on error it logs and returns an empty, degraded Context.
func (e *Engine) GenerateRAGContext(ctx context.Context, query string, opts Options) Context {
	start := time.Now()
	ranked, err := e.SearchRelevantMemories(ctx, query, opts)
	if err != nil {
		logging.Owner(e.logger, opts.UserID, opts.CharacterID).Warn("memory retrieval failed", slog.Any("error", err))
		e.metrics.ObserveRetrieval(time.Since(start), true)
		return Context{Degraded: true}
	}
	e.metrics.ObserveRetrieval(time.Since(start), false)
	if len(ranked) == 0 {
		return Context{}
	}

	text, kept, n := e.formatter.Format(opts.CharacterName, ranked, e.cfg.MaxContextTokens)
	if len(kept) < len(ranked) {
		logging.Owner(e.logger, opts.UserID, opts.CharacterID).Debug("memory block trimmed to budget",
			slog.Int("kept", len(kept)),
			slog.Int("dropped", len(ranked)-len(kept)),
		)
	}
	return Context{Memories: kept, FormattedContext: text, TotalTokens: n}
}

// BuildSystemPromptWithMemory appends the memory block for query to
// basePrompt. basePrompt comes back unchanged when nothing qualifies or
// retrieval fails.
func (e *Engine) BuildSystemPromptWithMemory(ctx context.Context, basePrompt, characterName, query string, opts Options) (string, Context) {
	opts.CharacterName = characterName
	rc := e.GenerateRAGContext(ctx, query, opts)
	if rc.FormattedContext == "" {
		return basePrompt, rc
	}
	if basePrompt == "" {
		return rc.FormattedContext, rc
	}
	return basePrompt + "\n\n" + rc.FormattedContext, rc
}
