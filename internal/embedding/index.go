package embedding

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/adapter"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/metrics"
)

const (
	// DefaultMinSimilarity is the similarity floor applied when the caller
	// does not set one.
	DefaultMinSimilarity = 0.7
	// DefaultCacheTTL bounds how long a content-hash vector is reused.
	DefaultCacheTTL = 30 * 24 * time.Hour
)

// Options configures an Index. Zero values take defaults.
type Options struct {
	// Model names the embedding model; it is part of the cache key.
	Model    string
	CacheTTL time.Duration
	// HotCacheMaxCost caps the in-memory cache, in float32 elements.
	HotCacheMaxCost int64
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// Index is the embedding layer: it produces vectors (cached by content
// hash), writes them to a VectorIndex and runs scoped similarity searches.
type Index struct {
	embedder adapter.Embedder
	vectors  VectorIndex
	conn     *sql.DB
	hot      *ristretto.Cache
	flight   singleflight.Group
	model    string
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type cachedVector struct {
	vector []float32
	tokens int
}

// New creates an Index. The persistent hash cache lives in database.
func New(database *db.DB, embedder adapter.Embedder, vectors VectorIndex, opts Options) (*Index, error) {
	if opts.Model == "" {
		opts.Model = "default"
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.HotCacheMaxCost <= 0 {
		opts.HotCacheMaxCost = 4 << 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     opts.HotCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: hot cache: %w", err)
	}
	return &Index{
		embedder: embedder,
		vectors:  vectors,
		conn:     database.Conn(),
		hot:      hot,
		model:    opts.Model,
		cacheTTL: opts.CacheTTL,
		logger:   logging.OrDefault(opts.Logger),
		metrics:  opts.Metrics,
		now:      opts.Now,
	}, nil
}

// Close releases the hot cache.
func (x *Index) Close() {
	x.hot.Close()
}

// ContentHash is the cache key for text under model.
func ContentHash(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// CreateEmbedding returns the vector for text and the provider token cost it
// took to produce. Identical (model, text) pairs are served from cache.
func (x *Index) CreateEmbedding(ctx context.Context, text string) ([]float32, int, error) {
	hash := ContentHash(x.model, text)

	if v, ok := x.hot.Get(hash); ok {
		cv := v.(cachedVector)
		x.metrics.EmbeddingCache("hot")
		return cv.vector, cv.tokens, nil
	}

	if cv, ok, err := x.loadCached(ctx, hash); err != nil {
		x.logger.Warn("embedding cache read failed", slog.Any("error", err))
	} else if ok {
		x.metrics.EmbeddingCache("stored")
		x.remember(hash, cv)
		return cv.vector, cv.tokens, nil
	}

	// Concurrent requests for the same text share one provider call.
	v, err, _ := x.flight.Do(hash, func() (any, error) {
		x.metrics.EmbeddingCache("miss")
		res, err := x.embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embedding: create: %w", err)
		}
		if len(res.Vectors) == 0 || len(res.Vectors[0]) == 0 {
			return nil, errors.New("embedding: provider returned no vector")
		}
		cv := cachedVector{vector: res.Vectors[0], tokens: res.TokensUsed}
		if err := x.storeCached(ctx, hash, cv); err != nil {
			x.logger.Warn("embedding cache write failed", slog.Any("error", err))
		}
		x.remember(hash, cv)
		return cv, nil
	})
	if err != nil {
		return nil, 0, err
	}
	cv := v.(cachedVector)
	return cv.vector, cv.tokens, nil
}

func (x *Index) remember(hash string, cv cachedVector) {
	x.hot.SetWithTTL(hash, cv, int64(len(cv.vector)), x.cacheTTL)
}

func (x *Index) loadCached(ctx context.Context, hash string) (cachedVector, bool, error) {
	var (
		blob   []byte
		tokens int
	)
	err := x.conn.QueryRowContext(ctx,
		`SELECT embedding, tokens_used FROM embedding_cache WHERE content_hash = ? AND model = ? AND expires_at > ?`,
		hash, x.model, db.FormatTime(x.now())).Scan(&blob, &tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return cachedVector{}, false, nil
	}
	if err != nil {
		return cachedVector{}, false, err
	}
	return cachedVector{vector: blobToFloat32Slice(blob), tokens: tokens}, true, nil
}

func (x *Index) storeCached(ctx context.Context, hash string, cv cachedVector) error {
	_, err := x.conn.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, model, embedding, tokens_used, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
		    model       = excluded.model,
		    embedding   = excluded.embedding,
		    tokens_used = excluded.tokens_used,
		    expires_at  = excluded.expires_at`,
		hash, x.model, float32SliceToBlob(cv.vector), cv.tokens, db.FormatTime(x.now().Add(x.cacheTTL)),
	)
	return err
}

// SaveMemoryEmbedding embeds text and stores the vector for ref.
func (x *Index) SaveMemoryEmbedding(ctx context.Context, ref memory.Ref, configID, text string) error {
	vec, _, err := x.CreateEmbedding(ctx, text)
	if err != nil {
		return err
	}
	return x.vectors.Upsert(ctx, Entry{
		MemoryID:    ref.ID,
		Kind:        ref.Kind,
		ConfigID:    configID,
		Vector:      vec,
		ContentHash: ContentHash(x.model, text),
		Model:       x.model,
	})
}

// SearchOptions narrows SearchSimilarMemories.
type SearchOptions struct {
	Kinds         []memory.Kind
	Limit         int
	MinSimilarity float64
}

// SearchSimilarMemories embeds query and returns the closest memories of
// configID, most similar first. Nothing outside configID is ever returned.
func (x *Index) SearchSimilarMemories(ctx context.Context, query, configID string, opts SearchOptions) ([]Match, error) {
	if configID == "" {
		return nil, errors.New("embedding: search requires a config id")
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	vec, _, err := x.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := x.vectors.Query(ctx, vec, Filter{
		ConfigID:      configID,
		Kinds:         opts.Kinds,
		MinSimilarity: opts.MinSimilarity,
	}, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("embedding: search: %w", err)
	}
	sortMatches(matches)
	return matches, nil
}

// DeleteEmbedding removes a memory's vector. Deleting a missing vector is
// not an error.
func (x *Index) DeleteEmbedding(ctx context.Context, memoryID string) error {
	return x.vectors.Delete(ctx, memoryID)
}

// DeleteConfig removes every vector of a config.
func (x *Index) DeleteConfig(ctx context.Context, configID string) error {
	return x.vectors.DeleteConfig(ctx, configID)
}

// PurgeCache drops persistent cache rows past their TTL.
func (x *Index) PurgeCache(ctx context.Context) (int, error) {
	res, err := x.conn.ExecContext(ctx,
		`DELETE FROM embedding_cache WHERE expires_at <= ?`, db.FormatTime(x.now()))
	if err != nil {
		return 0, fmt.Errorf("embedding: purge cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Missing returns the records among recs that have no stored vector.
func (x *Index) Missing(ctx context.Context, recs []memory.Record) ([]memory.Record, error) {
	var out []memory.Record
	for _, r := range recs {
		ok, err := x.vectors.Has(ctx, r.Meta().ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Backfill embeds recs one by one, calling progress after each. Individual
// failures are logged and counted; the run continues.
func (x *Index) Backfill(ctx context.Context, recs []memory.Record, progress func()) (saved, failed int) {
	for _, r := range recs {
		if ctx.Err() != nil {
			return saved, failed
		}
		b := r.Meta()
		if err := x.SaveMemoryEmbedding(ctx, memory.RefOf(r), b.ConfigID, r.EmbeddingText()); err != nil {
			failed++
			logging.Owner(x.logger, b.UserID, b.CharacterID).Warn("backfill embedding failed",
				slog.String("memory_id", b.ID),
				slog.Any("error", err),
			)
		} else {
			saved++
		}
		if progress != nil {
			progress()
		}
	}
	return saved, failed
}
