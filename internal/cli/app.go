package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/adapter"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/chatlog"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/config"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/embedding"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/integration"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/metrics"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/rag"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/scheduler"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/summarize"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/tasks"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/tokens"
)

// app is every component of a running charmem, wired from one Config.
type app struct {
	cfg      config.Config
	dataDir  string
	logger   *slog.Logger
	level    *slog.LevelVar
	db       *db.DB
	metrics  *metrics.Metrics
	index    *embedding.Index
	store    *memory.Store
	eviction *memory.EvictionManager
	log      *chatlog.Log
	queue    *tasks.Queue
	pipeline *summarize.Pipeline
	in       *integration.Integration
	sweeps   *scheduler.Scheduler

	closers []func()
}

// appOptions lets tests swap the providers out.
type appOptions struct {
	llm      adapter.LLMAdapter
	embedder adapter.LLMAdapter
}

// providers is set by tests to run commands against fakes.
var providers appOptions

func openApp(ctx context.Context, dataDir string) (*app, error) {
	return openAppWith(ctx, dataDir, providers)
}

func openAppWith(ctx context.Context, dataDir string, opts appOptions) (*app, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{
		cfg:     cfg,
		dataDir: dataDir,
		level:   new(slog.LevelVar),
		metrics: metrics.New(),
	}
	a.level.Set(logging.ParseLevel(cfg.Log.Level))
	a.logger = logging.New(os.Stderr, a.level, cfg.Log.Format)
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.db, err = db.Open(config.DBPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, func() { a.db.Close() })

	llm := opts.llm
	if llm == nil {
		p := cfg.Provider
		if llm, err = adapter.New(p.Completion, adapter.Options{
			APIKey:     p.APIKey(p.Completion),
			Model:      p.CompletionModel,
			EmbedModel: p.EmbedModel,
			OllamaHost: p.OllamaHost,
		}); err != nil {
			return nil, err
		}
	}
	embedder := opts.embedder
	if embedder == nil {
		p := cfg.Provider
		if embedder, err = adapter.New(p.Embedder, adapter.Options{
			APIKey:     p.APIKey(p.Embedder),
			EmbedModel: p.EmbedModel,
			OllamaHost: p.OllamaHost,
		}); err != nil {
			return nil, err
		}
	}

	var vectors embedding.VectorIndex
	switch cfg.Embedding.Backend {
	case "", "sqlite":
		vectors = embedding.NewSQLiteIndex(a.db)
	case "chromem":
		vectors = embedding.NewChromemIndex()
	default:
		return nil, fmt.Errorf("unknown embedding backend %q; valid backends: sqlite, chromem", cfg.Embedding.Backend)
	}
	a.index, err = embedding.New(a.db, embedder, vectors, embedding.Options{
		// The adapter's own name for the model, so cached vectors are keyed
		// by what actually produced them.
		Model:           embedder.Info().EmbeddingModel,
		CacheTTL:        cfg.Embedding.CacheTTL.Duration,
		HotCacheMaxCost: cfg.Embedding.CacheMaxCost,
		Logger:          a.logger,
		Metrics:         a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.index.Close)

	a.store = memory.NewStore(a.db,
		memory.WithEmbeddings(a.index),
		memory.WithLogger(a.logger),
		memory.WithMetrics(a.metrics),
		memory.WithDefaultMaxMemories(cfg.Memory.MaxMemories),
		memory.WithRestoreWindow(config.Days(cfg.Memory.RestoreDays)),
	)
	ev := cfg.Eviction
	a.eviction = memory.NewEvictionManager(a.store, memory.EvictionOptions{
		InactiveAfter: config.Days(ev.InactiveDays),
		Tiers: []memory.ExpiryTier{
			{Below: 0.3, After: config.Days(ev.LowDays)},
			{Below: 0.6, After: config.Days(ev.MediumDays)},
			{Below: ev.NeverExpireAt, After: config.Days(ev.HighDays)},
		},
		Grace: config.Days(ev.GraceDays),
	})

	counter, err := a.counter(ctx)
	if err != nil {
		return nil, err
	}
	tok := tokens.New(a.logger)
	a.log = chatlog.New(a.db,
		chatlog.WithCounter(counter),
		chatlog.WithTokenCounter(tok),
		chatlog.WithLogger(a.logger),
	)

	q := cfg.Queue
	a.queue = tasks.New(a.db, tasks.Options{
		Workers:     q.Workers,
		Capacity:    q.Capacity,
		MaxAttempts: q.MaxAttempts,
		BaseBackoff: q.BaseBackoff.Duration,
		MaxBackoff:  q.MaxBackoff.Duration,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
	a.closers = append(a.closers, func() { a.queue.Close() })

	characters := summarize.StaticCharacters{}
	for id, c := range cfg.Characters {
		characters[id] = summarize.Character{Name: c.Name, Personality: c.Personality}
	}
	s := cfg.Summarization
	limits := make(map[string]int, len(summarize.DefaultModelLimits)+len(s.ModelLimits))
	for m, n := range summarize.DefaultModelLimits {
		limits[m] = n
	}
	for m, n := range s.ModelLimits {
		limits[m] = n
	}
	a.pipeline = summarize.New(a.db, a.log, a.store, llm, a.queue, summarize.Options{
		Threshold:       s.Threshold,
		MinMessages:     s.MinMessages,
		BatchRatio:      s.BatchRatio,
		ExtractionModel: s.ExtractionModel,
		ModelLimits:     limits,
		StaleAfter:      s.StaleAfter.Duration,
		Characters:      characters,
		Logger:          a.logger,
		Metrics:         a.metrics,
	})

	r := cfg.Retrieval
	engine := rag.New(a.store, a.index, rag.Config{
		Limit:            r.Limit,
		MinSimilarity:    r.MinSimilarity,
		SimilarityWeight: r.SimilarityWeight,
		ImportanceWeight: r.ImportanceWeight,
		MaxContextTokens: r.MaxContextTokens,
		Tokens:           tok,
		Logger:           a.logger,
		Metrics:          a.metrics,
	})

	var hybrid *summarize.Hybrid
	if cfg.Hybrid.Enabled {
		hybrid = summarize.NewHybrid(llm, a.store, cfg.Hybrid.Model, a.logger)
	}
	a.in = integration.New(integration.Deps{
		Store:    a.store,
		Log:      a.log,
		Engine:   engine,
		Pipeline: a.pipeline,
		Hybrid:   hybrid,
		Queue:    a.queue,
	}, integration.Options{
		CheckInterval: s.CheckInterval,
		Model:         cfg.Provider.ChatModel,
		Logger:        a.logger,
	})

	a.sweeps = scheduler.New(a.logger, a.metrics)
	sc := ev.Schedules
	for _, sw := range scheduler.Standard(scheduler.Targets{
		Eviction:   a.eviction,
		Pipeline:   a.pipeline,
		Embeddings: a.index,
	}, scheduler.Specs{
		InactiveCleanup: sc.InactiveCleanup,
		TieredExpiry:    sc.TieredExpiry,
		PurgeExpired:    sc.PurgeExpired,
		StaleJobs:       sc.StaleJobs,
		ArchivePurge:    sc.ArchivePurge,
		EmbeddingCache:  sc.EmbeddingCache,
		StaleAfter:      s.StaleAfter.Duration,
	}) {
		if err := a.sweeps.Add(sw); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

func (a *app) counter(ctx context.Context) (chatlog.Counter, error) {
	c := a.cfg.Counter
	switch c.Backend {
	case "", "sqlite":
		return chatlog.NewSQLiteCounter(a.db), nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rc, err := chatlog.NewRedisCounter(dialCtx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { rc.Close() })
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown counter backend %q; valid backends: sqlite, redis", c.Backend)
	}
}

// Close releases everything in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// withApp opens the app for the resolved data directory, runs fn and
// closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	dir, err := dataDir()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, dir)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
