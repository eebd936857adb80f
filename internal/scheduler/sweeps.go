package scheduler

import (
	"context"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/embedding"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/summarize"
)

// Sweep names.
const (
	SweepInactiveCleanup = "inactive_cleanup"
	SweepTieredExpiry    = "tiered_expiry"
	SweepPurgeExpired    = "purge_expired"
	SweepStaleJobs       = "stale_jobs"
	SweepArchivePurge    = "archive_purge"
	SweepEmbeddingCache  = "embedding_cache"
)

// Specs are the cron schedules for the standard sweeps.
type Specs struct {
	InactiveCleanup string
	TieredExpiry    string
	PurgeExpired    string
	StaleJobs       string
	ArchivePurge    string
	EmbeddingCache  string
	// StaleAfter is the lease after which a PROCESSING job is failed.
	StaleAfter time.Duration
}

// Targets are the components the standard sweeps act on. A nil Pipeline
// or Embeddings drops the sweeps that need it.
type Targets struct {
	Eviction   *memory.EvictionManager
	Pipeline   *summarize.Pipeline
	Embeddings *embedding.Index
}

// Standard returns the maintenance sweeps for t, in the order a manual
// full sweep should run them: expiry marks before the purge that acts on
// them.
func Standard(t Targets, specs Specs) []Sweep {
	ev := t.Eviction
	sweeps := []Sweep{
		{Name: SweepInactiveCleanup, Spec: specs.InactiveCleanup, Run: func(ctx context.Context) (int, error) {
			res, err := ev.CleanupInactiveAccounts(ctx)
			return res.Archived, err
		}},
		{Name: SweepTieredExpiry, Spec: specs.TieredExpiry, Run: ev.ApplyImportanceTieredExpiry},
		{Name: SweepPurgeExpired, Spec: specs.PurgeExpired, Run: ev.PurgeExpired},
		{Name: SweepArchivePurge, Spec: specs.ArchivePurge, Run: ev.PurgeArchives},
	}
	if p := t.Pipeline; p != nil {
		sweeps = append(sweeps, Sweep{Name: SweepStaleJobs, Spec: specs.StaleJobs, Run: func(ctx context.Context) (int, error) {
			return p.SweepStaleJobs(ctx, specs.StaleAfter)
		}})
	}
	if x := t.Embeddings; x != nil {
		sweeps = append(sweeps, Sweep{Name: SweepEmbeddingCache, Spec: specs.EmbeddingCache, Run: x.PurgeCache})
	}
	return sweeps
}
