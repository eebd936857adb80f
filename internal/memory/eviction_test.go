package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

const day = 24 * time.Hour

func TestArchiveOldest_TieBreaksOnLastAccess(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	em := NewEvictionManager(s, EvictionOptions{})

	a, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "a", Importance: 0.3})
	clock.Advance(time.Minute)
	b, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "b", Importance: 0.3})
	clock.Advance(time.Minute)
	_ = s.Touch(ctx, []Ref{{ID: a.ID, Kind: KindEpisodic}})

	archive, err := em.ArchiveOldest(ctx, a.ConfigID)
	if err != nil {
		t.Fatalf("ArchiveOldest: %v", err)
	}
	if archive.MemoryID != b.ID {
		t.Errorf("evicted %s, want %s (older last access)", archive.MemoryID, b.ID)
	}
	assertCounterMatches(t, s, "u1", "c1")
}

func TestArchiveOldest_EmptyConfig(t *testing.T) {
	_, s, _, _ := setupTestStore(t)
	ctx := context.Background()
	cfg, _ := s.GetOrCreateConfig(ctx, "u1", "c1")

	if _, err := NewEvictionManager(s, EvictionOptions{}).ArchiveOldest(ctx, cfg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCleanupInactiveAccounts(t *testing.T) {
	_, s, emb, clock := setupTestStore(t)
	ctx := context.Background()
	em := NewEvictionManager(s, EvictionOptions{})

	_, _ = s.CreateEpisodic(ctx, "idle", "c1", EpisodicInput{Summary: "x", Importance: 0.9})
	_, _ = s.CreateSemantic(ctx, "idle", "c1", SemanticInput{Key: "name", Value: "Mina", Importance: 0.9})
	_, _ = s.CreateEmotional(ctx, "idle", "c1", EmotionalInput{Emotion: EmotionJoy, Trigger: "a gift", Importance: 0.9})

	clock.Advance(91 * day)
	_, _ = s.CreateEpisodic(ctx, "active", "c1", EpisodicInput{Summary: "y", Importance: 0.5})

	res, err := em.CleanupInactiveAccounts(ctx)
	if err != nil {
		t.Fatalf("CleanupInactiveAccounts: %v", err)
	}
	if res.Configs != 1 || res.Archived != 3 {
		t.Errorf("result: %+v", res)
	}

	cfg := assertCounterMatches(t, s, "idle", "c1")
	if cfg.TotalMemories != 0 {
		t.Errorf("idle total: got %d, want 0", cfg.TotalMemories)
	}
	archives, _ := s.ListArchives(ctx, Owner{UserID: "idle"}, 10)
	for _, a := range archives {
		if a.Reason != ReasonInactiveAccount || !a.CanRestore {
			t.Errorf("archive: %+v", a)
		}
	}
	if len(emb.deleted) != 3 {
		t.Errorf("embedding deletes: got %d, want 3", len(emb.deleted))
	}

	active := assertCounterMatches(t, s, "active", "c1")
	if active.TotalMemories != 1 {
		t.Errorf("active config touched: total %d", active.TotalMemories)
	}
}

func TestCleanupInactiveAccounts_WithinWindow(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	_, _ = s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "x", Importance: 0.5})
	clock.Advance(89 * day)

	res, err := NewEvictionManager(s, EvictionOptions{}).CleanupInactiveAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Configs != 0 {
		t.Errorf("config archived before 90 days: %+v", res)
	}
}

func TestApplyImportanceTieredExpiry(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	em := NewEvictionManager(s, EvictionOptions{})

	low, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "low", Importance: 0.1})
	high, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "high", Importance: 0.9})
	medium, _ := s.CreateSemantic(ctx, "u1", "c1", SemanticInput{Key: "k", Value: "v", Importance: 0.5})

	clock.Advance(31 * day)
	n, err := em.ApplyImportanceTieredExpiry(ctx)
	if err != nil {
		t.Fatalf("ApplyImportanceTieredExpiry: %v", err)
	}
	if n != 1 {
		t.Errorf("marked: got %d, want 1", n)
	}
	owner := Owner{UserID: "u1"}
	got, _ := s.Get(ctx, low.ID, KindEpisodic, owner)
	if got.Meta().ExpiresAt == nil {
		t.Error("low-importance memory should be marked")
	}
	got, _ = s.Get(ctx, medium.ID, KindSemantic, owner)
	if got.Meta().ExpiresAt != nil {
		t.Error("medium-importance memory marked before 60 days")
	}

	clock.Advance(1000 * day)
	if _, err := em.ApplyImportanceTieredExpiry(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, high.ID, KindEpisodic, owner)
	if got.Meta().ExpiresAt != nil {
		t.Error("importance >= 0.8 must never expire")
	}
	got, _ = s.Get(ctx, medium.ID, KindSemantic, owner)
	if got.Meta().ExpiresAt == nil {
		t.Error("medium-importance memory should be marked after 60 days")
	}
}

func TestApplyImportanceTieredExpiry_BoundaryImportance(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	m, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "edge", Importance: 0.3})

	clock.Advance(31 * day)
	n, _ := NewEvictionManager(s, EvictionOptions{}).ApplyImportanceTieredExpiry(ctx)
	if n != 0 {
		t.Errorf("importance 0.3 belongs to the 60-day tier, marked %d at 31 days", n)
	}
	got, _ := s.Get(ctx, m.ID, KindEpisodic, Owner{UserID: "u1"})
	if got.Meta().ExpiresAt != nil {
		t.Error("unexpected expiry mark")
	}
}

func TestPurgeExpired(t *testing.T) {
	database, s, emb, clock := setupTestStore(t)
	ctx := context.Background()
	em := NewEvictionManager(s, EvictionOptions{Grace: day})

	m, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "fading", Importance: 0.1})
	keep, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "fresh", Importance: 0.1})
	clock.Advance(31 * day)
	_ = s.Touch(ctx, []Ref{{ID: keep.ID, Kind: KindEpisodic}})
	if _, err := em.ApplyImportanceTieredExpiry(ctx); err != nil {
		t.Fatal(err)
	}

	n, _ := em.PurgeExpired(ctx)
	if n != 0 {
		t.Errorf("purged %d inside the grace window", n)
	}

	clock.Advance(2 * day)
	n, err := em.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged: got %d, want 1", n)
	}
	if _, err := s.Get(ctx, m.ID, KindEpisodic, Owner{UserID: "u1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired row still present: %v", err)
	}
	var reason string
	if err := database.Conn().QueryRow(`SELECT reason FROM memory_archives WHERE memory_id = ?`, m.ID).Scan(&reason); err != nil {
		t.Fatalf("archive lookup: %v", err)
	}
	if reason != string(ReasonExpired) {
		t.Errorf("reason: got %q", reason)
	}
	if len(emb.deleted) != 1 {
		t.Errorf("embedding deletes: %v", emb.deleted)
	}
	assertCounterMatches(t, s, "u1", "c1")
}

func TestPurgeArchives(t *testing.T) {
	database, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	em := NewEvictionManager(s, EvictionOptions{})
	m, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "x", Importance: 0.5})
	_, _ = s.Delete(ctx, m.ID, KindEpisodic, Owner{UserID: "u1"})
	cfg, _ := s.FindConfig(ctx, "u1", "c1")
	_, _ = s.ArchiveSummarized(ctx, cfg, []string{"raw"})

	clock.Advance(DefaultRestoreWindow + day)
	n, err := em.PurgeArchives(ctx)
	if err != nil {
		t.Fatalf("PurgeArchives: %v", err)
	}
	if n != 1 {
		t.Errorf("purged: got %d, want 1", n)
	}
	var left int
	_ = database.Conn().QueryRow(`SELECT COUNT(*) FROM memory_archives WHERE reason = ?`, string(ReasonSummarized)).Scan(&left)
	if left != 1 {
		t.Errorf("summarized archive should be kept, got %d", left)
	}
}
