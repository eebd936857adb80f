package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
)

type recordingEmbeddings struct {
	mu      sync.Mutex
	saved   map[string]string
	deleted []string
	saveErr error
}

func newRecordingEmbeddings() *recordingEmbeddings {
	return &recordingEmbeddings{saved: map[string]string{}}
}

func (r *recordingEmbeddings) SaveMemoryEmbedding(_ context.Context, ref Ref, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved[ref.ID] = text
	return nil
}

func (r *recordingEmbeddings) DeleteEmbedding(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	delete(r.saved, id)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestStore(t *testing.T, opts ...Option) (*db.DB, *Store, *recordingEmbeddings, *testClock) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	emb := newRecordingEmbeddings()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	base := []Option{WithEmbeddings(emb), WithClock(clock.Now), WithLogger(logging.Discard())}
	return database, NewStore(database, append(base, opts...)...), emb, clock
}

func assertCounterMatches(t *testing.T, s *Store, userID, characterID string) *Config {
	t.Helper()
	ctx := context.Background()
	cfg, err := s.FindConfig(ctx, userID, characterID)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	live, err := s.CountLive(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("CountLive: %v", err)
	}
	if cfg.TotalMemories != live {
		t.Fatalf("total_memories = %d, live rows = %d", cfg.TotalMemories, live)
	}
	return cfg
}

func TestGetOrCreateConfig_CreatesOnceAndRefreshesAccess(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateConfig(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("GetOrCreateConfig: %v", err)
	}
	if first.MaxMemories != DefaultMaxMemories {
		t.Errorf("max: got %d, want %d", first.MaxMemories, DefaultMaxMemories)
	}

	clock.Advance(time.Hour)
	second, err := s.GetOrCreateConfig(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("GetOrCreateConfig: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same config, got %q and %q", first.ID, second.ID)
	}
	if !second.LastAccessAt.After(first.LastAccessAt) {
		t.Errorf("last_access_at not refreshed: %v -> %v", first.LastAccessAt, second.LastAccessAt)
	}
}

func TestCreateEpisodic_EmbedsAndCounts(t *testing.T) {
	_, s, emb, _ := setupTestStore(t)
	ctx := context.Background()

	m, err := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{
		Summary:            "We talked about her trip to Busan",
		OriginalMessageIDs: []string{"m1", "m2"},
		Importance:         0.6,
	})
	if err != nil {
		t.Fatalf("CreateEpisodic: %v", err)
	}
	if m.ID == "" || m.ConfigID == "" {
		t.Fatalf("missing identity: %+v", m.Base)
	}
	if emb.saved[m.ID] != m.Summary {
		t.Errorf("embedding text: got %q", emb.saved[m.ID])
	}

	got, err := s.Get(ctx, m.ID, KindEpisodic, Owner{UserID: "u1"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ep := got.(*Episodic)
	if len(ep.OriginalMessageIDs) != 2 || ep.OriginalMessageIDs[1] != "m2" {
		t.Errorf("message ids: got %v", ep.OriginalMessageIDs)
	}
	cfg := assertCounterMatches(t, s, "u1", "c1")
	if cfg.TotalMemories != 1 {
		t.Errorf("total: got %d, want 1", cfg.TotalMemories)
	}
}

func TestCreate_EmbeddingFailureStillPersists(t *testing.T) {
	_, s, emb, _ := setupTestStore(t)
	emb.saveErr = errors.New("provider down")

	m, err := s.CreateEmotional(context.Background(), "u1", "c1", EmotionalInput{
		Emotion: EmotionSadness, Intensity: 0.8, Trigger: "her dog passed away", Importance: 0.7,
	})
	if err != nil {
		t.Fatalf("CreateEmotional: %v", err)
	}
	if _, err := s.Get(context.Background(), m.ID, KindEmotional, Owner{UserID: "u1"}); err != nil {
		t.Errorf("memory should persist despite embedding failure: %v", err)
	}
}

func TestCreateSemantic_UpsertsByKey(t *testing.T) {
	_, s, emb, _ := setupTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSemantic(ctx, "u1", "c1", SemanticInput{
		Category: CategoryPreference, Key: "favorite_food", Value: "kimchi", Confidence: 0.7, Importance: 0.5,
	})
	if err != nil {
		t.Fatalf("CreateSemantic: %v", err)
	}
	second, err := s.CreateSemantic(ctx, "u1", "c1", SemanticInput{
		Category: CategoryPreference, Key: "Favorite Food", Value: "tteokbokki", Confidence: 0.9, Importance: 0.8,
	})
	if err != nil {
		t.Fatalf("CreateSemantic (update): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert created a new row: %q vs %q", first.ID, second.ID)
	}

	recs, err := s.List(ctx, Owner{UserID: "u1", CharacterID: "c1"}, KindSemantic, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("rows: got %d, want 1", len(recs))
	}
	sem := recs[0].(*Semantic)
	if sem.Value != "tteokbokki" || sem.Confidence != 0.9 || sem.Importance != 0.8 {
		t.Errorf("not updated: %+v", sem)
	}
	if emb.saved[sem.ID] != "favorite food: tteokbokki" {
		t.Errorf("re-embedded text: got %q", emb.saved[sem.ID])
	}
	cfg := assertCounterMatches(t, s, "u1", "c1")
	if cfg.TotalMemories != 1 {
		t.Errorf("total: got %d, want 1", cfg.TotalMemories)
	}
}

func TestCreate_CapacityEvictsLowestImportance(t *testing.T) {
	_, s, emb, _ := setupTestStore(t, WithDefaultMaxMemories(1))
	ctx := context.Background()

	m1, err := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "first chat", Importance: 0.2})
	if err != nil {
		t.Fatalf("create m1: %v", err)
	}
	m2, err := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "second chat", Importance: 0.9})
	if err != nil {
		t.Fatalf("create m2: %v", err)
	}

	cfg := assertCounterMatches(t, s, "u1", "c1")
	if cfg.TotalMemories != 1 {
		t.Errorf("total: got %d, want 1", cfg.TotalMemories)
	}
	recs, _ := s.List(ctx, Owner{UserID: "u1"}, KindEpisodic, ListOptions{})
	if len(recs) != 1 || recs[0].Meta().ID != m2.ID {
		t.Fatalf("live episodic: got %v, want only %s", recs, m2.ID)
	}

	archives, err := s.ListArchives(ctx, Owner{UserID: "u1"}, 10)
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("archives: got %d, want 1", len(archives))
	}
	a := archives[0]
	if a.MemoryID != m1.ID || a.Reason != ReasonCapacityLimit || !a.CanRestore {
		t.Errorf("archive: %+v", a)
	}
	if a.RestoreExpiry == nil || a.RestoreExpiry.Sub(a.ArchivedAt) != DefaultRestoreWindow {
		t.Errorf("restore window: %v", a.RestoreExpiry)
	}
	if len(emb.deleted) != 1 || emb.deleted[0] != m1.ID {
		t.Errorf("embedding deletes: got %v", emb.deleted)
	}
}

func TestCreate_EvictionFallsBackToSemantic(t *testing.T) {
	_, s, _, _ := setupTestStore(t, WithDefaultMaxMemories(2))
	ctx := context.Background()

	low, _ := s.CreateSemantic(ctx, "u1", "c1", SemanticInput{Key: "shoe_size", Value: "240", Importance: 0.1})
	_, _ = s.CreateEmotional(ctx, "u1", "c1", EmotionalInput{Emotion: EmotionJoy, Trigger: "got the job", Importance: 0.9})
	if _, err := s.CreateSemantic(ctx, "u1", "c1", SemanticInput{Key: "name", Value: "Mina", Importance: 0.9}); err != nil {
		t.Fatalf("CreateSemantic: %v", err)
	}

	cfg := assertCounterMatches(t, s, "u1", "c1")
	if cfg.TotalMemories != 2 {
		t.Errorf("total: got %d, want 2", cfg.TotalMemories)
	}
	if _, err := s.Get(ctx, low.ID, KindSemantic, Owner{UserID: "u1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("lowest-importance fact should be evicted, got %v", err)
	}
}

func TestCreate_ConcurrentNeverExceedsCapacity(t *testing.T) {
	_, s, _, _ := setupTestStore(t, WithDefaultMaxMemories(3))
	ctx := context.Background()
	if _, err := s.GetOrCreateConfig(ctx, "u1", "c1"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "chat", Importance: float64(i) / 12})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("create: %v", err)
		}
	}

	cfg := assertCounterMatches(t, s, "u1", "c1")
	if cfg.TotalMemories > cfg.MaxMemories {
		t.Errorf("total %d exceeds max %d", cfg.TotalMemories, cfg.MaxMemories)
	}
}

func TestCreateBatch_AllOrNothing(t *testing.T) {
	_, s, _, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.CreateBatch(ctx, "u1", "c1", []Record{
		&Episodic{Summary: "valid"},
		&Semantic{Key: "", Value: "missing key"},
	})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	recs, _ := s.List(ctx, Owner{UserID: "u1"}, "", ListOptions{})
	if len(recs) != 0 {
		t.Errorf("partial commit: %d rows", len(recs))
	}
}

func TestGet_Ownership(t *testing.T) {
	_, s, _, _ := setupTestStore(t)
	ctx := context.Background()
	m, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "secret", Importance: 0.5})

	if _, err := s.Get(ctx, m.ID, KindEpisodic, Owner{UserID: "u2"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("other user: got %v, want ErrForbidden", err)
	}
	if _, err := s.Get(ctx, m.ID, KindEpisodic, Owner{UserID: "u1", CharacterID: "c2"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("other character: got %v, want ErrForbidden", err)
	}
	if _, err := s.Get(ctx, "missing", KindEpisodic, Owner{UserID: "u1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: got %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, m.ID, Kind("procedural"), Owner{UserID: "u1"}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("bad kind: got %v, want ErrInvalidKind", err)
	}
}

func TestUpdate_PreservesOriginalSummaryOnFirstEditOnly(t *testing.T) {
	_, s, emb, _ := setupTestStore(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1", CharacterID: "c1"}
	m, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "original", Importance: 0.5})

	first, second := "edited once", "edited twice"
	if _, err := s.Update(ctx, m.ID, KindEpisodic, owner, Patch{Summary: &first}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, err := s.Update(ctx, m.ID, KindEpisodic, owner, Patch{Summary: &second})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	ep := rec.(*Episodic)
	if ep.Summary != second || !ep.IsEdited || ep.OriginalSummary != "original" {
		t.Errorf("got summary=%q edited=%v original=%q", ep.Summary, ep.IsEdited, ep.OriginalSummary)
	}

	reloaded, _ := s.Get(ctx, m.ID, KindEpisodic, owner)
	if reloaded.(*Episodic).OriginalSummary != "original" {
		t.Errorf("persisted original: got %q", reloaded.(*Episodic).OriginalSummary)
	}
	if emb.saved[m.ID] != second {
		t.Errorf("re-embedded text: got %q", emb.saved[m.ID])
	}
}

func TestUpdate_RejectsForeignAndInvalid(t *testing.T) {
	_, s, _, _ := setupTestStore(t)
	ctx := context.Background()
	m, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "x", Importance: 0.5})

	imp := 0.9
	if _, err := s.Update(ctx, m.ID, KindEpisodic, Owner{UserID: "u2"}, Patch{Importance: &imp}); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign update: got %v", err)
	}
	val := "nope"
	if _, err := s.Update(ctx, m.ID, KindEpisodic, Owner{UserID: "u1"}, Patch{Value: &val}); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("cross-kind patch: got %v", err)
	}
	got, _ := s.Get(ctx, m.ID, KindEpisodic, Owner{UserID: "u1"})
	if got.Meta().Importance != 0.5 {
		t.Errorf("rejected update had side effects: importance %v", got.Meta().Importance)
	}
}

func TestDelete_ArchivesAndDecrements(t *testing.T) {
	_, s, emb, _ := setupTestStore(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1", CharacterID: "c1"}
	m, _ := s.CreateEmotional(ctx, "u1", "c1", EmotionalInput{Emotion: EmotionFear, Trigger: "exam", Importance: 0.4})

	if _, err := s.Delete(ctx, m.ID, KindEmotional, Owner{UserID: "u2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign delete: got %v", err)
	}

	a, err := s.Delete(ctx, m.ID, KindEmotional, owner)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if a.Reason != ReasonUserDeleted || a.MemoryID != m.ID {
		t.Errorf("archive: %+v", a)
	}
	cfg := assertCounterMatches(t, s, "u1", "c1")
	if cfg.TotalMemories != 0 {
		t.Errorf("total: got %d, want 0", cfg.TotalMemories)
	}
	if len(emb.deleted) != 1 {
		t.Errorf("embedding not deleted: %v", emb.deleted)
	}
	if _, err := s.Delete(ctx, m.ID, KindEmotional, owner); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestRestore(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	owner := Owner{UserID: "u1", CharacterID: "c1"}
	m, _ := s.CreateSemantic(ctx, "u1", "c1", SemanticInput{Key: "hometown", Value: "Jeonju", Importance: 0.6})
	a, _ := s.Delete(ctx, m.ID, KindSemantic, owner)

	rec, err := s.Restore(ctx, a.ID, owner)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if rec.Meta().ID != m.ID || rec.(*Semantic).Value != "Jeonju" {
		t.Errorf("restored: %+v", rec)
	}
	assertCounterMatches(t, s, "u1", "c1")

	if _, err := s.Restore(ctx, a.ID, owner); !errors.Is(err, ErrNotRestorable) {
		t.Errorf("double restore: got %v", err)
	}

	a2, _ := s.Delete(ctx, m.ID, KindSemantic, owner)
	clock.Advance(DefaultRestoreWindow + time.Hour)
	if _, err := s.Restore(ctx, a2.ID, owner); !errors.Is(err, ErrNotRestorable) {
		t.Errorf("expired window: got %v", err)
	}
}

func TestRestore_RespectsCapacity(t *testing.T) {
	_, s, _, _ := setupTestStore(t, WithDefaultMaxMemories(1))
	ctx := context.Background()
	owner := Owner{UserID: "u1", CharacterID: "c1"}

	old, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "old", Importance: 0.8})
	_, _ = s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "new", Importance: 0.3})

	archives, _ := s.ListArchives(ctx, owner, 10)
	var target string
	for _, a := range archives {
		if a.MemoryID == old.ID {
			target = a.ID
		}
	}
	if target == "" {
		t.Fatalf("no archive for evicted memory")
	}
	if _, err := s.Restore(ctx, target, owner); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	cfg := assertCounterMatches(t, s, "u1", "c1")
	if cfg.TotalMemories != 1 {
		t.Errorf("total: got %d, want 1", cfg.TotalMemories)
	}
}

func TestTouch_ReinforcesAndClearsExpiry(t *testing.T) {
	database, s, _, _ := setupTestStore(t)
	ctx := context.Background()
	m, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "x", Importance: 0.1})
	if _, err := database.Conn().Exec(`UPDATE episodic_memories SET expires_at = ? WHERE id = ?`,
		db.FormatTime(time.Now().Add(time.Hour)), m.ID); err != nil {
		t.Fatal(err)
	}

	if err := s.Touch(ctx, []Ref{{ID: m.ID, Kind: KindEpisodic}}); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := s.Get(ctx, m.ID, KindEpisodic, Owner{UserID: "u1"})
	b := got.Meta()
	if b.AccessCount != 1 || b.LastAccessed == nil || b.ExpiresAt != nil {
		t.Errorf("after touch: count=%d last=%v expires=%v", b.AccessCount, b.LastAccessed, b.ExpiresAt)
	}
}

func TestList_PagingAndScope(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	for _, summary := range []string{"a", "b", "c"} {
		clock.Advance(time.Minute)
		if _, err := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: summary, Importance: 0.5}); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = s.CreateEpisodic(ctx, "u2", "c1", EpisodicInput{Summary: "other user", Importance: 0.5})

	recs, err := s.List(ctx, Owner{UserID: "u1"}, "", ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len: got %d, want 2", len(recs))
	}
	if recs[0].(*Episodic).Summary != "b" || recs[1].(*Episodic).Summary != "a" {
		t.Errorf("order: got %q, %q", recs[0].(*Episodic).Summary, recs[1].(*Episodic).Summary)
	}
}

func TestSalient_Ordering(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	cfg, _ := s.GetOrCreateConfig(ctx, "u1", "c1")

	lo, _ := s.CreateSemantic(ctx, "u1", "c1", SemanticInput{Key: "a", Value: "1", Importance: 0.2})
	hi, _ := s.CreateSemantic(ctx, "u1", "c1", SemanticInput{Key: "b", Value: "2", Importance: 0.9})
	recs, err := s.Salient(ctx, cfg.ID, KindSemantic, 5)
	if err != nil {
		t.Fatalf("Salient: %v", err)
	}
	if len(recs) != 2 || recs[0].Meta().ID != hi.ID || recs[1].Meta().ID != lo.ID {
		t.Errorf("semantic order wrong: %v", recs)
	}

	e1, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "e1", Importance: 0.5})
	clock.Advance(time.Minute)
	e2, _ := s.CreateEpisodic(ctx, "u1", "c1", EpisodicInput{Summary: "e2", Importance: 0.5})
	clock.Advance(time.Minute)
	_ = s.Touch(ctx, []Ref{{ID: e1.ID, Kind: KindEpisodic}})

	eps, _ := s.Salient(ctx, cfg.ID, KindEpisodic, 5)
	if len(eps) != 2 || eps[0].Meta().ID != e1.ID || eps[1].Meta().ID != e2.ID {
		t.Errorf("episodic should be ordered by recent access")
	}
}

func TestIncreaseCapacityAndContextUsage(t *testing.T) {
	_, s, _, _ := setupTestStore(t)
	ctx := context.Background()

	cfg, err := s.IncreaseCapacity(ctx, "u1", "c1", 10)
	if err != nil {
		t.Fatalf("IncreaseCapacity: %v", err)
	}
	if cfg.MaxMemories != DefaultMaxMemories+10 {
		t.Errorf("max: got %d", cfg.MaxMemories)
	}
	if _, err := s.IncreaseCapacity(ctx, "u1", "c1", 0); err == nil {
		t.Error("expected error for non-positive amount")
	}

	if err := s.UpdateContextUsage(ctx, "u1", "c1", 0.42); err != nil {
		t.Fatalf("UpdateContextUsage: %v", err)
	}
	cfg, _ = s.FindConfig(ctx, "u1", "c1")
	if cfg.ContextUsagePercent != 42 || cfg.LastContextCheck == nil {
		t.Errorf("usage: %v at %v", cfg.ContextUsagePercent, cfg.LastContextCheck)
	}
}

func TestArchiveSummarized_NotRestorable(t *testing.T) {
	_, s, _, _ := setupTestStore(t)
	ctx := context.Background()
	cfg, _ := s.GetOrCreateConfig(ctx, "u1", "c1")

	a, err := s.ArchiveSummarized(ctx, cfg, map[string]any{"messages": []string{"hi", "hello"}})
	if err != nil {
		t.Fatalf("ArchiveSummarized: %v", err)
	}
	if _, err := s.Restore(ctx, a.ID, Owner{UserID: "u1"}); !errors.Is(err, ErrNotRestorable) {
		t.Errorf("got %v, want ErrNotRestorable", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Favorite Food", "favorite_food"},
		{"  favorite-food ", "favorite_food"},
		{"favorite__food", "favorite_food"},
		{"name", "name"},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestListConfigs(t *testing.T) {
	_, s, _, clock := setupTestStore(t)
	ctx := context.Background()
	for _, o := range []Owner{{"u1", "c1"}, {"u2", "c1"}, {"u1", "c2"}} {
		if _, err := s.GetOrCreateConfig(ctx, o.UserID, o.CharacterID); err != nil {
			t.Fatalf("GetOrCreateConfig: %v", err)
		}
		clock.Advance(time.Second)
	}

	all, err := s.ListConfigs(ctx, "")
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all: got %d, want 3", len(all))
	}
	mine, _ := s.ListConfigs(ctx, "u1")
	if len(mine) != 2 || mine[0].CharacterID != "c1" || mine[1].CharacterID != "c2" {
		t.Errorf("u1 configs: %+v", mine)
	}
}
