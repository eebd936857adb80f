package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/metrics"
)

func TestAdd_Validation(t *testing.T) {
	s := New(logging.Discard(), nil)
	noop := func(context.Context) (int, error) { return 0, nil }

	if err := s.Add(Sweep{Name: "", Run: noop}); err == nil {
		t.Error("expected error for unnamed sweep")
	}
	if err := s.Add(Sweep{Name: "bad", Spec: "every tuesday", Run: noop}); err == nil {
		t.Error("expected error for bad spec")
	}
	if err := s.Add(Sweep{Name: "manual", Run: noop}); err != nil {
		t.Errorf("manual-only sweep: %v", err)
	}
	if err := s.Add(Sweep{Name: "hourly", Spec: "@hourly", Run: noop}); err != nil {
		t.Errorf("hourly sweep: %v", err)
	}
	names := s.Names()
	if len(names) != 2 || names[0] != "manual" || names[1] != "hourly" {
		t.Errorf("names: %v", names)
	}
}

func TestRunNow(t *testing.T) {
	s := New(logging.Discard(), metrics.New())
	boom := errors.New("boom")
	s.Add(Sweep{Name: "ok", Run: func(context.Context) (int, error) { return 3, nil }})
	s.Add(Sweep{Name: "fails", Run: func(context.Context) (int, error) { return 1, boom }})

	r, err := s.RunNow(context.Background(), "ok")
	if err != nil || r.Count != 3 || r.Name != "ok" {
		t.Errorf("ok: %+v, %v", r, err)
	}
	if _, err := s.RunNow(context.Background(), "fails"); !errors.Is(err, boom) {
		t.Errorf("fails: got %v", err)
	}
	if _, err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownSweep) {
		t.Errorf("missing: got %v", err)
	}
}

func TestRunAll_ContinuesPastFailure(t *testing.T) {
	s := New(logging.Discard(), nil)
	var ran []string
	add := func(name string, err error) {
		s.Add(Sweep{Name: name, Run: func(context.Context) (int, error) {
			ran = append(ran, name)
			return 0, err
		}})
	}
	add("a", nil)
	add("b", errors.New("down"))
	add("c", nil)

	results := s.RunAll(context.Background())
	if len(results) != 3 || len(ran) != 3 {
		t.Fatalf("ran %v", ran)
	}
	if results[1].Err == nil || results[0].Err != nil || results[2].Err != nil {
		t.Errorf("results: %+v", results)
	}
}

func TestStart_FiresScheduledSweep(t *testing.T) {
	s := New(logging.Discard(), nil)
	var hits atomic.Int32
	var sawCtx atomic.Bool
	s.Add(Sweep{Name: "tick", Spec: "@every 1s", Run: func(ctx context.Context) (int, error) {
		if ctx.Err() == nil {
			sawCtx.Store(true)
		}
		hits.Add(1)
		return 0, nil
	}})

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(4 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if hits.Load() == 0 {
		t.Fatal("scheduled sweep never fired")
	}
	if !sawCtx.Load() {
		t.Error("sweep ran with a cancelled context")
	}
}

func TestStandard_RunsAgainstStore(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memory.NewStore(database, memory.WithClock(clock), memory.WithLogger(logging.Discard()))
	ctx := context.Background()
	if _, err := store.CreateEpisodic(ctx, "u1", "c1", memory.EpisodicInput{Summary: "old chat", Importance: 0.1}); err != nil {
		t.Fatalf("CreateEpisodic: %v", err)
	}

	// Jump past the low-importance window and past inactivity.
	now = now.Add(100 * 24 * time.Hour)

	s := New(logging.Discard(), nil)
	sweeps := Standard(Targets{Eviction: memory.NewEvictionManager(store, memory.EvictionOptions{})}, Specs{})
	if len(sweeps) != 4 {
		t.Fatalf("sweeps without pipeline or embeddings: got %d, want 4", len(sweeps))
	}
	for _, sw := range sweeps {
		if err := s.Add(sw); err != nil {
			t.Fatalf("Add %s: %v", sw.Name, err)
		}
	}

	r, err := s.RunNow(ctx, SweepInactiveCleanup)
	if err != nil || r.Count != 1 {
		t.Fatalf("inactive cleanup: %+v, %v", r, err)
	}
	for _, r := range s.RunAll(ctx) {
		if r.Err != nil {
			t.Errorf("%s: %v", r.Name, r.Err)
		}
	}
	cfg, err := store.FindConfig(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if cfg.TotalMemories != 0 {
		t.Errorf("total memories: got %d, want 0", cfg.TotalMemories)
	}
}
