package embedding

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/adapter"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestIndex(t *testing.T, database *db.DB, fake *adapter.Fake, vectors VectorIndex, now func() time.Time) *Index {
	t.Helper()
	idx, err := New(database, fake, vectors, Options{Model: "fake-embed", Logger: logging.Discard(), Now: now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(idx.Close)
	return idx
}

// backends runs fn against every VectorIndex implementation.
func backends(t *testing.T, fn func(t *testing.T, database *db.DB, vectors VectorIndex)) {
	t.Run("sqlite", func(t *testing.T) {
		database := openTestDB(t)
		fn(t, database, NewSQLiteIndex(database))
	})
	t.Run("chromem", func(t *testing.T) {
		fn(t, openTestDB(t), NewChromemIndex())
	})
}

func TestSearch_SelfSimilarityRanksFirst(t *testing.T) {
	backends(t, func(t *testing.T, database *db.DB, vectors VectorIndex) {
		ctx := context.Background()
		idx := newTestIndex(t, database, adapter.NewFake(), vectors, nil)

		target := memory.Ref{ID: "m-hiking", Kind: memory.KindEpisodic}
		other := memory.Ref{ID: "m-tax", Kind: memory.KindEpisodic}
		text := "we went hiking on Bukhansan mountain last autumn"
		if err := idx.SaveMemoryEmbedding(ctx, target, "cfg-1", text); err != nil {
			t.Fatalf("save target: %v", err)
		}
		if err := idx.SaveMemoryEmbedding(ctx, other, "cfg-1", "quarterly payroll spreadsheet errors"); err != nil {
			t.Fatalf("save other: %v", err)
		}

		matches, err := idx.SearchSimilarMemories(ctx, text, "cfg-1", SearchOptions{Limit: 5, MinSimilarity: 0.0001})
		if err != nil {
			t.Fatalf("SearchSimilarMemories: %v", err)
		}
		if len(matches) == 0 {
			t.Fatal("no matches")
		}
		if matches[0].MemoryID != target.ID {
			t.Errorf("top match: got %s, want %s", matches[0].MemoryID, target.ID)
		}
		if matches[0].Similarity < 0.99 {
			t.Errorf("self-similarity: got %f, want >= 0.99", matches[0].Similarity)
		}
		for i := 1; i < len(matches); i++ {
			if matches[i].Similarity > matches[i-1].Similarity {
				t.Errorf("matches not sorted: %v", matches)
			}
		}
	})
}

func TestSearch_ScopedToConfig(t *testing.T) {
	backends(t, func(t *testing.T, database *db.DB, vectors VectorIndex) {
		ctx := context.Background()
		idx := newTestIndex(t, database, adapter.NewFake(), vectors, nil)

		text := "my favorite food is kimchi stew"
		_ = idx.SaveMemoryEmbedding(ctx, memory.Ref{ID: "mine", Kind: memory.KindSemantic}, "cfg-a", text)
		_ = idx.SaveMemoryEmbedding(ctx, memory.Ref{ID: "theirs", Kind: memory.KindSemantic}, "cfg-b", text)

		matches, err := idx.SearchSimilarMemories(ctx, text, "cfg-a", SearchOptions{})
		if err != nil {
			t.Fatalf("SearchSimilarMemories: %v", err)
		}
		if len(matches) != 1 || matches[0].MemoryID != "mine" {
			t.Errorf("got %v, want only cfg-a's memory", matches)
		}

		if _, err := idx.SearchSimilarMemories(ctx, text, "", SearchOptions{}); err == nil {
			t.Error("expected error for empty config id")
		}
	})
}

func TestSearch_KindFilterAndThreshold(t *testing.T) {
	backends(t, func(t *testing.T, database *db.DB, vectors VectorIndex) {
		ctx := context.Background()
		idx := newTestIndex(t, database, adapter.NewFake(), vectors, nil)

		_ = idx.SaveMemoryEmbedding(ctx, memory.Ref{ID: "ep", Kind: memory.KindEpisodic}, "cfg", "puppy named Bori")
		_ = idx.SaveMemoryEmbedding(ctx, memory.Ref{ID: "em", Kind: memory.KindEmotional}, "cfg", "puppy named Bori")
		_ = idx.SaveMemoryEmbedding(ctx, memory.Ref{ID: "far", Kind: memory.KindEmotional}, "cfg", "train delays downtown")

		matches, err := idx.SearchSimilarMemories(ctx, "puppy named Bori", "cfg", SearchOptions{
			Kinds: []memory.Kind{memory.KindEmotional},
		})
		if err != nil {
			t.Fatalf("SearchSimilarMemories: %v", err)
		}
		if len(matches) != 1 || matches[0].MemoryID != "em" || matches[0].Kind != memory.KindEmotional {
			t.Errorf("got %v, want only the emotional match above threshold", matches)
		}
	})
}

func TestDeleteEmbedding_Idempotent(t *testing.T) {
	backends(t, func(t *testing.T, database *db.DB, vectors VectorIndex) {
		ctx := context.Background()
		idx := newTestIndex(t, database, adapter.NewFake(), vectors, nil)

		ref := memory.Ref{ID: "m1", Kind: memory.KindEpisodic}
		_ = idx.SaveMemoryEmbedding(ctx, ref, "cfg", "a walk by the Han river")
		if err := idx.DeleteEmbedding(ctx, "m1"); err != nil {
			t.Fatalf("DeleteEmbedding: %v", err)
		}
		if err := idx.DeleteEmbedding(ctx, "m1"); err != nil {
			t.Errorf("second delete should be a no-op, got %v", err)
		}
		if err := idx.DeleteEmbedding(ctx, "never-existed"); err != nil {
			t.Errorf("missing delete should be a no-op, got %v", err)
		}
		if ok, _ := vectors.Has(ctx, "m1"); ok {
			t.Error("vector still present")
		}
		matches, _ := idx.SearchSimilarMemories(ctx, "a walk by the Han river", "cfg", SearchOptions{})
		if len(matches) != 0 {
			t.Errorf("deleted memory returned: %v", matches)
		}
	})
}

func TestDeleteConfig(t *testing.T) {
	backends(t, func(t *testing.T, database *db.DB, vectors VectorIndex) {
		ctx := context.Background()
		idx := newTestIndex(t, database, adapter.NewFake(), vectors, nil)
		_ = idx.SaveMemoryEmbedding(ctx, memory.Ref{ID: "a", Kind: memory.KindEpisodic}, "cfg-x", "one")
		_ = idx.SaveMemoryEmbedding(ctx, memory.Ref{ID: "b", Kind: memory.KindEpisodic}, "cfg-y", "one")

		if err := idx.DeleteConfig(ctx, "cfg-x"); err != nil {
			t.Fatalf("DeleteConfig: %v", err)
		}
		if ok, _ := vectors.Has(ctx, "a"); ok {
			t.Error("cfg-x vector survived")
		}
		if ok, _ := vectors.Has(ctx, "b"); !ok {
			t.Error("cfg-y vector removed")
		}
	})
}

func TestCreateEmbedding_CachesByContentHash(t *testing.T) {
	database := openTestDB(t)
	fake := adapter.NewFake()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	idx := newTestIndex(t, database, fake, NewSQLiteIndex(database), clock)
	ctx := context.Background()

	v1, tokens, err := idx.CreateEmbedding(ctx, "hello there friend")
	if err != nil {
		t.Fatalf("CreateEmbedding: %v", err)
	}
	if tokens != 3 {
		t.Errorf("tokens: got %d, want 3", tokens)
	}
	v2, _, _ := idx.CreateEmbedding(ctx, "hello there friend")
	if fake.EmbedCalls() != 1 {
		t.Errorf("provider calls: got %d, want 1", fake.EmbedCalls())
	}
	if len(v1) != len(v2) || v1[0] != v2[0] {
		t.Error("cached vector differs")
	}

	// A fresh index shares only the persistent cache.
	idx2 := newTestIndex(t, database, fake, NewSQLiteIndex(database), clock)
	if _, _, err := idx2.CreateEmbedding(ctx, "hello there friend"); err != nil {
		t.Fatal(err)
	}
	if fake.EmbedCalls() != 1 {
		t.Errorf("persistent cache missed: calls %d", fake.EmbedCalls())
	}

	// Past the TTL the provider is asked again.
	later := now.Add(DefaultCacheTTL + time.Hour)
	idx3 := newTestIndex(t, database, fake, NewSQLiteIndex(database), func() time.Time { return later })
	if _, _, err := idx3.CreateEmbedding(ctx, "hello there friend"); err != nil {
		t.Fatal(err)
	}
	if fake.EmbedCalls() != 2 {
		t.Errorf("expired cache entry reused: calls %d", fake.EmbedCalls())
	}

	n, err := idx3.PurgeCache(ctx)
	if err != nil {
		t.Fatalf("PurgeCache: %v", err)
	}
	if n != 0 {
		t.Errorf("purged %d fresh rows", n)
	}
}

func TestCreateEmbedding_ProviderError(t *testing.T) {
	database := openTestDB(t)
	fake := adapter.NewFake()
	fake.EmbedErr = errors.New("quota exceeded")
	idx := newTestIndex(t, database, fake, NewSQLiteIndex(database), nil)

	if err := idx.SaveMemoryEmbedding(context.Background(), memory.Ref{ID: "x", Kind: memory.KindEpisodic}, "cfg", "text"); err == nil {
		t.Error("expected error")
	}
}

func TestSQLiteIndex_SkipsOtherDimensions(t *testing.T) {
	database := openTestDB(t)
	vectors := NewSQLiteIndex(database)
	ctx := context.Background()

	_ = vectors.Upsert(ctx, Entry{MemoryID: "old", Kind: memory.KindEpisodic, ConfigID: "cfg", Vector: []float32{1, 0, 0}})
	_ = vectors.Upsert(ctx, Entry{MemoryID: "new", Kind: memory.KindEpisodic, ConfigID: "cfg", Vector: []float32{1, 0, 0, 0}})

	matches, err := vectors.Query(ctx, []float32{1, 0, 0, 0}, Filter{ConfigID: "cfg"}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].MemoryID != "new" {
		t.Errorf("got %v, want only the same-dimension vector", matches)
	}
}

func TestBackfill(t *testing.T) {
	database := openTestDB(t)
	fake := adapter.NewFake()
	idx := newTestIndex(t, database, fake, NewSQLiteIndex(database), nil)
	ctx := context.Background()

	recs := []memory.Record{
		&memory.Episodic{Base: memory.Base{ID: "e1", ConfigID: "cfg"}, Summary: "picnic"},
		&memory.Semantic{Base: memory.Base{ID: "s1", ConfigID: "cfg"}, Key: "pet", Value: "cat"},
	}
	_ = idx.SaveMemoryEmbedding(ctx, memory.RefOf(recs[0]), "cfg", recs[0].EmbeddingText())

	missing, err := idx.Missing(ctx, recs)
	if err != nil {
		t.Fatalf("Missing: %v", err)
	}
	if len(missing) != 1 || missing[0].Meta().ID != "s1" {
		t.Fatalf("missing: got %v", missing)
	}

	ticks := 0
	saved, failed := idx.Backfill(ctx, missing, func() { ticks++ })
	if saved != 1 || failed != 0 || ticks != 1 {
		t.Errorf("saved=%d failed=%d ticks=%d", saved, failed, ticks)
	}
	if ok, _ := idx.vectors.Has(ctx, "s1"); !ok {
		t.Error("backfilled vector missing")
	}
}

func TestBlobRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	out := blobToFloat32Slice(float32SliceToBlob(in))
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
}
