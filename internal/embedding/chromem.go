package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

// ChromemIndex keeps vectors in an embedded chromem-go database, one
// collection per memory config. It holds nothing on disk; pair it with
// `charmem backfill` after a restart.
type ChromemIndex struct {
	db *chromem.DB

	mu      sync.RWMutex
	configs map[string]string // memory id -> config id
}

// NewChromemIndex creates an empty in-process index.
func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:      chromem.NewDB(),
		configs: make(map[string]string),
	}
}

func collectionName(configID string) string {
	return "config_" + configID
}

func (c *ChromemIndex) collection(configID string) (*chromem.Collection, error) {
	// Vectors are always supplied, so the embedding func is never invoked.
	col, err := c.db.GetOrCreateCollection(collectionName(configID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %s: %w", configID, err)
	}
	return col, nil
}

func (c *ChromemIndex) Upsert(ctx context.Context, e Entry) error {
	if len(e.Vector) == 0 {
		return nil
	}
	col, err := c.collection(e.ConfigID)
	if err != nil {
		return err
	}
	// AddDocument overwrites an existing id.
	err = col.AddDocument(ctx, chromem.Document{
		ID:        e.MemoryID,
		Content:   e.MemoryID,
		Embedding: e.Vector,
		Metadata: map[string]string{
			"kind":         string(e.Kind),
			"content_hash": e.ContentHash,
			"model":        e.Model,
		},
	})
	if err != nil {
		return fmt.Errorf("chromem: add %s: %w", e.MemoryID, err)
	}

	c.mu.Lock()
	c.configs[e.MemoryID] = e.ConfigID
	c.mu.Unlock()
	return nil
}

func (c *ChromemIndex) Query(ctx context.Context, vector []float32, f Filter, k int) ([]Match, error) {
	if f.ConfigID == "" {
		return nil, errors.New("chromem: query requires a config id")
	}
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}
	col := c.db.GetCollection(collectionName(f.ConfigID), nil)
	if col == nil {
		return nil, nil
	}
	// chromem-go rejects nResults above the collection size. Configs are
	// capacity-bounded, so pull every document and filter kinds here.
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	out := make([]Match, 0, k)
	for _, r := range results {
		kind := memoryKind(r.Metadata["kind"])
		sim := float64(r.Similarity)
		if !f.allows(kind) || sim < f.MinSimilarity {
			continue
		}
		out = append(out, Match{MemoryID: r.ID, Kind: kind, Similarity: sim})
	}
	sortMatches(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (c *ChromemIndex) Has(_ context.Context, memoryID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.configs[memoryID]
	return ok, nil
}

func (c *ChromemIndex) Delete(ctx context.Context, memoryID string) error {
	c.mu.Lock()
	configID, ok := c.configs[memoryID]
	delete(c.configs, memoryID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	col := c.db.GetCollection(collectionName(configID), nil)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, memoryID); err != nil {
		return fmt.Errorf("chromem: delete %s: %w", memoryID, err)
	}
	return nil
}

func (c *ChromemIndex) DeleteConfig(_ context.Context, configID string) error {
	c.mu.Lock()
	for id, cfg := range c.configs {
		if cfg == configID {
			delete(c.configs, id)
		}
	}
	c.mu.Unlock()
	if err := c.db.DeleteCollection(collectionName(configID)); err != nil {
		return fmt.Errorf("chromem: delete config %s: %w", configID, err)
	}
	return nil
}

func memoryKind(s string) memory.Kind {
	return memory.Kind(s)
}
