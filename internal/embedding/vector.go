// Package embedding turns memory text into vectors and answers
// owner-scoped similarity queries over them.
package embedding

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

// Entry is one stored vector, keyed by (MemoryID, Kind).
type Entry struct {
	MemoryID    string
	Kind        memory.Kind
	ConfigID    string
	Vector      []float32
	ContentHash string
	Model       string
}

// Filter scopes a query. ConfigID is mandatory: results never cross configs.
type Filter struct {
	ConfigID      string
	Kinds         []memory.Kind
	MinSimilarity float64
}

func (f Filter) allows(k memory.Kind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, want := range f.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Match is a query hit. Similarity is cosine similarity (1 - cosine distance).
type Match struct {
	MemoryID   string
	Kind       memory.Kind
	Similarity float64
}

// Ref returns the memory pointer for m.
func (m Match) Ref() memory.Ref { return memory.Ref{ID: m.MemoryID, Kind: m.Kind} }

// VectorIndex is the storage engine behind Index. Implementations must scope
// every query to Filter.ConfigID and return matches sorted by similarity,
// highest first.
type VectorIndex interface {
	Upsert(ctx context.Context, e Entry) error
	Query(ctx context.Context, vector []float32, f Filter, k int) ([]Match, error)
	Has(ctx context.Context, memoryID string) (bool, error)
	Delete(ctx context.Context, memoryID string) error
	DeleteConfig(ctx context.Context, configID string) error
}

func sortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Similarity > ms[j].Similarity })
}

// float32SliceToBlob serialises a float32 slice to a little-endian byte blob.
// This is the format expected by sqlite-vec's BLOB input.
func float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// blobToFloat32Slice deserialises a little-endian byte blob to a float32 slice.
func blobToFloat32Slice(b []byte) []float32 {
	result := make([]float32, len(b)/4)
	for i := range result {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		result[i] = math.Float32frombits(bits)
	}
	return result
}
