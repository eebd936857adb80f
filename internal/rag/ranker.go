// Package rag retrieves the memories relevant to a user message and renders
// them into a block the character's prompt can carry.
package rag

import (
	"sort"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

// Default ranking weights.
const (
	DefaultSimilarityWeight = 0.6
	DefaultImportanceWeight = 0.4
)

// Ranker ranks retrieval candidates by a blend of similarity and importance.
type Ranker struct {
	SimilarityWeight float64
	ImportanceWeight float64
}

// NewRanker creates a Ranker with the default weights.
func NewRanker() *Ranker {
	return &Ranker{SimilarityWeight: DefaultSimilarityWeight, ImportanceWeight: DefaultImportanceWeight}
}

// RankedMemory pairs a memory with its retrieval scores. Similarity is 0 for
// memories added by backfill rather than by vector search.
type RankedMemory struct {
	Record     memory.Record
	Similarity float64
	Score      float64
}

// Rank scores recs and sorts them highest first. similarityByID maps memory
// ID to cosine similarity (0-1).
func (r *Ranker) Rank(recs []memory.Record, similarityByID map[string]float64) []RankedMemory {
	ranked := make([]RankedMemory, 0, len(recs))
	for _, rec := range recs {
		sim := similarityByID[rec.Meta().ID]
		ranked = append(ranked, RankedMemory{
			Record:     rec,
			Similarity: sim,
			Score:      r.SimilarityWeight*sim + r.ImportanceWeight*rec.Meta().Importance,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
