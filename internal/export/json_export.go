package export

import (
	"encoding/json"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

// JSONExporter renders ExportData as structured JSON, with memories grouped
// by kind. Archive snapshots are omitted; they duplicate the memory rows.
type JSONExporter struct{}

type jsonOutput struct {
	UserID        string                     `json:"user_id"`
	CharacterID   string                     `json:"character_id"`
	CharacterName string                     `json:"character_name,omitempty"`
	GeneratedAt   *time.Time                 `json:"generated_at,omitempty"`
	Capacity      *jsonCapacity              `json:"capacity,omitempty"`
	Memories      map[string][]memory.Record `json:"memories"`
	Archives      []jsonArchive              `json:"archives,omitempty"`
}

type jsonCapacity struct {
	Max   int `json:"max"`
	Total int `json:"total"`
}

type jsonArchive struct {
	ID            string               `json:"id"`
	MemoryID      string               `json:"memory_id,omitempty"`
	Kind          string               `json:"kind"`
	Reason        memory.ArchiveReason `json:"reason"`
	ArchivedAt    time.Time            `json:"archived_at"`
	RestoreExpiry *time.Time           `json:"restore_expiry,omitempty"`
	Restored      bool                 `json:"restored"`
}

func (e *JSONExporter) Export(data ExportData) (string, error) {
	out := jsonOutput{
		UserID:        data.Owner.UserID,
		CharacterID:   data.Owner.CharacterID,
		CharacterName: data.CharacterName,
		Memories:      groupByKind(data.Memories),
	}
	if !data.GeneratedAt.IsZero() {
		t := data.GeneratedAt.UTC()
		out.GeneratedAt = &t
	}
	if cfg := data.Config; cfg != nil {
		out.Capacity = &jsonCapacity{Max: cfg.MaxMemories, Total: cfg.TotalMemories}
	}
	for _, a := range data.Archives {
		out.Archives = append(out.Archives, jsonArchive{
			ID:            a.ID,
			MemoryID:      a.MemoryID,
			Kind:          a.Kind,
			Reason:        a.Reason,
			ArchivedAt:    a.ArchivedAt,
			RestoreExpiry: a.RestoreExpiry,
			Restored:      a.RestoredAt != nil,
		})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func groupByKind(recs []memory.Record) map[string][]memory.Record {
	groups := make(map[string][]memory.Record)
	for _, k := range memory.Kinds {
		if items := ofKind(recs, k); len(items) > 0 {
			groups[string(k)] = items
		}
	}
	return groups
}
