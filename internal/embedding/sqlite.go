package embedding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
)

// SQLiteIndex stores vectors in memory_embeddings and ranks them with
// sqlite-vec's vec_distance_cosine. It is an exact scan over one config's
// rows, which stay small because configs are capacity-bounded.
type SQLiteIndex struct {
	conn *sql.DB
	now  func() time.Time
}

// NewSQLiteIndex creates a SQLiteIndex backed by the given DB.
func NewSQLiteIndex(database *db.DB) *SQLiteIndex {
	return &SQLiteIndex{conn: database.Conn(), now: time.Now}
}

func (v *SQLiteIndex) Upsert(ctx context.Context, e Entry) error {
	if len(e.Vector) == 0 {
		return nil
	}
	_, err := v.conn.ExecContext(ctx, `
		INSERT INTO memory_embeddings (memory_id, memory_type, config_id, embedding, dimension, content_hash, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, memory_type) DO UPDATE SET
		    config_id    = excluded.config_id,
		    embedding    = excluded.embedding,
		    dimension    = excluded.dimension,
		    content_hash = excluded.content_hash,
		    model        = excluded.model,
		    created_at   = excluded.created_at`,
		e.MemoryID, string(e.Kind), e.ConfigID, float32SliceToBlob(e.Vector), len(e.Vector),
		e.ContentHash, e.Model, db.FormatTime(v.now()),
	)
	if err != nil {
		return fmt.Errorf("vector: upsert %s: %w", e.MemoryID, err)
	}
	return nil
}

func (v *SQLiteIndex) Query(ctx context.Context, vector []float32, f Filter, k int) ([]Match, error) {
	if f.ConfigID == "" {
		return nil, errors.New("vector: query requires a config id")
	}
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	// Rows of another dimension come from a previous embedding model and
	// cannot be compared.
	query := `SELECT memory_id, memory_type, 1 - vec_distance_cosine(embedding, ?) AS similarity
		FROM memory_embeddings
		WHERE config_id = ? AND dimension = ?`
	args := []any{float32SliceToBlob(vector), f.ConfigID, len(vector)}
	if len(f.Kinds) > 0 {
		query += ` AND memory_type IN (?` + strings.Repeat(`, ?`, len(f.Kinds)-1) + `)`
		for _, kind := range f.Kinds {
			args = append(args, string(kind))
		}
	}
	query += ` ORDER BY similarity DESC LIMIT ?`
	args = append(args, k)

	rows, err := v.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Match
	for rows.Next() {
		var (
			m    Match
			kind string
		)
		if err := rows.Scan(&m.MemoryID, &kind, &m.Similarity); err != nil {
			return nil, fmt.Errorf("vector: scan: %w", err)
		}
		m.Kind = memoryKind(kind)
		if m.Similarity >= f.MinSimilarity {
			out = append(out, m)
		}
	}
	return out, rows.Err()
}

func (v *SQLiteIndex) Has(ctx context.Context, memoryID string) (bool, error) {
	var n int
	err := v.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_embeddings WHERE memory_id = ?`, memoryID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("vector: has %s: %w", memoryID, err)
	}
	return n > 0, nil
}

func (v *SQLiteIndex) Delete(ctx context.Context, memoryID string) error {
	if _, err := v.conn.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("vector: delete %s: %w", memoryID, err)
	}
	return nil
}

func (v *SQLiteIndex) DeleteConfig(ctx context.Context, configID string) error {
	if _, err := v.conn.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE config_id = ?`, configID); err != nil {
		return fmt.Errorf("vector: delete config %s: %w", configID, err)
	}
	return nil
}
