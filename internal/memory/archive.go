package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
)

// KindMessages tags archives that hold summarised-away chat messages rather
// than a memory row.
const KindMessages = "messages"

// ArchiveSummarized records the raw messages a summarization job compressed
// away, alongside what they became. These archives are kept for review and
// cannot be restored.
func (s *Store) ArchiveSummarized(ctx context.Context, cfg *Config, snapshot any) (*Archive, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("store: archive summarized: %w", err)
	}
	a := &Archive{
		ID:          uuid.NewString(),
		ConfigID:    cfg.ID,
		UserID:      cfg.UserID,
		CharacterID: cfg.CharacterID,
		Kind:        KindMessages,
		Snapshot:    string(raw),
		Reason:      ReasonSummarized,
		ArchivedAt:  s.Now(),
	}
	if err := insertArchive(ctx, s.db.Conn(), a); err != nil {
		return nil, fmt.Errorf("store: archive summarized: %w", err)
	}
	s.metrics.MemoryArchived(string(a.Reason))
	return a, nil
}

// GetArchive loads an archive after checking ownership.
func (s *Store) GetArchive(ctx context.Context, id string, owner Owner) (*Archive, error) {
	a, err := getArchive(ctx, s.db.Conn(), id)
	if err != nil {
		return nil, fmt.Errorf("store: get archive %q: %w", id, err)
	}
	if err := checkArchiveOwner(a, owner); err != nil {
		return nil, fmt.Errorf("store: get archive %q: %w", id, err)
	}
	return a, nil
}

func getArchive(ctx context.Context, q db.Querier, id string) (*Archive, error) {
	return scanArchive(q.QueryRowContext(ctx, `SELECT `+archiveColumns+` FROM memory_archives WHERE id = ?`, id))
}

// ListArchives returns owner's archives, newest first.
func (s *Store) ListArchives(ctx context.Context, owner Owner, limit int) ([]Archive, error) {
	if owner.UserID == "" {
		return nil, fmt.Errorf("store: list archives: user is required")
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + archiveColumns + ` FROM memory_archives WHERE user_id = ?`
	args := []any{owner.UserID}
	if owner.CharacterID != "" {
		query += ` AND character_id = ?`
		args = append(args, owner.CharacterID)
	}
	query += ` ORDER BY archived_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list archives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list archives: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Restore brings an archived memory back under the capacity rule: if the
// config is full, something else is evicted to make room. The archive is
// marked restored and cannot be restored twice.
func (s *Store) Restore(ctx context.Context, archiveID string, owner Owner) (Record, error) {
	now := s.Now()
	var (
		rec     Record
		evicted []*Archive
	)
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		a, err := getArchive(ctx, tx, archiveID)
		if err != nil {
			return err
		}
		if err := checkArchiveOwner(a, owner); err != nil {
			return err
		}
		if !a.Restorable(now) {
			return ErrNotRestorable
		}
		rec, err = decodeSnapshot(a)
		if err != nil {
			return err
		}
		cfg, err := s.ensureConfig(ctx, tx, a.UserID, a.CharacterID, now)
		if err != nil {
			return err
		}
		_, evicted, err = s.put(ctx, tx, cfg, rec, now, true)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE memory_archives SET restored_at = ?, can_restore = 0 WHERE id = ?`,
			db.FormatTime(now), a.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: restore %q: %w", archiveID, err)
	}
	s.afterEvict(ctx, evicted)
	s.embed(ctx, rec)
	return rec, nil
}

func decodeSnapshot(a *Archive) (Record, error) {
	var rec Record
	switch Kind(a.Kind) {
	case KindEpisodic:
		rec = &Episodic{}
	case KindSemantic:
		rec = &Semantic{}
	case KindEmotional:
		rec = &Emotional{}
	default:
		return nil, ErrNotRestorable
	}
	if err := json.Unmarshal([]byte(a.Snapshot), rec); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec, nil
}

func checkArchiveOwner(a *Archive, owner Owner) error {
	if owner.UserID == "" || a.UserID != owner.UserID {
		return ErrForbidden
	}
	if owner.CharacterID != "" && a.CharacterID != owner.CharacterID {
		return ErrForbidden
	}
	return nil
}

// PurgeArchives deletes restorable archives whose window has lapsed and
// returns how many were removed.
func (s *Store) PurgeArchives(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM memory_archives WHERE restore_expiry IS NOT NULL AND restore_expiry <= ?`,
		db.FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("store: purge archives: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
