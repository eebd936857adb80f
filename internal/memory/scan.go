package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	episodicColumns = `id, config_id, user_id, character_id, summary, context, original_message_ids,
		range_start_id, range_end_id, range_start_at, range_end_at, importance, access_count,
		last_accessed, is_edited, original_summary, expires_at, created_at, updated_at`

	semanticColumns = `id, config_id, user_id, character_id, category, key, value, confidence,
		importance, source_message_id, access_count, last_accessed, expires_at, created_at, updated_at`

	emotionalColumns = `id, config_id, user_id, character_id, emotion, intensity, trigger_text,
		importance, access_count, last_accessed, expires_at, created_at, updated_at`

	archiveColumns = `id, config_id, user_id, character_id, memory_id, memory_type, snapshot,
		reason, can_restore, restore_expiry, archived_at, restored_at`
)

func scanConfig(row rowScanner) (*Config, error) {
	var (
		c                     Config
		lastCheck             sql.NullString
		lastAccess, createdAt string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.CharacterID, &c.MaxMemories, &c.TotalMemories,
		&c.ContextUsagePercent, &lastCheck, &lastAccess, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.LastContextCheck = db.ParseNullTime(lastCheck)
	c.LastAccessAt = db.ParseTime(lastAccess)
	c.CreatedAt = db.ParseTime(createdAt)
	return &c, nil
}

// baseTimes collects the nullable/text time columns shared by every kind.
type baseTimes struct {
	lastAccessed, expiresAt sql.NullString
	createdAt, updatedAt    string
}

func (t baseTimes) apply(b *Base) {
	b.LastAccessed = db.ParseNullTime(t.lastAccessed)
	b.ExpiresAt = db.ParseNullTime(t.expiresAt)
	b.CreatedAt = db.ParseTime(t.createdAt)
	b.UpdatedAt = db.ParseTime(t.updatedAt)
}

func scanEpisodic(row rowScanner) (*Episodic, error) {
	var (
		e                        Episodic
		t                        baseTimes
		ids                      string
		startID, endID           sql.NullString
		startAt, endAt, origSumm sql.NullString
	)
	err := row.Scan(&e.ID, &e.ConfigID, &e.UserID, &e.CharacterID, &e.Summary, &e.Context, &ids,
		&startID, &endID, &startAt, &endAt, &e.Importance, &e.AccessCount,
		&t.lastAccessed, &e.IsEdited, &origSumm, &t.expiresAt, &t.createdAt, &t.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(ids), &e.OriginalMessageIDs)
	e.MessageRange = MessageRange{
		StartID: startID.String,
		EndID:   endID.String,
		StartAt: db.ParseNullTime(startAt),
		EndAt:   db.ParseNullTime(endAt),
	}
	e.OriginalSummary = origSumm.String
	t.apply(&e.Base)
	return &e, nil
}

func scanSemantic(row rowScanner) (*Semantic, error) {
	var (
		s      Semantic
		t      baseTimes
		source sql.NullString
		cat    string
	)
	err := row.Scan(&s.ID, &s.ConfigID, &s.UserID, &s.CharacterID, &cat, &s.Key, &s.Value,
		&s.Confidence, &s.Importance, &source, &s.AccessCount, &t.lastAccessed, &t.expiresAt,
		&t.createdAt, &t.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Category = Category(cat)
	s.SourceMessageID = source.String
	t.apply(&s.Base)
	return &s, nil
}

func scanEmotional(row rowScanner) (*Emotional, error) {
	var (
		e       Emotional
		t       baseTimes
		emotion string
	)
	err := row.Scan(&e.ID, &e.ConfigID, &e.UserID, &e.CharacterID, &emotion, &e.Intensity, &e.Trigger,
		&e.Importance, &e.AccessCount, &t.lastAccessed, &t.expiresAt, &t.createdAt, &t.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Emotion = Emotion(emotion)
	t.apply(&e.Base)
	return &e, nil
}

func columnsFor(k Kind) (table, cols string, scan func(rowScanner) (Record, error), err error) {
	switch k {
	case KindEpisodic:
		return "episodic_memories", episodicColumns, func(r rowScanner) (Record, error) { return scanEpisodic(r) }, nil
	case KindSemantic:
		return "semantic_memories", semanticColumns, func(r rowScanner) (Record, error) { return scanSemantic(r) }, nil
	case KindEmotional:
		return "emotional_memories", emotionalColumns, func(r rowScanner) (Record, error) { return scanEmotional(r) }, nil
	}
	return "", "", nil, fmt.Errorf("%w: %q", ErrInvalidKind, k)
}

func loadRecord(ctx context.Context, q db.Querier, k Kind, id string) (Record, error) {
	table, cols, scan, err := columnsFor(k)
	if err != nil {
		return nil, err
	}
	return scan(q.QueryRowContext(ctx, `SELECT `+cols+` FROM `+table+` WHERE id = ?`, id))
}

// queryRecords runs "SELECT <cols> FROM <table> " + tail.
func queryRecords(ctx context.Context, q db.Querier, k Kind, tail string, args ...any) ([]Record, error) {
	table, cols, scan, err := columnsFor(k)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT `+cols+` FROM `+table+` `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func insertArchive(ctx context.Context, q db.Querier, a *Archive) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO memory_archives (`+archiveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		a.ID, a.ConfigID, a.UserID, a.CharacterID, nullString(a.MemoryID), a.Kind, a.Snapshot,
		string(a.Reason), a.CanRestore, db.NullTime(a.RestoreExpiry), db.FormatTime(a.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

func scanArchive(row rowScanner) (*Archive, error) {
	var (
		a                      Archive
		memoryID               sql.NullString
		reason, archivedAt     string
		restoreExp, restoredAt sql.NullString
	)
	err := row.Scan(&a.ID, &a.ConfigID, &a.UserID, &a.CharacterID, &memoryID, &a.Kind, &a.Snapshot,
		&reason, &a.CanRestore, &restoreExp, &archivedAt, &restoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.MemoryID = memoryID.String
	a.Reason = ArchiveReason(reason)
	a.RestoreExpiry = db.ParseNullTime(restoreExp)
	a.ArchivedAt = db.ParseTime(archivedAt)
	a.RestoredAt = db.ParseNullTime(restoredAt)
	return &a, nil
}
