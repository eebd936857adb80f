package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/metrics"
)

const (
	// DefaultMaxMemories is the capacity of a freshly created config.
	DefaultMaxMemories = 30
	// DefaultRestoreWindow is how long a restorable archive stays restorable.
	DefaultRestoreWindow = 30 * 24 * time.Hour
)

// Embeddings is the slice of the embedding index the store writes through
// to. Both calls are best-effort: failures are logged, never returned.
type Embeddings interface {
	SaveMemoryEmbedding(ctx context.Context, ref Ref, configID, text string) error
	DeleteEmbedding(ctx context.Context, memoryID string) error
}

// Store provides read/write access to memories, configs and archives.
type Store struct {
	db            *db.DB
	embeddings    Embeddings
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	defaultMax    int
	restoreWindow time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithEmbeddings sets the embedding index written to after each commit.
func WithEmbeddings(e Embeddings) Option { return func(s *Store) { s.embeddings = e } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithDefaultMaxMemories sets the capacity given to new configs.
func WithDefaultMaxMemories(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.defaultMax = n
		}
	}
}

// WithRestoreWindow sets how long restorable archives remain restorable.
func WithRestoreWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.restoreWindow = d
		}
	}
}

// NewStore creates a Store backed by the given DB.
func NewStore(database *db.DB, opts ...Option) *Store {
	s := &Store{
		db:            database,
		now:           time.Now,
		defaultMax:    DefaultMaxMemories,
		restoreWindow: DefaultRestoreWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	return s
}

// SetEmbeddings attaches the embedding index after construction. The index
// and the store are built from the same DB, so wiring order varies.
func (s *Store) SetEmbeddings(e Embeddings) { s.embeddings = e }

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now().UTC() }

// ---- Configs ----

const configColumns = `id, user_id, character_id, max_memories, total_memories,
	context_usage_percent, last_context_check, last_access_at, created_at`

// GetOrCreateConfig returns the config for (userID, characterID), creating it
// on first use. Either way last_access_at is refreshed.
func (s *Store) GetOrCreateConfig(ctx context.Context, userID, characterID string) (*Config, error) {
	if userID == "" || characterID == "" {
		return nil, fmt.Errorf("store: user and character are required")
	}
	var cfg *Config
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		cfg, err = s.ensureConfig(ctx, tx, userID, characterID, s.Now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: get or create config: %w", err)
	}
	return cfg, nil
}

// FindConfig returns the config without creating or touching it.
func (s *Store) FindConfig(ctx context.Context, userID, characterID string) (*Config, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM memory_configs WHERE user_id = ? AND character_id = ?`,
		userID, characterID)
	cfg, err := scanConfig(row)
	if err != nil {
		return nil, fmt.Errorf("store: find config: %w", err)
	}
	return cfg, nil
}

// ConfigByID loads a config by primary key.
func (s *Store) ConfigByID(ctx context.Context, id string) (*Config, error) {
	return configByID(ctx, s.db.Conn(), id)
}

// ListConfigs returns every config, optionally limited to one user.
func (s *Store) ListConfigs(ctx context.Context, userID string) ([]Config, error) {
	query := `SELECT ` + configColumns + ` FROM memory_configs`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	rows, err := s.db.Conn().QueryContext(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list configs: %w", err)
	}
	defer rows.Close()
	var out []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list configs: %w", err)
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func configByID(ctx context.Context, q db.Querier, id string) (*Config, error) {
	row := q.QueryRowContext(ctx, `SELECT `+configColumns+` FROM memory_configs WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if err != nil {
		return nil, fmt.Errorf("store: config %q: %w", id, err)
	}
	return cfg, nil
}

func (s *Store) ensureConfig(ctx context.Context, q db.Querier, userID, characterID string, now time.Time) (*Config, error) {
	ts := db.FormatTime(now)
	_, err := q.ExecContext(ctx, `
		INSERT INTO memory_configs (id, user_id, character_id, max_memories, total_memories,
		                            context_usage_percent, last_access_at, created_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT(user_id, character_id) DO UPDATE SET
		    last_access_at = excluded.last_access_at`,
		uuid.NewString(), userID, characterID, s.defaultMax, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert config: %w", err)
	}
	row := q.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM memory_configs WHERE user_id = ? AND character_id = ?`,
		userID, characterID)
	return scanConfig(row)
}

// IncreaseCapacity raises max_memories by n.
func (s *Store) IncreaseCapacity(ctx context.Context, userID, characterID string, n int) (*Config, error) {
	if n <= 0 {
		return nil, fmt.Errorf("store: increase capacity: amount must be positive, got %d", n)
	}
	var cfg *Config
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := s.ensureConfig(ctx, tx, userID, characterID, s.Now())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_configs SET max_memories = max_memories + ? WHERE id = ?`, n, c.ID); err != nil {
			return err
		}
		cfg, err = configByID(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: increase capacity: %w", err)
	}
	return cfg, nil
}

// UpdateContextUsage records the latest context usage ratio (0..1) for the
// owner's config.
func (s *Store) UpdateContextUsage(ctx context.Context, userID, characterID string, ratio float64) error {
	now := s.Now()
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		c, err := s.ensureConfig(ctx, tx, userID, characterID, now)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE memory_configs SET context_usage_percent = ?, last_context_check = ? WHERE id = ?`,
			ratio*100, db.FormatTime(now), c.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: update context usage: %w", err)
	}
	return nil
}

// ---- Create ----

// CreateEpisodic stores a new episodic memory, evicting first if the config
// is at capacity.
func (s *Store) CreateEpisodic(ctx context.Context, userID, characterID string, in EpisodicInput) (*Episodic, error) {
	rec := &Episodic{
		Base:               Base{Importance: in.Importance},
		Summary:            strings.TrimSpace(in.Summary),
		Context:            in.Context,
		OriginalMessageIDs: in.OriginalMessageIDs,
		MessageRange:       in.MessageRange,
	}
	out, err := s.CreateBatch(ctx, userID, characterID, []Record{rec})
	if err != nil {
		return nil, err
	}
	return out[0].(*Episodic), nil
}

// CreateSemantic upserts a fact by key. An existing key is updated in place
// and the memory counter is left unchanged.
func (s *Store) CreateSemantic(ctx context.Context, userID, characterID string, in SemanticInput) (*Semantic, error) {
	rec := &Semantic{
		Base:            Base{Importance: in.Importance},
		Category:        in.Category,
		Key:             in.Key,
		Value:           strings.TrimSpace(in.Value),
		Confidence:      in.Confidence,
		SourceMessageID: in.SourceMessageID,
	}
	out, err := s.CreateBatch(ctx, userID, characterID, []Record{rec})
	if err != nil {
		return nil, err
	}
	return out[0].(*Semantic), nil
}

// CreateEmotional stores a new emotional memory.
func (s *Store) CreateEmotional(ctx context.Context, userID, characterID string, in EmotionalInput) (*Emotional, error) {
	rec := &Emotional{
		Base:      Base{Importance: in.Importance},
		Emotion:   in.Emotion,
		Intensity: in.Intensity,
		Trigger:   strings.TrimSpace(in.Trigger),
	}
	out, err := s.CreateBatch(ctx, userID, characterID, []Record{rec})
	if err != nil {
		return nil, err
	}
	return out[0].(*Emotional), nil
}

// CreateBatch persists recs in a single transaction. For each record the
// capacity check, any eviction, the insert and the counter bump happen
// together, so total_memories never exceeds max_memories on return. Either
// every record is stored or none is. Embeddings are written after commit.
func (s *Store) CreateBatch(ctx context.Context, userID, characterID string, recs []Record) ([]Record, error) {
	return s.CreateBatchWith(ctx, userID, characterID, recs, nil)
}

// CreateBatchWith is CreateBatch with then run inside the same transaction
// after the records are written. An error from then rolls the whole batch
// back. then is called even when recs is empty.
func (s *Store) CreateBatchWith(ctx context.Context, userID, characterID string, recs []Record, then func(tx *sql.Tx, recs []Record) error) ([]Record, error) {
	for _, r := range recs {
		if err := validate(r); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", r.Kind(), err)
		}
	}
	if len(recs) == 0 && then == nil {
		return nil, nil
	}

	now := s.Now()
	var (
		cfg     *Config
		evicted []*Archive
		created []Record
	)
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		cfg, err = s.ensureConfig(ctx, tx, userID, characterID, now)
		if err != nil {
			return err
		}
		for _, r := range recs {
			inserted, ev, err := s.put(ctx, tx, cfg, r, now, false)
			if err != nil {
				return err
			}
			evicted = append(evicted, ev...)
			if inserted {
				created = append(created, r)
			}
		}
		if then != nil {
			return then(tx, recs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: create batch: %w", err)
	}

	s.afterEvict(ctx, evicted)
	gone := make(map[string]bool, len(evicted))
	for _, a := range evicted {
		gone[a.MemoryID] = true
	}
	for _, r := range created {
		s.metrics.MemoryCreated(string(r.Kind()))
	}
	for _, r := range recs {
		if !gone[r.Meta().ID] {
			s.embed(ctx, r)
		}
	}
	return recs, nil
}

// put writes r under cfg inside tx. It reports whether a new row was
// inserted (false for a semantic upsert that hit an existing key) and the
// archives of anything evicted to make room. When keepIdentity is set the
// record's ID and CreatedAt are preserved (restore).
func (s *Store) put(ctx context.Context, tx *sql.Tx, cfg *Config, r Record, now time.Time, keepIdentity bool) (bool, []*Archive, error) {
	b := r.Meta()
	if !keepIdentity || b.ID == "" {
		b.ID = uuid.NewString()
	}
	if !keepIdentity || b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.ConfigID = cfg.ID
	b.UserID = cfg.UserID
	b.CharacterID = cfg.CharacterID
	b.Importance = clamp01(b.Importance)
	b.ExpiresAt = nil
	b.UpdatedAt = now

	if sem, ok := r.(*Semantic); ok {
		updated, err := s.upsertExisting(ctx, tx, cfg.ID, sem, now)
		if err != nil || updated {
			return false, nil, err
		}
	}

	var evicted []*Archive
	for cfg.TotalMemories >= cfg.MaxMemories {
		a, err := s.evictOne(ctx, tx, cfg, now)
		if err != nil {
			return false, nil, fmt.Errorf("make room in config %s: %w", cfg.ID, err)
		}
		evicted = append(evicted, a)
	}

	if err := insertRecord(ctx, tx, r); err != nil {
		return false, nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_configs SET total_memories = total_memories + 1 WHERE id = ?`, cfg.ID); err != nil {
		return false, nil, fmt.Errorf("bump counter: %w", err)
	}
	cfg.TotalMemories++
	return true, evicted, nil
}

// upsertExisting updates the semantic row sharing sem's key, if any, and
// copies the surviving identity back into sem.
func (s *Store) upsertExisting(ctx context.Context, tx *sql.Tx, configID string, sem *Semantic, now time.Time) (bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+semanticColumns+` FROM semantic_memories WHERE config_id = ? AND key = ?`,
		configID, sem.Key)
	existing, err := scanSemantic(row)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE semantic_memories
		SET category = ?, value = ?, confidence = ?, importance = ?,
		    source_message_id = COALESCE(?, source_message_id),
		    expires_at = NULL, updated_at = ?
		WHERE id = ?`,
		string(sem.Category), sem.Value, sem.Confidence, sem.Importance,
		nullString(sem.SourceMessageID), db.FormatTime(now), existing.ID,
	)
	if err != nil {
		return false, fmt.Errorf("update semantic %q: %w", sem.Key, err)
	}
	sem.ID = existing.ID
	sem.CreatedAt = existing.CreatedAt
	sem.AccessCount = existing.AccessCount
	sem.LastAccessed = existing.LastAccessed
	if sem.SourceMessageID == "" {
		sem.SourceMessageID = existing.SourceMessageID
	}
	return true, nil
}

func validate(r Record) error {
	switch rec := r.(type) {
	case *Episodic:
		rec.Summary = strings.TrimSpace(rec.Summary)
		if rec.Summary == "" {
			return fmt.Errorf("%w: summary", ErrEmptyContent)
		}
	case *Semantic:
		rec.Key = NormalizeKey(rec.Key)
		rec.Value = strings.TrimSpace(rec.Value)
		if rec.Key == "" || rec.Value == "" {
			return fmt.Errorf("%w: key and value", ErrEmptyContent)
		}
		rec.Category = ParseCategory(string(rec.Category))
		rec.Confidence = clamp01(rec.Confidence)
	case *Emotional:
		rec.Trigger = strings.TrimSpace(rec.Trigger)
		if rec.Trigger == "" {
			return fmt.Errorf("%w: trigger", ErrEmptyContent)
		}
		rec.Emotion = ParseEmotion(string(rec.Emotion))
		rec.Intensity = clamp01(rec.Intensity)
	default:
		panic(unknownRecord(r))
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, r Record) error {
	var err error
	switch rec := r.(type) {
	case *Episodic:
		ids, _ := json.Marshal(nonNil(rec.OriginalMessageIDs))
		_, err = tx.ExecContext(ctx, `
			INSERT INTO episodic_memories (id, config_id, user_id, character_id, summary, context,
			    original_message_ids, range_start_id, range_end_id, range_start_at, range_end_at,
			    importance, access_count, last_accessed, is_edited, original_summary,
			    expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
			rec.ID, rec.ConfigID, rec.UserID, rec.CharacterID, rec.Summary, rec.Context,
			string(ids), nullString(rec.MessageRange.StartID), nullString(rec.MessageRange.EndID),
			db.NullTime(rec.MessageRange.StartAt), db.NullTime(rec.MessageRange.EndAt),
			rec.Importance, rec.AccessCount, db.NullTime(rec.LastAccessed), rec.IsEdited,
			nullString(rec.OriginalSummary), db.FormatTime(rec.CreatedAt), db.FormatTime(rec.UpdatedAt),
		)
	case *Semantic:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO semantic_memories (id, config_id, user_id, character_id, category, key, value,
			    confidence, importance, source_message_id, access_count, last_accessed,
			    expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
			rec.ID, rec.ConfigID, rec.UserID, rec.CharacterID, string(rec.Category), rec.Key, rec.Value,
			rec.Confidence, rec.Importance, nullString(rec.SourceMessageID), rec.AccessCount,
			db.NullTime(rec.LastAccessed), db.FormatTime(rec.CreatedAt), db.FormatTime(rec.UpdatedAt),
		)
	case *Emotional:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO emotional_memories (id, config_id, user_id, character_id, emotion, intensity,
			    trigger_text, importance, access_count, last_accessed, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
			rec.ID, rec.ConfigID, rec.UserID, rec.CharacterID, string(rec.Emotion), rec.Intensity,
			rec.Trigger, rec.Importance, rec.AccessCount, db.NullTime(rec.LastAccessed),
			db.FormatTime(rec.CreatedAt), db.FormatTime(rec.UpdatedAt),
		)
	default:
		panic(unknownRecord(r))
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.Kind(), err)
	}
	return nil
}

// ---- Read ----

// Get returns a memory after checking it belongs to owner.
func (s *Store) Get(ctx context.Context, id string, kind Kind, owner Owner) (Record, error) {
	rec, err := loadRecord(ctx, s.db.Conn(), kind, id)
	if err != nil {
		return nil, fmt.Errorf("store: get %s %q: %w", kind, id, err)
	}
	if err := checkOwner(rec, owner); err != nil {
		return nil, fmt.Errorf("store: get %s %q: %w", kind, id, err)
	}
	return rec, nil
}

// GetMany loads refs in order, skipping any that no longer exist.
func (s *Store) GetMany(ctx context.Context, refs []Ref) ([]Record, error) {
	out := make([]Record, 0, len(refs))
	for _, ref := range refs {
		rec, err := loadRecord(ctx, s.db.Conn(), ref.Kind, ref.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: get many: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// List returns owner's memories of kind (all kinds when empty), newest first.
func (s *Store) List(ctx context.Context, owner Owner, kind Kind, opts ListOptions) ([]Record, error) {
	if owner.UserID == "" {
		return nil, fmt.Errorf("store: list: user is required")
	}
	kinds := Kinds
	if kind != "" {
		if !ValidKind(kind) {
			return nil, fmt.Errorf("store: list: %w: %q", ErrInvalidKind, kind)
		}
		kinds = []Kind{kind}
	}

	where := `WHERE user_id = ?`
	args := []any{owner.UserID}
	if owner.CharacterID != "" {
		where += ` AND character_id = ?`
		args = append(args, owner.CharacterID)
	}

	var all []Record
	for _, k := range kinds {
		recs, err := queryRecords(ctx, s.db.Conn(), k, where+` ORDER BY created_at DESC`, args...)
		if err != nil {
			return nil, fmt.Errorf("store: list %s: %w", k, err)
		}
		all = append(all, recs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Meta().CreatedAt.After(all[j].Meta().CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

// Salient returns up to limit memories of kind for a config, most salient
// first: episodic by most recent access, semantic and emotional by
// importance. Retrieval uses it to backfill thin similarity results.
func (s *Store) Salient(ctx context.Context, configID string, kind Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	var order string
	switch kind {
	case KindEpisodic:
		order = `ORDER BY COALESCE(last_accessed, created_at) DESC, importance DESC`
	case KindSemantic, KindEmotional:
		order = `ORDER BY importance DESC, updated_at DESC`
	default:
		return nil, fmt.Errorf("store: salient: %w: %q", ErrInvalidKind, kind)
	}
	recs, err := queryRecords(ctx, s.db.Conn(), kind,
		`WHERE config_id = ? `+order+` LIMIT ?`, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: salient %s: %w", kind, err)
	}
	return recs, nil
}

// ForConfig returns every live memory of a config.
func (s *Store) ForConfig(ctx context.Context, configID string) ([]Record, error) {
	return recordsForConfig(ctx, s.db.Conn(), configID)
}

func recordsForConfig(ctx context.Context, q db.Querier, configID string) ([]Record, error) {
	var out []Record
	for _, k := range Kinds {
		recs, err := queryRecords(ctx, q, k, `WHERE config_id = ? ORDER BY created_at`, configID)
		if err != nil {
			return nil, fmt.Errorf("store: records for config: %w", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// CountLive counts rows across the three tables for a config.
func (s *Store) CountLive(ctx context.Context, configID string) (int, error) {
	var n int
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM episodic_memories  WHERE config_id = ?)
		     + (SELECT COUNT(*) FROM semantic_memories  WHERE config_id = ?)
		     + (SELECT COUNT(*) FROM emotional_memories WHERE config_id = ?)`,
		configID, configID, configID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count live: %w", err)
	}
	return n, nil
}

// ---- Update / Touch ----

// Update applies patch to a memory owned by owner. The first edit of an
// episodic summary keeps the pre-edit text in OriginalSummary.
func (s *Store) Update(ctx context.Context, id string, kind Kind, owner Owner, patch Patch) (Record, error) {
	var (
		rec         Record
		textChanged bool
	)
	now := s.Now()
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = loadRecord(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if err := checkOwner(rec, owner); err != nil {
			return err
		}
		textChanged, err = applyPatch(rec, patch)
		if err != nil {
			return err
		}
		rec.Meta().UpdatedAt = now
		return updateRecord(ctx, tx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("store: update %s %q: %w", kind, id, err)
	}
	if textChanged {
		s.embed(ctx, rec)
	}
	return rec, nil
}

func applyPatch(r Record, p Patch) (bool, error) {
	b := r.Meta()
	if p.Importance != nil {
		b.Importance = clamp01(*p.Importance)
	}
	changed := false
	switch rec := r.(type) {
	case *Episodic:
		if p.Category != nil || p.Value != nil || p.Confidence != nil || p.Emotion != nil || p.Intensity != nil || p.Trigger != nil {
			return false, ErrInvalidPatch
		}
		if p.Summary != nil {
			summary := strings.TrimSpace(*p.Summary)
			if summary == "" {
				return false, fmt.Errorf("%w: summary", ErrEmptyContent)
			}
			if summary != rec.Summary {
				if !rec.IsEdited {
					rec.OriginalSummary = rec.Summary
				}
				rec.IsEdited = true
				rec.Summary = summary
				changed = true
			}
		}
		if p.Context != nil && *p.Context != rec.Context {
			rec.Context = *p.Context
			changed = true
		}
	case *Semantic:
		if p.Summary != nil || p.Context != nil || p.Emotion != nil || p.Intensity != nil || p.Trigger != nil {
			return false, ErrInvalidPatch
		}
		if p.Category != nil {
			rec.Category = ParseCategory(string(*p.Category))
		}
		if p.Confidence != nil {
			rec.Confidence = clamp01(*p.Confidence)
		}
		if p.Value != nil {
			v := strings.TrimSpace(*p.Value)
			if v == "" {
				return false, fmt.Errorf("%w: value", ErrEmptyContent)
			}
			changed = v != rec.Value
			rec.Value = v
		}
	case *Emotional:
		if p.Summary != nil || p.Context != nil || p.Category != nil || p.Value != nil || p.Confidence != nil {
			return false, ErrInvalidPatch
		}
		if p.Intensity != nil {
			rec.Intensity = clamp01(*p.Intensity)
		}
		if p.Emotion != nil {
			e := ParseEmotion(string(*p.Emotion))
			changed = changed || e != rec.Emotion
			rec.Emotion = e
		}
		if p.Trigger != nil {
			t := strings.TrimSpace(*p.Trigger)
			if t == "" {
				return false, fmt.Errorf("%w: trigger", ErrEmptyContent)
			}
			changed = changed || t != rec.Trigger
			rec.Trigger = t
		}
	default:
		panic(unknownRecord(r))
	}
	return changed, nil
}

func updateRecord(ctx context.Context, tx *sql.Tx, r Record) error {
	var err error
	switch rec := r.(type) {
	case *Episodic:
		_, err = tx.ExecContext(ctx, `
			UPDATE episodic_memories
			SET summary = ?, context = ?, importance = ?, is_edited = ?, original_summary = ?, updated_at = ?
			WHERE id = ?`,
			rec.Summary, rec.Context, rec.Importance, rec.IsEdited, nullString(rec.OriginalSummary),
			db.FormatTime(rec.UpdatedAt), rec.ID)
	case *Semantic:
		_, err = tx.ExecContext(ctx, `
			UPDATE semantic_memories
			SET category = ?, value = ?, confidence = ?, importance = ?, updated_at = ?
			WHERE id = ?`,
			string(rec.Category), rec.Value, rec.Confidence, rec.Importance, db.FormatTime(rec.UpdatedAt), rec.ID)
	case *Emotional:
		_, err = tx.ExecContext(ctx, `
			UPDATE emotional_memories
			SET emotion = ?, intensity = ?, trigger_text = ?, importance = ?, updated_at = ?
			WHERE id = ?`,
			string(rec.Emotion), rec.Intensity, rec.Trigger, rec.Importance, db.FormatTime(rec.UpdatedAt), rec.ID)
	default:
		panic(unknownRecord(r))
	}
	return err
}

// Touch records a retrieval hit: access_count+1, last_accessed=now. An
// access also clears any pending soft expiry.
func (s *Store) Touch(ctx context.Context, refs []Ref) error {
	if len(refs) == 0 {
		return nil
	}
	ts := db.FormatTime(s.Now())
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, ref := range refs {
			table, err := tableFor(ref.Kind)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE `+table+` SET access_count = access_count + 1, last_accessed = ?, expires_at = NULL WHERE id = ?`,
				ts, ref.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: touch: %w", err)
	}
	return nil
}

// ---- Delete ----

// Delete archives (user_deleted), removes the row and decrements the
// counter in one transaction, then drops the embedding.
func (s *Store) Delete(ctx context.Context, id string, kind Kind, owner Owner) (*Archive, error) {
	var archive *Archive
	now := s.Now()
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		rec, err := loadRecord(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if err := checkOwner(rec, owner); err != nil {
			return err
		}
		archive, err = s.retire(ctx, tx, rec, ReasonUserDeleted, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: delete %s %q: %w", kind, id, err)
	}
	s.afterEvict(ctx, []*Archive{archive})
	return archive, nil
}

// retire snapshots rec into an archive, deletes the row and decrements the
// config counter. All archives written here are restorable.
func (s *Store) retire(ctx context.Context, tx *sql.Tx, rec Record, reason ArchiveReason, now time.Time) (*Archive, error) {
	b := rec.Meta()
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s %s: %w", rec.Kind(), b.ID, err)
	}
	expiry := now.Add(s.restoreWindow)
	a := &Archive{
		ID:            uuid.NewString(),
		ConfigID:      b.ConfigID,
		UserID:        b.UserID,
		CharacterID:   b.CharacterID,
		MemoryID:      b.ID,
		Kind:          string(rec.Kind()),
		Snapshot:      string(snapshot),
		Reason:        reason,
		CanRestore:    true,
		RestoreExpiry: &expiry,
		ArchivedAt:    now,
	}
	if err := insertArchive(ctx, tx, a); err != nil {
		return nil, err
	}

	table, err := tableFor(rec.Kind())
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, b.ID)
	if err != nil {
		return nil, fmt.Errorf("delete %s %s: %w", rec.Kind(), b.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_configs SET total_memories = MAX(total_memories - 1, 0) WHERE id = ?`, b.ConfigID); err != nil {
		return nil, fmt.Errorf("decrement counter: %w", err)
	}
	return a, nil
}

// ---- Best-effort side effects ----

func (s *Store) embed(ctx context.Context, r Record) {
	if s.embeddings == nil {
		return
	}
	b := r.Meta()
	if err := s.embeddings.SaveMemoryEmbedding(ctx, RefOf(r), b.ConfigID, r.EmbeddingText()); err != nil {
		logging.Owner(s.logger, b.UserID, b.CharacterID).Warn("save memory embedding failed",
			slog.String("memory_id", b.ID),
			slog.String("kind", string(r.Kind())),
			slog.Any("error", err),
		)
	}
}

func (s *Store) afterEvict(ctx context.Context, archives []*Archive) {
	for _, a := range archives {
		s.metrics.MemoryArchived(string(a.Reason))
		if s.embeddings == nil {
			continue
		}
		if err := s.embeddings.DeleteEmbedding(ctx, a.MemoryID); err != nil {
			logging.Owner(s.logger, a.UserID, a.CharacterID).Warn("delete memory embedding failed",
				slog.String("memory_id", a.MemoryID),
				slog.Any("error", err),
			)
		}
	}
}

// ---- Helpers ----

func checkOwner(rec Record, owner Owner) error {
	b := rec.Meta()
	if owner.UserID == "" || b.UserID != owner.UserID {
		return ErrForbidden
	}
	if owner.CharacterID != "" && b.CharacterID != owner.CharacterID {
		return ErrForbidden
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
