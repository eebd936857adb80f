package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
)

// ExpiryTier soft-expires memories with importance below Below once they
// have gone After without access.
type ExpiryTier struct {
	Below float64
	After time.Duration
}

// DefaultTiers: <0.3 after 30 days, <0.6 after 60, <0.8 after 120. At or
// above the last tier's bound a memory never expires.
var DefaultTiers = []ExpiryTier{
	{Below: 0.3, After: 30 * 24 * time.Hour},
	{Below: 0.6, After: 60 * 24 * time.Hour},
	{Below: 0.8, After: 120 * 24 * time.Hour},
}

// EvictionOptions tunes the EvictionManager. Zero values take defaults.
type EvictionOptions struct {
	InactiveAfter time.Duration
	Tiers         []ExpiryTier
	// Grace is how long a soft-expired memory survives before PurgeExpired
	// hard-deletes it.
	Grace time.Duration
}

// EvictionManager enforces inactivity and importance-based expiry. Capacity
// eviction itself runs inside the store's create transaction.
type EvictionManager struct {
	store         *Store
	inactiveAfter time.Duration
	tiers         []ExpiryTier
	grace         time.Duration
}

// NewEvictionManager creates an EvictionManager over store.
func NewEvictionManager(store *Store, opts EvictionOptions) *EvictionManager {
	m := &EvictionManager{
		store:         store,
		inactiveAfter: opts.InactiveAfter,
		tiers:         opts.Tiers,
		grace:         opts.Grace,
	}
	if m.inactiveAfter <= 0 {
		m.inactiveAfter = 90 * 24 * time.Hour
	}
	if len(m.tiers) == 0 {
		m.tiers = DefaultTiers
	}
	m.tiers = append([]ExpiryTier(nil), m.tiers...)
	sort.Slice(m.tiers, func(i, j int) bool { return m.tiers[i].Below < m.tiers[j].Below })
	if m.grace <= 0 {
		m.grace = 7 * 24 * time.Hour
	}
	return m
}

// ArchiveOldest evicts one memory from the config: the lowest-importance
// episodic memory, tie-broken by oldest last access. It returns ErrNotFound
// when the config holds nothing to evict.
func (m *EvictionManager) ArchiveOldest(ctx context.Context, configID string) (*Archive, error) {
	var a *Archive
	err := m.store.db.WithTx(ctx, func(tx *sql.Tx) error {
		cfg, err := configByID(ctx, tx, configID)
		if err != nil {
			return err
		}
		a, err = m.store.evictOne(ctx, tx, cfg, m.store.Now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("eviction: archive oldest: %w", err)
	}
	m.store.afterEvict(ctx, []*Archive{a})
	return a, nil
}

// evictOne archives (capacity_limit) and deletes the weakest memory of cfg,
// decrementing cfg.TotalMemories. Episodic memories go first; a config with
// none falls back to the lowest-importance semantic or emotional memory.
func (s *Store) evictOne(ctx context.Context, tx *sql.Tx, cfg *Config, now time.Time) (*Archive, error) {
	recs, err := queryRecords(ctx, tx, KindEpisodic, `
		WHERE config_id = ?
		ORDER BY importance ASC, COALESCE(last_accessed, created_at) ASC, created_at ASC
		LIMIT 1`, cfg.ID)
	if err != nil {
		return nil, err
	}
	var victim Record
	if len(recs) > 0 {
		victim = recs[0]
	} else {
		for _, k := range []Kind{KindSemantic, KindEmotional} {
			cand, err := queryRecords(ctx, tx, k, `
				WHERE config_id = ?
				ORDER BY importance ASC, COALESCE(last_accessed, created_at) ASC
				LIMIT 1`, cfg.ID)
			if err != nil {
				return nil, err
			}
			if len(cand) == 0 {
				continue
			}
			if victim == nil || cand[0].Meta().Importance < victim.Meta().Importance {
				victim = cand[0]
			}
		}
	}
	if victim == nil {
		return nil, ErrNotFound
	}

	a, err := s.retire(ctx, tx, victim, ReasonCapacityLimit, now)
	if err != nil {
		return nil, err
	}
	cfg.TotalMemories--
	return a, nil
}

// SweepResult summarises one inactivity sweep.
type SweepResult struct {
	Configs  int
	Archived int
}

// CleanupInactiveAccounts archives every memory of configs whose last access
// is older than the inactivity window and resets their counters to zero.
func (m *EvictionManager) CleanupInactiveAccounts(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := m.store.Now()
	cutoff := db.FormatTime(now.Add(-m.inactiveAfter))

	rows, err := m.store.db.Conn().QueryContext(ctx,
		`SELECT id FROM memory_configs WHERE last_access_at < ? AND total_memories > 0`, cutoff)
	if err != nil {
		return res, fmt.Errorf("eviction: find inactive configs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return res, fmt.Errorf("eviction: find inactive configs: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("eviction: find inactive configs: %w", err)
	}

	for _, id := range ids {
		var archives []*Archive
		err := m.store.db.WithTx(ctx, func(tx *sql.Tx) error {
			recs, err := recordsForConfig(ctx, tx, id)
			if err != nil {
				return err
			}
			for _, r := range recs {
				a, err := m.store.retire(ctx, tx, r, ReasonInactiveAccount, now)
				if err != nil {
					return err
				}
				archives = append(archives, a)
			}
			_, err = tx.ExecContext(ctx, `UPDATE memory_configs SET total_memories = 0 WHERE id = ?`, id)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("eviction: cleanup config %s: %w", id, err)
		}
		m.store.afterEvict(ctx, archives)
		res.Configs++
		res.Archived += len(archives)
		m.store.logger.Info("archived inactive config",
			slog.String("config_id", id),
			slog.Int("memories", len(archives)),
		)
	}
	return res, nil
}

// ApplyImportanceTieredExpiry marks memories that went unaccessed longer
// than their importance tier allows. Marked rows get expires_at = now+grace;
// a later access clears the mark. It returns how many rows were marked.
func (m *EvictionManager) ApplyImportanceTieredExpiry(ctx context.Context) (int, error) {
	now := m.store.Now()
	expiresAt := db.FormatTime(now.Add(m.grace))
	total := 0
	err := m.store.db.WithTx(ctx, func(tx *sql.Tx) error {
		lower := -1.0
		for _, tier := range m.tiers {
			cutoff := db.FormatTime(now.Add(-tier.After))
			for _, k := range Kinds {
				table, err := tableFor(k)
				if err != nil {
					return err
				}
				res, err := tx.ExecContext(ctx, `
					UPDATE `+table+` SET expires_at = ?
					WHERE expires_at IS NULL
					  AND importance >= ? AND importance < ?
					  AND COALESCE(last_accessed, created_at) < ?`,
					expiresAt, lower, tier.Below, cutoff)
				if err != nil {
					return fmt.Errorf("mark %s: %w", k, err)
				}
				n, _ := res.RowsAffected()
				total += int(n)
			}
			lower = tier.Below
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("eviction: tiered expiry: %w", err)
	}
	return total, nil
}

// PurgeExpired archives (expired) and deletes rows whose expires_at has
// passed. It returns how many memories were removed.
func (m *EvictionManager) PurgeExpired(ctx context.Context) (int, error) {
	now := m.store.Now()
	ts := db.FormatTime(now)
	var archives []*Archive
	err := m.store.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, k := range Kinds {
			recs, err := queryRecords(ctx, tx, k, `WHERE expires_at IS NOT NULL AND expires_at <= ?`, ts)
			if err != nil {
				return err
			}
			for _, r := range recs {
				a, err := m.store.retire(ctx, tx, r, ReasonExpired, now)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				archives = append(archives, a)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("eviction: purge expired: %w", err)
	}
	m.store.afterEvict(ctx, archives)
	return len(archives), nil
}

// PurgeArchives removes archives whose restore window has lapsed.
func (m *EvictionManager) PurgeArchives(ctx context.Context) (int, error) {
	return m.store.PurgeArchives(ctx, m.store.Now())
}
