package db

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of SQL migration statements.
// Each entry is applied once in order. New migrations are appended at the end.
// Timestamps are TEXT in FormatTime layout rather than DATETIME so the driver
// hands them back verbatim.
var migrations = []string{
	// Migration 0: memory configs, one per (user, character)
	`CREATE TABLE IF NOT EXISTS memory_configs (
		id                    TEXT PRIMARY KEY,
		user_id               TEXT NOT NULL,
		character_id          TEXT NOT NULL,
		max_memories          INTEGER NOT NULL DEFAULT 30,
		total_memories        INTEGER NOT NULL DEFAULT 0,
		context_usage_percent REAL NOT NULL DEFAULT 0,
		last_context_check    TEXT,
		last_access_at        TEXT NOT NULL,
		created_at            TEXT NOT NULL,
		UNIQUE (user_id, character_id)
	)`,

	`CREATE TABLE IF NOT EXISTS episodic_memories (
		id                   TEXT PRIMARY KEY,
		config_id            TEXT NOT NULL REFERENCES memory_configs(id) ON DELETE CASCADE,
		user_id              TEXT NOT NULL,
		character_id         TEXT NOT NULL,
		summary              TEXT NOT NULL,
		context              TEXT NOT NULL DEFAULT '',
		original_message_ids TEXT NOT NULL DEFAULT '[]',
		range_start_id       TEXT,
		range_end_id         TEXT,
		range_start_at       TEXT,
		range_end_at         TEXT,
		importance           REAL NOT NULL DEFAULT 0.5,
		access_count         INTEGER NOT NULL DEFAULT 0,
		last_accessed        TEXT,
		is_edited            INTEGER NOT NULL DEFAULT 0,
		original_summary     TEXT,
		expires_at           TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS semantic_memories (
		id                TEXT PRIMARY KEY,
		config_id         TEXT NOT NULL REFERENCES memory_configs(id) ON DELETE CASCADE,
		user_id           TEXT NOT NULL,
		character_id      TEXT NOT NULL,
		category          TEXT NOT NULL,
		key               TEXT NOT NULL,
		value             TEXT NOT NULL,
		confidence        REAL NOT NULL DEFAULT 0.8,
		importance        REAL NOT NULL DEFAULT 0.5,
		source_message_id TEXT,
		access_count      INTEGER NOT NULL DEFAULT 0,
		last_accessed     TEXT,
		expires_at        TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		UNIQUE (config_id, key)
	)`,

	`CREATE TABLE IF NOT EXISTS emotional_memories (
		id            TEXT PRIMARY KEY,
		config_id     TEXT NOT NULL REFERENCES memory_configs(id) ON DELETE CASCADE,
		user_id       TEXT NOT NULL,
		character_id  TEXT NOT NULL,
		emotion       TEXT NOT NULL,
		intensity     REAL NOT NULL DEFAULT 0.5,
		trigger_text  TEXT NOT NULL DEFAULT '',
		importance    REAL NOT NULL DEFAULT 0.5,
		access_count  INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT,
		expires_at    TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,

	// Migration 4: vectors keyed by (memory_id, memory_type), plus the
	// content-hash cache that lets unchanged text skip the provider.
	`CREATE TABLE IF NOT EXISTS memory_embeddings (
		memory_id    TEXT NOT NULL,
		memory_type  TEXT NOT NULL,
		config_id    TEXT NOT NULL,
		embedding    BLOB NOT NULL,
		dimension    INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		model        TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		PRIMARY KEY (memory_id, memory_type)
	)`,

	`CREATE TABLE IF NOT EXISTS embedding_cache (
		content_hash TEXT PRIMARY KEY,
		model        TEXT NOT NULL,
		embedding    BLOB NOT NULL,
		tokens_used  INTEGER NOT NULL DEFAULT 0,
		expires_at   TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS memory_archives (
		id             TEXT PRIMARY KEY,
		config_id      TEXT NOT NULL,
		user_id        TEXT NOT NULL,
		character_id   TEXT NOT NULL,
		memory_id      TEXT,
		memory_type    TEXT NOT NULL,
		snapshot       TEXT NOT NULL,
		reason         TEXT NOT NULL,
		can_restore    INTEGER NOT NULL DEFAULT 0,
		restore_expiry TEXT,
		archived_at    TEXT NOT NULL,
		restored_at    TEXT
	)`,

	// Migration 7: raw chat log, durable per-chat counters, summarization jobs
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id             TEXT PRIMARY KEY,
		chat_id        TEXT NOT NULL,
		user_id        TEXT NOT NULL,
		character_id   TEXT NOT NULL,
		role           TEXT NOT NULL,
		content        TEXT NOT NULL,
		token_count    INTEGER NOT NULL DEFAULT 0,
		summarized     INTEGER NOT NULL DEFAULT 0,
		summary_job_id TEXT,
		memory_ids     TEXT NOT NULL DEFAULT '[]',
		created_at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS chat_counters (
		chat_id       TEXT PRIMARY KEY,
		message_count INTEGER NOT NULL DEFAULT 0,
		updated_at    TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS summarization_jobs (
		id               TEXT PRIMARY KEY,
		chat_id          TEXT NOT NULL,
		user_id          TEXT NOT NULL,
		character_id     TEXT NOT NULL,
		status           TEXT NOT NULL,
		start_message_id TEXT NOT NULL,
		end_message_id   TEXT NOT NULL,
		message_count    INTEGER NOT NULL,
		message_ids      TEXT NOT NULL DEFAULT '[]',
		result           TEXT,
		error            TEXT,
		created_at       TEXT NOT NULL,
		started_at       TEXT,
		completed_at     TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS dead_letters (
		id         TEXT PRIMARY KEY,
		task_name  TEXT NOT NULL,
		payload    TEXT NOT NULL DEFAULT '{}',
		attempts   INTEGER NOT NULL,
		last_error TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_episodic_config   ON episodic_memories(config_id, importance, last_accessed)`,
	`CREATE INDEX IF NOT EXISTS idx_semantic_config   ON semantic_memories(config_id, importance)`,
	`CREATE INDEX IF NOT EXISTS idx_emotional_config  ON emotional_memories(config_id, importance)`,
	`CREATE INDEX IF NOT EXISTS idx_embeddings_config ON memory_embeddings(config_id, memory_type)`,
	`CREATE INDEX IF NOT EXISTS idx_archives_config   ON memory_archives(config_id, archived_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat     ON chat_messages(chat_id, summarized, id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_chat         ON summarization_jobs(chat_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_age      ON chat_messages(chat_id, summarized, created_at)`,
}

// applyMigrations runs any migrations that have not yet been applied.
func applyMigrations(conn *sql.DB) error {
	// Ensure the migration tracking table exists first.
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for i, stmt := range migrations {
		var count int
		row := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, i)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", i, err)
		}
		if count > 0 {
			continue
		}

		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}

		if _, err := conn.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i); err != nil {
			return fmt.Errorf("record migration %d: %w", i, err)
		}
	}

	return nil
}
