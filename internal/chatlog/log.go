package chatlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/tokens"
)

// ErrEmptyMessage is returned by Append for a message without chat or content.
var ErrEmptyMessage = errors.New("chatlog: message needs chat id and content")

// Log is the raw message log.
type Log struct {
	db      *db.DB
	counter Counter
	tokens  tokens.Counter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithCounter replaces the default SQLite counter.
func WithCounter(c Counter) Option { return func(l *Log) { l.counter = c } }

// WithTokenCounter sets the estimator used for messages without a TokenCount.
func WithTokenCounter(c tokens.Counter) Option { return func(l *Log) { l.tokens = c } }

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Log) { l.logger = lg } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }

// New creates a Log. Without WithCounter the chat counter lives in SQLite and
// is bumped in the same transaction as the insert.
func New(database *db.DB, opts ...Option) *Log {
	l := &Log{db: database, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	if l.counter == nil {
		c := NewSQLiteCounter(database)
		c.now = l.now
		l.counter = c
	}
	if l.tokens == nil {
		l.tokens = tokens.Heuristic{}
	}
	l.logger = logging.OrDefault(l.logger)
	return l
}

// Counter returns the chat counter in use.
func (l *Log) Counter() Counter { return l.counter }

// Append stores m and returns the chat's message count after it. ID,
// CreatedAt and TokenCount are filled when empty. A failing external counter
// is logged and reported as a count of 0; the message is still saved.
func (l *Log) Append(ctx context.Context, m *Message) (int64, error) {
	if m.ChatID == "" || strings.TrimSpace(m.Content) == "" {
		return 0, ErrEmptyMessage
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.now().UTC()
	}
	if m.ID == "" {
		m.ID = NewID(m.CreatedAt)
	}
	if m.Role == "" {
		m.Role = RoleUser
	}
	if m.TokenCount <= 0 {
		m.TokenCount = l.tokens.Count(m.Content)
	}
	memIDs, err := json.Marshal(nonNil(m.MemoryIDs))
	if err != nil {
		return 0, fmt.Errorf("chatlog: encode memory ids: %w", err)
	}

	txc, inTx := l.counter.(txCounter)
	var count int64
	err = l.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, chat_id, user_id, character_id, role, content, token_count,
			                           summarized, summary_job_id, memory_ids, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ChatID, m.UserID, m.CharacterID, string(m.Role), m.Content, m.TokenCount,
			m.Summarized, nullString(m.SummaryJobID), string(memIDs), db.FormatTime(m.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("chatlog: insert message: %w", err)
		}
		if inTx {
			count, err = txc.incrTx(ctx, tx, m.ChatID, m.CreatedAt)
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if !inTx {
		count, err = l.counter.Incr(ctx, m.ChatID)
		if err != nil {
			logging.Owner(l.logger, m.UserID, m.CharacterID).Warn("chat counter bump failed",
				slog.String("chat_id", m.ChatID),
				slog.Any("error", err),
			)
			return 0, nil
		}
	}
	return count, nil
}

const messageColumns = `id, chat_id, user_id, character_id, role, content, token_count,
	summarized, summary_job_id, memory_ids, created_at`

// Unsummarized returns the chat's messages not yet folded into memories,
// oldest first. Caller-supplied ids carry no order; ties on created_at fall
// back to insertion order.
func (l *Log) Unsummarized(ctx context.Context, chatID string) ([]Message, error) {
	return l.query(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE chat_id = ? AND summarized = 0 ORDER BY created_at ASC, rowid ASC`,
		chatID)
}

// UnsummarizedTokens returns the token total and count of the chat's
// unsummarized messages.
func (l *Log) UnsummarizedTokens(ctx context.Context, chatID string) (total, count int, err error) {
	err = l.db.Conn().QueryRowContext(ctx,
		`SELECT COALESCE(SUM(token_count), 0), COUNT(*) FROM chat_messages WHERE chat_id = ? AND summarized = 0`,
		chatID).Scan(&total, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("chatlog: unsummarized tokens: %w", err)
	}
	return total, count, nil
}

// GetMany returns the messages with the given ids, oldest first. Unknown ids
// are skipped.
func (l *Log) GetMany(ctx context.Context, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return l.query(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE id IN (?`+strings.Repeat(`, ?`, len(ids)-1)+`) ORDER BY created_at ASC, rowid ASC`,
		args...)
}

// Recent returns the chat's last n messages, oldest first.
func (l *Log) Recent(ctx context.Context, chatID string, n int) ([]Message, error) {
	if n <= 0 {
		n = 20
	}
	msgs, err := l.query(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE chat_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		chatID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkSummarized flags ids as summarized by jobID and links them to the
// memories the job produced. Messages already summarized are left alone.
func (l *Log) MarkSummarized(ctx context.Context, ids []string, jobID string, memoryIDs []string) (int, error) {
	return markSummarized(ctx, l.db.Conn(), ids, jobID, memoryIDs)
}

// MarkSummarizedTx is MarkSummarized inside the caller's transaction.
func (l *Log) MarkSummarizedTx(ctx context.Context, tx *sql.Tx, ids []string, jobID string, memoryIDs []string) (int, error) {
	return markSummarized(ctx, tx, ids, jobID, memoryIDs)
}

func markSummarized(ctx context.Context, q db.Querier, ids []string, jobID string, memoryIDs []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	memIDs, err := json.Marshal(nonNil(memoryIDs))
	if err != nil {
		return 0, fmt.Errorf("chatlog: encode memory ids: %w", err)
	}
	args := []any{jobID, string(memIDs)}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE chat_messages SET summarized = 1, summary_job_id = ?, memory_ids = ?
		WHERE summarized = 0 AND id IN (?`+strings.Repeat(`, ?`, len(ids)-1)+`)`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("chatlog: mark summarized: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (l *Log) query(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := l.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chatlog: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			role      string
			jobID     sql.NullString
			memIDs    string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.CharacterID, &role, &m.Content,
			&m.TokenCount, &m.Summarized, &jobID, &memIDs, &createdAt); err != nil {
			return nil, fmt.Errorf("chatlog: scan: %w", err)
		}
		m.Role = Role(role)
		m.SummaryJobID = jobID.String
		_ = json.Unmarshal([]byte(memIDs), &m.MemoryIDs)
		m.CreatedAt = db.ParseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
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
