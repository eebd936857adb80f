package summarize

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
)

// Status is a summarization job state. Completed and Failed are terminal.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one batch summarization run.
type Job struct {
	ID             string     `json:"id"`
	ChatID         string     `json:"chat_id"`
	UserID         string     `json:"user_id"`
	CharacterID    string     `json:"character_id"`
	Status         Status     `json:"status"`
	StartMessageID string     `json:"start_message_id"`
	EndMessageID   string     `json:"end_message_id"`
	MessageCount   int        `json:"message_count"`
	MessageIDs     []string   `json:"message_ids"`
	Result         *JobResult `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// JobResult is the snapshot stored on a completed job.
type JobResult struct {
	Extraction *Extraction `json:"extraction"`
	MemoryIDs  []string    `json:"memory_ids"`
	ArchiveID  string      `json:"archive_id,omitempty"`
}

const jobColumns = `id, chat_id, user_id, character_id, status, start_message_id, end_message_id,
	message_count, message_ids, result, error, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                      Job
		status, ids, createdAt string
		result, errMsg         sql.NullString
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(&j.ID, &j.ChatID, &j.UserID, &j.CharacterID, &status, &j.StartMessageID,
		&j.EndMessageID, &j.MessageCount, &ids, &result, &errMsg, &createdAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	_ = json.Unmarshal([]byte(ids), &j.MessageIDs)
	if result.Valid && result.String != "" {
		var r JobResult
		if err := json.Unmarshal([]byte(result.String), &r); err == nil {
			j.Result = &r
		}
	}
	j.Error = errMsg.String
	j.CreatedAt = db.ParseTime(createdAt)
	j.StartedAt = db.ParseNullTime(startedAt)
	j.CompletedAt = db.ParseNullTime(completedAt)
	return &j, nil
}

func insertJob(ctx context.Context, q db.Querier, j *Job) error {
	ids, err := json.Marshal(j.MessageIDs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO summarization_jobs (id, chat_id, user_id, character_id, status, start_message_id,
		    end_message_id, message_count, message_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ChatID, j.UserID, j.CharacterID, string(j.Status), j.StartMessageID,
		j.EndMessageID, j.MessageCount, string(ids), db.FormatTime(j.CreatedAt),
	)
	return err
}

func getJob(ctx context.Context, q db.Querier, id string) (*Job, error) {
	return scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM summarization_jobs WHERE id = ?`, id))
}

// activeJob returns the chat's PENDING or PROCESSING job, if any.
func activeJob(ctx context.Context, q db.Querier, chatID string) (*Job, error) {
	j, err := scanJob(q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM summarization_jobs
		 WHERE chat_id = ? AND status IN ('PENDING', 'PROCESSING')
		 ORDER BY created_at LIMIT 1`, chatID))
	if errors.Is(err, ErrJobNotFound) {
		return nil, nil
	}
	return j, err
}

// start moves a PENDING job to PROCESSING.
func (p *Pipeline) start(ctx context.Context, id string) (*Job, error) {
	now := p.now()
	res, err := p.db.Conn().ExecContext(ctx,
		`UPDATE summarization_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(StatusProcessing), db.FormatTime(now), id, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("summarize: start job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	j, err := getJob(ctx, p.db.Conn(), id)
	if err != nil {
		return nil, fmt.Errorf("summarize: start job %s: %w", id, err)
	}
	if n == 0 {
		if j.Status.Terminal() {
			return nil, fmt.Errorf("summarize: start job %s: %w", id, ErrTerminalState)
		}
		return nil, fmt.Errorf("summarize: start job %s: %w", id, ErrJobInProgress)
	}
	p.metrics.JobTransition(string(StatusProcessing))
	return j, nil
}

// finish moves a PROCESSING job to a terminal state.
func (p *Pipeline) finish(ctx context.Context, j *Job, to Status, result *JobResult, cause error) error {
	var resultJSON, errMsg any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("summarize: encode result: %w", err)
		}
		resultJSON = string(b)
	}
	if cause != nil {
		errMsg = cause.Error()
	}
	now := p.now()
	res, err := p.db.Conn().ExecContext(ctx, `
		UPDATE summarization_jobs SET status = ?, result = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(to), resultJSON, errMsg, db.FormatTime(now), j.ID, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("summarize: finish job %s: %w", j.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("summarize: finish job %s: %w", j.ID, ErrTerminalState)
	}
	j.Status = to
	j.Result = result
	if cause != nil {
		j.Error = cause.Error()
	}
	j.CompletedAt = &now
	p.metrics.JobTransition(string(to))
	return nil
}

// GetJob loads a job by id.
func (p *Pipeline) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := getJob(ctx, p.db.Conn(), id)
	if err != nil {
		return nil, fmt.Errorf("summarize: get job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns a chat's jobs, newest first.
func (p *Pipeline) ListJobs(ctx context.Context, chatID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.Conn().QueryContext(ctx,
		`SELECT `+jobColumns+` FROM summarization_jobs WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("summarize: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("summarize: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SweepStaleJobs fails PROCESSING jobs that started more than olderThan
// ago. Their worker is presumed dead; the messages stay unsummarized and
// are picked up by the next job.
func (p *Pipeline) SweepStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = p.opts.StaleAfter
	}
	now := p.now()
	res, err := p.db.Conn().ExecContext(ctx, `
		UPDATE summarization_jobs SET status = ?, error = ?, completed_at = ?
		WHERE status = ? AND started_at <= ?`,
		string(StatusFailed), fmt.Sprintf("stale: no completion within %s", olderThan),
		db.FormatTime(now), string(StatusProcessing), db.FormatTime(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("summarize: sweep stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	for i := int64(0); i < n; i++ {
		p.metrics.JobTransition(string(StatusFailed))
	}
	if n > 0 {
		p.logger.Warn("failed stale summarization jobs", slog.Int64("count", n))
	}
	return int(n), nil
}
