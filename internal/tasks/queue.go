// Package tasks runs detached background work (summarization jobs and
// hybrid extraction) on a bounded queue with retries and a dead-letter table
// for work that keeps failing.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/metrics"
)

var (
	// ErrQueueFull is returned by Enqueue when every slot is taken.
	ErrQueueFull = errors.New("tasks: queue full")
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("tasks: queue closed")
)

// Task is one unit of background work.
type Task struct {
	Name string
	// Payload is recorded with the dead letter if the task is given up on.
	Payload any
	// MaxAttempts overrides the queue default when > 0. Use 1 for work that
	// must not be retried.
	MaxAttempts int
	Run         func(ctx context.Context) error
}

// Enqueuer accepts tasks for background execution.
type Enqueuer interface {
	Enqueue(t Task) error
}

// Options configures a Queue. Zero values take defaults.
type Options struct {
	Workers     int
	Capacity    int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Queue is a bounded channel of tasks drained by a fixed worker pool.
type Queue struct {
	db      *db.DB
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	ch     chan Task
	closed bool
	group  *errgroup.Group
}

// New creates a Queue. Dead letters are written to database.
func New(database *db.DB, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Queue{
		db:      database,
		opts:    opts,
		logger:  logging.OrDefault(opts.Logger),
		metrics: opts.Metrics,
		ch:      make(chan Task, opts.Capacity),
	}
}

// Start launches the workers. Tasks run with ctx; cancelling it aborts
// pending backoff waits.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.group != nil {
		return
	}
	q.group = &errgroup.Group{}
	for i := 0; i < q.opts.Workers; i++ {
		q.group.Go(func() error {
			for t := range q.ch {
				q.metrics.QueueDepth(len(q.ch))
				q.run(ctx, t)
			}
			return nil
		})
	}
}

// Enqueue hands t to the workers without blocking.
func (q *Queue) Enqueue(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("tasks: %s has no Run func", t.Name)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- t:
		q.metrics.QueueDepth(len(q.ch))
		return nil
	default:
		q.metrics.Task(t.Name, "rejected")
		return ErrQueueFull
	}
}

// Len reports how many tasks are waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops accepting tasks and waits for queued ones to finish.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	g := q.group
	q.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

func (q *Queue) run(ctx context.Context, t Task) {
	attempts := t.MaxAttempts
	if attempts <= 0 {
		attempts = q.opts.MaxAttempts
	}
	log := q.logger.With(slog.String("task", t.Name))

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = safeRun(ctx, t); err == nil {
			q.metrics.Task(t.Name, "ok")
			return
		}
		if attempt == attempts {
			break
		}
		q.metrics.Task(t.Name, "retry")
		wait := q.backoff(attempt)
		log.Warn("task failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.Any("error", err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			err = fmt.Errorf("%w (after attempt %d: %v)", ctx.Err(), attempt, err)
			attempts = attempt
		}
		if ctx.Err() != nil {
			break
		}
	}

	q.metrics.Task(t.Name, "dead")
	log.Error("task exhausted attempts", slog.Int("attempts", attempts), slog.Any("error", err))
	if derr := q.deadLetter(context.WithoutCancel(ctx), t, attempts, err); derr != nil {
		log.Error("dead letter write failed", slog.Any("error", derr))
	}
}

// backoff doubles from BaseBackoff per attempt, capped at MaxBackoff.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return d
}

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(ctx)
}

func (q *Queue) deadLetter(ctx context.Context, t Task, attempts int, cause error) error {
	payload := []byte("{}")
	if t.Payload != nil {
		b, err := json.Marshal(t.Payload)
		if err == nil {
			payload = b
		}
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.db.Conn().ExecContext(ctx, `
		INSERT INTO dead_letters (id, task_name, payload, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), t.Name, string(payload), attempts, msg, db.FormatTime(time.Now()),
	)
	return err
}

// DeadLetter is a task that was given up on.
type DeadLetter struct {
	ID        string
	TaskName  string
	Payload   string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// DeadLetters returns the most recent dead letters, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Conn().QueryContext(ctx, `
		SELECT id, task_name, payload, attempts, last_error, created_at
		FROM dead_letters ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks: dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DeadLetter
	for rows.Next() {
		var (
			d         DeadLetter
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.TaskName, &d.Payload, &d.Attempts, &d.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("tasks: scan dead letter: %w", err)
		}
		d.CreatedAt = db.ParseTime(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
