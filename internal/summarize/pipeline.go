// Package summarize watches per-chat context usage and distills batches of
// raw messages into long-term memories through an LLM.
package summarize

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/adapter"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/chatlog"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/metrics"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/tasks"
)

var (
	ErrNotEnoughMessages   = errors.New("summarize: not enough unsummarized messages")
	ErrJobInProgress       = errors.New("summarize: a job is already active for this chat")
	ErrTerminalState       = errors.New("summarize: job already finished")
	ErrMalformedExtraction = errors.New("summarize: malformed extraction")
	ErrJobNotFound         = errors.New("summarize: job not found")
)

// TaskName labels summarization work on the task queue.
const TaskName = "summarize"

// Character is the framing a job needs about who is remembering.
type Character struct {
	Name        string
	Personality string
}

// CharacterBook resolves characters. Character records live outside this
// module.
type CharacterBook interface {
	Character(ctx context.Context, characterID string) (Character, error)
}

// StaticCharacters is a CharacterBook backed by a map.
type StaticCharacters map[string]Character

func (s StaticCharacters) Character(_ context.Context, id string) (Character, error) {
	return s[id], nil
}

// Options configures a Pipeline. Zero values take defaults.
type Options struct {
	Threshold         float64
	MinMessages       int
	BatchRatio        float64
	ExtractionModel   string
	ModelLimits       map[string]int
	DefaultModelLimit int
	StaleAfter        time.Duration
	Characters        CharacterBook
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Pipeline runs summarization jobs.
type Pipeline struct {
	db      *db.DB
	log     *chatlog.Log
	store   *memory.Store
	llm     adapter.LLMAdapter
	queue   tasks.Enqueuer
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Pipeline. queue may be nil, in which case jobs stay PENDING
// until ProcessSummarizationJob is called directly.
func New(database *db.DB, log *chatlog.Log, store *memory.Store, llm adapter.LLMAdapter, queue tasks.Enqueuer, opts Options) *Pipeline {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MinMessages <= 0 {
		opts.MinMessages = 4
	}
	if opts.BatchRatio <= 0 || opts.BatchRatio > 1 {
		opts.BatchRatio = 0.5
	}
	if opts.ModelLimits == nil {
		opts.ModelLimits = DefaultModelLimits
	}
	if opts.DefaultModelLimit <= 0 {
		opts.DefaultModelLimit = DefaultModelLimit
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if opts.Characters == nil {
		opts.Characters = StaticCharacters{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		db:      database,
		log:     log,
		store:   store,
		llm:     llm,
		queue:   queue,
		opts:    opts,
		logger:  logging.OrDefault(opts.Logger),
		metrics: opts.Metrics,
		now:     func() time.Time { return opts.Now().UTC() },
	}
}

// BatchSize is the number of oldest messages a job takes out of n.
func (p *Pipeline) BatchSize(n int) int {
	return int(math.Ceil(float64(n) * p.opts.BatchRatio))
}

// CreateSummarizationJob persists a PENDING job over the oldest half of the
// chat's unsummarized messages and hands it to the task queue.
func (p *Pipeline) CreateSummarizationJob(ctx context.Context, chatID, userID, characterID string) (*Job, error) {
	msgs, err := p.log.Unsummarized(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("summarize: create job: %w", err)
	}
	if len(msgs) < p.opts.MinMessages {
		return nil, fmt.Errorf("summarize: create job: %w: have %d, need %d",
			ErrNotEnoughMessages, len(msgs), p.opts.MinMessages)
	}
	batch := msgs[:p.BatchSize(len(msgs))]

	job := &Job{
		ID:             uuid.NewString(),
		ChatID:         chatID,
		UserID:         userID,
		CharacterID:    characterID,
		Status:         StatusPending,
		StartMessageID: batch[0].ID,
		EndMessageID:   batch[len(batch)-1].ID,
		MessageCount:   len(batch),
		CreatedAt:      p.now(),
	}
	for _, m := range batch {
		job.MessageIDs = append(job.MessageIDs, m.ID)
	}

	err = p.db.WithTx(ctx, func(tx *sql.Tx) error {
		active, err := activeJob(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("%w (job %s is %s)", ErrJobInProgress, active.ID, active.Status)
		}
		return insertJob(ctx, tx, job)
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: create job: %w", err)
	}
	p.metrics.JobTransition(string(StatusPending))

	log := logging.Owner(p.logger, userID, characterID).With(slog.String("job_id", job.ID))
	log.Info("summarization job created", slog.String("chat_id", chatID), slog.Int("messages", job.MessageCount))

	if p.queue == nil {
		return job, nil
	}
	if err := p.queue.Enqueue(p.task(job.ID)); err != nil {
		// The job must not block the chat forever, so it fails right away.
		if _, serr := p.start(ctx, job.ID); serr == nil {
			_ = p.finish(ctx, job, StatusFailed, nil, fmt.Errorf("enqueue: %w", err))
		}
		return nil, fmt.Errorf("summarize: enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

func (p *Pipeline) task(jobID string) tasks.Task {
	return tasks.Task{
		Name:        TaskName,
		Payload:     map[string]string{"job_id": jobID},
		MaxAttempts: 1,
		Run: func(ctx context.Context) error {
			_, err := p.ProcessSummarizationJob(ctx, jobID)
			return err
		},
	}
}

// ResumePending re-enqueues PENDING jobs, e.g. after a restart lost the
// in-memory queue.
func (p *Pipeline) ResumePending(ctx context.Context) (int, error) {
	if p.queue == nil {
		return 0, nil
	}
	rows, err := p.db.Conn().QueryContext(ctx,
		`SELECT id FROM summarization_jobs WHERE status = ? ORDER BY created_at`, string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("summarize: resume pending: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("summarize: resume pending: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()

	n := 0
	for _, id := range ids {
		if err := p.queue.Enqueue(p.task(id)); err != nil {
			return n, fmt.Errorf("summarize: resume job %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

// archivedBatch is the snapshot kept of what a job compressed away.
type archivedBatch struct {
	JobID      string            `json:"job_id"`
	ChatID     string            `json:"chat_id"`
	Messages   []chatlog.Message `json:"messages"`
	Extraction *Extraction       `json:"extraction"`
	MemoryIDs  []string          `json:"memory_ids"`
}

// ProcessSummarizationJob runs a PENDING job to a terminal state. Any error
// after the job starts marks it FAILED with the error recorded; failed jobs
// are not retried. The returned error is nil when the job completed.
func (p *Pipeline) ProcessSummarizationJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := p.start(ctx, jobID)
	if err != nil {
		return nil, err
	}
	log := logging.Owner(p.logger, job.UserID, job.CharacterID).With(slog.String("job_id", job.ID))

	result, err := p.process(ctx, job, log)
	if err != nil {
		log.Warn("summarization job failed", slog.Any("error", err))
		if ferr := p.finish(context.WithoutCancel(ctx), job, StatusFailed, nil, err); ferr != nil {
			return job, errors.Join(err, ferr)
		}
		return job, err
	}
	if err := p.finish(ctx, job, StatusCompleted, result, nil); err != nil {
		return job, err
	}
	log.Info("summarization job completed", slog.Int("memories", len(result.MemoryIDs)))
	return job, nil
}

func (p *Pipeline) process(ctx context.Context, job *Job, log *slog.Logger) (*JobResult, error) {
	msgs, err := p.log.GetMany(ctx, job.MessageIDs)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, errors.New("load messages: batch is empty")
	}
	ch, err := p.opts.Characters.Character(ctx, job.CharacterID)
	if err != nil {
		log.Warn("character lookup failed", slog.Any("error", err))
	}

	system, user := extractionPrompts(ch, msgs)
	raw, err := adapter.CompleteText(ctx, p.llm, adapter.CompletionRequest{
		SystemPrompt: system,
		UserMessage:  user,
		Model:        p.opts.ExtractionModel,
		MaxTokens:    1024,
		Temperature:  0.2,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	ex, err := ParseExtraction(raw)
	if err != nil {
		return nil, err
	}

	// The memories and the summarized flags commit together, so a failed
	// job leaves neither behind.
	var memIDs []string
	_, err = p.store.CreateBatchWith(ctx, job.UserID, job.CharacterID, ex.Records(msgs), func(tx *sql.Tx, recs []memory.Record) error {
		memIDs = make([]string, 0, len(recs))
		for _, r := range recs {
			memIDs = append(memIDs, r.Meta().ID)
		}
		if _, err := p.log.MarkSummarizedTx(ctx, tx, job.MessageIDs, job.ID, memIDs); err != nil {
			return fmt.Errorf("mark summarized: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist memories: %w", err)
	}

	result := &JobResult{Extraction: ex, MemoryIDs: memIDs}
	cfg, err := p.store.GetOrCreateConfig(ctx, job.UserID, job.CharacterID)
	if err == nil {
		var a *memory.Archive
		a, err = p.store.ArchiveSummarized(ctx, cfg, archivedBatch{
			JobID:      job.ID,
			ChatID:     job.ChatID,
			Messages:   msgs,
			Extraction: ex,
			MemoryIDs:  memIDs,
		})
		if a != nil {
			result.ArchiveID = a.ID
		}
	}
	if err != nil {
		log.Warn("archiving summarized messages failed", slog.Any("error", err))
	}
	return result, nil
}
