// Package integration is the seam the chat pipeline calls before and after
// each turn. It sequences retrieval, message logging, context checks and
// extraction, and exposes the memory CRUD surface to the MCP server and CLI.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/chatlog"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/rag"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/summarize"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/tasks"
)

// DefaultCheckInterval is how many messages pass between context checks.
const DefaultCheckInterval = 5

// Deps are the components an Integration drives. Hybrid may be nil to turn
// real-time extraction off; it also stays off without a Queue.
type Deps struct {
	Store    *memory.Store
	Log      *chatlog.Log
	Engine   *rag.Engine
	Pipeline *summarize.Pipeline
	Hybrid   *summarize.Hybrid
	Queue    tasks.Enqueuer
}

// Options tunes an Integration.
type Options struct {
	// CheckInterval is the message count between context usage checks.
	CheckInterval int
	// Model is the chat model whose context window usage is measured.
	Model     string
	Retrieval rag.Options
	Logger    *slog.Logger
}

// Integration wires the memory components into the chat turn.
type Integration struct {
	Deps
	opts   Options
	logger *slog.Logger
}

// New creates an Integration.
func New(deps Deps, opts Options) *Integration {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	return &Integration{Deps: deps, opts: opts, logger: logging.OrDefault(opts.Logger)}
}

// BeforeResult is what the chat pipeline needs to make its LLM call.
type BeforeResult struct {
	SystemPrompt string
	RAGContext   rag.Context
}

// BeforeMessageProcess augments basePrompt with memories relevant to
// userMessage. It never fails; without memories the base prompt is
// returned as is.
func (in *Integration) BeforeMessageProcess(ctx context.Context, userID, characterID, characterName, userMessage, basePrompt string) BeforeResult {
	opts := in.opts.Retrieval
	opts.UserID = userID
	opts.CharacterID = characterID
	prompt, rc := in.Engine.BuildSystemPromptWithMemory(ctx, basePrompt, characterName, userMessage, opts)
	return BeforeResult{SystemPrompt: prompt, RAGContext: rc}
}

// AfterResult reports what AfterMessageProcess did.
type AfterResult struct {
	MessageID              string
	MessageCount           int64
	MessageSaved           bool
	ContextChecked         bool
	Usage                  *summarize.Usage
	SummarizationTriggered bool
	JobID                  string
	// ExtractionQueued is set when the message passed the fact pre-filter
	// and a hybrid extraction task was queued.
	ExtractionQueued bool
}

// AfterMessageProcess saves msg and runs the periodic bookkeeping. Only a
// failure to save the message is returned; everything after it is
// best-effort and logged.
func (in *Integration) AfterMessageProcess(ctx context.Context, msg chatlog.Message) (AfterResult, error) {
	count, err := in.Log.Append(ctx, &msg)
	if err != nil {
		return AfterResult{}, fmt.Errorf("integration: save message: %w", err)
	}
	res := AfterResult{MessageID: msg.ID, MessageCount: count, MessageSaved: true}
	log := logging.Owner(in.logger, msg.UserID, msg.CharacterID).With(slog.String("chat_id", msg.ChatID))

	if count > 0 && count%int64(in.opts.CheckInterval) == 0 {
		in.checkContext(ctx, msg, &res, log)
	}

	if msg.Role == chatlog.RoleUser && in.Hybrid != nil && in.Queue != nil && summarize.HasImportantInfo(msg.Content) {
		if err := in.Queue.Enqueue(in.hybridTask(msg)); err != nil {
			log.Warn("queue hybrid extraction", slog.String("message_id", msg.ID), slog.Any("error", err))
		} else {
			res.ExtractionQueued = true
		}
	}
	return res, nil
}

func (in *Integration) checkContext(ctx context.Context, msg chatlog.Message, res *AfterResult, log *slog.Logger) {
	usage, err := in.Pipeline.CheckContextUsage(ctx, msg.ChatID, in.opts.Model)
	if err != nil {
		log.Warn("context usage check failed", slog.Any("error", err))
		return
	}
	res.ContextChecked = true
	res.Usage = &usage
	if err := in.Store.UpdateContextUsage(ctx, msg.UserID, msg.CharacterID, usage.Ratio); err != nil {
		log.Warn("record context usage", slog.Any("error", err))
	}
	if !usage.ShouldSummarize {
		return
	}

	job, err := in.Pipeline.CreateSummarizationJob(ctx, msg.ChatID, msg.UserID, msg.CharacterID)
	switch {
	case errors.Is(err, summarize.ErrJobInProgress), errors.Is(err, summarize.ErrNotEnoughMessages):
		log.Debug("summarization skipped", slog.Any("reason", err))
	case err != nil:
		log.Warn("create summarization job", slog.Any("error", err))
	default:
		res.SummarizationTriggered = true
		res.JobID = job.ID
	}
}

func (in *Integration) hybridTask(msg chatlog.Message) tasks.Task {
	return tasks.Task{
		Name:    summarize.HybridTaskName,
		Payload: map[string]string{"message_id": msg.ID, "chat_id": msg.ChatID},
		Run: func(ctx context.Context) error {
			_, err := in.Hybrid.Extract(ctx, msg.UserID, msg.CharacterID, msg.ID, msg.Content)
			if errors.Is(err, summarize.ErrMalformedExtraction) {
				// A retry would get the same reply.
				logging.Owner(in.logger, msg.UserID, msg.CharacterID).Warn("hybrid extraction malformed",
					slog.String("message_id", msg.ID), slog.Any("error", err))
				return nil
			}
			return err
		},
	}
}
