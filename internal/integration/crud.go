package integration

import (
	"context"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/rag"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/summarize"
)

// SearchMemories runs retrieval without rendering.
func (in *Integration) SearchMemories(ctx context.Context, query string, opts rag.Options) ([]rag.RankedMemory, error) {
	return in.Engine.SearchRelevantMemories(ctx, query, opts)
}

func (in *Integration) ListMemories(ctx context.Context, owner memory.Owner, kind memory.Kind, opts memory.ListOptions) ([]memory.Record, error) {
	return in.Store.List(ctx, owner, kind, opts)
}

func (in *Integration) GetMemory(ctx context.Context, id string, kind memory.Kind, owner memory.Owner) (memory.Record, error) {
	return in.Store.Get(ctx, id, kind, owner)
}

func (in *Integration) UpdateMemory(ctx context.Context, id string, kind memory.Kind, owner memory.Owner, patch memory.Patch) (memory.Record, error) {
	return in.Store.Update(ctx, id, kind, owner, patch)
}

// DeleteMemory archives and removes a memory. The archive can be restored
// within the restore window.
func (in *Integration) DeleteMemory(ctx context.Context, id string, kind memory.Kind, owner memory.Owner) (*memory.Archive, error) {
	return in.Store.Delete(ctx, id, kind, owner)
}

// GetConfig returns the owner's memory config, creating it on first use.
func (in *Integration) GetConfig(ctx context.Context, userID, characterID string) (*memory.Config, error) {
	return in.Store.GetOrCreateConfig(ctx, userID, characterID)
}

func (in *Integration) IncreaseCapacity(ctx context.Context, userID, characterID string, n int) (*memory.Config, error) {
	return in.Store.IncreaseCapacity(ctx, userID, characterID, n)
}

// TriggerSummarization starts a job regardless of context usage.
func (in *Integration) TriggerSummarization(ctx context.Context, chatID, userID, characterID string) (*summarize.Job, error) {
	return in.Pipeline.CreateSummarizationJob(ctx, chatID, userID, characterID)
}

// CheckContextUsage measures a chat against model, or the configured model
// when model is empty.
func (in *Integration) CheckContextUsage(ctx context.Context, chatID, model string) (summarize.Usage, error) {
	if model == "" {
		model = in.opts.Model
	}
	return in.Pipeline.CheckContextUsage(ctx, chatID, model)
}

func (in *Integration) GetJob(ctx context.Context, id string) (*summarize.Job, error) {
	return in.Pipeline.GetJob(ctx, id)
}

func (in *Integration) ListArchives(ctx context.Context, owner memory.Owner, limit int) ([]memory.Archive, error) {
	return in.Store.ListArchives(ctx, owner, limit)
}

func (in *Integration) RestoreMemory(ctx context.Context, archiveID string, owner memory.Owner) (memory.Record, error) {
	return in.Store.Restore(ctx, archiveID, owner)
}
