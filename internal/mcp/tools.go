package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/rag"
)

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func owner(req mcp.CallToolRequest) (memory.Owner, *mcp.CallToolResult) {
	user, err := req.RequireString("user_id")
	if err != nil {
		return memory.Owner{}, mcp.NewToolResultError("missing required parameter: user_id")
	}
	return memory.Owner{UserID: user, CharacterID: req.GetString("character_id", "")}, nil
}

func fullOwner(req mcp.CallToolRequest) (memory.Owner, *mcp.CallToolResult) {
	o, res := owner(req)
	if res != nil {
		return o, res
	}
	if o.CharacterID == "" {
		return o, mcp.NewToolResultError("missing required parameter: character_id")
	}
	return o, nil
}

func kindArg(req mcp.CallToolRequest, required bool) (memory.Kind, *mcp.CallToolResult) {
	k := memory.Kind(req.GetString("kind", ""))
	if k == "" && !required {
		return "", nil
	}
	if !memory.ValidKind(k) {
		return "", mcp.NewToolResultError(fmt.Sprintf("invalid kind %q (valid: episodic, semantic, emotional)", k))
	}
	return k, nil
}

// memoryView is the wire shape of one memory.
type memoryView struct {
	Kind   memory.Kind   `json:"kind"`
	Memory memory.Record `json:"memory"`
}

func view(r memory.Record) memoryView { return memoryView{Kind: r.Kind(), Memory: r} }

func (s *Server) handleSearchMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := fullOwner(req)
	if res != nil {
		return res, nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	var kinds []memory.Kind
	for _, k := range req.GetStringSlice("kinds", nil) {
		if !memory.ValidKind(memory.Kind(k)) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid kind %q", k)), nil
		}
		kinds = append(kinds, memory.Kind(k))
	}

	ranked, err := s.in.SearchMemories(ctx, query, rag.Options{
		UserID:        o.UserID,
		CharacterID:   o.CharacterID,
		Limit:         req.GetInt("limit", 0),
		Kinds:         kinds,
		MinSimilarity: req.GetFloat("min_similarity", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(ranked) == 0 {
		return mcp.NewToolResultText("No memories found."), nil
	}

	return jsonResult(hits(ranked))
}

// hit is the wire shape of one ranked memory.
type hit struct {
	memoryView
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

func hits(ranked []rag.RankedMemory) []hit {
	out := make([]hit, 0, len(ranked))
	for _, rm := range ranked {
		out = append(out, hit{memoryView: view(rm.Record), Similarity: rm.Similarity, Score: rm.Score})
	}
	return out
}

func (s *Server) handleListMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := owner(req)
	if res != nil {
		return res, nil
	}
	kind, res := kindArg(req, false)
	if res != nil {
		return res, nil
	}
	recs, err := s.in.ListMemories(ctx, o, kind, memory.ListOptions{
		Limit:  req.GetInt("limit", 50),
		Offset: req.GetInt("offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list memories: %v", err)), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("No memories stored."), nil
	}
	out := make([]memoryView, 0, len(recs))
	for _, r := range recs {
		out = append(out, view(r))
	}
	return jsonResult(out)
}

func (s *Server) handleGetMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := owner(req)
	if res != nil {
		return res, nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	kind, res := kindArg(req, true)
	if res != nil {
		return res, nil
	}
	rec, err := s.in.GetMemory(ctx, id, kind, o)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get memory: %v", err)), nil
	}
	return jsonResult(view(rec))
}

// patchFromArgs builds a Patch from the arguments actually present.
func patchFromArgs(req mcp.CallToolRequest) memory.Patch {
	args := req.GetArguments()
	var p memory.Patch
	str := func(name string) *string {
		if _, ok := args[name]; !ok {
			return nil
		}
		v := req.GetString(name, "")
		return &v
	}
	num := func(name string) *float64 {
		if _, ok := args[name]; !ok {
			return nil
		}
		v := req.GetFloat(name, 0)
		return &v
	}
	p.Summary = str("summary")
	p.Context = str("context")
	p.Importance = num("importance")
	if c := str("category"); c != nil {
		cat := memory.ParseCategory(*c)
		p.Category = &cat
	}
	p.Value = str("value")
	p.Confidence = num("confidence")
	if e := str("emotion"); e != nil {
		em := memory.ParseEmotion(*e)
		p.Emotion = &em
	}
	p.Intensity = num("intensity")
	p.Trigger = str("trigger")
	return p
}

func (s *Server) handleUpdateMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := owner(req)
	if res != nil {
		return res, nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	kind, res := kindArg(req, true)
	if res != nil {
		return res, nil
	}
	rec, err := s.in.UpdateMemory(ctx, id, kind, o, patchFromArgs(req))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update memory: %v", err)), nil
	}
	return jsonResult(view(rec))
}

func (s *Server) handleDeleteMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := owner(req)
	if res != nil {
		return res, nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	kind, res := kindArg(req, true)
	if res != nil {
		return res, nil
	}
	archive, err := s.in.DeleteMemory(ctx, id, kind, o)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete memory: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Memory %s deleted (archive: %s).", id, archive.ID)), nil
}

func (s *Server) handleGetConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := fullOwner(req)
	if res != nil {
		return res, nil
	}
	cfg, err := s.in.GetConfig(ctx, o.UserID, o.CharacterID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load config: %v", err)), nil
	}
	return jsonResult(cfg)
}

func (s *Server) handleIncreaseCapacity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := fullOwner(req)
	if res != nil {
		return res, nil
	}
	amount, err := req.RequireInt("amount")
	if err != nil || amount <= 0 {
		return mcp.NewToolResultError("amount must be a positive integer"), nil
	}
	cfg, err := s.in.IncreaseCapacity(ctx, o.UserID, o.CharacterID, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to increase capacity: %v", err)), nil
	}
	return jsonResult(cfg)
}

func (s *Server) handleTriggerSummarization(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := fullOwner(req)
	if res != nil {
		return res, nil
	}
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: chat_id"), nil
	}
	job, err := s.in.TriggerSummarization(ctx, chatID, o.UserID, o.CharacterID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start summarization: %v", err)), nil
	}
	return jsonResult(job)
}

func (s *Server) handleCheckContextUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: chat_id"), nil
	}
	usage, err := s.in.CheckContextUsage(ctx, chatID, req.GetString("model", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to check context usage: %v", err)), nil
	}
	return jsonResult(usage)
}

func (s *Server) handleListArchives(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := owner(req)
	if res != nil {
		return res, nil
	}
	archives, err := s.in.ListArchives(ctx, o, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list archives: %v", err)), nil
	}
	if len(archives) == 0 {
		return mcp.NewToolResultText("No archives."), nil
	}
	return jsonResult(archives)
}

func (s *Server) handleRestoreMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := owner(req)
	if res != nil {
		return res, nil
	}
	archiveID, err := req.RequireString("archive_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: archive_id"), nil
	}
	rec, err := s.in.RestoreMemory(ctx, archiveID, o)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to restore: %v", err)), nil
	}
	return jsonResult(view(rec))
}
