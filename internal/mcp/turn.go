package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/chatlog"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/summarize"
)

type beforeView struct {
	SystemPrompt string `json:"system_prompt"`
	RAGContext   struct {
		Memories         []hit  `json:"memories"`
		FormattedContext string `json:"formatted_context"`
		TotalTokens      int    `json:"total_tokens"`
		Degraded         bool   `json:"degraded,omitempty"`
	} `json:"rag_context"`
}

func (s *Server) handleBeforeMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := fullOwner(req)
	if res != nil {
		return res, nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}
	name := req.GetString("character_name", o.CharacterID)

	before := s.in.BeforeMessageProcess(ctx, o.UserID, o.CharacterID, name, message, req.GetString("base_prompt", ""))
	var out beforeView
	out.SystemPrompt = before.SystemPrompt
	out.RAGContext.Memories = hits(before.RAGContext.Memories)
	out.RAGContext.FormattedContext = before.RAGContext.FormattedContext
	out.RAGContext.TotalTokens = before.RAGContext.TotalTokens
	out.RAGContext.Degraded = before.RAGContext.Degraded
	return jsonResult(out)
}

type afterView struct {
	MessageID              string           `json:"message_id"`
	MessageCount           int64            `json:"message_count"`
	MessageSaved           bool             `json:"message_saved"`
	ContextChecked         bool             `json:"context_checked"`
	Usage                  *summarize.Usage `json:"usage,omitempty"`
	SummarizationTriggered bool             `json:"summarization_triggered"`
	JobID                  string           `json:"job_id,omitempty"`
	ExtractionQueued       bool             `json:"extraction_queued"`
}

func (s *Server) handleAfterMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, res := fullOwner(req)
	if res != nil {
		return res, nil
	}
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: chat_id"), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}
	role := chatlog.Role(req.GetString("role", string(chatlog.RoleUser)))
	switch role {
	case chatlog.RoleUser, chatlog.RoleAssistant, chatlog.RoleSystem:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid role %q (valid: user, assistant, system)", role)), nil
	}
	msg := chatlog.Message{
		ID:          req.GetString("message_id", ""),
		ChatID:      chatID,
		UserID:      o.UserID,
		CharacterID: o.CharacterID,
		Role:        role,
		Content:     content,
		TokenCount:  req.GetInt("token_count", 0),
	}
	if ts := req.GetString("created_at", ""); ts != "" {
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid created_at %q: %v", ts, err)), nil
		}
	}

	after, err := s.in.AfterMessageProcess(ctx, msg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save message: %v", err)), nil
	}
	return jsonResult(afterView{
		MessageID:              after.MessageID,
		MessageCount:           after.MessageCount,
		MessageSaved:           after.MessageSaved,
		ContextChecked:         after.ContextChecked,
		Usage:                  after.Usage,
		SummarizationTriggered: after.SummarizationTriggered,
		JobID:                  after.JobID,
		ExtractionQueued:       after.ExtractionQueued,
	})
}
