// Package mcp exposes the memory surface as Model Context Protocol tools so
// the chat backend (or an operator's MCP client) can search, edit and
// maintain character memories.
package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/integration"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
)

// Server wraps an MCP server bound to an Integration.
type Server struct {
	mcp    *server.MCPServer
	in     *integration.Integration
	logger *slog.Logger
}

// New creates a Server with every memory tool registered.
func New(in *integration.Integration, version string, logger *slog.Logger) *Server {
	s := &Server{
		mcp:    server.NewMCPServer("charmem", version, server.WithToolCapabilities(false), server.WithRecovery()),
		in:     in,
		logger: logging.OrDefault(logger),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server, e.g. for an SSE transport.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves JSON-RPC on r/w until ctx is done or r closes.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, r, w)
}

func ownerParams(characterRequired bool) []mcp.ToolOption {
	character := []mcp.PropertyOption{mcp.Description("Character the memories belong to")}
	if characterRequired {
		character = append(character, mcp.Required())
	}
	return []mcp.ToolOption{
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owning user")),
		mcp.WithString("character_id", character...),
	}
}

func kindParam(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{
		mcp.Description("Memory kind"),
		mcp.Enum("episodic", "semantic", "emotional"),
	}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithString("kind", opts...)
}

func tool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)...)
}

func with(base []mcp.ToolOption, more ...mcp.ToolOption) []mcp.ToolOption {
	return append(append([]mcp.ToolOption(nil), base...), more...)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(tool("before_message",
		"Call before generating a reply: returns the character's system prompt with relevant memories appended. Never fails; without memories the base prompt comes back unchanged.",
		with(ownerParams(true),
			mcp.WithString("message", mcp.Required(), mcp.Description("The user's message for this turn")),
			mcp.WithString("base_prompt", mcp.Description("The character's system prompt")),
			mcp.WithString("character_name", mcp.Description("Name used in the memory section (default character_id)")),
		)...), s.handleBeforeMessage)

	s.mcp.AddTool(tool("after_message",
		"Call after each user or assistant message: saves it to the chat log, checks context usage every few messages and queues extraction.",
		with(ownerParams(true),
			mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat id")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
			mcp.WithString("role", mcp.Description("Speaker (default user)"), mcp.Enum("user", "assistant", "system")),
			mcp.WithString("message_id", mcp.Description("Message id from the chat backend (generated when empty)")),
			mcp.WithNumber("token_count", mcp.Description("Token count (estimated when empty)")),
			mcp.WithString("created_at", mcp.Description("RFC 3339 timestamp (default now)")),
		)...), s.handleAfterMessage)

	s.mcp.AddTool(tool("search_memories",
		"Find the memories most relevant to a query, ranked by similarity and importance. Retrieved memories are reinforced.",
		with(ownerParams(true),
			mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for, usually the user's message")),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default 5)")),
			mcp.WithNumber("min_similarity", mcp.Description("Cosine similarity floor between 0 and 1 (default 0.7)")),
			mcp.WithArray("kinds", mcp.Description("Restrict to these memory kinds"), mcp.WithStringItems()),
		)...), s.handleSearchMemories)

	s.mcp.AddTool(tool("list_memories",
		"List a user's memories, newest first.",
		with(ownerParams(false),
			kindParam(false),
			mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
			mcp.WithNumber("offset", mcp.Description("Rows to skip")),
		)...), s.handleListMemories)

	s.mcp.AddTool(tool("get_memory",
		"Fetch one memory by id.",
		with(ownerParams(false),
			mcp.WithString("id", mcp.Required(), mcp.Description("Memory id")),
			kindParam(true),
		)...), s.handleGetMemory)

	s.mcp.AddTool(tool("update_memory",
		"Edit fields of a memory. Only fields that apply to the memory's kind are accepted.",
		with(ownerParams(false),
			mcp.WithString("id", mcp.Required(), mcp.Description("Memory id")),
			kindParam(true),
			mcp.WithString("summary", mcp.Description("Episodic: new summary (the first edit keeps the original)")),
			mcp.WithString("context", mcp.Description("Episodic: surrounding context")),
			mcp.WithNumber("importance", mcp.Description("Any kind: importance between 0 and 1")),
			mcp.WithString("category", mcp.Description("Semantic: category")),
			mcp.WithString("value", mcp.Description("Semantic: fact value")),
			mcp.WithNumber("confidence", mcp.Description("Semantic: confidence between 0 and 1")),
			mcp.WithString("emotion", mcp.Description("Emotional: emotion label")),
			mcp.WithNumber("intensity", mcp.Description("Emotional: intensity between 0 and 1")),
			mcp.WithString("trigger", mcp.Description("Emotional: what caused it")),
		)...), s.handleUpdateMemory)

	s.mcp.AddTool(tool("delete_memory",
		"Delete a memory. It is archived and can be restored within the restore window.",
		with(ownerParams(false),
			mcp.WithString("id", mcp.Required(), mcp.Description("Memory id")),
			kindParam(true),
		)...), s.handleDeleteMemory)

	s.mcp.AddTool(tool("get_memory_config",
		"Show capacity and usage for a user and character, creating the config on first use.",
		ownerParams(true)...), s.handleGetConfig)

	s.mcp.AddTool(tool("increase_memory_capacity",
		"Raise the maximum number of live memories for a user and character.",
		with(ownerParams(true),
			mcp.WithNumber("amount", mcp.Required(), mcp.Description("How many slots to add")),
		)...), s.handleIncreaseCapacity)

	s.mcp.AddTool(tool("trigger_summarization",
		"Start a summarization job over the oldest half of a chat's unsummarized messages.",
		with(ownerParams(true),
			mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat id")),
		)...), s.handleTriggerSummarization)

	s.mcp.AddTool(tool("check_context_usage",
		"Report how much of the model's context window a chat's unsummarized messages use.",
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat id")),
		mcp.WithString("model", mcp.Description("Chat model (default from config)")),
	), s.handleCheckContextUsage)

	s.mcp.AddTool(tool("list_archives",
		"List archived memories and summarized batches, newest first.",
		with(ownerParams(false),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
		)...), s.handleListArchives)

	s.mcp.AddTool(tool("restore_memory",
		"Restore an archived memory within its restore window.",
		with(ownerParams(false),
			mcp.WithString("archive_id", mcp.Required(), mcp.Description("Archive id")),
		)...), s.handleRestoreMemory)
}
