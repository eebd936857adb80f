// Package adapter provides a unified interface for LLM providers and embedders.
package adapter

import (
	"context"
	"fmt"
	"strings"
)

// Provider name constants.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// StreamChunk is a single token or error delivered during streaming.
type StreamChunk struct {
	Text  string
	Error error
}

// CompletionRequest holds the parameters for a completion call.
type CompletionRequest struct {
	SystemPrompt string
	UserMessage  string
	Model        string
	MaxTokens    int
	Temperature  float64
	Stream       bool
	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool
}

// ModelInfo describes the capabilities of a model.
type ModelInfo struct {
	Name               string
	Provider           string
	MaxContextWindow   int
	SupportsStreaming  bool
	EmbeddingModel     string
	EmbeddingDimension int // 0 if not an embedding model
}

// LLMAdapter is the common interface all provider adapters implement.
type LLMAdapter interface {
	// Complete sends a prompt and streams the response.
	Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) (*EmbedResult, error)

	// Info returns metadata about the adapter/model.
	Info() ModelInfo
}

// Options configures the adapter New builds. Empty fields take the
// provider's defaults.
type Options struct {
	// APIKey is the provider key; empty reads the provider's env var.
	APIKey string
	// Model is the completion model used when a request names none.
	Model string
	// EmbedModel is the embedding model (OpenAI and Ollama).
	EmbedModel string
	// OllamaHost is the Ollama base URL.
	OllamaHost string
}

// New constructs the LLMAdapter for provider: "claude", "openai" or "ollama".
func New(provider string, opts Options) (LLMAdapter, error) {
	switch provider {
	case ProviderClaude:
		return NewClaude(opts.APIKey, opts.Model), nil
	case ProviderOpenAI:
		return NewOpenAI(opts.APIKey, opts.Model, opts.EmbedModel), nil
	case ProviderOllama:
		host := opts.OllamaHost
		if host == "" {
			host = "http://localhost:11434"
		}
		return NewOllama(host, opts.Model, opts.EmbedModel), nil
	default:
		return nil, fmt.Errorf("adapter: unknown provider %q; valid providers: claude, openai, ollama", provider)
	}
}

// CompleteText runs a non-streaming completion and returns the full text.
func CompleteText(ctx context.Context, llm LLMAdapter, req CompletionRequest) (string, error) {
	req.Stream = false
	stream, err := llm.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range stream {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}
