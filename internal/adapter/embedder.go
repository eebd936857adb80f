package adapter

import "context"

// EmbedResult carries one vector per input text and the provider-reported
// token cost of the call.
type EmbedResult struct {
	Vectors    [][]float32
	TokensUsed int
}

// Embedder is a narrower interface for components that only need embedding,
// not full chat completion. An LLMAdapter satisfies this interface.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*EmbedResult, error)
}
