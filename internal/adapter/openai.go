package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

const openaiDefaultModel = "gpt-4o-mini"

// openaiAdapter implements LLMAdapter for OpenAI.
type openaiAdapter struct {
	client     *openai.Client
	model      string
	embedModel openai.EmbeddingModel
}

// NewOpenAI creates an OpenAI adapter. If apiKey is empty, OPENAI_API_KEY is
// used. Empty models mean gpt-4o-mini and text-embedding-3-small.
func NewOpenAI(apiKey, model, embedModel string) LLMAdapter {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model, embedModel)
}

// NewOpenAIWithConfig creates an OpenAI adapter against a custom client
// config (base URL, HTTP client). Used for compatible gateways and tests.
func NewOpenAIWithConfig(cfg openai.ClientConfig, model, embedModel string) LLMAdapter {
	if model == "" {
		model = openaiDefaultModel
	}
	em := openai.EmbeddingModel(embedModel)
	if em == "" {
		em = openai.SmallEmbedding3
	}
	return &openaiAdapter{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		embedModel: em,
	}
}

func (o *openaiAdapter) Info() ModelInfo {
	return ModelInfo{
		Name:               o.model,
		Provider:           ProviderOpenAI,
		MaxContextWindow:   128000,
		SupportsStreaming:  true,
		EmbeddingModel:     string(o.embedModel),
		EmbeddingDimension: openaiDimension(o.embedModel),
	}
}

func openaiDimension(m openai.EmbeddingModel) int {
	if m == openai.LargeEmbedding3 {
		return 3072
	}
	return 1536
}

func (o *openaiAdapter) Embed(ctx context.Context, texts []string) (*EmbedResult, error) {
	if len(texts) == 0 {
		return &EmbedResult{}, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: o.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}

	result := &EmbedResult{
		Vectors:    make([][]float32, len(resp.Data)),
		TokensUsed: resp.Usage.TotalTokens,
	}
	for i, d := range resp.Data {
		result.Vectors[i] = d.Embedding
	}
	return result, nil
}

func (o *openaiAdapter) Complete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserMessage,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	ch := make(chan StreamChunk, 64)

	if !req.Stream {
		go func() {
			defer close(ch)
			resp, err := o.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				ch <- StreamChunk{Error: fmt.Errorf("openai complete: %w", err)}
				return
			}
			if len(resp.Choices) > 0 {
				ch <- StreamChunk{Text: resp.Choices[0].Message.Content}
			}
		}()
		return ch, nil
	}

	chatReq.Stream = true
	stream, err := o.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				ch <- StreamChunk{Error: fmt.Errorf("openai stream recv: %w", err)}
				return
			}
			if len(resp.Choices) > 0 {
				ch <- StreamChunk{Text: resp.Choices[0].Delta.Content}
			}
		}
	}()

	return ch, nil
}
