package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// FakeDimension is the vector width produced by Fake.
const FakeDimension = 256

// Fake is a deterministic, offline LLMAdapter. Embeddings are hashed
// bag-of-words vectors, so identical text has similarity 1 and texts with no
// words in common are (almost always) orthogonal. Completions are served from
// a scripted queue.
type Fake struct {
	mu         sync.Mutex
	responses  []string
	requests   []CompletionRequest
	embedCalls int

	// EmbedErr and CompleteErr force failures when set.
	EmbedErr    error
	CompleteErr error
}

// NewFake returns a Fake that answers completions with responses in order;
// the last response repeats once the queue is drained.
func NewFake(responses ...string) *Fake {
	return &Fake{responses: responses}
}

func (f *Fake) Info() ModelInfo {
	return ModelInfo{
		Name:               "fake",
		Provider:           "fake",
		MaxContextWindow:   8192,
		EmbeddingModel:     "fake-embed",
		EmbeddingDimension: FakeDimension,
	}
}

// Script appends further completion responses.
func (f *Fake) Script(responses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, responses...)
}

// Requests returns a copy of every completion request seen so far.
func (f *Fake) Requests() []CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CompletionRequest(nil), f.requests...)
}

// EmbedCalls reports how many texts were sent to Embed.
func (f *Fake) EmbedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls
}

func (f *Fake) Embed(_ context.Context, texts []string) (*EmbedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EmbedErr != nil {
		return nil, f.EmbedErr
	}
	f.embedCalls += len(texts)

	result := &EmbedResult{Vectors: make([][]float32, len(texts))}
	for i, text := range texts {
		words := fakeWords(text)
		result.Vectors[i] = fakeVector(words)
		result.TokensUsed += len(words)
	}
	return result, nil
}

func (f *Fake) Complete(_ context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.CompleteErr != nil {
		return nil, f.CompleteErr
	}
	if len(f.responses) == 0 {
		return nil, errors.New("fake: no scripted response")
	}

	text := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}

	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Text: text}
	close(ch)
	return ch, nil
}

func fakeWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func fakeVector(words []string) []float32 {
	vec := make([]float32, FakeDimension)
	if len(words) == 0 {
		vec[0] = 1
		return vec
	}
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%FakeDimension]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
