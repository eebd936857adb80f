package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/adapter"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

// HybridTaskName labels real-time extraction work on the task queue.
const HybridTaskName = "hybrid_extract"

// importantInfoPatterns gate the extraction call. They look for explicitly
// stated personal facts in English and Korean phrasing.
var importantInfoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name(?:'s| is)\b`),
	regexp.MustCompile(`(?i)\bcall me\b`),
	regexp.MustCompile(`(?i)\bmy birthday\b|\bi was born\b`),
	regexp.MustCompile(`(?i)\bi(?:'m| am) \d{1,3}(?: years old)?\b`),
	regexp.MustCompile(`(?i)\bi (?:really )?(?:like|love|hate|dislike|enjoy|prefer)\b`),
	regexp.MustCompile(`(?i)\bmy fav(?:ou)?rite\b`),
	regexp.MustCompile(`(?i)\bi(?:'m| am) allergic\b`),
	regexp.MustCompile(`(?i)\bi work (?:as|at|for)\b|\bmy job\b`),
	regexp.MustCompile(`(?i)\bi live in\b|\bi(?:'m| am) from\b`),
	regexp.MustCompile(`(?:제|내) 이름은|(?:라고|이라고) 불러`),
	regexp.MustCompile(`생일`),
	regexp.MustCompile(`\d{1,3}\s*살`),
	regexp.MustCompile(`좋아(?:해|하는|합니다|요)|싫어(?:해|하는|합니다|요)`),
	regexp.MustCompile(`직업|회사에 다녀|일하고 있`),
	regexp.MustCompile(`에 살아|에 살고|출신`),
}

// HasImportantInfo reports whether text passes the cheap pre-filter.
func HasImportantInfo(text string) bool {
	for _, re := range importantInfoPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

const hybridSystemPrompt = `You decide whether a single chat message states a lasting fact about the user.
Reply with JSON only.
If it does not, reply {"has_important_info": false}.
If it does, reply {"has_important_info": true, "category": "PERSONAL_INFO|PREFERENCE|RELATIONSHIP|EVENT|OPINION|HABIT|GOAL|OTHER", "key": "snake_case_key", "value": "...", "confidence": 0.0-1.0, "importance": 0.0-1.0}.
Use stable keys such as "name", "birthday", "age", "occupation", "hometown", "favorite_food".`

type hybridReply struct {
	HasImportantInfo bool    `json:"has_important_info"`
	Category         string  `json:"category"`
	Key              string  `json:"key"`
	Value            string  `json:"value"`
	Confidence       float64 `json:"confidence"`
	Importance       float64 `json:"importance"`
}

// Hybrid captures explicitly stated facts from one user message as soon as
// it arrives, instead of waiting for the next batch job.
type Hybrid struct {
	llm    adapter.LLMAdapter
	store  *memory.Store
	model  string
	logger *slog.Logger
}

// NewHybrid creates a Hybrid extractor that calls model (a cheap one).
func NewHybrid(llm adapter.LLMAdapter, store *memory.Store, model string, logger *slog.Logger) *Hybrid {
	return &Hybrid{llm: llm, store: store, model: model, logger: logging.OrDefault(logger)}
}

// Extract runs the pre-filter and, if it matches, asks the model for a
// single semantic memory and upserts it. It returns nil when nothing
// qualified.
func (h *Hybrid) Extract(ctx context.Context, userID, characterID, messageID, text string) (*memory.Semantic, error) {
	if !HasImportantInfo(text) {
		return nil, nil
	}
	raw, err := adapter.CompleteText(ctx, h.llm, adapter.CompletionRequest{
		SystemPrompt: hybridSystemPrompt,
		UserMessage:  text,
		Model:        h.model,
		MaxTokens:    200,
		Temperature:  0,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid: extraction call: %w", err)
	}
	reply, err := parseHybridReply(raw)
	if err != nil {
		return nil, err
	}
	if !reply.HasImportantInfo || strings.TrimSpace(reply.Key) == "" || strings.TrimSpace(reply.Value) == "" {
		return nil, nil
	}

	sem, err := h.store.CreateSemantic(ctx, userID, characterID, memory.SemanticInput{
		Category:        memory.ParseCategory(reply.Category),
		Key:             reply.Key,
		Value:           reply.Value,
		Confidence:      orDefault(reply.Confidence, 0.8),
		Importance:      orDefault(reply.Importance, 0.6),
		SourceMessageID: messageID,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid: save: %w", err)
	}
	logging.Owner(h.logger, userID, characterID).Debug("captured fact",
		slog.String("memory_id", sem.ID),
		slog.String("key", sem.Key),
	)
	return sem, nil
}

func parseHybridReply(raw string) (*hybridReply, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedExtraction)
	}
	var r hybridReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}
	return &r, nil
}
