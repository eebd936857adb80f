package summarize

import (
	"context"
	"fmt"
	"strings"
)

// DefaultThreshold is the usage ratio at which a chat should be summarized.
const DefaultThreshold = 0.70

// DefaultModelLimit applies to models missing from the limit table.
const DefaultModelLimit = 8192

// DefaultModelLimits maps model names (or prefixes) to context windows in
// tokens.
var DefaultModelLimits = map[string]int{
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
	"gpt-4-turbo":       128000,
	"gpt-4":             8192,
	"gpt-3.5-turbo":     16385,
	"claude-3-5-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"claude-3-haiku":    200000,
	"claude-3-opus":     200000,
	"llama3":            8192,
}

// Usage is a chat's context consumption by messages not yet summarized.
type Usage struct {
	ChatID          string  `json:"chat_id"`
	Model           string  `json:"model"`
	CurrentTokens   int     `json:"current_tokens"`
	ModelLimit      int     `json:"model_limit"`
	Ratio           float64 `json:"ratio"`
	ShouldSummarize bool    `json:"should_summarize"`
	Unsummarized    int     `json:"unsummarized_messages"`
}

// ModelLimit returns the context window for model: an exact entry first,
// then the longest matching prefix, then the default.
func (p *Pipeline) ModelLimit(model string) int {
	if n, ok := p.opts.ModelLimits[model]; ok {
		return n
	}
	best, limit := 0, p.opts.DefaultModelLimit
	for name, n := range p.opts.ModelLimits {
		if strings.HasPrefix(model, name) && len(name) > best {
			best, limit = len(name), n
		}
	}
	return limit
}

// CheckContextUsage sums the token estimates of the chat's unsummarized
// messages and compares them with model's context window.
func (p *Pipeline) CheckContextUsage(ctx context.Context, chatID, model string) (Usage, error) {
	total, count, err := p.log.UnsummarizedTokens(ctx, chatID)
	if err != nil {
		return Usage{}, fmt.Errorf("summarize: context usage: %w", err)
	}
	return p.usage(chatID, model, total, count), nil
}

func (p *Pipeline) usage(chatID, model string, current, count int) Usage {
	limit := p.ModelLimit(model)
	ratio := 0.0
	if limit > 0 {
		ratio = float64(current) / float64(limit)
	}
	return Usage{
		ChatID:          chatID,
		Model:           model,
		CurrentTokens:   current,
		ModelLimit:      limit,
		Ratio:           ratio,
		ShouldSummarize: ratio >= p.opts.Threshold,
		Unsummarized:    count,
	}
}
