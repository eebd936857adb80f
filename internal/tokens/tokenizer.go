// Package tokens estimates prompt token counts.
package tokens

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(s string) int
}

// Tokenizer wraps tiktoken for approximate token counting.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer creates a Tokenizer using the cl100k_base encoding
// (used by GPT-4 and a good approximation for Claude).
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokenizer: get encoding: %w", err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the approximate number of tokens in s.
func (t *Tokenizer) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// Truncate truncates s to at most maxTokens tokens, returning the result.
func (t *Tokenizer) Truncate(s string, maxTokens int) string {
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= maxTokens {
		return s
	}
	return t.enc.Decode(tokens[:maxTokens])
}

// Heuristic estimates roughly four bytes per token, with a floor of one token
// per rune for CJK-heavy text where bytes overstate.
type Heuristic struct{}

func (Heuristic) Count(s string) int {
	if s == "" {
		return 0
	}
	n := (len(s) + 3) / 4
	if runes := utf8.RuneCountInString(s); runes < len(s) && runes > n {
		n = runes
	}
	return n
}

// New returns a tiktoken-backed counter, falling back to Heuristic when the
// encoding cannot be loaded (tiktoken fetches its BPE ranks on first use).
func New(logger *slog.Logger) Counter {
	tok, err := NewTokenizer()
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken unavailable, using heuristic token estimate", "error", err)
		}
		return Heuristic{}
	}
	return tok
}
