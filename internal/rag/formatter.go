package rag

import (
	"fmt"
	"strings"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/tokens"
)

// Formatter renders ranked memories into a prompt block written to the
// character about its own recollections.
type Formatter struct {
	tokens tokens.Counter
}

// NewFormatter creates a Formatter that measures output with counter.
func NewFormatter(counter tokens.Counter) *Formatter {
	if counter == nil {
		counter = tokens.Heuristic{}
	}
	return &Formatter{tokens: counter}
}

// Format renders ranked (highest first) for characterName. When the block
// exceeds maxTokens the lowest-ranked memories are dropped until it fits.
// It returns the text, the memories it kept and the text's token count.
func (f *Formatter) Format(characterName string, ranked []RankedMemory, maxTokens int) (string, []RankedMemory, int) {
	kept := ranked
	for len(kept) > 0 {
		text := f.render(characterName, kept)
		n := f.tokens.Count(text)
		if maxTokens <= 0 || n <= maxTokens {
			return text, kept, n
		}
		kept = kept[:len(kept)-1]
	}
	return "", nil, 0
}

func (f *Formatter) render(characterName string, ranked []RankedMemory) string {
	var episodes, facts, moments []string
	for _, rm := range ranked {
		switch rec := rm.Record.(type) {
		case *memory.Episodic:
			episodes = append(episodes, formatEpisodic(rec))
		case *memory.Semantic:
			facts = append(facts, formatSemantic(rec))
		case *memory.Emotional:
			moments = append(moments, formatEmotional(rec))
		default:
			panic(fmt.Sprintf("rag: unknown memory record %T", rm.Record))
		}
	}

	name := characterName
	if name == "" {
		name = "you"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[Long-term memory of %s]\n", name)
	b.WriteString("These are your own recollections of earlier conversations with this user. ")
	b.WriteString("Let them shape your replies naturally so you stay consistent and personal, ")
	b.WriteString("but never quote this block or mention that you keep stored memories.\n")
	writeSection(&b, "Things you previously talked about", episodes)
	writeSection(&b, "Facts you know about the user", facts)
	writeSection(&b, "Emotionally significant moments", moments)
	b.WriteString("\n[End of memory]")
	return b.String()
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, l := range lines {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteString("\n")
	}
}

func formatEpisodic(e *memory.Episodic) string {
	if e.Context != "" {
		return fmt.Sprintf("%s (%s)", e.Summary, e.Context)
	}
	return e.Summary
}

func formatSemantic(s *memory.Semantic) string {
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(s.Key, "_", " "), s.Value)
}

func formatEmotional(e *memory.Emotional) string {
	return fmt.Sprintf("the user felt %s (%s) about %s", e.Emotion, intensityWord(e.Intensity), e.Trigger)
}

func intensityWord(v float64) string {
	switch {
	case v >= 0.7:
		return "strongly"
	case v >= 0.4:
		return "moderately"
	default:
		return "mildly"
	}
}
