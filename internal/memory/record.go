package memory

import (
	"fmt"
	"strings"
)

// Record is the closed set of memory kinds: *Episodic, *Semantic and
// *Emotional. Code that branches on the concrete kind uses a type switch
// with a default that panics, so adding a kind fails loudly.
type Record interface {
	Kind() Kind
	Meta() *Base
	// EmbeddingText is the text whose vector represents the memory.
	EmbeddingText() string
	isRecord()
}

func (*Episodic) Kind() Kind  { return KindEpisodic }
func (*Semantic) Kind() Kind  { return KindSemantic }
func (*Emotional) Kind() Kind { return KindEmotional }

func (e *Episodic) Meta() *Base  { return &e.Base }
func (s *Semantic) Meta() *Base  { return &s.Base }
func (e *Emotional) Meta() *Base { return &e.Base }

func (*Episodic) isRecord()  {}
func (*Semantic) isRecord()  {}
func (*Emotional) isRecord() {}

func (e *Episodic) EmbeddingText() string {
	if e.Context == "" {
		return e.Summary
	}
	return e.Summary + "\n" + e.Context
}

func (s *Semantic) EmbeddingText() string {
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(s.Key, "_", " "), s.Value)
}

func (e *Emotional) EmbeddingText() string {
	return fmt.Sprintf("felt %s: %s", e.Emotion, e.Trigger)
}

// RefOf returns the (id, kind) pointer for r.
func RefOf(r Record) Ref {
	return Ref{ID: r.Meta().ID, Kind: r.Kind()}
}

// tableFor maps a kind onto its live table.
func tableFor(k Kind) (string, error) {
	switch k {
	case KindEpisodic:
		return "episodic_memories", nil
	case KindSemantic:
		return "semantic_memories", nil
	case KindEmotional:
		return "emotional_memories", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, k)
}

func unknownRecord(r Record) string {
	return fmt.Sprintf("memory: unhandled record type %T", r)
}
