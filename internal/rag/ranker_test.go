package rag

import (
	"math"
	"strings"
	"testing"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/tokens"
)

func episodic(id, summary string, importance float64) *memory.Episodic {
	return &memory.Episodic{Base: memory.Base{ID: id, Importance: importance}, Summary: summary}
}

func TestRank_BlendsSimilarityAndImportance(t *testing.T) {
	trivia := episodic("trivia", "the weather on tuesday", 0.1)
	core := episodic("core", "their mother was in hospital", 0.95)
	middle := episodic("middle", "a movie night", 0.5)

	ranked := NewRanker().Rank(
		[]memory.Record{trivia, core, middle},
		map[string]float64{"trivia": 0.95, "core": 0.72, "middle": 0.8},
	)

	wantOrder := []string{"core", "middle", "trivia"}
	wantScore := []float64{0.6*0.72 + 0.4*0.95, 0.6*0.8 + 0.4*0.5, 0.6*0.95 + 0.4*0.1}
	for i, rm := range ranked {
		if rm.Record.Meta().ID != wantOrder[i] {
			t.Errorf("rank %d: got %s, want %s", i, rm.Record.Meta().ID, wantOrder[i])
		}
		if math.Abs(rm.Score-wantScore[i]) > 1e-9 {
			t.Errorf("score %d: got %f, want %f", i, rm.Score, wantScore[i])
		}
	}
}

func TestRank_MissingSimilarityIsZero(t *testing.T) {
	ranked := NewRanker().Rank([]memory.Record{episodic("a", "x", 0.5)}, nil)
	if ranked[0].Similarity != 0 || math.Abs(ranked[0].Score-0.2) > 1e-9 {
		t.Errorf("got %+v", ranked[0])
	}
}

func TestFormat_OmitsEmptySections(t *testing.T) {
	f := NewFormatter(tokens.Heuristic{})
	text, kept, n := f.Format("Luna", []RankedMemory{{Record: &memory.Semantic{Key: "name", Value: "Minji"}}}, 0)
	if len(kept) != 1 || n == 0 {
		t.Fatalf("kept %d, tokens %d", len(kept), n)
	}
	if !strings.Contains(text, "Facts you know about the user:\n- name: Minji") {
		t.Errorf("text: %s", text)
	}
	if strings.Contains(text, "previously talked about") || strings.Contains(text, "Emotionally") {
		t.Errorf("empty sections rendered: %s", text)
	}
}

func TestFormat_DropsLowestRankedToFitBudget(t *testing.T) {
	f := NewFormatter(tokens.Heuristic{})
	ranked := []RankedMemory{
		{Record: episodic("1", "the first and most relevant memory", 0.9)},
		{Record: episodic("2", "a second memory that matters less", 0.5)},
		{Record: episodic("3", "a third memory with a long and rambling summary of little value", 0.1)},
	}
	_, _, full := f.Format("Luna", ranked, 0)
	_, _, two := f.Format("Luna", ranked[:2], 0)

	text, kept, n := f.Format("Luna", ranked, full-1)
	if len(kept) != 2 || n != two {
		t.Fatalf("kept %d (tokens %d), want 2 (tokens %d)", len(kept), n, two)
	}
	if strings.Contains(text, "rambling") {
		t.Error("lowest-ranked memory kept")
	}

	text, kept, n = f.Format("Luna", ranked, 1)
	if text != "" || kept != nil || n != 0 {
		t.Errorf("tiny budget: got %q, %d kept", text, len(kept))
	}
}

func TestIntensityWord(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0.9, "strongly"},
		{0.7, "strongly"},
		{0.5, "moderately"},
		{0.1, "mildly"},
	}
	for _, tt := range tests {
		if got := intensityWord(tt.v); got != tt.want {
			t.Errorf("intensityWord(%v): got %s, want %s", tt.v, got, tt.want)
		}
	}
}
