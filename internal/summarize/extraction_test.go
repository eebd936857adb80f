package summarize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/chatlog"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"plain", `{"episodicMemory":{"summary":"s","importance":0.5}}`, false},
		{"fenced", validExtraction, false},
		{"prose around", `Sure! {"episodicMemory":{"summary":"s"}} Hope that helps.`, false},
		{"no object", `nothing here`, true},
		{"broken json", `{"episodicMemory": {"summary": }`, true},
		{"missing summary", `{"semanticMemories":[{"key":"k","value":"v"}]}`, true},
		{"blank summary", `{"episodicMemory":{"summary":"  "}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExtraction(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedExtraction) {
					t.Errorf("got %v, want ErrMalformedExtraction", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestExtractionRecords(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []chatlog.Message{
		{ID: "01A", Role: chatlog.RoleUser, CreatedAt: t0},
		{ID: "01B", Role: chatlog.RoleAssistant, CreatedAt: t0.Add(time.Minute)},
	}
	ex := &Extraction{
		Episodic: &EpisodicExtract{Summary: "a walk in the park"},
		Semantic: []SemanticExtract{
			{Category: "preference", Key: "favorite_color", Value: "green"},
			{Key: "", Value: "dropped"},
		},
		Emotional: []EmotionExtract{
			{Emotion: "nostalgia", Intensity: 0.4, Trigger: "old photos"},
			{Emotion: "joy", Intensity: 0.9},
		},
	}

	recs := ex.Records(msgs)
	if len(recs) != 3 {
		t.Fatalf("records: got %d, want 3", len(recs))
	}

	ep := recs[0].(*memory.Episodic)
	if ep.Importance != 0.5 {
		t.Errorf("episodic default importance: got %v", ep.Importance)
	}
	if ep.MessageRange.StartID != "01A" || ep.MessageRange.EndID != "01B" || !ep.MessageRange.EndAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("range: %+v", ep.MessageRange)
	}

	sem := recs[1].(*memory.Semantic)
	if sem.Category != memory.CategoryPreference || sem.Confidence != 0.8 || sem.SourceMessageID != "01A" {
		t.Errorf("semantic: %+v", sem)
	}

	emo := recs[2].(*memory.Emotional)
	if emo.Emotion != memory.EmotionOther || emo.Importance != 0.4 {
		t.Errorf("emotional: %+v", emo)
	}
}

func TestExtractionPrompts_SkipsSystemMessages(t *testing.T) {
	_, user := extractionPrompts(Character{}, []chatlog.Message{
		{Role: chatlog.RoleSystem, Content: "hidden instructions"},
		{Role: chatlog.RoleUser, Content: "hello"},
		{Role: chatlog.RoleAssistant, Content: "hi there"},
	})
	want := "--- CONVERSATION ---\nUser: hello\nthe character: hi there\n--- END ---"
	if user != want {
		t.Errorf("got %q, want %q", user, want)
	}
}

func TestHasImportantInfo(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"My name is Minji", true},
		{"my birthday is in May", true},
		{"I'm 27 years old", true},
		{"I really love spicy ramen", true},
		{"I work at a bakery downtown", true},
		{"제 이름은 민지예요", true},
		{"저는 27살이에요", true},
		{"매운 음식 좋아해요", true},
		{"부산에 살아요", true},
		{"what's the weather like?", false},
		{"ㅋㅋㅋ 진짜?", false},
		{"ok", false},
	}
	for _, tt := range tests {
		if got := HasImportantInfo(tt.text); got != tt.want {
			t.Errorf("HasImportantInfo(%q): got %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestHybridExtract(t *testing.T) {
	f := setupPipeline(t,
		`{"has_important_info": true, "category": "PERSONAL_INFO", "key": "name", "value": "Minji", "confidence": 0.95}`,
		`{"has_important_info": true, "category": "PERSONAL_INFO", "key": "Name", "value": "Min-ji", "confidence": 0.9}`,
		`{"has_important_info": false}`,
	)
	h := NewHybrid(f.llm, f.store, "cheap-model", nil)
	ctx := context.Background()

	// The pre-filter keeps small talk away from the model.
	sem, err := h.Extract(ctx, "u1", "c1", "m0", "lol nice")
	if sem != nil || err != nil {
		t.Fatalf("small talk: %v, %v", sem, err)
	}
	if len(f.llm.Requests()) != 0 {
		t.Fatal("model called for filtered message")
	}

	sem, err = h.Extract(ctx, "u1", "c1", "m1", "my name is Minji")
	if err != nil || sem == nil {
		t.Fatalf("Extract: %v, %v", sem, err)
	}
	if sem.Key != "name" || sem.Value != "Minji" || sem.SourceMessageID != "m1" {
		t.Errorf("semantic: %+v", sem)
	}

	// A later correction updates the same row.
	again, err := h.Extract(ctx, "u1", "c1", "m2", "actually call me Min-ji")
	if err != nil || again == nil || again.ID != sem.ID || again.Value != "Min-ji" {
		t.Fatalf("upsert: %+v, %v", again, err)
	}
	cfg, _ := f.store.FindConfig(ctx, "u1", "c1")
	if cfg.TotalMemories != 1 {
		t.Errorf("total memories: got %d, want 1", cfg.TotalMemories)
	}

	none, err := h.Extract(ctx, "u1", "c1", "m3", "I like that idea")
	if none != nil || err != nil {
		t.Errorf("no info: %v, %v", none, err)
	}

	req := f.llm.Requests()[0]
	if req.Model != "cheap-model" || !req.JSONMode {
		t.Errorf("request: %+v", req)
	}
}

func TestHybridExtract_Malformed(t *testing.T) {
	f := setupPipeline(t, "yes! their name is Minji")
	h := NewHybrid(f.llm, f.store, "", nil)
	if _, err := h.Extract(context.Background(), "u1", "c1", "m1", "my name is Minji"); !errors.Is(err, ErrMalformedExtraction) {
		t.Errorf("got %v, want ErrMalformedExtraction", err)
	}
}
