package summarize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/chatlog"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

// Extraction is the structured output a summarization job asks the LLM for.
type Extraction struct {
	Episodic  *EpisodicExtract  `json:"episodicMemory"`
	Semantic  []SemanticExtract `json:"semanticMemories"`
	Emotional []EmotionExtract  `json:"emotionalMemories"`
}

type EpisodicExtract struct {
	Summary    string  `json:"summary"`
	Context    string  `json:"context,omitempty"`
	Importance float64 `json:"importance"`
}

type SemanticExtract struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance,omitempty"`
}

type EmotionExtract struct {
	Emotion    string  `json:"emotion"`
	Intensity  float64 `json:"intensity"`
	Trigger    string  `json:"trigger"`
	Importance float64 `json:"importance,omitempty"`
}

const extractionSystemPrompt = `You maintain the long-term memory of %s, a character in an ongoing conversation with a user.
%s
Read the conversation excerpt and extract what %s should remember about the user.

Return ONLY a JSON object of this shape:
{
  "episodicMemory": {"summary": "...", "context": "...", "importance": 0.0-1.0},
  "semanticMemories": [{"category": "PERSONAL_INFO|PREFERENCE|RELATIONSHIP|EVENT|OPINION|HABIT|GOAL|OTHER", "key": "snake_case_key", "value": "...", "confidence": 0.0-1.0, "importance": 0.0-1.0}],
  "emotionalMemories": [{"emotion": "joy|sadness|anger|fear|surprise|love|gratitude|anxiety|loneliness|excitement|other", "intensity": 0.0-1.0, "trigger": "...", "importance": 0.0-1.0}]
}

Rules:
- episodicMemory.summary is required: two or three sentences written from %s's point of view.
- Only record facts the user stated explicitly. Use stable keys such as "name", "birthday", "favorite_food".
- Emotional memories are for moments with clear feeling; leave the array empty otherwise.
- No prose, no markdown, only the JSON object.`

// extractionPrompts builds the system and user prompts for a batch.
func extractionPrompts(ch Character, msgs []chatlog.Message) (system, user string) {
	name := ch.Name
	if name == "" {
		name = "the character"
	}
	persona := ""
	if ch.Personality != "" {
		persona = "Personality: " + ch.Personality + "\n"
	}
	system = fmt.Sprintf(extractionSystemPrompt, name, persona, name, name)

	var b strings.Builder
	b.WriteString("--- CONVERSATION ---\n")
	for _, m := range msgs {
		speaker := "User"
		if m.Role == chatlog.RoleAssistant {
			speaker = name
		} else if m.Role == chatlog.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, strings.TrimSpace(m.Content))
	}
	b.WriteString("--- END ---")
	return system, b.String()
}

// ParseExtraction decodes the LLM's reply. Markdown fences and surrounding
// prose are tolerated; anything else that does not decode, or lacks the
// episodic summary, is ErrMalformedExtraction.
func ParseExtraction(raw string) (*Extraction, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedExtraction)
	}
	var ex Extraction
	if err := json.Unmarshal([]byte(raw[start:end+1]), &ex); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	}
	if ex.Episodic == nil || strings.TrimSpace(ex.Episodic.Summary) == "" {
		return nil, fmt.Errorf("%w: missing episodicMemory.summary", ErrMalformedExtraction)
	}
	return &ex, nil
}

// Records converts the extraction into memory records for the batch msgs.
// Items without the required text are dropped.
func (ex *Extraction) Records(msgs []chatlog.Message) []memory.Record {
	var recs []memory.Record

	if ex.Episodic != nil && strings.TrimSpace(ex.Episodic.Summary) != "" {
		ep := &memory.Episodic{
			Base:    memory.Base{Importance: orDefault(ex.Episodic.Importance, 0.5)},
			Summary: ex.Episodic.Summary,
			Context: ex.Episodic.Context,
		}
		for _, m := range msgs {
			ep.OriginalMessageIDs = append(ep.OriginalMessageIDs, m.ID)
		}
		if len(msgs) > 0 {
			first, last := msgs[0], msgs[len(msgs)-1]
			ep.MessageRange = memory.MessageRange{
				StartID: first.ID,
				EndID:   last.ID,
				StartAt: &first.CreatedAt,
				EndAt:   &last.CreatedAt,
			}
		}
		recs = append(recs, ep)
	}

	source := lastUserMessage(msgs)
	for _, s := range ex.Semantic {
		if strings.TrimSpace(s.Key) == "" || strings.TrimSpace(s.Value) == "" {
			continue
		}
		recs = append(recs, &memory.Semantic{
			Base:            memory.Base{Importance: orDefault(s.Importance, 0.6)},
			Category:        memory.ParseCategory(s.Category),
			Key:             s.Key,
			Value:           s.Value,
			Confidence:      orDefault(s.Confidence, 0.8),
			SourceMessageID: source,
		})
	}

	for _, e := range ex.Emotional {
		if strings.TrimSpace(e.Trigger) == "" {
			continue
		}
		recs = append(recs, &memory.Emotional{
			Base:      memory.Base{Importance: orDefault(e.Importance, e.Intensity)},
			Emotion:   memory.ParseEmotion(e.Emotion),
			Intensity: e.Intensity,
			Trigger:   e.Trigger,
		})
	}
	return recs
}

func lastUserMessage(msgs []chatlog.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chatlog.RoleUser {
			return msgs[i].ID
		}
	}
	return ""
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
