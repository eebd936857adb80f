// Package memory defines the bounded long-term memory store for a
// (user, character) pair: three memory kinds, capacity bookkeeping,
// eviction and archival.
package memory

import (
	"strings"
	"time"
)

// Kind classifies a stored memory.
type Kind string

const (
	KindEpisodic  Kind = "episodic"
	KindSemantic  Kind = "semantic"
	KindEmotional Kind = "emotional"
)

// Kinds lists every memory kind in rendering order.
var Kinds = []Kind{KindEpisodic, KindSemantic, KindEmotional}

// ValidKind returns true if k is a recognised memory kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindEpisodic, KindSemantic, KindEmotional:
		return true
	}
	return false
}

// Category classifies a semantic fact.
type Category string

const (
	CategoryPersonalInfo Category = "PERSONAL_INFO"
	CategoryPreference   Category = "PREFERENCE"
	CategoryRelationship Category = "RELATIONSHIP"
	CategoryEvent        Category = "EVENT"
	CategoryOpinion      Category = "OPINION"
	CategoryHabit        Category = "HABIT"
	CategoryGoal         Category = "GOAL"
	CategoryOther        Category = "OTHER"
)

// ParseCategory normalises s, falling back to CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CategoryPersonalInfo, CategoryPreference, CategoryRelationship, CategoryEvent,
		CategoryOpinion, CategoryHabit, CategoryGoal, CategoryOther:
		return c
	}
	return CategoryOther
}

// Emotion is an affect label attached to an emotional memory.
type Emotion string

const (
	EmotionJoy        Emotion = "joy"
	EmotionSadness    Emotion = "sadness"
	EmotionAnger      Emotion = "anger"
	EmotionFear       Emotion = "fear"
	EmotionSurprise   Emotion = "surprise"
	EmotionLove       Emotion = "love"
	EmotionGratitude  Emotion = "gratitude"
	EmotionAnxiety    Emotion = "anxiety"
	EmotionLoneliness Emotion = "loneliness"
	EmotionExcitement Emotion = "excitement"
	EmotionOther      Emotion = "other"
)

// ParseEmotion normalises s, falling back to EmotionOther.
func ParseEmotion(s string) Emotion {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	switch e {
	case EmotionJoy, EmotionSadness, EmotionAnger, EmotionFear, EmotionSurprise, EmotionLove,
		EmotionGratitude, EmotionAnxiety, EmotionLoneliness, EmotionExcitement, EmotionOther:
		return e
	}
	return EmotionOther
}

// ArchiveReason records why a memory left the live tables.
type ArchiveReason string

const (
	ReasonCapacityLimit   ArchiveReason = "capacity_limit"
	ReasonInactiveAccount ArchiveReason = "inactive_account"
	ReasonUserDeleted     ArchiveReason = "user_deleted"
	ReasonExpired         ArchiveReason = "expired"
	ReasonSummarized      ArchiveReason = "summarized"
)

// Config is the per-(user, character) capacity ledger.
// TotalMemories always equals the number of live rows across the three
// memory tables; it is maintained by increment/decrement, never recomputed.
type Config struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	CharacterID         string     `json:"character_id"`
	MaxMemories         int        `json:"max_memories"`
	TotalMemories       int        `json:"total_memories"`
	ContextUsagePercent float64    `json:"context_usage_percent"`
	LastContextCheck    *time.Time `json:"last_context_check,omitempty"`
	LastAccessAt        time.Time  `json:"last_access_at"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Owner identifies who a memory belongs to. CharacterID may be empty when
// the caller only asserts the user.
type Owner struct {
	UserID      string
	CharacterID string
}

// Ref points at a memory row.
type Ref struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// Base holds the fields shared by every memory kind.
type Base struct {
	ID           string     `json:"id"`
	ConfigID     string     `json:"config_id"`
	UserID       string     `json:"user_id"`
	CharacterID  string     `json:"character_id"`
	Importance   float64    `json:"importance"`
	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MessageRange is the span of chat messages an episodic memory summarises.
type MessageRange struct {
	StartID string     `json:"start_id,omitempty"`
	EndID   string     `json:"end_id,omitempty"`
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}

// Episodic is a summarised recollection of a conversation span.
type Episodic struct {
	Base
	Summary            string       `json:"summary"`
	Context            string       `json:"context,omitempty"`
	OriginalMessageIDs []string     `json:"original_message_ids,omitempty"`
	MessageRange       MessageRange `json:"message_range"`
	IsEdited           bool         `json:"is_edited"`
	OriginalSummary    string       `json:"original_summary,omitempty"`
}

// Semantic is a discrete fact about the user, unique per config by Key.
type Semantic struct {
	Base
	Category        Category `json:"category"`
	Key             string   `json:"key"`
	Value           string   `json:"value"`
	Confidence      float64  `json:"confidence"`
	SourceMessageID string   `json:"source_message_id,omitempty"`
}

// Emotional is an affect-laden moment and what triggered it.
type Emotional struct {
	Base
	Emotion   Emotion `json:"emotion"`
	Intensity float64 `json:"intensity"`
	Trigger   string  `json:"trigger"`
}

// Archive is an immutable snapshot of a memory (or of summarised-away
// messages) that left the live tables.
type Archive struct {
	ID            string        `json:"id"`
	ConfigID      string        `json:"config_id"`
	UserID        string        `json:"user_id"`
	CharacterID   string        `json:"character_id"`
	MemoryID      string        `json:"memory_id,omitempty"`
	Kind          string        `json:"kind"`
	Snapshot      string        `json:"snapshot"`
	Reason        ArchiveReason `json:"reason"`
	CanRestore    bool          `json:"can_restore"`
	RestoreExpiry *time.Time    `json:"restore_expiry,omitempty"`
	ArchivedAt    time.Time     `json:"archived_at"`
	RestoredAt    *time.Time    `json:"restored_at,omitempty"`
}

// Restorable reports whether the archive can still be restored at now.
func (a Archive) Restorable(now time.Time) bool {
	if !a.CanRestore || a.RestoredAt != nil || a.RestoreExpiry == nil {
		return false
	}
	return now.Before(*a.RestoreExpiry)
}

// EpisodicInput is the caller-supplied data for a new episodic memory.
type EpisodicInput struct {
	Summary            string
	Context            string
	OriginalMessageIDs []string
	MessageRange       MessageRange
	Importance         float64
}

// SemanticInput is the caller-supplied data for a semantic upsert.
type SemanticInput struct {
	Category        Category
	Key             string
	Value           string
	Confidence      float64
	Importance      float64
	SourceMessageID string
}

// EmotionalInput is the caller-supplied data for a new emotional memory.
type EmotionalInput struct {
	Emotion    Emotion
	Intensity  float64
	Trigger    string
	Importance float64
}

// Patch is a partial update. Fields that do not apply to the target kind
// are rejected.
type Patch struct {
	Summary    *string
	Context    *string
	Importance *float64
	Category   *Category
	Value      *string
	Confidence *float64
	Emotion    *Emotion
	Intensity  *float64
	Trigger    *string
}

// ListOptions pages through an owner's memories, newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// NormalizeKey folds a semantic key into its canonical form so that
// "Favorite Food" and "favorite_food" upsert the same row.
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.Join(strings.FieldsFunc(key, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.'
	}), "_")
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
