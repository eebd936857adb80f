// Package chatlog is the append-only raw message log that summarization
// reads from, plus the per-chat message counters that decide when context
// usage is checked.
package chatlog

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one raw chat turn.
type Message struct {
	ID           string
	ChatID       string
	UserID       string
	CharacterID  string
	Role         Role
	Content      string
	TokenCount   int
	Summarized   bool
	SummaryJobID string
	MemoryIDs    []string
	CreatedAt    time.Time
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID for t. IDs minted in one process sort in creation
// order even within the same millisecond.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
