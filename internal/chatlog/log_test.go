package chatlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/db"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
)

func setupTestLog(t *testing.T, opts ...Option) (*db.DB, *Log) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	opts = append([]Option{WithClock(clock), WithLogger(logging.Discard())}, opts...)
	return database, New(database, opts...)
}

func appendN(t *testing.T, l *Log, chatID string, n int) []Message {
	t.Helper()
	var out []Message
	for i := 0; i < n; i++ {
		m := &Message{ChatID: chatID, UserID: "u1", CharacterID: "c1", Content: fmt.Sprintf("message number %d", i)}
		if _, err := l.Append(context.Background(), m); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		out = append(out, *m)
	}
	return out
}

func TestAppend_CountsDurably(t *testing.T) {
	database, l := setupTestLog(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := l.Append(ctx, &Message{ChatID: "chat-1", Content: "hi"})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if n != int64(i) {
			t.Errorf("count: got %d, want %d", n, i)
		}
	}

	// A new Log over the same database continues from the stored count.
	reopened := New(database)
	n, err := reopened.Append(ctx, &Message{ChatID: "chat-1", Content: "again"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("count after reopen: got %d, want 4", n)
	}
	if got, _ := reopened.Counter().Get(ctx, "chat-1"); got != 4 {
		t.Errorf("Get: got %d, want 4", got)
	}
	if got, _ := reopened.Counter().Get(ctx, "chat-other"); got != 0 {
		t.Errorf("unknown chat: got %d, want 0", got)
	}
}

func TestAppend_FillsDefaults(t *testing.T) {
	_, l := setupTestLog(t)
	m := &Message{ChatID: "chat-1", Content: "I moved to Busan last spring"}
	if _, err := l.Append(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Errorf("id/created_at not filled: %+v", m)
	}
	if m.Role != RoleUser {
		t.Errorf("role: got %q, want user", m.Role)
	}
	if m.TokenCount <= 0 {
		t.Errorf("token count: got %d", m.TokenCount)
	}
}

func TestAppend_RejectsEmpty(t *testing.T) {
	_, l := setupTestLog(t)
	if _, err := l.Append(context.Background(), &Message{ChatID: "c", Content: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("got %v, want ErrEmptyMessage", err)
	}
	if _, err := l.Append(context.Background(), &Message{Content: "x"}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("got %v, want ErrEmptyMessage", err)
	}
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string) (int64, error) { return 0, errors.New("down") }
func (failingCounter) Get(context.Context, string) (int64, error)  { return 0, errors.New("down") }

func TestAppend_ExternalCounterFailureStillSaves(t *testing.T) {
	_, l := setupTestLog(t, WithCounter(failingCounter{}))
	ctx := context.Background()

	n, err := l.Append(ctx, &Message{ChatID: "chat-1", Content: "still here"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 0 {
		t.Errorf("count: got %d, want 0", n)
	}
	msgs, _ := l.Unsummarized(ctx, "chat-1")
	if len(msgs) != 1 {
		t.Errorf("saved messages: got %d, want 1", len(msgs))
	}
}

func TestUnsummarized_OldestFirstAndMark(t *testing.T) {
	_, l := setupTestLog(t)
	ctx := context.Background()
	msgs := appendN(t, l, "chat-1", 5)
	appendN(t, l, "chat-2", 2)

	got, err := l.Unsummarized(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("len: got %d, want 5", len(got))
	}
	for i := range got {
		if got[i].ID != msgs[i].ID {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, msgs[i].ID)
		}
	}

	n, err := l.MarkSummarized(ctx, []string{msgs[0].ID, msgs[1].ID}, "job-1", []string{"mem-a", "mem-b"})
	if err != nil {
		t.Fatalf("MarkSummarized: %v", err)
	}
	if n != 2 {
		t.Errorf("marked: got %d, want 2", n)
	}
	// Marking again is a no-op.
	if n, _ := l.MarkSummarized(ctx, []string{msgs[0].ID}, "job-2", nil); n != 0 {
		t.Errorf("re-mark: got %d, want 0", n)
	}

	marked, _ := l.GetMany(ctx, []string{msgs[0].ID, "missing"})
	if len(marked) != 1 {
		t.Fatalf("GetMany: got %d", len(marked))
	}
	if !marked[0].Summarized || marked[0].SummaryJobID != "job-1" || len(marked[0].MemoryIDs) != 2 {
		t.Errorf("marked message: %+v", marked[0])
	}

	total, count, err := l.UnsummarizedTokens(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("unsummarized count: got %d, want 3", count)
	}
	want := 0
	for _, m := range msgs[2:] {
		want += m.TokenCount
	}
	if total != want {
		t.Errorf("tokens: got %d, want %d", total, want)
	}
}

func TestRecent(t *testing.T) {
	_, l := setupTestLog(t)
	msgs := appendN(t, l, "chat-1", 4)

	got, err := l.Recent(context.Background(), "chat-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != msgs[2].ID || got[1].ID != msgs[3].ID {
		t.Errorf("Recent: got %v", got)
	}
}

func TestUnsummarized_OrderedByAgeNotID(t *testing.T) {
	_, l := setupTestLog(t)
	ctx := context.Background()
	ids := []string{"msg-9", "msg-10", "msg-11", "msg-12"}
	for _, id := range ids {
		if _, err := l.Append(ctx, &Message{ID: id, ChatID: "chat-1", Content: "turn " + id}); err != nil {
			t.Fatal(err)
		}
	}
	// Same timestamp as msg-12, so insertion order decides.
	same := time.Date(2025, 3, 1, 12, 0, 4, 0, time.UTC)
	if _, err := l.Append(ctx, &Message{ID: "a-last", ChatID: "chat-1", Content: "tie", CreatedAt: same}); err != nil {
		t.Fatal(err)
	}
	ids = append(ids, "a-last")

	check := func(name string, got []Message, want []string) {
		t.Helper()
		if len(got) != len(want) {
			t.Fatalf("%s: got %d messages, want %d", name, len(got), len(want))
		}
		for i := range want {
			if got[i].ID != want[i] {
				t.Errorf("%s position %d: got %s, want %s", name, i, got[i].ID, want[i])
			}
		}
	}

	got, err := l.Unsummarized(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	check("Unsummarized", got, ids)

	got, _ = l.GetMany(ctx, []string{"msg-12", "msg-9", "msg-10"})
	check("GetMany", got, []string{"msg-9", "msg-10", "msg-12"})

	got, _ = l.Recent(ctx, "chat-1", 2)
	check("Recent", got, []string{"msg-12", "a-last"})
}

func TestNewID_Monotonic(t *testing.T) {
	now := time.Now()
	prev := NewID(now)
	for i := 0; i < 100; i++ {
		id := NewID(now)
		if id <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, id)
		}
		prev = id
	}
}

func TestCounterKey(t *testing.T) {
	if got := counterKey("abc"); got != "charmem:chat:abc:messages" {
		t.Errorf("got %q", got)
	}
}
