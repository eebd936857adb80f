package export

import (
	"fmt"
	"strings"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

// MarkdownExporter renders memories as a readable markdown document.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(data ExportData) (string, error) {
	name := data.CharacterName
	if name == "" {
		name = data.Owner.CharacterID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# What %s remembers about %s\n\n", name, data.Owner.UserID)
	if !data.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Exported %s.\n\n", data.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	if cfg := data.Config; cfg != nil {
		fmt.Fprintf(&b, "| Memories | %d / %d |\n", cfg.TotalMemories, cfg.MaxMemories)
		fmt.Fprintf(&b, "| Last active | %s |\n", cfg.LastAccessAt.UTC().Format("2006-01-02"))
		b.WriteString("\n")
	}

	if len(data.Memories) == 0 {
		b.WriteString("No memories stored.\n\n")
	}
	for _, section := range []struct {
		heading string
		kind    memory.Kind
	}{
		{"Facts", memory.KindSemantic},
		{"Conversations", memory.KindEpisodic},
		{"Feelings", memory.KindEmotional},
	} {
		b.WriteString(memorySection(section.heading, section.kind, data.Memories))
	}

	if len(data.Archives) > 0 {
		b.WriteString("## Archive\n\n")
		for _, a := range data.Archives {
			state := ""
			if a.RestoredAt != nil {
				state = ", restored"
			} else if a.Restorable(data.GeneratedAt) {
				state = ", restorable"
			}
			fmt.Fprintf(&b, "- %s %s (%s%s)\n", a.ArchivedAt.UTC().Format("2006-01-02"), a.Kind, a.Reason, state)
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}
