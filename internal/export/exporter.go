// Package export renders a user's memories of a character into portable
// formats, for data requests and for inspecting what a character knows.
package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

// ExportData is passed to every Exporter.
type ExportData struct {
	Owner         memory.Owner
	CharacterName string
	// Config may be nil when the pair has never been active.
	Config      *memory.Config
	Memories    []memory.Record
	Archives    []memory.Archive
	GeneratedAt time.Time
}

// Exporter renders ExportData to a string in a specific format.
type Exporter interface {
	Export(data ExportData) (string, error)
}

// registry maps format names to Exporter implementations.
var registry = map[string]Exporter{
	"markdown": &MarkdownExporter{},
	"json":     &JSONExporter{},
}

// Get returns the Exporter registered under name, and whether it was found.
func Get(name string) (Exporter, bool) {
	e, ok := registry[name]
	return e, ok
}

// ValidFormats returns the supported export format names, sorted.
func ValidFormats() []string {
	formats := make([]string, 0, len(registry))
	for k := range registry {
		formats = append(formats, k)
	}
	sort.Strings(formats)
	return formats
}

// ofKind returns the memories of kind, most important first.
func ofKind(recs []memory.Record, kind memory.Kind) []memory.Record {
	var out []memory.Record
	for _, r := range recs {
		if r.Kind() == kind {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Meta().Importance > out[j].Meta().Importance
	})
	return out
}

// memorySection renders memories of the given kind as a markdown list block.
func memorySection(heading string, kind memory.Kind, recs []memory.Record) string {
	items := ofKind(recs, kind)
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", heading)
	for _, r := range items {
		fmt.Fprintf(&b, "- %s _(importance %.2f, recalled %d times)_\n", line(r), r.Meta().Importance, r.Meta().AccessCount)
	}
	b.WriteString("\n")
	return b.String()
}

func line(r memory.Record) string {
	switch m := r.(type) {
	case *memory.Episodic:
		s := m.Summary
		if m.Context != "" {
			s += " (" + m.Context + ")"
		}
		if m.IsEdited {
			s += " [edited]"
		}
		return s
	case *memory.Semantic:
		return fmt.Sprintf("**%s**: %s", strings.ReplaceAll(m.Key, "_", " "), m.Value)
	case *memory.Emotional:
		return fmt.Sprintf("%s (%.1f) about %s", m.Emotion, m.Intensity, m.Trigger)
	}
	return ""
}
