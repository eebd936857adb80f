package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/rag"
)

// ownerFlags are the --user/--character pair most commands take.
type ownerFlags struct {
	user      string
	character string
}

func (o *ownerFlags) register(cmd *cobra.Command, characterRequired bool) {
	cmd.Flags().StringVar(&o.user, "user", "", "owning user id")
	cmd.Flags().StringVar(&o.character, "character", "", "character id")
	_ = cmd.MarkFlagRequired("user")
	if characterRequired {
		_ = cmd.MarkFlagRequired("character")
	}
}

func (o ownerFlags) owner() memory.Owner {
	return memory.Owner{UserID: o.user, CharacterID: o.character}
}

func parseKind(s string) (memory.Kind, error) {
	k := memory.Kind(strings.ToLower(s))
	if !memory.ValidKind(k) {
		return "", fmt.Errorf("unknown memory kind %q (valid: episodic, semantic, emotional)", s)
	}
	return k, nil
}

// describe renders a memory as one line of text.
func describe(r memory.Record) string {
	switch m := r.(type) {
	case *memory.Episodic:
		return m.Summary
	case *memory.Semantic:
		return fmt.Sprintf("%s = %s (%s, confidence %.2f)", m.Key, m.Value, m.Category, m.Confidence)
	case *memory.Emotional:
		return fmt.Sprintf("%s %.2f: %s", m.Emotion, m.Intensity, m.Trigger)
	}
	return ""
}

func printRecord(w io.Writer, r memory.Record) {
	b := r.Meta()
	fmt.Fprintf(w, "  [%-9s] %s  imp %.2f  %s\n", r.Kind(), b.ID, b.Importance, describe(r))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSearchCmd() *cobra.Command {
	var o ownerFlags
	var limit int
	var minSim float64
	var kinds []string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the memories most relevant to a query",
		Long: `Search a user's memories of a character by meaning, ranked by
similarity and importance. Retrieved memories are reinforced, exactly as
they are during a chat turn.

Examples:
  charmem search --user u1 --character luna "what food do I like"
  charmem search --user u1 --character luna --kind semantic "pets"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := rag.Options{
				UserID:        o.user,
				CharacterID:   o.character,
				Limit:         limit,
				MinSimilarity: minSim,
			}
			for _, s := range kinds {
				k, err := parseKind(s)
				if err != nil {
					return err
				}
				opts.Kinds = append(opts.Kinds, k)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ranked, err := a.in.SearchMemories(ctx, strings.Join(args, " "), opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(ranked) == 0 {
					fmt.Fprintln(out, "No memories found.")
					return nil
				}
				for _, rm := range ranked {
					fmt.Fprintf(out, "%.3f (sim %.3f) ", rm.Score, rm.Similarity)
					printRecord(out, rm.Record)
				}
				return nil
			})
		},
	}

	o.register(cmd, true)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (default from config)")
	cmd.Flags().Float64Var(&minSim, "min-similarity", 0, "similarity floor (default from config)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "restrict to these kinds")
	return cmd
}

func newListCmd() *cobra.Command {
	var o ownerFlags
	var kind string
	var limit, offset int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored memories, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var k memory.Kind
			if kind != "" {
				var err error
				if k, err = parseKind(kind); err != nil {
					return err
				}
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				recs, err := a.in.ListMemories(ctx, o.owner(), k, memory.ListOptions{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, recs)
				}
				if len(recs) == 0 {
					fmt.Fprintln(out, "No memories stored.")
					return nil
				}
				for _, r := range recs {
					printRecord(out, r)
				}
				return nil
			})
		},
	}

	o.register(cmd, false)
	cmd.Flags().StringVar(&kind, "kind", "", "only this kind")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var o ownerFlags
	var kind string

	cmd := &cobra.Command{
		Use:   "delete <memory-id>",
		Short: "Delete a memory (it stays restorable for the restore window)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				archive, err := a.in.DeleteMemory(ctx, args[0], k, o.owner())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted memory %s (archive %s", args[0], archive.ID)
				if archive.RestoreExpiry != nil {
					fmt.Fprintf(cmd.OutOrStdout(), ", restorable until %s", archive.RestoreExpiry.Format("2006-01-02"))
				}
				fmt.Fprintln(cmd.OutOrStdout(), ").")
				return nil
			})
		},
	}

	o.register(cmd, false)
	cmd.Flags().StringVar(&kind, "kind", "", "memory kind")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var o ownerFlags
	var list bool
	var limit int

	cmd := &cobra.Command{
		Use:   "restore [archive-id]",
		Short: "Restore an archived memory, or list archives",
		Long: `Restore a deleted or evicted memory from its archive.

Examples:
  charmem restore --user u1 --list
  charmem restore --user u1 0b6f1c2e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list && len(args) == 0 {
				return fmt.Errorf("an archive id is required (or pass --list)")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if list {
					archives, err := a.in.ListArchives(ctx, o.owner(), limit)
					if err != nil {
						return err
					}
					if len(archives) == 0 {
						fmt.Fprintln(out, "No archives.")
						return nil
					}
					now := a.store.Now()
					for _, ar := range archives {
						state := "expired"
						switch {
						case ar.RestoredAt != nil:
							state = "restored"
						case ar.Restorable(now):
							state = "restorable"
						}
						fmt.Fprintf(out, "  %s  %-9s %-16s %-10s %s\n",
							ar.ID, ar.Kind, ar.Reason, state, ar.ArchivedAt.Format("2006-01-02 15:04"))
					}
					return nil
				}

				rec, err := a.in.RestoreMemory(ctx, args[0], o.owner())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "Restored:")
				printRecord(out, rec)
				return nil
			})
		},
	}

	o.register(cmd, false)
	cmd.Flags().BoolVar(&list, "list", false, "list archives instead of restoring")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "archives to list")
	return cmd
}
