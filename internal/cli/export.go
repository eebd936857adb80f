package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/export"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
)

func newExportCmd() *cobra.Command {
	var o ownerFlags
	var format, output string
	var archives bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export what a character remembers about a user",
		Long: `Render every live memory a character holds about a user as Markdown
or JSON, for example to answer a data request.

Examples:
  charmem export --user u1 --character luna
  charmem export --user u1 --character luna --format json -o luna-u1.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, ok := export.Get(format)
			if !ok {
				return fmt.Errorf("unknown format %q; valid formats: %s", format, strings.Join(export.ValidFormats(), ", "))
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				owner := o.owner()
				data := export.ExportData{
					Owner:         owner,
					CharacterName: a.cfg.Characters[owner.CharacterID].Name,
					GeneratedAt:   a.store.Now(),
				}
				cfg, err := a.store.FindConfig(ctx, owner.UserID, owner.CharacterID)
				switch {
				case err == nil:
					data.Config = cfg
				case !errors.Is(err, memory.ErrNotFound):
					return err
				}
				if data.Memories, err = a.in.ListMemories(ctx, owner, "", memory.ListOptions{}); err != nil {
					return err
				}
				if archives {
					if data.Archives, err = a.in.ListArchives(ctx, owner, 1000); err != nil {
						return err
					}
				}

				text, err := exp.Export(data)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				if output == "" {
					_, err = fmt.Fprint(cmd.OutOrStdout(), text)
					return err
				}
				if err := os.WriteFile(output, []byte(text), 0o600); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d memories to %s\n", len(data.Memories), output)
				return nil
			})
		},
	}

	o.register(cmd, true)
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format ("+strings.Join(export.ValidFormats(), ", ")+")")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().BoolVar(&archives, "archives", false, "include archived memories")
	return cmd
}
