package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/memory"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/scheduler"
)

func newSweepCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "sweep [name]",
		Short: "Run maintenance sweeps now",
		Long: `Run one maintenance sweep, or all of them in order, without waiting
for their schedule.

Sweeps:
  inactive_cleanup   archive every memory of pairs idle past the inactivity window
  tiered_expiry      soft-expire memories by importance tier and idle time
  purge_expired      delete memories whose grace period has passed
  archive_purge      drop archives whose restore window has lapsed
  stale_jobs         fail summarization jobs stuck in PROCESSING
  embedding_cache    drop expired cached embeddings

Examples:
  charmem sweep
  charmem sweep tiered_expiry`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if list {
					for _, name := range a.sweeps.Names() {
						fmt.Fprintln(out, name)
					}
					return nil
				}
				if len(args) == 1 {
					r, err := a.sweeps.RunNow(ctx, args[0])
					printSweep(out, r)
					return err
				}
				failed := 0
				for _, r := range a.sweeps.RunAll(ctx) {
					printSweep(out, r)
					if r.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d sweep(s) failed", failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list sweep names")
	return cmd
}

func printSweep(w io.Writer, r scheduler.Result) {
	if r.Name == "" {
		return
	}
	status := "ok"
	if r.Err != nil {
		status = "error: " + r.Err.Error()
	}
	fmt.Fprintf(w, "  %-18s %5d  %-8s %s\n", r.Name, r.Count, r.Duration.Round(time.Millisecond), status)
}

func newBackfillCmd() *cobra.Command {
	var user string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed memories that have no stored vector",
		Long: `Find memories without an embedding (for example after the embedding
provider was down, or after switching the vector backend) and embed them.

Examples:
  charmem backfill
  charmem backfill --user u1 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				configs, err := a.store.ListConfigs(ctx, user)
				if err != nil {
					return err
				}
				var missing []memory.Record
				for _, cfg := range configs {
					recs, err := a.store.ForConfig(ctx, cfg.ID)
					if err != nil {
						return err
					}
					m, err := a.index.Missing(ctx, recs)
					if err != nil {
						return fmt.Errorf("check embeddings: %w", err)
					}
					missing = append(missing, m...)
				}

				if len(missing) == 0 {
					fmt.Fprintln(out, "Every memory has an embedding.")
					return nil
				}
				if dryRun {
					fmt.Fprintf(out, "%d memories across %d configs need embedding.\n", len(missing), len(configs))
					return nil
				}

				var progress func()
				if term.IsTerminal(int(os.Stderr.Fd())) {
					bar := progressbar.NewOptions(len(missing),
						progressbar.OptionSetDescription("  Embedding memories"),
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionShowCount(),
						progressbar.OptionClearOnFinish(),
					)
					defer func() { _ = bar.Finish() }()
					progress = func() { _ = bar.Add(1) }
				}

				saved, failed := a.index.Backfill(ctx, missing, progress)
				fmt.Fprintf(out, "Embedded %d memories", saved)
				if failed > 0 {
					fmt.Fprintf(out, " (%d failed, see log)", failed)
				}
				fmt.Fprintln(out, ".")
				return ctx.Err()
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "only this user's memories")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count without embedding")
	return cmd
}
