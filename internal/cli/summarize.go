package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/summarize"
)

func newUsageCmd() *cobra.Command {
	var o ownerFlags
	var chatID, model string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show context window usage of a chat, and memory capacity",
		Long: `Report how much of the chat model's context window a chat's
unsummarized messages use. With --user and --character, also show the
memory capacity of that pair.

Examples:
  charmem usage --chat chat-42
  charmem usage --chat chat-42 --model gpt-4o --user u1 --character luna`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == "" && (o.user == "" || o.character == "") {
				return fmt.Errorf("pass --chat, or --user with --character")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if chatID != "" {
					u, err := a.in.CheckContextUsage(ctx, chatID, model)
					if err != nil {
						return err
					}
					printUsage(out, u)
				}
				if o.user != "" && o.character != "" {
					cfg, err := a.in.GetConfig(ctx, o.user, o.character)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Memories:       %d / %d\n", cfg.TotalMemories, cfg.MaxMemories)
					fmt.Fprintf(out, "Last usage:     %.0f%%", cfg.ContextUsagePercent)
					if cfg.LastContextCheck != nil {
						fmt.Fprintf(out, " (checked %s)", cfg.LastContextCheck.Format("2006-01-02 15:04"))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&o.user, "user", "", "owning user id")
	cmd.Flags().StringVar(&o.character, "character", "", "character id")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	cmd.Flags().StringVar(&model, "model", "", "chat model (default from config)")
	return cmd
}

func printUsage(w io.Writer, u summarize.Usage) {
	fmt.Fprintf(w, "Chat:           %s\n", u.ChatID)
	fmt.Fprintf(w, "Model:          %s (%d tokens)\n", u.Model, u.ModelLimit)
	fmt.Fprintf(w, "Unsummarized:   %d messages, %d tokens\n", u.Unsummarized, u.CurrentTokens)
	fmt.Fprintf(w, "Usage:          %.1f%%\n", u.Ratio*100)
	if u.ShouldSummarize {
		fmt.Fprintln(w, "Summarization is due.")
	}
}

func newSummarizeCmd() *cobra.Command {
	var o ownerFlags
	var chatID, jobID string

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Compress the oldest half of a chat into memories now",
		Long: `Create a summarization job for a chat and run it to completion.
The oldest half of the unsummarized messages is extracted into episodic,
semantic and emotional memories and marked summarized.

With --job, print the state of an existing job instead.

Examples:
  charmem summarize --user u1 --character luna --chat chat-42
  charmem summarize --job 5f0c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" && (o.user == "" || o.character == "" || chatID == "") {
				return fmt.Errorf("pass --user, --character and --chat, or --job")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if jobID != "" {
					job, err := a.in.GetJob(ctx, jobID)
					if err != nil {
						return err
					}
					printJob(out, job)
					return nil
				}

				job, err := a.in.TriggerSummarization(ctx, chatID, o.user, o.character)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Created job %s over %d messages.\n", job.ID, job.MessageCount)
				// The queue is not running in a one-shot command; process inline.
				job, err = a.pipeline.ProcessSummarizationJob(ctx, job.ID)
				if job != nil {
					printJob(out, job)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&o.user, "user", "", "owning user id")
	cmd.Flags().StringVar(&o.character, "character", "", "character id")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id")
	cmd.Flags().StringVar(&jobID, "job", "", "show this job instead of starting one")
	return cmd
}

func printJob(w io.Writer, job *summarize.Job) {
	fmt.Fprintf(w, "Job %s: %s\n", job.ID, job.Status)
	fmt.Fprintf(w, "  chat %s, %d messages\n", job.ChatID, job.MessageCount)
	if r := job.Result; r != nil {
		fmt.Fprintf(w, "  created %d memories", len(r.MemoryIDs))
		if r.ArchiveID != "" {
			fmt.Fprintf(w, ", batch archived as %s", r.ArchiveID)
		}
		fmt.Fprintln(w)
	}
	if job.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", job.Error)
	}
}
