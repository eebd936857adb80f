package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/config"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	memmcp "github.com/HaeungLee/ai-character-chat-platform-sub000/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var metricsAddr string
	var noSweeps bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory tools over MCP stdio",
		Long: `Start charmem as an MCP server on stdin/stdout.

Alongside the MCP tools it runs the background task queue, resumes
summarization jobs left pending by a previous run, schedules the
maintenance sweeps, exposes Prometheus metrics when an address is set
and reloads the config file when it changes.

Examples:
  charmem serve
  charmem serve --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				a.queue.Start(ctx)
				if n, err := a.pipeline.ResumePending(ctx); err != nil {
					a.logger.Warn("resume pending jobs failed", slog.Any("error", err))
				} else if n > 0 {
					a.logger.Info("resumed pending summarization jobs", slog.Int("count", n))
				}

				if !noSweeps {
					a.sweeps.Start(ctx)
					defer a.sweeps.Stop()
				}

				if metricsAddr == "" {
					metricsAddr = a.cfg.Metrics.Addr
				}
				if metricsAddr != "" {
					go a.serveMetrics(ctx, metricsAddr)
				}

				go func() {
					if err := config.Watch(ctx, a.dataDir, config.DefaultDebounce, a.logger, a.reload); err != nil {
						a.logger.Warn("config watch stopped", slog.Any("error", err))
					}
				}()

				a.logger.Info("charmem serving MCP on stdio",
					slog.String("version", version),
					slog.String("data_dir", a.dataDir),
				)
				err := memmcp.New(a.in, version, a.logger).ServeStdio(ctx, os.Stdin, os.Stdout)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (overrides config)")
	cmd.Flags().BoolVar(&noSweeps, "no-sweeps", false, "do not schedule maintenance sweeps")
	return cmd
}

func (a *app) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("metrics server failed", slog.Any("error", err))
	}
}

// reload applies a changed config. Only the log level takes effect live;
// everything else is wired at startup.
func (a *app) reload(cfg config.Config) {
	a.level.Set(logging.ParseLevel(cfg.Log.Level))
	a.logger.Info("config reloaded", slog.String("log_level", a.level.Level().String()))
	a.cfg.Log = cfg.Log
}
