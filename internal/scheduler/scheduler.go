// Package scheduler runs the periodic maintenance sweeps on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/metrics"
)

// ErrUnknownSweep is returned by RunNow for a name that was never added.
var ErrUnknownSweep = errors.New("scheduler: unknown sweep")

// Sweep is one named maintenance run. Run reports how many items it touched.
type Sweep struct {
	Name string
	// Spec is a five-field cron expression or a descriptor like "@hourly".
	// An empty Spec registers the sweep for RunNow only.
	Spec string
	Run  func(ctx context.Context) (int, error)
}

// Result is the outcome of one sweep run.
type Result struct {
	Name     string
	Count    int
	Err      error
	Duration time.Duration
}

// Scheduler owns a cron instance and the sweeps registered on it.
type Scheduler struct {
	mu      sync.Mutex
	cron    *rcron.Cron
	sweeps  []Sweep
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Scheduler. A sweep still running when its next tick fires
// is skipped for that tick.
func New(logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	logger = logging.OrDefault(logger).With(slog.String("component", "scheduler"))
	cl := cronLogger{logger}
	return &Scheduler{
		cron:    rcron.New(rcron.WithLogger(cl), rcron.WithChain(rcron.Recover(cl), rcron.SkipIfStillRunning(cl))),
		ctx:     context.Background(),
		logger:  logger,
		metrics: m,
	}
}

// Add registers sw. Adding after Start is allowed.
func (s *Scheduler) Add(sw Sweep) error {
	if sw.Name == "" || sw.Run == nil {
		return fmt.Errorf("scheduler: sweep needs a name and a Run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sw.Spec != "" {
		if _, err := s.cron.AddFunc(sw.Spec, func() { s.run(s.runContext(), sw) }); err != nil {
			return fmt.Errorf("scheduler: sweep %s: bad spec %q: %w", sw.Name, sw.Spec, err)
		}
	}
	s.sweeps = append(s.sweeps, sw)
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Start begins firing scheduled sweeps. They run with a context derived
// from ctx, cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	n := len(s.cron.Entries())
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("sweeps", n))
}

// Stop cancels running sweeps and waits up to 5s for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("stop timeout waiting for running sweeps")
	}
	s.logger.Info("scheduler stopped")
}

// Names lists the registered sweeps in order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.sweeps))
	for _, sw := range s.sweeps {
		names = append(names, sw.Name)
	}
	return names
}

// RunNow runs the named sweep synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Result, error) {
	s.mu.Lock()
	var found *Sweep
	for i := range s.sweeps {
		if s.sweeps[i].Name == name {
			found = &s.sweeps[i]
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSweep, name)
	}
	r := s.run(ctx, *found)
	return r, r.Err
}

// RunAll runs every registered sweep once, in order. A failing sweep does
// not stop the rest.
func (s *Scheduler) RunAll(ctx context.Context) []Result {
	s.mu.Lock()
	sweeps := append([]Sweep(nil), s.sweeps...)
	s.mu.Unlock()

	results := make([]Result, 0, len(sweeps))
	for _, sw := range sweeps {
		results = append(results, s.run(ctx, sw))
	}
	return results
}

func (s *Scheduler) run(ctx context.Context, sw Sweep) Result {
	start := time.Now()
	n, err := sw.Run(ctx)
	r := Result{Name: sw.Name, Count: n, Err: err, Duration: time.Since(start)}
	s.metrics.Sweep(sw.Name, err)

	log := s.logger.With(slog.String("sweep", sw.Name), slog.Duration("took", r.Duration))
	if err != nil {
		log.Warn("sweep failed", slog.Int("count", n), slog.Any("error", err))
	} else {
		log.Info("sweep done", slog.Int("count", n))
	}
	return r
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
