package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrSnakeDoc/idlereboot/internal/logger"
	"github.com/MrSnakeDoc/idlereboot/internal/maintenance"
)

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec validates a standard five-field cron expression or a descriptor
// such as "@every 1m".
func ParseSpec(spec string) (cron.Schedule, error) {
	s, err := specParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return s, nil
}

// Runner is one maintenance invocation.
type Runner interface {
	Run(ctx context.Context) (maintenance.Report, error)
}

// Status is a snapshot of the watcher.
type Status struct {
	Runs      int                 `json:"runs"`
	Failures  int                 `json:"failures"`
	Running   bool                `json:"running"`
	Last      *maintenance.Report `json:"last,omitempty"`
	LastError string              `json:"last_error,omitempty"`
	NextRun   time.Time           `json:"next_run"`
}

// Watcher re-invokes the runner on a cron schedule and on demand. Runs never
// overlap.
type Watcher struct {
	runner        Runner
	logger        logger.Logger
	cron          *cron.Cron
	spec          string
	manualTrigger chan struct{}
	stopCh        chan struct{}
	wg            sync.WaitGroup
	runMu         sync.Mutex

	mu     sync.RWMutex
	status Status
}

// NewWatcher creates a watcher; cron times are interpreted in loc.
func NewWatcher(runner Runner, spec string, loc *time.Location, log logger.Logger) *Watcher {
	if loc == nil {
		loc = time.Local
	}
	adapter := cronLogger{logger: log}

	return &Watcher{
		runner: runner,
		logger: log,
		spec:   spec,
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		manualTrigger: make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
}

// Start runs once immediately, then on every cron tick and manual trigger
// until Stop is called or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.spec, func() { w.runOnce(ctx, "cron") }); err != nil {
		return fmt.Errorf("invalid watch schedule %q: %w", w.spec, err)
	}

	w.logger.Info("watch mode started", logger.String("schedule", w.spec))
	w.cron.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runOnce(ctx, "startup")
		for {
			select {
			case <-w.manualTrigger:
				w.logger.Info("manual run triggered")
				w.runOnce(ctx, "manual")
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop waits for the running invocation, if any, and stops scheduling.
func (w *Watcher) Stop() {
	<-w.cron.Stop().Done()
	close(w.stopCh)
	w.wg.Wait()
}

// Trigger requests an immediate run. It returns false when one is already
// queued.
func (w *Watcher) Trigger() bool {
	select {
	case w.manualTrigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a copy of the current state.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	st := w.status
	w.mu.RUnlock()

	if entries := w.cron.Entries(); len(entries) > 0 {
		st.NextRun = entries[0].Next
	}
	return st
}

func (w *Watcher) runOnce(ctx context.Context, source string) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	w.setRunning(true)
	rep, err := w.runner.Run(ctx)

	w.mu.Lock()
	w.status.Running = false
	w.status.Runs++
	w.status.Last = &rep
	if err != nil {
		w.status.Failures++
		w.status.LastError = err.Error()
	} else {
		w.status.LastError = ""
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("maintenance run failed",
			logger.String("source", source),
			logger.String("run_id", rep.RunID),
			logger.Error(err))
		return
	}

	w.logger.Info("maintenance run finished",
		logger.String("source", source),
		logger.String("run_id", rep.RunID),
		logger.String("decision", rep.Decision.String()),
		logger.Time("until", rep.Until))
}

func (w *Watcher) setRunning(v bool) {
	w.mu.Lock()
	w.status.Running = v
	w.mu.Unlock()
}

// cronLogger adapts our logger to cron.Logger.
type cronLogger struct {
	logger logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, logger.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, logger.Error(err), logger.Any("details", keysAndValues))
}
