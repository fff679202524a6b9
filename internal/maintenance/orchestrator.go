// Package maintenance decides whether the game server may be restarted now.
//
// A run walks through: wait for the window, check the restart stamp, query
// the server, confirm it stays empty for a sustained period, then record the
// stamp and hand the restart to the service manager. Every path that does not
// restart ends with a bounded sleep so an outer scheduler can simply invoke
// the next run.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/idlereboot/internal/a2s"
	"github.com/MrSnakeDoc/idlereboot/internal/ledger"
	"github.com/MrSnakeDoc/idlereboot/internal/logger"
	"github.com/MrSnakeDoc/idlereboot/internal/metrics"
	"github.com/MrSnakeDoc/idlereboot/internal/window"
)

// ErrNoWindow is returned when none of the nearby windows qualifies. It
// cannot happen with a validated schedule.
var ErrNoWindow = errors.New("maintenance: no maintenance window found near now")

// Querier fetches the live server status.
type Querier interface {
	Query(ctx context.Context, addr string) (*a2s.Info, error)
}

// Restarter triggers the actual restart.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Settings are the timing knobs of a run.
type Settings struct {
	Addr         string        // query address, "host:port"
	MaxSleep     time.Duration // cap on any terminal sleep
	EmptyTime    time.Duration // how long the server must stay empty
	PollInterval time.Duration // delay between confirmation queries
	BusyBackoff  time.Duration // sleep after seeing players (0 = PollInterval)

	// SleepBeforeExit makes Run perform the terminal sleep itself. One-shot
	// invocations set it; the in-process scheduler does not.
	SleepBeforeExit bool
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Schedule  *window.Schedule
	Querier   Querier
	Ledger    ledger.Ledger
	Restarter Restarter
	Clock     Clock              // defaults to SystemClock
	Logger    logger.Logger      // defaults to a no-op logger
	Metrics   *metrics.Collector // defaults to a private collector

	// OnReport, when set, is called once the run is decided and before the
	// terminal sleep.
	OnReport func(Report, error)
}

// Orchestrator runs the maintenance state machine.
type Orchestrator struct {
	schedule  *window.Schedule
	querier   Querier
	ledger    ledger.Ledger
	restarter Restarter
	clock     Clock
	logger    logger.Logger
	metrics   *metrics.Collector
	onReport  func(Report, error)
	settings  Settings
}

// New creates an orchestrator.
func New(deps Dependencies, settings Settings) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	if settings.BusyBackoff <= 0 {
		settings.BusyBackoff = settings.PollInterval
	}

	return &Orchestrator{
		schedule:  deps.Schedule,
		querier:   deps.Querier,
		ledger:    deps.Ledger,
		restarter: deps.Restarter,
		clock:     deps.Clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		onReport:  deps.OnReport,
		settings:  settings,
	}
}

// Run performs one invocation. Errors from the query or the ledger abort
// the run; everything else ends in a Report.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	rep := Report{
		RunID:     uuid.NewString(),
		StartedAt: o.clock.Now(),
	}
	log := o.logger.With(logger.String("run_id", rep.RunID))

	err := o.decide(ctx, log, &rep)
	rep.FinishedAt = o.clock.Now()
	if err != nil {
		o.metrics.RecordRunError(rep.FinishedAt)
	} else {
		o.metrics.RecordDecision(rep.Decision.String(), rep.FinishedAt)
	}
	if o.onReport != nil {
		o.onReport(rep, err)
	}
	if err != nil {
		return rep, err
	}

	if o.settings.SleepBeforeExit && rep.Sleep > 0 {
		log.Infof("Sleeping for %d seconds.", int64(rep.Sleep/time.Second))
		if err := o.clock.Sleep(ctx, rep.Sleep); err != nil {
			log.Warn("sleep interrupted", logger.Error(err))
		}
	}

	return rep, nil
}

func (o *Orchestrator) decide(ctx context.Context, log logger.Logger, rep *Report) error {
	now := o.clock.Now()

	w, ok := o.schedule.CurrentOrNext(now)
	if !ok {
		return ErrNoWindow
	}
	rep.Window = w
	o.metrics.SetWindowStart(w.Start)

	if !w.Includes(now) {
		wait := ceilSeconds(w.Start.Sub(now))
		log.Info(fmt.Sprintf("Maintenance window is at %s, in %d seconds.", w.Start.Format(time.RFC3339), int64(wait/time.Second)),
			logger.Time("window_start", w.Start),
			logger.Time("window_stop", w.Stop),
			logger.Duration("wait", wait))
		o.finish(rep, DecisionWaitForWindow, w.Start, wait)
		return nil
	}

	log.Info("Inside maintenance window, proceeding.",
		logger.Time("window_stop", w.Stop),
		logger.Duration("remaining", w.Stop.Sub(now)))

	done, err := o.checkLedger(ctx, log, rep, w, now)
	if err != nil || done {
		return err
	}

	info, err := o.query(ctx, log)
	if err != nil {
		return err
	}
	rep.Server = info
	if !info.Empty() {
		log.Info("Server is not empty.")
		o.finish(rep, DecisionServerBusy, now.Add(o.settings.BusyBackoff), o.settings.BusyBackoff)
		return nil
	}

	now = o.clock.Now()
	deadline := now.Add(o.settings.EmptyTime)
	if !w.Includes(deadline) {
		next, ok := o.schedule.StrictlyNext(now)
		if !ok {
			return ErrNoWindow
		}
		rep.Window = next
		o.metrics.SetWindowStart(next.Start)
		log.Info(fmt.Sprintf("Not enough time left to confirm the server is idle, next window is at %s.", next.Start.Format(time.RFC3339)),
			logger.Time("confirm_deadline", deadline),
			logger.Time("window_stop", w.Stop),
			logger.Duration("wait", next.Start.Sub(now)))
		o.finish(rep, DecisionDeferred, next.Start, next.Start.Sub(now))
		return nil
	}

	busy, err := o.confirmIdle(ctx, log, rep, deadline)
	if err != nil || busy {
		return err
	}

	return o.restart(ctx, log, rep)
}

// checkLedger reports done when a restart already happened inside w.
func (o *Orchestrator) checkLedger(ctx context.Context, log logger.Logger, rep *Report, w window.Window, now time.Time) (bool, error) {
	last, ok, err := o.ledger.LastRestart(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read last restart: %w", err)
	}
	if !ok {
		log.Info("Server has never been restarted.")
		return false, nil
	}

	rep.LastRestart = &last
	o.metrics.SetLastRestart(last)
	ago := now.Sub(last).Truncate(time.Second)
	log.Info(fmt.Sprintf("Last restart was at %s, %d seconds ago.", last.Format(time.RFC3339), int64(ago/time.Second)),
		logger.Time("last_restart", last))

	if !w.Includes(last) {
		return false, nil
	}

	log.Info("Server has already been restarted during the current window.")
	o.finish(rep, DecisionAlreadyDone, w.Stop, w.Stop.Sub(now))
	return true, nil
}

// confirmIdle polls until deadline and reports busy as soon as a player shows up.
func (o *Orchestrator) confirmIdle(ctx context.Context, log logger.Logger, rep *Report, deadline time.Time) (bool, error) {
	log.Info(fmt.Sprintf("Waiting for server to be empty for %d seconds.", int64(o.settings.EmptyTime/time.Second)),
		logger.Time("confirm_deadline", deadline),
		logger.Duration("poll_interval", o.settings.PollInterval))

	for o.clock.Now().Before(deadline) {
		if err := o.clock.Sleep(ctx, o.settings.PollInterval); err != nil {
			return false, fmt.Errorf("idle confirmation interrupted: %w", err)
		}

		info, err := o.query(ctx, log)
		if err != nil {
			return false, err
		}
		rep.Server = info
		rep.Polls++

		now := o.clock.Now()
		if !info.Empty() {
			log.Info("Server is no longer empty.", logger.Int("polls", rep.Polls))
			o.finish(rep, DecisionServerBusy, now.Add(o.settings.BusyBackoff), o.settings.BusyBackoff)
			return true, nil
		}
		if remaining := deadline.Sub(now); remaining > 0 {
			log.Debug("server still empty", logger.Duration("remaining", remaining))
		}
	}

	return false, nil
}

// restart records the stamp first, then fires the restart command. A failed
// command is reported but the stamp stays.
func (o *Orchestrator) restart(ctx context.Context, log logger.Logger, rep *Report) error {
	at := o.clock.Now()
	log.Info("Proceeding with restart.")

	if err := o.ledger.RecordRestart(ctx, at); err != nil {
		return fmt.Errorf("failed to record restart: %w", err)
	}
	rep.LastRestart = &at
	o.metrics.SetLastRestart(at)

	if err := o.restarter.Restart(ctx); err != nil {
		rep.RestartErr = err.Error()
		o.metrics.RecordRestartFailure()
		log.Error("restart command failed", logger.Error(err))
	}

	o.finish(rep, DecisionRestarted, at, 0)
	return nil
}

func (o *Orchestrator) query(ctx context.Context, log logger.Logger) (*a2s.Info, error) {
	start := time.Now()
	info, err := o.querier.Query(ctx, o.settings.Addr)
	took := time.Since(start)

	if err != nil {
		o.metrics.RecordQuery(queryResult(err), took)
		return nil, fmt.Errorf("failed to query %s: %w", o.settings.Addr, err)
	}

	o.metrics.RecordQuery(metrics.QueryOK, took)
	o.metrics.SetServerStatus(info.Players, info.MaxPlayers, info.Bots)
	log.Info(fmt.Sprintf("Number of players: %d / %d", info.Players, info.MaxPlayers),
		logger.String("server", info.Name),
		logger.String("map", info.Map),
		logger.Uint8("bots", info.Bots),
		logger.Duration("took", took))

	return info, nil
}

func (o *Orchestrator) finish(rep *Report, d Decision, until time.Time, wait time.Duration) {
	rep.Decision = d
	rep.Until = until
	rep.Sleep = o.capSleep(wait)
	rep.WakeAt = o.clock.Now().Add(rep.Sleep)
}

func (o *Orchestrator) capSleep(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if o.settings.MaxSleep > 0 && d > o.settings.MaxSleep {
		return o.settings.MaxSleep
	}
	return d
}

func queryResult(err error) string {
	switch {
	case errors.Is(err, a2s.ErrTimeout):
		return metrics.QueryTimeout
	case errors.Is(err, a2s.ErrMalformed):
		return metrics.QueryMalformed
	default:
		return metrics.QueryError
	}
}

// ceilSeconds rounds a positive duration up to a whole second.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1) / time.Second * time.Second
}
