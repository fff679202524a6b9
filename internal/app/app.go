package app

import (
	"context"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/idlereboot/internal/a2s"
	"github.com/MrSnakeDoc/idlereboot/internal/config"
	"github.com/MrSnakeDoc/idlereboot/internal/httpserver"
	"github.com/MrSnakeDoc/idlereboot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/idlereboot/internal/ledger"
	"github.com/MrSnakeDoc/idlereboot/internal/logger"
	"github.com/MrSnakeDoc/idlereboot/internal/maintenance"
	"github.com/MrSnakeDoc/idlereboot/internal/metrics"
	"github.com/MrSnakeDoc/idlereboot/internal/redis"
	"github.com/MrSnakeDoc/idlereboot/internal/restarter"
	"github.com/MrSnakeDoc/idlereboot/internal/scheduler"
	"github.com/MrSnakeDoc/idlereboot/internal/utils"
	"github.com/MrSnakeDoc/idlereboot/internal/version"
	"github.com/MrSnakeDoc/idlereboot/internal/window"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	metrics     *metrics.Collector
	schedule    *window.Schedule
	querier     *a2s.Client
	ledger      ledger.Ledger
	restarter   *restarter.Command
	redisClient *goredis.Client
	clock       maintenance.Clock
}

// New wires every component from cfg. The redis backend is connected here so
// a misconfiguration fails before any query is sent.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	sched, err := cfg.Schedule()
	if err != nil {
		return nil, fmt.Errorf("invalid window: %w", err)
	}

	restart, err := restarter.NewCommand(cfg.Restart.Command, cfg.Restart.Timeout, log)
	if err != nil {
		return nil, fmt.Errorf("invalid restart command: %w", err)
	}

	a := &App{
		cfg:       cfg,
		logger:    log,
		metrics:   metrics.NewCollector(),
		schedule:  sched,
		querier:   a2s.NewClient(cfg.Timing.QueryTimeout),
		restarter: restart,
		clock:     maintenance.SystemClock{},
	}

	switch cfg.Ledger.Backend {
	case config.LedgerRedis:
		client, err := redis.Connect(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		a.redisClient = client
		a.ledger = ledger.NewRedisLedger(client, cfg.Ledger.Service)
		log.Debug("using redis restart ledger",
			logger.String("key", ledger.LastRestartKey(cfg.Ledger.Service)))
	default:
		a.ledger = ledger.NewFileLedger(cfg.Ledger.StampFile)
		log.Debug("using file restart ledger", logger.String("path", cfg.Ledger.StampFile))
	}

	if cfg.Log.Level == "debug" {
		log.Debug("configuration loaded", logger.Any("config", cfg.Redacted()))
	}

	return a, nil
}

// Close releases the redis connection, if any.
func (a *App) Close() {
	if a.redisClient != nil {
		utils.CloseLogged(a.redisClient, "redis", a.logger)
	}
}

// Metrics returns the collector shared by every run.
func (a *App) Metrics() *metrics.Collector { return a.metrics }

// Schedule returns the maintenance window schedule.
func (a *App) Schedule() *window.Schedule { return a.schedule }

func (a *App) orchestrator(sleepBeforeExit bool, onReport func(maintenance.Report, error)) *maintenance.Orchestrator {
	return maintenance.New(maintenance.Dependencies{
		Schedule:  a.schedule,
		Querier:   a.querier,
		Ledger:    a.ledger,
		Restarter: a.restarter,
		Clock:     a.clock,
		Logger:    a.logger,
		Metrics:   a.metrics,
		OnReport:  onReport,
	}, maintenance.Settings{
		Addr:            a.cfg.ServerAddr(),
		MaxSleep:        a.cfg.Timing.MaxSleep,
		EmptyTime:       a.cfg.Timing.EmptyTime,
		PollInterval:    a.cfg.Timing.PollInterval,
		BusyBackoff:     a.cfg.Timing.BusyBackoff,
		SleepBeforeExit: sleepBeforeExit,
	})
}

// RunOnce performs one maintenance invocation including the terminal sleep,
// so an external supervisor can simply start the next one when it exits.
func (a *App) RunOnce(ctx context.Context) (maintenance.Report, error) {
	return a.orchestrator(true, a.writeTextfile).Run(ctx)
}

func (a *App) writeTextfile(maintenance.Report, error) {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("failed to write metrics textfile",
			logger.String("path", a.cfg.Metrics.Textfile),
			logger.Error(err))
	}
}

// Query sends a single status query to the game server.
func (a *App) Query(ctx context.Context) (*a2s.Info, error) {
	start := time.Now()
	info, err := a.querier.Query(ctx, a.cfg.ServerAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", a.cfg.ServerAddr(), err)
	}
	a.logger.Debug("query answered", logger.Duration("took", time.Since(start)))
	return info, nil
}

// WindowReport describes the windows around an instant.
type WindowReport struct {
	Now      time.Time
	Nearby   [3]window.Window
	Current  *window.Window
	Next     window.Window
	Location *time.Location
}

// Windows computes the window report for now.
func (a *App) Windows(now time.Time) WindowReport {
	return NewWindowReport(a.schedule, now)
}

// NewWindowReport describes the windows of s around now.
func NewWindowReport(s *window.Schedule, now time.Time) WindowReport {
	rep := WindowReport{
		Now:      now.In(s.Location()),
		Nearby:   s.Nearby(now),
		Location: s.Location(),
	}
	if w, ok := s.CurrentOrNext(now); ok && w.Includes(now) {
		rep.Current = &w
	}
	if w, ok := s.StrictlyNext(now); ok {
		rep.Next = w
	}
	return rep
}

// Watch runs the orchestrator on the configured cron schedule, and serves
// the status endpoints when a listen address is configured, until ctx is
// done.
func (a *App) Watch(ctx context.Context) error {
	a.logger.Infof("idlereboot %s", version.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch := a.orchestrator(false, a.writeTextfile)
	watcher := scheduler.NewWatcher(orch, a.cfg.Watch.Schedule, a.schedule.Location(), a.logger)

	var server *httpserver.Server
	var ln net.Listener
	if a.cfg.Watch.StatusListen != "" {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Watch.StatusListen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.Watch.StatusListen, err)
		}
		server = httpserver.New(a.cfg.Watch.StatusListen, a.logger, deps.Deps{
			Logger:       a.logger,
			StartTime:    time.Now(),
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
			GoVersion:    version.GoVersion,
			TimeNow:      time.Now,
			AllowedCIDRS: a.cfg.Watch.AllowedCIDRS,
			TrustProxy:   a.cfg.Watch.TrustProxy,
			ServerAddr:   a.cfg.ServerAddr(),
			Schedule:     a.schedule,
			Watcher:      watcher,
			Ready:        a.ready,
			Metrics:      a.metrics.Handler(),
		})
	}

	if err := watcher.Start(ctx); err != nil {
		if ln != nil {
			utils.Close(ln)
		}
		return err
	}

	errCh := make(chan error, 1)
	if server != nil {
		go func() {
			if err := server.Serve(ln); err != nil {
				errCh <- fmt.Errorf("status server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errCh:
	}

	cancel()
	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.Watch.ShutdownTimeout)
		defer stop()
		if err := server.Stop(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("failed to stop status server: %w", err)
		}
	}
	watcher.Stop()

	a.logger.Info("watch mode stopped")
	return runErr
}

// ready checks that the restart ledger can be read.
func (a *App) ready(ctx context.Context) error {
	_, _, err := a.ledger.LastRestart(ctx)
	return err
}
