// Package app wires config, logging, storage, and the services into the
// foremand daemon.
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"foreman/internal/config"
	"foreman/internal/eventbus"
	"foreman/internal/notify"
	"foreman/internal/schedule"
	"foreman/internal/storage"
	"foreman/pkg/logx"
)

// tickBudget bounds one whole materializer pass; individual schedules get
// their own shorter timeout inside the service.
const tickBudget = 10 * time.Minute

type App struct {
	log      logx.Logger
	logClose func() error

	bus   eventbus.Bus
	store storage.Store

	sched      *schedule.Service
	dispatcher *notify.Dispatcher

	cron     *cron.Cron
	tickSpec string
}

// New loads config and builds the full service graph. Sender is the outbound
// notification delivery; nil means log-only.
func New(ctx context.Context, cfgPath string, sender notify.Sender) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, logClose := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logClose()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", cfg.Storage.Driver))

	bus := eventbus.New()

	dispatcher := notify.New(notify.Config{
		RatePerSec: cfg.Notifier.RatePerSec,
	}, store, sender, bus, log.With(logx.String("comp", "notify")))

	perSchedule, err := config.ParseDurationOrDefault("scheduler.per_schedule_timeout", cfg.Scheduler.PerScheduleTimeout, 30*time.Second)
	if err != nil {
		_ = store.Close()
		_ = logClose()
		return nil, err
	}
	followUp, err := config.ParseDurationOrDefault("scheduler.follow_up_window", cfg.Scheduler.FollowUpWindow, 7*24*time.Hour)
	if err != nil {
		_ = store.Close()
		_ = logClose()
		return nil, err
	}
	sched := schedule.New(schedule.Config{
		Workers:            cfg.Scheduler.Workers,
		PerScheduleTimeout: perSchedule,
		FollowUpWindow:     followUp,
	}, store, dispatcher, bus, log.With(logx.String("comp", "schedule")))

	return &App{
		log:        log,
		logClose:   logClose,
		bus:        bus,
		store:      store,
		sched:      sched,
		dispatcher: dispatcher,
		tickSpec:   cfg.Scheduler.TickSpec,
	}, nil
}

// Schedules exposes the lifecycle and materializer operations.
func (a *App) Schedules() *schedule.Service { return a.sched }

// Store exposes the durable boundary (used by the surrounding CRUD layer).
func (a *App) Store() storage.Store { return a.store }

// Bus exposes the event stream for observers.
func (a *App) Bus() eventbus.Bus { return a.bus }

// RunOnce executes a single materializer tick at the current time.
func (a *App) RunOnce(ctx context.Context) ([]schedule.Result, error) {
	tickCtx, cancel := context.WithTimeout(ctx, tickBudget)
	defer cancel()
	return a.sched.RunDue(tickCtx, time.Now())
}

// Start registers the cron tick and begins running it.
func (a *App) Start(ctx context.Context) error {
	// Overlapping ticks are safe (conditional advance), but pointless work;
	// skip a tick while the previous one is still in flight.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.tickSpec, func() {
		if _, err := a.RunOnce(ctx); err != nil {
			a.log.Error("tick failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}
	a.cron = c
	c.Start()
	a.log.Info("materializer started", logx.String("tick_spec", a.tickSpec))
	return nil
}

// Stop halts the trigger and releases resources.
func (a *App) Stop(ctx context.Context) error {
	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		a.cron = nil
	}
	err := a.store.Close()
	a.log.Info("stopped")
	if a.logClose != nil {
		_ = a.logClose()
	}
	return err
}
