// Package app wires config, logging, storage, the event bus, the emitter, and
// the reminder engine into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskpulse/internal/config"
	"taskpulse/internal/eventbus"
	"taskpulse/internal/notify"
	"taskpulse/internal/runtime/supervisor"
	"taskpulse/internal/scheduler"
	"taskpulse/internal/storage"
	"taskpulse/internal/tasks"
	logx "taskpulse/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	bus   eventbus.Bus

	emitter *notify.Service
	sched   *scheduler.Service
	tasks   *tasks.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()

	emitter := notify.New(mapNotifierConfig(cfg), store, bus,
		log.With(logx.String("comp", "emitter")))

	sched := scheduler.New(mapSchedulerConfig(cfg), store, emitter,
		log.With(logx.String("comp", "scheduler")))

	taskSvc := tasks.New(store, sched, log.With(logx.String("comp", "tasks")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		bus:     bus,
		emitter: emitter,
		sched:   sched,
		tasks:   taskSvc,
	}, nil
}

// Tasks is the write path for tasks and settings.
func (a *App) Tasks() *tasks.Service { return a.tasks }

// Store exposes the read path (notification listing, unread counts).
func (a *App) Store() storage.Store { return a.store }

// Bus is the realtime channel clients subscribe to for pushes.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Scheduler exposes engine diagnostics.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the run context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish so a bad
	// edit never reaches the services.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.emitter.Start(a.sup.Context())
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	a.emitter.Apply(mapNotifierConfig(newCfg))

	prevEnabled := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(newCfg))
	if prevEnabled && !newCfg.Scheduler.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && newCfg.Scheduler.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		fn(stepCtx)
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 2*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("emitter", 2*time.Second, func(c context.Context) { a.emitter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	if err := a.logs.Close(); err != nil {
		a.log.Warn("log close failed", logx.Err(err))
	}

	a.log.Info("stopped")
	return nil
}

// validate rejects configs that would break a hot reload.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if n := cfg.Notifier; n != nil {
		if n.QueueSize < 0 {
			return fmt.Errorf("notifier.queue_size must be >= 0")
		}
		if n.RatePerSec < 0 {
			return fmt.Errorf("notifier.rate_per_sec must be >= 0")
		}
	}
	return scheduler.ValidateConfig(mapSchedulerConfig(cfg))
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       cfg.Scheduler.Timezone,
		OverdueAt:      cfg.Scheduler.OverdueAt,
		DigestAt:       cfg.Scheduler.DigestAt,
		OverduePreview: cfg.Scheduler.OverduePreview,
	}
}

func mapNotifierConfig(cfg *config.Config) notify.Config {
	if cfg.Notifier == nil {
		// Omitted section means the push pipeline runs with defaults.
		return notify.Config{Enabled: true}
	}
	return notify.Config{
		Enabled:    cfg.Notifier.Enabled,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}
