// Package app wires the scheduler daemon together and owns its lifecycle.
package app

import (
	"context"
	"sync/atomic"
	"time"

	"prodsched/internal/admin"
	"prodsched/internal/config"
	"prodsched/internal/diagnostics"
	"prodsched/internal/eventbus"
	"prodsched/internal/history"
	"prodsched/internal/jobs"
	"prodsched/internal/metrics"
	"prodsched/internal/runtime/supervisor"
	"prodsched/internal/storage"
	"prodsched/internal/task/executor"
	"prodsched/internal/task/pool"
	"prodsched/internal/task/recorder"
	"prodsched/internal/task/registry"
	"prodsched/internal/task/scheduler"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	registry *registry.Registry
	erp      *jobs.ERPClient
	executor *executor.Executor
	pool     *pool.Service
	sched    *scheduler.Service
	history  *history.Service
	admin    *admin.Service
	metrics  *metrics.Collector
	diag     *diagnostics.Service

	retention atomic.Int64
}

// NewApp loads the config file, opens the store and builds every service.
// Nothing runs until Start; one-shot commands use the services directly and
// call Close.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, errors.WithHint(err, "check the config file passed with --config")
	}
	return build(ctx, cfgm, cfg)
}

func build(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogging(cfg))
	a := &App{
		cfgm: cfgm,
		logs: logSvc,
		log:  log.With(logx.Component("app")),
		bus:  eventbus.New(),
	}
	a.retention.Store(int64(cfg.Retention()))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.Component("storage")))
	if err != nil {
		return nil, errors.Wrap(err, "open storage")
	}
	a.store = store
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	erpCfg, err := mapERPConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.erp = jobs.NewERPClient(erpCfg)
	a.history = history.New(store)

	a.registry = registry.New(jobs.Table(jobs.Deps{
		Log:       log.With(logx.Component("jobs")),
		Pruner:    a.history,
		Retention: func() time.Duration { return time.Duration(a.retention.Load()) },
		Ping:      store.Ping,
		ERP:       a.erp,
	}))

	rec := recorder.New(store, log.With(logx.Component("recorder")))
	a.executor = executor.New(store, a.registry, rec, log.With(logx.Component("executor")), a.bus)
	a.pool = pool.New(mapPoolConfig(cfg), log.With(logx.Component("pool")), a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), store, a.pool, a.executor, log.With(logx.Component("scheduler")), a.bus)
	a.executor.SetLocation(a.sched.Location())
	a.admin = admin.New(store, a.registry, a.sched, a.executor, a.history, log.With(logx.Component("admin")))

	a.metrics = metrics.New(log.With(logx.Component("metrics")))
	a.metrics.WatchBus(a.bus)
	dcfg, err := mapDiagnosticsConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.diag = diagnostics.New(dcfg, diagnostics.Sources{
		Metrics:     a.metrics.Handler(),
		Schedules:   a.sched,
		Store:       store,
		Supervisors: a.supervisors,
	}, log)
	return a, nil
}

func (a *App) Admin() *admin.Service             { return a.admin }
func (a *App) History() *history.Service         { return a.history }
func (a *App) Scheduler() *scheduler.Service     { return a.sched }
func (a *App) Registry() *registry.Registry      { return a.registry }
func (a *App) Diagnostics() *diagnostics.Service { return a.diag }
func (a *App) Config() *config.Config            { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger               { return a.log }
func (a *App) Metrics() *metrics.Collector       { return a.metrics }
func (a *App) Executor() *executor.Executor      { return a.executor }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the worker pool, arms the schedules, starts diagnostics
// and begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))

	// Subscribe before any producer starts so the first reconcile is counted.
	events, unsub := a.bus.Subscribe(256, metrics.Events...)
	a.sup.Go0("metrics", func(c context.Context) {
		defer unsub()
		a.metrics.Run(c, events)
	})

	a.pool.Start(a.sup.Context())
	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.abortStart()
		return errors.Wrap(err, "start scheduler")
	}
	a.executor.SetLocation(a.sched.Location())

	if dcfg, err := mapDiagnosticsConfig(a.cfgm.Get()); err == nil {
		a.diag.Reconfigure(a.sup.Context(), dcfg)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("scheduler", a.sched.Running()),
		logx.Int("armed", len(a.sched.Active())),
		logx.Strings("keys", a.registry.Keys()),
	)
	return nil
}

// abortStart unwinds a failed Start. The store stays open for Stop or Close.
func (a *App) abortStart() {
	ctx := context.Background()
	_ = a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	_ = a.step(ctx, "pool", a.cfgm.Get().Shutdown(), a.pool.Stop)
	a.sup.Cancel()
	_ = a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
}

// Reconcile re-reads definitions and re-arms the schedules (SIGHUP).
func (a *App) Reconcile(ctx context.Context) (scheduler.InitReport, error) {
	rep, err := a.sched.Restart(ctx)
	if err != nil {
		a.log.Warn("reconcile failed", logx.Err(err))
		return rep, err
	}
	a.log.Info("reconciled", logx.Strings("armed", rep.Armed), logx.Int("skipped", len(rep.Skipped)))
	return rep, nil
}

// ReopenLogs starts a fresh log file after an external rotation.
func (a *App) ReopenLogs() error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Reopen()
}

func (a *App) supervisors() map[string]supervisor.Snapshot {
	out := map[string]supervisor.Snapshot{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if s := a.pool.Supervisor(); s != nil {
		out["pool"] = s.Snapshot()
	}
	if s := a.diag.Supervisor(); s != nil {
		out["diagnostics"] = s.Snapshot()
	}
	return out
}

// Stop shuts down in dependency order: no new fires, in-flight bodies
// drain, listeners close, then the store.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	_ = a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })

	var g errgroup.Group
	g.Go(func() error {
		return a.step(ctx, "pool", a.cfgm.Get().Shutdown(), a.pool.Stop)
	})
	g.Go(func() error {
		return a.step(ctx, "diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	})
	drainErr := g.Wait()

	a.sup.Cancel()
	_ = a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if err := a.Close(); err != nil {
		return err
	}
	return drainErr
}

// Close releases the store and log sinks. Stop calls it.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. fn must honor its context.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		return errors.Wrapf(stepCtx.Err(), "stop %s", name)
	}
}
