package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"prodsched/internal/config"
	logx "prodsched/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live-reloadable sections into the running
// services. Storage and pool changes only take effect after a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("logging") {
		a.logs.Apply(mapLogging(newCfg))
	}
	if changed("storage") || changed("pool") {
		a.log.Warn("storage/pool config changed; restart required for changes to take effect")
	}

	if changed("scheduler") {
		a.applyScheduler(ctx, newCfg)
	}

	if changed("history") {
		a.retention.Store(int64(newCfg.Retention()))
	}

	if changed("erp") {
		if ec, err := mapERPConfig(newCfg); err != nil {
			a.log.Warn("invalid erp config; keeping previous", logx.Err(err))
		} else {
			a.erp.Apply(ec)
		}
	}

	if changed("diagnostics") {
		if dc, err := mapDiagnosticsConfig(newCfg); err != nil {
			a.log.Warn("invalid diagnostics config; keeping previous", logx.Err(err))
		} else {
			a.diag.Reconfigure(ctx, dc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(ctx context.Context, cfg *config.Config) {
	prevEnabled := a.sched.Enabled()
	sc := mapSchedulerConfig(cfg)

	if prevEnabled && !sc.Enabled {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
		a.log.Info("scheduler disabled via config")
	}
	a.sched.Apply(sc)
	a.executor.SetLocation(a.sched.Location())
	if !prevEnabled && sc.Enabled {
		if err := a.sched.Start(ctx); err != nil {
			a.log.Error("scheduler start after reload failed", logx.Err(err))
			return
		}
		a.log.Info("scheduler enabled via config")
	}
}
