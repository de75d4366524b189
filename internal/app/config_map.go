package app

import (
	"strings"
	"time"

	"prodsched/internal/config"
	"prodsched/internal/diagnostics"
	"prodsched/internal/jobs"
	"prodsched/internal/storage"
	"prodsched/internal/task/pool"
	"prodsched/internal/task/scheduler"
	logx "prodsched/pkg/logx"
)

const defaultSQLiteBusy = 5 * time.Second

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultSQLiteBusy)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

func mapPoolConfig(cfg *config.Config) pool.Config {
	return pool.Config{Workers: cfg.Pool.Workers, QueueSize: cfg.Pool.QueueSize}
}

func mapERPConfig(cfg *config.Config) (jobs.ERPConfig, error) {
	timeout, err := config.ParseDurationOrDefault("erp.request_timeout", cfg.ERP.RequestTimeout, config.DefaultRequestTimeout)
	if err != nil {
		return jobs.ERPConfig{}, err
	}
	return jobs.ERPConfig{BaseURL: cfg.ERP.BaseURL, Token: cfg.ERP.Token, RequestTimeout: timeout}, nil
}

func mapDiagnosticsConfig(cfg *config.Config) (diagnostics.Config, error) {
	d := cfg.Diagnostics
	out := diagnostics.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("diagnostics.read_timeout", d.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	// 0 keeps /debug/pprof/profile usable past 30s.
	if out.WriteTimeout, err = config.ParseDurationField("diagnostics.write_timeout", d.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("diagnostics.idle_timeout", d.IdleTimeout, time.Minute); err != nil {
		return out, err
	}
	return out, nil
}
