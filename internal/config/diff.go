package config

import (
	"sort"
	"strings"

	logx "prodsched/pkg/logx"
)

// SummarizeConfigChange returns the changed section names plus safe
// structured attrs for logging. Tokens and DSNs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := *oldCfg, *newCfg

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if o.Logging != n.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Logging.Level),
			logx.String("logging.format", n.Logging.Format),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
		)
	}

	if trim(o.Storage.Driver) != trim(n.Storage.Driver) ||
		o.Storage.DSN != n.Storage.DSN ||
		trim(o.Storage.BusyTimeout) != trim(n.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(n.Storage.Driver)),
			logx.Bool("storage.dsn_changed", o.Storage.DSN != n.Storage.DSN),
			logx.Bool("storage.restart_required", true),
		)
	}

	if o.Scheduler.Enabled != n.Scheduler.Enabled || trim(o.Scheduler.Timezone) != trim(n.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", n.Scheduler.Enabled),
			logx.String("scheduler.timezone", trim(n.Scheduler.Timezone)),
		)
	}

	if o.Pool != n.Pool {
		changed = append(changed, "pool")
		attrs = append(attrs,
			logx.Int("pool.workers", n.Pool.Workers),
			logx.Int("pool.queue_size", n.Pool.QueueSize),
			logx.Bool("pool.restart_required", true),
		)
	}

	if trim(o.History.Retention) != trim(n.History.Retention) {
		changed = append(changed, "history")
		attrs = append(attrs, logx.String("history.retention", trim(n.History.Retention)))
	}

	if trim(o.ERP.BaseURL) != trim(n.ERP.BaseURL) ||
		trim(o.ERP.RequestTimeout) != trim(n.ERP.RequestTimeout) ||
		o.ERP.Token != n.ERP.Token {
		changed = append(changed, "erp")
		attrs = append(attrs,
			logx.String("erp.base_url", trim(n.ERP.BaseURL)),
			logx.String("erp.request_timeout", trim(n.ERP.RequestTimeout)),
			logx.Bool("erp.token_set", trim(n.ERP.Token) != ""),
		)
	}

	if o.Diagnostics != n.Diagnostics {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", n.Diagnostics.Enabled),
			logx.String("diagnostics.addr", trim(n.Diagnostics.Addr)),
			logx.Bool("diagnostics.token_set", trim(n.Diagnostics.Token) != ""),
			logx.Bool("diagnostics.allow_insecure", n.Diagnostics.AllowInsecure),
		)
	}

	if trim(o.ShutdownTimeout) != trim(n.ShutdownTimeout) {
		changed = append(changed, "shutdown_timeout")
		attrs = append(attrs, logx.String("shutdown_timeout", trim(n.ShutdownTimeout)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func trim(s string) string { return strings.TrimSpace(s) }
