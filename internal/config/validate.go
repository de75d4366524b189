package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	DefaultWorkers         = 4
	DefaultQueueSize       = 64
	DefaultRetention       = 90 * 24 * time.Hour
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks the fields that would otherwise fail late: driver names,
// durations, the timezone and the ERP URL.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.Wrap(ErrInvalidConfig, "config is nil")
	}
	var problems []string
	add := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, "logging.format must be console or json")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			problems = append(problems, "storage.dsn is required")
		}
	case "", "none":
		problems = append(problems, "storage.driver is required (sqlite or postgres)")
	default:
		problems = append(problems, "storage.driver: unknown driver "+cfg.Storage.Driver)
	}
	_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(errors.Wrapf(err, "scheduler.timezone %q", tz))
		}
	}

	if cfg.Pool.Workers < 0 || cfg.Pool.QueueSize < 0 {
		problems = append(problems, "pool.workers and pool.queue_size must be >= 0")
	}

	_, err = ParseDurationField("history.retention", cfg.History.Retention)
	add(err)
	_, err = ParseDurationField("erp.request_timeout", cfg.ERP.RequestTimeout)
	add(err)
	if raw := strings.TrimSpace(cfg.ERP.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, "erp.base_url must be an absolute URL")
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"diagnostics.read_timeout", cfg.Diagnostics.ReadTimeout},
		{"diagnostics.write_timeout", cfg.Diagnostics.WriteTimeout},
		{"diagnostics.idle_timeout", cfg.Diagnostics.IdleTimeout},
		{"shutdown_timeout", cfg.ShutdownTimeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
}

// Retention returns history.retention or the default.
func (c *Config) Retention() time.Duration {
	d, err := ParseDurationOrDefault("history.retention", c.History.Retention, DefaultRetention)
	if err != nil {
		return DefaultRetention
	}
	return d
}

// Shutdown returns shutdown_timeout or the default.
func (c *Config) Shutdown() time.Duration {
	d, err := ParseDurationOrDefault("shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return DefaultShutdownTimeout
	}
	return d
}
