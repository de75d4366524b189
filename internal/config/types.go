package config

// Config is the on-disk daemon configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Pool        PoolConfig        `json:"pool,omitempty"`
	History     HistoryConfig     `json:"history,omitempty"`
	ERP         ERPConfig         `json:"erp,omitempty"`
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`

	// ShutdownTimeout bounds the wait for in-flight bodies. Default "30s".
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Format of console output: "console" (default) or "json".
	Format  string      `json:"format,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the job and history store. Changes need a restart.
//
// Example:
//
//	"storage": { "driver": "sqlite", "dsn": "./data/prodsched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`                 // sqlite | postgres
	DSN         string `json:"dsn"`                    // file path or connection string (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the cron coordinator.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA name; empty means local
}

// PoolConfig sizes the worker pool. Changes need a restart.
//
// Defaults: workers 4, queue_size 64.
type PoolConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// HistoryConfig controls execution history retention. Default "2160h".
type HistoryConfig struct {
	Retention string `json:"retention,omitempty"`
}

// ERPConfig points the interchange job bodies at the ERP gateway.
type ERPConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	Token          string `json:"token,omitempty"` // bearer token (do not log)
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// DiagnosticsConfig controls the pprof/metrics/schedules HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
