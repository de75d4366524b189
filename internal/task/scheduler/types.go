package scheduler

import (
	"context"
	"sync"
	"time"

	"prodsched/internal/eventbus"
	"prodsched/internal/storage"
	"prodsched/internal/task/pool"
	"prodsched/internal/task/trigger"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// ErrNotRunning is returned by Initialize and Restart before Start.
var ErrNotRunning = errors.New("scheduler is not running")

// Config controls the scheduler.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Seoul"
}

// Runner executes one scheduled fire of a definition.
type Runner interface {
	RunScheduled(ctx context.Context, def storage.JobDefinition, firedAt time.Time) error
}

// Enqueuer hands fires to workers without blocking.
type Enqueuer interface {
	Enqueue(t pool.Task) error
}

// handle is the runtime-only link between a job id and its cron entry.
type handle struct {
	def     storage.JobDefinition
	trigger trigger.Trigger
	entryID cron.EntryID
	armedAt time.Time
}

type Service struct {
	mu sync.RWMutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	store  storage.JobStore
	pool   Enqueuer
	runner Runner

	c       *cron.Cron
	handles map[string]*handle

	lastReconcile time.Time
	lastSkipped   map[string]string

	// Enqueue warning throttling, keyed by job id.
	warnMu     sync.Mutex
	warnLimits map[string]*rate.Limiter
	suppressed map[string]int
}

// InitReport is the outcome of one reconciliation.
type InitReport struct {
	Armed   []string          // sorted job ids
	Skipped map[string]string // job id -> reason
}

// ScheduleInfo is a read-only copy of one armed handle.
type ScheduleInfo struct {
	JobID    string      `json:"job_id"`
	Name     string      `json:"name"`
	CronExpr string      `json:"cron"`
	ImplKey  string      `json:"impl_key"`
	ArmedAt  time.Time   `json:"armed_at"`
	Next     time.Time   `json:"next"`
	Prev     time.Time   `json:"prev,omitempty"`
	Upcoming []time.Time `json:"upcoming,omitempty"`
}

type Snapshot struct {
	Enabled       bool              `json:"enabled"`
	Running       bool              `json:"running"`
	Timezone      string            `json:"timezone"`
	LastReconcile time.Time         `json:"last_reconcile"`
	Schedules     []ScheduleInfo    `json:"schedules"`
	Skipped       map[string]string `json:"skipped,omitempty"`
	Pool          *pool.Stats       `json:"pool,omitempty"`
}
