package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrDisabled = errors.New("storage: disabled")
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: already exists")
	// ErrNotRunning is returned when completing a record that is absent or
	// already terminal.
	ErrNotRunning = errors.New("storage: execution record is not running")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (DSN is a path or ":memory:")
//   - "postgres": PostgreSQL connection string
//
// If Driver is empty or "none", Open returns ErrDisabled.
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// JobDefinition is a persisted recurring task.
type JobDefinition struct {
	ID          string
	Name        string
	Description string
	CronExpr    string
	ImplKey     string
	Enabled     bool
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether s is SUCCESS or FAILED.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s == StatusRunning || s.Terminal() }

// TriggerSource tells scheduled fires apart from operator requests.
type TriggerSource string

const (
	TriggerScheduled TriggerSource = "SCHEDULED"
	TriggerManual    TriggerSource = "MANUAL"
)

func (t TriggerSource) Valid() bool { return t == TriggerScheduled || t == TriggerManual }

// ExecutionRecord is one run of a job. JobID is not a foreign key; the row
// outlives a deleted definition.
type ExecutionRecord struct {
	ID           string
	JobID        string
	JobName      string
	Trigger      TriggerSource
	Status       Status
	StartedAt    time.Time
	EndedAt      *time.Time // nil while RUNNING
	DurationMs   int64
	ErrorSummary string
	ErrorDetail  string
	RetryCount   int
}

// Completion is the terminal transition applied to a RUNNING record.
type Completion struct {
	Status       Status
	EndedAt      time.Time
	DurationMs   int64
	ErrorSummary string
	ErrorDetail  string
}

// ExecutionFilter narrows ListExecutions. Zero values do not filter.
type ExecutionFilter struct {
	JobID   string
	Status  Status
	Trigger TriggerSource
	Since   time.Time // started_at >= Since
	Until   time.Time // started_at < Until
	Limit   int
	Offset  int
}
