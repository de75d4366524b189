package eventbus

import "time"

// Event types published by the scheduling pipeline.
const (
	TypeExecutionStarted  = "execution.started"
	TypeExecutionFinished = "execution.finished"
	TypeFireQueued        = "fire.queued"
	TypeFireDropped       = "fire.dropped"
	TypeReconciled        = "schedules.reconciled"
)

// ExecutionEvent describes one run of a job body.
type ExecutionEvent struct {
	RecordID string
	JobID    string
	JobName  string
	Trigger  string
	Status   string // empty on started
	Started  time.Time
	Duration time.Duration
	Error    string
}

// FireEvent describes a scheduled fire handed to the worker pool.
type FireEvent struct {
	JobID   string
	JobName string
	FiredAt time.Time
	Reason  string // set on drop
}

// ReconcileEvent is published after every Initialize/Restart.
type ReconcileEvent struct {
	Armed   []string
	Skipped map[string]string // job id -> reason
	Took    time.Duration
}
