// Package executor is the single path every execution takes, scheduled or
// manual: begin a record, resolve and invoke the body, complete the record.
package executor

import (
	"context"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"prodsched/internal/eventbus"
	"prodsched/internal/storage"
	"prodsched/internal/task/recorder"
	"prodsched/internal/task/registry"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// DateLayout is the civil date format of From/To parameters.
const DateLayout = "2006-01-02"

// Target identifies what to run.
type Target struct {
	JobID   string
	JobName string
	ImplKey string
	Trigger storage.TriggerSource
}

// TargetOf snapshots a definition at fire time.
func TargetOf(def storage.JobDefinition, trigger storage.TriggerSource) Target {
	return Target{JobID: def.ID, JobName: def.Name, ImplKey: def.ImplKey, Trigger: trigger}
}

type Executor struct {
	jobs     storage.JobStore
	registry *registry.Registry
	recorder *recorder.Recorder
	log      logx.Logger
	bus      eventbus.Bus
	loc      atomic.Pointer[time.Location]
}

func New(jobs storage.JobStore, reg *registry.Registry, rec *recorder.Recorder, log logx.Logger, bus eventbus.Bus) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	e := &Executor{jobs: jobs, registry: reg, recorder: rec, log: log, bus: bus}
	e.loc.Store(time.Local)
	return e
}

// SetLocation sets the zone used for default dates.
func (e *Executor) SetLocation(loc *time.Location) {
	if loc != nil {
		e.loc.Store(loc)
	}
}

func (e *Executor) Location() *time.Location { return e.loc.Load() }

// Run executes t once and returns the body's error. Exactly one record
// leaves RUNNING per call, unless its insert failed.
func (e *Executor) Run(ctx context.Context, t Target, p registry.Params) error {
	if p.JobID == "" {
		p.JobID = t.JobID
	}
	if p.JobName == "" {
		p.JobName = t.JobName
	}
	p.Manual = t.Trigger == storage.TriggerManual

	recordID, started := e.recorder.Begin(ctx, t.JobID, t.JobName, t.Trigger)
	eventbus.Publish(e.bus, eventbus.TypeExecutionStarted, eventbus.ExecutionEvent{
		RecordID: recordID, JobID: t.JobID, JobName: t.JobName, Trigger: string(t.Trigger), Started: started,
	})

	err := e.invoke(ctx, t, p)

	status := e.recorder.Complete(ctx, recordID, started, err)
	dur := e.recorder.Now().Sub(started)
	ev := eventbus.ExecutionEvent{
		RecordID: recordID, JobID: t.JobID, JobName: t.JobName, Trigger: string(t.Trigger),
		Status: string(status), Started: started, Duration: dur,
	}
	fields := []logx.Field{
		logx.JobID(t.JobID),
		logx.RecordID(recordID),
		logx.Trigger(string(t.Trigger)),
		logx.Duration("dur", dur),
	}
	if err != nil {
		ev.Error = recorder.Summarize(err)
		e.log.Warn("execution failed", append(fields, logx.String("summary", ev.Error))...)
	} else if dur >= 750*time.Millisecond {
		e.log.Info("execution completed", fields...)
	} else {
		e.log.Debug("execution completed", fields...)
	}
	eventbus.Publish(e.bus, eventbus.TypeExecutionFinished, ev)
	return err
}

func (e *Executor) invoke(ctx context.Context, t Target, p registry.Params) (err error) {
	fn, ok := e.registry.Resolve(t.ImplKey)
	if !ok {
		return errors.Mark(
			errors.Newf("job %q: implementation %q is not registered", t.JobID, t.ImplKey),
			ErrJobNotFound,
		)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, p)
}

// RunScheduled runs a fire of def with today's date range. The error is
// already recorded; callers on the scheduled path only log it.
func (e *Executor) RunScheduled(ctx context.Context, def storage.JobDefinition, firedAt time.Time) error {
	today := firedAt.In(e.Location()).Format(DateLayout)
	return e.Run(ctx, TargetOf(def, storage.TriggerScheduled), registry.Params{
		From: today, To: today, FiredAt: firedAt,
	})
}

// ExecuteManually runs jobID once and blocks until the body returns. from
// and to default to today. An unknown id returns ErrJobNotFound without
// creating a record; disabled definitions still run.
func (e *Executor) ExecuteManually(ctx context.Context, jobID string, from, to *string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.Wrap(ErrJobNotFound, "empty job id")
	}

	now := e.recorder.Now().In(e.Location())
	fromDate, err := civilDate(from, now, e.Location())
	if err != nil {
		return errors.Wrap(err, "from")
	}
	toDate, err := civilDate(to, now, e.Location())
	if err != nil {
		return errors.Wrap(err, "to")
	}
	if toDate.Before(fromDate) {
		return errors.Wrapf(ErrInvalidParams, "from %s is after to %s", fromDate.Format(DateLayout), toDate.Format(DateLayout))
	}

	def, err := e.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrapf(ErrJobNotFound, "job %q", jobID)
	}
	if err != nil {
		return errors.Wrapf(err, "load job %q", jobID)
	}

	e.log.Info("manual execution requested",
		logx.JobID(def.ID),
		logx.String("from", fromDate.Format(DateLayout)),
		logx.String("to", toDate.Format(DateLayout)),
		logx.Bool("enabled", def.Enabled),
	)
	return e.Run(ctx, TargetOf(def, storage.TriggerManual), registry.Params{
		From:    fromDate.Format(DateLayout),
		To:      toDate.Format(DateLayout),
		FiredAt: now,
	})
}

func civilDate(v *string, now time.Time, loc *time.Location) (time.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(*v), loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidParams, "date %q must be YYYY-MM-DD", *v)
	}
	return t, nil
}
