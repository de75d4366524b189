// Package recorder writes one history record per execution.
//
// Persistence failures never reach the job: they are logged and swallowed.
package recorder

import (
	"context"
	"time"

	"prodsched/internal/storage"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrPersistence marks a failed history write.
var ErrPersistence = errors.New("execution history persistence failed")

const writeTimeout = 5 * time.Second

// Recorder creates RUNNING records and moves them to SUCCESS or FAILED.
type Recorder struct {
	store storage.HistoryStore
	log   logx.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Recorder)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDFunc overrides uuid record ids.
func WithIDFunc(fn func() string) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func New(store storage.HistoryStore, log logx.Logger, opts ...Option) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{store: store, log: log, now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Now is the recorder clock.
func (r *Recorder) Now() time.Time { return r.now() }

// Begin persists a RUNNING record and returns its id together with the start
// instant. An empty id means the insert failed; the caller still runs the
// body.
func (r *Recorder) Begin(ctx context.Context, jobID, jobName string, trigger storage.TriggerSource) (string, time.Time) {
	started := r.now()
	id := r.newID()
	rec := storage.ExecutionRecord{
		ID:        id,
		JobID:     jobID,
		JobName:   jobName,
		Trigger:   trigger,
		Status:    storage.StatusRunning,
		StartedAt: started,
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := r.store.InsertExecution(wctx, rec); err != nil {
		err = errors.Mark(err, ErrPersistence)
		r.log.Error("execution record begin failed",
			logx.JobID(jobID),
			logx.RecordID(id),
			logx.Err(err),
		)
		return "", started
	}
	r.log.Debug("execution record begin",
		logx.JobID(jobID),
		logx.RecordID(id),
		logx.Trigger(string(trigger)),
	)
	return id, started
}

// Complete moves the record to SUCCESS (err == nil) or FAILED. It returns the
// status that was recorded, or would have been for an unpersisted record.
func (r *Recorder) Complete(ctx context.Context, recordID string, startedAt time.Time, runErr error) storage.Status {
	ended := r.now()
	c := storage.Completion{
		Status:     storage.StatusSuccess,
		EndedAt:    ended,
		DurationMs: ended.Sub(startedAt).Milliseconds(),
	}
	if c.DurationMs < 0 {
		c.DurationMs = 0
	}
	if runErr != nil {
		c.Status = storage.StatusFailed
		c.ErrorSummary = Summarize(runErr)
		c.ErrorDetail = Detail(runErr)
	}

	if recordID == "" {
		r.log.Warn("execution record complete skipped: begin was not persisted",
			logx.String("status", string(c.Status)),
			logx.String("summary", c.ErrorSummary),
		)
		return c.Status
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := r.store.CompleteExecution(wctx, recordID, c); err != nil {
		err = errors.Mark(err, ErrPersistence)
		r.log.Error("execution record complete failed",
			logx.RecordID(recordID),
			logx.String("status", string(c.Status)),
			logx.Err(err),
		)
		return c.Status
	}
	return c.Status
}

// writeContext keeps history writes alive when the caller's context is
// cancelled at shutdown, bounded by writeTimeout.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}
