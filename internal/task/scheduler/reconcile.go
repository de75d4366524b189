package scheduler

import (
	"context"
	"sort"
	"time"

	"prodsched/internal/eventbus"
	"prodsched/internal/storage"
	"prodsched/internal/task/pool"
	"prodsched/internal/task/trigger"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// Initialize arms every enabled definition. A job whose expression does not
// parse is skipped and the rest still arm. An id that is already armed is
// re-armed, never duplicated.
func (s *Service) Initialize(ctx context.Context) (InitReport, error) {
	start := time.Now()
	defs, err := s.loadEnabled(ctx)
	if err != nil {
		return InitReport{}, err
	}

	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return InitReport{}, ErrNotRunning
	}
	rep := s.armAllLocked(defs)
	s.mu.Unlock()

	s.published(rep, time.Since(start))
	return rep, nil
}

// Restart reconciles the armed set with the store. Definitions are loaded
// first: if that fails the current handles stay armed and the error is
// returned. Otherwise every entry is removed, which cancels future fires
// only, and the loaded set is armed.
func (s *Service) Restart(ctx context.Context) (InitReport, error) {
	start := time.Now()
	defs, err := s.loadEnabled(ctx)
	if err != nil {
		s.log.Error("scheduler restart aborted", logx.Err(err))
		return InitReport{}, err
	}

	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return InitReport{}, ErrNotRunning
	}
	cancelled := len(s.handles)
	for id, h := range s.handles {
		s.c.Remove(h.entryID)
		delete(s.handles, id)
	}
	rep := s.armAllLocked(defs)
	s.mu.Unlock()

	s.log.Info("scheduler restarted",
		logx.Int("cancelled", cancelled),
		logx.Int("armed", len(rep.Armed)),
		logx.Int("skipped", len(rep.Skipped)),
		logx.Duration("took", time.Since(start)),
	)
	s.published(rep, time.Since(start))
	return rep, nil
}

func (s *Service) loadEnabled(ctx context.Context) ([]storage.JobDefinition, error) {
	if s.store == nil {
		return nil, errors.New("scheduler: no job store")
	}
	defs, err := s.store.ListEnabledJobs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load enabled job definitions")
	}
	return defs, nil
}

func (s *Service) armAllLocked(defs []storage.JobDefinition) InitReport {
	rep := InitReport{Skipped: map[string]string{}}
	for _, def := range defs {
		if err := s.armLocked(def); err != nil {
			rep.Skipped[def.ID] = err.Error()
			s.log.Warn("schedule skipped",
				logx.JobID(def.ID),
				logx.String("cron", def.CronExpr),
				logx.Err(err),
			)
			continue
		}
		rep.Armed = append(rep.Armed, def.ID)
	}
	sort.Strings(rep.Armed)
	s.lastReconcile = time.Now()
	s.lastSkipped = rep.Skipped
	return rep
}

func (s *Service) armLocked(def storage.JobDefinition) error {
	if def.ID == "" {
		return errors.New("empty job id")
	}
	tr, err := trigger.Parse(def.CronExpr)
	if err != nil {
		return err
	}
	if prev, ok := s.handles[def.ID]; ok {
		s.c.Remove(prev.entryID)
	}
	h := &handle{def: def, trigger: tr, armedAt: time.Now()}
	h.entryID = s.c.Schedule(tr, s.fireJob(def))
	s.handles[def.ID] = h

	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule armed",
			logx.JobID(def.ID),
			logx.String("cron", tr.Expr()),
			logx.String("next", formatUpcoming(tr.NextN(time.Now().In(s.loc), 3))),
		)
	}
	return nil
}

// fireJob binds a definition snapshot to one cron entry. The job name is
// captured here, so a rename only shows after the next Restart.
func (s *Service) fireJob(def storage.JobDefinition) cron.Job {
	return cron.FuncJob(func() {
		firedAt := time.Now()
		if s.pool == nil || s.runner == nil {
			return
		}
		err := s.pool.Enqueue(pool.Task{
			JobID:   def.ID,
			JobName: def.Name,
			FiredAt: firedAt,
			Run: func(ctx context.Context) error {
				return s.runner.RunScheduled(ctx, def, firedAt)
			},
		})
		if err != nil {
			s.reportEnqueueError(def.ID, err)
		}
	})
}

func (s *Service) published(rep InitReport, took time.Duration) {
	eventbus.Publish(s.bus, eventbus.TypeReconciled, eventbus.ReconcileEvent{
		Armed:   append([]string(nil), rep.Armed...),
		Skipped: rep.Skipped,
		Took:    took,
	})
}

// Active returns the armed job ids, sorted.
func (s *Service) Active() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// IsArmed reports whether jobID currently has a handle.
func (s *Service) IsArmed(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles[jobID]
	return ok
}

func formatUpcoming(ts []time.Time) string {
	out := make([]byte, 0, 24*len(ts))
	for i, t := range ts {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = t.AppendFormat(out, "2006-01-02 15:04:05")
	}
	return string(out)
}
