package scheduler

import (
	"time"

	"prodsched/internal/task/pool"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

const enqueueWarnEvery = 5 * time.Second

// reportEnqueueError logs a dropped fire at most once per enqueueWarnEvery
// per job and counts what it suppressed in between.
func (s *Service) reportEnqueueError(jobID string, err error) {
	if err == nil {
		return
	}

	s.warnMu.Lock()
	lim := s.warnLimits[jobID]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(enqueueWarnEvery), 1)
		s.warnLimits[jobID] = lim
	}
	if !lim.Allow() {
		s.suppressed[jobID]++
		s.warnMu.Unlock()
		return
	}
	suppressed := s.suppressed[jobID]
	delete(s.suppressed, jobID)
	s.warnMu.Unlock()

	msg := "scheduled fire dropped"
	if errors.Is(err, pool.ErrStopped) {
		msg = "scheduled fire dropped: worker pool stopped"
	}
	s.log.Warn(msg, logx.JobID(jobID), logx.Int("suppressed", suppressed), logx.Err(err))
}
