package scheduler

import (
	"sort"
	"time"

	"prodsched/internal/task/pool"
)

// Snapshot copies the armed handles with their next and previous fires.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Enabled:       s.cfg.Enabled,
		Running:       s.c != nil,
		Timezone:      s.loc.String(),
		LastReconcile: s.lastReconcile,
		Schedules:     make([]ScheduleInfo, 0, len(s.handles)),
	}
	if len(s.lastSkipped) > 0 {
		snap.Skipped = make(map[string]string, len(s.lastSkipped))
		for k, v := range s.lastSkipped {
			snap.Skipped[k] = v
		}
	}
	now := time.Now().In(s.loc)
	for _, h := range s.handles {
		it := ScheduleInfo{
			JobID:    h.def.ID,
			Name:     h.def.Name,
			CronExpr: h.trigger.Expr(),
			ImplKey:  h.def.ImplKey,
			ArmedAt:  h.armedAt,
			Upcoming: h.trigger.NextN(now, 3),
		}
		if s.c != nil {
			e := s.c.Entry(h.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		if it.Next.IsZero() {
			it.Next = h.trigger.Next(now)
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	p := s.pool
	s.mu.RUnlock()

	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].JobID < snap.Schedules[j].JobID })
	if sp, ok := p.(interface{ Stats() pool.Stats }); ok {
		st := sp.Stats()
		snap.Pool = &st
	}
	return snap
}
