package supervisor

import (
	"sort"
	"time"
)

// Counters are best-effort totals over spawned goroutines.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// GoroutineStats aggregates the runs of one named goroutine.
type GoroutineStats struct {
	Name        string        `json:"name"`
	Active      int64         `json:"active"`
	Runs        uint64        `json:"runs"`
	Panics      uint64        `json:"panics"`
	Restarts    uint64        `json:"restarts"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastRuntime time.Duration `json:"last_runtime"`
	LastErr     string        `json:"last_err,omitempty"`
	LastPanic   string        `json:"last_panic,omitempty"`
}

// Snapshot is the /healthz view of a supervisor.
type Snapshot struct {
	Counters   Counters         `json:"counters"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.spawned.Load()}
}

// Snapshot lists goroutines busiest first, then by name.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	snap.Goroutines = make([]GoroutineStats, 0, len(s.stats))
	for _, st := range s.stats {
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	s.mu.Unlock()

	sort.Slice(snap.Goroutines, func(i, j int) bool {
		a, b := snap.Goroutines[i], snap.Goroutines[j]
		if a.Active != b.Active {
			return a.Active > b.Active
		}
		return a.Name < b.Name
	})
	return snap
}

func (s *Supervisor) statLocked(name string) *GoroutineStats {
	st := s.stats[name]
	if st == nil {
		st = &GoroutineStats{Name: name}
		s.stats[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.statLocked(name)
	st.Runs++
	st.Active++
	if restart {
		st.Restarts++
	}
	st.LastStartAt = now
	s.mu.Unlock()
	return now
}

func (s *Supervisor) noteStop(name string, startedAt time.Time, err error) {
	s.mu.Lock()
	st := s.statLocked(name)
	if st.Active > 0 {
		st.Active--
	}
	st.LastRuntime = time.Since(startedAt)
	if err != nil {
		st.LastErr = err.Error()
	}
	s.mu.Unlock()
}
