package scheduler

import (
	"context"
	"strings"
	"time"

	"prodsched/internal/eventbus"
	"prodsched/internal/storage"
	logx "prodsched/pkg/logx"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

func New(cfg Config, store storage.JobStore, p Enqueuer, runner Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		store:      store,
		pool:       p,
		runner:     runner,
		handles:    map[string]*handle{},
		warnLimits: map[string]*rate.Limiter{},
		suppressed: map[string]int{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enabled
}

// Running reports whether the coordinator is started.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c != nil
}

// Location is the zone fire times are computed in.
func (s *Service) Location() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

// Apply swaps the config. A timezone change on a running scheduler rebuilds
// the coordinator and re-arms the current handles in the new zone.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if oldTZ == newTZ {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.c == nil {
		return
	}

	<-s.c.Stop().Done()
	s.c = s.newCronLocked()
	for id, h := range s.handles {
		h.entryID = s.c.Schedule(h.trigger, s.fireJob(h.def))
		s.handles[id] = h
	}
	s.c.Start()
	s.log.Info("scheduler timezone changed", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.handles)))
}

// Start creates the coordinator and arms every enabled job. A disabled
// scheduler does nothing.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Info("scheduler disabled")
		return nil
	}
	s.loc = s.loadLocationLocked()
	s.c = s.newCronLocked()
	s.c.Start()
	loc := s.loc
	s.mu.Unlock()

	rep, err := s.Initialize(ctx)
	if err != nil {
		return err
	}
	s.log.Info("scheduler started",
		logx.String("tz", loc.String()),
		logx.Int("armed", len(rep.Armed)),
		logx.Int("skipped", len(rep.Skipped)),
	)
	return nil
}

// Stop halts the coordinator and drops every handle. Running bodies are not
// interrupted; they belong to the worker pool.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.handles = map[string]*handle{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) newCronLocked() *cron.Cron {
	return cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger for the Recover wrapper.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
