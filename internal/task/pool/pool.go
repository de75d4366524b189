// Package pool runs scheduled fires on a fixed set of workers fed by a
// bounded queue.
package pool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"prodsched/internal/eventbus"
	"prodsched/internal/runtime/supervisor"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
)

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrQueueFull = errors.New("worker pool queue full")
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Config is fixed for the lifetime of a Service.
type Config struct {
	Workers   int
	QueueSize int
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Task is one fire of one job.
type Task struct {
	JobID   string
	JobName string
	FiredAt time.Time
	Run     func(ctx context.Context) error
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
	Queued    int    `json:"queued"`
	InFlight  int64  `json:"in_flight"`
	Completed uint64 `json:"completed"`
	Dropped   uint64 `json:"dropped"`
}

// Service executes tasks on a worker pool. Workers recover from panics and
// a task that is already running is never interrupted by Stop unless the
// stop deadline expires.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config

	queue    chan Task
	stopCh   chan struct{}
	sup      *supervisor.Supervisor
	runCtx   context.Context
	cancel   context.CancelFunc
	inFlight atomic.Int64
	done     atomic.Uint64
	dropped  atomic.Uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{cfg: cfg.normalized(), log: log, bus: bus}
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}

	// Tasks outlive the caller's context; Stop decides when to cancel them.
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.stopCh = make(chan struct{})
	// Fresh queue per run so a stop/start cycle never executes stale fires.
	s.queue = make(chan Task, s.cfg.QueueSize)
	s.sup = supervisor.New(context.Background(), supervisor.WithLogger(s.log))

	runCtx, stopCh, queue := s.runCtx, s.stopCh, s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		s.sup.Go0("pool.worker", func(context.Context) {
			s.worker(runCtx, stopCh, queue, idx)
		})
	}
	s.log.Info("worker pool started", logx.Int("workers", s.cfg.Workers), logx.Int("queue_size", s.cfg.QueueSize))
}

// Stop refuses new tasks, lets running tasks finish and discards queued
// ones. If ctx expires first, running tasks are cancelled.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	stopCh, cancel, sup, queue := s.stopCh, s.cancel, s.sup, s.queue
	s.stopCh, s.cancel, s.sup, s.queue = nil, nil, nil, nil
	s.mu.Unlock()

	close(stopCh)
	var stopErr error
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		stopErr = errors.Wrap(ctx.Err(), "worker pool stop")
		s.log.Warn("worker pool stop deadline exceeded; running tasks cancelled", logx.Int64("in_flight", s.inFlight.Load()))
	}
	cancel()
	if stopErr != nil {
		// Workers observe the cancelled context and exit promptly.
		wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
		_ = sup.Wait(wctx)
		wcancel()
	}

	if n := len(queue); n > 0 {
		s.log.Warn("queued fires discarded at stop", logx.Int("count", n))
	}
	s.log.Info("worker pool stopped", logx.Duration("took", time.Since(start)))
	return stopErr
}

// Enqueue hands t to the workers without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("worker pool: nil task")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		s.drop(t, "stopped")
		return ErrStopped
	}
	select {
	case s.queue <- t:
		eventbus.Publish(s.bus, eventbus.TypeFireQueued, eventbus.FireEvent{JobID: t.JobID, JobName: t.JobName, FiredAt: t.FiredAt})
		return nil
	default:
		s.drop(t, "queue_full")
		return ErrQueueFull
	}
}

func (s *Service) drop(t Task, reason string) {
	s.dropped.Add(1)
	eventbus.Publish(s.bus, eventbus.TypeFireDropped, eventbus.FireEvent{JobID: t.JobID, JobName: t.JobName, FiredAt: t.FiredAt, Reason: reason})
}

// Supervisor returns the worker supervisor, or nil when stopped.
func (s *Service) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	queued := 0
	if s.queue != nil {
		queued = len(s.queue)
	}
	s.mu.Unlock()
	return Stats{
		Workers:   s.cfg.Workers,
		QueueSize: s.cfg.QueueSize,
		Queued:    queued,
		InFlight:  s.inFlight.Load(),
		Completed: s.done.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan Task, idx int) {
	s.log.Debug("worker started", logx.Int("worker", idx))
	defer s.log.Debug("worker stopped", logx.Int("worker", idx))
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t, idx)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t Task, idx int) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	defer s.done.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in pool task",
				logx.Int("worker", idx),
				logx.JobID(t.JobID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err := t.Run(ctx); err != nil {
		s.log.Debug("pool task returned error", logx.JobID(t.JobID), logx.Err(err))
	}
}
