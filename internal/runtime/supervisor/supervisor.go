// Package supervisor runs the daemon's long-lived goroutines (pool workers,
// config watcher, metrics consumer, diagnostics listener) under one
// context, with panic recovery, optional restart and bounded shutdown.
package supervisor

import (
	"context"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// ErrPanic marks an error recovered from a panicking goroutine.
var ErrPanic = errors.New("goroutine panicked")

// A run that lasts this long resets the restart backoff.
const stableRun = 30 * time.Second

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool
	firstErr    atomic.Pointer[error]

	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}

	spawned atomic.Uint64
	active  atomic.Int64

	mu    sync.Mutex
	stats map[string]*GoroutineStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  map[string]*GoroutineStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure of any goroutine.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Go runs fn once. An error other than cancellation, or a panic, becomes
// the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.spawn(name, fn, nil)
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.spawn(name, func(ctx context.Context) error { fn(ctx); return nil }, nil)
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max    time.Duration
	maxRestarts int // <= 0: unlimited
}

func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts bounds restarts; the first run does not count. Giving up
// records the last error as the supervisor error.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.maxRestarts = n }
}

// GoRestart runs fn again after an error or panic, with jittered
// exponential backoff, until it returns nil or the context ends.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	p := &restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(p)
	}
	p.max = max(p.max, p.min)
	s.spawn(name, fn, p)
}

func (s *Supervisor) spawn(name string, fn func(ctx context.Context) error, p *restartPolicy) {
	if fn == nil {
		return
	}
	s.spawned.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		s.loop(name, fn, p)
	}()
}

func (s *Supervisor) loop(name string, fn func(ctx context.Context) error, p *restartPolicy) {
	restarts := 0
	var backoff time.Duration
	if p != nil {
		backoff = p.min
	}
	for {
		startedAt := s.noteStart(name, restarts > 0)
		err := s.runOnce(name, fn)
		if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			err = nil
		}
		s.noteStop(name, startedAt, err)
		if err == nil {
			return
		}
		err = errors.Wrap(err, name)

		if p == nil {
			s.fail(err)
			return
		}
		restarts++
		if p.maxRestarts > 0 && restarts > p.maxRestarts {
			s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts-1), logx.Err(err))
			s.fail(err)
			return
		}
		if time.Since(startedAt) >= stableRun {
			backoff = p.min
		}
		wait := backoff + jitter(backoff)
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}
		backoff = min(backoff*2, p.max)
	}
}

// runOnce calls fn, turning a panic into an ErrPanic error.
func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			s.mu.Lock()
			st := s.statLocked(name)
			st.Panics++
			st.LastPanic = errors.Newf("%v", r).Error()
			s.mu.Unlock()
			err = errors.Wrapf(ErrPanic, "%v", r)
		}
	}()
	return fn(s.ctx)
}

// jitter adds up to 20%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)/5 + 1))
}

// Stop cancels the context and waits for every goroutine, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends. It returns the
// supervisor error, or ctx's error on timeout.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	if s.firstErr.CompareAndSwap(nil, &err) {
		s.log.Error("supervised goroutine failed", logx.Err(err))
	}
	if s.cancelOnErr {
		s.cancel()
	}
}
