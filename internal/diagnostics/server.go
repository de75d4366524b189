// Package diagnostics serves pprof, Prometheus metrics, the armed schedule
// table and a health summary on a private HTTP listener.
package diagnostics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "prodsched/internal/runtime/supervisor"
	"prodsched/internal/task/scheduler"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
)

const DefaultAddr = "127.0.0.1:6060"

var ErrInsecureBind = errors.New("diagnostics: non-loopback addr requires token or allow_insecure")

// Config controls the optional diagnostics listener.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

// SnapshotSource is the scheduler's read-only view.
type SnapshotSource interface {
	Snapshot() scheduler.Snapshot
}

// Pinger checks the store connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sources are the handlers' inputs; nil members are skipped.
type Sources struct {
	Metrics     http.Handler
	Schedules   SnapshotSource
	Store       Pinger
	Supervisors func() map[string]rtsup.Snapshot
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	src Sources

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, src Sources, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, src: src, log: log.With(logx.Component("diagnostics"))}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Supervisor returns the listener's supervisor, or nil when not started.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Addr is the bound listener address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts, stops or restarts the listener.
// Safe to call during hot-reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start is idempotent. The listener runs under a restart loop.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.New(ctx,
			rtsup.WithLogger(s.log),
			// diagnostics must never take the process down.
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("diagnostics stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	if !cur.Enabled {
		return context.Canceled
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("diagnostics refused to start", logx.String("addr", addr))
		return errors.WithHint(ErrInsecureBind, "bind to 127.0.0.1 or set diagnostics.token")
	}
	if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("diagnostics running without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return errors.Wrapf(err, "diagnostics listen %s", addr)
	}
	srv := &http.Server{
		Handler:      s.handler(cur.Token),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("diagnostics started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv, s.ln = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("diagnostics server exited unexpectedly")
	}
	return err
}

// Handler builds the mux without a listener, for embedding and tests.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	tok := s.cfg.Token
	s.mu.Unlock()
	return s.handler(tok)
}

func (s *Service) handler(token string) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", wrap(s.healthz))
	mux.HandleFunc("/schedules", wrap(s.schedules))
	if s.src.Metrics != nil {
		mux.Handle("/metrics", wrap(s.src.Metrics.ServeHTTP))
	}
	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	return mux
}

type health struct {
	Status      string                    `json:"status"`
	Store       string                    `json:"store,omitempty"`
	Scheduler   string                    `json:"scheduler,omitempty"`
	Armed       int                       `json:"armed"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors,omitempty"`
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "ok"}
	if s.src.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := s.src.Store.Ping(ctx)
		cancel()
		if err != nil {
			h.Status = "degraded"
			h.Store = err.Error()
		} else {
			h.Store = "ok"
		}
	}
	if s.src.Schedules != nil {
		snap := s.src.Schedules.Snapshot()
		h.Armed = len(snap.Schedules)
		switch {
		case !snap.Enabled:
			h.Scheduler = "disabled"
		case snap.Running:
			h.Scheduler = "running"
		default:
			h.Scheduler = "stopped"
			h.Status = "degraded"
		}
	}
	if s.src.Supervisors != nil {
		h.Supervisors = s.src.Supervisors()
	}
	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Service) schedules(w http.ResponseWriter, _ *http.Request) {
	if s.src.Schedules == nil {
		http.Error(w, "scheduler not wired", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.src.Schedules.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
