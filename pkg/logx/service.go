package logx

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

const defaultFilePath = "./prodsched.log"

// Config selects the level and sinks of a Service.
type Config struct {
	Level string
	// Format of the console sink: "console" (human readable, default) or
	// "json" (one object per line, for journald and log shippers).
	Format  string
	Console bool
	File    FileConfig
}

// FileConfig is an append-only JSON lines sink.
type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks. Loggers taken from it observe Apply and Reopen
// without being rebuilt.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	out  io.Writer
	file *os.File

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service on stdout and returns its root logger.
func New(cfg Config) (*Service, Logger) {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput is New with the console sink written to out.
func NewWithOutput(cfg Config, out io.Writer) (*Service, Logger) {
	s := &Service{out: out}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply swaps level and sinks. A file that cannot be opened is reported on
// the console sink and skipped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if err := s.rebuildLocked(); err != nil {
		zl := s.current()
		zl.Error().Err(err).Msg("log file sink disabled")
	}
}

// Reopen closes and reopens the file sink at the same path, so an external
// rotation (logrotate move + SIGHUP) starts a fresh file.
func (s *Service) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.File.Enabled {
		return nil
	}
	return s.rebuildLocked()
}

// Close releases the file sink. Later records go to the console sink only.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.File.Enabled = false
	err := s.closeFileLocked()
	_ = s.rebuildLocked()
	return err
}

func (s *Service) rebuildLocked() error {
	if err := s.closeFileLocked(); err != nil {
		return err
	}

	var (
		writers []io.Writer
		openErr error
	)
	if s.cfg.File.Enabled {
		f, err := openLogFile(s.cfg.File.Path)
		if err != nil {
			openErr = err
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if s.cfg.Console || len(writers) == 0 {
		writers = append(writers, consoleSink(s.out, s.cfg.Format))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(s.cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
	return openErr
}

func (s *Service) closeFileLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return errors.Wrap(err, "close log file")
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultFilePath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %q", path)
	}
	return f, nil
}

func consoleSink(w io.Writer, format string) io.Writer {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return w
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	cw.FormatCaller = func(i any) string {
		s, _ := i.(string)
		return s
	}
	return cw
}
