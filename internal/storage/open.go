package storage

import (
	"context"
	"strings"
	"time"

	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
)

// JobStore persists job definitions. The scheduler only calls
// ListEnabledJobs.
type JobStore interface {
	ListEnabledJobs(ctx context.Context) ([]JobDefinition, error)
	ListJobs(ctx context.Context) ([]JobDefinition, error)
	GetJob(ctx context.Context, id string) (JobDefinition, error)
	CreateJob(ctx context.Context, j JobDefinition) error
	UpdateJob(ctx context.Context, j JobDefinition) error
	DeleteJob(ctx context.Context, id string) error
}

// HistoryStore persists execution records.
type HistoryStore interface {
	InsertExecution(ctx context.Context, r ExecutionRecord) error
	CompleteExecution(ctx context.Context, id string, c Completion) error
	GetExecution(ctx context.Context, id string) (ExecutionRecord, error)
	ListExecutions(ctx context.Context, f ExecutionFilter) ([]ExecutionRecord, int, error)
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full persistence API.
type Store interface {
	JobStore
	HistoryStore
	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store and applies the schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
