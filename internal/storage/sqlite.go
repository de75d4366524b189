package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	if !isMemoryDSN(dsn) && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite directory")
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a single writer. It also keeps an in-memory database
	// alive for the lifetime of the handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	if !isMemoryDSN(dsn) {
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	}
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &SQLStore{db: db, log: log, dialect: dialectSQLite}
	if err := st.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("dsn", dsn))
	return st, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
