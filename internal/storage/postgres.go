package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
)

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, errors.WithHint(errors.Wrap(err, "ping postgres"), "check storage.dsn and that the server is reachable")
	}

	st := &SQLStore{db: db, log: log, dialect: dialectPostgres}
	if err := st.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("postgres store ready")
	return st, nil
}
