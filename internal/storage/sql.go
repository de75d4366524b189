package storage

import (
	"context"
	"database/sql"
	"embed"
	"strconv"
	"strings"
	"time"

	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	DefaultListLimit = 20
	MaxListLimit     = 500
)

// NormalizeLimit clamps a page size to (0, MaxListLimit], defaulting to
// DefaultListLimit.
func NormalizeLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	if n > MaxListLimit {
		return MaxListLimit
	}
	return n
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func parseDialect(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3", "":
		return dialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return dialectPostgres, nil
	default:
		return 0, errors.Newf("unknown storage driver: %s", driver)
	}
}

// SQLStore implements Store over database/sql for both drivers.
type SQLStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

// FromDB wraps an already opened handle without migrating it.
// driver is "sqlite" or "postgres".
func FromDB(db *sql.DB, driver string, log logx.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	d, err := parseDialect(driver)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SQLStore{db: db, log: log, dialect: d}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres. Queries in this
// package never carry a literal '?'.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

const jobColumns = `id, name, description, cron_expr, impl_key, enabled, created_by, updated_by, created_at, updated_at`

func (s *SQLStore) ListEnabledJobs(ctx context.Context) ([]JobDefinition, error) {
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM job_definitions WHERE enabled = 1 ORDER BY id`)
	return jobs, errors.Wrap(err, "list enabled jobs")
}

func (s *SQLStore) ListJobs(ctx context.Context) ([]JobDefinition, error) {
	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM job_definitions ORDER BY id`)
	return jobs, errors.Wrap(err, "list jobs")
}

func (s *SQLStore) queryJobs(ctx context.Context, q string, args ...any) ([]JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobDefinition
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (JobDefinition, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM job_definitions WHERE id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobDefinition{}, errors.Wrapf(ErrNotFound, "job %q", id)
	}
	if err != nil {
		return JobDefinition{}, errors.Wrapf(err, "get job %q", id)
	}
	return j, nil
}

func (s *SQLStore) CreateJob(ctx context.Context, j JobDefinition) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO job_definitions(`+jobColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`),
		j.ID, j.Name, j.Description, j.CronExpr, j.ImplKey, boolInt(j.Enabled),
		j.CreatedBy, j.UpdatedBy, j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "create job %q", j.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrConflict, "job %q", j.ID)
	}
	return nil
}

func (s *SQLStore) UpdateJob(ctx context.Context, j JobDefinition) error {
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE job_definitions
		 SET name = ?, description = ?, cron_expr = ?, impl_key = ?, enabled = ?, updated_by = ?, updated_at = ?
		 WHERE id = ?`),
		j.Name, j.Description, j.CronExpr, j.ImplKey, boolInt(j.Enabled), j.UpdatedBy, j.UpdatedAt.UnixMilli(), j.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update job %q", j.ID)
	}
	return affectedOrNotFound(res, "job", j.ID)
}

func (s *SQLStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM job_definitions WHERE id = ?`), id)
	if err != nil {
		return errors.Wrapf(err, "delete job %q", id)
	}
	return affectedOrNotFound(res, "job", id)
}

const executionColumns = `id, job_id, job_name, trigger_source, status, started_at, ended_at, duration_ms, error_summary, error_detail, retry_count`

func (s *SQLStore) InsertExecution(ctx context.Context, r ExecutionRecord) error {
	if r.Status == "" {
		r.Status = StatusRunning
	}
	if r.Trigger == "" {
		r.Trigger = TriggerScheduled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	var endedAt, duration any
	if r.EndedAt != nil {
		endedAt = r.EndedAt.UnixMilli()
		duration = r.DurationMs
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO job_executions(`+executionColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`),
		r.ID, r.JobID, r.JobName, string(r.Trigger), string(r.Status), r.StartedAt.UnixMilli(),
		endedAt, duration, nullStr(r.ErrorSummary), nullStr(r.ErrorDetail), r.RetryCount,
	)
	return errors.Wrapf(err, "insert execution %q", r.ID)
}

// CompleteExecution moves a RUNNING record to its terminal state. The
// status guard makes the transition happen at most once.
func (s *SQLStore) CompleteExecution(ctx context.Context, id string, c Completion) error {
	if !c.Status.Terminal() {
		return errors.Newf("complete execution %q: status %q is not terminal", id, c.Status)
	}
	if c.EndedAt.IsZero() {
		c.EndedAt = time.Now()
	}
	if c.DurationMs < 0 {
		c.DurationMs = 0
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE job_executions
		 SET status = ?, ended_at = ?, duration_ms = ?, error_summary = ?, error_detail = ?
		 WHERE id = ? AND status = 'RUNNING'`),
		string(c.Status), c.EndedAt.UnixMilli(), c.DurationMs, nullStr(c.ErrorSummary), nullStr(c.ErrorDetail), id,
	)
	if err != nil {
		return errors.Wrapf(err, "complete execution %q", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "complete execution %q", id)
	}
	if n == 0 {
		return errors.Wrapf(ErrNotRunning, "execution %q", id)
	}
	return nil
}

func (s *SQLStore) GetExecution(ctx context.Context, id string) (ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+executionColumns+` FROM job_executions WHERE id = ?`), id)
	r, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ExecutionRecord{}, errors.Wrapf(ErrNotFound, "execution %q", id)
	}
	if err != nil {
		return ExecutionRecord{}, errors.Wrapf(err, "get execution %q", id)
	}
	return r, nil
}

// ListExecutions returns one page, newest first, and the total number of
// matching rows.
func (s *SQLStore) ListExecutions(ctx context.Context, f ExecutionFilter) ([]ExecutionRecord, int, error) {
	where, args := executionWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM job_executions`+where), args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count executions")
	}

	limit := NormalizeLimit(f.Limit)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + executionColumns + ` FROM job_executions` + where +
		` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list executions")
	}
	defer rows.Close()

	out := make([]ExecutionRecord, 0, limit)
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan execution")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "list executions")
	}
	return out, total, nil
}

func executionWhere(f ExecutionFilter) (string, []any) {
	var conds []string
	var args []any
	if v := strings.TrimSpace(f.JobID); v != "" {
		conds = append(conds, "job_id = ?")
		args = append(args, v)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Trigger != "" {
		conds = append(conds, "trigger_source = ?")
		args = append(args, string(f.Trigger))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "started_at < ?")
		args = append(args, f.Until.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// PruneExecutions deletes terminal records that started before the cutoff.
// RUNNING rows are kept so an in-flight body can still complete its record.
func (s *SQLStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM job_executions WHERE started_at < ? AND status <> 'RUNNING'`), before.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "prune executions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "prune executions")
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (JobDefinition, error) {
	var (
		j                  JobDefinition
		enabled            int64
		createdMs, updated int64
	)
	if err := sc.Scan(&j.ID, &j.Name, &j.Description, &j.CronExpr, &j.ImplKey, &enabled,
		&j.CreatedBy, &j.UpdatedBy, &createdMs, &updated); err != nil {
		return JobDefinition{}, err
	}
	j.Enabled = enabled != 0
	j.CreatedAt = time.UnixMilli(createdMs)
	j.UpdatedAt = time.UnixMilli(updated)
	return j, nil
}

func scanExecution(sc scanner) (ExecutionRecord, error) {
	var (
		r                   ExecutionRecord
		trigger, status     string
		startedMs           int64
		endedMs, durationMs sql.NullInt64
		summary, detail     sql.NullString
		retry               int64
	)
	if err := sc.Scan(&r.ID, &r.JobID, &r.JobName, &trigger, &status, &startedMs,
		&endedMs, &durationMs, &summary, &detail, &retry); err != nil {
		return ExecutionRecord{}, err
	}
	r.Trigger = TriggerSource(trigger)
	r.Status = Status(status)
	r.StartedAt = time.UnixMilli(startedMs)
	if endedMs.Valid {
		t := time.UnixMilli(endedMs.Int64)
		r.EndedAt = &t
	}
	if durationMs.Valid {
		r.DurationMs = durationMs.Int64
	}
	r.ErrorSummary = summary.String
	r.ErrorDetail = detail.String
	r.RetryCount = int(retry)
	return r, nil
}

func affectedOrNotFound(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "%s %q", kind, id)
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s %q", kind, id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
