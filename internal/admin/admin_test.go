package admin

import (
	"context"
	"testing"
	"time"

	"prodsched/internal/history"
	"prodsched/internal/storage"
	"prodsched/internal/task/executor"
	"prodsched/internal/task/pool"
	"prodsched/internal/task/recorder"
	"prodsched/internal/task/registry"
	"prodsched/internal/task/scheduler"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	admin *Service
	sched *scheduler.Service
	store storage.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	require.NoError(t, err)

	reg := registry.New(map[string]registry.Func{
		"noop": func(context.Context, registry.Params) error { return nil },
	})
	exec := executor.New(st, reg, recorder.New(st, logx.Nop()), logx.Nop(), nil)
	p := pool.New(pool.Config{Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	p.Start(ctx)
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, st, p, exec, logx.Nop(), nil)
	require.NoError(t, sched.Start(ctx))

	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(sctx)
		_ = p.Stop(sctx)
		_ = st.Close()
	})
	return &harness{
		admin: New(st, reg, sched, exec, history.New(st), logx.Nop()),
		sched: sched,
		store: st,
	}
}

func TestCreateArmsAndDisableDisarms(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	def, err := h.admin.CreateJob(ctx, JobInput{ID: "J1", Name: "hourly", CronExpr: "0 0 * * * *", ImplKey: "noop", Enabled: true, Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "ops", def.CreatedBy)
	assert.Equal(t, []string{"J1"}, h.sched.Active())

	_, err = h.admin.SetEnabled(ctx, "J1", false, "ops")
	require.NoError(t, err)
	assert.Empty(t, h.sched.Active())

	_, err = h.admin.SetEnabled(ctx, "J1", true, "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"J1"}, h.sched.Active())

	require.NoError(t, h.admin.DeleteJob(ctx, "J1"))
	assert.Empty(t, h.sched.Active())
	assert.ErrorIs(t, h.admin.DeleteJob(ctx, "J1"), storage.ErrNotFound)
}

func TestCreateAssignsID(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	def, err := h.admin.CreateJob(context.Background(), JobInput{Name: "x", CronExpr: "@daily", ImplKey: "noop"})
	require.NoError(t, err)
	assert.Len(t, def.ID, 36)
	assert.Empty(t, h.sched.Active(), "disabled jobs are not armed")
}

func TestValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	cases := []JobInput{
		{Name: "", CronExpr: "0 0 * * * *", ImplKey: "noop"},
		{Name: "bad cron", CronExpr: "every hour", ImplKey: "noop", Enabled: true},
		{Name: "bad key", CronExpr: "0 0 * * * *", ImplKey: "nope", Enabled: true},
		{Name: "no cron", ImplKey: "noop"},
	}
	for _, in := range cases {
		_, err := h.admin.CreateJob(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidDefinition, "%+v", in)
	}

	// A disabled definition may carry an unresolved key.
	_, err := h.admin.CreateJob(ctx, JobInput{ID: "later", Name: "later", CronExpr: "0 0 * * * *", ImplKey: "nope"})
	require.NoError(t, err)
	_, err = h.admin.SetEnabled(ctx, "later", true, "ops")
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	all, err := h.admin.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdatePatchesFields(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.admin.CreateJob(ctx, JobInput{ID: "J1", Name: "one", CronExpr: "0 0 * * * *", ImplKey: "noop", Enabled: true})
	require.NoError(t, err)

	name := "renamed"
	expr := "0 30 * * * *"
	def, err := h.admin.UpdateJob(ctx, "J1", JobPatch{Name: &name, CronExpr: &expr, Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", def.Name)
	assert.Equal(t, "0 30 * * * *", def.CronExpr)
	assert.True(t, def.Enabled)

	snap := h.sched.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "renamed", snap.Schedules[0].Name)
	assert.Equal(t, "0 30 * * * *", snap.Schedules[0].CronExpr)

	_, err = h.admin.UpdateJob(ctx, "missing", JobPatch{Name: &name})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManualRunAndHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.admin.CreateJob(ctx, JobInput{ID: "J1", Name: "one", CronExpr: "0 0 * * * *", ImplKey: "noop", Enabled: true})
	require.NoError(t, err)

	from, to := "2025-01-01", "2025-01-31"
	require.NoError(t, h.admin.ExecuteManually(ctx, "J1", &from, &to))
	err = h.admin.ExecuteManually(ctx, "J999", nil, nil)
	assert.True(t, errors.Is(err, executor.ErrJobNotFound))

	page, err := h.admin.History(ctx, history.Filter{JobID: "J1"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, storage.StatusSuccess, page.Items[0].Status)
	assert.Equal(t, storage.TriggerManual, page.Items[0].Trigger)

	rec, err := h.admin.Execution(ctx, page.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "one", rec.JobName)
}

func TestRestartReport(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.admin.CreateJob(ctx, JobInput{ID: "J1", Name: "one", CronExpr: "0 0 * * * *", ImplKey: "noop", Enabled: true})
	require.NoError(t, err)

	rep, err := h.admin.Restart(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"J1"}, rep.Armed)
}

func TestMutationWithStoppedScheduler(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	sched := scheduler.New(scheduler.Config{Enabled: false}, st, nil, nil, logx.Nop(), nil)
	reg := registry.New(map[string]registry.Func{"noop": func(context.Context, registry.Params) error { return nil }})
	a := New(st, reg, sched, nil, history.New(st), logx.Nop())

	_, err = a.CreateJob(context.Background(), JobInput{ID: "J1", Name: "one", CronExpr: "0 0 * * * *", ImplKey: "noop", Enabled: true})
	require.NoError(t, err)
	_, err = a.Restart(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrNotRunning)
}

type failingRestarter struct{ calls int }

func (f *failingRestarter) Restart(context.Context) (scheduler.InitReport, error) {
	f.calls++
	return scheduler.InitReport{}, errors.New("store offline")
}

func TestRestartFailureAfterSave(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	fr := &failingRestarter{}
	a := New(st, nil, fr, nil, history.New(st), logx.Nop())

	_, err = a.CreateJob(context.Background(), JobInput{ID: "J1", Name: "one", CronExpr: "0 0 * * * *", ImplKey: "anything", Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler restart failed")
	assert.Equal(t, 1, fr.calls)

	saved, err := a.GetJob(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, "one", saved.Name)
}
