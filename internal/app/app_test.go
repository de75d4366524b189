package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"prodsched/internal/admin"
	"prodsched/internal/config"
	"prodsched/internal/history"
	"prodsched/internal/jobs"
	"prodsched/internal/storage"
	"prodsched/internal/task/pool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := "logging: {level: error, console: true}\n" +
		"storage: {driver: sqlite, dsn: " + filepath.Join(dir, "prodsched.db") + "}\n" +
		"scheduler: {enabled: true, timezone: UTC}\n" +
		"pool: {workers: 2, queue_size: 8}\n" +
		"shutdown_timeout: 5s\n" + extra
	p := filepath.Join(dir, "prodsched.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func startApp(t *testing.T, extra string) *App {
	t.Helper()
	a, err := NewApp(context.Background(), writeConfig(t, extra))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopCommand)
	})
	return a
}

func TestStartArmsAndRunsJobs(t *testing.T) {
	a := startApp(t, "")
	ctx := context.Background()

	assert.True(t, a.Scheduler().Running())
	assert.ElementsMatch(t, []string{
		jobs.KeyHistoryPrune, jobs.KeySystemHeartbeat,
		jobs.KeyMaterialImport, jobs.KeyProductionPlanImport, jobs.KeyProductionResultExport,
	}, a.Registry().Keys())

	_, err := a.Admin().CreateJob(ctx, admin.JobInput{
		ID: "hb", Name: "heartbeat", CronExpr: "0 */5 * * * *", ImplKey: jobs.KeySystemHeartbeat, Enabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hb"}, a.Scheduler().Active())

	require.NoError(t, a.Admin().ExecuteManually(ctx, "hb", nil, nil))
	page, err := a.History().List(ctx, history.Filter{JobID: "hb"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, storage.StatusSuccess, page.Items[0].Status)

	rep, err := a.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hb"}, rep.Armed)

	snaps := a.supervisors()
	assert.Contains(t, snaps, "app")
	assert.Contains(t, snaps, "pool")
}

func TestERPJobWithoutEndpointFails(t *testing.T) {
	a := startApp(t, "")
	ctx := context.Background()
	_, err := a.Admin().CreateJob(ctx, admin.JobInput{
		ID: "mat", Name: "materials", CronExpr: "0 0 6 * * *", ImplKey: jobs.KeyMaterialImport,
	})
	require.NoError(t, err)

	err = a.Admin().ExecuteManually(ctx, "mat", nil, nil)
	require.ErrorIs(t, err, jobs.ErrERPNotConfigured)

	page, err := a.History().List(ctx, history.Filter{JobID: "mat"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, storage.StatusFailed, page.Items[0].Status)
	assert.Contains(t, page.Items[0].ErrorSummary, "erp endpoint not configured")
}

func TestApplyConfigLiveSections(t *testing.T) {
	a := startApp(t, "")
	ctx := context.Background()
	old := a.Config()

	next := *old
	next.Scheduler.Timezone = "Asia/Seoul"
	next.History.Retention = "24h"
	a.applyConfig(ctx, old, &next)

	assert.Equal(t, "Asia/Seoul", a.Scheduler().Location().String())
	assert.Equal(t, "Asia/Seoul", a.Executor().Location().String())
	assert.Equal(t, 24*time.Hour, time.Duration(a.retention.Load()))

	disabled := next
	disabled.Scheduler.Enabled = false
	a.applyConfig(ctx, &next, &disabled)
	assert.False(t, a.Scheduler().Running())

	a.applyConfig(ctx, &disabled, &next)
	assert.True(t, a.Scheduler().Running())
}

func TestStopWithoutStartCloses(t *testing.T) {
	a, err := NewApp(context.Background(), writeConfig(t, ""))
	require.NoError(t, err)
	require.NoError(t, a.Stop(context.Background(), StopCommand))
}

func TestStartFailureStopsPoolAndSupervisor(t *testing.T) {
	a, err := NewApp(context.Background(), writeConfig(t, ""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopFatalError) })

	// A closed store makes loading the definitions fail.
	require.NoError(t, a.store.Close())
	require.Error(t, a.Start(context.Background()))

	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor context still live after failed start")
	}
	assert.False(t, a.Scheduler().Running())
	assert.Nil(t, a.pool.Supervisor())
	assert.Zero(t, a.sup.Counters().Active)
	assert.ErrorIs(t, a.pool.Enqueue(pool.Task{JobID: "x", Run: func(context.Context) error { return nil }}), pool.ErrStopped)
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("storage: {driver: mysql, dsn: x}\n"), 0o600))
	_, err := NewApp(context.Background(), p)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestMapDiagnosticsDefaults(t *testing.T) {
	t.Parallel()
	dc, err := mapDiagnosticsConfig(&config.Config{Diagnostics: config.DiagnosticsConfig{Enabled: true}})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, dc.ReadTimeout)
	assert.Zero(t, dc.WriteTimeout)
	assert.Equal(t, time.Minute, dc.IdleTimeout)

	_, err = mapDiagnosticsConfig(&config.Config{Diagnostics: config.DiagnosticsConfig{ReadTimeout: "soon"}})
	assert.Error(t, err)
}
