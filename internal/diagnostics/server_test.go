package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"prodsched/internal/task/scheduler"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSchedules struct{ snap scheduler.Snapshot }

func (f fakeSchedules) Snapshot() scheduler.Snapshot { return f.snap }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func waitForHTTP(ctx context.Context, url string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			cancel()
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil && resp != nil {
			_ = resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestReconfigureEnableDisable(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		_ = runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	srv := New(Config{}, Sources{}, logx.Nop())
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cfg := Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7, BlockProfileRate: 1}
	srv.Reconfigure(ctx, cfg)

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, waitForHTTP(ctx, "http://"+srv.Addr()+"/debug/pprof/"))
	assert.Equal(t, 7, runtime.SetMutexProfileFraction(-1))

	srv.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, srv.Addr())
	assert.False(t, srv.Enabled())
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	srv := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	err := srv.serveOnce(context.Background())
	assert.ErrorIs(t, err, ErrInsecureBind)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		src    Sources
		code   int
		status string
	}{
		{"empty", Sources{}, http.StatusOK, "ok"},
		{"healthy", Sources{
			Store:     fakePinger{},
			Schedules: fakeSchedules{scheduler.Snapshot{Enabled: true, Running: true, Schedules: []scheduler.ScheduleInfo{{JobID: "J1"}}}},
		}, http.StatusOK, "ok"},
		{"store down", Sources{Store: fakePinger{err: errors.New("db gone")}}, http.StatusServiceUnavailable, "degraded"},
		{"scheduler stopped", Sources{Schedules: fakeSchedules{scheduler.Snapshot{Enabled: true}}}, http.StatusServiceUnavailable, "degraded"},
		{"scheduler disabled", Sources{Schedules: fakeSchedules{scheduler.Snapshot{}}}, http.StatusOK, "ok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(Config{}, tc.src, logx.Nop()).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tc.code, rec.Code)
			var body health
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
		})
	}
}

func TestSchedulesAndMetrics(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("m 1\n")) })
	src := Sources{
		Metrics:   metrics,
		Schedules: fakeSchedules{scheduler.Snapshot{Enabled: true, Running: true, Timezone: "UTC", Schedules: []scheduler.ScheduleInfo{{JobID: "J1", CronExpr: "0 0 * * * *"}}}},
	}
	h := New(Config{}, src, logx.Nop()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/schedules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap scheduler.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "J1", snap.Schedules[0].JobID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "m 1\n", rec.Body.String())
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, Sources{}, logx.Nop()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=s3cret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":6060"))
	assert.False(t, isLoopbackAddr("10.0.0.1:80"))
	assert.False(t, isLoopbackAddr("garbage"))
}
