package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"prodsched/internal/task/registry"
	logx "prodsched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	got time.Duration
	n   int64
	err error
}

func (f *fakePruner) Prune(_ context.Context, retention time.Duration) (int64, error) {
	f.got = retention
	return f.n, f.err
}

func TestTableKeys(t *testing.T) {
	t.Parallel()
	r := registry.New(Table(Deps{}))
	assert.Equal(t, []string{
		KeyMaterialImport,
		KeyProductionPlanImport,
		KeyProductionResultExport,
		KeyHistoryPrune,
		KeySystemHeartbeat,
	}, r.Keys())
}

func TestHistoryPruneUsesLiveRetention(t *testing.T) {
	t.Parallel()
	p := &fakePruner{n: 3}
	retention := 48 * time.Hour
	tbl := Table(Deps{Log: logx.Nop(), Pruner: p, Retention: func() time.Duration { return retention }})

	require.NoError(t, tbl[KeyHistoryPrune](context.Background(), registry.Params{}))
	assert.Equal(t, 48*time.Hour, p.got)

	retention = 0
	require.NoError(t, tbl[KeyHistoryPrune](context.Background(), registry.Params{}))
	assert.Equal(t, 90*24*time.Hour, p.got)

	p.err = errors.New("locked")
	err := tbl[KeyHistoryPrune](context.Background(), registry.Params{})
	assert.ErrorContains(t, err, "prune history")
}

func TestHeartbeatPing(t *testing.T) {
	t.Parallel()
	down := errors.New("db down")
	tbl := Table(Deps{Ping: func(context.Context) error { return down }})
	err := tbl[KeySystemHeartbeat](context.Background(), registry.Params{JobID: "hb"})
	assert.ErrorIs(t, err, down)

	tbl = Table(Deps{})
	assert.NoError(t, tbl[KeySystemHeartbeat](context.Background(), registry.Params{}))
}

func TestERPBodiesCallGateway(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2025-01-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2025-01-31", r.URL.Query().Get("to"))
		switch r.URL.Path {
		case "/api/v1/production-results/export":
			assert.Equal(t, http.MethodPost, r.Method)
		default:
			assert.Equal(t, http.MethodGet, r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"count":12}`))
	}))
	defer srv.Close()

	tbl := Table(Deps{ERP: NewERPClient(ERPConfig{BaseURL: srv.URL + "/", Token: "secret"})})
	p := registry.Params{From: "2025-01-01", To: "2025-01-31"}
	for _, key := range []string{KeyMaterialImport, KeyProductionPlanImport, KeyProductionResultExport} {
		require.NoError(t, tbl[key](context.Background(), p), key)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestERPFailures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/materials/import":
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`{"ok":false,"message":"plan locked"}`))
		}
	}))
	defer srv.Close()

	client := NewERPClient(ERPConfig{BaseURL: srv.URL})
	tbl := Table(Deps{ERP: client})

	err := tbl[KeyMaterialImport](context.Background(), registry.Params{})
	var ee *ERPError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, http.StatusServiceUnavailable, ee.Status)
	assert.Contains(t, err.Error(), "maintenance")
	assert.Contains(t, err.Error(), KeyMaterialImport)

	err = tbl[KeyProductionPlanImport](context.Background(), registry.Params{})
	assert.ErrorContains(t, err, "plan locked")

	client.Apply(ERPConfig{})
	err = tbl[KeyProductionPlanImport](context.Background(), registry.Params{})
	assert.ErrorIs(t, err, ErrERPNotConfigured)

	assert.ErrorIs(t, Table(Deps{})[KeyMaterialImport](context.Background(), registry.Params{}), ErrERPNotConfigured)
}

func TestERPTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewERPClient(ERPConfig{BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond})
	_, err := client.Call(context.Background(), http.MethodGet, "/slow", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
