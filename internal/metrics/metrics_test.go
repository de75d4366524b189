package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prodsched/internal/eventbus"
	logx "prodsched/pkg/logx"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveExecutionLifecycle(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())

	c.Observe(eventbus.Event{Type: eventbus.TypeExecutionStarted, Data: eventbus.ExecutionEvent{JobID: "J1"}})
	assert.InDelta(t, 1, testutil.ToFloat64(c.running), 0)

	c.Observe(eventbus.Event{Type: eventbus.TypeExecutionFinished, Data: eventbus.ExecutionEvent{
		JobID: "J1", Status: "FAILED", Trigger: "MANUAL", Duration: 2 * time.Second,
	}})
	assert.InDelta(t, 0, testutil.ToFloat64(c.running), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.executions.WithLabelValues("J1", "FAILED", "MANUAL")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestObserveFiresAndReconcile(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())

	c.Observe(eventbus.Event{Type: eventbus.TypeFireQueued, Data: eventbus.FireEvent{JobID: "J1"}})
	c.Observe(eventbus.Event{Type: eventbus.TypeFireDropped, Data: eventbus.FireEvent{JobID: "J1", Reason: "queue full"}})
	c.Observe(eventbus.Event{Type: eventbus.TypeReconciled, Data: eventbus.ReconcileEvent{
		Armed:   []string{"J1", "J2"},
		Skipped: map[string]string{"J3": "bad cron"},
	}})
	c.Observe(eventbus.Event{Type: "something.else"})
	c.Observe(eventbus.Event{Type: eventbus.TypeFireDropped, Data: "wrong payload"})

	assert.InDelta(t, 1, testutil.ToFloat64(c.queued), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.dropped.WithLabelValues("J1")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.armed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.skipped), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.reconciles), 0)
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, Events...)
	defer unsub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, ch)
		close(done)
	}()

	eventbus.Publish(bus, eventbus.TypeFireQueued, eventbus.FireEvent{JobID: "J1"})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.queued) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	c.Observe(eventbus.Event{Type: eventbus.TypeFireQueued, Data: eventbus.FireEvent{JobID: "J1"}})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "prodsched_fires_queued_total 1"))
	assert.Contains(t, string(body), "go_goroutines")
}

func TestWatchBusExportsDrops(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	bus := eventbus.New()
	c.WatchBus(bus)
	_, unsub := bus.Subscribe(1)
	defer unsub()
	for i := 0; i < 3; i++ {
		eventbus.Publish(bus, eventbus.TypeFireQueued, nil)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "prodsched_events_dropped_total 2")
}
