// Package metrics turns pipeline events into Prometheus collectors.
package metrics

import (
	"context"
	"net/http"

	"prodsched/internal/eventbus"
	logx "prodsched/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prodsched"

// Collector owns its registry so several instances can coexist in tests.
type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	executions *prometheus.CounterVec
	running    prometheus.Gauge
	duration   *prometheus.HistogramVec
	queued     prometheus.Counter
	dropped    *prometheus.CounterVec
	armed      prometheus.Gauge
	skipped    prometheus.Counter
	reconciles prometheus.Counter
}

func New(log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		log: log,
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished job executions by job and terminal status.",
		}, []string{"job", "status", "trigger"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_running",
			Help:      "Job bodies currently executing.",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of job bodies.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		queued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fires_queued_total",
			Help:      "Scheduled fires accepted by the worker pool.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fires_dropped_total",
			Help:      "Scheduled fires the worker pool did not run.",
		}, []string{"job"}),
		armed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedules_armed",
			Help:      "Schedules armed by the last reconciliation.",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_skipped_total",
			Help:      "Enabled definitions that could not be armed.",
		}),
		reconciles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Completed Initialize/Restart calls.",
		}),
	}
}

// Registry exposes the underlying registry for extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Events lists the event types Observe understands, for a filtered
// subscription.
var Events = []string{
	eventbus.TypeExecutionStarted,
	eventbus.TypeExecutionFinished,
	eventbus.TypeFireQueued,
	eventbus.TypeFireDropped,
	eventbus.TypeReconciled,
}

// WatchBus exports the bus's lost deliveries, including the collector's
// own subscription falling behind.
func (c *Collector) WatchBus(b eventbus.Bus) {
	c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Pipeline events lost to full subscriber buffers.",
	}, func() float64 { return float64(b.Dropped()) }))
}

// Run consumes events until ctx is done or ch is closed. Subscribe before
// starting producers so no event is missed.
func (c *Collector) Run(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

// Observe applies one event. Unknown types are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeExecutionStarted:
		c.running.Inc()
	case eventbus.TypeExecutionFinished:
		ev, ok := e.Data.(eventbus.ExecutionEvent)
		if !ok {
			return
		}
		c.running.Dec()
		c.executions.WithLabelValues(ev.JobID, ev.Status, ev.Trigger).Inc()
		c.duration.WithLabelValues(ev.JobID).Observe(ev.Duration.Seconds())
	case eventbus.TypeFireQueued:
		c.queued.Inc()
	case eventbus.TypeFireDropped:
		ev, ok := e.Data.(eventbus.FireEvent)
		if !ok {
			return
		}
		c.dropped.WithLabelValues(ev.JobID).Inc()
		c.log.Debug("fire dropped", logx.JobID(ev.JobID), logx.String("reason", ev.Reason))
	case eventbus.TypeReconciled:
		ev, ok := e.Data.(eventbus.ReconcileEvent)
		if !ok {
			return
		}
		c.reconciles.Inc()
		c.armed.Set(float64(len(ev.Armed)))
		c.skipped.Add(float64(len(ev.Skipped)))
	}
}
