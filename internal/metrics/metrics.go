package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the service's Prometheus instruments. A nil *Collectors
// is valid and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	hoursCredit  prometheus.Counter
	hoursDebit   prometheus.Counter
	drift        prometheus.Gauge
	reconcileRun *prometheus.CounterVec
	liveClients  prometheus.Gauge
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicehours",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "servicehours",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicehours",
			Name:      "workflow_transitions_total",
			Help:      "Completed approval workflow transitions.",
		}, []string{"transition"}),
		hoursCredit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "servicehours",
			Name:      "hours_credited_total",
			Help:      "Hours added to student totals.",
		}),
		hoursDebit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "servicehours",
			Name:      "hours_debited_total",
			Help:      "Hours removed from student totals by entry deletion.",
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "servicehours",
			Name:      "reconcile_discrepancies",
			Help:      "Students whose total disagreed with approved entries in the last sweep.",
		}),
		reconcileRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "servicehours",
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation runs by trigger and outcome.",
		}, []string{"trigger", "result"}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "servicehours",
			Name:      "live_clients",
			Help:      "Connected dashboard streams.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requests, c.latency, c.transitions, c.hoursCredit, c.hoursDebit,
		c.drift, c.reconcileRun, c.liveClients,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware records request count and latency per matched route.
func (c *Collectors) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		if c == nil {
			return
		}
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.requests.WithLabelValues(route, method, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.latency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// Transition counts one completed workflow action such as "approve".
func (c *Collectors) Transition(name string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(name).Inc()
}

// HoursMoved records a change to a student total. Positive deltas are
// credits, negative deltas debits.
func (c *Collectors) HoursMoved(delta float64) {
	if c == nil || delta == 0 {
		return
	}
	if delta > 0 {
		c.hoursCredit.Add(delta)
		return
	}
	c.hoursDebit.Add(-delta)
}

// Reconciled records a reconciliation run.
func (c *Collectors) Reconciled(trigger string, drifted int, err error) {
	if c == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case drifted > 0:
		result = "drift"
	}
	c.reconcileRun.WithLabelValues(trigger, result).Inc()
	if trigger == "sweep" && err == nil {
		c.drift.Set(float64(drifted))
	}
}

// LiveClients adjusts the connected stream gauge.
func (c *Collectors) LiveClients(delta int) {
	if c == nil {
		return
	}
	c.liveClients.Add(float64(delta))
}
