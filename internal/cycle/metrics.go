package cycle

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects poll and delivery counters on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	cyclesTotal    *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	eventsObserved prometheus.Counter
	eventsDropped  prometheus.Counter
	groupsPlanned  *prometheus.GaugeVec
	deliveries     *prometheus.CounterVec
	lastSuccess    prometheus.Gauge
}

// NewMetrics builds and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropwatch_cycles_total",
			Help: "Poll cycles run, by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cropwatch_cycle_duration_seconds",
			Help:    "Histogram of poll cycle durations.",
			Buckets: prometheus.DefBuckets,
		}),
		eventsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropwatch_events_observed_total",
			Help: "Ready events extracted from snapshots.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cropwatch_events_dropped_total",
			Help: "Snapshot records dropped as malformed.",
		}),
		groupsPlanned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cropwatch_groups_planned",
			Help: "Groups in the most recent plan, by category.",
		}, []string{"category"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cropwatch_deliveries_total",
			Help: "Notification deliveries, by category.",
		}, []string{"category"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cropwatch_last_success_timestamp_seconds",
			Help: "Unix time of the last successful poll cycle.",
		}),
	}
	m.registry.MustRegister(
		m.cyclesTotal,
		m.cycleDuration,
		m.eventsObserved,
		m.eventsDropped,
		m.groupsPlanned,
		m.deliveries,
		m.lastSuccess,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeCycle(report Report) {
	if m == nil {
		return
	}
	result := "ok"
	if report.Err != "" {
		result = "error"
	}
	m.cyclesTotal.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(report.Duration.Seconds())
	m.eventsObserved.Add(float64(report.Events))
	m.eventsDropped.Add(float64(report.Dropped))
	if report.Err != "" {
		return
	}
	m.lastSuccess.Set(float64(report.FinishedAt.Unix()))
	m.groupsPlanned.Reset()
	for _, res := range report.Plan.Categories {
		m.groupsPlanned.WithLabelValues(string(res.Category)).Set(float64(res.Groups))
	}
}

// Delivered counts one delivered group.
func (m *Metrics) Delivered(category string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(category).Inc()
}
