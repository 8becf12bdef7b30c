package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduling metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_sched_fcfs_duration_seconds",
			Help:    "Time taken for an FCFS scheduling pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_sched_jobs_scheduled_total",
			Help: "Total number of jobs successfully placed",
		},
	)

	JobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_sched_jobs_failed_total",
			Help: "Total number of jobs that failed placement, by reason",
		},
		[]string{"reason"},
	)

	// Chain metrics
	ChainsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_sched_chains_active",
			Help: "Number of chains currently owned by the processor",
		},
	)

	ChainStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_sched_chain_stage_duration_seconds",
			Help:    "Time taken by one chain algorithm stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	// Processor / command dispatch metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_sched_commands_total",
			Help: "Total number of commands dispatched by kind and status",
		},
		[]string{"kind", "status"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_sched_queue_depth",
			Help: "Current depth of a bounded queue",
		},
		[]string{"queue"},
	)

	// Exchange metrics
	ExchangeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_sched_exchange_duration_seconds",
			Help:    "Time taken for a chain exchange handshake in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExchangesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_sched_exchanges_failed_total",
			Help: "Total number of exchange handshakes that timed out or failed",
		},
	)
)

func init() {
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(JobsScheduled)
	prometheus.MustRegister(JobsFailed)
	prometheus.MustRegister(ChainsActive)
	prometheus.MustRegister(ChainStageDuration)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ExchangeDuration)
	prometheus.MustRegister(ExchangesFailed)
}

// Handler returns the Prometheus HTTP handler for ambient ops scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a prometheus
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec
// with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
