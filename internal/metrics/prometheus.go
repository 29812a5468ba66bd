package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for engine metrics:
// per-arrow throughput, latency, queue depth, and aggregate
// events-completed, per spec.md §6 "Observable outputs".
type PrometheusMetrics struct {
	registry *prometheus.Registry

	firesTotal       *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	fireDuration     *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	reservedCount    *prometheus.GaugeVec
	poolAvailable    *prometheus.GaugeVec
	workerUsefulTime *prometheus.CounterVec
	workerIdleTime   *prometheus.CounterVec
	workerRetryTime  *prometheus.CounterVec
	activeWorkers    prometheus.Gauge
	uptime           prometheus.GaugeFunc
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var promMetrics *PrometheusMetrics

var startTime = time.Now()

// StartTime returns when InitPrometheus was last invoked (or package
// initialization, if it never was), used for the
// uptime gauge (matches the teacher's StartTime pattern).
func StartTime() time.Time { return startTime }

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	startTime = time.Now()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		firesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "arrow_fires_total",
				Help:      "Total number of arrow Fire invocations by arrow and result status",
			},
			[]string{"arrow", "status"},
		),

		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of events retired, by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		fireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "arrow_fire_duration_milliseconds",
				Help:      "Duration of arrow Fire calls in milliseconds",
				Buckets:   buckets,
			},
			[]string{"arrow"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current queue depth by queue name and location",
			},
			[]string{"queue", "location"},
		),

		reservedCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_reserved_count",
				Help:      "Current reserved slot count by queue name and location",
			},
			[]string{"queue", "location"},
		),

		poolAvailable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_available_items",
				Help:      "Current available item count by pool name and location",
			},
			[]string{"pool", "location"},
		),

		workerUsefulTime: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_useful_seconds_total",
				Help:      "Cumulative time workers spent executing arrows",
			},
			[]string{"worker"},
		),

		workerIdleTime: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_idle_seconds_total",
				Help:      "Cumulative time workers spent idling with no assignment",
			},
			[]string{"worker"},
		),

		workerRetryTime: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_retry_seconds_total",
				Help:      "Cumulative time workers spent backing off after ComeBackLater",
			},
			[]string{"worker"},
		),

		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Number of currently running worker goroutines",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the engine supervisor started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.firesTotal,
		pm.eventsTotal,
		pm.fireDuration,
		pm.queueDepth,
		pm.reservedCount,
		pm.poolAvailable,
		pm.workerUsefulTime,
		pm.workerIdleTime,
		pm.workerRetryTime,
		pm.activeWorkers,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordArrowFire records one arrow Fire outcome in Prometheus.
func RecordArrowFire(arrow, status string, durationMs float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.firesTotal.WithLabelValues(arrow, status).Inc()
	promMetrics.fireDuration.WithLabelValues(arrow).Observe(durationMs)
}

// RecordEvent records a retired event, by outcome ("completed" or "failed").
func RecordEvent(source, outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.eventsTotal.WithLabelValues(source, outcome).Inc()
}

// SetQueueDepth sets the queue depth gauge for a queue/location pair.
func SetQueueDepth(queue, location string, depth int) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueDepth.WithLabelValues(queue, location).Set(float64(depth))
}

// SetReservedCount sets the reserved-slot gauge for a queue/location pair.
func SetReservedCount(queue, location string, reserved int) {
	if promMetrics == nil {
		return
	}
	promMetrics.reservedCount.WithLabelValues(queue, location).Set(float64(reserved))
}

// SetPoolAvailable sets the available-item gauge for a pool/location pair.
func SetPoolAvailable(pool, location string, available int) {
	if promMetrics == nil {
		return
	}
	promMetrics.poolAvailable.WithLabelValues(pool, location).Set(float64(available))
}

// RecordWorkerTimes adds one worker-loop iteration's timings to the
// cumulative per-worker counters.
func RecordWorkerTimes(worker string, useful, idle, retry time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.workerUsefulTime.WithLabelValues(worker).Add(useful.Seconds())
	promMetrics.workerIdleTime.WithLabelValues(worker).Add(idle.Seconds())
	promMetrics.workerRetryTime.WithLabelValues(worker).Add(retry.Seconds())
}

// SetActiveWorkers sets the active-worker gauge.
func SetActiveWorkers(count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeWorkers.Set(float64(count))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
