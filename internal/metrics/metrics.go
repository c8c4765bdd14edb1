package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
// Every method is a no-op on a nil *Metrics.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	repairRuns          *prometheus.CounterVec
	repairRunDuration   *prometheus.HistogramVec
	repairStages        *prometheus.CounterVec
	diagnoses           *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP, diagnosis and repair
// metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensorfix",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by sensorfix",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sensorfix",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by sensorfix",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	repairRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensorfix",
		Name:      "repair_runs_total",
		Help:      "Repair passes by defect and result",
	}, []string{"defect", "result"})

	repairRunDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sensorfix",
		Name:      "repair_run_duration_seconds",
		Help:      "Duration of repair passes from first stage to last",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"defect"})

	repairStages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensorfix",
		Name:      "repair_stage_total",
		Help:      "Attempted repair stages by defect, stage and result",
	}, []string{"defect", "stage", "result"})

	diagnoses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensorfix",
		Name:      "diagnosis_total",
		Help:      "Defect diagnoses by defect and outcome",
	}, []string{"defect", "necessary"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		repairRuns,
		repairRunDuration,
		repairStages,
		diagnoses,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		repairRuns:          repairRuns,
		repairRunDuration:   repairRunDuration,
		repairStages:        repairStages,
		diagnoses:           diagnoses,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveRepair records one finished repair pass.
func (m *Metrics) ObserveRepair(defect string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.repairRuns.WithLabelValues(defect, result(ok)).Inc()
	m.repairRunDuration.WithLabelValues(defect).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStage(defect, stage string, ok bool) {
	if m == nil {
		return
	}
	m.repairStages.WithLabelValues(defect, stage, result(ok)).Inc()
}

func (m *Metrics) ObserveDiagnosis(defect string, necessary bool) {
	if m == nil {
		return
	}
	m.diagnoses.WithLabelValues(defect, strconv.FormatBool(necessary)).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
