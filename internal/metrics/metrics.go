// Package metrics holds the prometheus collectors for the HTTP layer and the
// external services the handlers call.
package metrics

import (
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream service labels.
const (
	ServiceObjectStore = "object_store"
	ServiceDetection   = "detection"
	ServiceChat        = "chat"
	ServiceDatabase    = "database"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	upstreamCallsTotal   *prometheus.CounterVec
	upstreamCallDuration *prometheus.HistogramVec

	detectionsTotal prometheus.Counter
	chatSessions    prometheus.GaugeFunc
}

// New creates a registry with process/go collectors and the service metrics.
// sessionCount, when non-nil, backs the active chat session gauge.
func New(sessionCount func() int) (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.upstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oha_upstream_calls_total",
			Help: "Calls to external collaborators by outcome",
		},
		[]string{"service", "status"}, // status: success, error
	)
	m.upstreamCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oha_upstream_call_duration_seconds",
			Help:    "Time taken by calls to external collaborators",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"service"},
	)
	m.detectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oha_detections_total",
		Help: "Detection records returned by predict",
	})

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamCallsTotal,
		m.upstreamCallDuration,
		m.detectionsTotal,
	}
	if sessionCount != nil {
		m.chatSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "oha_chat_sessions",
			Help: "Chat sessions currently cached",
		}, func() float64 { return float64(sessionCount()) })
		cs = append(cs, m.chatSessions)
	}

	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

func (m *Metrics) ObserveRequest(method, path, status string, seconds float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

func (m *Metrics) ObserveUpstream(service string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.upstreamCallsTotal.WithLabelValues(service, status).Inc()
	m.upstreamCallDuration.WithLabelValues(service).Observe(seconds)
}

func (m *Metrics) AddDetections(n int) {
	m.detectionsTotal.Add(float64(n))
}
