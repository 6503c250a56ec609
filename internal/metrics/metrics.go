package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Database operation labels
const (
	DBQueryTypeSelect = "select"
	DBQueryTypeInsert = "insert"
	DBQueryTypeUpdate = "update"
	DBQueryTypeDelete = "delete"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	dbQueries        *prometheus.CounterVec
	dbDuration       *prometheus.HistogramVec
	operations       *prometheus.CounterVec
	versionConflicts prometheus.Counter
	eventsPublished  *prometheus.CounterVec
	publishDuration  prometheus.Histogram
	deadLetters      *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resource_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		dbQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_db_queries_total",
			Help: "Database statements by operation and outcome.",
		}, []string{"operation", "status"}),
		dbDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resource_db_query_duration_seconds",
			Help:    "Database statement latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_operations_total",
			Help: "Resource service operations by name and outcome.",
		}, []string{"operation", "status"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resource_version_conflicts_total",
			Help: "Mutations rejected because the stored version moved on.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_events_published_total",
			Help: "Resource events by type and delivery outcome.",
		}, []string{"event_type", "status"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resource_event_publish_duration_seconds",
			Help:    "Time spent sending one event to the broker.",
			Buckets: prometheus.DefBuckets,
		}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_dead_letters_total",
			Help: "Dead-lettered events by failure category.",
		}, []string{"category"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_cache_lookups_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.dbQueries, m.dbDuration,
		m.operations, m.versionConflicts,
		m.eventsPublished, m.publishDuration,
		m.deadLetters, m.cacheLookups,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RecordDatabaseQuery(operation string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.dbQueries.WithLabelValues(operation, outcome(success)).Inc()
	m.dbDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome(err == nil)).Inc()
}

func (m *Metrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

func (m *Metrics) RecordEventPublished(eventType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType, status).Inc()
	if d > 0 {
		m.publishDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) RecordDeadLetter(category string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
