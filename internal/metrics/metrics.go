// Package metrics exposes Prometheus metrics for ingestion, graph growth,
// explanations, layout and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons for documents_failed_total
const (
	ReasonRateLimited = "rate_limited"
	ReasonExtraction  = "extraction"
	ReasonCanceled    = "canceled"
)

// Collector holds all Prometheus metrics for decipher.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	DocumentsIngested  prometheus.Counter
	DocumentsFailed    *prometheus.CounterVec
	RateLimitCooldowns prometheus.Counter
	Batches            *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec

	GraphNodes     prometheus.Gauge
	GraphRelations prometheus.Gauge

	Explanations *prometheus.CounterVec
	LayoutTicks  prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		DocumentsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents admitted into the library",
		}),
		DocumentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_failed_total",
			Help:      "Documents dropped from a batch",
		}, []string{"reason"}),
		RateLimitCooldowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_cooldowns_total",
			Help:      "Cooldowns applied after a rate-limited extraction",
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches by outcome",
		}, []string{"outcome"}),
		ExtractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Latency of external service calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"service", "status"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Concept nodes in the graph store",
		}),
		GraphRelations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_relations",
			Help:      "Concept relations in the graph store",
		}),
		Explanations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explanations_total",
			Help:      "Term resolutions by outcome",
		}, []string{"outcome"}),
		LayoutTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_ticks_total",
			Help:      "Layout simulation ticks",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.DocumentsIngested, c.DocumentsFailed, c.RateLimitCooldowns, c.Batches,
		c.ExtractionDuration, c.CacheLookups, c.GraphNodes, c.GraphRelations,
		c.Explanations, c.LayoutTicks, c.HTTPRequests, c.HTTPDuration,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// DocumentIngested counts an admitted document
func (c *Collector) DocumentIngested() {
	if c == nil {
		return
	}
	c.DocumentsIngested.Inc()
}

// DocumentFailed counts a dropped document
func (c *Collector) DocumentFailed(reason string) {
	if c == nil {
		return
	}
	c.DocumentsFailed.WithLabelValues(reason).Inc()
}

// Cooldown counts a rate-limit cooldown
func (c *Collector) Cooldown() {
	if c == nil {
		return
	}
	c.RateLimitCooldowns.Inc()
}

// BatchFinished counts a batch by outcome (complete, partial, failed, canceled)
func (c *Collector) BatchFinished(outcome string) {
	if c == nil {
		return
	}
	c.Batches.WithLabelValues(outcome).Inc()
}

// ObserveExtraction records one external service call
func (c *Collector) ObserveExtraction(service string, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.ExtractionDuration.WithLabelValues(service, status).Observe(d.Seconds())
}

// CacheLookup records a hit or miss of the named cache (extraction, explanation)
func (c *Collector) CacheLookup(name string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(name, result).Inc()
}

// GraphSize sets the graph gauges
func (c *Collector) GraphSize(nodes, relations int) {
	if c == nil {
		return
	}
	c.GraphNodes.Set(float64(nodes))
	c.GraphRelations.Set(float64(relations))
}

// Explanation counts a term resolution outcome (resolved, failed, stale)
func (c *Collector) Explanation(outcome string) {
	if c == nil {
		return
	}
	c.Explanations.WithLabelValues(outcome).Inc()
}

// LayoutTick counts simulation ticks
func (c *Collector) LayoutTick(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.LayoutTicks.Add(float64(n))
}

// HTTPRequest records one served request
func (c *Collector) HTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
