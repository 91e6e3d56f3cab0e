// Package metrics defines the Prometheus metric collectors used across the
// phrase table and exposes an HTTP handler for scraping. Core components
// receive a Recorder so that they never touch global collectors directly.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the instrumentation surface injected into the core.
type Recorder interface {
	ObserveCollect(locations, samples int, elapsed time.Duration)
	ObserveQuery(kind string, options int, elapsed time.Duration)
	UpdateReceived()
	UpdateDropped(reason string)
	ObserveFlush(records int, status string, elapsed time.Duration)
	SetSegments(n int)
	MergeCompleted(status string)
	CacheHit()
	CacheMiss()
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) ObserveCollect(int, int, time.Duration)  {}
func (Nop) ObserveQuery(string, int, time.Duration) {}
func (Nop) UpdateReceived()                         {}
func (Nop) UpdateDropped(string)                    {}
func (Nop) ObserveFlush(int, string, time.Duration) {}
func (Nop) SetSegments(int)                         {}
func (Nop) MergeCompleted(string)                   {}
func (Nop) CacheHit()                               {}
func (Nop) CacheMiss()                              {}

// OrNop returns r, or a Nop recorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Metrics holds all Prometheus collectors for the phrase table service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	OptionsPerQuery      prometheus.Histogram
	CollectLocations     prometheus.Histogram
	SamplesPerCollect    prometheus.Histogram
	CollectLatency       prometheus.Histogram
	UpdatesReceived      prometheus.Counter
	UpdatesDropped       *prometheus.CounterVec
	UpdatesApplied       prometheus.Counter
	FlushesTotal         *prometheus.CounterVec
	FlushLatency         prometheus.Histogram
	Segments             prometheus.Gauge
	MergesTotal          *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phrase_table_queries_total",
				Help: "Total translation option lookups by kind (phrase, sentence).",
			},
			[]string{"kind"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phrase_table_query_latency_seconds",
				Help:    "Translation option lookup latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"kind"},
		),
		OptionsPerQuery: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phrase_table_options_per_query",
				Help:    "Number of translation options returned per lookup.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
			},
		),
		CollectLocations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collector_locations",
				Help:    "Locations gathered per collector extension.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		SamplesPerCollect: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collector_samples",
				Help:    "Samples materialized per collector extension.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		CollectLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collector_extend_latency_seconds",
				Help:    "Collector extension latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		UpdatesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "updates_received_total",
				Help: "Total corpus updates offered to the update manager.",
			},
		),
		UpdatesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "updates_dropped_total",
				Help: "Updates dropped before indexing, by reason.",
			},
			[]string{"reason"},
		),
		UpdatesApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "updates_applied_total",
				Help: "Corpus updates committed to the index.",
			},
		),
		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		FlushLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_flush_latency_seconds",
				Help:    "Index flush latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		Segments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_segments",
				Help: "Number of live index segments.",
			},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_merges_total",
				Help: "Total segment merges by status.",
			},
			[]string{"status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of option cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of option cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.QueryLatency,
		m.OptionsPerQuery,
		m.CollectLocations,
		m.SamplesPerCollect,
		m.CollectLatency,
		m.UpdatesReceived,
		m.UpdatesDropped,
		m.UpdatesApplied,
		m.FlushesTotal,
		m.FlushLatency,
		m.Segments,
		m.MergesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// TrackHTTP marks a request in flight and returns the function that records
// its outcome.
func (m *Metrics) TrackHTTP() func(method, route string, status int) {
	start := time.Now()
	m.HTTPRequestsInFlight.Inc()
	return func(method, route string, status int) {
		m.HTTPRequestsInFlight.Dec()
		m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveCollect(locations, samples int, elapsed time.Duration) {
	m.CollectLocations.Observe(float64(locations))
	m.SamplesPerCollect.Observe(float64(samples))
	m.CollectLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveQuery(kind string, options int, elapsed time.Duration) {
	m.QueriesTotal.WithLabelValues(kind).Inc()
	m.QueryLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.OptionsPerQuery.Observe(float64(options))
}

func (m *Metrics) UpdateReceived() {
	m.UpdatesReceived.Inc()
}

func (m *Metrics) UpdateDropped(reason string) {
	m.UpdatesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveFlush(records int, status string, elapsed time.Duration) {
	m.FlushesTotal.WithLabelValues(status).Inc()
	m.FlushLatency.Observe(elapsed.Seconds())
	if status == "success" {
		m.UpdatesApplied.Add(float64(records))
	}
}

func (m *Metrics) SetSegments(n int) {
	m.Segments.Set(float64(n))
}

func (m *Metrics) MergeCompleted(status string) {
	m.MergesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) CacheHit() {
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	m.CacheMissesTotal.Inc()
}
