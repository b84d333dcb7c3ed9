package observability

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value float64
	mu    sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name  string
	help  string
	value float64
	mu    sync.Mutex
}

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency in seconds.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records the elapsed time since start in the histogram.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler serving Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes all metrics in Prometheus text format, sorted by
// name so the output is stable.
func (r *MetricsRegistry) WritePrometheus(w http.ResponseWriter) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.value)
		c.mu.Unlock()
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.value)
		g.mu.Unlock()
	}

	for _, name := range sortedKeys(r.histos) {
		h := r.histos[name]
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeMetric(w http.ResponseWriter, name, metricType, help string, value float64) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
	w.Write([]byte(name + " " + formatFloat(value) + "\n"))
}

func writeHistogram(w http.ResponseWriter, h *Histogram) {
	w.Write([]byte("# HELP " + h.name + " " + h.help + "\n"))
	w.Write([]byte("# TYPE " + h.name + " histogram\n"))

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		w.Write([]byte(h.name + "_bucket{le=\"" + formatFloat(bound) + "\"} "))
		w.Write([]byte(strconv.FormatUint(cumulative, 10) + "\n"))
	}
	w.Write([]byte(h.name + "_bucket{le=\"+Inf\"} " + strconv.FormatUint(h.count, 10) + "\n"))
	w.Write([]byte(h.name + "_sum " + formatFloat(h.sum) + "\n"))
	w.Write([]byte(h.name + "_count " + strconv.FormatUint(h.count, 10) + "\n"))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Sage-specific metrics

// SageMetrics contains the ingestion and retrieval metrics.
type SageMetrics struct {
	Registry *MetricsRegistry

	// Ingestion metrics
	IngestRunsTotal    *Counter
	IngestErrorsTotal  *Counter
	IngestDuration     *Histogram
	DocsProcessedTotal *Counter
	DocsSkippedTotal   *Counter
	DocsDeletedTotal   *Counter
	ChunksIndexedTotal *Counter

	// Retrieval metrics
	QueriesTotal        *Counter
	QueryErrorsTotal    *Counter
	QueryDuration       *Histogram
	RerankFallbackTotal *Counter

	// Active workers gauge
	ActiveWorkers *Gauge
}

// NewSageMetrics creates the Sage metric set on a fresh registry.
func NewSageMetrics() *SageMetrics {
	r := NewMetricsRegistry()

	return &SageMetrics{
		Registry: r,

		IngestRunsTotal:    r.NewCounter("sage_ingest_runs_total", "Total ingestion runs"),
		IngestErrorsTotal:  r.NewCounter("sage_ingest_errors_total", "Total failed ingestion runs"),
		IngestDuration:     r.NewHistogram("sage_ingest_duration_seconds", "Ingestion run duration", []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}),
		DocsProcessedTotal: r.NewCounter("sage_documents_processed_total", "Documents chunked and indexed"),
		DocsSkippedTotal:   r.NewCounter("sage_documents_skipped_total", "Documents skipped due to load or encode errors"),
		DocsDeletedTotal:   r.NewCounter("sage_documents_deleted_total", "Stale documents removed from the index"),
		ChunksIndexedTotal: r.NewCounter("sage_chunks_indexed_total", "Chunk vectors written across all models"),

		QueriesTotal:        r.NewCounter("sage_queries_total", "Total retrieval queries"),
		QueryErrorsTotal:    r.NewCounter("sage_query_errors_total", "Total failed retrieval queries"),
		QueryDuration:       r.NewHistogram("sage_query_duration_seconds", "Retrieval query duration", nil),
		RerankFallbackTotal: r.NewCounter("sage_rerank_fallbacks_total", "Queries answered in stage-one order because reranking failed"),

		ActiveWorkers: r.NewGauge("sage_active_workers", "Number of active ingestion workers"),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *SageMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordIngestRun records one ingestion run.
func (m *SageMetrics) RecordIngestRun(duration time.Duration, processed, skipped, deleted, indexed int, err error) {
	m.IngestRunsTotal.Inc()
	m.IngestDuration.Observe(duration.Seconds())
	m.DocsProcessedTotal.Add(float64(processed))
	m.DocsSkippedTotal.Add(float64(skipped))
	m.DocsDeletedTotal.Add(float64(deleted))
	m.ChunksIndexedTotal.Add(float64(indexed))
	if err != nil {
		m.IngestErrorsTotal.Inc()
	}
}

// RecordQuery records one retrieval query.
func (m *SageMetrics) RecordQuery(duration time.Duration, err error) {
	m.QueriesTotal.Inc()
	m.QueryDuration.Observe(duration.Seconds())
	if err != nil {
		m.QueryErrorsTotal.Inc()
	}
}

// RecordRerankFallback records a query that fell back to stage-one order.
func (m *SageMetrics) RecordRerankFallback() {
	m.RerankFallbackTotal.Inc()
}

// Global metrics instance
var globalMetrics *SageMetrics
var metricsOnce sync.Once

// Metrics returns the global metrics instance.
func Metrics() *SageMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewSageMetrics()
	})
	return globalMetrics
}
