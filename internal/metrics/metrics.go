// Package metrics exposes pipeline counters and histograms to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records pipeline metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	documentsTotal  *prometheus.CounterVec
	chunksIndexed   prometheus.Counter
	gatewayErrors   *prometheus.CounterVec
	queriesTotal    *prometheus.CounterVec
	queryDuration   prometheus.Histogram
	retrievedChunks prometheus.Histogram
	ingestDuration  prometheus.Histogram
}

// New registers the collector's metrics on reg.
func New(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		documentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed during ingestion, by outcome",
		}, []string{"status"}),
		chunksIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the vector index",
		}),
		gatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Failed calls to external gateways",
		}, []string{"gateway"}),
		queriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Questions answered, by outcome",
		}, []string{"status"}),
		queryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end question latency",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		retrievedChunks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_chunks",
			Help:      "Chunks used to ground each answer",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		ingestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of ingestion runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

func (c *Collector) DocumentLoaded() {
	if c != nil {
		c.documentsTotal.WithLabelValues("loaded").Inc()
	}
}

func (c *Collector) DocumentFailed() {
	if c != nil {
		c.documentsTotal.WithLabelValues("failed").Inc()
	}
}

func (c *Collector) ChunksIndexed(n int) {
	if c != nil {
		c.chunksIndexed.Add(float64(n))
	}
}

// GatewayError counts a failure of the named gateway ("embedding" or "chat").
func (c *Collector) GatewayError(gateway string) {
	if c != nil {
		c.gatewayErrors.WithLabelValues(gateway).Inc()
	}
}

// Query records one answered (or failed) question.
func (c *Collector) Query(status string, d time.Duration, chunks int) {
	if c == nil {
		return
	}
	c.queriesTotal.WithLabelValues(status).Inc()
	c.queryDuration.Observe(d.Seconds())
	if status == "ok" {
		c.retrievedChunks.Observe(float64(chunks))
	}
}

func (c *Collector) Ingest(d time.Duration) {
	if c != nil {
		c.ingestDuration.Observe(d.Seconds())
	}
}
