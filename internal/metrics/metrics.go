// Package metrics exports ingestion and retrieval counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion outcomes.
const (
	OutcomeIndexed       = "indexed"
	OutcomeSkippedShort  = "skipped_short"
	OutcomeEmbedFailed   = "embed_failed"
	OutcomeIndexRejected = "index_rejected"
	OutcomeCancelled     = "cancelled"
	OutcomeDuplicate     = "duplicate"
)

// Answer outcomes.
const (
	AnswerOK               = "ok"
	AnswerEmbedFailed      = "embed_failed"
	AnswerNoResults        = "no_results"
	AnswerUnreadable       = "unreadable"
	AnswerGenerationFailed = "generation_failed"
)

const namespace = "recall"

// Collector holds the process metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	ingested      *prometheus.CounterVec
	answers       *prometheus.CounterVec
	answerLatency prometheus.Histogram
	embedLatency  prometheus.Histogram
}

// New creates a collector on a fresh registry. indexSize, when not nil, is sampled for the
// index size gauge on every scrape.
func New(indexSize func() int) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Messages handled by the ingestion pipeline by outcome",
		},
		[]string{"outcome"},
	)
	c.answers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "answers_total",
			Help:      "Questions answered by outcome",
		},
		[]string{"outcome"},
	)
	c.answerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "answer_latency_seconds",
			Help:      "Time to answer a question in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	c.embedLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "embed_latency_seconds",
			Help:      "Embedding latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	c.registry.MustRegister(
		c.ingested,
		c.answers,
		c.answerLatency,
		c.embedLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if indexSize != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "vectors",
				Help:      "Number of vectors in the index",
			},
			func() float64 { return float64(indexSize()) },
		))
	}
	return c
}

// Ingested records one ingestion outcome.
func (c *Collector) Ingested(outcome string) {
	if c == nil {
		return
	}
	c.ingested.WithLabelValues(outcome).Inc()
}

// ObserveEmbed records embedding latency.
func (c *Collector) ObserveEmbed(d time.Duration) {
	if c == nil {
		return
	}
	c.embedLatency.Observe(d.Seconds())
}

// Answered records one answer outcome and its latency.
func (c *Collector) Answered(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.answers.WithLabelValues(outcome).Inc()
	c.answerLatency.Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
