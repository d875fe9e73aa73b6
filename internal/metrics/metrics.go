// Package metrics registers the Prometheus instruments scraped from the
// health/metrics HTTP surface: ingestion throughput, dedup/skip counters,
// quota utilization, and job queue/worker state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus instrument the archiver exposes.
type Metrics struct {
	IngestedMessages *prometheus.CounterVec
	ProcessingSeconds *prometheus.HistogramVec
	DedupHits        *prometheus.CounterVec
	SkippedItems     *prometheus.CounterVec
	IngestedBytes    prometheus.Counter

	QuotaUsedRatio prometheus.Gauge

	QueueDepth   *prometheus.GaugeVec
	JobsByState  *prometheus.GaugeVec
	JobAttempts  *prometheus.CounterVec
	JobsCreated  prometheus.Counter
	JobsRetried  prometheus.Counter
	WorkerSimulateMode prometheus.Gauge
}

// NewMetrics constructs and registers all instruments under namespace against
// the default Prometheus registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer is like NewMetrics but registers against reg,
// letting tests use a fresh prometheus.NewRegistry() instead of the process
// default, which only tolerates one registration per name.
func NewMetricsWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "teltubby"
	}
	factory := promauto.With(reg)

	return &Metrics{
		IngestedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_messages_total",
				Help:      "Total number of batches completed by the ingestion pipeline",
			},
			[]string{"status"},
		),

		ProcessingSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_seconds",
				Help:      "Wall time spent processing one batch through the ingestion pipeline",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"path"},
		),

		DedupHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_hits_total",
				Help:      "Total number of items resolved via dedup instead of a fresh upload",
			},
			[]string{"method"},
		),

		SkippedItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_items_total",
				Help:      "Total number of items skipped during ingestion, by reason",
			},
			[]string{"reason"},
		),

		IngestedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_bytes_total",
				Help:      "Total bytes successfully uploaded to the object store",
			},
		),

		QuotaUsedRatio: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_used_ratio",
				Help:      "Fraction of configured storage quota currently in use, or -1 when unknown",
			},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current message count in a broker queue",
			},
			[]string{"queue"},
		),

		JobsByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_by_state",
				Help:      "Number of job rows currently in each state",
			},
			[]string{"state"},
		),

		JobAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_attempts_total",
				Help:      "Total job processing attempts by outcome",
			},
			[]string{"outcome"},
		),

		JobsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_created_total",
				Help:      "Total number of large-file jobs published to the broker",
			},
		),

		JobsRetried: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_retried_total",
				Help:      "Total number of large-file jobs re-published via the retry admin command",
			},
		),

		WorkerSimulateMode: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_simulate_mode",
				Help:      "1 when the large-file worker is running without usable credentials (simulate mode)",
			},
		),
	}
}

// RecordBatch records one ingestion pipeline run.
func (m *Metrics) RecordBatch(status, path string, duration time.Duration) {
	m.IngestedMessages.WithLabelValues(status).Inc()
	m.ProcessingSeconds.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordDedupHit increments the dedup counter for the given method label; the
// ingestion pipeline passes its dedup reason ("file_unique_id" or "content_hash").
func (m *Metrics) RecordDedupHit(method string) {
	m.DedupHits.WithLabelValues(method).Inc()
}

// RecordSkip increments the skip counter for the given reason.
func (m *Metrics) RecordSkip(reason string) {
	m.SkippedItems.WithLabelValues(reason).Inc()
}

// RecordUpload adds size to the ingested-bytes counter.
func (m *Metrics) RecordUpload(size int64) {
	m.IngestedBytes.Add(float64(size))
}

// SetQuotaRatio updates the quota gauge. Pass -1 for unknown.
func (m *Metrics) SetQuotaRatio(ratio float64) {
	m.QuotaUsedRatio.Set(ratio)
}

// SetQueueDepth updates the queue-depth gauge for one named queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetJobsByState overwrites the gauge for one job state.
func (m *Metrics) SetJobsByState(state string, count int) {
	m.JobsByState.WithLabelValues(state).Set(float64(count))
}

// RecordJobAttempt increments the attempt counter for an outcome ("success" or "failure").
func (m *Metrics) RecordJobAttempt(outcome string) {
	m.JobAttempts.WithLabelValues(outcome).Inc()
}

// RecordJobCreated increments the jobs-published counter.
func (m *Metrics) RecordJobCreated() {
	m.JobsCreated.Inc()
}

// RecordJobRetried increments the jobs-retried counter.
func (m *Metrics) RecordJobRetried() {
	m.JobsRetried.Inc()
}

// SetSimulateMode reflects whether the worker is running without usable credentials.
func (m *Metrics) SetSimulateMode(active bool) {
	if active {
		m.WorkerSimulateMode.Set(1)
		return
	}
	m.WorkerSimulateMode.Set(0)
}
