// Package metrics exposes Prometheus collectors for the memory subsystem.
// Every method is safe to call on a nil *Metrics so components can run
// without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "charmem"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	memoriesCreated   *prometheus.CounterVec
	memoriesArchived  *prometheus.CounterVec
	jobs              *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	retrievalDegraded prometheus.Counter
	embeddingCache    *prometheus.CounterVec
	tasks             *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	sweeps            *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		memoriesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_created_total",
			Help:      "Memories created, by kind.",
		}, []string{"kind"}),
		memoriesArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_archived_total",
			Help:      "Memories archived, by reason.",
		}, []string{"reason"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarization_jobs_total",
			Help:      "Summarization job transitions, by resulting status.",
		}, []string{"status"}),
		retrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Time spent assembling a RAG context block.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		retrievalDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals that fell back to the base prompt because of an error.",
		}),
		embeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding lookups, by result (hot, stored, miss).",
		}, []string{"result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Background task outcomes, by task and outcome.",
		}, []string{"task", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Tasks waiting in the background queue.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Scheduled sweep runs, by sweep and status.",
		}, []string{"sweep", "status"}),
	}
	reg.MustRegister(
		m.memoriesCreated, m.memoriesArchived, m.jobs,
		m.retrievalDuration, m.retrievalDegraded, m.embeddingCache,
		m.tasks, m.queueDepth, m.sweeps,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MemoryCreated(kind string) {
	if m == nil {
		return
	}
	m.memoriesCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) MemoryArchived(reason string) {
	if m == nil {
		return
	}
	m.memoriesArchived.WithLabelValues(reason).Inc()
}

func (m *Metrics) JobTransition(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRetrieval(d time.Duration, degraded bool) {
	if m == nil {
		return
	}
	m.retrievalDuration.Observe(d.Seconds())
	if degraded {
		m.retrievalDegraded.Inc()
	}
}

func (m *Metrics) EmbeddingCache(result string) {
	if m == nil {
		return
	}
	m.embeddingCache.WithLabelValues(result).Inc()
}

func (m *Metrics) Task(name, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Sweep(name string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sweeps.WithLabelValues(name, status).Inc()
}
