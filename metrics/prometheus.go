// Package metrics provides Prometheus metrics for skillgraph ingestion.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/poiesic/skillgraph/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skillgraph"

// Rows skipped reasons.
const (
	ReasonMissingEndpoint = "missing_endpoint"
	ReasonInvalidRow      = "invalid_row"
	ReasonMalformed       = "malformed"
)

// Metrics holds all ingestion metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Counters
	ObjectsUpserted *prometheus.CounterVec
	BatchFailures   *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	ReferencesAdded *prometheus.CounterVec
	RowsSkipped     *prometheus.CounterVec
	HeartbeatsTotal prometheus.Counter
	ObjectsEmbedded *prometheus.CounterVec

	// Gauges
	IngestionState *prometheus.GaugeVec
	ObjectCount    *prometheus.GaugeVec

	// Histograms
	PhaseDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g., ":9090"
}

// ApplyDefaults sets default values for metrics config.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = ":9090"
	}
}

// New creates a metrics instance on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ObjectsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_upserted_total",
			Help:      "Taxonomy objects written by class and outcome",
		},
		[]string{"class", "outcome"}, // "created", "updated"
	)

	m.BatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Batches that failed after exhausting retries",
		},
		[]string{"phase"},
	)

	m.Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_retries_total",
			Help:      "Batch attempts that were retried",
		},
		[]string{"phase"},
	)

	m.ReferencesAdded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_added_total",
			Help:      "New references added by relation kind, inverses included",
		},
		[]string{"relation"},
	)

	m.RowsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Source rows skipped by phase and reason",
		},
		[]string{"phase", "reason"},
	)

	m.HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat records written during long phases",
		},
	)

	m.ObjectsEmbedded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_embedded_total",
			Help:      "Objects whose vector was computed",
		},
		[]string{"class"},
	)

	m.IngestionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestion_state",
			Help:      "1 for the current ingestion state, 0 otherwise",
		},
		[]string{"state"},
	)

	m.ObjectCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objects",
			Help:      "Stored objects by class",
		},
		[]string{"class"},
	)

	m.PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of ingestion phases",
			Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"phase", "status"}, // "success", "error"
	)

	m.registry.MustRegister(
		m.ObjectsUpserted,
		m.BatchFailures,
		m.Retries,
		m.ReferencesAdded,
		m.RowsSkipped,
		m.HeartbeatsTotal,
		m.ObjectsEmbedded,
		m.IngestionState,
		m.ObjectCount,
		m.PhaseDuration,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /health on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RecordUpserts counts created and updated objects of a class.
func (m *Metrics) RecordUpserts(class core.EntityClass, created, updated int) {
	if m == nil {
		return
	}
	m.ObjectsUpserted.WithLabelValues(string(class), "created").Add(float64(created))
	m.ObjectsUpserted.WithLabelValues(string(class), "updated").Add(float64(updated))
}

// RecordBatchFailure counts a batch that failed after retries.
func (m *Metrics) RecordBatchFailure(phase string) {
	if m == nil {
		return
	}
	m.BatchFailures.WithLabelValues(phase).Inc()
}

// RecordRetry counts a retried batch attempt.
func (m *Metrics) RecordRetry(phase string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(phase).Inc()
}

// RecordReferencesAdded counts new references written for a relation kind.
func (m *Metrics) RecordReferencesAdded(relation string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReferencesAdded.WithLabelValues(relation).Add(float64(n))
}

// RecordRowsSkipped counts skipped source rows.
func (m *Metrics) RecordRowsSkipped(phase, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsSkipped.WithLabelValues(phase, reason).Add(float64(n))
}

// RecordHeartbeat counts a heartbeat write.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.Inc()
}

// RecordEmbedded counts objects embedded for a class.
func (m *Metrics) RecordEmbedded(class core.EntityClass, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ObjectsEmbedded.WithLabelValues(string(class)).Add(float64(n))
}

// RecordPhaseDuration observes how long a phase took.
func (m *Metrics) RecordPhaseDuration(phase string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.PhaseDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

// SetIngestionState marks state as current.
func (m *Metrics) SetIngestionState(state core.IngestionState) {
	if m == nil {
		return
	}
	for _, s := range core.AllStates() {
		v := 0.0
		if s == state {
			v = 1
		}
		m.IngestionState.WithLabelValues(s.String()).Set(v)
	}
}

// SetObjectCount records the stored object count of a class.
func (m *Metrics) SetObjectCount(class core.EntityClass, n int) {
	if m == nil {
		return
	}
	m.ObjectCount.WithLabelValues(string(class)).Set(float64(n))
}
