package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the index builder
type Metrics struct {
	// Block store metrics
	BlocksWritten  prometheus.Counter
	VectorsPacked  prometheus.Counter
	RowsDuplicated prometheus.Counter
	BlockOccupancy prometheus.Histogram

	// Clustering metrics. ClusterSplits, ClusterMerges and
	// RecursionDepth are registered, but no code in this module updates
	// them, so they stay at zero.
	KMeansRuns      prometheus.Counter
	ClusterSplits   prometheus.Counter
	ClusterMerges   prometheus.Counter
	KMeansDuration  prometheus.Histogram
	RecursionDepth  prometheus.Gauge

	// Quantizer metrics
	VectorsEncoded   prometheus.Counter
	CodebooksTrained prometheus.Counter
	EncodeDuration   prometheus.Histogram

	// Pipeline metrics
	BuildDuration *prometheus.HistogramVec
	BuildErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		BlocksWritten: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockann_blocks_written_total",
				Help: "Total number of data blocks written",
			},
		),
		VectorsPacked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockann_vectors_packed_total",
				Help: "Total number of vector entries packed into blocks",
			},
		),
		RowsDuplicated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockann_rows_duplicated_total",
				Help: "Rows packed into more than one block by the equal-size padding pass",
			},
		),
		BlockOccupancy: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blockann_block_occupancy_ratio",
				Help:    "Entries per block relative to block capacity",
				Buckets: []float64{.1, .25, .5, .75, .9, .95, 1.0},
			},
		),

		KMeansRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockann_kmeans_runs_total",
				Help: "Top-level k-means runs; runs inside the hierarchy are not counted",
			},
		),
		ClusterSplits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockann_cluster_splits_total",
				Help: "Empty clusters repaired by half-splitting a donor",
			},
		),
		ClusterMerges: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockann_cluster_merges_total",
				Help: "Buckets dropped by the merge policy",
			},
		),
		KMeansDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blockann_kmeans_duration_seconds",
				Help:    "Duration of one k-means run",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
		),
		RecursionDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockann_recursion_depth",
				Help: "Deepest hierarchy level reached so far",
			},
		),

		VectorsEncoded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockann_vectors_encoded_total",
				Help: "Vectors encoded by the residual product quantizer",
			},
		),
		CodebooksTrained: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockann_codebooks_trained_total",
				Help: "Per-subspace codebooks trained",
			},
		),
		EncodeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blockann_encode_duration_seconds",
				Help:    "Duration of the full encode pass",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
		),

		BuildDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockann_build_phase_duration_seconds",
				Help:    "Duration of each build phase",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"phase"},
		),
		BuildErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockann_build_errors_total",
				Help: "Build failures by phase",
			},
			[]string{"phase"},
		),
	}

	return m
}

// RecordBlock records one written block and its occupancy.
func (m *Metrics) RecordBlock(count, capacity int) {
	m.BlocksWritten.Inc()
	m.VectorsPacked.Add(float64(count))
	if capacity > 0 {
		m.BlockOccupancy.Observe(float64(count) / float64(capacity))
	}
}

// RecordDuplicates records rows duplicated by the padding pass.
func (m *Metrics) RecordDuplicates(n int) {
	m.RowsDuplicated.Add(float64(n))
}

// RecordKMeans records one k-means run.
func (m *Metrics) RecordKMeans(duration time.Duration) {
	m.KMeansRuns.Inc()
	m.KMeansDuration.Observe(duration.Seconds())
}

// RecordEncode records the encode pass.
func (m *Metrics) RecordEncode(duration time.Duration, vectors int) {
	m.VectorsEncoded.Add(float64(vectors))
	m.EncodeDuration.Observe(duration.Seconds())
}

// RecordPhase records a completed build phase.
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	m.BuildDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordPhaseError records a failed build phase.
func (m *Metrics) RecordPhaseError(phase string) {
	m.BuildErrors.WithLabelValues(phase).Inc()
}
