// Package builder wires the whole offline pipeline together: top-level
// k-means over the corpus, the hierarchical balanced clusterer per
// top-level bucket, then residual product quantizer training and the
// encode pass over the emitted block store.
package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/kmeans"
	"github.com/therealutkarshpriyadarshi/blockann/internal/quantization"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/config"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/ivf"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Dataset is the builder's input: a contiguous row-major matrix and a
// parallel id vector. The builder owns both and reorders them in place.
type Dataset[T distance.Elem] struct {
	Vectors []T
	IDs     []uint32
	Dim     int
}

// N returns the row count.
func (d *Dataset[T]) N() int { return len(d.IDs) }

// ProgressCallback reports build progress: phase name, work done and
// total work for that phase (total may be 0 when unknown).
type ProgressCallback func(phase string, done, total int)

// Stats summarizes one build.
type Stats struct {
	N              int
	Blocks         int
	VectorsPacked  int
	DuplicatedRows int
	Phases         map[string]time.Duration
}

// Builder runs the pipeline for one (element type, code type) pair.
type Builder[T distance.Elem, U quantization.Code] struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *telemetry.Provider
	progress ProgressCallback
}

// Option configures a Builder.
type Option[T distance.Elem, U quantization.Code] func(*Builder[T, U])

// WithLogger sets the logger (default: the global logger).
func WithLogger[T distance.Elem, U quantization.Code](l *observability.Logger) Option[T, U] {
	return func(b *Builder[T, U]) { b.logger = l }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics[T distance.Elem, U quantization.Code](m *observability.Metrics) Option[T, U] {
	return func(b *Builder[T, U]) { b.metrics = m }
}

// WithTelemetry attaches a tracing provider.
func WithTelemetry[T distance.Elem, U quantization.Code](p *telemetry.Provider) Option[T, U] {
	return func(b *Builder[T, U]) { b.tracer = p }
}

// WithProgress attaches a progress callback.
func WithProgress[T distance.Elem, U quantization.Code](cb ProgressCallback) Option[T, U] {
	return func(b *Builder[T, U]) { b.progress = cb }
}

// New validates cfg and creates a builder.
func New[T distance.Elem, U quantization.Code](cfg *config.Config, opts ...Option[T, U]) (*Builder[T, U], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	b := &Builder[T, U]{
		cfg:    cfg,
		logger: observability.Global(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Builder[T, U]) report(phase string, done, total int) {
	if b.progress != nil {
		b.progress(phase, done, total)
	}
}

func (b *Builder[T, U]) clusterParams() ivf.Params {
	cl := &b.cfg.Cluster
	return ivf.Params{
		Dim:       b.cfg.Builder.Dim,
		Threshold: b.cfg.Builder.Threshold,
		BlockSize: b.cfg.Builder.BlockSize,

		KMeansPP:  cl.KMeansPP,
		AvgLen:    cl.AvgLen,
		Niter:     cl.Niter,
		Seed:      cl.Seed,
		CapLargeK: cl.CapLargeK,

		MaxSameSizeThreshold:   cl.MaxSameSizeThreshold,
		MinSameSizeThreshold:   cl.MinSameSizeThreshold,
		MaxClusterK2:           cl.MaxClusterK2,
		K2MaxPointsPerCentroid: cl.K2MaxPointsPerCentroid,
	}
}

// Build runs the full pipeline and writes every artifact. The dataset
// is reordered in place; the returned stats describe the emitted
// block store.
func (b *Builder[T, U]) Build(ctx context.Context, ds *Dataset[T], art Artifacts) (*Stats, error) {
	n := ds.N()
	dim := ds.Dim
	if dim != b.cfg.Builder.Dim {
		return nil, fmt.Errorf("dataset dimension %d does not match configured %d", dim, b.cfg.Builder.Dim)
	}
	if len(ds.Vectors) != n*dim {
		return nil, fmt.Errorf("matrix has %d elements, want %d rows × %d", len(ds.Vectors), n, dim)
	}

	if b.tracer != nil {
		var span trace.Span
		ctx, span = b.tracer.StartBuild(ctx, n, dim)
		defer span.End()
	}

	stats := &Stats{N: n, Phases: make(map[string]time.Duration)}

	sink, err := b.clusterPhase(ctx, ds, art, stats)
	if err != nil {
		return nil, err
	}

	if err := b.quantizePhase(ctx, art, sink, stats); err != nil {
		return nil, err
	}

	b.logger.Info("build complete",
		"vectors", stats.N,
		"blocks", stats.Blocks,
		"packed", stats.VectorsPacked,
		"duplicated", stats.DuplicatedRows,
	)
	return stats, nil
}

// clusterPhase runs the top-level k-means and the per-cluster
// hierarchy, writing the data/centroid/id streams.
func (b *Builder[T, U]) clusterPhase(ctx context.Context, ds *Dataset[T], art Artifacts, stats *Stats) (*recordingSink, error) {
	n, dim := ds.N(), ds.Dim
	cl := &b.cfg.Cluster
	k1 := b.cfg.Builder.K1
	start := time.Now()

	if b.tracer != nil {
		_, span := b.tracer.StartTopLevel(ctx, k1)
		defer span.End()
	}

	// Top-level k-means: train on a bounded sample, assign every row.
	k1Centroids := make([]float32, k1*dim)
	trainSize := n
	trainData := ds.Vectors
	if n > k1*cl.K2MaxPointsPerCentroid {
		trainSize = k1 * cl.K2MaxPointsPerCentroid
		trainData = make([]T, trainSize*dim)
		kmeans.SampleRows(ds.Vectors, n, dim, trainSize, trainData, cl.Seed)
	}
	kmStart := time.Now()
	err := kmeans.Run(trainData, trainSize, dim, k1, k1Centroids, kmeans.Options{
		KMeansPP:   cl.KMeansPP,
		AvgLen:     cl.AvgLen,
		Iterations: cl.Niter,
		Seed:       cl.Seed,
		CapLargeK:  cl.CapLargeK,
	})
	if err != nil {
		b.recordPhaseError("top-level")
		return nil, fmt.Errorf("top-level kmeans: %w", err)
	}
	if b.metrics != nil {
		b.metrics.RecordKMeans(time.Since(kmStart))
	}

	assign := make([]int64, n)
	dists := make([]float32, n)
	kmeans.ElkanAssign(ds.Vectors, k1Centroids, dim, n, k1, assign, dists)
	bucketStart := ivf.ReorderByBucket(ds.Vectors, ds.IDs, assign, dim, k1)
	stats.Phases["top-level"] = time.Since(start)
	b.recordPhase("top-level", time.Since(start))
	b.logger.WithPhase("top-level").Debug("corpus partitioned", "k1", k1, "rows", n)

	// Per-cluster hierarchy, streaming blocks out as they are cut.
	start = time.Now()
	writers, closeWriters, err := openStreamWriters(art)
	if err != nil {
		return nil, err
	}
	sink := &recordingSink{
		inner:    writers,
		dim:      dim,
		capacity: b.cfg.Builder.EntriesPerBlock(),
		metrics:  b.metrics,
	}

	params := b.clusterParams()
	for i := 0; i < k1; i++ {
		lo, hi := bucketStart[i], bucketStart[i+1]
		if lo == hi {
			continue
		}

		var span trace.Span
		if b.tracer != nil {
			_, span = b.tracer.StartHierarchy(ctx, uint32(i), int(hi-lo))
		}

		var blkNum uint32
		sub := ds.Vectors[lo*int64(dim) : hi*int64(dim)]
		subIDs := ds.IDs[lo:hi]
		err := ivf.RecursiveKMeans(uint32(i), sub, subIDs, params, ivf.LevelFirst, &blkNum, sink)
		if span != nil {
			span.End()
		}
		if err != nil {
			closeWriters()
			b.recordPhaseError("hierarchy")
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		b.report("cluster", int(hi), n)
	}

	if err := closeWriters(); err != nil {
		return nil, err
	}

	stats.Blocks = len(sink.counts)
	stats.VectorsPacked = sink.packed
	stats.DuplicatedRows = sink.packed - n
	if stats.DuplicatedRows < 0 {
		stats.DuplicatedRows = 0
	} else if b.metrics != nil {
		b.metrics.RecordDuplicates(stats.DuplicatedRows)
	}
	stats.Phases["hierarchy"] = time.Since(start)
	b.recordPhase("hierarchy", time.Since(start))
	b.logger.WithPhase("hierarchy").Debug("block store written",
		"blocks", stats.Blocks, "packed", stats.VectorsPacked, "duplicated", stats.DuplicatedRows)
	return sink, nil
}

// quantizePhase trains the residual quantizer on a sample of the
// emitted block store and encodes every packed entry.
func (b *Builder[T, U]) quantizePhase(ctx context.Context, art Artifacts, sink *recordingSink, stats *Stats) error {
	pq := &b.cfg.PQ
	dim := b.cfg.Builder.Dim

	metric, err := quantization.ParseMetric(b.cfg.Builder.Metric)
	if err != nil {
		return err
	}
	rq, err := quantization.NewResidualQuantizer[T, U](quantization.Config{
		Dim:        dim,
		M:          pq.M,
		NBits:      pq.NBits,
		Metric:     metric,
		Iterations: b.cfg.Cluster.Niter,
		Seed:       b.cfg.Cluster.Seed,
	})
	if err != nil {
		return err
	}

	// Reload the packed entries in block order; the code stream must
	// pair 1:1 with the block store, duplicates included.
	rows, buckets, err := loadPackedEntries[T](art.DataPath, dim, b.cfg.Builder.BlockSize)
	if err != nil {
		return err
	}
	total := 0
	for _, c := range buckets {
		total += int(c)
	}

	start := time.Now()
	sampleN := pq.SampleCount
	if sampleN > total {
		sampleN = total
	}
	if b.tracer != nil {
		_, span := b.tracer.StartPQTrain(ctx, sampleN)
		defer span.End()
	}
	sampleX, sampleCens := sampleForTraining(rows, sink.centroids, buckets, dim, sampleN)
	if err := rq.Train(sampleN, sampleX, sampleCens); err != nil {
		b.recordPhaseError("pq-train")
		return fmt.Errorf("pq training: %w", err)
	}
	if b.metrics != nil {
		b.metrics.CodebooksTrained.Add(float64(pq.M))
	}
	stats.Phases["pq-train"] = time.Since(start)
	b.recordPhase("pq-train", time.Since(start))
	b.report("pq-train", sampleN, sampleN)
	b.logger.WithPhase("pq-train").Debug("codebooks trained", "samples", sampleN, "m", pq.M)

	start = time.Now()
	if b.tracer != nil {
		_, span := b.tracer.StartEncode(ctx, total)
		defer span.End()
	}
	if err := b.writeQuantizerArtifacts(rq, rows, buckets, sink.centroids, total, art); err != nil {
		b.recordPhaseError("encode")
		return err
	}
	if b.metrics != nil {
		b.metrics.RecordEncode(time.Since(start), total)
	}
	stats.Phases["encode"] = time.Since(start)
	b.recordPhase("encode", time.Since(start))
	return nil
}

func (b *Builder[T, U]) recordPhase(phase string, d time.Duration) {
	if b.metrics != nil {
		b.metrics.RecordPhase(phase, d)
	}
}

func (b *Builder[T, U]) recordPhaseError(phase string) {
	if b.metrics != nil {
		b.metrics.RecordPhaseError(phase)
	}
}
