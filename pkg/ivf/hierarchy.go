// Package ivf implements the hierarchical balanced clusterer: it
// recursively partitions a corpus with k-means, merges unbalanced
// child clusters, and packs every leaf bucket into one fixed-size
// block paired with its centroid and a global block id.
package ivf

import (
	"fmt"
	"math"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/kmeans"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/blockstore"
)

// Level is the depth in the hierarchical partitioning. It controls
// the branch factor, the merge thresholds, and when the equal-size
// terminal fires.
type Level int

const (
	LevelFirst Level = iota
	LevelSecond
	LevelThird
	// LevelBalance and deeper always use the equal-size terminal.
	LevelBalance
)

// Params configure one hierarchical clustering run. A zero Threshold
// or an undersized BlockSize is rejected by config validation before
// the recursion starts.
type Params struct {
	Dim       int
	Threshold int // leaf capacity in rows
	BlockSize int // bytes per data block

	KMeansPP  bool
	AvgLen    float32
	Niter     int
	Seed      int64
	CapLargeK bool

	// MaxSameSizeThreshold / MinSameSizeThreshold bound the bucket
	// sizes the merge policy tolerates and gate the equal-size
	// terminal at LevelThird.
	MaxSameSizeThreshold int
	MinSameSizeThreshold int

	// MaxClusterK2 caps the free-regime branch factor.
	MaxClusterK2 int

	// K2MaxPointsPerCentroid bounds the free-regime training set;
	// larger nodes train on a seeded sample.
	K2MaxPointsPerCentroid int
}

func (p Params) kmeansOptions() kmeans.Options {
	return kmeans.Options{
		KMeansPP:   p.KMeansPP,
		AvgLen:     p.AvgLen,
		Iterations: p.Niter,
		Seed:       p.Seed,
		CapLargeK:  p.CapLargeK,
	}
}

// RecursiveKMeans partitions the (x, ids) view into leaf blocks and
// emits them to sink. x is row-major with p.Dim columns and is
// reordered in place together with ids; no reference to the view is
// retained after the call returns.
//
// blkNum is the node-local block counter for the k1ID cluster; global
// block ids are composed from the pair in block write order.
func RecursiveKMeans[T distance.Elem](k1ID uint32, x []T, ids []uint32, p Params, level Level, blkNum *uint32, sink blockstore.BlockSink) error {
	size := len(ids)
	dim := p.Dim

	sameSize := level >= LevelBalance ||
		(level == LevelThird && size >= p.MinSameSizeThreshold && size <= p.MaxSameSizeThreshold)

	if sameSize {
		return emitSameSize(k1ID, x, ids, p, blkNum, sink)
	}

	k2 := int(math.Sqrt(float64(size/p.Threshold))) + 1
	if k2 > p.MaxClusterK2 {
		k2 = p.MaxClusterK2
	}
	centroids := make([]float32, k2*dim)

	// Train on a bounded seeded sample; assign everything.
	trainSize := size
	trainData := x
	if size > k2*p.K2MaxPointsPerCentroid {
		trainSize = k2 * p.K2MaxPointsPerCentroid
		trainData = make([]T, trainSize*dim)
		kmeans.SampleRows(x, size, dim, trainSize, trainData, p.Seed)
	}
	if err := kmeans.Run(trainData, trainSize, dim, k2, centroids, p.kmeansOptions()); err != nil {
		return fmt.Errorf("level %d node with %d rows: %w", level, size, err)
	}

	assign := make([]int64, size)
	dists := make([]float32, size)
	kmeans.ElkanAssign(x, centroids, dim, size, k2, assign, dists)

	k2, centroids = mergeClusters(level, p, size, k2, x, assign, centroids)

	bucketStart := ReorderByBucket(x, ids, assign, dim, k2)

	blockBuf := make([]byte, p.BlockSize)
	for i := 0; i < k2; i++ {
		bucketOff := bucketStart[i]
		bucketSize := bucketStart[i+1] - bucketStart[i]

		if bucketSize <= int64(p.Threshold) {
			rows := x[bucketOff*int64(dim) : (bucketOff+bucketSize)*int64(dim)]
			bids := ids[bucketOff : bucketOff+bucketSize]
			if err := blockstore.PackBlock(blockBuf, dim, rows, bids); err != nil {
				return err
			}
			globalID := blockstore.GlobalBlockID(k1ID, *blkNum)
			if err := sink.WriteBlock(blockBuf, centroids[i*dim:(i+1)*dim], globalID); err != nil {
				return err
			}
			*blkNum++
			continue
		}

		sub := x[bucketOff*int64(dim) : (bucketOff+bucketSize)*int64(dim)]
		subIDs := ids[bucketOff : bucketOff+bucketSize]
		if err := RecursiveKMeans(k1ID, sub, subIDs, p, level+1, blkNum, sink); err != nil {
			return err
		}
	}

	return nil
}
