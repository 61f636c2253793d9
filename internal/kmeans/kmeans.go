// Package kmeans implements the Lloyd k-means engine used by the
// hierarchical clusterer and the residual product quantizer: seeded
// random or k-means++ initialization, Elkan-pruned assignment,
// contention-free centroid updates, and empty-cluster repair by
// half-splitting a donor cluster.
package kmeans

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/observability"
)

// ErrDataShortage is returned when fewer training rows than clusters
// are supplied. The caller decides whether that is fatal for its node.
var ErrDataShortage = errors.New("not enough training points")

const (
	minPointsPerCentroid = 39
	maxPointsPerCentroid = 256

	// largeKTrainCap bounds the training set to largeKTrainCap·k rows
	// when k exceeds largeKThreshold and capping is enabled.
	largeKTrainCap  = 40
	largeKThreshold = 1000
)

// Options control a single k-means run.
type Options struct {
	// KMeansPP selects k-means++ seeding; false picks k distinct
	// random rows.
	KMeansPP bool

	// AvgLen, when non-zero, rescales every centroid to that L2
	// length after each update (cosine-style regimes). Zero keeps
	// plain means.
	AvgLen float32

	// Iterations caps the Lloyd iterations (default 10).
	Iterations int

	// Seed drives all randomness in the run.
	Seed int64

	// CapLargeK truncates the training set to 40·k rows when
	// k > 1000. The truncation is logged when it fires.
	CapLargeK bool
}

// Run clusters the first n rows of x (row-major, dim columns) into k
// centroids, written row-major into centroids[:k*dim].
//
// Convergence: the run stops early once an iteration performs no
// empty-cluster split and the total assignment error changed by less
// than 1% relative to the previous iteration.
func Run[T distance.Elem](x []T, n, dim, k int, centroids []float32, opts Options) error {
	if opts.CapLargeK && k > largeKThreshold && n > largeKTrainCap*k {
		observability.Infof("kmeans: capping training set from %d to %d rows (k=%d)", n, largeKTrainCap*k, k)
		n = largeKTrainCap * k
	}

	if n < k {
		observability.Warnf("kmeans: trained points not enough, need %d given %d", k, n)
		return fmt.Errorf("%w: need %d rows for k=%d, given %d", ErrDataShortage, k, k, n)
	}

	if n == k {
		for i := 0; i < n*dim; i++ {
			centroids[i] = float32(x[i])
		}
		return nil
	}

	if n < k*minPointsPerCentroid {
		observability.Warnf("kmeans: too few training points, want %d given %d", k*minPointsPerCentroid, n)
	} else if n > k*maxPointsPerCentroid {
		observability.Warnf("kmeans: too many training points, want %d given %d", k*maxPointsPerCentroid, n)
	}

	niter := opts.Iterations
	if niter <= 0 {
		niter = 10
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	if opts.KMeansPP {
		seedKMeansPP(x, n, dim, k, centroids, rng)
	} else {
		seedRandom(x, n, dim, k, centroids, rng)
	}

	hassign := make([]int64, k)
	assign := make([]int64, n)
	dis := make([]float32, n)

	err := float32(math.MaxFloat32)
	for i := 0; i < niter; i++ {
		ElkanAssign(x, centroids, dim, n, k, assign, dis)
		ComputeCentroids(dim, k, n, x, assign, hassign, centroids, opts.AvgLen)

		split := SplitClustersHalf(dim, k, n, x, hassign, assign, centroids, opts.AvgLen, rng)
		if split != 0 {
			observability.Debugf("kmeans: iteration %d split %d empty clusters", i, split)
			continue
		}

		var curErr float32
		for j := 0; j < n; j++ {
			curErr += dis[j]
		}
		if float32(math.Abs(float64(curErr-err))) < err*0.01 {
			break
		}
		err = curErr
	}

	emptyCnt := 0
	mx, mn := hassign[0], hassign[0]
	for i := 0; i < k; i++ {
		if hassign[i] == 0 {
			emptyCnt++
		}
		if hassign[i] > mx {
			mx = hassign[i]
		}
		if hassign[i] < mn {
			mn = hassign[i]
		}
	}
	observability.Debugf("kmeans: n=%d k=%d empty=%d max=%d min=%d", n, k, emptyCnt, mx, mn)

	return nil
}
