package kmeans

import (
	"math/rand"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/parallel"
)

// ComputeCentroids recomputes the k centroids of x from the current
// assignment and fills hassign with per-centroid occupancy.
//
// Each worker owns a disjoint slice of centroid indices: it scans the
// whole assignment but accumulates only rows belonging to its slice,
// so the sums and histogram are contention-free without locks.
//
// avgLen == 0 divides each centroid by its count; otherwise each
// non-empty centroid is rescaled to L2 length avgLen (cosine-style
// regimes). Empty centroids are left zero for the split pass.
func ComputeCentroids[T distance.Elem](dim, k, n int, x []T, assign []int64, hassign []int64, centroids []float32, avgLen float32) {
	for i := range hassign[:k] {
		hassign[i] = 0
	}
	for i := range centroids[:k*dim] {
		centroids[i] = 0
	}

	parallel.For(k, func(c0, c1 int) {
		for i := 0; i < n; i++ {
			ci := assign[i]
			if ci < int64(c0) || ci >= int64(c1) {
				continue
			}
			c := centroids[ci*int64(dim) : (ci+1)*int64(dim)]
			xi := x[i*dim : (i+1)*dim]
			for j := 0; j < dim; j++ {
				c[j] += float32(xi[j])
			}
			hassign[ci]++
		}
	})

	parallel.For(k, func(c0, c1 int) {
		for ci := c0; ci < c1; ci++ {
			if hassign[ci] == 0 {
				continue
			}
			c := centroids[ci*dim : (ci+1)*dim]
			scaleCentroid(c, hassign[ci], avgLen)
		}
	})
}

// scaleCentroid turns an accumulated sum into a centroid: mean when
// avgLen == 0, unit-norm projection to length avgLen otherwise.
func scaleCentroid(c []float32, count int64, avgLen float32) {
	if avgLen != 0 {
		scale := float32(float64(avgLen) / distance.Norm(c))
		for j := range c {
			c[j] *= scale
		}
	} else {
		norm := 1.0 / float32(count)
		for j := range c {
			c[j] *= norm
		}
	}
}

// SplitClustersHalf repairs empty clusters in place. For each empty
// centroid ci a donor cj is chosen by rejection sampling with
// probability (hassign[cj]-1)/(n-k); the first ⌊hassign[cj]/2⌋ of the
// donor's points in scan order move to ci, and both centroids are
// recomputed from their split point sets. Returns the number of splits
// performed.
//
// hassign may be nil, in which case it is derived from assign.
func SplitClustersHalf[T distance.Elem](dim, k, n int, x []T, hassign, assign []int64, centroids []float32, avgLen float32, rng *rand.Rand) int {
	if hassign == nil {
		hassign = make([]int64, k)
		for i := 0; i < n; i++ {
			hassign[assign[i]]++
		}
	}

	nsplit := 0
	for ci := int64(0); ci < int64(k); ci++ {
		if hassign[ci] != 0 {
			continue
		}

		var cj int64
		for cj = 0; ; cj = (cj + 1) % int64(k) {
			p := float32(hassign[cj]-1) / float32(n-k)
			if rng.Float32() < p {
				break
			}
		}

		splitPoint := hassign[cj] / 2
		cci := centroids[ci*int64(dim) : (ci+1)*int64(dim)]
		ccj := centroids[cj*int64(dim) : (cj+1)*int64(dim)]
		for j := 0; j < dim; j++ {
			cci[j] = 0
			ccj[j] = 0
		}
		hassign[ci], hassign[cj] = 0, 0

		for i := 0; i < n; i++ {
			if assign[i] != cj {
				continue
			}
			xi := x[i*dim : (i+1)*dim]
			if hassign[ci] < splitPoint {
				hassign[ci]++
				assign[i] = ci
				for j := 0; j < dim; j++ {
					cci[j] += float32(xi[j])
				}
			} else {
				hassign[cj]++
				for j := 0; j < dim; j++ {
					ccj[j] += float32(xi[j])
				}
			}
		}

		scaleCentroid(cci, hassign[ci], avgLen)
		scaleCentroid(ccj, hassign[cj], avgLen)
		nsplit++
	}

	return nsplit
}
