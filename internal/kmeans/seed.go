package kmeans

import (
	"math"
	"math/rand"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/parallel"
)

// randPerm writes a Fisher–Yates prefix of length k over [0, n) into
// perm[:k]: k distinct row indices, uniform given the seed.
func randPerm(perm []int64, n, k int, rng *rand.Rand) {
	full := make([]int64, n)
	for i := range full {
		full[i] = int64(i)
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		full[i], full[j] = full[j], full[i]
	}
	copy(perm[:k], full[:k])
}

// seedRandom copies k distinct random rows of x as initial centroids.
func seedRandom[T distance.Elem](x []T, n, dim, k int, centroids []float32, rng *rand.Rand) {
	perm := make([]int64, k)
	randPerm(perm, n, k, rng)
	for i := 0; i < k; i++ {
		row := x[perm[i]*int64(dim) : (perm[i]+1)*int64(dim)]
		c := centroids[i*dim : (i+1)*dim]
		for d := 0; d < dim; d++ {
			c[d] = float32(row[d])
		}
	}
}

// seedKMeansPP seeds centroids with k-means++: the first centroid is a
// uniform random row; each subsequent one is sampled with probability
// proportional to its squared distance to the nearest centroid chosen
// so far.
func seedKMeansPP[T distance.Elem](x []T, n, dim, k int, centroids []float32, rng *rand.Rand) {
	dist := make([]float32, n)
	for i := range dist {
		dist[i] = math.MaxFloat32
	}

	first := rng.Intn(n)
	row := x[first*dim : (first+1)*dim]
	for d := 0; d < dim; d++ {
		centroids[d] = float32(row[d])
	}

	for i := 1; i < k; i++ {
		prev := centroids[(i-1)*dim : i*dim]

		// Refresh each row's distance to its nearest centroid; only the
		// newest centroid can improve it.
		parallel.For(n, func(start, end int) {
			for j := start; j < end; j++ {
				d := distance.L2Sqr[T, float32, float32](x[j*dim:(j+1)*dim], prev)
				if d < dist[j] {
					dist[j] = d
				}
			}
		})
		var sumdx float64
		for j := 0; j < n; j++ {
			sumdx += float64(dist[j])
		}

		prob := rng.Float64() * sumdx
		next := n - 1
		for j := 0; j < n; j++ {
			prob -= float64(dist[j])
			if prob < 0 {
				next = j
				break
			}
		}

		row := x[next*dim : (next+1)*dim]
		c := centroids[i*dim : (i+1)*dim]
		for d := 0; d < dim; d++ {
			c[d] = float32(row[d])
		}
	}
}
