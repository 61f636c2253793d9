package kmeans

import (
	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/parallel"
)

// elkanBlockSize is the number of centroids processed per pruning
// block. The inter-centroid distance triangle for one block is
// elkanBlockSize*(elkanBlockSize-1)/2 float32s (~2 MB).
const elkanBlockSize = 1024

// ElkanAssign assigns each of the nx rows of x to its nearest centroid
// out of ny, writing the centroid index into ids and the squared L2
// distance into val.
//
// Centroids are processed in blocks. For each block the upper triangle
// of inter-centroid squared distances is precomputed; a candidate j is
// skipped whenever 4·val ≤ dist²(current, j), by the triangle
// inequality. Surviving candidates go through a two-phase distance:
// the first half of the dimensions is accumulated and compared against
// the current best before the second half is touched.
//
// The result is identical to brute-force nearest-centroid assignment
// with ties broken by the lowest centroid index.
func ElkanAssign[T distance.Elem](x []T, centroids []float32, dim, nx, ny int, ids []int64, val []float32) {
	if nx == 0 || ny == 0 {
		return
	}

	tri := make([]float32, elkanBlockSize*(elkanBlockSize-1)/2)

	for j0 := 0; j0 < ny; j0 += elkanBlockSize {
		j1 := j0 + elkanBlockSize
		if j1 > ny {
			j1 = ny
		}

		// Packed upper-triangle lookup, indices relative to j0.
		at := func(i, j int) float32 {
			i -= j0
			j -= j0
			if i > j {
				return tri[j+i*(i-1)/2]
			}
			return tri[i+j*(j-1)/2]
		}

		// Each row of the triangle is written by exactly one worker.
		parallel.Strided(j1-j0-1, func(row int) {
			i := j0 + 1 + row
			ri := i - j0
			yi := centroids[i*dim : (i+1)*dim]
			for j := j0; j < i; j++ {
				yj := centroids[j*dim : (j+1)*dim]
				tri[(j-j0)+ri*(ri-1)/2] = distance.L2Sqr[float32, float32, float32](yi, yj)
			}
		})

		parallel.For(nx, func(start, end int) {
			for i := start; i < end; i++ {
				xi := x[i*dim : (i+1)*dim]

				best := int64(j0)
				bestVal := distance.L2Sqr[T, float32, float32](xi, centroids[j0*dim:(j0+1)*dim])
				bestVal4 := bestVal * 4
				half := dim / 2

				for j := j0 + 1; j < j1; j++ {
					if bestVal4 <= at(int(best), j) {
						continue
					}
					yj := centroids[j*dim : (j+1)*dim]
					dis := distance.L2Sqr[T, float32, float32](xi[:half], yj[:half])
					if dis >= bestVal {
						continue
					}
					dis += distance.L2Sqr[T, float32, float32](xi[half:], yj[half:])
					if dis < bestVal {
						best = int64(j)
						bestVal = dis
						bestVal4 = bestVal * 4
					}
				}

				if j0 == 0 || val[i] > bestVal {
					val[i] = bestVal
					ids[i] = best
				}
			}
		})
	}
}
