package ivf

import (
	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/kmeans"
	"github.com/therealutkarshpriyadarshi/blockann/internal/parallel"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/observability"
)

// mergeClusters collapses under-occupied buckets after a node's
// assignment. Buckets are tiered by occupancy:
//
//	large:  count >= largeMin   kept, dense new index first
//	middle: count >= smallMax   kept, appended after the large tier
//	small:  everything else     dropped, points reassigned
//
// At the first level largeMin == smallMax == MaxSameSizeThreshold, so
// there is no middle tier. Dropped points move to the nearest large
// bucket (nearest middle bucket when no large exists; a single mean
// "merge" bucket when nothing survives), ties on equal distance going
// to the lowest surviving index, and surviving centroids are then
// recomputed from the new assignment. Returns the new bucket count and
// centroid matrix; assign is rewritten in place to the new index space.
func mergeClusters[T distance.Elem](level Level, p Params, nx, k int, x []T, assign []int64, centroids []float32) (int, []float32) {
	dim := p.Dim

	hassign := make([]int64, k)
	for i := 0; i < nx; i++ {
		hassign[assign[i]]++
	}

	largeMin := int64(p.MaxSameSizeThreshold)
	smallMax := int64(p.MinSameSizeThreshold)
	if level == LevelFirst {
		smallMax = int64(p.MaxSameSizeThreshold)
	}

	// transform maps old bucket index to new, -1 for dropped buckets.
	transform := make([]int64, k)
	newK := 0
	largeNum := 0
	for i := 0; i < k; i++ {
		if hassign[i] >= largeMin {
			transform[i] = int64(largeNum)
			largeNum++
		} else {
			transform[i] = -1
		}
	}
	newK = largeNum
	middleNum := 0
	for i := 0; i < k; i++ {
		if hassign[i] >= smallMax && transform[i] == -1 {
			transform[i] = int64(newK)
			newK++
			middleNum++
		}
	}

	if newK == k {
		return k, centroids
	}
	observability.Debugf("ivf: level %d merging %d buckets into %d (large=%d middle=%d)",
		level, k, max(newK, 1), largeNum, middleNum)
	if newK == 0 {
		newK = 1 // one merge bucket absorbs every dropped point
	}

	newCentroids := make([]float32, newK*dim)
	for i := 0; i < k; i++ {
		if transform[i] != -1 {
			copy(newCentroids[transform[i]*int64(dim):(transform[i]+1)*int64(dim)],
				centroids[i*dim:(i+1)*dim])
		}
	}

	survivors := largeNum
	if survivors == 0 {
		survivors = middleNum
	}

	if survivors > 0 {
		findNearestSurviving(x, newCentroids, nx, survivors, dim, transform, assign)
		newHassign := make([]int64, newK)
		kmeans.ComputeCentroids(dim, newK, nx, x, assign, newHassign, newCentroids, p.AvgLen)
		return newK, newCentroids
	}

	// Every bucket was dropped: collapse to a single merge centroid.
	merge := newCentroids[:dim]
	var count int64
	for i := 0; i < nx; i++ {
		xi := x[i*dim : (i+1)*dim]
		for d := 0; d < dim; d++ {
			merge[d] += float32(xi[d])
		}
		assign[i] = 0
		count++
	}
	scaleMergeCentroid(merge, count, p.AvgLen)
	return newK, newCentroids
}

// findNearestSurviving rewrites assign into the new index space:
// points in surviving buckets keep their bucket, points in dropped
// buckets move to the nearest of the first kSurvive new buckets by
// exhaustive L2 search (the tier that triggered the reassignment).
func findNearestSurviving[T distance.Elem](x []T, newCentroids []float32, nx, kSurvive, dim int, transform, assign []int64) {
	parallel.For(nx, func(start, end int) {
		for i := start; i < end; i++ {
			if t := transform[assign[i]]; t != -1 {
				assign[i] = t
				continue
			}
			xi := x[i*dim : (i+1)*dim]
			minID := 0
			minDist := distance.L2Sqr[T, float32, float32](xi, newCentroids[:dim])
			for j := 1; j < kSurvive; j++ {
				d := distance.L2Sqr[T, float32, float32](xi, newCentroids[j*dim:(j+1)*dim])
				if d < minDist {
					minDist = d
					minID = j
				}
			}
			assign[i] = int64(minID)
		}
	})
}

// scaleMergeCentroid finalizes an accumulated sum: mean, or unit-norm
// projection to avgLen when configured.
func scaleMergeCentroid(c []float32, count int64, avgLen float32) {
	if avgLen != 0 {
		scale := float32(float64(avgLen) / distance.Norm(c))
		for j := range c {
			c[j] *= scale
		}
		return
	}
	norm := 1.0 / float32(count)
	for j := range c {
		c[j] *= norm
	}
}
