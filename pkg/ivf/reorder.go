package ivf

import "github.com/therealutkarshpriyadarshi/blockann/internal/distance"

// ReorderByBucket sorts the (x, ids) view in place by bucket index
// using a prefix-sum bucket sort: one scratch copy, every row copied
// exactly once, no row read after it is overwritten. Returns the
// bucket boundaries: bucket i occupies rows [start[i], start[i+1]).
func ReorderByBucket[T distance.Elem](x []T, ids []uint32, assign []int64, dim, k int) []int64 {
	size := len(ids)

	pre := make([]int64, k+1)
	for i := 0; i < size; i++ {
		pre[assign[i]+1]++
	}
	for i := 1; i <= k; i++ {
		pre[i] += pre[i-1]
	}
	start := make([]int64, k+1)
	copy(start, pre)

	xTmp := make([]T, size*dim)
	idsTmp := make([]uint32, size)
	copy(xTmp, x[:size*dim])
	copy(idsTmp, ids)
	for i := 0; i < size; i++ {
		off := pre[assign[i]]
		pre[assign[i]]++
		ids[off] = idsTmp[i]
		copy(x[off*int64(dim):(off+1)*int64(dim)], xTmp[i*dim:(i+1)*dim])
	}

	return start
}
