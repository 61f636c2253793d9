package ivf

import (
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/kmeans"
	"github.com/therealutkarshpriyadarshi/blockann/internal/parallel"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/blockstore"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/observability"
)

// sameSizeKMeans partitions size rows into k2 buckets of at most
// ⌈size/k2⌉ rows each. An ordinary k-means run seeds the centroids;
// rows are then assigned greedily in ascending order of (row, centroid)
// distance, each row to the closest centroid that still has capacity,
// and the centroids are recomputed from the balanced assignment.
func sameSizeKMeans[T distance.Elem](x []T, size, k2 int, centroids []float32, assign []int64, p Params) error {
	if err := kmeans.Run(x, size, p.Dim, k2, centroids, p.kmeansOptions()); err != nil {
		return err
	}

	dim := p.Dim
	capacity := (size + k2 - 1) / k2

	pairs := distancePairs(x, size, k2, centroids, dim)

	for i := range assign[:size] {
		assign[i] = -1
	}
	counts := make([]int, k2)
	assigned := 0
	for _, pr := range pairs {
		if assigned == size {
			break
		}
		if assign[pr.vec] != -1 || counts[pr.cen] >= capacity {
			continue
		}
		assign[pr.vec] = int64(pr.cen)
		counts[pr.cen]++
		assigned++
	}

	hassign := make([]int64, k2)
	kmeans.ComputeCentroids(dim, k2, size, x, assign, hassign, centroids, p.AvgLen)
	return nil
}

type vecCenDist struct {
	dist float32
	vec  uint32
	cen  uint32
}

// distancePairs builds the full (row, centroid) distance table, sorted
// ascending by distance; ties keep the row-major table order.
func distancePairs[T distance.Elem](x []T, size, k2 int, centroids []float32, dim int) []vecCenDist {
	pairs := make([]vecCenDist, size*k2)
	parallel.For(size, func(start, end int) {
		for i := start; i < end; i++ {
			xi := x[i*dim : (i+1)*dim]
			for j := 0; j < k2; j++ {
				pairs[i*k2+j] = vecCenDist{
					dist: distance.L2Sqr[T, float32, float32](xi, centroids[j*dim:(j+1)*dim]),
					vec:  uint32(i),
					cen:  uint32(j),
				}
			}
		}
	})
	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].dist < pairs[b].dist
	})
	return pairs
}

// emitSameSize is the equal-size terminal: it balances the view into
// k2 = ⌈size/threshold⌉ buckets, opportunistically pads blocks that
// still have room with nearby rows (a row may then appear in more than
// one block, trading storage for recall), and writes every bucket as
// one block. This branch never recurses.
func emitSameSize[T distance.Elem](k1ID uint32, x []T, ids []uint32, p Params, blkNum *uint32, sink blockstore.BlockSink) error {
	size := len(ids)
	dim := p.Dim

	k2 := (size + p.Threshold - 1) / p.Threshold
	if k2 < 1 {
		k2 = 1
	}

	centroids := make([]float32, k2*dim)
	assign := make([]int64, size)
	if err := sameSizeKMeans(x, size, k2, centroids, assign, p); err != nil {
		return fmt.Errorf("equal-size node with %d rows: %w", size, err)
	}

	entryNum := blockstore.PackEntries[T](dim, p.BlockSize)
	if entryNum <= 0 {
		return fmt.Errorf("block size %d cannot hold one %d-dim entry", p.BlockSize, dim)
	}

	// members[c] is the set of row offsets block c will hold; seeded
	// with the balanced assignment.
	members := make([]map[uint32]struct{}, k2)
	for c := range members {
		members[c] = make(map[uint32]struct{})
	}
	for i := 0; i < size; i++ {
		members[assign[i]][uint32(i)] = struct{}{}
	}

	// Padding pass: walk (row, centroid) pairs from nearest to
	// farthest and fill any remaining block slots. Rows already in a
	// block may be inserted into further blocks; total insertions are
	// capped at the aggregate slot budget.
	pairs := distancePairs(x, size, k2, centroids, dim)
	totalInsert := size
	maxTotalInsert := k2 * entryNum
	for _, pr := range pairs {
		if totalInsert >= maxTotalInsert {
			break
		}
		if len(members[pr.cen]) < entryNum {
			if _, ok := members[pr.cen][pr.vec]; !ok {
				members[pr.cen][pr.vec] = struct{}{}
				totalInsert++
			}
		}
	}
	if totalInsert > size {
		observability.Debugf("ivf: equal-size node padded %d extra entries over %d rows", totalInsert-size, size)
	}

	// Serialize each bucket, rows in ascending offset order.
	bufEntries := entryNum
	if c := (size + k2 - 1) / k2; c > bufEntries {
		bufEntries = c
	}
	blockBuf := make([]byte, p.BlockSize)
	rows := make([]T, bufEntries*dim)
	rowIDs := make([]uint32, bufEntries)
	for c := 0; c < k2; c++ {
		sel := make([]uint32, 0, len(members[c]))
		for v := range members[c] {
			sel = append(sel, v)
		}
		sort.Slice(sel, func(a, b int) bool { return sel[a] < sel[b] })

		for i, v := range sel {
			copy(rows[i*dim:(i+1)*dim], x[int(v)*dim:(int(v)+1)*dim])
			rowIDs[i] = ids[v]
		}
		if err := blockstore.PackBlock(blockBuf, dim, rows, rowIDs[:len(sel)]); err != nil {
			return err
		}

		globalID := blockstore.GlobalBlockID(k1ID, *blkNum)
		if err := sink.WriteBlock(blockBuf, centroids[c*dim:(c+1)*dim], globalID); err != nil {
			return err
		}
		*blkNum++
	}

	return nil
}
