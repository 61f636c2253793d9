package quantization

import (
	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/heap"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/blockstore"
)

// Search scores the n encoded entries of one bucket against one query
// and maintains a bounded top-k over (vals, ids). C selects the heap
// orientation: heap.Max keeps the k smallest scores (L2), heap.Min the
// k largest (IP).
//
// table is the query's precompute table from PrecomputeTable; passing
// nil is a programmer error. centroid is the bucket centroid, codes the
// bucket's code stream. If heapify, the heap is reset to sentinels
// first; if reorder, the heap is sorted (ascending for Max, descending
// for Min) before returning. Result ids are refine ids composed from
// (cid, off+j, qid).
//
// For L2 the score decomposes as term1 − 2·term3 + term2:
//
//	term1 = ‖q − c‖²            one L2Sqr per bucket
//	term3 = Σ_i table[i, code_i] decoded from the IP lookup table
//	term2 = ⟨r,r⟩ + 2⟨c,r⟩       read from the code tail
//
// For IP the score is ⟨q,c⟩ + Σ_i table[i, code_i].
func Search[C heap.Cmp, T distance.Elem, U Code](
	q *ResidualQuantizer[T, U],
	table []float32,
	query []T,
	centroid []float32,
	codes []U,
	n, topk int,
	vals []float32,
	ids []uint64,
	reorder, heapify bool,
	cid, off, qid uint32,
) {
	if table == nil {
		panic("quantization: search requires a precompute table")
	}

	var cmp C
	if heapify {
		heap.Heapify[C](topk, vals, ids)
	}

	cw := q.CodeWidth()

	if q.metric == L2 {
		term1 := distance.L2Sqr[T, float32, float32](query, centroid)

		for j := 0; j < n; j++ {
			code := codes[j*cw : (j+1)*cw]

			var term3 float32
			for mm := 0; mm < q.m; mm++ {
				term3 += table[mm*q.k+int(code[mm])]
			}

			dis := term1 - 2*term3 + getTerm2(code[q.m:])
			if cmp.Cmp(vals[0], dis) {
				heap.SwapTop[C](topk, vals, ids, dis, blockstore.RefineID(cid, off+uint32(j), qid))
			}
		}
	} else {
		qc := distance.IP[T, float32, float32](query, centroid)

		for j := 0; j < n; j++ {
			code := codes[j*cw : (j+1)*cw]

			dis := qc
			for mm := 0; mm < q.m; mm++ {
				dis += table[mm*q.k+int(code[mm])]
			}

			if cmp.Cmp(vals[0], dis) {
				heap.SwapTop[C](topk, vals, ids, dis, blockstore.RefineID(cid, off+uint32(j), qid))
			}
		}
	}

	if reorder {
		heap.Reorder[C](topk, vals, ids)
	}
}
