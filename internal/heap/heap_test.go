package heap

import (
	"math/rand"
	"sort"
	"testing"
)

func TestMaxHeap_KeepsSmallest(t *testing.T) {
	const k, n = 8, 100

	rng := rand.New(rand.NewSource(7))
	scores := make([]float32, n)
	for i := range scores {
		scores[i] = rng.Float32() * 100
	}

	vals := make([]float32, k)
	ids := make([]uint64, k)
	Heapify[Max](k, vals, ids)

	var cmp Max
	for i, s := range scores {
		if cmp.Cmp(vals[0], s) {
			SwapTop[Max](k, vals, ids, s, uint64(i))
		}
	}
	Reorder[Max](k, vals, ids)

	sorted := append([]float32(nil), scores...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })

	for i := 0; i < k; i++ {
		if vals[i] != sorted[i] {
			t.Errorf("vals[%d] = %f, want %f", i, vals[i], sorted[i])
		}
	}
	// Ascending after reorder.
	for i := 1; i < k; i++ {
		if vals[i] < vals[i-1] {
			t.Errorf("vals not ascending at %d: %f < %f", i, vals[i], vals[i-1])
		}
	}
}

func TestMinHeap_KeepsLargest(t *testing.T) {
	const k, n = 5, 64

	rng := rand.New(rand.NewSource(11))
	scores := make([]float32, n)
	for i := range scores {
		scores[i] = rng.Float32()*2 - 1
	}

	vals := make([]float32, k)
	ids := make([]uint64, k)
	Heapify[Min](k, vals, ids)

	var cmp Min
	for i, s := range scores {
		if cmp.Cmp(vals[0], s) {
			SwapTop[Min](k, vals, ids, s, uint64(i))
		}
	}
	Reorder[Min](k, vals, ids)

	sorted := append([]float32(nil), scores...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] > sorted[b] })

	for i := 0; i < k; i++ {
		if vals[i] != sorted[i] {
			t.Errorf("vals[%d] = %f, want %f", i, vals[i], sorted[i])
		}
	}
	// Descending after reorder.
	for i := 1; i < k; i++ {
		if vals[i] > vals[i-1] {
			t.Errorf("vals not descending at %d", i)
		}
	}
}

func TestHeap_IDsFollowValues(t *testing.T) {
	const k = 4

	vals := make([]float32, k)
	ids := make([]uint64, k)
	Heapify[Max](k, vals, ids)

	scores := []float32{9, 3, 7, 1, 5}
	var cmp Max
	for i, s := range scores {
		if cmp.Cmp(vals[0], s) {
			SwapTop[Max](k, vals, ids, s, uint64(100+i))
		}
	}
	Reorder[Max](k, vals, ids)

	wantVals := []float32{1, 3, 5, 7}
	wantIDs := []uint64{103, 101, 104, 102}
	for i := range wantVals {
		if vals[i] != wantVals[i] || ids[i] != wantIDs[i] {
			t.Errorf("slot %d = (%f, %d), want (%f, %d)", i, vals[i], ids[i], wantVals[i], wantIDs[i])
		}
	}
}
