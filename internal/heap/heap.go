// Package heap provides bounded top-k heaps over (float32 value,
// uint64 id) pairs. The ordering is closed over a comparator type
// parameter so the same sift code serves both "keep the k smallest"
// (L2 distances) and "keep the k largest" (inner products).
package heap

import "math"

// Cmp orders heap entries. Cmp(a, b) reports whether a ranks strictly
// above b; Cmp(child, parent) never holds for a parent/child pair.
// Sentinel is the value an empty slot holds so any real score
// displaces it.
type Cmp interface {
	Cmp(a, b float32) bool
	Sentinel() float32
}

// Max is a max-heap: the largest value sits on top and is evicted
// first, so the heap retains the k smallest scores. Used for L2.
type Max struct{}

func (Max) Cmp(a, b float32) bool { return a > b }
func (Max) Sentinel() float32     { return math.MaxFloat32 }

// Min is a min-heap: retains the k largest scores. Used for IP.
type Min struct{}

func (Min) Cmp(a, b float32) bool { return a < b }
func (Min) Sentinel() float32     { return -math.MaxFloat32 }

// Heapify resets vals[:k] and ids[:k] to sentinel slots.
func Heapify[C Cmp](k int, vals []float32, ids []uint64) {
	var cmp C
	for i := 0; i < k; i++ {
		vals[i] = cmp.Sentinel()
		ids[i] = 0
	}
}

// SwapTop replaces the root with (val, id) and sifts it down.
// The caller checks Cmp(vals[0], val) before calling.
func SwapTop[C Cmp](k int, vals []float32, ids []uint64, val float32, id uint64) {
	siftDown[C](k, vals, ids, val, id)
}

// Reorder sorts the heap contents in place: ascending values for Max
// (L2 results), descending for Min (IP results). The heap is consumed.
func Reorder[C Cmp](k int, vals []float32, ids []uint64) {
	for i := k - 1; i > 0; i-- {
		top, tid := vals[0], ids[0]
		// Pop: move the last slot to the root and sift down over [0, i).
		last, lastID := vals[i], ids[i]
		siftDown[C](i, vals, ids, last, lastID)
		vals[i] = top
		ids[i] = tid
	}
}

func siftDown[C Cmp](k int, vals []float32, ids []uint64, val float32, id uint64) {
	var cmp C
	i := 0
	for {
		left := 2*i + 1
		right := left + 1
		next := i
		if left < k && cmp.Cmp(vals[left], val) {
			next = left
		}
		if right < k && cmp.Cmp(vals[right], val) && cmp.Cmp(vals[right], vals[left]) {
			next = right
		}
		if next == i {
			break
		}
		vals[i] = vals[next]
		ids[i] = ids[next]
		i = next
	}
	vals[i] = val
	ids[i] = id
}
