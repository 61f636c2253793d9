package parallel

import (
	"sync/atomic"
	"testing"
)

func TestFor_CoversEveryIndexOnce(t *testing.T) {
	const n = 10007

	hits := make([]int32, n)
	For(n, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})

	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times", i, h)
		}
	}
}

func TestFor_Empty(t *testing.T) {
	called := false
	For(0, func(start, end int) { called = true })
	if called {
		t.Error("fn called for an empty range")
	}
}

func TestStrided_CoversEveryIndexOnce(t *testing.T) {
	const n = 997

	hits := make([]int32, n)
	Strided(n, func(i int) {
		atomic.AddInt32(&hits[i], 1)
	})

	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times", i, h)
		}
	}
}

func TestFor_ChunksAreDisjointAndOrdered(t *testing.T) {
	const n = 100

	var total int64
	For(n, func(start, end int) {
		if start > end {
			t.Errorf("inverted chunk [%d, %d)", start, end)
		}
		atomic.AddInt64(&total, int64(end-start))
	})
	if total != n {
		t.Errorf("chunks cover %d indices, want %d", total, n)
	}
}
