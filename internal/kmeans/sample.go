package kmeans

import (
	"math/rand"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
)

// SampleRows copies sampleN rows of x into out using a seeded
// stratified sampler: one uniform pick per stride of n/sampleN rows.
// Deterministic for a given seed; sampleN must not exceed n.
func SampleRows[T distance.Elem](x []T, n, dim, sampleN int, out []T, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	interval := n / sampleN
	for i := 0; i < sampleN; i++ {
		j := i * interval
		if interval > 1 {
			j += rng.Intn(interval)
		}
		copy(out[i*dim:(i+1)*dim], x[j*dim:(j+1)*dim])
	}
}
