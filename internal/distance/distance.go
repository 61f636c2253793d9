package distance

import "math"

// Elem constrains the element types a stored vector may use.
// Corpora are often pre-quantized, so the kernels must mix element
// types freely (e.g. uint8 rows against float32 centroids).
type Elem interface {
	float32 | uint8 | int8
}

// Acc constrains the accumulator type of a kernel.
type Acc interface {
	float32 | float64
}

// L2Sqr computes the squared Euclidean distance between x and y,
// accumulating in R.
// Formula: Σ(x[i] - y[i])²
func L2Sqr[A, B Elem, R Acc](x []A, y []B) R {
	var sum R
	for i := range x {
		diff := R(x[i]) - R(y[i])
		sum += diff * diff
	}
	return sum
}

// IP computes the inner product between x and y, accumulating in R.
// Formula: Σ x[i]·y[i]
func IP[A, B Elem, R Acc](x []A, y []B) R {
	var sum R
	for i := range x {
		sum += R(x[i]) * R(y[i])
	}
	return sum
}

// Residual writes x - c into r. All three slices must have the same
// length; r may not alias x or c.
func Residual[A Elem](x []A, c []float32, r []float32) {
	for i := range r {
		r[i] = float32(x[i]) - c[i]
	}
}

// LookupTableIP fills out[j] with the inner product of q against the
// j-th sub-centroid of one subspace's codebook, laid out search-native:
// dsub rows of k values (the transpose of the training layout), so the
// inner loop walks k contiguous slots. Product quantizer search decodes
// distances with a single lookup per subspace from the resulting table.
func LookupTableIP[A Elem](q []A, subCentroids []float32, out []float32, dsub, k int) {
	for j := 0; j < k; j++ {
		out[j] = 0
	}
	for i := 0; i < dsub; i++ {
		qi := float32(q[i])
		row := subCentroids[i*k : (i+1)*k]
		for j := 0; j < k; j++ {
			out[j] += qi * row[j]
		}
	}
}

// Norm computes the L2 norm of v with float64 accumulation.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
