package quantization

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/kmeans"
	"github.com/therealutkarshpriyadarshi/blockann/internal/parallel"
)

// ResidualQuantizer encodes vectors relative to the centroid of the
// bucket they live in: each of the m subspaces gets its own codebook of
// 2^nbits sub-centroids trained on residuals, and every vector is
// represented by m sub-codes of type U (plus a float32 tail for L2).
//
// T is the stored vector element type, U the sub-code type.
type ResidualQuantizer[T distance.Elem, U Code] struct {
	d, dsub, k int
	m          int
	nbits      uint32
	metric     Metric
	niter      int
	seed       int64

	// centroids is m·k·dsub float32s. After training each subspace
	// holds k rows of dsub (codebook layout); after LoadCentroids
	// each subspace holds dsub rows of k (search layout).
	centroids  []float32
	transposed bool

	codes        []U
	ntotal, npos int

	// subTri caches the per-subspace sub-centroid pair-distance
	// triangles used by encoding; built once on first encode.
	subTri []float32
}

// NewResidualQuantizer validates cfg and allocates the codebook.
// Configuration errors fail fast, before any work:
// Dim must be divisible by M, the codebook size 2^NBits must be a
// multiple of 32, and the subspace width may not exceed 8.
func NewResidualQuantizer[T distance.Elem, U Code](cfg Config) (*ResidualQuantizer[T, U], error) {
	if cfg.M == 0 || cfg.Dim%int(cfg.M) != 0 {
		return nil, fmt.Errorf("dimension %d is not divisible by m=%d", cfg.Dim, cfg.M)
	}
	k := 1 << cfg.NBits
	if k%32 != 0 {
		return nil, fmt.Errorf("codebook size %d (nbits=%d) must be a multiple of 32", k, cfg.NBits)
	}
	dsub := cfg.Dim / int(cfg.M)
	if dsub > 8 {
		return nil, fmt.Errorf("subspace width %d exceeds 8 (dim=%d, m=%d)", dsub, cfg.Dim, cfg.M)
	}

	niter := cfg.Iterations
	if niter <= 0 {
		niter = 10
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1234
	}

	return &ResidualQuantizer[T, U]{
		d:         cfg.Dim,
		dsub:      dsub,
		k:         k,
		m:         int(cfg.M),
		nbits:     cfg.NBits,
		metric:    cfg.Metric,
		niter:     niter,
		seed:      seed,
		centroids: make([]float32, int(cfg.M)*k*dsub),
	}, nil
}

// M returns the subspace count.
func (q *ResidualQuantizer[T, U]) M() int { return q.m }

// K returns the per-subspace codebook size.
func (q *ResidualQuantizer[T, U]) K() int { return q.k }

// DSub returns the subspace width.
func (q *ResidualQuantizer[T, U]) DSub() int { return q.dsub }

// Metric returns the configured metric.
func (q *ResidualQuantizer[T, U]) Metric() Metric { return q.metric }

// Centroids exposes the codebook (layout per the struct comment).
func (q *ResidualQuantizer[T, U]) Centroids() []float32 { return q.centroids }

// Codes exposes the encoded code stream.
func (q *ResidualQuantizer[T, U]) Codes() []U { return q.codes }

// CodeWidth returns the number of U elements one vector's code
// occupies: m sub-codes, plus the float32 term2 tail for L2.
func (q *ResidualQuantizer[T, U]) CodeWidth() int {
	if q.metric == L2 {
		return q.m + tailWidth[U]()
	}
	return q.m
}

// InitCodes sizes the code buffer for n vectors and rewinds the
// encoding position.
func (q *ResidualQuantizer[T, U]) InitCodes(n int) {
	if q.ntotal < n {
		q.ntotal = n
		q.codes = make([]U, n*q.CodeWidth())
	}
	q.npos = 0
}

// Reconstruct decodes a residual from one vector's sub-codes into r
// (d float32s). Requires the codebook layout (trained, not loaded).
func (q *ResidualQuantizer[T, U]) Reconstruct(r []float32, code []U) {
	for i := 0; i < q.m; i++ {
		c := int(code[i])
		copy(r[i*q.dsub:(i+1)*q.dsub], q.centroids[(i*q.k+c)*q.dsub:(i*q.k+c+1)*q.dsub])
	}
}

// Train builds the per-subspace codebooks from n training rows and the
// bucket centroid each row will be encoded against (sampleCentroids,
// row-major n × d). Within each subspace, residuals are deduplicated by
// exact bit equality before clustering so repeated rows cannot collapse
// sub-centroids onto each other.
func (q *ResidualQuantizer[T, U]) Train(n int, x []T, sampleCentroids []float32) error {
	rs := make([]float32, n*q.dsub)

	for i := 0; i < q.m; i++ {
		codeCnt := 0
		for j := 0; j < n; j++ {
			xd := x[j*q.d+i*q.dsub : j*q.d+(i+1)*q.dsub]
			cd := sampleCentroids[j*q.d+i*q.dsub : j*q.d+(i+1)*q.dsub]
			r := rs[codeCnt*q.dsub : (codeCnt+1)*q.dsub]
			distance.Residual(xd, cd, r)

			dup := false
			for p := 0; p < codeCnt && !dup; p++ {
				dup = residualEqual(rs[p*q.dsub:(p+1)*q.dsub], r)
			}
			if !dup {
				codeCnt++
			}
		}

		err := kmeans.Run(rs[:codeCnt*q.dsub], codeCnt, q.dsub, q.k,
			q.centroids[i*q.k*q.dsub:(i+1)*q.k*q.dsub],
			kmeans.Options{KMeansPP: true, Iterations: q.niter, Seed: q.seed})
		if err != nil {
			return fmt.Errorf("train subspace %d: %w", i, err)
		}
	}
	return nil
}

// residualEqual compares two residuals by exact bit pattern.
func residualEqual(a, b []float32) bool {
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

// EncodeVectors appends codes for n rows of one bucket, each encoded
// as the residual against ivfCen. Assignment uses the same
// lower-bound pruning as the k-means engine, against a per-subspace
// sub-centroid pair-distance triangle computed once per quantizer.
func (q *ResidualQuantizer[T, U]) EncodeVectors(n int, x []T, ivfCen []float32) {
	if q.npos+n > q.ntotal {
		panic(fmt.Sprintf("encode overflow: %d+%d vectors, %d allocated", q.npos, n, q.ntotal))
	}

	triSize := q.k * (q.k - 1) / 2
	buildTri := q.subTri == nil
	if buildTri {
		q.subTri = make([]float32, q.m*triSize)
	}

	cw := q.CodeWidth()
	base := q.npos * cw

	for loop := 0; loop < q.m; loop++ {
		tri := q.subTri[loop*triSize : (loop+1)*triSize]
		cen := q.centroids[loop*q.k*q.dsub : (loop+1)*q.k*q.dsub]

		at := func(i, j int) float32 {
			if i > j {
				return tri[j+i*(i-1)/2]
			}
			return tri[i+j*(j-1)/2]
		}

		if buildTri {
			parallel.Strided(q.k-1, func(row int) {
				i := row + 1
				yi := cen[i*q.dsub : (i+1)*q.dsub]
				for j := 0; j < i; j++ {
					yj := cen[j*q.dsub : (j+1)*q.dsub]
					tri[j+i*(i-1)/2] = distance.L2Sqr[float32, float32, float32](yi, yj)
				}
			})
		}

		parallel.For(n, func(start, end int) {
			rd := make([]float32, q.dsub)
			for i := start; i < end; i++ {
				xi := x[i*q.d+loop*q.dsub : i*q.d+(loop+1)*q.dsub]
				distance.Residual(xi, ivfCen[loop*q.dsub:(loop+1)*q.dsub], rd)

				best := 0
				bestVal := distance.L2Sqr[float32, float32, float32](rd, cen[:q.dsub])
				bestVal4 := bestVal * 4
				for j := 1; j < q.k; j++ {
					if bestVal4 <= at(best, j) {
						continue
					}
					dis := distance.L2Sqr[float32, float32, float32](rd, cen[j*q.dsub:(j+1)*q.dsub])
					if dis < bestVal {
						best = j
						bestVal = dis
						bestVal4 = bestVal * 4
					}
				}

				q.codes[base+i*cw+loop] = U(best)
			}
		})
	}

	q.npos += n
}

// EncodeAndSave encodes n rows spread over consecutive buckets
// (buckets[i] rows against the i-th row of ivfCens), fills the L2
// term2 tails, and writes the code stream to w:
//
//	u32 n | u32 code_width | n·code_width little-endian U elements
//
// progress, when non-nil, is invoked after each bucket with the number
// of vectors encoded so far.
func (q *ResidualQuantizer[T, U]) EncodeAndSave(n int, x []T, ivfCens []float32, buckets []uint32, w io.Writer, progress func(encoded, total int)) error {
	q.InitCodes(n)

	xd := 0
	for i, cnt := range buckets {
		q.EncodeVectors(int(cnt), x[xd:], ivfCens[i*q.d:(i+1)*q.d])
		xd += int(cnt) * q.d
		if progress != nil {
			progress(q.npos, n)
		}
	}
	if q.npos != n {
		return fmt.Errorf("bucket sizes sum to %d, expected %d vectors", q.npos, n)
	}

	if q.metric == L2 {
		q.fillTerm2(buckets, ivfCens)
	}

	return q.saveCodes(n, w)
}

// fillTerm2 reconstructs every encoded residual and stores
// ⟨r,r⟩ + 2⟨c,r⟩ in the code tail. The term completes the asymmetric
// L2 decomposition at query time without touching the raw vector.
func (q *ResidualQuantizer[T, U]) fillTerm2(buckets []uint32, ivfCens []float32) {
	cw := q.CodeWidth()
	r := make([]float32, q.d)
	pos := 0
	for i, cnt := range buckets {
		cen := ivfCens[i*q.d : (i+1)*q.d]
		for j := uint32(0); j < cnt; j++ {
			code := q.codes[pos*cw : (pos+1)*cw]
			q.Reconstruct(r, code)
			term2 := distance.IP[float32, float32, float32](r, r) +
				2*distance.IP[float32, float32, float32](cen, r)
			putTerm2(code[q.m:], term2)
			pos++
		}
	}
}

func (q *ResidualQuantizer[T, U]) saveCodes(n int, w io.Writer) error {
	bw := bufio.NewWriter(w)
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(n))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(q.CodeWidth()))
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("write code header: %w", err)
	}

	switch codes := any(q.codes[:n*q.CodeWidth()]).(type) {
	case []uint8:
		if _, err := bw.Write(codes); err != nil {
			return fmt.Errorf("write codes: %w", err)
		}
	case []uint16:
		var b [2]byte
		for _, c := range codes {
			binary.LittleEndian.PutUint16(b[:], c)
			if _, err := bw.Write(b[:]); err != nil {
				return fmt.Errorf("write codes: %w", err)
			}
		}
	}
	return bw.Flush()
}

// PrecomputeTable builds the m×k inner-product lookup table for one
// query: table[i·k + c] = ⟨query_i, C[i, c]⟩. Search consults it
// instead of decoding sub-centroids per entry.
func (q *ResidualQuantizer[T, U]) PrecomputeTable(query []T) []float32 {
	table := make([]float32, q.m*q.k)
	for i := 0; i < q.m; i++ {
		sub := q.centroids[i*q.k*q.dsub : (i+1)*q.k*q.dsub]
		out := table[i*q.k : (i+1)*q.k]
		if q.transposed {
			distance.LookupTableIP(query[i*q.dsub:(i+1)*q.dsub], sub, out, q.dsub, q.k)
		} else {
			for c := 0; c < q.k; c++ {
				out[c] = distance.IP[T, float32, float32](
					query[i*q.dsub:(i+1)*q.dsub], sub[c*q.dsub:(c+1)*q.dsub])
			}
		}
	}
	return table
}

// SaveCentroids writes the codebook:
//
//	u32 num = m·k | u32 dim = dsub | f32 payload in codebook layout
func (q *ResidualQuantizer[T, U]) SaveCentroids(w io.Writer) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(q.m*q.k))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(q.dsub))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write centroid header: %w", err)
	}
	buf := make([]byte, 4*len(q.centroids))
	for i, v := range q.centroids {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write centroids: %w", err)
	}
	return nil
}

// LoadCentroids reads a codebook written by SaveCentroids and
// transposes each subspace into the search layout (dsub rows of k),
// the form PrecomputeTable walks contiguously.
func (q *ResidualQuantizer[T, U]) LoadCentroids(r io.Reader) error {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("read centroid header: %w", err)
	}
	num := binary.LittleEndian.Uint32(hdr[:4])
	dim := binary.LittleEndian.Uint32(hdr[4:])
	if int(num) != q.m*q.k || int(dim) != q.dsub {
		return fmt.Errorf("codebook shape mismatch: file %d×%d, quantizer %d×%d", num, dim, q.m*q.k, q.dsub)
	}

	buf := make([]byte, 4*len(q.centroids))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read centroids: %w", err)
	}
	loaded := make([]float32, len(q.centroids))
	for i := range loaded {
		loaded[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	for i := 0; i < q.m; i++ {
		t := i * q.k * q.dsub
		matrixTranspose(loaded[t:t+q.k*q.dsub], q.centroids[t:t+q.k*q.dsub], q.k, q.dsub)
	}
	q.transposed = true
	return nil
}

// matrixTranspose writes the (rows × cols) matrix src into dst as
// (cols × rows).
func matrixTranspose(src, dst []float32, rows, cols int) {
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst[c*rows+r] = src[r*cols+c]
		}
	}
}
