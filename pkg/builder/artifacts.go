package builder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/internal/quantization"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/blockstore"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/observability"
)

// Artifacts names the five output files of one build.
type Artifacts struct {
	DataPath        string // bucketed vector store (fixed-size blocks)
	CentroidsPath   string // one float32 centroid row per block
	CentroidIDsPath string // one uint32 global block id per block
	PQCentroidsPath string // residual quantizer codebook
	PQCodesPath     string // residual quantizer code stream
}

// DefaultArtifacts places all artifacts in dir.
func DefaultArtifacts(dir string) Artifacts {
	return Artifacts{
		DataPath:        filepath.Join(dir, "bucket.data"),
		CentroidsPath:   filepath.Join(dir, "bucket.centroids"),
		CentroidIDsPath: filepath.Join(dir, "bucket.centroid_ids"),
		PQCentroidsPath: filepath.Join(dir, "pq.centroids"),
		PQCodesPath:     filepath.Join(dir, "pq.codes"),
	}
}

// recordingSink forwards blocks to the stream writers while keeping
// the per-block counts and centroids the quantize phase needs.
type recordingSink struct {
	inner    *blockstore.StreamWriters
	dim      int
	capacity int
	metrics  *observability.Metrics

	counts    []uint32
	centroids []float32 // numBlocks × dim, block order
	packed    int
}

func (s *recordingSink) WriteBlock(block []byte, centroid []float32, globalID uint32) error {
	if err := s.inner.WriteBlock(block, centroid, globalID); err != nil {
		return err
	}
	count := binary.LittleEndian.Uint32(block)
	s.counts = append(s.counts, count)
	s.centroids = append(s.centroids, centroid...)
	s.packed += int(count)
	if s.metrics != nil {
		s.metrics.RecordBlock(int(count), s.capacity)
	}
	return nil
}

// openStreamWriters creates the three block-store files. The returned
// close function flushes and closes all of them; any write failure is
// fatal for the build.
func openStreamWriters(art Artifacts) (*blockstore.StreamWriters, func() error, error) {
	paths := []string{art.DataPath, art.CentroidsPath, art.CentroidIDsPath}
	files := make([]*os.File, 0, 3)
	bufs := make([]*bufio.Writer, 0, 3)
	for _, p := range paths {
		f, err := os.Create(p)
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return nil, nil, fmt.Errorf("create %s: %w", p, err)
		}
		files = append(files, f)
		bufs = append(bufs, bufio.NewWriter(f))
	}

	writers := &blockstore.StreamWriters{
		Data:        bufs[0],
		Centroids:   bufs[1],
		CentroidIDs: bufs[2],
	}
	closeAll := func() error {
		var firstErr error
		for i, bw := range bufs {
			if err := bw.Flush(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("flush %s: %w", paths[i], err)
			}
			if err := files[i].Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close %s: %w", paths[i], err)
			}
		}
		return firstErr
	}
	return writers, closeAll, nil
}

// loadPackedEntries reads the data stream back in block order and
// returns the concatenated rows plus the per-block entry counts. The
// quantizer encodes exactly this sequence, so codes pair 1:1 with the
// block store, duplicated rows included.
func loadPackedEntries[T distance.Elem](path string, dim, blkSize int) ([]T, []uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var all []T
	var buckets []uint32
	err = blockstore.IterateBlocks(bufio.NewReader(f), blkSize, func(block []byte) error {
		rows, ids, err := blockstore.DecodeBlock[T](block, dim)
		if err != nil {
			return err
		}
		all = append(all, rows...)
		buckets = append(buckets, uint32(len(ids)))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return all, buckets, nil
}

// sampleForTraining picks sampleN packed entries with an even stride
// and pairs each with the centroid of the block it lives in.
func sampleForTraining[T distance.Elem](rows []T, centroids []float32, buckets []uint32, dim, sampleN int) ([]T, []float32) {
	total := 0
	for _, c := range buckets {
		total += int(c)
	}
	step := total / sampleN
	if step < 1 {
		step = 1
	}

	sampleX := make([]T, sampleN*dim)
	sampleCens := make([]float32, sampleN*dim)

	bucket, bucketEnd := 0, int(buckets[0])
	for s := 0; s < sampleN; s++ {
		g := s * step
		for g >= bucketEnd {
			bucket++
			bucketEnd += int(buckets[bucket])
		}
		copy(sampleX[s*dim:(s+1)*dim], rows[g*dim:(g+1)*dim])
		copy(sampleCens[s*dim:(s+1)*dim], centroids[bucket*dim:(bucket+1)*dim])
	}
	return sampleX, sampleCens
}

// writeQuantizerArtifacts encodes the packed entries and writes the
// code stream and codebook files.
func (b *Builder[T, U]) writeQuantizerArtifacts(rq *quantization.ResidualQuantizer[T, U], rows []T, buckets []uint32, centroids []float32, total int, art Artifacts) error {
	codesFile, err := os.Create(art.PQCodesPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", art.PQCodesPath, err)
	}
	defer codesFile.Close()

	err = rq.EncodeAndSave(total, rows, centroids, buckets, codesFile, func(encoded, n int) {
		b.report("encode", encoded, n)
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	cenFile, err := os.Create(art.PQCentroidsPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", art.PQCentroidsPath, err)
	}
	defer cenFile.Close()
	if err := rq.SaveCentroids(cenFile); err != nil {
		return err
	}
	return nil
}
