package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
	"github.com/therealutkarshpriyadarshi/blockann/pkg/builder"
)

// loadMatrix reads a binary vector file: u32 count, u32 dim, then
// count·dim row-major elements of T, little-endian. Row ids are
// assigned sequentially from zero.
func loadMatrix[T distance.Elem](path string) (*builder.Dataset[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	n := int(binary.LittleEndian.Uint32(hdr[:4]))
	dim := int(binary.LittleEndian.Uint32(hdr[4:]))
	if n <= 0 || dim <= 0 {
		return nil, fmt.Errorf("%s: invalid header (count=%d, dim=%d)", path, n, dim)
	}

	vectors := make([]T, n*dim)
	if err := readElements(r, vectors); err != nil {
		return nil, fmt.Errorf("read payload of %s: %w", path, err)
	}

	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i)
	}

	return &builder.Dataset[T]{Vectors: vectors, IDs: ids, Dim: dim}, nil
}

func readElements[T distance.Elem](r io.Reader, dst []T) error {
	switch d := any(dst).(type) {
	case []float32:
		buf := make([]byte, 4*len(d))
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		for i := range d {
			d[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	case []uint8:
		if _, err := io.ReadFull(r, d); err != nil {
			return err
		}
	case []int8:
		buf := make([]byte, len(d))
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		for i := range d {
			d[i] = int8(buf[i])
		}
	}
	return nil
}
