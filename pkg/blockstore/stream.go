package blockstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// BlockSink receives finished leaf blocks in emission order. The three
// streams stay 1:1: one centroid row and one global id per block.
type BlockSink interface {
	WriteBlock(block []byte, centroid []float32, globalID uint32) error
}

// StreamWriters appends blocks, centroids and global block ids to three
// independent writers. Centroids are written as dim little-endian
// float32s, ids as little-endian uint32s.
type StreamWriters struct {
	Data        io.Writer
	Centroids   io.Writer
	CentroidIDs io.Writer
}

// WriteBlock appends one block to all three streams.
func (w *StreamWriters) WriteBlock(block []byte, centroid []float32, globalID uint32) error {
	if _, err := w.Data.Write(block); err != nil {
		return fmt.Errorf("write data block: %w", err)
	}
	buf := make([]byte, 4*len(centroid))
	for i, v := range centroid {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if _, err := w.Centroids.Write(buf); err != nil {
		return fmt.Errorf("write centroid: %w", err)
	}
	var idb [4]byte
	binary.LittleEndian.PutUint32(idb[:], globalID)
	if _, err := w.CentroidIDs.Write(idb[:]); err != nil {
		return fmt.Errorf("write centroid id: %w", err)
	}
	return nil
}

// IterateBlocks reads blkSize-byte blocks from r until EOF, invoking
// fn for each. The buffer passed to fn is reused between calls.
func IterateBlocks(r io.Reader, blkSize int, fn func(block []byte) error) error {
	buf := make([]byte, blkSize)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read block: %w", err)
		}
		if err := fn(buf); err != nil {
			return err
		}
	}
}

// ReadCentroidStream reads all dim-wide float32 centroid rows from r.
func ReadCentroidStream(r io.Reader, dim int) ([]float32, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read centroid stream: %w", err)
	}
	if len(raw)%(4*dim) != 0 {
		return nil, fmt.Errorf("centroid stream length %d not a multiple of row size %d", len(raw), 4*dim)
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// ReadBlockIDStream reads all uint32 global block ids from r.
func ReadBlockIDStream(r io.Reader) ([]uint32, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read block id stream: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("block id stream length %d not a multiple of 4", len(raw))
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out, nil
}
