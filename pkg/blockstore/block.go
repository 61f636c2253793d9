// Package blockstore defines the on-disk layout of the bucketed vector
// store: fixed-size blocks holding one leaf bucket's vectors and ids,
// the parallel centroid and block-id streams, and the bit-packed id
// compositions. All encodings are little-endian, fixed-layout, and
// append-only.
package blockstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/therealutkarshpriyadarshi/blockann/internal/distance"
)

// Block layout: u32 count | count × (vector[dim] of T, u32 id) | zero
// padding up to the configured block size.
const blockHeaderSize = 4

// ElemSize returns the byte width of one vector element.
func ElemSize[T distance.Elem]() int {
	var t T
	switch any(t).(type) {
	case float32:
		return 4
	default:
		return 1
	}
}

// EntrySize returns the byte width of one (vector, id) entry.
func EntrySize[T distance.Elem](dim int) int {
	return dim*ElemSize[T]() + 4
}

// EntriesPerBlock returns how many entries fit a data block after the
// count header.
func EntriesPerBlock[T distance.Elem](dim, blkSize int) int {
	return (blkSize - blockHeaderSize) / EntrySize[T](dim)
}

// PackEntries returns the per-bucket entry budget of the equal-size
// packing pass, which sizes buckets by blkSize / entrySize without
// reserving the header.
func PackEntries[T distance.Elem](dim, blkSize int) int {
	return blkSize / EntrySize[T](dim)
}

// PackBlock serializes count rows and ids into buf (exactly one block,
// len(buf) == blkSize). Rows beyond count·dim are not read. The buffer
// beyond the last entry is zeroed.
func PackBlock[T distance.Elem](buf []byte, dim int, rows []T, ids []uint32) error {
	count := len(ids)
	need := blockHeaderSize + count*EntrySize[T](dim)
	if need > len(buf) {
		return fmt.Errorf("block overflow: %d entries need %d bytes, block is %d", count, need, len(buf))
	}

	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf, uint32(count))

	pos := blockHeaderSize
	for i := 0; i < count; i++ {
		pos = putVector(buf, pos, rows[i*dim:(i+1)*dim])
		binary.LittleEndian.PutUint32(buf[pos:], ids[i])
		pos += 4
	}
	return nil
}

// DecodeBlock parses one block into its rows (row-major, count·dim
// elements) and ids.
func DecodeBlock[T distance.Elem](block []byte, dim int) (rows []T, ids []uint32, err error) {
	if len(block) < blockHeaderSize {
		return nil, nil, fmt.Errorf("block too short: %d bytes", len(block))
	}
	count := int(binary.LittleEndian.Uint32(block))
	if blockHeaderSize+count*EntrySize[T](dim) > len(block) {
		return nil, nil, fmt.Errorf("block count %d exceeds block size %d", count, len(block))
	}

	rows = make([]T, count*dim)
	ids = make([]uint32, count)
	pos := blockHeaderSize
	for i := 0; i < count; i++ {
		pos = getVector(block, pos, rows[i*dim:(i+1)*dim])
		ids[i] = binary.LittleEndian.Uint32(block[pos:])
		pos += 4
	}
	return rows, ids, nil
}

func putVector[T distance.Elem](buf []byte, pos int, row []T) int {
	switch r := any(row).(type) {
	case []float32:
		for _, v := range r {
			binary.LittleEndian.PutUint32(buf[pos:], math.Float32bits(v))
			pos += 4
		}
	case []uint8:
		copy(buf[pos:], r)
		pos += len(r)
	case []int8:
		for _, v := range r {
			buf[pos] = byte(v)
			pos++
		}
	}
	return pos
}

func getVector[T distance.Elem](buf []byte, pos int, row []T) int {
	switch r := any(row).(type) {
	case []float32:
		for i := range r {
			r[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[pos:]))
			pos += 4
		}
	case []uint8:
		copy(r, buf[pos:pos+len(r)])
		pos += len(r)
	case []int8:
		for i := range r {
			r[i] = int8(buf[pos])
			pos++
		}
	}
	return pos
}
