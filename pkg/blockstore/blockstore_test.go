package blockstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalBlockID_RoundTrip(t *testing.T) {
	cases := []struct{ k1, blk uint32 }{
		{0, 0},
		{1, 1},
		{255, 1<<24 - 1},
		{7, 123456},
	}
	for _, tc := range cases {
		id := GlobalBlockID(tc.k1, tc.blk)
		k1, blk := ParseGlobalBlockID(id)
		assert.Equal(t, tc.k1, k1)
		assert.Equal(t, tc.blk, blk)
	}
}

func TestGlobalBlockID_OrderWithinCluster(t *testing.T) {
	// Block ids within one cluster must sort in write order.
	prev := GlobalBlockID(3, 0)
	for blk := uint32(1); blk < 100; blk++ {
		id := GlobalBlockID(3, blk)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestRefineID_RoundTrip(t *testing.T) {
	cases := []struct{ cid, off, qid uint32 }{
		{0, 0, 0},
		{12, 34, 56},
		{1<<24 - 1, 1<<32 - 1, 255},
	}
	for _, tc := range cases {
		id := RefineID(tc.cid, tc.off, tc.qid)
		cid, off, qid := ParseRefineID(id)
		assert.Equal(t, tc.cid, cid)
		assert.Equal(t, tc.off, off)
		assert.Equal(t, tc.qid, qid)
	}
}

func TestIDs_RejectOverflowingFields(t *testing.T) {
	assert.Panics(t, func() { RefineID(1<<24, 0, 0) })
	assert.Panics(t, func() { RefineID(0, 0, 256) })
	assert.Panics(t, func() { GlobalBlockID(256, 0) })
	assert.Panics(t, func() { GlobalBlockID(0, 1<<24) })
}

func TestEntrySizes(t *testing.T) {
	assert.Equal(t, 4, ElemSize[float32]())
	assert.Equal(t, 1, ElemSize[uint8]())
	assert.Equal(t, 1, ElemSize[int8]())

	// 8-dim float32 entry: 32 vector bytes + 4 id bytes.
	assert.Equal(t, 36, EntrySize[float32](8))
	assert.Equal(t, (4096-4)/36, EntriesPerBlock[float32](8, 4096))
	assert.Equal(t, 4096/36, PackEntries[float32](8, 4096))
}

func TestPackBlock_RoundTrip(t *testing.T) {
	const dim, blkSize = 4, 128

	rows := []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		-1, 0.5, 0, 9,
	}
	ids := []uint32{10, 20, 30}

	buf := make([]byte, blkSize)
	require.NoError(t, PackBlock(buf, dim, rows, ids))

	gotRows, gotIDs, err := DecodeBlock[float32](buf, dim)
	require.NoError(t, err)
	assert.Equal(t, rows, gotRows)
	assert.Equal(t, ids, gotIDs)

	// Everything past the last entry is zero padding.
	used := 4 + len(ids)*EntrySize[float32](dim)
	for i := used; i < blkSize; i++ {
		require.Zerof(t, buf[i], "byte %d not zeroed", i)
	}
}

func TestPackBlock_Uint8AndInt8(t *testing.T) {
	const dim, blkSize = 3, 64

	u8rows := []uint8{1, 2, 3, 250, 251, 252}
	buf := make([]byte, blkSize)
	require.NoError(t, PackBlock(buf, dim, u8rows, []uint32{7, 8}))
	gotU8, ids, err := DecodeBlock[uint8](buf, dim)
	require.NoError(t, err)
	assert.Equal(t, u8rows, gotU8)
	assert.Equal(t, []uint32{7, 8}, ids)

	i8rows := []int8{-1, 0, 1, 127, -128, 5}
	require.NoError(t, PackBlock(buf, dim, i8rows, []uint32{1, 2}))
	gotI8, _, err := DecodeBlock[int8](buf, dim)
	require.NoError(t, err)
	assert.Equal(t, i8rows, gotI8)
}

func TestPackBlock_Overflow(t *testing.T) {
	const dim = 4
	buf := make([]byte, 24) // one 20-byte entry plus header fits, two do not

	rows := make([]float32, 2*dim)
	err := PackBlock(buf, dim, rows, []uint32{1, 2})
	require.Error(t, err)
}

func TestStreamWriters_RoundTrip(t *testing.T) {
	const dim, blkSize = 2, 32

	var data, cens, cids bytes.Buffer
	w := &StreamWriters{Data: &data, Centroids: &cens, CentroidIDs: &cids}

	block := make([]byte, blkSize)
	require.NoError(t, PackBlock(block, dim, []float32{1, 2}, []uint32{42}))
	require.NoError(t, w.WriteBlock(block, []float32{0.5, 0.25}, GlobalBlockID(1, 0)))

	require.NoError(t, PackBlock(block, dim, []float32{3, 4}, []uint32{43}))
	require.NoError(t, w.WriteBlock(block, []float32{1.5, 2.5}, GlobalBlockID(1, 1)))

	// Data stream: two whole blocks.
	var blocks int
	err := IterateBlocks(bytes.NewReader(data.Bytes()), blkSize, func(b []byte) error {
		blocks++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, blocks)

	// Centroid stream pairs 1:1 with blocks, in order.
	gotCens, err := ReadCentroidStream(bytes.NewReader(cens.Bytes()), dim)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, 1.5, 2.5}, gotCens)

	gotIDs, err := ReadBlockIDStream(bytes.NewReader(cids.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []uint32{GlobalBlockID(1, 0), GlobalBlockID(1, 1)}, gotIDs)
}
