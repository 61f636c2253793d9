package blockstore

import "fmt"

// Global block ids pack the top-level cluster id with a per-cluster
// block sequence number into 32 bits:
//
//	bits 31..24  top-level (k1) cluster id
//	bits 23..0   block number within that cluster, in write order
//
// Refine ids pack the provenance of one scored entry into 64 bits so a
// refinement stage can fetch the original vector:
//
//	bits 63..40  bucket (cluster) id, 24 bits
//	bits 39..8   entry offset within the bucket, 32 bits
//	bits  7..0   query id, 8 bits
//
// Both compositions are reversible: values that do not fit their field
// are rejected loudly instead of being truncated. Iteration order of
// the block store matches block-number order within each cluster id.

const (
	k1IDBits     = 8
	blockNumBits = 24

	refineCIDBits = 24
	refineOffBits = 32
	refineQIDBits = 8
)

// GlobalBlockID composes a 32-bit block id from the top-level cluster
// id and the node-local block counter. Values outside their field
// widths are a programmer error.
func GlobalBlockID(k1ID, blkNum uint32) uint32 {
	if k1ID >= 1<<k1IDBits {
		panic(fmt.Sprintf("blockstore: cluster id %d exceeds %d bits", k1ID, k1IDBits))
	}
	if blkNum >= 1<<blockNumBits {
		panic(fmt.Sprintf("blockstore: block number %d exceeds %d bits", blkNum, blockNumBits))
	}
	return k1ID<<blockNumBits | blkNum
}

// ParseGlobalBlockID recovers the (k1 id, block number) pair.
func ParseGlobalBlockID(id uint32) (k1ID, blkNum uint32) {
	return id >> blockNumBits, id & (1<<blockNumBits - 1)
}

// RefineID composes a 64-bit scored-entry id from a bucket (cluster)
// id, the entry offset inside the bucket, and the query id. cid and
// qid must fit their 24- and 8-bit fields; out-of-range values are a
// programmer error.
func RefineID(cid, off, qid uint32) uint64 {
	if cid >= 1<<refineCIDBits {
		panic(fmt.Sprintf("blockstore: bucket id %d exceeds %d bits", cid, refineCIDBits))
	}
	if qid >= 1<<refineQIDBits {
		panic(fmt.Sprintf("blockstore: query id %d exceeds %d bits", qid, refineQIDBits))
	}
	return uint64(cid)<<(refineOffBits+refineQIDBits) |
		uint64(off)<<refineQIDBits |
		uint64(qid)
}

// ParseRefineID recovers the (cluster id, offset, query id) triple.
func ParseRefineID(id uint64) (cid, off, qid uint32) {
	qid = uint32(id & (1<<refineQIDBits - 1))
	off = uint32(id >> refineQIDBits)
	cid = uint32(id >> (refineOffBits + refineQIDBits))
	return cid, off, qid
}
