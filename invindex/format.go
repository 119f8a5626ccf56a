// Package invindex converts a completed feature store into an inverted
// index: a TermInfo table mapping term ids to posting-list locations, and a
// postings region holding (doc_id, weight) pairs ascending by doc id.
//
// On-disk layout (little endian, all fields fixed width):
//
//	[IndexHeader: 64 bytes]
//	[postings region: per term, one block (see codec.go); zero-padded to
//	 an 8-byte boundary]
//	[term table: TermCount * TermEntry (16 bytes), ascending by term id]
//
// The index is built once from a store and is immutable afterwards. Posting
// blocks sit behind a pluggable block codec; the baseline writes raw
// fixed-width postings (12 bytes each), and lz4/zstd block compression can
// be selected without changing the posting-read contract.
package invindex

import (
	"errors"
	"hash/crc32"
)

const (
	// MagicNumber identifies calgo binary files (ASCII: "CAL1").
	MagicNumber = 0x43414C31
	// Version is the current index format version (v1.0.0).
	Version = 0x00010000

	headerSize    = 64
	termEntrySize = 16
	postingSize   = 12 // doc id uint64 + weight float32
)

var (
	// ErrInvalidMagic indicates the file is not a calgo index.
	ErrInvalidMagic = errors.New("invalid magic number")
	// ErrInvalidVersion indicates an unsupported index format version.
	ErrInvalidVersion = errors.New("unsupported version")
	// ErrChecksumMismatch indicates the index is corrupt; rebuild it.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrTruncated indicates the file is shorter than its header claims.
	ErrTruncated = errors.New("truncated index file")
	// ErrMisalignedTable indicates a term table that does not start on an
	// 8-byte boundary. Build never produces such a file.
	ErrMisalignedTable = errors.New("misaligned term table")
	// ErrTermNotFound is returned for a term id with no posting list.
	ErrTermNotFound = errors.New("term not found")
	// ErrStoreOutOfSync indicates the index was built from a different
	// store generation (document count or feature range mismatch).
	ErrStoreOutOfSync = errors.New("index out of sync with store")
)

// CRC32Table is the IEEE polynomial table used for file checksums.
var CRC32Table = crc32.MakeTable(crc32.IEEE)

// IndexHeader is the 64-byte header at the start of every index file.
type IndexHeader struct {
	Magic        uint32
	Version      uint32
	Codec        uint8 // CompressionType of the posting blocks
	Padding1     [3]byte
	DocCount     uint64 // document count of the source store
	FeatureRange uint32 // feature range of the source store
	TermCount    uint64
	DataOffset   uint64 // offset of the postings region
	TableOffset  uint64 // offset of the term table
	Checksum     uint32 // CRC32 of everything after the header
	Reserved     [12]byte
}

// TermEntry locates a term's posting block in the postings region.
type TermEntry struct {
	TermID uint32
	Length uint32 // block length in bytes, including the block header
	Offset uint64 // into the postings region, relative to DataOffset
}

// Posting pairs a document id with the term's weight in that document.
type Posting struct {
	DocID  uint64
	Weight float32
}
