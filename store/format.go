// Package store persists per-document sparse feature vectors in a packed
// binary layout and serves them back through a sequential full scan or
// random access by document id.
//
// On-disk layout (little endian, all fields fixed width):
//
//	[FileHeader: 64 bytes]
//	[data region: per document, TermCount uint32 term-id gaps then
//	              TermCount float32 weights]
//	[document table: DocCount * DocEntry (24 bytes)]
//
// Term ids are delta-encoded (first gap is the first term id); weights are
// raw float32. The document table is a slice of primitives indexed directly
// off the mapped file, with no per-record parsing or allocation.
package store

import (
	"errors"
	"hash/crc32"
)

const (
	// MagicNumber identifies calgo binary files (ASCII: "CAL1").
	MagicNumber = 0x43414C31
	// Version is the current file format version (v1.0.0).
	Version = 0x00010000

	// Section types.
	SectionVectors  = 1
	SectionPostings = 2

	headerSize   = 64
	docEntrySize = 24
)

var (
	// ErrInvalidMagic indicates the file is not a calgo store.
	ErrInvalidMagic = errors.New("invalid magic number")
	// ErrInvalidVersion indicates an unsupported file format version.
	ErrInvalidVersion = errors.New("unsupported version")
	// ErrChecksumMismatch indicates the file is corrupt; rebuild the store.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrTruncated indicates the file is shorter than its header claims.
	ErrTruncated = errors.New("truncated store file")
	// ErrNotFound is returned when a document id is absent from the store.
	ErrNotFound = errors.New("document not found")
	// ErrEncoding indicates malformed vector data handed to the writer.
	ErrEncoding = errors.New("encoding error")
	// ErrWriterClosed is returned when adding to a finished writer.
	ErrWriterClosed = errors.New("writer closed")
)

// CRC32Table is the IEEE polynomial table used for file checksums.
var CRC32Table = crc32.MakeTable(crc32.IEEE)

// FileHeader is the 64-byte header at the start of every store file.
// Layout is fixed for mmap compatibility.
type FileHeader struct {
	Magic        uint32
	Version      uint32
	SectionType  uint8 // 1=vectors, 2=postings
	Padding1     [3]byte
	DocCount     uint64
	FeatureRange uint32 // effective hashed feature-space size V
	DataOffset   uint64 // offset of the data region
	TableOffset  uint64 // offset of the entry table
	Checksum     uint32 // CRC32 of everything after the header
	Padding2     [4]byte
	Reserved     [16]byte
}

// DocEntry is the fixed-width document table record.
type DocEntry struct {
	DocID       uint64
	Offset      uint64 // into the data region, relative to DataOffset
	TermCount   uint32
	SquaredNorm float32
}
