package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"unsafe"

	"github.com/hupe1980/calgo/blobstore"
	"github.com/hupe1980/calgo/feature"
	"github.com/hupe1980/calgo/internal/mmap"
)

// Options contains configuration options for opening a store.
type Options struct {
	// VerifyChecksum validates the file CRC on open. Disable for very large
	// corpora where open latency matters more than corruption detection.
	VerifyChecksum bool
}

// DefaultOptions contains the default configuration options for a store.
var DefaultOptions = Options{
	VerifyChecksum: true,
}

// Store provides read access to a completed vector store.
//
// The document table is viewed directly as a slice of fixed-width records
// over the mapped file; no per-document structures are materialized.
// Store is safe for concurrent readers.
type Store struct {
	data   []byte
	hdr    FileHeader
	table  []DocEntry
	byDoc  map[uint64]int
	closer io.Closer
}

// Open memory-maps the store file at path.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := fromBytes(m.Data, m, optFns...)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return s, nil
}

// OpenBlob opens a store from a blobstore blob. Mappable blobs are viewed
// zero-copy; others are read fully into memory.
func OpenBlob(ctx context.Context, blob blobstore.Blob, optFns ...func(o *Options)) (*Store, error) {
	var data []byte
	if m, ok := blob.(blobstore.Mappable); ok {
		b, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		data = b
	} else {
		data = make([]byte, blob.Size())
		if _, err := blob.ReadAt(data, 0); err != nil && err != io.EOF {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fromBytes(data, blob, optFns...)
}

func fromBytes(data []byte, closer io.Closer, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(data) < headerSize {
		return nil, ErrTruncated
	}

	var hdr FileHeader
	if _, err := binary.Decode(data[:headerSize], binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, hdr.Magic)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, hdr.Version)
	}

	tableEnd := hdr.TableOffset + hdr.DocCount*docEntrySize
	if tableEnd > uint64(len(data)) || hdr.DataOffset > hdr.TableOffset {
		return nil, ErrTruncated
	}

	if opts.VerifyChecksum {
		sum := crc32.Checksum(data[headerSize:tableEnd], CRC32Table)
		if sum != hdr.Checksum {
			return nil, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrChecksumMismatch, sum, hdr.Checksum)
		}
	}

	var table []DocEntry
	if hdr.DocCount > 0 {
		table = unsafe.Slice((*DocEntry)(unsafe.Pointer(&data[hdr.TableOffset])), hdr.DocCount)
	}

	byDoc := make(map[uint64]int, hdr.DocCount)
	for i := range table {
		byDoc[table[i].DocID] = i
	}

	return &Store{
		data:   data,
		hdr:    hdr,
		table:  table,
		byDoc:  byDoc,
		closer: closer,
	}, nil
}

// DocCount returns the number of documents in the store.
func (s *Store) DocCount() uint64 {
	return s.hdr.DocCount
}

// FeatureRange returns the effective hashed feature-space size the store was
// built against.
func (s *Store) FeatureRange() uint32 {
	return s.hdr.FeatureRange
}

// Contains reports whether docID is present in the store.
func (s *Store) Contains(docID uint64) bool {
	_, ok := s.byDoc[docID]
	return ok
}

// Get returns the vector for docID. The returned slices are freshly
// allocated and safe to retain.
func (s *Store) Get(docID uint64) (feature.Vector, error) {
	i, ok := s.byDoc[docID]
	if !ok {
		return feature.Vector{}, fmt.Errorf("doc %d: %w", docID, ErrNotFound)
	}
	e := &s.table[i]

	terms := make([]uint32, e.TermCount)
	weights := make([]float32, e.TermCount)
	s.decodeAt(e, terms, weights)
	return feature.Vector{Terms: terms, Weights: weights}, nil
}

// SquaredNorm returns the cached squared norm for docID.
func (s *Store) SquaredNorm(docID uint64) (float32, error) {
	i, ok := s.byDoc[docID]
	if !ok {
		return 0, fmt.Errorf("doc %d: %w", docID, ErrNotFound)
	}
	return s.table[i].SquaredNorm, nil
}

// decodeAt decodes the entry's gaps and weights into the provided slices,
// which must have length e.TermCount.
func (s *Store) decodeAt(e *DocEntry, terms []uint32, weights []float32) {
	if e.TermCount == 0 {
		return
	}
	base := s.hdr.DataOffset + e.Offset
	gaps := unsafe.Slice((*uint32)(unsafe.Pointer(&s.data[base])), e.TermCount)
	wts := unsafe.Slice((*float32)(unsafe.Pointer(&s.data[base+uint64(e.TermCount)*4])), e.TermCount)

	var last uint32
	for i, g := range gaps {
		last += g
		terms[i] = last
	}
	copy(weights, wts)
}

// Close releases the underlying mapping or blob.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	s.data = nil
	s.table = nil
	return err
}
