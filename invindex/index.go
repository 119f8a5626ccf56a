package invindex

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"sort"
	"unsafe"

	"github.com/hupe1980/calgo/internal/mmap"
	"github.com/hupe1980/calgo/store"
)

// Options contains configuration options for opening an index.
type Options struct {
	// VerifyChecksum validates the file CRC on open.
	VerifyChecksum bool
}

// DefaultOptions contains the default configuration options for an index.
var DefaultOptions = Options{
	VerifyChecksum: true,
}

// Index provides random access to posting lists by term id.
//
// The term table is viewed directly as a slice of fixed-width records over
// the mapped file and binary-searched; postings are decoded lazily per term.
// Index is safe for concurrent readers.
type Index struct {
	data   []byte
	hdr    IndexHeader
	table  []TermEntry
	closer io.Closer
}

// Open memory-maps the index file at path.
func Open(path string, optFns ...func(o *Options)) (*Index, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	idx, err := fromBytes(m.Data, m, optFns...)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return idx, nil
}

func fromBytes(data []byte, closer io.Closer, optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(data) < headerSize {
		return nil, ErrTruncated
	}

	var hdr IndexHeader
	if _, err := binary.Decode(data[:headerSize], binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, hdr.Magic)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, hdr.Version)
	}

	tableEnd := hdr.TableOffset + hdr.TermCount*termEntrySize
	if tableEnd > uint64(len(data)) || hdr.DataOffset > hdr.TableOffset {
		return nil, ErrTruncated
	}
	// The table is viewed in place as []TermEntry (uint64 fields), so its
	// offset must be 8-byte aligned. Build pads the postings region.
	if hdr.TableOffset%8 != 0 {
		return nil, fmt.Errorf("%w: offset %d", ErrMisalignedTable, hdr.TableOffset)
	}

	if opts.VerifyChecksum {
		sum := crc32.Checksum(data[headerSize:tableEnd], CRC32Table)
		if sum != hdr.Checksum {
			return nil, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrChecksumMismatch, sum, hdr.Checksum)
		}
	}

	var table []TermEntry
	if hdr.TermCount > 0 {
		table = unsafe.Slice((*TermEntry)(unsafe.Pointer(&data[hdr.TableOffset])), hdr.TermCount)
	}

	return &Index{data: data, hdr: hdr, table: table, closer: closer}, nil
}

// DocCount returns the document count of the source store.
func (idx *Index) DocCount() uint64 {
	return idx.hdr.DocCount
}

// FeatureRange returns the feature range of the source store.
func (idx *Index) FeatureRange() uint32 {
	return idx.hdr.FeatureRange
}

// TermCount returns the number of terms with posting lists.
func (idx *Index) TermCount() uint64 {
	return idx.hdr.TermCount
}

// VerifyStore checks that the index matches the given store generation.
func (idx *Index) VerifyStore(s *store.Store) error {
	if idx.hdr.DocCount != s.DocCount() || idx.hdr.FeatureRange != s.FeatureRange() {
		return fmt.Errorf("%w: index (docs=%d range=%d) vs store (docs=%d range=%d)",
			ErrStoreOutOfSync, idx.hdr.DocCount, idx.hdr.FeatureRange, s.DocCount(), s.FeatureRange())
	}
	return nil
}

// Postings returns an iterator over the posting list for termID, ascending
// by doc id. Terms absent from the corpus return ErrTermNotFound.
func (idx *Index) Postings(termID uint32) (*PostingIterator, error) {
	i := sort.Search(len(idx.table), func(i int) bool { return idx.table[i].TermID >= termID })
	if i >= len(idx.table) || idx.table[i].TermID != termID {
		return nil, fmt.Errorf("term %d: %w", termID, ErrTermNotFound)
	}
	e := &idx.table[i]

	base := idx.hdr.DataOffset + e.Offset
	block := idx.data[base : base+uint64(e.Length)]
	payload, err := decompressBlock(block, CompressionType(idx.hdr.Codec))
	if err != nil {
		return nil, err
	}
	if len(payload)%postingSize != 0 {
		return nil, fmt.Errorf("term %d: ragged posting payload (%d bytes)", termID, len(payload))
	}

	return &PostingIterator{payload: payload, i: -1}, nil
}

// Close releases the underlying mapping.
func (idx *Index) Close() error {
	if idx.closer == nil {
		return nil
	}
	err := idx.closer.Close()
	idx.closer = nil
	idx.data = nil
	idx.table = nil
	return err
}

// PostingIterator walks a single term's posting list in ascending doc id
// order.
type PostingIterator struct {
	payload []byte
	i       int
	cur     Posting
}

// Len returns the number of postings in the list.
func (it *PostingIterator) Len() int {
	return len(it.payload) / postingSize
}

// Next advances to the next posting. It returns false when exhausted.
func (it *PostingIterator) Next() bool {
	it.i++
	off := it.i * postingSize
	if off >= len(it.payload) {
		return false
	}
	it.cur = Posting{
		DocID:  binary.LittleEndian.Uint64(it.payload[off:]),
		Weight: math.Float32frombits(binary.LittleEndian.Uint32(it.payload[off+8:])),
	}
	return true
}

// Posting returns the current posting.
func (it *PostingIterator) Posting() Posting {
	return it.cur
}
