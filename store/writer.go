package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/hupe1980/calgo/feature"
)

// Writer builds a store file. Vectors are streamed to a temp file in build
// order; Close assembles the final file and renames it into place, so a
// failed build never leaves a silently truncated store behind.
//
// Writer is not safe for concurrent use.
type Writer struct {
	path         string
	tmpName      string
	f            *os.File
	buf          *bufio.Writer
	crc          uint32
	featureRange uint32
	entries      []DocEntry
	seen         map[uint64]struct{}
	dataLen      uint64
	closed       bool
}

// NewWriter creates a store writer targeting path. featureRange is the
// effective hashed feature-space size the vectors were built against.
func NewWriter(path string, featureRange uint32) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, err
	}
	_ = tmp.Chmod(0o644)

	w := &Writer{
		path:         path,
		tmpName:      tmp.Name(),
		f:            tmp,
		buf:          bufio.NewWriterSize(tmp, 256*1024),
		featureRange: featureRange,
		seen:         make(map[uint64]struct{}),
	}

	// Reserve the header; it is rewritten with real offsets on Close.
	var hdr [headerSize]byte
	if _, err := w.buf.Write(hdr[:]); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// Add appends a document's vector. Term ids must be strictly ascending and
// below the feature range; duplicates across calls are rejected. An empty
// vector is persisted explicitly.
func (w *Writer) Add(docID uint64, vec feature.Vector) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(vec.Terms) != len(vec.Weights) {
		return fmt.Errorf("%w: term/weight length mismatch for doc %d", ErrEncoding, docID)
	}
	if _, ok := w.seen[docID]; ok {
		return fmt.Errorf("%w: duplicate doc id %d", ErrEncoding, docID)
	}

	gaps := make([]uint32, len(vec.Terms))
	var last uint32
	for i, t := range vec.Terms {
		if t >= w.featureRange {
			return fmt.Errorf("%w: term id %d outside feature range %d", ErrEncoding, t, w.featureRange)
		}
		if i > 0 && t <= last {
			return fmt.Errorf("%w: term ids not strictly ascending for doc %d", ErrEncoding, docID)
		}
		gaps[i] = t - last
		last = t
	}

	offset := w.dataLen
	if err := w.writeUint32s(gaps); err != nil {
		return err
	}
	if err := w.writeFloat32s(vec.Weights); err != nil {
		return err
	}

	w.seen[docID] = struct{}{}
	w.entries = append(w.entries, DocEntry{
		DocID:       docID,
		Offset:      offset,
		TermCount:   uint32(len(vec.Terms)),
		SquaredNorm: vec.SquaredNorm(),
	})
	return nil
}

// Close writes the document table and header, fsyncs, and atomically renames
// the temp file into place.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true

	for i := range w.entries {
		e := &w.entries[i]
		b := unsafe.Slice((*byte)(unsafe.Pointer(e)), docEntrySize)
		w.crc = crc32.Update(w.crc, CRC32Table, b)
		if _, err := w.buf.Write(b); err != nil {
			w.discard()
			return err
		}
	}

	if err := w.buf.Flush(); err != nil {
		w.discard()
		return err
	}

	hdr := FileHeader{
		Magic:        MagicNumber,
		Version:      Version,
		SectionType:  SectionVectors,
		DocCount:     uint64(len(w.entries)),
		FeatureRange: w.featureRange,
		DataOffset:   headerSize,
		TableOffset:  headerSize + w.dataLen,
		Checksum:     w.crc,
	}
	if _, err := w.f.Seek(0, 0); err != nil {
		w.discard()
		return err
	}
	if err := binary.Write(w.f, binary.LittleEndian, &hdr); err != nil {
		w.discard()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.discard()
		return err
	}
	if err := w.f.Close(); err != nil {
		w.discard()
		return err
	}
	if err := os.Rename(w.tmpName, w.path); err != nil {
		_ = os.Remove(w.tmpName)
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(filepath.Dir(w.path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Abort discards the partially written store.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.discard()
}

func (w *Writer) discard() {
	_ = w.f.Close()
	_ = os.Remove(w.tmpName)
}

func (w *Writer) writeUint32s(vals []uint32) error {
	if len(vals) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*4)
	w.crc = crc32.Update(w.crc, CRC32Table, b)
	n, err := w.buf.Write(b)
	w.dataLen += uint64(n)
	return err
}

func (w *Writer) writeFloat32s(vals []float32) error {
	if len(vals) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*4)
	w.crc = crc32.Update(w.crc, CRC32Table, b)
	n, err := w.buf.Write(b)
	w.dataLen += uint64(n)
	return err
}
