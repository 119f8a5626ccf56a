// Package mmap provides read-only memory-mapped file access.
//
// The feature store and inverted index are written once and immutable
// afterwards, which makes them ideal candidates for zero-copy mapped reads:
// the packed on-disk layout is indexed directly as slices of primitives,
// without per-record parsing or allocation.
package mmap

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

// File represents a read-only memory-mapped file.
//
// Data aliases the mapped region and becomes invalid after Close.
type File struct {
	Data   []byte
	f      *os.File
	closed atomic.Bool
}

// Open maps the file at path into memory as read-only.
// An empty file maps to a nil Data slice.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return &File{Data: nil, f: f}, nil
	}
	if size < 0 {
		f.Close()
		return nil, errors.New("mmap: file size is negative")
	}

	data, err := mmap(f, int(size))
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{Data: data, f: f}, nil
}

// ReadAt implements io.ReaderAt on the mapped region.
func (m *File) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n = copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the region and closes the underlying file.
// Close is idempotent.
func (m *File) Close() error {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if m.Data != nil {
		err = munmap(m.Data)
		m.Data = nil
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
