package invindex

import (
	"bufio"
	"context"
	"encoding/binary"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sort"
	"unsafe"

	"golang.org/x/time/rate"

	"github.com/hupe1980/calgo/store"
)

// BuildOptions contains configuration options for building an index.
type BuildOptions struct {
	// Compression selects the posting-block codec.
	Compression CompressionType

	// IOLimitBytesPerSec throttles index writes so a background build does
	// not starve the review loop. 0 means unlimited.
	IOLimitBytesPerSec int
}

// DefaultBuildOptions contains the default build configuration.
var DefaultBuildOptions = BuildOptions{
	Compression:        CompressionNone,
	IOLimitBytesPerSec: 0,
}

// Build converts a completed store into an inverted index at path.
//
// The build writes to a temp file and renames it into place, so a failed or
// cancelled build never corrupts an existing index and never touches the
// source store. Posting lists are emitted ascending by doc id.
func Build(ctx context.Context, s *store.Store, path string, optFns ...func(o *BuildOptions)) error {
	opts := DefaultBuildOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	// Invert the store: term id -> postings in scan order. The store scan
	// is not necessarily ascending by doc id, so lists are sorted below.
	lists := make(map[uint32][]Posting)
	it := s.Iterate()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		docID := it.DocID()
		vec := it.Vector()
		for i, t := range vec.Terms {
			lists[t] = append(lists[t], Posting{DocID: docID, Weight: vec.Weights[i]})
		}
	}

	termIDs := make([]uint32, 0, len(lists))
	for t := range lists {
		termIDs = append(termIDs, t)
	}
	sort.Slice(termIDs, func(i, j int) bool { return termIDs[i] < termIDs[j] })

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()
	_ = tmp.Chmod(0o644)

	var limiter *rate.Limiter
	if opts.IOLimitBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.IOLimitBytesPerSec), opts.IOLimitBytesPerSec)
	}

	buf := bufio.NewWriterSize(tmp, 256*1024)

	// Reserve the header.
	var hdrBytes [headerSize]byte
	if _, err := buf.Write(hdrBytes[:]); err != nil {
		return err
	}

	var (
		crc     uint32
		dataLen uint64
		table   = make([]TermEntry, 0, len(termIDs))
		scratch []byte
	)

	write := func(b []byte) error {
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(b)); err != nil {
				return err
			}
		}
		crc = crc32.Update(crc, CRC32Table, b)
		_, err := buf.Write(b)
		return err
	}

	for _, t := range termIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		pl := lists[t]
		sort.Slice(pl, func(i, j int) bool { return pl[i].DocID < pl[j].DocID })

		if cap(scratch) < len(pl)*postingSize {
			scratch = make([]byte, len(pl)*postingSize)
		}
		scratch = scratch[:len(pl)*postingSize]
		for i, p := range pl {
			binary.LittleEndian.PutUint64(scratch[i*postingSize:], p.DocID)
			binary.LittleEndian.PutUint32(scratch[i*postingSize+8:], math.Float32bits(p.Weight))
		}

		block, err := compressBlock(scratch, opts.Compression)
		if err != nil {
			return err
		}
		if err := write(block); err != nil {
			return err
		}

		table = append(table, TermEntry{
			TermID: t,
			Length: uint32(len(block)),
			Offset: dataLen,
		})
		dataLen += uint64(len(block))
	}

	// The term table is viewed in place as []TermEntry, whose uint64 fields
	// need 8-byte alignment. Pad the postings region so the table starts on
	// an 8-byte boundary.
	if rem := dataLen % 8; rem != 0 {
		var pad [8]byte
		if err := write(pad[:8-rem]); err != nil {
			return err
		}
		dataLen += 8 - rem
	}

	for i := range table {
		e := &table[i]
		b := unsafe.Slice((*byte)(unsafe.Pointer(e)), termEntrySize)
		if err := write(b); err != nil {
			return err
		}
	}

	if err := buf.Flush(); err != nil {
		return err
	}

	hdr := IndexHeader{
		Magic:        MagicNumber,
		Version:      Version,
		Codec:        uint8(opts.Compression),
		DocCount:     s.DocCount(),
		FeatureRange: s.FeatureRange(),
		TermCount:    uint64(len(table)),
		DataOffset:   headerSize,
		TableOffset:  headerSize + dataLen,
		Checksum:     crc,
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return err
	}
	if err := binary.Write(tmp, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// BuildIfMissing builds the index only when path does not already contain an
// index matching the store, making interrupted builds resumable by rerun.
func BuildIfMissing(ctx context.Context, s *store.Store, path string, optFns ...func(o *BuildOptions)) error {
	if idx, err := Open(path); err == nil {
		mismatch := idx.DocCount() != s.DocCount() || idx.FeatureRange() != s.FeatureRange()
		_ = idx.Close()
		if !mismatch {
			return nil
		}
	}
	return Build(ctx, s, path, optFns...)
}
