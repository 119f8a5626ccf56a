// Package journal implements the append-only review journal: the ordered
// record of operator decisions and the source of truth for the training set
// at every step.
//
// Entries are never edited or removed. Any historical prefix is immutable,
// so readers of a prefix need no synchronization; the journal has exactly
// one writer. The controller state at step k is a deterministic function of
// the first k entries.
package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Label is an operator decision for a document.
type Label uint8

const (
	// NonRelevant marks a document judged not relevant.
	NonRelevant Label = 0
	// Relevant marks a document judged relevant.
	Relevant Label = 1
)

func (l Label) String() string {
	if l == Relevant {
		return "relevant"
	}
	return "non_relevant"
}

// Entry is a single journaled review decision.
// On disk: [Seq:8][DocID:8][Label:1][UnixNano:8], little endian.
type Entry struct {
	Seq       uint64
	DocID     uint64
	Label     Label
	Timestamp time.Time
}

const entrySize = 8 + 8 + 1 + 8

var (
	// ErrClosed is returned when appending to a closed journal.
	ErrClosed = errors.New("journal closed")
	// ErrDuplicateDocument is returned when a document already appears in
	// the journal. Re-review is not supported.
	ErrDuplicateDocument = errors.New("document already reviewed")
	// ErrCorrupt indicates a malformed journal file (torn tail or bad
	// sequence numbers). Recoverable only by restoring the file.
	ErrCorrupt = errors.New("corrupt journal")
)

// Options contains configuration for the journal.
type Options struct {
	// Sync fsyncs after every append. Reviews arrive at human speed, so
	// the default is the strongest durability.
	Sync bool

	// Compress writes zstd frames instead of raw records. Appends after
	// reopen start a new frame; decoding handles concatenated frames.
	Compress bool
}

// DefaultOptions returns default journal options.
var DefaultOptions = Options{
	Sync:     true,
	Compress: false,
}

// Journal is an append-only review log backed by a single file.
type Journal struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	buf     *bufio.Writer
	zw      *zstd.Encoder
	opts    Options
	entries []Entry
	byDoc   map[uint64]int
	closed  bool
}

// Open opens (or creates) the journal at path and replays existing entries
// into memory.
func Open(path string, optFns ...func(o *Options)) (*Journal, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	entries, err := readAll(path, opts.Compress)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		path:    path,
		f:       f,
		buf:     bufio.NewWriter(f),
		opts:    opts,
		entries: entries,
		byDoc:   make(map[uint64]int, len(entries)),
	}
	if opts.Compress {
		zw, err := zstd.NewWriter(j.buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, err
		}
		j.zw = zw
	}
	for i, e := range entries {
		j.byDoc[e.DocID] = i
	}
	return j, nil
}

func readAll(path string, compressed bool) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}

	var entries []Entry
	var rec [entrySize]byte
	for {
		_, err := io.ReadFull(r, rec[:])
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: torn record at seq %d", ErrCorrupt, len(entries))
		}
		if err != nil {
			return nil, err
		}

		e := Entry{
			Seq:       binary.LittleEndian.Uint64(rec[0:]),
			DocID:     binary.LittleEndian.Uint64(rec[8:]),
			Label:     Label(rec[16]),
			Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(rec[17:]))),
		}
		if e.Seq != uint64(len(entries)) {
			return nil, fmt.Errorf("%w: sequence gap, got %d want %d", ErrCorrupt, e.Seq, len(entries))
		}
		if e.Label != Relevant && e.Label != NonRelevant {
			return nil, fmt.Errorf("%w: unknown label %d at seq %d", ErrCorrupt, e.Label, e.Seq)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Append records a review decision. The entry's sequence number is the
// journal length at append time. Duplicate documents are rejected.
func (j *Journal) Append(docID uint64, label Label) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return Entry{}, ErrClosed
	}
	if _, ok := j.byDoc[docID]; ok {
		return Entry{}, fmt.Errorf("doc %d: %w", docID, ErrDuplicateDocument)
	}

	e := Entry{
		Seq:       uint64(len(j.entries)),
		DocID:     docID,
		Label:     label,
		Timestamp: time.Now(),
	}

	var rec [entrySize]byte
	binary.LittleEndian.PutUint64(rec[0:], e.Seq)
	binary.LittleEndian.PutUint64(rec[8:], e.DocID)
	rec[16] = byte(e.Label)
	binary.LittleEndian.PutUint64(rec[17:], uint64(e.Timestamp.UnixNano()))

	var w io.Writer = j.buf
	if j.zw != nil {
		w = j.zw
	}
	if _, err := w.Write(rec[:]); err != nil {
		return Entry{}, err
	}
	if j.zw != nil {
		if err := j.zw.Flush(); err != nil {
			return Entry{}, err
		}
	}
	if err := j.buf.Flush(); err != nil {
		return Entry{}, err
	}
	if j.opts.Sync {
		if err := j.f.Sync(); err != nil {
			return Entry{}, err
		}
	}

	j.byDoc[docID] = len(j.entries)
	j.entries = append(j.entries, e)
	return e, nil
}

// Len returns the number of journaled entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Entries returns the journaled entries up to the current length. The
// returned slice is a stable snapshot: prior entries never change.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entries[:len(j.entries):len(j.entries)]
}

// Prefix returns the first k entries (the training set at step k).
func (j *Journal) Prefix(k int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	if k > len(j.entries) {
		k = len(j.entries)
	}
	return j.entries[:k:k]
}

// Contains reports whether docID has been reviewed.
func (j *Journal) Contains(docID uint64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.byDoc[docID]
	return ok
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	var err error
	if j.zw != nil {
		err = j.zw.Close()
	}
	if ferr := j.buf.Flush(); err == nil {
		err = ferr
	}
	if serr := j.f.Sync(); err == nil {
		err = serr
	}
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	return err
}
