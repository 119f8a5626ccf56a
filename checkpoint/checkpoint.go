// Package checkpoint persists trained models together with the journal
// position they were trained from.
//
// A checkpoint is a single immutable blob: a fixed 64-byte header followed
// by the hyperparameter block and the dense weight column. Restoring a
// checkpoint plus replaying the journal beyond its recorded position
// reconstructs the exact controller state.
package checkpoint

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"unsafe"

	"github.com/hupe1980/calgo/blobstore"
	"github.com/hupe1980/calgo/classifier"
)

const (
	// MagicNumber identifies checkpoint blobs ("CALM").
	MagicNumber uint32 = 0x43414C4D

	// Version is the current checkpoint format version (major.minor).
	Version uint32 = 0x00010000

	headerSize = 64
	hyperSize  = 32
)

var (
	// ErrInvalidMagic indicates the blob is not a checkpoint.
	ErrInvalidMagic = errors.New("invalid magic number")
	// ErrInvalidVersion indicates an unsupported checkpoint version.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrChecksumMismatch indicates payload corruption.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrTruncated indicates the blob is shorter than its header declares.
	ErrTruncated = errors.New("truncated checkpoint")
)

var crcTable = crc32.MakeTable(crc32.IEEE)

// header is the fixed-size on-disk prelude. Fields are little endian.
type header struct {
	Magic        uint32
	Version      uint32
	FeatureRange uint32
	Padding1     uint32
	Step         uint64
	JournalLen   uint64
	Bias         float32
	Checksum     uint32 // CRC32 (IEEE) over hyper block and weights
	Reserved     [24]byte
}

// Checkpoint couples a trained model with the journal length it was trained
// from. JournalLen is the number of entries consumed: replaying entries
// beyond it brings a restored session back to the live state.
type Checkpoint struct {
	Model      *classifier.Model
	JournalLen uint64
}

// Encode serializes the checkpoint.
func (c *Checkpoint) Encode() ([]byte, error) {
	m := c.Model
	if int(m.FeatureRange) != len(m.Weights) {
		return nil, fmt.Errorf("weight count %d does not match feature range %d", len(m.Weights), m.FeatureRange)
	}

	payload := make([]byte, hyperSize+4*len(m.Weights))
	binary.LittleEndian.PutUint64(payload[0:], math.Float64bits(m.Hyper.LearningRate))
	binary.LittleEndian.PutUint64(payload[8:], math.Float64bits(m.Hyper.L2))
	binary.LittleEndian.PutUint64(payload[16:], uint64(m.Hyper.MaxIterations))
	binary.LittleEndian.PutUint64(payload[24:], math.Float64bits(m.Hyper.Tolerance))
	if len(m.Weights) > 0 {
		wb := unsafe.Slice((*byte)(unsafe.Pointer(&m.Weights[0])), 4*len(m.Weights))
		copy(payload[hyperSize:], wb)
	}

	h := header{
		Magic:        MagicNumber,
		Version:      Version,
		FeatureRange: m.FeatureRange,
		Step:         m.Step,
		JournalLen:   c.JournalLen,
		Bias:         m.Bias,
		Checksum:     crc32.Checksum(payload, crcTable),
	}

	buf := make([]byte, 0, headerSize+len(payload))
	buf, err := binary.Append(buf, binary.LittleEndian, &h)
	if err != nil {
		return nil, err
	}
	return append(buf, payload...), nil
}

// Decode parses a checkpoint blob.
func Decode(data []byte) (*Checkpoint, error) {
	var h header
	if _, err := binary.Decode(data, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if h.Magic != MagicNumber {
		return nil, ErrInvalidMagic
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrInvalidVersion, h.Version, Version)
	}

	want := headerSize + hyperSize + 4*int(h.FeatureRange)
	if len(data) < want {
		return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrTruncated, len(data), want)
	}
	payload := data[headerSize:want]
	if crc32.Checksum(payload, crcTable) != h.Checksum {
		return nil, ErrChecksumMismatch
	}

	hyper := classifier.Hyperparameters{
		LearningRate:  math.Float64frombits(binary.LittleEndian.Uint64(payload[0:])),
		L2:            math.Float64frombits(binary.LittleEndian.Uint64(payload[8:])),
		MaxIterations: int(binary.LittleEndian.Uint64(payload[16:])),
		Tolerance:     math.Float64frombits(binary.LittleEndian.Uint64(payload[24:])),
	}

	weights := make([]float32, h.FeatureRange)
	if len(weights) > 0 {
		wb := unsafe.Slice((*byte)(unsafe.Pointer(&weights[0])), 4*len(weights))
		copy(wb, payload[hyperSize:])
	}

	return &Checkpoint{
		Model: &classifier.Model{
			Weights:      weights,
			Bias:         h.Bias,
			FeatureRange: h.FeatureRange,
			Step:         h.Step,
			Hyper:        hyper,
		},
		JournalLen: h.JournalLen,
	}, nil
}

// Save writes the checkpoint to the blob store under name. Local stores
// replace existing blobs atomically.
func Save(ctx context.Context, bs blobstore.BlobStore, name string, c *Checkpoint) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	return bs.Put(ctx, name, data)
}

// Load reads the checkpoint stored under name.
func Load(ctx context.Context, bs blobstore.BlobStore, name string) (*Checkpoint, error) {
	blob, err := bs.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return Decode(data)
}
