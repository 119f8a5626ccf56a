package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/calgo/blobstore"
	"github.com/hupe1980/calgo/feature"
)

func buildStore(t *testing.T, path string, featureRange uint32, docs map[uint64]feature.Vector, order []uint64) {
	t.Helper()

	w, err := NewWriter(path, featureRange)
	require.NoError(t, err)
	for _, docID := range order {
		require.NoError(t, w.Add(docID, docs[docID]))
	}
	require.NoError(t, w.Close())
}

func testDocs() (map[uint64]feature.Vector, []uint64) {
	docs := map[uint64]feature.Vector{
		10: {Terms: []uint32{0, 5, 9}, Weights: []float32{1, 2, 3}},
		11: {Terms: []uint32{5}, Weights: []float32{4}},
		12: {}, // empty vector is persisted explicitly
		13: {Terms: []uint32{1, 2, 3, 4}, Weights: []float32{0.5, 0.25, 1.5, 2}},
	}
	return docs, []uint64{10, 11, 12, 13}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.fst")
	docs, order := testDocs()
	buildStore(t, path, 16, docs, order)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint64(4), s.DocCount())
	assert.Equal(t, uint32(16), s.FeatureRange())

	for docID, want := range docs {
		require.True(t, s.Contains(docID))

		got, err := s.Get(docID)
		require.NoError(t, err)
		assert.Equal(t, len(want.Terms), got.Len())
		if len(want.Terms) > 0 {
			assert.Equal(t, want.Terms, got.Terms)
			assert.Equal(t, want.Weights, got.Weights)
		}

		norm, err := s.SquaredNorm(docID)
		require.NoError(t, err)
		assert.InDelta(t, float64(want.SquaredNorm()), float64(norm), 1e-6)
	}

	_, err = s.Get(99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, s.Contains(99))
}

func TestStoreSequentialOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.fst")
	docs, order := testDocs()
	buildStore(t, path, 16, docs, order)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	// Iteration preserves build order.
	var seen []uint64
	it := s.Iterate()
	for it.Next() {
		seen = append(seen, it.DocID())
		want := docs[it.DocID()]
		assert.Equal(t, want.Terms, append([]uint32(nil), it.Vector().Terms...))
	}
	assert.Equal(t, order, seen)

	assert.Equal(t, len(order), s.Len())
	for i, docID := range order {
		assert.Equal(t, docID, s.DocIDAt(i))
	}
}

func TestStoreScanRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.fst")
	docs, order := testDocs()
	buildStore(t, path, 16, docs, order)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var got []uint64
	err = s.ScanRange(1, 3, func(docID uint64, vec feature.Vector) error {
		got = append(got, docID)
		assert.Equal(t, docs[docID].Terms, append([]uint32(nil), vec.Terms...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, order[1:3], got)

	// Out-of-bounds ranges are clamped.
	var all []uint64
	err = s.ScanRange(-5, 100, func(docID uint64, _ feature.Vector) error {
		all = append(all, docID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, order, all)
}

func TestWriterRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		docID uint64
		vec   feature.Vector
	}{
		{
			name:  "term outside range",
			docID: 1,
			vec:   feature.Vector{Terms: []uint32{16}, Weights: []float32{1}},
		},
		{
			name:  "terms not ascending",
			docID: 2,
			vec:   feature.Vector{Terms: []uint32{5, 3}, Weights: []float32{1, 1}},
		},
		{
			name:  "duplicate term",
			docID: 3,
			vec:   feature.Vector{Terms: []uint32{5, 5}, Weights: []float32{1, 1}},
		},
		{
			name:  "length mismatch",
			docID: 4,
			vec:   feature.Vector{Terms: []uint32{1, 2}, Weights: []float32{1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWriter(filepath.Join(dir, tt.name+".fst"), 16)
			require.NoError(t, err)
			defer w.Abort()

			assert.ErrorIs(t, w.Add(tt.docID, tt.vec), ErrEncoding)
		})
	}
}

func TestWriterRejectsDuplicateDoc(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "dup.fst"), 16)
	require.NoError(t, err)
	defer w.Abort()

	require.NoError(t, w.Add(1, feature.Vector{Terms: []uint32{0}, Weights: []float32{1}}))
	assert.ErrorIs(t, w.Add(1, feature.Vector{Terms: []uint32{1}, Weights: []float32{1}}), ErrEncoding)
}

func TestWriterAbortLeavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aborted.fst")

	w, err := NewWriter(path, 16)
	require.NoError(t, err)
	require.NoError(t, w.Add(1, feature.Vector{Terms: []uint32{0}, Weights: []float32{1}}))
	w.Abort()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.fst")
	docs, order := testDocs()
	buildStore(t, path, 16, docs, order)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Flip one payload byte.
	data[headerSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	// Verification can be disabled.
	s, err := Open(path, func(o *Options) { o.VerifyChecksum = false })
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenRejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.fst")
	require.NoError(t, os.WriteFile(short, []byte("hi"), 0o644))
	_, err := Open(short)
	assert.ErrorIs(t, err, ErrTruncated)

	junk := filepath.Join(dir, "junk.fst")
	require.NoError(t, os.WriteFile(junk, make([]byte, 128), 0o644))
	_, err = Open(junk)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestOpenBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.fst")
	docs, order := testDocs()
	buildStore(t, path, 16, docs, order)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	ms := blobstore.NewMemoryStore()
	require.NoError(t, ms.Put(context.Background(), "corpus.fst", data))

	blob, err := ms.Open(context.Background(), "corpus.fst")
	require.NoError(t, err)

	s, err := OpenBlob(context.Background(), blob)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint64(4), s.DocCount())
	got, err := s.Get(13)
	require.NoError(t, err)
	assert.Equal(t, docs[13].Weights, got.Weights)
}
