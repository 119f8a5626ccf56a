package invindex

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/calgo/feature"
	"github.com/hupe1980/calgo/store"
)

// buildTestStore writes a small corpus where posting lists are easy to
// predict: term 5 appears in docs 1 and 3, term 2 only in doc 2.
func buildTestStore(t *testing.T, dir string) *store.Store {
	t.Helper()

	path := filepath.Join(dir, "corpus.fst")
	w, err := store.NewWriter(path, 16)
	require.NoError(t, err)

	require.NoError(t, w.Add(3, feature.Vector{Terms: []uint32{5, 7}, Weights: []float32{1.5, 2}}))
	require.NoError(t, w.Add(1, feature.Vector{Terms: []uint32{0, 5}, Weights: []float32{1, 3}}))
	require.NoError(t, w.Add(2, feature.Vector{Terms: []uint32{2}, Weights: []float32{4}}))
	require.NoError(t, w.Close())

	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collect(t *testing.T, idx *Index, termID uint32) []Posting {
	t.Helper()

	it, err := idx.Postings(termID)
	require.NoError(t, err)

	out := make([]Posting, 0, it.Len())
	for it.Next() {
		out = append(out, it.Posting())
	}
	return out
}

func TestBuildAndOpen(t *testing.T) {
	codecs := []struct {
		name  string
		codec CompressionType
	}{
		{"none", CompressionNone},
		{"lz4", CompressionLZ4},
		{"zstd", CompressionZSTD},
	}

	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			s := buildTestStore(t, dir)

			path := filepath.Join(dir, "corpus.inv")
			err := Build(context.Background(), s, path, func(o *BuildOptions) {
				o.Compression = tc.codec
			})
			require.NoError(t, err)

			idx, err := Open(path)
			require.NoError(t, err)
			defer idx.Close()

			assert.Equal(t, s.DocCount(), idx.DocCount())
			assert.Equal(t, s.FeatureRange(), idx.FeatureRange())
			assert.Equal(t, uint64(4), idx.TermCount()) // terms 0, 2, 5, 7
			require.NoError(t, idx.VerifyStore(s))

			// Posting lists are ascending by doc id regardless of build order.
			assert.Equal(t, []Posting{
				{DocID: 1, Weight: 3},
				{DocID: 3, Weight: 1.5},
			}, collect(t, idx, 5))
			assert.Equal(t, []Posting{{DocID: 2, Weight: 4}}, collect(t, idx, 2))
			assert.Equal(t, []Posting{{DocID: 1, Weight: 1}}, collect(t, idx, 0))
			assert.Equal(t, []Posting{{DocID: 3, Weight: 2}}, collect(t, idx, 7))

			_, err = idx.Postings(9)
			assert.ErrorIs(t, err, ErrTermNotFound)
		})
	}
}

func TestTermTableAlignment(t *testing.T) {
	dir := t.TempDir()

	// A single odd-count posting list leaves the raw postings region off
	// any 8-byte boundary, so the table position depends on padding.
	path := filepath.Join(dir, "corpus.fst")
	w, err := store.NewWriter(path, 16)
	require.NoError(t, err)
	require.NoError(t, w.Add(1, feature.Vector{Terms: []uint32{5}, Weights: []float32{2}}))
	require.NoError(t, w.Close())

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	idxPath := filepath.Join(dir, "corpus.inv")
	require.NoError(t, Build(context.Background(), s, idxPath))

	idx, err := Open(idxPath)
	require.NoError(t, err)
	defer idx.Close()

	assert.Zero(t, idx.hdr.TableOffset%8)
	assert.Equal(t, []Posting{{DocID: 1, Weight: 2}}, collect(t, idx, 5))

	// A table offset off the boundary is rejected before the table is
	// viewed as entries.
	data, err := os.ReadFile(idxPath)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(data[40:], idx.hdr.TableOffset-4)
	require.NoError(t, os.WriteFile(idxPath, data, 0o644))

	_, err = Open(idxPath)
	assert.ErrorIs(t, err, ErrMisalignedTable)
}

func TestBuildCancelled(t *testing.T) {
	dir := t.TempDir()
	s := buildTestStore(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(dir, "corpus.inv")
	err := Build(ctx, s, path)
	require.ErrorIs(t, err, context.Canceled)

	// A cancelled build leaves nothing behind.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestBuildIfMissing(t *testing.T) {
	dir := t.TempDir()
	s := buildTestStore(t, dir)
	path := filepath.Join(dir, "corpus.inv")

	require.NoError(t, BuildIfMissing(context.Background(), s, path))

	before, err := os.Stat(path)
	require.NoError(t, err)

	// Second call sees a matching index and does not rewrite it.
	require.NoError(t, BuildIfMissing(context.Background(), s, path))
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestVerifyStoreMismatch(t *testing.T) {
	dir := t.TempDir()
	s := buildTestStore(t, dir)

	path := filepath.Join(dir, "corpus.inv")
	require.NoError(t, Build(context.Background(), s, path))

	idx, err := Open(path)
	require.NoError(t, err)
	defer idx.Close()

	// A store with a different generation must be rejected.
	otherPath := filepath.Join(dir, "other.fst")
	w, err := store.NewWriter(otherPath, 16)
	require.NoError(t, err)
	require.NoError(t, w.Add(1, feature.Vector{Terms: []uint32{0}, Weights: []float32{1}}))
	require.NoError(t, w.Close())

	other, err := store.Open(otherPath)
	require.NoError(t, err)
	defer other.Close()

	assert.ErrorIs(t, idx.VerifyStore(other), ErrStoreOutOfSync)
}

func TestOpenDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s := buildTestStore(t, dir)

	path := filepath.Join(dir, "corpus.inv")
	require.NoError(t, Build(context.Background(), s, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[headerSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCompressBlockRoundTrip(t *testing.T) {
	// Highly compressible payload exercises the compressed path; random-ish
	// short payload falls back to stored blocks.
	compressible := make([]byte, 4096)
	short := []byte{1, 2, 3, 4, 5, 6, 7}

	for _, codec := range []CompressionType{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, payload := range [][]byte{compressible, short, nil} {
			block, err := compressBlock(payload, codec)
			require.NoError(t, err)

			got, err := decompressBlock(block, codec)
			require.NoError(t, err)
			assert.Equal(t, len(payload), len(got))
			if len(payload) > 0 {
				assert.Equal(t, payload, got)
			}
		}
	}
}
