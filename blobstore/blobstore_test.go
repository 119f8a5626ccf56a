package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlobStore(t *testing.T, bs BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := bs.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	payload := []byte("hello blob world")
	require.NoError(t, bs.Put(ctx, "greeting", payload))

	blob, err := bs.Open(ctx, "greeting")
	require.NoError(t, err)
	defer blob.Close()

	assert.Equal(t, int64(len(payload)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("blob "), buf)

	// Replacement is visible to subsequent opens.
	require.NoError(t, bs.Put(ctx, "greeting", []byte("replaced")))
	blob2, err := bs.Open(ctx, "greeting")
	require.NoError(t, err)
	defer blob2.Close()
	assert.Equal(t, int64(len("replaced")), blob2.Size())
}

func TestMemoryStore(t *testing.T) {
	testBlobStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	testBlobStore(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStoreCopiesOnPut(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	data := []byte("immutable")
	require.NoError(t, ms.Put(ctx, "x", data))
	data[0] = 'X'

	blob, err := ms.Open(ctx, "x")
	require.NoError(t, err)
	defer blob.Close()

	got := make([]byte, blob.Size())
	_, err = blob.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), got)
}

func TestLocalStoreMappable(t *testing.T) {
	ctx := context.Background()
	ls := NewLocalStore(t.TempDir())
	require.NoError(t, ls.Put(ctx, "m", []byte("mapped")))

	blob, err := ls.Open(ctx, "m")
	require.NoError(t, err)
	defer blob.Close()

	m, ok := blob.(Mappable)
	require.True(t, ok)
	b, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("mapped"), b)
}
