package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherRangePromotion(t *testing.T) {
	tests := []struct {
		requested uint32
		want      uint32
	}{
		{2, 2},
		{3, 3},
		{4, 5},
		{100, 101},
		{0, 2},
		{1, 2},
	}

	for _, tt := range tests {
		h := NewHasher(tt.requested)
		assert.Equal(t, tt.want, h.Range(), "requested %d", tt.requested)
	}
}

func TestHasherDeterministic(t *testing.T) {
	h1 := NewHasher(1 << 16)
	h2 := NewHasher(1 << 16)

	tokens := []string{"alpha", "beta", "gamma", "", "alpha"}
	for _, tok := range tokens {
		assert.Equal(t, h1.Sum(tok), h2.Sum(tok))
		assert.Less(t, h1.Sum(tok), h1.Range())
	}
}

func TestFromTokensAccumulates(t *testing.T) {
	h := NewHasher(1 << 16)

	vec := FromTokens([]string{"cat", "dog", "cat", "cat"}, h)
	require.Equal(t, 2, vec.Len())

	// Terms are strictly ascending.
	require.Less(t, vec.Terms[0], vec.Terms[1])

	// "cat" occurs three times, "dog" once.
	weights := map[uint32]float32{
		h.Sum("cat"): 3,
		h.Sum("dog"): 1,
	}
	for i, term := range vec.Terms {
		assert.Equal(t, weights[term], vec.Weights[i])
	}
}

func TestFromTokensEmpty(t *testing.T) {
	h := NewHasher(1 << 16)
	vec := FromTokens(nil, h)
	assert.Equal(t, 0, vec.Len())
}

func TestFromTokensCollisionsFold(t *testing.T) {
	// A tiny range forces collisions; counts still sum to the token count.
	h := NewHasher(2)
	vec := FromTokens([]string{"a", "b", "c", "d", "e"}, h)

	var total float32
	for _, w := range vec.Weights {
		total += w
	}
	assert.Equal(t, float32(5), total)
}

func TestVectorDot(t *testing.T) {
	vec := Vector{
		Terms:   []uint32{1, 3, 7},
		Weights: []float32{2, 1, 4},
	}
	dense := []float32{0, 0.5, 0, 2, 0, 0, 0, 0.25}

	assert.InDelta(t, 2*0.5+1*2+4*0.25, float64(vec.Dot(dense)), 1e-6)
}

func TestVectorSquaredNorm(t *testing.T) {
	vec := Vector{
		Terms:   []uint32{0, 1},
		Weights: []float32{3, 4},
	}
	assert.Equal(t, float32(25), vec.SquaredNorm())
	assert.Equal(t, float32(0), Vector{}.SquaredNorm())
}
