package feature

import "sort"

// Vector is a sparse feature vector: parallel slices of term ids (strictly
// ascending, each at most once) and their weights.
type Vector struct {
	Terms   []uint32
	Weights []float32
}

// Len returns the number of present terms.
func (v Vector) Len() int {
	return len(v.Terms)
}

// Dot computes the sparse dot product against a dense weight vector.
// Only the vector's present terms are visited.
func (v Vector) Dot(w []float32) float32 {
	var prod float32
	for i, t := range v.Terms {
		prod += w[t] * v.Weights[i]
	}
	return prod
}

// SquaredNorm returns the sum of squared weights.
func (v Vector) SquaredNorm() float32 {
	var sum float32
	for _, w := range v.Weights {
		sum += w * w
	}
	return sum
}

// FromTokens folds a document's token stream into a Vector, hashing each
// token into the hasher's range and accumulating occurrence counts.
// A document with no tokens yields an explicit empty vector.
func FromTokens(tokens []string, h *Hasher) Vector {
	if len(tokens) == 0 {
		return Vector{}
	}

	counts := make(map[uint32]float32, len(tokens))
	for _, tok := range tokens {
		counts[h.Sum(tok)]++
	}

	terms := make([]uint32, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i] < terms[j] })

	weights := make([]float32, len(terms))
	for i, t := range terms {
		weights[i] = counts[t]
	}
	return Vector{Terms: terms, Weights: weights}
}
