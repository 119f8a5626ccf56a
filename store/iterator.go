package store

import "github.com/hupe1980/calgo/feature"

// Iterator walks the store sequentially in build order.
//
// The vector returned by Vector aliases internal scratch buffers and is only
// valid until the next call to Next. Call Store.Iterate again for a fresh
// pass; iterators are single-pass.
type Iterator struct {
	s       *Store
	i       int
	docID   uint64
	terms   []uint32
	weights []float32
	cur     feature.Vector
}

// Iterate returns a new sequential iterator over all documents.
func (s *Store) Iterate() *Iterator {
	return &Iterator{s: s, i: -1}
}

// Next advances to the next document. It returns false when the scan is
// complete.
func (it *Iterator) Next() bool {
	it.i++
	if it.i >= len(it.s.table) {
		return false
	}
	e := &it.s.table[it.i]
	it.docID = e.DocID

	n := int(e.TermCount)
	if cap(it.terms) < n {
		it.terms = make([]uint32, n)
		it.weights = make([]float32, n)
	}
	it.terms = it.terms[:n]
	it.weights = it.weights[:n]
	it.s.decodeAt(e, it.terms, it.weights)
	it.cur = feature.Vector{Terms: it.terms, Weights: it.weights}
	return true
}

// DocID returns the current document id.
func (it *Iterator) DocID() uint64 {
	return it.docID
}

// Vector returns the current vector. The slices are reused on the next call
// to Next.
func (it *Iterator) Vector() feature.Vector {
	return it.cur
}

// ScanRange decodes documents at table positions [start, end) in build order,
// invoking fn for each. The vector passed to fn aliases scratch buffers owned
// by the scan. Used by the scoring engine to shard full scans across
// goroutines without shared state.
func (s *Store) ScanRange(start, end int, fn func(docID uint64, vec feature.Vector) error) error {
	if start < 0 {
		start = 0
	}
	if end > len(s.table) {
		end = len(s.table)
	}

	var (
		terms   []uint32
		weights []float32
	)
	for i := start; i < end; i++ {
		e := &s.table[i]
		n := int(e.TermCount)
		if cap(terms) < n {
			terms = make([]uint32, n)
			weights = make([]float32, n)
		}
		terms = terms[:n]
		weights = weights[:n]
		s.decodeAt(e, terms, weights)
		if err := fn(e.DocID, feature.Vector{Terms: terms, Weights: weights}); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of table entries (equal to DocCount).
func (s *Store) Len() int {
	return len(s.table)
}

// DocIDAt returns the document id at table position i, without decoding the
// vector.
func (s *Store) DocIDAt(i int) uint64 {
	return s.table[i].DocID
}
