package scorer

import (
	"context"
	"errors"
	"math"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/calgo/classifier"
	"github.com/hupe1980/calgo/invindex"
	"github.com/hupe1980/calgo/store"
)

// Postings scores the corpus by walking posting lists for the model's
// non-zero weights and accumulating partial scores per document. Cost is
// proportional to the posting-list lengths of non-zero-weight terms only,
// which wins when the effective weight vector is sparse relative to the
// vocabulary.
type Postings struct {
	store *store.Store
	index *invindex.Index
}

var _ Scorer = (*Postings)(nil)

// NewPostings creates a posting-list scorer. The index must have been built
// from the given store.
func NewPostings(s *store.Store, idx *invindex.Index) (*Postings, error) {
	if err := idx.VerifyStore(s); err != nil {
		return nil, err
	}
	return &Postings{store: s, index: idx}, nil
}

// ScoreAll implements Scorer.
//
// Documents untouched by any non-zero-weight term score at the bias-only
// value. Postings referencing documents absent from the store are skipped
// and counted in Result.Skipped rather than aborting the pass.
func (ps *Postings) ScoreAll(ctx context.Context, model *classifier.Model, exclude *roaring64.Bitmap) (*Result, error) {
	if model.FeatureRange != ps.store.FeatureRange() {
		return nil, &classifier.ErrRangeMismatch{Expected: model.FeatureRange, Actual: ps.store.FeatureRange()}
	}

	// Accumulate in float32, visiting terms in ascending order, exactly as
	// the sequential scan's sparse dot product does: both strategies then
	// compute bitwise-identical margins.
	acc := make(map[uint64]float32)
	skipped := 0

	for t, wt := range model.Weights {
		if wt == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pl, err := ps.index.Postings(uint32(t))
		if errors.Is(err, invindex.ErrTermNotFound) {
			continue // term carries weight but occurs in no document
		}
		if err != nil {
			return nil, err
		}

		for pl.Next() {
			p := pl.Posting()
			if !ps.store.Contains(p.DocID) {
				skipped++
				continue
			}
			if exclude != nil && exclude.Contains(p.DocID) {
				continue
			}
			acc[p.DocID] += wt * p.Weight
		}
	}

	bias := float64(model.Bias)
	ranked := make([]DocScore, 0, ps.store.Len())
	for i := 0; i < ps.store.Len(); i++ {
		docID := ps.store.DocIDAt(i)
		if exclude != nil && exclude.Contains(docID) {
			continue
		}
		ranked = append(ranked, DocScore{
			DocID: docID,
			Score: 1.0 / (1.0 + math.Exp(-(bias + float64(acc[docID])))),
		})
	}
	sortRanked(ranked)
	return &Result{Ranked: ranked, Skipped: skipped}, nil
}
