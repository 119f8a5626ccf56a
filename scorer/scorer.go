// Package scorer applies a classifier to the whole corpus and produces a
// deterministic ranking.
//
// Two interchangeable strategies implement the same interface: Stream scans
// every stored vector sequentially (document-at-a-time), Postings walks the
// inverted index for the model's non-zero weights and accumulates partial
// scores per document. Both produce the same ranking: descending score,
// ties broken by ascending doc id.
package scorer

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/calgo/classifier"
)

// DocScore pairs a document id with its model score.
type DocScore struct {
	DocID uint64
	Score float64
}

// Result is a complete scoring pass.
type Result struct {
	// Ranked holds every scored document, descending by score, ties broken
	// by ascending doc id.
	Ranked []DocScore

	// Skipped counts documents referenced by postings but absent from the
	// store (index out of sync). Such documents are skipped, not fatal.
	Skipped int
}

// Scorer scores the whole corpus under a model. exclude names documents to
// leave out of the ranking (already-reviewed documents); it may be nil.
type Scorer interface {
	ScoreAll(ctx context.Context, model *classifier.Model, exclude *roaring64.Bitmap) (*Result, error)
}

// sortRanked establishes the deterministic total order.
func sortRanked(ranked []DocScore) {
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].DocID < ranked[j].DocID
	})
}
