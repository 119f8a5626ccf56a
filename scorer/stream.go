package scorer

import (
	"context"
	"runtime"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/calgo/classifier"
	"github.com/hupe1980/calgo/feature"
	"github.com/hupe1980/calgo/store"
)

// StreamOptions contains configuration options for the stream scorer.
type StreamOptions struct {
	// Shards is the number of concurrent scan partitions. Defaults to
	// GOMAXPROCS. The full scan is embarrassingly parallel: shards share
	// only the immutable model snapshot.
	Shards int
}

// DefaultStreamOptions contains the default stream scorer configuration.
var DefaultStreamOptions = StreamOptions{
	Shards: 0, // resolved to GOMAXPROCS at score time
}

// Stream scores the corpus by scanning every stored vector sequentially.
// Cost is proportional to the total stored vector length.
type Stream struct {
	store *store.Store
	opts  StreamOptions
}

var _ Scorer = (*Stream)(nil)

// NewStream creates a stream scorer over the given store.
func NewStream(s *store.Store, optFns ...func(o *StreamOptions)) *Stream {
	opts := DefaultStreamOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Stream{store: s, opts: opts}
}

// ScoreAll implements Scorer.
func (st *Stream) ScoreAll(ctx context.Context, model *classifier.Model, exclude *roaring64.Bitmap) (*Result, error) {
	if model.FeatureRange != st.store.FeatureRange() {
		return nil, &classifier.ErrRangeMismatch{Expected: model.FeatureRange, Actual: st.store.FeatureRange()}
	}

	shards := st.opts.Shards
	if shards <= 0 {
		shards = runtime.GOMAXPROCS(0)
	}
	n := st.store.Len()
	if shards > n {
		shards = 1
	}

	parts := make([][]DocScore, shards)
	g, ctx := errgroup.WithContext(ctx)

	chunk := (n + shards - 1) / shards
	for s := 0; s < shards; s++ {
		start := s * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		part := s
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out := make([]DocScore, 0, end-start)
			err := st.store.ScanRange(start, end, func(docID uint64, vec feature.Vector) error {
				if exclude != nil && exclude.Contains(docID) {
					return nil
				}
				out = append(out, DocScore{DocID: docID, Score: model.Score(vec)})
				return nil
			})
			parts[part] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := make([]DocScore, 0, n)
	for _, part := range parts {
		ranked = append(ranked, part...)
	}
	sortRanked(ranked)
	return &Result{Ranked: ranked}, nil
}
