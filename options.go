package calgo

import (
	"fmt"
	"log/slog"

	"github.com/hupe1980/calgo/blobstore"
	"github.com/hupe1980/calgo/classifier"
	"github.com/hupe1980/calgo/invindex"
)

// Strategy selects how full scoring passes are executed.
type Strategy uint8

const (
	// StrategyAuto uses the posting-list scorer when an inverted index was
	// provided and the sequential scan otherwise.
	StrategyAuto Strategy = iota
	// StrategyStream always scans every stored vector sequentially.
	StrategyStream
	// StrategyPostings always walks posting lists. Requires an index.
	StrategyPostings
)

func (s Strategy) String() string {
	switch s {
	case StrategyStream:
		return "stream"
	case StrategyPostings:
		return "postings"
	default:
		return "auto"
	}
}

// StoppingRule holds the thresholds that end a review session.
// Both rules derive from journal state only, so a resumed session reaches
// the same verdict as the session that wrote the journal.
type StoppingRule struct {
	// NonRelevantStreak stops the session after this many consecutive
	// non-relevant reviews.
	NonRelevantStreak int

	// ReviewQuota stops the session once at least this many documents are
	// reviewed and the majority of them were relevant. A majority-relevant
	// sample this deep means the ranking has long since surfaced the
	// relevant mass.
	ReviewQuota int
}

// DefaultStoppingRule contains the default stopping thresholds.
var DefaultStoppingRule = StoppingRule{
	NonRelevantStreak: 20,
	ReviewQuota:       300,
}

// Validate reports non-positive stopping thresholds.
func (r StoppingRule) Validate() error {
	if r.NonRelevantStreak <= 0 {
		return fmt.Errorf("%w: non-relevant streak must be positive, got %d", ErrInvalidConfig, r.NonRelevantStreak)
	}
	if r.ReviewQuota <= 0 {
		return fmt.Errorf("%w: review quota must be positive, got %d", ErrInvalidConfig, r.ReviewQuota)
	}
	return nil
}

type options struct {
	logger          *Logger
	metrics         MetricsCollector
	hyper           classifier.Hyperparameters
	batchSize       int
	stopping        StoppingRule
	strategy        Strategy
	index           *invindex.Index
	shards          int
	checkpointStore blobstore.BlobStore
	checkpointName  string
	seedDocs        []uint64
}

// Option configures Session constructor behavior.
type Option func(*options)

// WithLogger configures structured logging for session operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := calgo.NewJSONLogger(slog.LevelInfo)
//	sess, _ := calgo.NewSession(ctx, store, journal, calgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// session operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &calgo.BasicMetricsCollector{}
//	sess, _ := calgo.NewSession(ctx, store, journal, calgo.WithMetricsCollector(metrics))
//	// ... run the session ...
//	stats := metrics.GetStats()
//	fmt.Printf("Retrains: %d, Avg: %dns\n", stats.RetrainCount, stats.RetrainAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}

// WithHyperparameters overrides the training hyperparameters.
func WithHyperparameters(h classifier.Hyperparameters) Option {
	return func(o *options) {
		o.hyper = h
	}
}

// WithBatchSize sets how many documents are selected for review per step.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithStoppingRule overrides the default stopping thresholds.
func WithStoppingRule(r StoppingRule) Option {
	return func(o *options) {
		o.stopping = r
	}
}

// WithStrategy pins the scoring strategy. The default, StrategyAuto,
// prefers posting lists when an index is available.
func WithStrategy(s Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithIndex provides an inverted index built from the session's store,
// enabling the posting-list scoring strategy.
func WithIndex(idx *invindex.Index) Option {
	return func(o *options) {
		o.index = idx
	}
}

// WithShards sets the number of concurrent scan partitions for the
// sequential scoring strategy. Defaults to GOMAXPROCS.
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

// WithSeedDocuments names documents to present first on a fresh session,
// before any model exists. Unknown or already reviewed ids are skipped.
// Without seeds the initial batch is drawn in corpus order.
func WithSeedDocuments(docIDs []uint64) Option {
	return func(o *options) {
		o.seedDocs = docIDs
	}
}

// WithCheckpointStore enables model checkpointing. After every retrain the
// session writes a checkpoint blob under name; on construction it restores
// the checkpoint (if present) as a warm start.
//
// Any BlobStore works: a local directory, memory (tests), or an
// S3-compatible object store for off-host archival.
func WithCheckpointStore(bs blobstore.BlobStore, name string) Option {
	return func(o *options) {
		o.checkpointStore = bs
		o.checkpointName = name
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metrics:        NoopMetricsCollector{},
		logger:         NoopLogger(),
		hyper:          classifier.DefaultHyperparameters,
		batchSize:      10,
		stopping:       DefaultStoppingRule,
		strategy:       StrategyAuto,
		checkpointName: "model.ckpt",
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
