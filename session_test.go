package calgo_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/calgo"
	"github.com/hupe1980/calgo/blobstore"
	"github.com/hupe1980/calgo/checkpoint"
	"github.com/hupe1980/calgo/classifier"
	"github.com/hupe1980/calgo/feature"
	"github.com/hupe1980/calgo/invindex"
	"github.com/hupe1980/calgo/journal"
	"github.com/hupe1980/calgo/store"
)

// newCorpus builds a store of n documents with three recurring term
// profiles, so a trained model has signal to separate on.
func newCorpus(t *testing.T, n int) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "corpus.fst")
	w, err := store.NewWriter(path, 8)
	require.NoError(t, err)

	for i := 1; i <= n; i++ {
		var vec feature.Vector
		switch i % 3 {
		case 0:
			vec = feature.Vector{Terms: []uint32{1, 2}, Weights: []float32{2, 1}}
		case 1:
			vec = feature.Vector{Terms: []uint32{5, 6}, Weights: []float32{2, 1}}
		default:
			vec = feature.Vector{Terms: []uint32{2, 5}, Weights: []float32{1, 1}}
		}
		require.NoError(t, w.Add(uint64(i), vec))
	}
	require.NoError(t, w.Close())

	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "review.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestSeedBatchOnEmptyJournal(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 30)

	sess, err := calgo.NewSession(ctx, s, newJournal(t), calgo.WithBatchSize(5))
	require.NoError(t, err)

	assert.Equal(t, calgo.StateAwaitingReview, sess.State())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, sess.NextBatch())
	assert.Nil(t, sess.Model())
	assert.Nil(t, sess.Ranking())

	// Without a model every document scores 0.5.
	score, err := sess.Score(7)
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)

	stats := sess.Stats()
	assert.Equal(t, 0, stats.Reviewed)
	assert.Equal(t, 30, stats.Remaining)
	assert.Equal(t, calgo.StopNone, stats.StopReason)
}

func TestSeedDocumentsPresentedFirst(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 30)

	// Unknown (99) and duplicate (12) seeds are skipped; the remaining
	// slots fill in corpus order.
	sess, err := calgo.NewSession(ctx, s, newJournal(t),
		calgo.WithBatchSize(5),
		calgo.WithSeedDocuments([]uint64{12, 7, 99, 12}),
	)
	require.NoError(t, err)

	assert.Equal(t, []uint64{12, 7, 1, 2, 3}, sess.NextBatch())
}

func TestNonRelevantStreakStops(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 30)

	// Default rule: 20 consecutive non-relevant reviews end the session.
	sess, err := calgo.NewSession(ctx, s, newJournal(t), calgo.WithBatchSize(20))
	require.NoError(t, err)

	for _, docID := range sess.NextBatch() {
		require.NoError(t, sess.Review(ctx, docID, journal.NonRelevant))
	}
	require.NoError(t, sess.Step(ctx))

	assert.Equal(t, calgo.StateStopped, sess.State())
	assert.Equal(t, calgo.StopNonRelevantStreak, sess.StopReason())
	assert.Equal(t, 20, sess.Stats().NonRelevantStreak)
	assert.Empty(t, sess.NextBatch())

	assert.ErrorIs(t, sess.Review(ctx, 25, journal.Relevant), calgo.ErrSessionStopped)
	assert.ErrorIs(t, sess.Step(ctx), calgo.ErrSessionStopped)
}

func TestReviewQuotaMajorityRelevantStops(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 20)

	sess, err := calgo.NewSession(ctx, s, newJournal(t),
		calgo.WithBatchSize(4),
		calgo.WithStoppingRule(calgo.StoppingRule{
			NonRelevantStreak: 100,
			ReviewQuota:       6,
		}),
	)
	require.NoError(t, err)

	// Mostly relevant labels: every 4th review is non-relevant.
	reviews := 0
	for sess.State() == calgo.StateAwaitingReview {
		for _, docID := range sess.NextBatch() {
			reviews++
			label := journal.Relevant
			if reviews%4 == 0 {
				label = journal.NonRelevant
			}
			require.NoError(t, sess.Review(ctx, docID, label))
		}
		require.NoError(t, sess.Step(ctx))
	}

	assert.Equal(t, calgo.StopQuotaMajorityRelevant, sess.StopReason())
	stats := sess.Stats()
	assert.Greater(t, stats.Reviewed, 6)
	assert.Greater(t, 2*stats.Relevant, stats.Reviewed)
}

func TestReviewQuotaStopsAtExactThreshold(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 20)

	sess, err := calgo.NewSession(ctx, s, newJournal(t),
		calgo.WithBatchSize(6),
		calgo.WithStoppingRule(calgo.StoppingRule{
			NonRelevantStreak: 100,
			ReviewQuota:       6,
		}),
	)
	require.NoError(t, err)

	// A majority-relevant round landing exactly on the quota must stop the
	// session, not run another batch.
	for i, docID := range sess.NextBatch() {
		label := journal.Relevant
		if i%3 == 2 {
			label = journal.NonRelevant
		}
		require.NoError(t, sess.Review(ctx, docID, label))
	}
	require.NoError(t, sess.Step(ctx))

	assert.Equal(t, calgo.StopQuotaMajorityRelevant, sess.StopReason())
	assert.Equal(t, 6, sess.Stats().Reviewed)
	assert.Equal(t, 4, sess.Stats().Relevant)
}

func TestStoppingRuleValidation(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 10)

	_, err := calgo.NewSession(ctx, s, newJournal(t),
		calgo.WithStoppingRule(calgo.StoppingRule{}))
	assert.ErrorIs(t, err, calgo.ErrInvalidConfig)

	_, err = calgo.NewSession(ctx, s, newJournal(t),
		calgo.WithStoppingRule(calgo.StoppingRule{NonRelevantStreak: 20, ReviewQuota: -1}))
	assert.ErrorIs(t, err, calgo.ErrInvalidConfig)

	// Bad hyperparameters fail at construction too, not at the first
	// retrain.
	_, err = calgo.NewSession(ctx, s, newJournal(t),
		calgo.WithHyperparameters(classifier.Hyperparameters{}))
	assert.ErrorIs(t, err, classifier.ErrInvalidConfig)
}

func TestExhaustedStops(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 4)

	sess, err := calgo.NewSession(ctx, s, newJournal(t), calgo.WithBatchSize(10))
	require.NoError(t, err)

	batch := sess.NextBatch()
	require.Len(t, batch, 4)
	for i, docID := range batch {
		label := journal.NonRelevant
		if i%2 == 0 {
			label = journal.Relevant
		}
		require.NoError(t, sess.Review(ctx, docID, label))
	}
	require.NoError(t, sess.Step(ctx))

	assert.Equal(t, calgo.StopExhausted, sess.StopReason())
	assert.Equal(t, 0, sess.Stats().Remaining)
}

func TestReviewValidation(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 10)

	sess, err := calgo.NewSession(ctx, s, newJournal(t), calgo.WithBatchSize(3))
	require.NoError(t, err)

	assert.ErrorIs(t, sess.Review(ctx, 999, journal.Relevant), calgo.ErrNotFound)

	require.NoError(t, sess.Review(ctx, 1, journal.Relevant))
	assert.ErrorIs(t, sess.Review(ctx, 1, journal.NonRelevant), calgo.ErrAlreadyReviewed)

	_, err = sess.Score(999)
	assert.ErrorIs(t, err, calgo.ErrNotFound)
}

func TestResumeReproducesState(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 20)

	dir := t.TempDir()
	journalPath := filepath.Join(dir, "review.log")

	j1, err := journal.Open(journalPath)
	require.NoError(t, err)

	sess1, err := calgo.NewSession(ctx, s, j1, calgo.WithBatchSize(5))
	require.NoError(t, err)

	labels := []journal.Label{journal.Relevant, journal.NonRelevant, journal.Relevant, journal.NonRelevant, journal.NonRelevant}
	for i, docID := range sess1.NextBatch() {
		require.NoError(t, sess1.Review(ctx, docID, labels[i]))
	}
	require.NoError(t, sess1.Step(ctx))

	wantRanking := sess1.Ranking()
	wantBatch := sess1.NextBatch()
	wantStats := sess1.Stats()
	require.NoError(t, j1.Close())

	// A fresh session over the same journal converges to identical state.
	j2, err := journal.Open(journalPath)
	require.NoError(t, err)
	defer j2.Close()

	sess2, err := calgo.NewSession(ctx, s, j2, calgo.WithBatchSize(5))
	require.NoError(t, err)

	assert.Equal(t, wantRanking, sess2.Ranking())
	assert.Equal(t, wantBatch, sess2.NextBatch())
	assert.Equal(t, wantStats, sess2.Stats())
}

func TestCheckpointWarmResume(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 20)
	bs := blobstore.NewMemoryStore()

	dir := t.TempDir()
	journalPath := filepath.Join(dir, "review.log")

	j1, err := journal.Open(journalPath)
	require.NoError(t, err)

	sess1, err := calgo.NewSession(ctx, s, j1,
		calgo.WithBatchSize(5),
		calgo.WithCheckpointStore(bs, "model.ckpt"),
	)
	require.NoError(t, err)

	labels := []journal.Label{journal.Relevant, journal.NonRelevant, journal.Relevant, journal.NonRelevant, journal.Relevant}
	for i, docID := range sess1.NextBatch() {
		require.NoError(t, sess1.Review(ctx, docID, labels[i]))
	}
	require.NoError(t, sess1.Step(ctx))

	wantRanking := sess1.Ranking()
	wantModel := sess1.Model()
	require.NoError(t, j1.Close())

	// The saved checkpoint covers the whole journal, so the resumed session
	// restores the model instead of retraining.
	j2, err := journal.Open(journalPath)
	require.NoError(t, err)
	defer j2.Close()

	metrics := &calgo.BasicMetricsCollector{}
	sess2, err := calgo.NewSession(ctx, s, j2,
		calgo.WithBatchSize(5),
		calgo.WithCheckpointStore(bs, "model.ckpt"),
		calgo.WithMetricsCollector(metrics),
	)
	require.NoError(t, err)

	assert.Equal(t, int64(0), metrics.RetrainCount.Load())
	assert.Equal(t, wantModel.Weights, sess2.Model().Weights)
	assert.Equal(t, wantModel.Bias, sess2.Model().Bias)
	assert.Equal(t, wantRanking, sess2.Ranking())
}

func TestCheckpointMismatchRejected(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 10) // feature range 8

	bs := blobstore.NewMemoryStore()
	foreign := classifier.NewModel(99, classifier.DefaultHyperparameters)
	require.NoError(t, checkpoint.Save(ctx, bs, "model.ckpt", &checkpoint.Checkpoint{Model: foreign}))

	_, err := calgo.NewSession(ctx, s, newJournal(t), calgo.WithCheckpointStore(bs, "model.ckpt"))

	var mismatch *calgo.ErrCheckpointMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(99), mismatch.CheckpointRange)
	assert.Equal(t, uint32(8), mismatch.StoreRange)
}

func TestPostingsStrategyRequiresIndex(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 10)

	_, err := calgo.NewSession(ctx, s, newJournal(t), calgo.WithStrategy(calgo.StrategyPostings))
	assert.Error(t, err)
}

func TestStrategiesAgreeOnSelection(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 30)

	indexPath := filepath.Join(t.TempDir(), "corpus.inv")
	require.NoError(t, invindex.Build(ctx, s, indexPath))
	idx, err := invindex.Open(indexPath)
	require.NoError(t, err)
	defer idx.Close()

	run := func(opts ...calgo.Option) ([]uint64, []journal.Label) {
		j := newJournal(t)
		sess, err := calgo.NewSession(ctx, s, j, append(opts, calgo.WithBatchSize(6))...)
		require.NoError(t, err)

		labels := make([]journal.Label, 0, 6)
		for i, docID := range sess.NextBatch() {
			label := journal.NonRelevant
			if i%2 == 0 {
				label = journal.Relevant
			}
			labels = append(labels, label)
			require.NoError(t, sess.Review(ctx, docID, label))
		}
		require.NoError(t, sess.Step(ctx))
		return sess.NextBatch(), labels
	}

	streamBatch, streamLabels := run(calgo.WithStrategy(calgo.StrategyStream))
	postingsBatch, postingsLabels := run(calgo.WithIndex(idx), calgo.WithStrategy(calgo.StrategyPostings))

	require.Equal(t, streamLabels, postingsLabels)
	assert.Equal(t, streamBatch, postingsBatch)
}

func TestRunLoop(t *testing.T) {
	ctx := context.Background()
	s := newCorpus(t, 12)

	sess, err := calgo.NewSession(ctx, s, newJournal(t),
		calgo.WithBatchSize(3),
		calgo.WithStoppingRule(calgo.StoppingRule{NonRelevantStreak: 4, ReviewQuota: 1000}),
	)
	require.NoError(t, err)

	reason, err := sess.Run(ctx, func(uint64) (journal.Label, error) {
		return journal.NonRelevant, nil
	})
	require.NoError(t, err)
	assert.Equal(t, calgo.StopNonRelevantStreak, reason)
	assert.Equal(t, calgo.StateStopped, sess.State())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "awaiting_review", calgo.StateAwaitingReview.String())
	assert.Equal(t, "stopped", calgo.StateStopped.String())
	assert.Equal(t, "auto", calgo.StrategyAuto.String())
	assert.Equal(t, "postings", calgo.StrategyPostings.String())
}
