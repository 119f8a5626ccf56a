package calgo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/calgo/blobstore"
	"github.com/hupe1980/calgo/checkpoint"
	"github.com/hupe1980/calgo/classifier"
	"github.com/hupe1980/calgo/journal"
	"github.com/hupe1980/calgo/scorer"
	"github.com/hupe1980/calgo/store"
)

// State is the controller state of a review session.
type State uint8

const (
	// StateInitializing is the transient state during construction.
	StateInitializing State = iota
	// StateAwaitingReview means a batch is selected and waiting for labels.
	StateAwaitingReview
	// StateRetraining means the model is being refit to the journal.
	StateRetraining
	// StateScoring means a full scoring pass is running.
	StateScoring
	// StateSelectingNext means the next review batch is being picked.
	StateSelectingNext
	// StateStopped means a stopping rule has fired. Terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingReview:
		return "awaiting_review"
	case StateRetraining:
		return "retraining"
	case StateScoring:
		return "scoring"
	case StateSelectingNext:
		return "selecting_next"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason names the stopping rule that ended a session.
type StopReason string

const (
	// StopNone means the session is still active.
	StopNone StopReason = ""
	// StopNonRelevantStreak fires after a run of consecutive non-relevant
	// reviews: the ranking has run dry.
	StopNonRelevantStreak StopReason = "no-relevant-streak"
	// StopQuotaMajorityRelevant fires once the review quota is exceeded
	// with a majority of reviews relevant.
	StopQuotaMajorityRelevant StopReason = "reviewed-quota-majority-relevant"
	// StopExhausted fires when every document has been reviewed.
	StopExhausted StopReason = "exhausted"
)

// SessionStats is a snapshot of session progress.
type SessionStats struct {
	State             State
	Step              uint64
	Reviewed          int
	Relevant          int
	NonRelevantStreak int
	Remaining         int
	StopReason        StopReason
}

// Session drives the continuous active-learning loop over one corpus:
// select a batch, collect labels, retrain, rescore, repeat until a stopping
// rule fires.
//
// All session state is a deterministic function of the store, the journal
// prefix and the hyperparameters. Reopening a session over the same journal
// reproduces the same model, ranking and verdict.
//
// A Session is safe for concurrent use, but reviews are inherently serial:
// there is one journal and one operator position.
type Session struct {
	mu      sync.Mutex
	store   *store.Store
	journal *journal.Journal
	scorer  scorer.Scorer
	opts    options
	logger  *Logger
	metrics MetricsCollector

	model      *classifier.Model
	reviewed   *roaring64.Bitmap
	relevant   int
	streak     int // trailing consecutive non-relevant reviews
	pending    []uint64
	ranked     []scorer.DocScore
	state      State
	stopReason StopReason
}

// NewSession opens a session over the given store and journal.
//
// An empty journal starts a fresh session: the first batch is drawn from
// the configured seed documents, then corpus order, reviewed without a
// model. A non-empty journal resumes:
// counters and labels are replayed, the model is refit (or restored from a
// checkpoint covering the full journal), the corpus is rescored and the
// next batch selected, leaving the session exactly where it stopped.
func NewSession(ctx context.Context, s *store.Store, j *journal.Journal, optFns ...Option) (*Session, error) {
	opts := applyOptions(optFns)
	if err := opts.stopping.Validate(); err != nil {
		return nil, err
	}
	if err := opts.hyper.Validate(); err != nil {
		return nil, err
	}

	sc, err := newScorer(s, opts)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		store:    s,
		journal:  j,
		scorer:   sc,
		opts:     opts,
		logger:   opts.logger,
		metrics:  opts.metrics,
		reviewed: roaring64.New(),
		state:    StateInitializing,
	}

	var ckJournalLen uint64
	if opts.checkpointStore != nil {
		cp, err := checkpoint.Load(ctx, opts.checkpointStore, opts.checkpointName)
		switch {
		case errors.Is(err, blobstore.ErrNotFound):
			// no checkpoint yet, cold start
		case err != nil:
			return nil, err
		default:
			if cp.Model.FeatureRange != s.FeatureRange() {
				return nil, &ErrCheckpointMismatch{
					CheckpointRange: cp.Model.FeatureRange,
					StoreRange:      s.FeatureRange(),
				}
			}
			sess.model = cp.Model
			ckJournalLen = cp.JournalLen
		}
	}

	entries := j.Entries()
	for _, e := range entries {
		sess.applyEntry(e)
	}

	if len(entries) == 0 {
		sess.pending = sess.seedBatch()
		if len(sess.pending) == 0 {
			sess.stop(ctx, StopExhausted)
			return sess, nil
		}
		sess.state = StateAwaitingReview
		sess.logger.LogSelect(ctx, 0, len(sess.pending), true)
		return sess, nil
	}

	// The checkpoint model is current only if it saw the whole journal.
	retrain := sess.model == nil || ckJournalLen != uint64(len(entries))
	if err := sess.step(ctx, retrain); err != nil {
		return nil, err
	}
	sess.logger.LogResume(ctx, len(entries), sess.modelStep(), !retrain)
	return sess, nil
}

func newScorer(s *store.Store, opts options) (scorer.Scorer, error) {
	switch opts.strategy {
	case StrategyPostings:
		if opts.index == nil {
			return nil, fmt.Errorf("postings strategy requires an inverted index")
		}
		return scorer.NewPostings(s, opts.index)
	case StrategyStream:
		return newStreamScorer(s, opts), nil
	default: // StrategyAuto
		if opts.index != nil {
			return scorer.NewPostings(s, opts.index)
		}
		return newStreamScorer(s, opts), nil
	}
}

func newStreamScorer(s *store.Store, opts options) scorer.Scorer {
	return scorer.NewStream(s, func(o *scorer.StreamOptions) {
		o.Shards = opts.shards
	})
}

// Review records a label for docID. The document must be in the corpus and
// not yet reviewed. Labels are final; the journal is append-only.
func (s *Session) Review(ctx context.Context, docID uint64, label journal.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return ErrSessionStopped
	}
	if !s.store.Contains(docID) {
		return fmt.Errorf("doc %d: %w", docID, ErrNotFound)
	}

	entry, err := s.journal.Append(docID, label)
	if err != nil {
		err = translateError(err)
		s.metrics.RecordReview(label == journal.Relevant, err)
		s.logger.LogReview(ctx, docID, label, err)
		return err
	}

	s.applyEntry(entry)
	s.removePending(docID)
	s.metrics.RecordReview(label == journal.Relevant, nil)
	s.logger.LogReview(ctx, docID, label, nil)
	return nil
}

// Step runs one controller turn: retrain on the journal, rescore the
// corpus, select the next batch and evaluate the stopping rules. Call it
// after labeling the current batch.
func (s *Session) Step(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return ErrSessionStopped
	}
	if s.journal.Len() == 0 {
		return fmt.Errorf("no reviews recorded yet")
	}
	return s.step(ctx, true)
}

// step runs retrain/score/select/stop-check. Caller holds the lock.
func (s *Session) step(ctx context.Context, retrain bool) error {
	if retrain {
		s.state = StateRetraining
		start := time.Now()
		model, stats, err := s.train()
		duration := time.Since(start)
		if err != nil && !errors.Is(err, classifier.ErrDegenerateTrainingSet) {
			s.metrics.RecordRetrain(stats.Iterations, duration, err)
			s.logger.LogRetrain(ctx, s.modelStep(), s.journal.Len(), stats.Iterations, stats.Converged, duration, err)
			return err
		}
		s.model = model
		s.metrics.RecordRetrain(stats.Iterations, duration, nil)
		s.logger.LogRetrain(ctx, model.Step, s.journal.Len(), stats.Iterations, stats.Converged, duration, nil)
	}

	s.state = StateScoring
	start := time.Now()
	res, err := s.scorer.ScoreAll(ctx, s.model, s.reviewed)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordScore(0, duration, err)
		s.logger.LogScore(ctx, s.opts.strategy.String(), 0, 0, duration, err)
		return err
	}
	s.ranked = res.Ranked
	s.metrics.RecordScore(len(res.Ranked), duration, nil)
	s.logger.LogScore(ctx, s.opts.strategy.String(), len(res.Ranked), res.Skipped, duration, nil)

	s.state = StateSelectingNext
	n := s.opts.batchSize
	if n > len(s.ranked) {
		n = len(s.ranked)
	}
	s.pending = make([]uint64, 0, n)
	for _, ds := range s.ranked[:n] {
		s.pending = append(s.pending, ds.DocID)
	}
	s.logger.LogSelect(ctx, s.modelStep(), len(s.pending), false)

	if s.opts.checkpointStore != nil {
		start := time.Now()
		err := checkpoint.Save(ctx, s.opts.checkpointStore, s.opts.checkpointName, &checkpoint.Checkpoint{
			Model:      s.model,
			JournalLen: uint64(s.journal.Len()),
		})
		s.metrics.RecordCheckpoint(time.Since(start), err)
		s.logger.LogCheckpoint(ctx, s.opts.checkpointName, s.modelStep(), err)
		if err != nil {
			return err
		}
	}

	if reason := s.evaluateStop(); reason != StopNone {
		s.stop(ctx, reason)
		return nil
	}
	s.state = StateAwaitingReview
	return nil
}

// train refits the model to the full journal, warm-started from the
// current model.
func (s *Session) train() (*classifier.Model, classifier.Stats, error) {
	entries := s.journal.Entries()
	examples := make([]classifier.Example, 0, len(entries))
	for _, e := range entries {
		vec, err := s.store.Get(e.DocID)
		if err != nil {
			return nil, classifier.Stats{}, translateError(err)
		}
		examples = append(examples, classifier.Example{
			DocID:    e.DocID,
			Vector:   vec,
			Relevant: e.Label == journal.Relevant,
		})
	}
	return classifier.Train(s.store.FeatureRange(), examples, s.opts.hyper, s.model)
}

// seedBatch selects the initial batch before any model exists: configured
// seed documents first, then corpus order.
func (s *Session) seedBatch() []uint64 {
	batch := make([]uint64, 0, s.opts.batchSize)
	taken := roaring64.New()
	for _, docID := range s.opts.seedDocs {
		if len(batch) == s.opts.batchSize {
			return batch
		}
		if s.store.Contains(docID) && !s.reviewed.Contains(docID) && !taken.Contains(docID) {
			batch = append(batch, docID)
			taken.Add(docID)
		}
	}
	for i := 0; i < s.store.Len() && len(batch) < s.opts.batchSize; i++ {
		docID := s.store.DocIDAt(i)
		if !s.reviewed.Contains(docID) && !taken.Contains(docID) {
			batch = append(batch, docID)
		}
	}
	return batch
}

func (s *Session) applyEntry(e journal.Entry) {
	s.reviewed.Add(e.DocID)
	if e.Label == journal.Relevant {
		s.relevant++
		s.streak = 0
	} else {
		s.streak++
	}
}

func (s *Session) removePending(docID uint64) {
	for i, id := range s.pending {
		if id == docID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Session) evaluateStop() StopReason {
	total := int(s.reviewed.GetCardinality())
	if total >= s.store.Len() {
		return StopExhausted
	}
	if s.streak >= s.opts.stopping.NonRelevantStreak {
		return StopNonRelevantStreak
	}
	if total >= s.opts.stopping.ReviewQuota && 2*s.relevant > total {
		return StopQuotaMajorityRelevant
	}
	return StopNone
}

func (s *Session) stop(ctx context.Context, reason StopReason) {
	s.state = StateStopped
	s.stopReason = reason
	s.pending = nil
	s.logger.LogStop(ctx, reason, int(s.reviewed.GetCardinality()), s.relevant)
}

func (s *Session) modelStep() uint64 {
	if s.model == nil {
		return 0
	}
	return s.model.Step
}

// NextBatch returns the documents currently selected for review, highest
// score first. Empty once the session is stopped.
func (s *Session) NextBatch() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]uint64, len(s.pending))
	copy(batch, s.pending)
	return batch
}

// Score returns the current model's relevance estimate for one document.
// Before the first retrain (no model yet) every document scores 0.5.
func (s *Session) Score(docID uint64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vec, err := s.store.Get(docID)
	if err != nil {
		return 0, translateError(err)
	}
	if s.model == nil {
		return 0.5, nil
	}
	return s.model.Score(vec), nil
}

// Ranking returns a copy of the last full scoring pass, descending by
// score. Nil before the first retrain.
func (s *Session) Ranking() []scorer.DocScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ranked == nil {
		return nil
	}
	out := make([]scorer.DocScore, len(s.ranked))
	copy(out, s.ranked)
	return out
}

// Model returns a copy of the current model, or nil before the first
// retrain.
func (s *Session) Model() *classifier.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil
	}
	return s.model.Clone()
}

// State returns the current controller state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StopReason returns the stopping rule that fired, or StopNone while the
// session is active.
func (s *Session) StopReason() StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReason
}

// Stats returns a snapshot of session progress.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	reviewed := int(s.reviewed.GetCardinality())
	return SessionStats{
		State:             s.state,
		Step:              s.modelStep(),
		Reviewed:          reviewed,
		Relevant:          s.relevant,
		NonRelevantStreak: s.streak,
		Remaining:         s.store.Len() - reviewed,
		StopReason:        s.stopReason,
	}
}

// Run drives the loop to completion: for every selected batch it asks
// label for a decision, records it, then steps the controller. It returns
// the stopping reason.
//
// label receives each document id in selection order; returning an error
// aborts the run.
func (s *Session) Run(ctx context.Context, label func(docID uint64) (journal.Label, error)) (StopReason, error) {
	for {
		if err := ctx.Err(); err != nil {
			return StopNone, err
		}
		if s.State() == StateStopped {
			return s.StopReason(), nil
		}

		for _, docID := range s.NextBatch() {
			l, err := label(docID)
			if err != nil {
				return StopNone, err
			}
			if err := s.Review(ctx, docID, l); err != nil {
				return StopNone, err
			}
		}
		if err := s.Step(ctx); err != nil {
			return StopNone, err
		}
	}
}
