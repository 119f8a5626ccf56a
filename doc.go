// Package calgo implements continuous active learning for technology-assisted
// review: a relevance classifier that is retrained as an operator labels
// documents, reranking the corpus after every step until a stopping rule says
// the review is done.
//
// The moving parts:
//
//   - feature:    token hashing into a fixed feature range, sparse vectors
//   - store:      the immutable packed feature store (mmap, zero-copy)
//   - invindex:   an optional inverted index over the store for sparse models
//   - classifier: deterministic L2-regularized logistic regression
//   - scorer:     full-corpus scoring, sequential scan or posting lists
//   - journal:    the append-only log of review decisions
//   - checkpoint: model persistence keyed to a journal position
//
// Session ties them together. A minimal loop:
//
//	ctx := context.Background()
//
//	s, err := store.Open("corpus.fst")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	j, err := journal.Open("review.log")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer j.Close()
//
//	sess, err := calgo.NewSession(ctx, s, j,
//	    calgo.WithBatchSize(25),
//	    calgo.WithLogLevel(slog.LevelInfo),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reason, err := sess.Run(ctx, func(docID uint64) (journal.Label, error) {
//	    return askOperator(docID), nil
//	})
//
// Everything is deterministic: the same store, journal prefix and
// hyperparameters always yield the same model, the same ranking and the same
// stopping verdict, regardless of scoring strategy or restarts.
package calgo
