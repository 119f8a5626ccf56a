package calgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    retrainCounter   prometheus.Counter
//	    scoreHistogram   prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordRetrain(iterations int, duration time.Duration, err error) {
//	    p.retrainCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordReview is called after each review decision.
	RecordReview(relevant bool, err error)

	// RecordRetrain is called after each retraining pass.
	// iterations is the number of gradient steps taken, duration is the
	// total time, err is nil if successful.
	RecordRetrain(iterations int, duration time.Duration, err error)

	// RecordScore is called after each full scoring pass.
	// docs is the number of documents ranked, duration is the time taken.
	RecordScore(docs int, duration time.Duration, err error)

	// RecordCheckpoint is called after each checkpoint save.
	RecordCheckpoint(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordReview(bool, error)                {}
func (NoopMetricsCollector) RecordRetrain(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordScore(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordCheckpoint(time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ReviewCount       atomic.Int64
	ReviewRelevant    atomic.Int64
	ReviewErrors      atomic.Int64
	RetrainCount      atomic.Int64
	RetrainErrors     atomic.Int64
	RetrainIterations atomic.Int64
	RetrainTotalNanos atomic.Int64
	ScoreCount        atomic.Int64
	ScoreErrors       atomic.Int64
	ScoreDocs         atomic.Int64
	ScoreTotalNanos   atomic.Int64
	CheckpointCount   atomic.Int64
	CheckpointErrors  atomic.Int64
}

// RecordReview implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReview(relevant bool, err error) {
	b.ReviewCount.Add(1)
	if relevant {
		b.ReviewRelevant.Add(1)
	}
	if err != nil {
		b.ReviewErrors.Add(1)
	}
}

// RecordRetrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRetrain(iterations int, duration time.Duration, err error) {
	b.RetrainCount.Add(1)
	b.RetrainIterations.Add(int64(iterations))
	b.RetrainTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RetrainErrors.Add(1)
	}
}

// RecordScore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordScore(docs int, duration time.Duration, err error) {
	b.ScoreCount.Add(1)
	b.ScoreDocs.Add(int64(docs))
	b.ScoreTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ScoreErrors.Add(1)
	}
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(duration time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ReviewCount:       b.ReviewCount.Load(),
		ReviewRelevant:    b.ReviewRelevant.Load(),
		ReviewErrors:      b.ReviewErrors.Load(),
		RetrainCount:      b.RetrainCount.Load(),
		RetrainErrors:     b.RetrainErrors.Load(),
		RetrainIterations: b.RetrainIterations.Load(),
		RetrainAvgNanos:   b.getAvgRetrainNanos(),
		ScoreCount:        b.ScoreCount.Load(),
		ScoreErrors:       b.ScoreErrors.Load(),
		ScoreDocs:         b.ScoreDocs.Load(),
		ScoreAvgNanos:     b.getAvgScoreNanos(),
		CheckpointCount:   b.CheckpointCount.Load(),
		CheckpointErrors:  b.CheckpointErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgRetrainNanos() int64 {
	count := b.RetrainCount.Load()
	if count == 0 {
		return 0
	}
	return b.RetrainTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgScoreNanos() int64 {
	count := b.ScoreCount.Load()
	if count == 0 {
		return 0
	}
	return b.ScoreTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ReviewCount       int64
	ReviewRelevant    int64
	ReviewErrors      int64
	RetrainCount      int64
	RetrainErrors     int64
	RetrainIterations int64
	RetrainAvgNanos   int64
	ScoreCount        int64
	ScoreErrors       int64
	ScoreDocs         int64
	ScoreAvgNanos     int64
	CheckpointCount   int64
	CheckpointErrors  int64
}
