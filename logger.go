package calgo

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/calgo/journal"
)

// Logger wraps slog.Logger with calgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogReview logs a single review decision.
func (l *Logger) LogReview(ctx context.Context, docID uint64, label journal.Label, err error) {
	if err != nil {
		l.ErrorContext(ctx, "review failed",
			"doc_id", docID,
			"label", label.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "review recorded",
			"doc_id", docID,
			"label", label.String(),
		)
	}
}

// LogRetrain logs a retraining pass.
func (l *Logger) LogRetrain(ctx context.Context, step uint64, examples, iterations int, converged bool, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "retrain failed",
			"step", step,
			"examples", examples,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "retrain completed",
			"step", step,
			"examples", examples,
			"iterations", iterations,
			"converged", converged,
			"duration", duration,
		)
	}
}

// LogScore logs a full scoring pass.
func (l *Logger) LogScore(ctx context.Context, strategy string, ranked, skipped int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "scoring failed",
			"strategy", strategy,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "scoring completed",
			"strategy", strategy,
			"ranked", ranked,
			"skipped", skipped,
			"duration", duration,
		)
	}
}

// LogSelect logs a batch selection.
func (l *Logger) LogSelect(ctx context.Context, step uint64, batch int, seed bool) {
	l.DebugContext(ctx, "batch selected",
		"step", step,
		"batch", batch,
		"seed", seed,
	)
}

// LogCheckpoint logs a checkpoint save.
func (l *Logger) LogCheckpoint(ctx context.Context, name string, step uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"name", name,
			"step", step,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint saved",
			"name", name,
			"step", step,
		)
	}
}

// LogResume logs a session resume from journal and checkpoint state.
func (l *Logger) LogResume(ctx context.Context, journalLen int, step uint64, warmStart bool) {
	l.InfoContext(ctx, "session resumed",
		"journal_entries", journalLen,
		"step", step,
		"warm_start", warmStart,
	)
}

// LogStop logs the firing of a stopping rule.
func (l *Logger) LogStop(ctx context.Context, reason StopReason, reviewed, relevant int) {
	l.InfoContext(ctx, "session stopped",
		"reason", string(reason),
		"reviewed", reviewed,
		"relevant", relevant,
	)
}
