package calgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/calgo/journal"
	"github.com/hupe1980/calgo/store"
)

var (
	// ErrNotFound is returned when a document is not in the corpus.
	ErrNotFound = errors.New("not found")

	// ErrSessionStopped is returned when an operation requires an active
	// session but a stopping rule has already fired.
	ErrSessionStopped = errors.New("session stopped")

	// ErrAlreadyReviewed is returned when a document has already been
	// labeled. Labels are final.
	ErrAlreadyReviewed = errors.New("already reviewed")

	// ErrInvalidConfig indicates invalid session options. Raised by
	// NewSession before any training or scoring begins.
	ErrInvalidConfig = errors.New("invalid session configuration")
)

// ErrCheckpointMismatch indicates a checkpoint trained against a different
// feature store than the one the session was opened with. Restoring such a
// checkpoint would silently misinterpret every weight.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrCheckpointMismatch struct {
	CheckpointRange uint32
	StoreRange      uint32
	cause           error
}

func (e *ErrCheckpointMismatch) Error() string {
	return fmt.Sprintf("checkpoint mismatch: checkpoint feature range %d, store %d", e.CheckpointRange, e.StoreRange)
}

func (e *ErrCheckpointMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, journal.ErrDuplicateDocument) {
		return fmt.Errorf("%w: %w", ErrAlreadyReviewed, err)
	}

	return err
}
