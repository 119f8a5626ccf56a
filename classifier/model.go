// Package classifier implements L2-regularized logistic regression over the
// hashed feature space.
//
// Training is a deterministic batch gradient descent with monotone step
// halving: given the same labeled set, hyperparameters and warm start it
// always produces the same model. Scoring visits only a vector's present
// terms, never the full feature space.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/calgo/feature"
)

var (
	// ErrDegenerateTrainingSet signals that all labels were identical.
	// Train returns the prior model unchanged (or a bias-only model on the
	// first call) together with this error; it is not fatal.
	ErrDegenerateTrainingSet = errors.New("degenerate training set: all labels identical")

	// ErrInvalidConfig indicates invalid hyperparameters. Raised before any
	// training state is touched.
	ErrInvalidConfig = errors.New("invalid hyperparameters")
)

// ErrRangeMismatch indicates a feature-range mismatch between a model and
// the store it is being applied to. Models and stores from different
// hashing configurations must never silently mix.
type ErrRangeMismatch struct {
	Expected uint32
	Actual   uint32
}

func (e *ErrRangeMismatch) Error() string {
	return fmt.Sprintf("feature range mismatch: model %d, store %d", e.Expected, e.Actual)
}

// Hyperparameters control training.
type Hyperparameters struct {
	// LearningRate is the initial gradient step size. Steps that would
	// increase the loss are halved until they do not.
	LearningRate float64

	// L2 is the regularization strength (lambda).
	L2 float64

	// MaxIterations bounds the number of gradient steps.
	MaxIterations int

	// Tolerance stops training once a step improves the loss by less.
	Tolerance float64
}

// DefaultHyperparameters are reasonable defaults for review workloads.
var DefaultHyperparameters = Hyperparameters{
	LearningRate:  0.5,
	L2:            1e-4,
	MaxIterations: 100,
	Tolerance:     1e-6,
}

// Validate reports invalid hyperparameters before any training begins.
func (h Hyperparameters) Validate() error {
	if h.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidConfig, h.LearningRate)
	}
	if h.L2 < 0 {
		return fmt.Errorf("%w: l2 must be non-negative, got %g", ErrInvalidConfig, h.L2)
	}
	if h.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidConfig, h.MaxIterations)
	}
	if h.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive, got %g", ErrInvalidConfig, h.Tolerance)
	}
	return nil
}

// Model is an immutable trained classifier: a dense weight vector over the
// feature range plus a bias. Retraining produces a new Model; an in-flight
// scoring pass against a prior model is never affected.
type Model struct {
	Weights      []float32
	Bias         float32
	FeatureRange uint32
	Step         uint64 // retrain count, for logging and checkpoints
	Hyper        Hyperparameters
}

// NewModel returns a zero (bias-only) model over the given feature range.
func NewModel(featureRange uint32, hyper Hyperparameters) *Model {
	return &Model{
		Weights:      make([]float32, featureRange),
		FeatureRange: featureRange,
		Hyper:        hyper,
	}
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	w := make([]float32, len(m.Weights))
	copy(w, m.Weights)
	return &Model{
		Weights:      w,
		Bias:         m.Bias,
		FeatureRange: m.FeatureRange,
		Step:         m.Step,
		Hyper:        m.Hyper,
	}
}

// Margin returns the raw linear score: bias plus the sparse dot product.
func (m *Model) Margin(vec feature.Vector) float64 {
	return float64(m.Bias) + float64(vec.Dot(m.Weights))
}

// Score returns the probability of relevance in [0, 1].
func (m *Model) Score(vec feature.Vector) float64 {
	return sigmoid(m.Margin(vec))
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
