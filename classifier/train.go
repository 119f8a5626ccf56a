package classifier

import (
	"math"
	"sort"

	"github.com/hupe1980/calgo/feature"
)

// Example is a labeled training document.
type Example struct {
	DocID    uint64
	Vector   feature.Vector
	Relevant bool
}

// Stats reports how a training run went.
type Stats struct {
	// Iterations is the number of gradient steps taken.
	Iterations int
	// Losses holds the regularized training loss after each step. The
	// sequence is non-increasing by construction (steps are halved until
	// they improve the loss).
	Losses []float64
	// Converged is true when training stopped on tolerance rather than on
	// the iteration cap.
	Converged bool
}

// maxHalvings bounds the step-halving loop within one iteration.
const maxHalvings = 30

// Train fits a model to the labeled set.
//
// Examples are processed in ascending doc id order, so the result depends
// only on the set, the hyperparameters and the warm start, never on input
// ordering. prior may be nil (cold start) or the previous step's model
// (warm start, fewer iterations to converge); either way a new Model is
// returned and prior is left untouched.
//
// If all labels are identical, Train returns the prior unchanged (or a
// bias-only model when prior is nil) together with ErrDegenerateTrainingSet.
func Train(featureRange uint32, examples []Example, hyper Hyperparameters, prior *Model) (*Model, Stats, error) {
	if err := hyper.Validate(); err != nil {
		return nil, Stats{}, err
	}
	if prior != nil && prior.FeatureRange != featureRange {
		return nil, Stats{}, &ErrRangeMismatch{Expected: prior.FeatureRange, Actual: featureRange}
	}

	sorted := make([]Example, len(examples))
	copy(sorted, examples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DocID < sorted[j].DocID })

	var pos, neg int
	for _, ex := range sorted {
		if ex.Relevant {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		var m *Model
		if prior != nil {
			m = prior.Clone()
		} else {
			m = NewModel(featureRange, hyper)
		}
		return m, Stats{}, ErrDegenerateTrainingSet
	}

	// Active dimensions: the union of the training set's terms and any
	// non-zero warm-start weights. Regularization decays only these, which
	// makes a warm start converge to the cold-start optimum.
	active := activeDims(sorted, prior)

	w := make([]float64, featureRange)
	var bias float64
	if prior != nil {
		for _, t := range active {
			w[t] = float64(prior.Weights[t])
		}
		bias = float64(prior.Bias)
	}

	stats := Stats{Losses: make([]float64, 0, hyper.MaxIterations)}
	grad := make([]float64, featureRange)
	trial := make([]float64, featureRange)

	prevLoss := loss(sorted, active, w, bias, hyper.L2)
	eta := hyper.LearningRate

	for iter := 0; iter < hyper.MaxIterations; iter++ {
		gradBias := gradient(sorted, active, w, bias, hyper.L2, grad)

		// Halve the step until it does not increase the loss.
		var (
			trialBias float64
			trialLoss float64
		)
		for h := 0; ; h++ {
			for _, t := range active {
				trial[t] = w[t] - eta*grad[t]
			}
			trialBias = bias - eta*gradBias
			trialLoss = loss(sorted, active, trial, trialBias, hyper.L2)
			if trialLoss <= prevLoss || h >= maxHalvings {
				break
			}
			eta /= 2
		}

		for _, t := range active {
			w[t] = trial[t]
		}
		bias = trialBias
		stats.Iterations++
		stats.Losses = append(stats.Losses, trialLoss)

		if prevLoss-trialLoss < hyper.Tolerance {
			prevLoss = trialLoss
			stats.Converged = true
			break
		}
		prevLoss = trialLoss
	}

	m := NewModel(featureRange, hyper)
	for _, t := range active {
		m.Weights[t] = float32(w[t])
	}
	m.Bias = float32(bias)
	if prior != nil {
		m.Step = prior.Step + 1
	} else {
		m.Step = 1
	}
	return m, stats, nil
}

// activeDims returns the sorted union of example terms and non-zero prior
// weights.
func activeDims(examples []Example, prior *Model) []uint32 {
	seen := make(map[uint32]struct{})
	for _, ex := range examples {
		for _, t := range ex.Vector.Terms {
			seen[t] = struct{}{}
		}
	}
	if prior != nil {
		for t, wt := range prior.Weights {
			if wt != 0 {
				seen[uint32(t)] = struct{}{}
			}
		}
	}
	dims := make([]uint32, 0, len(seen))
	for t := range seen {
		dims = append(dims, t)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	return dims
}

// gradient fills grad over the active dims and returns the bias gradient.
func gradient(examples []Example, active []uint32, w []float64, bias, l2 float64, grad []float64) float64 {
	for _, t := range active {
		grad[t] = l2 * w[t]
	}
	var gradBias float64

	for _, ex := range examples {
		p := sigmoid(margin(ex.Vector, w, bias))
		y := 0.0
		if ex.Relevant {
			y = 1.0
		}
		err := p - y
		for i, t := range ex.Vector.Terms {
			grad[t] += err * float64(ex.Vector.Weights[i])
		}
		gradBias += err
	}
	return gradBias
}

// loss is the L2-regularized logistic loss over the labeled set. The bias
// is not regularized.
func loss(examples []Example, active []uint32, w []float64, bias, l2 float64) float64 {
	var sum float64
	for _, ex := range examples {
		m := margin(ex.Vector, w, bias)
		if ex.Relevant {
			sum += logOnePlusExp(-m)
		} else {
			sum += logOnePlusExp(m)
		}
	}
	var reg float64
	for _, t := range active {
		reg += w[t] * w[t]
	}
	return sum + 0.5*l2*reg
}

func margin(vec feature.Vector, w []float64, bias float64) float64 {
	prod := bias
	for i, t := range vec.Terms {
		prod += w[t] * float64(vec.Weights[i])
	}
	return prod
}

// logOnePlusExp computes log(1+exp(x)) without overflow for large x.
func logOnePlusExp(x float64) float64 {
	if x > 35 {
		return x
	}
	return math.Log1p(math.Exp(x))
}
