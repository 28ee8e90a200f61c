package policy

import (
	"fmt"
	"math"
)

// Output is the result of scoring one observation.
type Output struct {
	Probability float64
	Logit       float64
	// Value is the critic's value estimate, when the artifact carries one.
	Value *float64
}

// Scorer evaluates a policy. It holds only read-only weights copied at
// construction, so one Scorer may be shared by any number of goroutines.
type Scorer struct {
	version  string
	inputDim int
	hidden   []Layer
	policy   Head
	value    *Head
}

// NewScorer checks the artifact against the observation width the feature
// pipeline produces and returns a scorer for it.
func NewScorer(a *Artifact, inputDim int) (*Scorer, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: no artifact", ErrModelUnavailable)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	if a.InputDim != inputDim {
		return nil, fmt.Errorf("%w: artifact expects %d inputs, feature pipeline produces %d", ErrModelUnavailable, a.InputDim, inputDim)
	}

	s := &Scorer{
		version:  a.Version,
		inputDim: a.InputDim,
		hidden:   make([]Layer, len(a.Hidden)),
		policy:   Head{Weights: append([]float64(nil), a.Policy.Weights...), Bias: a.Policy.Bias},
	}
	for i, l := range a.Hidden {
		w := make([][]float64, len(l.Weights))
		for j, row := range l.Weights {
			w[j] = append([]float64(nil), row...)
		}
		s.hidden[i] = Layer{Weights: w, Bias: append([]float64(nil), l.Bias...), Activation: l.Activation}
	}
	if a.Value != nil {
		s.value = &Head{Weights: append([]float64(nil), a.Value.Weights...), Bias: a.Value.Bias}
	}
	return s, nil
}

// LoadScorer loads the artifact at path and builds a scorer for it.
func LoadScorer(path string, inputDim int) (*Scorer, error) {
	a, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewScorer(a, inputDim)
}

// Version reports the artifact version string.
func (s *Scorer) Version() string { return s.version }

// InputDim reports the observation width the policy accepts.
func (s *Scorer) InputDim() int { return s.inputDim }

// Score runs the forward pass for one observation.
func (s *Scorer) Score(obs []float64) (Output, error) {
	if len(obs) != s.inputDim {
		return Output{}, fmt.Errorf("observation has %d values, policy expects %d", len(obs), s.inputDim)
	}
	if !finite(obs...) {
		return Output{}, fmt.Errorf("observation contains non-finite values")
	}

	x := obs
	for _, l := range s.hidden {
		x = l.forward(x)
	}

	logit := dot(s.policy.Weights, x) + s.policy.Bias
	out := Output{Logit: logit, Probability: sigmoid(logit)}
	if s.value != nil {
		v := dot(s.value.Weights, x) + s.value.Bias
		out.Value = &v
	}
	if math.IsNaN(out.Probability) {
		return Output{}, fmt.Errorf("policy produced NaN")
	}
	return out, nil
}

func (l Layer) forward(in []float64) []float64 {
	out := make([]float64, len(l.Weights))
	for i, row := range l.Weights {
		z := dot(row, in) + l.Bias[i]
		switch l.Activation {
		case ReLU:
			z = math.Max(0, z)
		case Identity:
		default:
			z = math.Tanh(z)
		}
		out[i] = z
	}
	return out
}

func dot(w, x []float64) float64 {
	var sum float64
	for i := range w {
		sum += w[i] * x[i]
	}
	return sum
}

// sigmoid is numerically stable for large |z| and always lands in [0,1].
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
