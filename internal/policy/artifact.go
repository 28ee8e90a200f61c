// Package policy loads the pretrained conversion policy and scores
// observations with it.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrModelUnavailable is returned when the policy artifact cannot be loaded
// or is incompatible with the configured feature pipeline.
var ErrModelUnavailable = errors.New("policy model unavailable")

// Activation names a hidden-layer nonlinearity.
type Activation string

const (
	Tanh     Activation = "tanh"
	ReLU     Activation = "relu"
	Identity Activation = "identity"
)

// Layer is a dense layer: out = act(W·in + b), W stored row-major as
// [out][in].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation Activation  `json:"activation,omitempty"`
}

// Head is a single-output linear layer.
type Head struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Artifact is the on-disk form of an exported actor-critic policy.
type Artifact struct {
	Version  string  `json:"version"`
	InputDim int     `json:"input_dim"`
	Hidden   []Layer `json:"hidden"`
	Policy   Head    `json:"policy"`
	Value    *Head   `json:"value,omitempty"`
}

// Load reads and validates an artifact from path.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrModelUnavailable, path, err)
	}
	return Parse(data)
}

// Parse decodes and validates an artifact.
func Parse(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: decode artifact: %v", ErrModelUnavailable, err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// validate checks every layer's shape chains from InputDim to the heads.
func (a *Artifact) validate() error {
	if a.InputDim <= 0 {
		return fmt.Errorf("%w: input_dim must be positive, got %d", ErrModelUnavailable, a.InputDim)
	}
	width := a.InputDim
	for i, l := range a.Hidden {
		if len(l.Weights) == 0 {
			return fmt.Errorf("%w: hidden layer %d has no units", ErrModelUnavailable, i)
		}
		if len(l.Bias) != len(l.Weights) {
			return fmt.Errorf("%w: hidden layer %d has %d biases for %d units", ErrModelUnavailable, i, len(l.Bias), len(l.Weights))
		}
		for j, row := range l.Weights {
			if len(row) != width {
				return fmt.Errorf("%w: hidden layer %d unit %d has %d weights, want %d", ErrModelUnavailable, i, j, len(row), width)
			}
			if !finite(row...) {
				return fmt.Errorf("%w: hidden layer %d unit %d has non-finite weights", ErrModelUnavailable, i, j)
			}
		}
		if !finite(l.Bias...) {
			return fmt.Errorf("%w: hidden layer %d has non-finite biases", ErrModelUnavailable, i)
		}
		switch l.Activation {
		case "", Tanh, ReLU, Identity:
		default:
			return fmt.Errorf("%w: hidden layer %d has unknown activation %q", ErrModelUnavailable, i, l.Activation)
		}
		width = len(l.Weights)
	}
	if err := a.Policy.validate("policy", width); err != nil {
		return err
	}
	if a.Value != nil {
		if err := a.Value.validate("value", width); err != nil {
			return err
		}
	}
	return nil
}

func (h Head) validate(name string, width int) error {
	if len(h.Weights) != width {
		return fmt.Errorf("%w: %s head has %d weights, want %d", ErrModelUnavailable, name, len(h.Weights), width)
	}
	if !finite(h.Weights...) || !finite(h.Bias) {
		return fmt.Errorf("%w: %s head has non-finite parameters", ErrModelUnavailable, name)
	}
	return nil
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
