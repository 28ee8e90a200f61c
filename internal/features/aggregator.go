// Package features turns a conversation's turn history into the fixed-length
// observation vector the policy consumes.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
)

// ErrDimensionMismatch is returned when an embedding does not have the
// dimensionality the aggregator was built for.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ScalarFeatures is the number of conversational scalars appended after the
// two embedding blocks.
const ScalarFeatures = 6

// Observation is the policy input at one point in a conversation.
type Observation []float64

// State is the running per-conversation statistics an Aggregator carries
// from one turn to the next. It is treated as a value: Step never mutates
// its input state.
type State struct {
	Turns         int       `json:"turns"`
	CustomerTurns int       `json:"customer_turns"`
	SalesRepTurns int       `json:"sales_rep_turns"`
	Alternations  int       `json:"alternations"`
	LastSpeaker   string    `json:"last_speaker,omitempty"`
	Context       []float64 `json:"context,omitempty"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	if s.Context != nil {
		out.Context = append([]float64(nil), s.Context...)
	}
	return out
}

// Aggregator folds one turn and its embedding into the running state and
// emits the observation for that point. Implementations must produce Dim()
// values regardless of conversation length and depend only on turns seen so
// far.
type Aggregator interface {
	Dim() int
	Step(prev State, turn conversation.Turn, vec []float64) (Observation, State, error)
}

// RecencyAggregator combines the current turn embedding, an exponentially
// recency-weighted mean of the prior turn embeddings, and conversational
// scalars.
type RecencyAggregator struct {
	embeddingDim int
	decay        float64
}

// NewRecencyAggregator returns the default aggregation strategy. decay is
// the weight kept by the running context at each turn and must be in (0,1).
func NewRecencyAggregator(embeddingDim int, decay float64) (*RecencyAggregator, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", embeddingDim)
	}
	if decay <= 0 || decay >= 1 || math.IsNaN(decay) {
		return nil, fmt.Errorf("context decay must be in (0,1), got %v", decay)
	}
	return &RecencyAggregator{embeddingDim: embeddingDim, decay: decay}, nil
}

// EmbeddingDim is the per-turn vector width the aggregator accepts.
func (a *RecencyAggregator) EmbeddingDim() int {
	return a.embeddingDim
}

// Dim is 2·embeddingDim + ScalarFeatures.
func (a *RecencyAggregator) Dim() int {
	return 2*a.embeddingDim + ScalarFeatures
}

func (a *RecencyAggregator) Step(prev State, turn conversation.Turn, vec []float64) (Observation, State, error) {
	if len(vec) != a.embeddingDim {
		return nil, prev, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), a.embeddingDim)
	}
	if prev.Context != nil && len(prev.Context) != a.embeddingDim {
		return nil, prev, fmt.Errorf("%w: state context has %d dims, want %d", ErrDimensionMismatch, len(prev.Context), a.embeddingDim)
	}

	next := prev.Clone()
	next.Turns++
	if turn.IsCustomer() {
		next.CustomerTurns++
	} else {
		next.SalesRepTurns++
	}
	if prev.LastSpeaker != "" && prev.LastSpeaker != string(turn.Speaker) {
		next.Alternations++
	}
	next.LastSpeaker = string(turn.Speaker)

	obs := make(Observation, 0, a.Dim())
	obs = append(obs, vec...)
	if prev.Context == nil {
		obs = append(obs, make([]float64, a.embeddingDim)...)
	} else {
		obs = append(obs, prev.Context...)
	}

	n := float64(next.Turns)
	isCustomer := 0.0
	if turn.IsCustomer() {
		isCustomer = 1.0
	}
	alternation := 0.0
	if next.Turns > 1 {
		alternation = float64(next.Alternations) / (n - 1)
	}
	obs = append(obs,
		(n-1)/n,
		float64(next.CustomerTurns)/n,
		float64(next.SalesRepTurns)/n,
		alternation,
		isCustomer,
		math.Log1p(n),
	)

	if prev.Context == nil {
		next.Context = append([]float64(nil), vec...)
	} else {
		for i := range next.Context {
			next.Context[i] = a.decay*next.Context[i] + (1-a.decay)*vec[i]
		}
	}

	return obs, next, nil
}
