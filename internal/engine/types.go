package engine

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/policy"
	"github.com/MikeSquared-Agency/propensity/internal/status"
)

// Scorer is the policy the engine scores observations with.
type Scorer interface {
	Score(obs []float64) (policy.Output, error)
	InputDim() int
	Version() string
}

// Generator produces the sales-rep reply to a customer message.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []conversation.Turn, userInput string) (string, error)
}

// Trigger selects which turns produce a prediction during progression.
type Trigger string

const (
	// TriggerCustomer predicts after customer turns only; sales-rep turns
	// are context for the next customer reaction.
	TriggerCustomer Trigger = "customer"
	// TriggerAll predicts after every turn.
	TriggerAll Trigger = "all"
)

// ParseTrigger validates a trigger name; empty means TriggerCustomer.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case "", TriggerCustomer:
		return TriggerCustomer, nil
	case TriggerAll:
		return TriggerAll, nil
	default:
		return "", fmt.Errorf("unknown prediction trigger %q", s)
	}
}

func (t Trigger) fires(turn conversation.Turn) bool {
	return t == TriggerAll || turn.IsCustomer()
}

// Metrics is the per-prediction metrics record.
type Metrics struct {
	status.Metrics
	ValueEstimate *float64 `json:"value_estimate,omitempty"`
	TurnCount     int      `json:"turn_count"`
	CustomerTurns int      `json:"customer_turns"`
	SalesRepTurns int      `json:"sales_rep_turns"`
}

// PredictionResult is one scored point in a conversation. It is a value;
// the engine keeps no reference to it.
type PredictionResult struct {
	ConversationID string        `json:"conversation_id"`
	TurnIndex      int           `json:"turn_index"`
	Probability    float64       `json:"probability"`
	Status         status.Status `json:"status"`
	Metrics        Metrics       `json:"metrics"`
}

// Response is the result of PredictWithResponse.
type Response struct {
	Response   string           `json:"response"`
	Prediction PredictionResult `json:"prediction"`
}

// Info describes the loaded backends.
type Info struct {
	Embedder       string  `json:"embedder"`
	EmbeddingDim   int     `json:"embedding_dim"`
	ObservationDim int     `json:"observation_dim"`
	PolicyVersion  string  `json:"policy_version"`
	Trigger        Trigger `json:"trigger"`
	Generator      bool    `json:"generator"`
	Conversations  int     `json:"conversations"`
}
