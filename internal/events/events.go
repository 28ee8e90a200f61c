// Package events carries the service's NATS traffic: incoming conversation
// turns and outgoing prediction results.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
	"github.com/MikeSquared-Agency/propensity/internal/status"
)

const (
	SubjectTurn             = "sales.conversation.turn"
	SubjectPredictionScored = "sales.prediction.scored"
	SubjectRegistered       = "sales.agent.propensity.registered"
)

// Source tags where a prediction was requested.
const (
	SourceNATS   = "nats"
	SourceAPI    = "api"
	SourceReplay = "replay"
)

// TurnEvent announces new turns in a live conversation. Either Turns or the
// single Speaker/Message pair is set.
type TurnEvent struct {
	ConversationID string              `json:"conversation_id"`
	Speaker        string              `json:"speaker,omitempty"`
	Message        string              `json:"message,omitempty"`
	Turns          []conversation.Turn `json:"turns,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// Normalize returns the event's turns in canonical form.
func (e TurnEvent) Normalize() ([]conversation.Turn, error) {
	if e.ConversationID == "" {
		return nil, fmt.Errorf("%w: turn event without conversation_id", conversation.ErrMalformedConversation)
	}
	if len(e.Turns) > 0 {
		if e.Speaker != "" || e.Message != "" {
			return nil, fmt.Errorf("%w: turn event sets both turns and speaker/message", conversation.ErrMalformedConversation)
		}
		return e.Turns, nil
	}
	if e.Speaker == "" {
		return nil, fmt.Errorf("%w: turn event without turns", conversation.ErrMalformedConversation)
	}
	sp, err := conversation.ParseSpeaker(e.Speaker)
	if err != nil {
		return nil, err
	}
	return []conversation.Turn{{Speaker: sp, Message: e.Message}}, nil
}

// PredictionEvent is published for every scored prediction and is the row
// shape of the prediction log.
type PredictionEvent struct {
	EventID         string        `json:"event_id"`
	ConversationID  string        `json:"conversation_id"`
	TurnIndex       int           `json:"turn_index"`
	Probability     float64       `json:"probability"`
	Status          status.Status `json:"status"`
	SuggestedAction string        `json:"suggested_action"`
	Confidence      float64       `json:"confidence"`
	Momentum        *float64      `json:"momentum,omitempty"`
	Trend           string        `json:"trend,omitempty"`
	ValueEstimate   *float64      `json:"value_estimate,omitempty"`
	PolicyVersion   string        `json:"policy_version"`
	Source          string        `json:"source"`
	Timestamp       time.Time     `json:"timestamp"`
}

func NewPredictionEvent(res engine.PredictionResult, policyVersion, source string) PredictionEvent {
	return PredictionEvent{
		EventID:         uuid.NewString(),
		ConversationID:  res.ConversationID,
		TurnIndex:       res.TurnIndex,
		Probability:     res.Probability,
		Status:          res.Status,
		SuggestedAction: res.Metrics.SuggestedAction,
		Confidence:      res.Metrics.Confidence,
		Momentum:        res.Metrics.Momentum,
		Trend:           res.Metrics.Trend,
		ValueEstimate:   res.Metrics.ValueEstimate,
		PolicyVersion:   policyVersion,
		Source:          source,
		Timestamp:       time.Now().UTC(),
	}
}

// Registration is announced once the service is ready.
type Registration struct {
	Timestamp     string         `json:"timestamp"`
	Port          int            `json:"port"`
	Embedder      string         `json:"embedder"`
	PolicyVersion string         `json:"policy_version"`
	Trigger       engine.Trigger `json:"trigger"`
	Generator     bool           `json:"generator"`
}

func NewRegistration(info engine.Info, port int) Registration {
	return Registration{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Port:          port,
		Embedder:      info.Embedder,
		PolicyVersion: info.PolicyVersion,
		Trigger:       info.Trigger,
		Generator:     info.Generator,
	}
}
