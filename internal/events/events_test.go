package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
	"github.com/MikeSquared-Agency/propensity/internal/status"
)

func TestTurnEventParsing(t *testing.T) {
	raw := `{
		"conversation_id": "call-42",
		"speaker": "prospect",
		"message": "Can we start Monday?",
		"timestamp": "2026-03-01T10:00:00Z"
	}`

	var evt TurnEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatalf("failed to parse TurnEvent: %v", err)
	}
	turns, err := evt.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Speaker != conversation.Customer {
		t.Errorf("expected prospect to map to customer, got %s", turns[0].Speaker)
	}
	if turns[0].Message != "Can we start Monday?" {
		t.Errorf("unexpected message %q", turns[0].Message)
	}
}

func TestTurnEventBatch(t *testing.T) {
	raw := `{
		"conversation_id": "call-42",
		"turns": [
			{"speaker": "customer", "message": "Pricing?"},
			{"speaker": "rep", "message": "$29 per seat."}
		]
	}`

	var evt TurnEvent
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatalf("failed to parse TurnEvent: %v", err)
	}
	turns, err := evt.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(turns) != 2 || turns[1].Speaker != conversation.SalesRep {
		t.Errorf("unexpected turns %+v", turns)
	}
}

func TestTurnEventInvalid(t *testing.T) {
	tests := []struct {
		name string
		evt  TurnEvent
	}{
		{"no conversation id", TurnEvent{Speaker: "customer", Message: "hi"}},
		{"no turns", TurnEvent{ConversationID: "c"}},
		{"unknown speaker", TurnEvent{ConversationID: "c", Speaker: "narrator", Message: "hi"}},
		{
			"both forms",
			TurnEvent{ConversationID: "c", Speaker: "customer", Message: "hi", Turns: []conversation.Turn{{Speaker: conversation.Customer, Message: "hi"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.evt.Normalize()
			if !errors.Is(err, conversation.ErrMalformedConversation) {
				t.Errorf("expected ErrMalformedConversation, got %v", err)
			}
		})
	}
}

func TestTurnEventRejectsBadTurnRecord(t *testing.T) {
	raw := `{"conversation_id": "c", "turns": [{"speaker": "customer"}]}`
	var evt TurnEvent
	if err := json.Unmarshal([]byte(raw), &evt); err == nil {
		t.Fatal("expected error for turn without message")
	}
}

func TestNewPredictionEvent(t *testing.T) {
	momentum := 0.12
	value := 0.4
	res := engine.PredictionResult{
		ConversationID: "call-42",
		TurnIndex:      4,
		Probability:    0.71,
		Status:         status.High,
		Metrics: engine.Metrics{
			Metrics: status.Metrics{
				SuggestedAction: "Propose a concrete next step.",
				Confidence:      0.42,
				Momentum:        &momentum,
				Trend:           status.Rising,
			},
			ValueEstimate: &value,
			TurnCount:     5,
		},
	}

	evt := NewPredictionEvent(res, "v3", SourceNATS)

	if evt.EventID == "" {
		t.Error("expected generated event id")
	}
	if evt.ConversationID != "call-42" || evt.TurnIndex != 4 {
		t.Errorf("unexpected identity %s/%d", evt.ConversationID, evt.TurnIndex)
	}
	if evt.Status != status.High || evt.Trend != status.Rising {
		t.Errorf("unexpected status %s trend %s", evt.Status, evt.Trend)
	}
	if evt.Momentum == nil || *evt.Momentum != 0.12 {
		t.Errorf("expected momentum 0.12, got %v", evt.Momentum)
	}
	if evt.PolicyVersion != "v3" || evt.Source != SourceNATS {
		t.Errorf("unexpected version/source %s/%s", evt.PolicyVersion, evt.Source)
	}
	if evt.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["status"] != "high" {
		t.Errorf("expected status high on the wire, got %v", fields["status"])
	}
	if fields["suggested_action"] != "Propose a concrete next step." {
		t.Errorf("unexpected suggested_action %v", fields["suggested_action"])
	}
}
