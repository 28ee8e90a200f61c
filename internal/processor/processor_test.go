package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
	"github.com/MikeSquared-Agency/propensity/internal/events"
	"github.com/MikeSquared-Agency/propensity/internal/status"
)

type fakePredictor struct {
	mu    sync.Mutex
	calls []extendCall
	err   error
}

type extendCall struct {
	id    string
	turns []conversation.Turn
}

func (f *fakePredictor) Extend(ctx context.Context, id string, turns ...conversation.Turn) (engine.PredictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, extendCall{id: id, turns: turns})
	if f.err != nil {
		return engine.PredictionResult{}, f.err
	}
	return engine.PredictionResult{
		ConversationID: id,
		TurnIndex:      len(turns) - 1,
		Probability:    0.65,
		Status:         status.High,
		Metrics:        engine.Metrics{Metrics: status.Metrics{SuggestedAction: "Propose a concrete next step."}},
	}, nil
}

func (f *fakePredictor) Info() engine.Info {
	return engine.Info{PolicyVersion: "test-v1"}
}

type fakePublisher struct {
	subjects []string
	payloads []any
	err      error
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

type fakeRecorder struct {
	single []events.PredictionEvent
	batch  [][]events.PredictionEvent
}

func (f *fakeRecorder) RecordPrediction(ctx context.Context, ev events.PredictionEvent) error {
	f.single = append(f.single, ev)
	return nil
}

func (f *fakeRecorder) RecordPredictions(ctx context.Context, evs []events.PredictionEvent) error {
	f.batch = append(f.batch, evs)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleTurn(t *testing.T) {
	pred := &fakePredictor{}
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	p := New(pred, pub, rec, discardLogger())

	p.HandleTurn(events.SubjectTurn, []byte(`{"conversation_id":"call-7","speaker":"client","message":"When can we start?"}`))

	require.Len(t, pred.calls, 1)
	assert.Equal(t, "call-7", pred.calls[0].id)
	assert.Equal(t, []conversation.Turn{{Speaker: conversation.Customer, Message: "When can we start?"}}, pred.calls[0].turns)

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, events.SubjectPredictionScored, pub.subjects[0])
	ev, ok := pub.payloads[0].(events.PredictionEvent)
	require.True(t, ok)
	assert.Equal(t, "call-7", ev.ConversationID)
	assert.Equal(t, status.High, ev.Status)
	assert.Equal(t, "test-v1", ev.PolicyVersion)
	assert.Equal(t, events.SourceNATS, ev.Source)

	require.Len(t, rec.single, 1)
	assert.Equal(t, ev.EventID, rec.single[0].EventID)
}

func TestHandleTurn_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{not json`},
		{"missing conversation", `{"speaker":"customer","message":"hi"}`},
		{"unknown speaker", `{"conversation_id":"c","speaker":"narrator","message":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &fakePredictor{}
			pub := &fakePublisher{}
			p := New(pred, pub, nil, discardLogger())

			p.HandleTurn(events.SubjectTurn, []byte(tt.data))

			assert.Empty(t, pred.calls)
			assert.Empty(t, pub.subjects)
		})
	}
}

func TestHandleTurn_EngineError(t *testing.T) {
	pred := &fakePredictor{err: errors.New("embedding failure")}
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	p := New(pred, pub, rec, discardLogger())

	p.HandleTurn(events.SubjectTurn, []byte(`{"conversation_id":"c","speaker":"customer","message":"hi"}`))

	assert.Len(t, pred.calls, 1)
	assert.Empty(t, pub.subjects)
	assert.Empty(t, rec.single)
}

func TestEmit_BatchAndPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	rec := &fakeRecorder{}
	p := New(&fakePredictor{}, pub, rec, discardLogger())

	results := []engine.PredictionResult{
		{ConversationID: "c", TurnIndex: 0, Probability: 0.3, Status: status.Low},
		{ConversationID: "c", TurnIndex: 2, Probability: 0.5, Status: status.Medium},
	}
	p.Emit(context.Background(), events.SourceAPI, results...)

	assert.Len(t, pub.subjects, 2)
	require.Len(t, rec.batch, 1)
	assert.Len(t, rec.batch[0], 2)
	assert.Equal(t, 2, rec.batch[0][1].TurnIndex)
	assert.Equal(t, events.SourceAPI, rec.batch[0][0].Source)
}

func TestEmit_NoSinks(t *testing.T) {
	p := New(&fakePredictor{}, nil, nil, discardLogger())
	p.Emit(context.Background(), events.SourceAPI, engine.PredictionResult{ConversationID: "c"})
}
