package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
	"github.com/MikeSquared-Agency/propensity/internal/events"
)

// Predictor is the part of the engine the live pipeline drives.
type Predictor interface {
	Extend(ctx context.Context, id string, turns ...conversation.Turn) (engine.PredictionResult, error)
	Info() engine.Info
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Recorder persists scored predictions.
type Recorder interface {
	RecordPrediction(ctx context.Context, ev events.PredictionEvent) error
	RecordPredictions(ctx context.Context, evs []events.PredictionEvent) error
}

// Processor scores live conversation turns from NATS and fans the results
// out to the prediction subject and the prediction log.
type Processor struct {
	engine    Predictor
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
	timeout   time.Duration
}

// New builds a processor. publisher and recorder may be nil.
func New(eng Predictor, pub Publisher, rec Recorder, logger *slog.Logger) *Processor {
	return &Processor{
		engine:    eng,
		publisher: pub,
		recorder:  rec,
		logger:    logger,
		timeout:   30 * time.Second,
	}
}

// HandleTurn is the NATS handler for sales.conversation.turn.
func (p *Processor) HandleTurn(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var evt events.TurnEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse turn event", "error", err)
		return
	}
	turns, err := evt.Normalize()
	if err != nil {
		p.logger.Warn("invalid turn event", "conversation_id", evt.ConversationID, "error", err)
		return
	}

	res, err := p.engine.Extend(ctx, evt.ConversationID, turns...)
	if err != nil {
		p.logger.Error("live prediction failed", "conversation_id", evt.ConversationID, "error", err)
		return
	}

	p.logger.Info("turn scored",
		"conversation_id", res.ConversationID,
		"turn_index", res.TurnIndex,
		"probability", res.Probability,
		"status", res.Status,
	)
	p.Emit(ctx, events.SourceNATS, res)
}

// Emit publishes and records results. Failures are logged; the caller's
// prediction already succeeded.
func (p *Processor) Emit(ctx context.Context, source string, results ...engine.PredictionResult) {
	if len(results) == 0 || (p.publisher == nil && p.recorder == nil) {
		return
	}

	version := p.engine.Info().PolicyVersion
	evs := make([]events.PredictionEvent, len(results))
	for i, res := range results {
		evs[i] = events.NewPredictionEvent(res, version, source)
	}

	if p.publisher != nil {
		for _, ev := range evs {
			if err := p.publisher.Publish(events.SubjectPredictionScored, ev); err != nil {
				p.logger.Error("failed to publish prediction", "conversation_id", ev.ConversationID, "turn_index", ev.TurnIndex, "error", err)
			}
		}
	}

	if p.recorder != nil {
		var err error
		if len(evs) == 1 {
			err = p.recorder.RecordPrediction(ctx, evs[0])
		} else {
			err = p.recorder.RecordPredictions(ctx, evs)
		}
		if err != nil {
			p.logger.Error("failed to record predictions", "conversation_id", evs[0].ConversationID, "count", len(evs), "error", err)
		}
	}
}
