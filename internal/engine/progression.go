package engine

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/features"
	"github.com/MikeSquared-Agency/propensity/internal/state"
	"github.com/MikeSquared-Agency/propensity/internal/status"
)

// AnalyzeProgression replays turns one at a time under id and returns one
// result per triggering turn, in order, each classified against the result
// before it. id must have no recorded turns; an empty id gets a generated
// one, so replaying the same turns always reproduces the same sequence.
//
// If a turn fails, the results produced so far are returned together with a
// *TurnError for the failed turn, and the turns applied before it stay
// recorded.
func (e *Engine) AnalyzeProgression(ctx context.Context, turns []conversation.Turn, id string) ([]PredictionResult, error) {
	if err := conversation.RequireNonEmpty(turns); err != nil {
		return nil, err
	}
	expected := 0
	for _, t := range turns {
		if e.cfg.Trigger.fires(t) {
			expected++
		}
	}
	if expected == 0 {
		return nil, fmt.Errorf("%w: no %s turns to predict", conversation.ErrMalformedConversation, e.cfg.Trigger)
	}
	if id == "" {
		id = e.newID()
	}

	lease, err := e.store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	st, err := lease.State()
	if err != nil {
		return nil, err
	}
	if len(st.Turns) > 0 {
		return nil, fmt.Errorf("conversation %s: %w: progression needs a fresh conversation id, %d turns already recorded", id, state.ErrInconsistentState, len(st.Turns))
	}

	vecs, failedAt, embedErr := e.embedAll(ctx, turns)
	limit := len(turns)
	if embedErr != nil {
		limit = failedAt
	}

	results := make([]PredictionResult, 0, expected)
	var stepErr error
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			stepErr = &TurnError{ConversationID: id, TurnIndex: i, Err: err}
			break
		}

		var obs features.Observation
		obs, st.Features, err = e.aggregator.Step(st.Features, turns[i], vecs[i])
		if err != nil {
			stepErr = &TurnError{ConversationID: id, TurnIndex: i, Err: err}
			break
		}
		st.Turns = append(st.Turns, turns[i])
		st.LastObservation = obs

		if !e.cfg.Trigger.fires(turns[i]) {
			continue
		}
		var trend *status.Trend
		if n := len(results); n > 0 {
			trend = &status.Trend{Previous: results[n-1].Probability}
		}
		res, err := e.score(id, st.Turns, i, obs, trend)
		if err != nil {
			stepErr = err
			break
		}
		st.LastScore = &state.Score{TurnIndex: i, Probability: res.Probability, Value: res.Metrics.ValueEstimate}
		results = append(results, res)
	}
	if stepErr == nil && embedErr != nil {
		stepErr = &TurnError{ConversationID: id, TurnIndex: failedAt, Err: embedErr}
	}

	if len(st.Turns) > 0 {
		if err := lease.Commit(st); err != nil {
			e.logger.Error("progression commit failed", "conversation_id", id, "error", err)
			if stepErr == nil {
				stepErr = &TurnError{ConversationID: id, TurnIndex: len(st.Turns) - 1, Err: err}
			}
		}
	}

	if stepErr != nil {
		e.logger.Warn("progression stopped early",
			"conversation_id", id,
			"results", len(results),
			"expected", expected,
			"error", stepErr,
		)
		return results, stepErr
	}

	e.logger.Info("progression complete",
		"conversation_id", id,
		"turns", len(turns),
		"results", len(results),
	)
	return results, nil
}
