// Package engine is the conversion-prediction pipeline: it normalizes
// turns, folds them into per-conversation state, scores the resulting
// observation with the policy and classifies the probability.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/embedding"
	"github.com/MikeSquared-Agency/propensity/internal/features"
	"github.com/MikeSquared-Agency/propensity/internal/policy"
	"github.com/MikeSquared-Agency/propensity/internal/state"
	"github.com/MikeSquared-Agency/propensity/internal/status"
)

// Config holds engine behavior settings.
type Config struct {
	Trigger          Trigger
	EmbedConcurrency int
	SystemPrompt     string
}

// Engine is safe for concurrent use. Calls for distinct conversation ids
// run independently; calls for one id are serialized by the state store.
type Engine struct {
	cfg        Config
	embedder   embedding.Embedder
	aggregator features.Aggregator
	scorer     Scorer
	generator  Generator
	store      *state.Store
	logger     *slog.Logger
	newID      func() string
}

// New wires the pipeline and checks that the embedder, aggregator and policy
// agree on dimensions. generator may be nil.
func New(cfg Config, emb embedding.Embedder, agg features.Aggregator, scorer Scorer, gen Generator, logger *slog.Logger) (*Engine, error) {
	if emb == nil || agg == nil || scorer == nil {
		return nil, fmt.Errorf("%w: embedder, aggregator and scorer are required", policy.ErrModelUnavailable)
	}
	if scorer.InputDim() != agg.Dim() {
		return nil, fmt.Errorf("%w: policy expects %d inputs, aggregator produces %d", policy.ErrModelUnavailable, scorer.InputDim(), agg.Dim())
	}
	if ed, ok := agg.(interface{ EmbeddingDim() int }); ok && ed.EmbeddingDim() != emb.Dimensions() {
		return nil, fmt.Errorf("%w: embedder %s produces %d dims, aggregator expects %d", policy.ErrModelUnavailable, emb.Name(), emb.Dimensions(), ed.EmbeddingDim())
	}

	trigger, err := ParseTrigger(string(cfg.Trigger))
	if err != nil {
		return nil, err
	}
	cfg.Trigger = trigger
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 1
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:        cfg,
		embedder:   emb,
		aggregator: agg,
		scorer:     scorer,
		generator:  gen,
		store:      state.New(),
		logger:     logger,
		newID:      uuid.NewString,
	}, nil
}

// Info reports the loaded backends and the number of tracked conversations.
func (e *Engine) Info() Info {
	return Info{
		Embedder:       e.embedder.Name(),
		EmbeddingDim:   e.embedder.Dimensions(),
		ObservationDim: e.aggregator.Dim(),
		PolicyVersion:  e.scorer.Version(),
		Trigger:        e.cfg.Trigger,
		Generator:      e.generator != nil,
		Conversations:  e.store.Len(),
	}
}

// Reset forgets a conversation's state. Reports whether it existed.
func (e *Engine) Reset(id string) bool {
	ok := e.store.Reset(id)
	if ok {
		e.logger.Info("conversation reset", "conversation_id", id)
	}
	return ok
}

// Snapshot returns a copy of a conversation's recorded state.
func (e *Engine) Snapshot(id string) (state.ConversationState, bool) {
	return e.store.Snapshot(id)
}

// Predict scores the whole given history. When id already has state, turns
// must extend the recorded history and only the new turns are processed.
// An empty id gets a generated one. The call is all-or-nothing: on error the
// recorded state is unchanged.
func (e *Engine) Predict(ctx context.Context, turns []conversation.Turn, id string) (PredictionResult, error) {
	if err := conversation.RequireNonEmpty(turns); err != nil {
		return PredictionResult{}, err
	}
	if id == "" {
		id = e.newID()
	}

	lease, err := e.store.Acquire(ctx, id)
	if err != nil {
		return PredictionResult{}, err
	}
	defer lease.Release()

	st, err := lease.State()
	if err != nil {
		return PredictionResult{}, err
	}
	if !conversation.HasPrefix(turns, st.Turns) {
		return PredictionResult{}, fmt.Errorf("conversation %s: %w: supplied turns diverge from the %d recorded turns", id, state.ErrInconsistentState, len(st.Turns))
	}

	res, err := e.advance(ctx, &st, turns[len(st.Turns):], false)
	if err != nil {
		return PredictionResult{}, err
	}
	if err := lease.Commit(st); err != nil {
		return PredictionResult{}, err
	}

	e.logger.Debug("prediction",
		"conversation_id", id,
		"turn_index", res.TurnIndex,
		"probability", res.Probability,
		"status", res.Status,
	)
	return res, nil
}

// Extend appends turns to an existing or new conversation and scores the
// result, using the previous score as trend context. This is the live
// assistance path where callers only know the newest turns.
func (e *Engine) Extend(ctx context.Context, id string, turns ...conversation.Turn) (PredictionResult, error) {
	if id == "" {
		return PredictionResult{}, fmt.Errorf("%w: conversation id is required to extend", conversation.ErrMalformedConversation)
	}
	if err := conversation.RequireNonEmpty(turns); err != nil {
		return PredictionResult{}, err
	}

	lease, err := e.store.Acquire(ctx, id)
	if err != nil {
		return PredictionResult{}, err
	}
	defer lease.Release()

	st, err := lease.State()
	if err != nil {
		return PredictionResult{}, err
	}
	res, err := e.advance(ctx, &st, turns, true)
	if err != nil {
		return PredictionResult{}, err
	}
	if err := lease.Commit(st); err != nil {
		return PredictionResult{}, err
	}
	return res, nil
}

// advance folds newTurns into st and scores the final observation. If there
// are no new turns the last observation is rescored. st is only modified on
// success.
func (e *Engine) advance(ctx context.Context, st *state.ConversationState, newTurns []conversation.Turn, withTrend bool) (PredictionResult, error) {
	if len(newTurns) == 0 {
		if st.LastObservation == nil {
			return PredictionResult{}, fmt.Errorf("%w: conversation is empty", conversation.ErrMalformedConversation)
		}
		return e.score(st.ID, st.Turns, len(st.Turns)-1, st.LastObservation, nil)
	}

	offset := len(st.Turns)
	vecs, failed, err := e.embedAll(ctx, newTurns)
	if err != nil {
		return PredictionResult{}, &TurnError{ConversationID: st.ID, TurnIndex: offset + failed, Err: err}
	}

	next := st.Clone()
	var obs features.Observation
	for i, turn := range newTurns {
		obs, next.Features, err = e.aggregator.Step(next.Features, turn, vecs[i])
		if err != nil {
			return PredictionResult{}, &TurnError{ConversationID: st.ID, TurnIndex: offset + i, Err: err}
		}
		next.Turns = append(next.Turns, turn)
	}
	next.LastObservation = obs

	var trend *status.Trend
	if withTrend && st.LastScore != nil {
		trend = &status.Trend{Previous: st.LastScore.Probability}
	}
	res, err := e.score(st.ID, next.Turns, len(next.Turns)-1, obs, trend)
	if err != nil {
		return PredictionResult{}, err
	}
	next.LastScore = &state.Score{
		TurnIndex:   res.TurnIndex,
		Probability: res.Probability,
		Value:       res.Metrics.ValueEstimate,
	}
	*st = next
	return res, nil
}

// score runs the policy on obs and classifies the probability. history is
// the conversation up to and including turnIndex.
func (e *Engine) score(id string, history []conversation.Turn, turnIndex int, obs features.Observation, trend *status.Trend) (PredictionResult, error) {
	out, err := e.scorer.Score(obs)
	if err != nil {
		return PredictionResult{}, &TurnError{ConversationID: id, TurnIndex: turnIndex, Err: fmt.Errorf("score: %w", err)}
	}
	a := status.Classify(out.Probability, trend)
	customer, rep := conversation.CountBySpeaker(history[:turnIndex+1])

	return PredictionResult{
		ConversationID: id,
		TurnIndex:      turnIndex,
		Probability:    a.Probability,
		Status:         a.Status,
		Metrics: Metrics{
			Metrics:       a.Metrics,
			ValueEstimate: out.Value,
			TurnCount:     turnIndex + 1,
			CustomerTurns: customer,
			SalesRepTurns: rep,
		},
	}, nil
}

// embedAll embeds turns with bounded parallelism. Vectors are returned in
// turn order. On failure it returns the lowest failing position among the
// turns and its error; vectors before that position are valid.
func (e *Engine) embedAll(ctx context.Context, turns []conversation.Turn) ([][]float64, int, error) {
	vecs := make([][]float64, len(turns))
	errs := make([]error, len(turns))

	var g errgroup.Group
	g.SetLimit(e.cfg.EmbedConcurrency)
	for i, turn := range turns {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			v, err := e.embedder.Embed(ctx, turn.Message)
			if err != nil {
				errs[i] = wrapEmbedErr(err)
				return nil
			}
			vecs[i] = v
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return vecs, i, err
		}
	}
	return vecs, 0, nil
}

func wrapEmbedErr(err error) error {
	if errors.Is(err, embedding.ErrEmbeddingFailure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", embedding.ErrEmbeddingFailure, err)
}
