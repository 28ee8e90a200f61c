package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/propensity/internal/events"
	"github.com/MikeSquared-Agency/propensity/internal/status"
)

const insertPrediction = `
	INSERT INTO prediction_events (event_id, conversation_id, turn_index, probability, status,
		suggested_action, confidence, momentum, trend, value_estimate, policy_version, source, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13)
	ON CONFLICT (event_id) DO NOTHING`

func predictionArgs(ev events.PredictionEvent) []any {
	return []any{
		ev.EventID, ev.ConversationID, ev.TurnIndex, ev.Probability, string(ev.Status),
		ev.SuggestedAction, ev.Confidence, ev.Momentum, ev.Trend, ev.ValueEstimate,
		ev.PolicyVersion, ev.Source, ev.Timestamp,
	}
}

// RecordPrediction appends one prediction. Replays of the same event id are
// ignored.
func (s *Store) RecordPrediction(ctx context.Context, ev events.PredictionEvent) error {
	_, err := s.pool.Exec(ctx, insertPrediction, predictionArgs(ev)...)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// RecordPredictions appends a batch in one transaction.
func (s *Store) RecordPredictions(ctx context.Context, evs []events.PredictionEvent) error {
	if len(evs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range evs {
		batch.Queue(insertPrediction, predictionArgs(ev)...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert predictions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListPredictions returns a conversation's logged predictions, oldest first.
// limit <= 0 returns all of them.
func (s *Store) ListPredictions(ctx context.Context, conversationID string, limit int) ([]events.PredictionEvent, error) {
	query := `
		SELECT event_id, conversation_id, turn_index, probability, status, suggested_action,
			confidence, momentum, COALESCE(trend, ''), value_estimate, policy_version, source, created_at
		FROM prediction_events
		WHERE conversation_id = $1
		ORDER BY created_at, turn_index`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []events.PredictionEvent
	for rows.Next() {
		var ev events.PredictionEvent
		var st string
		if err := rows.Scan(&ev.EventID, &ev.ConversationID, &ev.TurnIndex, &ev.Probability, &st,
			&ev.SuggestedAction, &ev.Confidence, &ev.Momentum, &ev.Trend, &ev.ValueEstimate,
			&ev.PolicyVersion, &ev.Source, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		ev.Status = status.Status(st)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate predictions: %w", err)
	}
	return out, nil
}
