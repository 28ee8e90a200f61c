package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/state"
)

// DefaultSystemPrompt is used for reply generation when the caller gives none.
const DefaultSystemPrompt = `You are a helpful, consultative sales representative.
Reply to the customer's latest message in one to three sentences.
Answer their question directly, tie the product to their stated needs, and
suggest a concrete next step when the customer shows interest.
Never invent prices, discounts or features that were not mentioned.`

// PredictWithResponse asks the generator for the sales rep's reply to
// userInput, appends both the customer message and the reply to history,
// and scores the resulting conversation under id.
func (e *Engine) PredictWithResponse(ctx context.Context, history []conversation.Turn, userInput, id, systemPrompt string) (Response, error) {
	if e.generator == nil {
		return Response{}, fmt.Errorf("%w: no generator configured", ErrGenerationFailed)
	}
	if strings.TrimSpace(userInput) == "" {
		return Response{}, fmt.Errorf("%w: user input is empty", conversation.ErrMalformedConversation)
	}
	if id == "" {
		id = e.newID()
	}
	if systemPrompt == "" {
		systemPrompt = e.cfg.SystemPrompt
	}

	// Reject a diverging history before spending a generation call on it.
	customerTurn := conversation.Turn{Speaker: conversation.Customer, Message: userInput}
	if snap, ok := e.store.Snapshot(id); ok {
		withInput := append(append([]conversation.Turn(nil), history...), customerTurn)
		if !conversation.HasPrefix(withInput, snap.Turns) {
			return Response{}, fmt.Errorf("conversation %s: %w: supplied turns diverge from the recorded history", id, state.ErrInconsistentState)
		}
	}

	reply, err := e.generator.Generate(ctx, systemPrompt, history, userInput)
	if err != nil {
		return Response{}, fmt.Errorf("conversation %s: %w: %w", id, ErrGenerationFailed, err)
	}
	reply = strings.TrimSpace(reply)

	full := make([]conversation.Turn, 0, len(history)+2)
	full = append(full, history...)
	full = append(full, customerTurn, conversation.Turn{Speaker: conversation.SalesRep, Message: reply})

	pred, err := e.Predict(ctx, full, id)
	if err != nil {
		return Response{}, err
	}
	return Response{Response: reply, Prediction: pred}, nil
}
