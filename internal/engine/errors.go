package engine

import (
	"errors"
	"fmt"
)

// ErrGenerationFailed wraps failures of the response generator.
var ErrGenerationFailed = errors.New("response generation failed")

// TurnError attributes a failure to one turn of one conversation.
type TurnError struct {
	ConversationID string
	TurnIndex      int
	Err            error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("conversation %s turn %d: %v", e.ConversationID, e.TurnIndex, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
