package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/embedding"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
	"github.com/MikeSquared-Agency/propensity/internal/events"
	"github.com/MikeSquared-Agency/propensity/internal/policy"
	"github.com/MikeSquared-Agency/propensity/internal/state"
)

const maxBodyBytes = 1 << 20

// PredictRequest accepts the conversation as plain alternating strings or
// as {speaker, message} records.
type PredictRequest struct {
	Conversation   conversation.Input `json:"conversation"`
	ConversationID string             `json:"conversation_id,omitempty"`
}

type RespondRequest struct {
	Conversation   conversation.Input `json:"conversation"`
	UserInput      string             `json:"user_input"`
	ConversationID string             `json:"conversation_id,omitempty"`
	SystemPrompt   string             `json:"system_prompt,omitempty"`
}

type AppendRequest struct {
	Turns conversation.Input `json:"turns"`
}

type ProgressionResponse struct {
	ConversationID string                    `json:"conversation_id,omitempty"`
	Results        []engine.PredictionResult `json:"results"`
	Error          *TurnFailure              `json:"error,omitempty"`
}

// TurnFailure marks where a progression stopped.
type TurnFailure struct {
	TurnIndex int    `json:"turn_index"`
	Message   string `json:"message"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !s.decode(w, r, &req) {
		return
	}
	turns, err := conversation.Normalize(req.Conversation)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.engine.Predict(r.Context(), turns, req.ConversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.emit(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) predictWithResponse(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if !s.decode(w, r, &req) {
		return
	}
	history, err := conversation.Normalize(req.Conversation)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := s.engine.PredictWithResponse(r.Context(), history, req.UserInput, req.ConversationID, req.SystemPrompt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.emit(r.Context(), resp.Prediction)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) progression(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !s.decode(w, r, &req) {
		return
	}
	turns, err := conversation.Normalize(req.Conversation)
	if err != nil {
		s.writeError(w, err)
		return
	}

	results, err := s.engine.AnalyzeProgression(r.Context(), turns, req.ConversationID)
	if err != nil && len(results) == 0 {
		s.writeError(w, err)
		return
	}

	// Partial results are still useful; report where the replay stopped.
	out := ProgressionResponse{Results: results}
	out.ConversationID = results[0].ConversationID
	if err != nil {
		failure := &TurnFailure{TurnIndex: results[len(results)-1].TurnIndex, Message: err.Error()}
		var turnErr *engine.TurnError
		if errors.As(err, &turnErr) {
			failure.TurnIndex = turnErr.TurnIndex
			failure.Message = turnErr.Err.Error()
		}
		out.Error = failure
		s.logger.Warn("progression returned partial results", "conversation_id", out.ConversationID, "results", len(results), "error", err)
	}
	s.emit(r.Context(), results...)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) appendTurns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AppendRequest
	if !s.decode(w, r, &req) {
		return
	}
	turns, err := conversation.Normalize(req.Turns)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.engine.Extend(r.Context(), id, turns...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.emit(r.Context(), res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) resetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.engine.Reset(id) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("conversation %s not found", id)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPredictions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "prediction log not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	evs, err := s.history.ListPredictions(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if evs == nil {
		evs = []events.PredictionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"predictions":     evs,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func (s *Server) emit(ctx context.Context, results ...engine.PredictionResult) {
	if s.emitter == nil || len(results) == 0 {
		return
	}
	s.emitter.Emit(context.WithoutCancel(ctx), events.SourceAPI, results...)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrMalformedConversation):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrInconsistentState):
		return http.StatusConflict
	case errors.Is(err, embedding.ErrEmbeddingFailure), errors.Is(err, engine.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, policy.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", code, "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}
