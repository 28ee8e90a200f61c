package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/engine"
	"github.com/MikeSquared-Agency/propensity/internal/events"
)

// Predictor is the engine surface served over HTTP.
type Predictor interface {
	Predict(ctx context.Context, turns []conversation.Turn, id string) (engine.PredictionResult, error)
	PredictWithResponse(ctx context.Context, history []conversation.Turn, userInput, id, systemPrompt string) (engine.Response, error)
	AnalyzeProgression(ctx context.Context, turns []conversation.Turn, id string) ([]engine.PredictionResult, error)
	Extend(ctx context.Context, id string, turns ...conversation.Turn) (engine.PredictionResult, error)
	Reset(id string) bool
	Info() engine.Info
}

// Emitter fans results out to NATS and the prediction log.
type Emitter interface {
	Emit(ctx context.Context, source string, results ...engine.PredictionResult)
}

// History reads the prediction log.
type History interface {
	ListPredictions(ctx context.Context, conversationID string, limit int) ([]events.PredictionEvent, error)
}

type Server struct {
	router  *chi.Mux
	engine  Predictor
	emitter Emitter
	history History
	logger  *slog.Logger
	httpSrv *http.Server
}

type Option func(*Server)

func WithEmitter(e Emitter) Option { return func(s *Server) { s.emitter = e } }

func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

func NewServer(port int, apiToken string, eng Predictor, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		engine: eng,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/status", s.status)
		r.Post("/predict", s.predict)
		r.Post("/predict/respond", s.predictWithResponse)
		r.Post("/progression", s.progression)
		r.Post("/conversations/{id}/turns", s.appendTurns)
		r.Delete("/conversations/{id}", s.resetConversation)
		r.Get("/conversations/{id}/predictions", s.listPredictions)
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent": "propensity",
		"info":  s.engine.Info(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
