// Package api exposes the engine over HTTP: prediction generation,
// evaluation, conclusion ingestion, drift queries and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/okian/rally/internal/adapters/repository"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/domain/drift"
	"github.com/okian/rally/internal/domain/evaluation"
	"github.com/okian/rally/internal/domain/features"
	"github.com/okian/rally/internal/domain/model"
)

// Engine is the subset of the engine the handlers call.
type Engine interface {
	GeneratePrediction(ctx context.Context, contestID, configID string) (model.PredictionRecord, error)
	EvaluatePrediction(ctx context.Context, id string, outcome model.RealizedOutcome) (model.PredictionRecord, error)
	AwaitingOutcome(ctx context.Context, limit int) ([]model.PredictionRecord, error)
	ComputeDrift(ctx context.Context, configID string, windowDays int) (drift.Snapshot, error)
	SubmitConclusion(ctx context.Context, ev model.ConclusionEvent) (bool, error)
}

// Server wires HTTP routes for the engine.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	predictionsHandler *PredictionsHandler
	conclusionsHandler *ConclusionsHandler
	driftHandler       *DriftHandler
}

// NewServer creates a new API server with all handlers. defaultConfig is
// used when a generation request names no scoring configuration.
func NewServer(engine Engine, statsProvider StatsProvider, defaultConfig string) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		predictionsHandler: NewPredictionsHandler(engine, defaultConfig),
		conclusionsHandler: NewConclusionsHandler(engine),
		driftHandler:       NewDriftHandler(engine),
	}
}

// Router returns a router with every route registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.Register(r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz")).Methods(http.MethodGet)
	r.Handle("/metrics", s.healthHandler.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats")).Methods(http.MethodGet)

	r.HandleFunc("/predictions", MetricsMiddleware(s.predictionsHandler.HandleGenerate, "predictions")).Methods(http.MethodPost)
	r.HandleFunc("/predictions/awaiting", MetricsMiddleware(s.predictionsHandler.HandleAwaiting, "predictions_awaiting")).Methods(http.MethodGet)
	r.HandleFunc("/predictions/{id}/outcome", MetricsMiddleware(s.predictionsHandler.HandleEvaluate, "predictions_outcome")).Methods(http.MethodPost)

	r.HandleFunc("/conclusions", MetricsMiddleware(s.conclusionsHandler.HandlePostConclusion, "conclusions")).Methods(http.MethodPost)
	r.HandleFunc("/drift/{config}", MetricsMiddleware(s.driftHandler.HandleGetDrift, "drift")).Methods(http.MethodGet)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeEngineError maps engine sentinels to status codes. Unknown
// competitors are the caller's fault; anything unrecognised is a 500.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, features.ErrInvalidRequest),
		errors.Is(err, evaluation.ErrInvalidOutcome),
		errors.Is(err, service.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, features.ErrUnknownCompetitor):
		writeError(w, http.StatusUnprocessableEntity, "unknown_competitor", err)
	case errors.Is(err, service.ErrUnknownConfig),
		errors.Is(err, service.ErrUnknownContest),
		errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, evaluation.ErrRecordNotPublished):
		writeError(w, http.StatusConflict, "not_published", err)
	case errors.Is(err, service.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
