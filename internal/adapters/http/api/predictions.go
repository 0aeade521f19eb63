package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/okian/rally/internal/domain/evaluation"
	"github.com/okian/rally/internal/domain/model"
)

const defaultAwaitingLimit = 100

// PredictionDependencies defines the engine calls made by PredictionsHandler.
type PredictionDependencies interface {
	GeneratePrediction(ctx context.Context, contestID, configID string) (model.PredictionRecord, error)
	EvaluatePrediction(ctx context.Context, id string, outcome model.RealizedOutcome) (model.PredictionRecord, error)
	AwaitingOutcome(ctx context.Context, limit int) ([]model.PredictionRecord, error)
}

// PredictionsHandler handles generation and direct evaluation.
type PredictionsHandler struct {
	deps          PredictionDependencies
	defaultConfig string
}

// NewPredictionsHandler creates a new predictions handler.
func NewPredictionsHandler(deps PredictionDependencies, defaultConfig string) *PredictionsHandler {
	return &PredictionsHandler{deps: deps, defaultConfig: defaultConfig}
}

type generateRequest struct {
	ContestID string `json:"contest_id"`
	ConfigID  string `json:"config_id"`
}

// outcomeRequest is the realized result of a contest. ConcludedAt is RFC3339
// and optional.
type outcomeRequest struct {
	WinnerID        string `json:"winner_id"`
	Score           string `json:"score"`
	DurationMinutes int    `json:"duration_minutes"`
	SetCount        int    `json:"set_count"`
	ConcludedAt     string `json:"concluded_at"`
}

func (o outcomeRequest) toOutcome() (model.RealizedOutcome, error) {
	if strings.TrimSpace(o.WinnerID) == "" {
		return model.RealizedOutcome{}, fmt.Errorf("%w: missing winner_id", ErrBadRequest)
	}
	out := model.RealizedOutcome{
		WinnerID:        o.WinnerID,
		Score:           strings.TrimSpace(o.Score),
		DurationMinutes: o.DurationMinutes,
		SetCount:        o.SetCount,
	}
	if err := evaluation.ValidateOutcome(out); err != nil {
		return model.RealizedOutcome{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if o.ConcludedAt != "" {
		at, err := time.Parse(time.RFC3339, o.ConcludedAt)
		if err != nil {
			return model.RealizedOutcome{}, fmt.Errorf("%w: invalid concluded_at; must be RFC3339", ErrBadRequest)
		}
		out.ConcludedAt = at.UTC()
	}
	return out, nil
}

// HandleGenerate handles POST /predictions requests.
func (h *PredictionsHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.ContestID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing contest_id", ErrBadRequest))
		return
	}
	if req.ConfigID == "" {
		req.ConfigID = h.defaultConfig
	}

	rec, err := h.deps.GeneratePrediction(r.Context(), req.ContestID, req.ConfigID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleEvaluate handles POST /predictions/{id}/outcome requests.
func (h *PredictionsHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	outcome, err := req.toOutcome()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	rec, err := h.deps.EvaluatePrediction(r.Context(), id, outcome)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleAwaiting handles GET /predictions/awaiting?limit=N requests.
func (h *PredictionsHandler) HandleAwaiting(w http.ResponseWriter, r *http.Request) {
	limit := defaultAwaitingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: invalid limit", ErrBadRequest))
			return
		}
		limit = n
	}

	list, err := h.deps.AwaitingOutcome(r.Context(), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if list == nil {
		list = []model.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}
