package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/okian/rally/internal/domain/drift"
)

// DriftDependencies defines the interface for drift queries.
type DriftDependencies interface {
	ComputeDrift(ctx context.Context, configID string, windowDays int) (drift.Snapshot, error)
}

// DriftHandler handles drift requests.
type DriftHandler struct {
	deps DriftDependencies
}

// NewDriftHandler creates a new drift handler.
func NewDriftHandler(deps DriftDependencies) *DriftHandler {
	return &DriftHandler{deps: deps}
}

type driftResponse struct {
	ConfigID      string    `json:"config_id"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	SampleCount   int       `json:"sample_count"`
	MeanAccuracy  float64   `json:"mean_accuracy"`
	MeanBrier     float64   `json:"mean_brier"`
	BrierStdDev   float64   `json:"brier_stddev"`
	MeanComposite float64   `json:"mean_composite"`
	OutlierRate   float64   `json:"outlier_rate"`
	Verdict       string    `json:"verdict"`
	DriftDetected bool      `json:"drift_detected"`
}

// HandleGetDrift handles GET /drift/{config}?days=N requests. Omitting days
// uses the engine's configured window.
func (h *DriftHandler) HandleGetDrift(w http.ResponseWriter, r *http.Request) {
	configID := mux.Vars(r)["config"]

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: invalid days", ErrBadRequest))
			return
		}
		days = n
	}

	snap, err := h.deps.ComputeDrift(r.Context(), configID, days)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driftResponse{
		ConfigID:      snap.ConfigID,
		From:          snap.Window.From,
		To:            snap.Window.To,
		SampleCount:   snap.SampleCount,
		MeanAccuracy:  snap.MeanAccuracy,
		MeanBrier:     snap.MeanBrier,
		BrierStdDev:   snap.BrierStdDev,
		MeanComposite: snap.MeanComposite,
		OutlierRate:   snap.OutlierRate,
		Verdict:       string(snap.Verdict),
		DriftDetected: snap.DriftDetected,
	})
}
