package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/rally/internal/domain/model"
)

// ConclusionDependencies defines the interface for conclusion ingestion.
type ConclusionDependencies interface {
	SubmitConclusion(ctx context.Context, ev model.ConclusionEvent) (bool, error)
}

// ConclusionsHandler handles contest-conclusion events.
type ConclusionsHandler struct {
	deps ConclusionDependencies
}

// NewConclusionsHandler creates a new conclusions handler.
func NewConclusionsHandler(deps ConclusionDependencies) *ConclusionsHandler {
	return &ConclusionsHandler{deps: deps}
}

// conclusionRequest is the body of POST /conclusions.
type conclusionRequest struct {
	EventID   string `json:"event_id"`
	ContestID string `json:"contest_id"`
	TS        string `json:"ts"`
	outcomeRequest
}

func (c conclusionRequest) validate() error {
	switch {
	case strings.TrimSpace(c.EventID) == "":
		return errors.New("missing event_id")
	case strings.TrimSpace(c.ContestID) == "":
		return errors.New("missing contest_id")
	case strings.TrimSpace(c.TS) == "":
		return errors.New("missing ts")
	}
	if _, err := time.Parse(time.RFC3339, c.TS); err != nil {
		return errors.New("invalid ts; must be RFC3339")
	}
	return nil
}

func (c conclusionRequest) toEvent() (model.ConclusionEvent, error) {
	if err := c.validate(); err != nil {
		return model.ConclusionEvent{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	outcome, err := c.toOutcome()
	if err != nil {
		return model.ConclusionEvent{}, err
	}
	ts, _ := time.Parse(time.RFC3339, c.TS)
	return model.ConclusionEvent{
		EventID:   c.EventID,
		ContestID: c.ContestID,
		Outcome:   outcome,
		TS:        ts.UTC(),
	}, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostConclusion handles POST /conclusions requests.
func (h *ConclusionsHandler) HandlePostConclusion(w http.ResponseWriter, r *http.Request) {
	var req conclusionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	accepted, err := h.deps.SubmitConclusion(r.Context(), ev)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !accepted {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
