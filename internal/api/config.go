package api

import (
	"encoding/json"
	"net/http"

	"github.com/fl-sean03/agentgate/internal/core"
)

// configSnapshot is SPEC_FULL.md's "Config introspection endpoint"
// payload: the defaults a new work order is admitted with.
type configSnapshot struct {
	DefaultMaxIterations      int     `json:"defaultMaxIterations"`
	DefaultMaxWallClockSecs   int     `json:"defaultMaxWallClockSeconds"`
	DefaultStagnationThresh   float64 `json:"defaultStagnationThreshold"`
	DefaultMaxConcurrentRuns  int     `json:"defaultMaxConcurrentRuns"`
	DefaultMaxEventsPerSecond float64 `json:"defaultMaxEventsPerSecond"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, configSnapshot{
		DefaultMaxIterations:      core.DefaultMaxIterations,
		DefaultMaxWallClockSecs:   int(core.DefaultMaxWallClock.Seconds()),
		DefaultStagnationThresh:   core.DefaultStagnationThreshold,
		DefaultMaxConcurrentRuns:  core.DefaultMaxConcurrentRuns,
		DefaultMaxEventsPerSecond: core.DefaultMaxEventsPerSecond,
	})
}

// handleValidateConfig lets a caller dry-run a work order's admission
// invariants without submitting it (SPEC_FULL.md's "Config introspection
// endpoints": "validate a GatePlan/ConvergenceSpec before submission
// without a dry run").
func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	var req createWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}

	wo := core.NewWorkOrder(req.TaskPrompt, req.WorkspaceSource, req.GatePlan)
	if req.MaxIterations > 0 {
		wo.MaxIterations = req.MaxIterations
	}
	if req.MaxWallClockSeconds > 0 {
		wo.MaxWallClock = secondsToDuration(req.MaxWallClockSeconds)
	}

	if err := wo.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]bool{"valid": true})
}
