package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fl-sean03/agentgate/internal/artifacts"
	"github.com/fl-sean03/agentgate/internal/core"
)

// createWorkOrderRequest is `POST /api/v1/work-orders`'s body (spec.md
// §6): `{taskPrompt>=10 chars, workspaceSource, maxIterations∈[1,10],
// maxWallClockSeconds∈[1,86400], agentType?, ...}`.
type createWorkOrderRequest struct {
	TaskPrompt          string               `json:"taskPrompt"`
	WorkspaceSource     core.WorkspaceSource `json:"workspaceSource"`
	GatePlan            core.GatePlan        `json:"gatePlan"`
	MaxIterations       int                  `json:"maxIterations"`
	MaxWallClockSeconds int                  `json:"maxWallClockSeconds"`
	AgentType           string               `json:"agentType,omitempty"`
	PermissionMode      core.PermissionMode  `json:"permissionMode,omitempty"`
}

func (s *Server) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	filter := artifacts.WorkOrderFilter{
		Status: core.WorkOrderStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}
	orders, err := s.store.ListWorkOrders(filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, orders)
}

func (s *Server) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := core.WorkOrderID(chi.URLParam(r, "id"))
	wo, err := s.store.LoadWorkOrder(id)
	if err != nil {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "work order not found")
		return
	}
	respondData(w, r, http.StatusOK, wo)
}

func (s *Server) handleCreateWorkOrder(w http.ResponseWriter, r *http.Request) {
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
	wo.AgentType = req.AgentType
	if req.PermissionMode != "" {
		wo.PermissionMode = req.PermissionMode
	}

	if err := wo.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.queue.Submit(wo); err != nil {
		writeDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusCreated, wo)
}

func (s *Server) handleCancelWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := core.WorkOrderID(chi.URLParam(r, "id"))
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "canceled via API"
	}
	if err := s.queue.Cancel(id, reason); err != nil {
		writeDomainError(w, r, err)
		return
	}
	wo, err := s.store.LoadWorkOrder(id)
	if err != nil {
		respondData(w, r, http.StatusOK, map[string]string{"id": string(id), "status": string(core.WorkOrderCanceled)})
		return
	}
	respondData(w, r, http.StatusOK, wo)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
