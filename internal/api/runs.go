package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fl-sean03/agentgate/internal/core"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	workOrderID := core.WorkOrderID(r.URL.Query().Get("workOrderId"))
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)
	runs, err := s.store.ListRuns(workOrderID, limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := core.RunID(chi.URLParam(r, "id"))
	run, err := s.store.LoadRun(id)
	if err != nil {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "run not found")
		return
	}
	respondData(w, r, http.StatusOK, run)
}
