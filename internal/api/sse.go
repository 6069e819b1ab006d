package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fl-sean03/agentgate/internal/core"
)

// handleRunStream serves `GET /api/v1/runs/:id/stream`: a server-sent
// events feed of that run's progress events, auto-closing once a
// terminal event (run_completed/run_failed/run_canceled) is seen
// (spec.md §6: "auto-closes on run-complete").
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "id"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "streaming not supported")
		return
	}

	ch, id := s.bus.Subscribe("", runID)
	defer s.bus.Unsubscribe(id)

	s.writeSSE(w, flusher, "connected", map[string]string{"status": "connected"})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.writeSSE(w, flusher, string(ev.Type), ev)
			if ev.Type == core.EventRunCompleted || ev.Type == core.EventRunFailed || ev.Type == core.EventRunCanceled {
				return
			}
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Error("failed to marshal SSE payload", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
