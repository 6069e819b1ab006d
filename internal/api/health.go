package api

import (
	"net/http"
	"time"

	"github.com/fl-sean03/agentgate/internal/diagnostics"
)

// WithResourceMonitor wires the deep-health endpoint's resource
// introspection (SPEC_FULL.md's supplemental "Deep health endpoint").
func WithResourceMonitor(m *diagnostics.ResourceMonitor) Option {
	return func(s *Server) { s.resourceMonitor = m }
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports 503 until the server considers itself ready
// (spec.md §6: "ready 200/503").
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		respondError(w, r, http.StatusServiceUnavailable, CodeInternal, "not ready")
		return
	}
	respondData(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive always returns 200 (spec.md §6: "live always 200").
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// deepHealthResponse is the SPEC_FULL.md-additive `/health/deep` payload.
type deepHealthResponse struct {
	Status    string                        `json:"status"`
	Time      string                        `json:"time"`
	Resources *diagnostics.ResourceSnapshot `json:"resources,omitempty"`
	Trend     *diagnostics.ResourceTrend    `json:"trend,omitempty"`
	Warnings  []diagnostics.HealthWarning   `json:"warnings,omitempty"`
}

func (s *Server) handleDeepHealth(w http.ResponseWriter, r *http.Request) {
	resp := deepHealthResponse{Status: "healthy", Time: time.Now().UTC().Format(time.RFC3339)}

	if s.resourceMonitor != nil {
		snapshot := s.resourceMonitor.TakeSnapshot()
		resp.Resources = &snapshot
		trend := s.resourceMonitor.GetTrend()
		resp.Trend = &trend
		resp.Warnings = s.resourceMonitor.CheckHealth()

		if !trend.IsHealthy {
			resp.Status = "degraded"
		}
		for _, warn := range resp.Warnings {
			switch {
			case warn.Level == "critical":
				resp.Status = "critical"
			case warn.Level == "warning" && resp.Status == "healthy":
				resp.Status = "degraded"
			}
		}
	}

	respondData(w, r, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = s.metrics.WriteText(w)
}
