package httpapi

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("failed to encode response body", "error", err)
	}
}

type healthResponse struct {
	Status   string   `json:"status"`
	Features Features `json:"features"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Features: s.cfg.Features})
}

type statusResponse struct {
	QualityState string   `json:"quality_state"`
	Preset       any      `json:"preset"`
	TimeInState  float64  `json:"time_in_state"`
	Features     Features `json:"features"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Loop.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		QualityState: snap.CurrentState.String(),
		Preset:       snap.Preset,
		TimeInState:  snap.TimeInState.Seconds(),
		Features:     s.cfg.Features,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Loop.Snapshot()
	writeJSON(w, http.StatusOK, snap.Aggregated.NetworkMetrics())
}

func (s *Server) handleAggregatedMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Loop.Snapshot()
	writeJSON(w, http.StatusOK, snap.Aggregated)
}

func (s *Server) handleIngestStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Poller == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Poller.Health())
}

type retryStatusResponse struct {
	Downgrade map[string]int `json:"downgrade_counters"`
	Upgrade   map[string]int `json:"upgrade_counters"`
}

func (s *Server) handleRetryStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Retry == nil {
		writeJSON(w, http.StatusOK, retryStatusResponse{})
		return
	}
	down, up := s.cfg.Retry.Counters()
	resp := retryStatusResponse{Downgrade: map[string]int{}, Upgrade: map[string]int{}}
	for state, count := range down {
		resp.Downgrade[state.String()] = count
	}
	for state, count := range up {
		resp.Upgrade[state.String()] = count
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Loop.ResetRetryCounters(r.Context()); err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
