package httpapi

import (
	"net/http"

	"github.com/torbobase/torbo-base/internal/llm"
)

// dashboardStatus is a summary snapshot for the local dashboard UI: the
// effective access posture, the configured provider chain, and the local
// inference daemon's health, without exposing secrets.
type dashboardStatus struct {
	GlobalAccessLevel string   `json:"globalAccessLevel"`
	AgentCount        int      `json:"agentCount"`
	CallingAgentID    string   `json:"callingAgentId"`
	Providers         []string `json:"providers"`
	LocalDaemon       struct {
		Healthy bool     `json:"healthy"`
		Models  []string `json:"models,omitempty"`
	} `json:"localDaemon"`
}

func (s *Server) handleDashboardStatus(w http.ResponseWriter, r *http.Request) {
	status := dashboardStatus{
		GlobalAccessLevel: s.agents.GlobalLevel().String(),
		AgentCount:        len(s.agents.List()),
		CallingAgentID:    agentIDFrom(r.Context()),
	}
	if mux, ok := s.provider.(*llm.Multiplexer); ok {
		status.Providers = mux.ProviderNames()
	}
	if s.supv != nil && s.supv.Healthy(r.Context()) {
		status.LocalDaemon.Healthy = true
		if models, err := s.supv.FetchModelNames(r.Context()); err == nil {
			status.LocalDaemon.Models = models
		}
	}
	writeJSON(w, http.StatusOK, status)
}
