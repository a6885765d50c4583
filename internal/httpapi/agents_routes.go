package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/torbobase/torbo-base/internal/access"
	"github.com/torbobase/torbo-base/internal/config"
)

// agentView is the JSON shape returned for an agent, mirroring
// config.AgentSettings.
type agentView struct {
	ID                  string          `json:"id"`
	Role                string          `json:"role"`
	Personality         string          `json:"personality"`
	AccessLevel         string          `json:"accessLevel"`
	DirectoryScopes     []string        `json:"directoryScopes"`
	EnabledCapabilities map[string]bool `json:"enabledCapabilities"`
	VIP                 bool            `json:"vip"`
}

func toAgentView(a *access.Agent) agentView {
	caps := make(map[string]bool, len(a.EnabledCapabilities))
	for k, v := range a.EnabledCapabilities {
		caps[string(k)] = v
	}
	return agentView{
		ID:                  a.ID,
		Role:                a.Role,
		Personality:         a.Personality,
		AccessLevel:         a.AccessLevel.String(),
		DirectoryScopes:     a.DirectoryScopes,
		EnabledCapabilities: caps,
		VIP:                 a.VIP,
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.agents.List()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentView(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var view agentView
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	view.ID = id

	level, err := access.ParseLevel(view.AccessLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caps := make(map[access.Category]bool, len(view.EnabledCapabilities))
	for k, v := range view.EnabledCapabilities {
		caps[access.Category(k)] = v
	}

	s.agents.Put(&access.Agent{
		ID:                  id,
		Role:                view.Role,
		Personality:         view.Personality,
		AccessLevel:         level,
		DirectoryScopes:     view.DirectoryScopes,
		EnabledCapabilities: caps,
		VIP:                 view.VIP,
	})
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == config.DefaultPrimaryAgentID {
		writeError(w, http.StatusForbidden, "the built-in primary agent cannot be deleted")
		return
	}
	if !s.agents.Delete(id) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
