package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"gopkg.in/yaml.v3"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfgLoader.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// A full settings replacement re-serializes the body as YAML and goes
	// through Apply's validate-then-swap path directly; a partial body
	// (missing required top-level keys like "agents") is instead merged
	// onto the current settings via ApplyPartial.
	var probe map[string]interface{}
	if err := json.Unmarshal(body, &probe); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, hasAgents := probe["agents"]; hasAgents {
		yamlBody, err := yaml.Marshal(probe)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to re-encode settings")
			return
		}
		if err := s.cfgLoader.Apply(yamlBody); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	} else if err := s.cfgLoader.ApplyPartial(probe); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.cfgLoader.Settings())
}

// maskedKeySuffixLen is how many trailing characters of an API key are shown
// unmasked so an operator can tell keys apart without exposing them.
const maskedKeySuffixLen = 4

func maskKey(k string) string {
	if len(k) <= maskedKeySuffixLen {
		return "****"
	}
	return "****" + k[len(k)-maskedKeySuffixLen:]
}

func (s *Server) handleGetAPIKeys(w http.ResponseWriter, r *http.Request) {
	// API keys live in the encrypted pairing keychain, not the settings
	// file: they are secrets, not configuration, and must never appear in
	// the settings YAML an operator might back up unencrypted.
	keys, err := s.pairingKeys()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	masked := make(map[string]string, len(keys))
	for provider, key := range keys {
		masked[provider] = maskKey(key)
	}
	writeJSON(w, http.StatusOK, masked)
}

func (s *Server) pairingKeys() (map[string]string, error) {
	return s.secretStore.APIKeys()
}

func (s *Server) setPairingKeys(keys map[string]string) error {
	return s.secretStore.SetAPIKeys(keys)
}

func (s *Server) handlePutAPIKeys(w http.ResponseWriter, r *http.Request) {
	var keys map[string]string
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.setPairingKeys(keys); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
