package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/torbobase/torbo-base/internal/pairing"
)

// requestCodeResponse is returned by POST /v1/pairing/code: a fresh
// 6-character pairing code for the operator to read off the host's own
// display and type into the client device. This is an already-authenticated
// operator action (requested from the dashboard by a device that has
// already paired), distinct from POST /pair/auth, which validates a backend
// auth token for a device that has not yet paired at all.
type requestCodeResponse struct {
	Code          string `json:"code"`
	ExpiresInSecs int    `json:"expiresInSeconds"`
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.pairingMgr.RequestCode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, requestCodeResponse{Code: code, ExpiresInSecs: 300})
}

// pairInfoResponse is returned by the public GET /pair/info: enough for a
// waiting client to know whether it should prompt the user for a pairing
// code right now, without revealing the code itself.
type pairInfoResponse struct {
	PairingActive bool `json:"pairingActive"`
}

func (s *Server) handlePairInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pairInfoResponse{PairingActive: s.pairingMgr.IsPairingActive()})
}

type pairAuthRequest struct {
	AuthToken  string `json:"authToken"`
	DeviceName string `json:"deviceName"`
}

// handlePairAuth implements POST /pair/auth: validate authToken against the
// linked backend account and, on success, issue a device token for
// deviceName — the "already signed in elsewhere" pairing path, as opposed
// to POST /pair's code-based path.
func (s *Server) handlePairAuth(w http.ResponseWriter, r *http.Request) {
	var req pairAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := s.pairingMgr.AuthenticateBackend(req.AuthToken, req.DeviceName)
	if err != nil {
		switch err {
		case pairing.ErrNoLinkedAccount, pairing.ErrAuthTokenMismatch:
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{DeviceID: device.ID, Token: device.Token})
}

type pairRequest struct {
	Code       string `json:"code"`
	DeviceName string `json:"deviceName"`
}

type pairResponse struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := s.pairingMgr.Pair(req.Code, req.DeviceName)
	if err != nil {
		switch err {
		case pairing.ErrNoActiveCode, pairing.ErrCodeMismatch, pairing.ErrCodeExpired:
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{DeviceID: device.ID, Token: device.Token})
}

type pairAutoRequest struct {
	DeviceName string `json:"deviceName"`
}

func (s *Server) handlePairAuto(w http.ResponseWriter, r *http.Request) {
	var req pairAutoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := s.pairingMgr.AutoPair(req.DeviceName, r.RemoteAddr)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{DeviceID: device.ID, Token: device.Token})
}
