package httpapi

import (
	"net/http"
	"strconv"

	"github.com/torbobase/torbo-base/internal/audit"
)

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	page, err := s.auditLog.Page(r.Context(), audit.Query{
		Limit:       limit,
		Offset:      offset,
		PathFilter:  q.Get("pathFilter"),
		GrantedOnly: q.Get("grantedOnly") == "true",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": page})
}
