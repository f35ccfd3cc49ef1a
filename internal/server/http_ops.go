package server

import (
	"net/http"
)

// handleGetShift handles GET /v1/shifts/{id}.
func (s *Server) handleGetShift(w http.ResponseWriter, r *http.Request) {
	sh, err := s.lifecycle.ShiftStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// handleSweep handles POST /v1/sweep by running one expiry pass now.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.sweeper.SweepOnce(r.Context(), s.now()))
}
