package server

import (
	"encoding/json"
	"net/http"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/vaults", s.handleCreateVault)
	mux.HandleFunc("GET /v1/vaults", s.handleListVaults)
	mux.HandleFunc("GET /v1/vaults/{id}", s.handleGetVault)
	mux.HandleFunc("POST /v1/vaults/{id}/activate", s.handleActivateVault)
	mux.HandleFunc("POST /v1/vaults/{id}/deposits", s.handleApplyDeposit)
	mux.HandleFunc("GET /v1/vaults/{id}/deposits", s.handleGetDeposits)
	mux.HandleFunc("POST /v1/vaults/{id}/proposals", s.handleCreateProposal)
	mux.HandleFunc("POST /v1/vaults/{id}/unlock", s.handleExecuteUnlock)
	mux.HandleFunc("POST /v1/vaults/{id}/unlock/resume", s.handleResumeUnlock)
	mux.HandleFunc("GET /v1/vaults/{id}/events", s.handleGetEvents)
	mux.HandleFunc("GET /v1/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("POST /v1/proposals/{id}/approvals", s.handleApprove)
	mux.HandleFunc("DELETE /v1/proposals/{id}", s.handleCancelProposal)
	mux.HandleFunc("GET /v1/shifts/{id}", s.handleGetShift)
	mux.HandleFunc("POST /v1/sweep", s.handleSweep)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes the JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return inputError("invalid JSON body: " + err.Error())
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
