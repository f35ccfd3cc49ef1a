package server

import (
	"net/http"

	"github.com/alfredjeanlab/splitvault/internal/lifecycle"
	"github.com/alfredjeanlab/splitvault/internal/model"
)

// createProposalRequest is the body of POST /v1/vaults/{id}/proposals.
type createProposalRequest struct {
	Recipients []model.Recipient `json:"recipients"`
	TTL        string            `json:"ttl,omitempty"`
	CreatedBy  string            `json:"created_by,omitempty"`
}

// approvalResponse is returned by POST /v1/proposals/{id}/approvals.
type approvalResponse struct {
	Proposal      *model.Proposal `json:"proposal"`
	Count         int             `json:"count"`
	Threshold     int             `json:"threshold"`
	QuorumReached bool            `json:"quorum_reached"`
	QuorumJustMet bool            `json:"quorum_just_met"`
}

// handleCreateProposal handles POST /v1/vaults/{id}/proposals.
func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	p, err := s.lifecycle.CreateProposal(r.Context(), r.PathValue("id"), lifecycle.CreateProposalInput{
		Recipients: req.Recipients,
		TTL:        ttl,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleGetProposal handles GET /v1/proposals/{id}.
func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.lifecycle.GetProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleApprove handles POST /v1/proposals/{id}/approvals.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HolderID string `json:"holder_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.HolderID == "" {
		writeError(w, http.StatusBadRequest, "holder_id is required")
		return
	}

	res, err := s.lifecycle.Approve(r.Context(), r.PathValue("id"), req.HolderID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalResponse{
		Proposal:      res.Proposal,
		Count:         res.Count,
		Threshold:     res.Threshold,
		QuorumReached: res.Proposal.HasQuorum(),
		QuorumJustMet: res.QuorumJustMet,
	})
}

// handleCancelProposal handles DELETE /v1/proposals/{id}?actor=<holder>.
func (s *Server) handleCancelProposal(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}
	if err := s.lifecycle.CancelProposal(r.Context(), r.PathValue("id"), actor); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
