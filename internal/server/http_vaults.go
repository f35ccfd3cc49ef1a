package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/lifecycle"
	"github.com/alfredjeanlab/splitvault/internal/model"
)

// createVaultRequest is the body of POST /v1/vaults.
type createVaultRequest struct {
	SourceAsset   string   `json:"source_asset"`
	KeyHolders    []string `json:"key_holders"`
	Threshold     int      `json:"threshold"`
	RefundAddress string   `json:"refund_address,omitempty"`
	TTL           string   `json:"ttl,omitempty"`
	CreatedBy     string   `json:"created_by,omitempty"`
}

// parseTTL parses an optional duration such as "72h". Empty means the
// service default.
func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, inputError("ttl must be a positive duration such as \"72h\"")
	}
	return d, nil
}

// handleCreateVault handles POST /v1/vaults.
func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ttl, err := parseTTL(req.TTL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	v, err := s.lifecycle.CreateVault(r.Context(), lifecycle.CreateVaultInput{
		SourceAsset:   req.SourceAsset,
		KeyHolders:    req.KeyHolders,
		Threshold:     req.Threshold,
		RefundAddress: req.RefundAddress,
		TTL:           ttl,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// handleListVaults handles GET /v1/vaults.
func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.VaultFilter
	if v := q.Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			status := model.Status(strings.TrimSpace(st))
			if !status.IsValid() {
				writeError(w, http.StatusBadRequest, "unknown status "+string(status))
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	vaults, err := s.lifecycle.ListVaults(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Ensure vaults is never null in JSON output.
	if vaults == nil {
		vaults = []*model.Vault{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaults": vaults})
}

// handleGetVault handles GET /v1/vaults/{id}.
func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	v, err := s.lifecycle.GetVault(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleActivateVault handles POST /v1/vaults/{id}/activate.
func (s *Server) handleActivateVault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DepositAddress string `json:"deposit_address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	v, err := s.lifecycle.ActivateDepositAddress(r.Context(), r.PathValue("id"), req.DepositAddress)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleApplyDeposit handles POST /v1/vaults/{id}/deposits. The body carries
// the cumulative total observed on chain, not an increment.
func (s *Server) handleApplyDeposit(w http.ResponseWriter, r *http.Request) {
	var report lifecycle.DepositReport
	if err := decodeBody(r, &report); err != nil {
		writeServiceError(w, r, err)
		return
	}
	v, err := s.lifecycle.ApplyDeposit(r.Context(), r.PathValue("id"), report)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleGetDeposits handles GET /v1/vaults/{id}/deposits.
func (s *Server) handleGetDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := s.lifecycle.GetDeposits(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if deposits == nil {
		deposits = []*model.Deposit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": deposits})
}

// handleExecuteUnlock handles POST /v1/vaults/{id}/unlock. Routing runs to
// completion even if the client goes away; a dropped connection must not
// leave payouts half-submitted.
func (s *Server) handleExecuteUnlock(w http.ResponseWriter, r *http.Request) {
	v, err := s.lifecycle.ExecuteUnlock(context.WithoutCancel(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleResumeUnlock handles POST /v1/vaults/{id}/unlock/resume.
func (s *Server) handleResumeUnlock(w http.ResponseWriter, r *http.Request) {
	v, err := s.lifecycle.ResumeUnlock(context.WithoutCancel(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleGetEvents handles GET /v1/vaults/{id}/events.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	evts, err := s.lifecycle.GetEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if evts == nil {
		evts = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}
