// Package approval tracks key-holder approvals on unlock proposals and
// detects the moment a proposal reaches its vault's threshold.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/store"
)

// Result is the outcome of recording one approval.
type Result struct {
	Proposal  *model.Proposal
	Count     int
	Threshold int
	// QuorumJustMet is true only for the call that moved the proposal from
	// below threshold to at-or-above it.
	QuorumJustMet bool
}

// Engine records approvals against the store.
type Engine struct {
	store store.Store
	now   func() time.Time
}

// NewEngine returns an approval engine backed by s.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// RecordApproval adds holderID to the proposal's approvals. Approving twice is
// a no-op. The threshold crossing is decided inside the store's atomic
// update, so exactly one of any number of racing callers sees
// QuorumJustMet.
func (e *Engine) RecordApproval(ctx context.Context, proposalID, holderID string) (Result, error) {
	p, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return Result{}, err
	}
	v, err := e.store.GetVault(ctx, p.VaultID)
	if err != nil {
		return Result{}, fmt.Errorf("load vault of proposal %s: %w", proposalID, err)
	}
	if !v.IsKeyHolder(holderID) {
		return Result{}, &model.UnauthorizedHolderError{VaultID: v.ID, HolderID: holderID}
	}

	var res Result
	updated, err := e.store.UpdateProposal(ctx, proposalID, func(p *model.Proposal) error {
		// Reset on every attempt; the store may re-run the mutator.
		res = Result{Threshold: v.Threshold}
		if !p.HasApproved(holderID) {
			p.Approvals = append(p.Approvals, holderID)
		}
		if !p.HasQuorum() && len(p.Approvals) >= v.Threshold {
			now := e.now()
			p.QuorumReachedAt = &now
			res.QuorumJustMet = true
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Proposal = updated
	res.Count = len(updated.Approvals)
	return res, nil
}

// Status reports the current approval count of a proposal without changing it.
func (e *Engine) Status(ctx context.Context, proposalID string) (count int, quorum bool, err error) {
	p, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return 0, false, err
	}
	return len(p.Approvals), p.HasQuorum(), nil
}
