package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/approval"
	"github.com/alfredjeanlab/splitvault/internal/events"
	"github.com/alfredjeanlab/splitvault/internal/idgen"
	"github.com/alfredjeanlab/splitvault/internal/model"
)

// CreateProposalInput describes an unlock split.
type CreateProposalInput struct {
	Recipients []model.Recipient `json:"recipients"`
	TTL        time.Duration     `json:"ttl,omitempty"`
	CreatedBy  string            `json:"created_by,omitempty"`
}

// CreateProposal attaches a new unlock proposal to a funding vault. A vault
// has at most one active proposal.
func (s *Service) CreateProposal(ctx context.Context, vaultID string, in CreateProposalInput) (*model.Proposal, error) {
	recipients := make([]model.Recipient, len(in.Recipients))
	for i, r := range in.Recipients {
		r.TargetAsset = strings.ToLower(strings.TrimSpace(r.TargetAsset))
		recipients[i] = r
	}
	if err := model.ValidateRecipients(recipients); err != nil {
		return nil, err
	}

	unlock := s.lock(vaultID)
	defer unlock()

	v, err := s.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if v.Status != model.StatusFunding {
		return nil, model.NewValidationError("status", "proposals can only be created while the vault is funding, vault is %s", v.Status)
	}
	active, err := s.activeProposal(ctx, v)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, model.NewValidationError("active_proposal_id", "vault already has active proposal %s", active.ID)
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.cfg.ProposalTTL
	}
	id, err := idgen.NewProposalID()
	if err != nil {
		return nil, fmt.Errorf("generate proposal id: %w", err)
	}
	now := s.now()
	p := &model.Proposal{
		ID:         id,
		VaultID:    vaultID,
		Recipients: recipients,
		Approvals:  []string{},
		Threshold:  v.Threshold,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.store.CreateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("create proposal: %w", err)
	}
	if _, err := s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
		v.ActiveProposalID = p.ID
		v.UpdatedAt = now
		return nil
	}); err != nil {
		if derr := s.store.DeleteProposal(ctx, p.ID); derr != nil {
			s.logger.Warn("failed to remove orphaned proposal", "proposal", p.ID, "error", derr)
		}
		return nil, fmt.Errorf("attach proposal to vault %s: %w", vaultID, err)
	}
	s.recordAndPublish(ctx, events.TopicProposalCreated, vaultID, in.CreatedBy, events.ProposalCreated{Proposal: p})
	return p, nil
}

// Approve records holderID's approval. When this approval is the one that
// reaches the threshold and the vault holds deposits, the vault becomes
// ready. Without deposits it stays funding until the first deposit arrives.
func (s *Service) Approve(ctx context.Context, proposalID, holderID string) (approval.Result, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return approval.Result{}, err
	}
	unlock := s.lock(p.VaultID)
	defer unlock()

	res, err := s.approvals.RecordApproval(ctx, proposalID, holderID)
	if err != nil {
		return approval.Result{}, err
	}
	s.recordAndPublish(ctx, events.TopicProposalApproved, p.VaultID, holderID, events.ProposalApproved{
		ProposalID: proposalID,
		VaultID:    p.VaultID,
		HolderID:   holderID,
		Count:      res.Count,
		Threshold:  res.Threshold,
		QuorumMet:  res.QuorumJustMet,
	})
	if !res.QuorumJustMet {
		return res, nil
	}

	v, err := s.store.UpdateVault(ctx, p.VaultID, func(v *model.Vault) error {
		if v.ActiveProposalID != proposalID || v.Status != model.StatusFunding || !v.HasDeposits() {
			return errUnchanged
		}
		v.UpdatedAt = s.now()
		return v.Apply(model.TriggerQuorumMet)
	})
	switch {
	case errors.Is(err, errUnchanged):
		return res, nil
	case err != nil:
		return res, fmt.Errorf("mark vault %s ready: %w", p.VaultID, err)
	}
	s.transitioned(ctx, events.TopicVaultReady, v.ID, holderID, model.StatusFunding, v.Status, "quorum met")
	return res, nil
}

// CancelProposal deletes a proposal that has not started executing. Only a
// key holder or the proposal's creator may cancel. A ready vault falls back
// to funding.
func (s *Service) CancelProposal(ctx context.Context, proposalID, actor string) error {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	unlock := s.lock(p.VaultID)
	defer unlock()

	v, err := s.store.GetVault(ctx, p.VaultID)
	if err != nil {
		return err
	}
	if actor != "" && actor != p.CreatedBy && !v.IsKeyHolder(actor) {
		return &model.UnauthorizedHolderError{VaultID: v.ID, HolderID: actor}
	}
	if v.Status == model.StatusUnlocking || v.Status == model.StatusDestroyed {
		return &model.TransitionError{From: v.Status, Trigger: model.TriggerProposalDeleted}
	}
	if err := s.store.DeleteProposal(ctx, proposalID); err != nil {
		return err
	}
	from, to, err := s.detachProposal(ctx, p.VaultID, proposalID)
	if err != nil {
		return err
	}
	s.recordAndPublish(ctx, events.TopicProposalCancelled, p.VaultID, actor, events.ProposalClosed{
		ProposalID: proposalID, VaultID: p.VaultID, Actor: actor,
	})
	s.transitioned(ctx, events.TopicVaultReopened, p.VaultID, actor, from, to, "proposal cancelled")
	return nil
}

// ExpireProposal deletes an expired proposal that is still below quorum.
// It reports false without changing anything when the proposal has since
// reached quorum, is not yet expired, is gone, or its vault is ready or
// unlocking.
func (s *Service) ExpireProposal(ctx context.Context, proposalID string, now time.Time) (bool, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	unlock := s.lock(p.VaultID)
	defer unlock()

	// Re-read under the gate: an approval may have landed in between.
	p, err = s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.HasQuorum() || !p.Expired(now) {
		return false, nil
	}
	v, err := s.store.GetVault(ctx, p.VaultID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return false, err
	}
	if v != nil && (v.Status == model.StatusReady || v.Status == model.StatusUnlocking) {
		return false, nil
	}

	if err := s.store.DeleteProposal(ctx, proposalID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if v != nil {
		if _, _, err := s.detachProposal(ctx, p.VaultID, proposalID); err != nil && !errors.Is(err, model.ErrNotFound) {
			return true, err
		}
	}
	s.recordAndPublish(ctx, events.TopicProposalExpired, p.VaultID, "", events.ProposalClosed{
		ProposalID: proposalID, VaultID: p.VaultID,
	})
	return true, nil
}

// detachProposal clears the vault's reference to a deleted proposal and
// moves a ready vault back to funding. The caller holds the vault gate.
func (s *Service) detachProposal(ctx context.Context, vaultID, proposalID string) (from, to model.Status, err error) {
	v, err := s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
		from = v.Status
		if v.ActiveProposalID != proposalID {
			return errUnchanged
		}
		v.ActiveProposalID = ""
		v.UpdatedAt = s.now()
		if v.Status == model.StatusReady {
			return v.Apply(model.TriggerProposalDeleted)
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return from, from, nil
	}
	if err != nil {
		return from, from, err
	}
	return from, v.Status, nil
}
