package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/splitvault/internal/events"
	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/routing"
	"github.com/alfredjeanlab/splitvault/internal/swap"
)

// errRunOpen aborts the destroy step while some records are still pending.
var errRunOpen = errors.New("unlock run has pending records")

// ExecuteUnlock routes a ready vault's funds per its approved proposal and
// destroys the vault once every recipient record is terminal. It returns
// the vault as it stands afterwards: destroyed on completion, still
// unlocking if ctx ended first (ResumeUnlock continues from there).
func (s *Service) ExecuteUnlock(ctx context.Context, vaultID string) (*model.Vault, error) {
	unlock := s.lock(vaultID)
	v, err := s.store.GetVault(ctx, vaultID)
	if err != nil {
		unlock()
		return nil, err
	}
	if v.Status != model.StatusReady {
		unlock()
		return nil, &model.TransitionError{From: v.Status, Trigger: model.TriggerUnlockTriggered}
	}
	p, err := s.activeProposal(ctx, v)
	if err != nil {
		unlock()
		return nil, err
	}
	if p == nil || !p.HasQuorum() {
		unlock()
		return nil, model.NewValidationError("active_proposal_id", "vault %s has no approved proposal", vaultID)
	}
	allocs, err := routing.ComputeAllocations(v.TotalDeposits, p.Recipients, s.cfg.Decimals(v.SourceAsset))
	if err != nil {
		unlock()
		return nil, err
	}
	records := make([]model.RecipientRecord, len(p.Recipients))
	for i, r := range p.Recipients {
		records[i] = model.RecipientRecord{
			RecipientID: r.ID,
			Address:     r.Address,
			Amount:      allocs[i].Amount,
			TargetAsset: r.TargetAsset,
			Kind:        routing.KindFor(v.SourceAsset, r.TargetAsset),
			Status:      model.RecordPending,
		}
	}

	v, err = s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
		if err := v.Apply(model.TriggerUnlockTriggered); err != nil {
			return err
		}
		v.Run = &model.UnlockRun{
			ProposalID: p.ID,
			Generation: nextGeneration(v),
			Reason:     model.ReasonUnlock,
			Records:    records,
			StartedAt:  s.now(),
		}
		v.UpdatedAt = s.now()
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, events.TopicVaultUnlocking, vaultID, "", model.StatusReady, model.StatusUnlocking, "unlock triggered")
	return s.drive(ctx, v)
}

// ResumeUnlock re-drives the pending records of an unlocking vault under a
// new run generation. Completions still in flight from the previous run are
// discarded when they land.
func (s *Service) ResumeUnlock(ctx context.Context, vaultID string) (*model.Vault, error) {
	unlock := s.lock(vaultID)
	v, err := s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
		if v.Status != model.StatusUnlocking || v.Run == nil {
			return &model.TransitionError{From: v.Status, Trigger: model.TriggerUnlockTriggered}
		}
		v.Run.Generation++
		v.UpdatedAt = s.now()
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}
	s.logger.Info("resuming unlock", "vault", vaultID, "generation", v.Run.Generation)
	return s.drive(ctx, v)
}

func nextGeneration(v *model.Vault) int64 {
	if v.Run != nil {
		return v.Run.Generation + 1
	}
	return 1
}

// drive executes the vault's current run outside the gate and then tries to
// destroy the vault.
func (s *Service) drive(ctx context.Context, v *model.Vault) (*model.Vault, error) {
	run := v.Run
	plan := routing.Plan{
		VaultID:     v.ID,
		ProposalID:  run.ProposalID,
		Generation:  run.Generation,
		SourceAsset: v.SourceAsset,
		Records:     run.Records,
	}
	s.router.Execute(ctx, plan, s.applyRecord(v.ID))

	final, err := s.finish(ctx, v.ID, run.Generation)
	switch {
	case errors.Is(err, errRunOpen):
		return s.store.GetVault(context.WithoutCancel(ctx), v.ID)
	case errors.Is(err, model.ErrExpiryRace):
		s.logger.Info("unlock run superseded", "vault", v.ID, "generation", run.Generation)
		return s.store.GetVault(context.WithoutCancel(ctx), v.ID)
	case err != nil:
		return nil, err
	}
	return final, nil
}

// applyRecord returns the completion handler for one run: it re-acquires the
// vault gate and writes the record, unless the run has been superseded or
// the vault destroyed.
func (s *Service) applyRecord(vaultID string) routing.ApplyFunc {
	return func(ctx context.Context, generation int64, rec model.RecipientRecord) error {
		ctx = context.WithoutCancel(ctx)
		unlock := s.lock(vaultID)
		defer unlock()

		var proposalID string
		_, err := s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
			if v.Status != model.StatusUnlocking || v.Run == nil || v.Run.Generation != generation {
				return model.ErrExpiryRace
			}
			cur := v.Run.Record(rec.RecipientID)
			if cur == nil {
				return model.ErrExpiryRace
			}
			if cur.IsTerminal() {
				return errUnchanged
			}
			*cur = rec
			proposalID = v.Run.ProposalID
			v.UpdatedAt = s.now()
			return nil
		})
		switch {
		case errors.Is(err, model.ErrNotFound):
			return model.ErrExpiryRace
		case errors.Is(err, errUnchanged):
			return nil
		case err != nil:
			return err
		}

		if rec.IsTerminal() {
			topic := events.TopicRecipientSubmitted
			if rec.Status == model.RecordFailed {
				topic = events.TopicRecipientFailed
			}
			s.recordAndPublish(ctx, topic, vaultID, "", events.RecipientRouted{
				VaultID:     vaultID,
				ProposalID:  proposalID,
				RecipientID: rec.RecipientID,
				Amount:      rec.Amount,
				TargetAsset: rec.TargetAsset,
				Kind:        rec.Kind,
				Status:      rec.Status,
				Attempts:    rec.Attempts,
				ShiftID:     rec.ShiftID,
				Degraded:    rec.Degraded,
				Error:       rec.LastError,
			})
		}
		return nil
	}
}

// finish destroys the vault if generation is still the current run and all
// its records are terminal.
func (s *Service) finish(ctx context.Context, vaultID string, generation int64) (*model.Vault, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := s.lock(vaultID)
	defer unlock()

	var summary *model.DestructionSummary
	v, err := s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
		if v.Status != model.StatusUnlocking || v.Run == nil || v.Run.Generation != generation {
			return model.ErrExpiryRace
		}
		if !v.Run.AllTerminal() {
			return errRunOpen
		}
		now := s.now()
		summary = model.Summarize(v, v.Run, now)
		if err := v.Apply(model.TriggerRecipientsTerminal); err != nil {
			return err
		}
		v.TotalDeposits = v.TotalDeposits.Sub(summary.TotalRouted)
		v.Summary = summary
		v.DestroyedAt = &now
		v.UpdatedAt = now
		clearSensitive(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if summary.ProposalID != "" {
		if err := s.store.DeleteProposal(ctx, summary.ProposalID); err != nil && !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("failed to delete executed proposal", "vault", vaultID, "proposal", summary.ProposalID, "error", err)
		}
	}
	if len(summary.FailedRecipients) > 0 {
		s.logger.Error("vault destroyed with failed recipients, manual remediation required",
			"vault", vaultID, "failed", summary.FailedRecipients)
	}
	if summary.Reason == model.ReasonRefund {
		s.recordAndPublish(ctx, events.TopicVaultRefunded, vaultID, "", events.VaultDestroyed{VaultID: vaultID, Summary: summary})
	}
	s.recordAndPublish(ctx, events.TopicVaultDestroyed, vaultID, "", events.VaultDestroyed{VaultID: vaultID, Summary: summary})
	s.logger.Info("vault destroyed", "vault", vaultID, "reason", summary.Reason, "routed", summary.TotalRouted.String())
	return v, nil
}

// ShiftStatus looks up a swap by provider id.
func (s *Service) ShiftStatus(ctx context.Context, shiftID string) (*swap.Shift, error) {
	sh, err := s.router.Provider().GetShiftStatus(ctx, shiftID)
	if err != nil {
		return nil, fmt.Errorf("shift %s: %w", shiftID, err)
	}
	return sh, nil
}
