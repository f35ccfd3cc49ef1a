package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/events"
	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/routing"
)

// DestroyExpired destroys a vault whose expiry has passed. An empty vault is
// destroyed directly. A vault holding deposits is first refunded in its
// source asset: each depositor's attributed share goes to the refund address
// they reported, the rest to the vault's refund address or the configured
// fallback. A ready vault already has an approved split, so it is unlocked
// per that split instead of refunded. Unlocking vaults are left to their
// run, and vaults that are no longer expired or already destroyed are left
// alone.
func (s *Service) DestroyExpired(ctx context.Context, vaultID string, now time.Time) (*model.Vault, error) {
	unlock := s.lock(vaultID)
	v, err := s.store.GetVault(ctx, vaultID)
	if err != nil {
		unlock()
		return nil, err
	}
	switch {
	case v.Status == model.StatusDestroyed,
		v.Status == model.StatusUnlocking,
		!v.Expired(now):
		unlock()
		return v, nil
	case v.Status == model.StatusReady:
		unlock()
		return s.unlockExpired(ctx, vaultID)
	}

	if !v.HasDeposits() {
		defer unlock()
		return s.destroyEmpty(ctx, v, now)
	}

	records, err := s.refundRecords(ctx, v)
	if err != nil {
		unlock()
		return nil, err
	}
	from := v.Status
	staleProposal := v.ActiveProposalID
	v, err = s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
		if err := v.Apply(model.TriggerExpiredRefund); err != nil {
			return err
		}
		v.ActiveProposalID = ""
		v.Run = &model.UnlockRun{
			Generation: nextGeneration(v),
			Reason:     model.ReasonRefund,
			Records:    records,
			StartedAt:  now,
		}
		v.UpdatedAt = now
		return nil
	})
	if err == nil && staleProposal != "" {
		s.deleteStaleProposal(ctx, vaultID, staleProposal)
	}
	unlock()
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, events.TopicVaultUnlocking, vaultID, "", from, model.StatusUnlocking, "expired with deposits, refunding")
	return s.drive(ctx, v)
}

// unlockExpired executes the approved unlock of an expired ready vault. The
// vault may have moved on between the two gate acquisitions; that is not an
// error.
func (s *Service) unlockExpired(ctx context.Context, vaultID string) (*model.Vault, error) {
	s.logger.Info("expired vault is ready, executing approved unlock", "vault", vaultID)
	v, err := s.ExecuteUnlock(ctx, vaultID)
	var te *model.TransitionError
	if errors.As(err, &te) {
		return s.store.GetVault(ctx, vaultID)
	}
	return v, err
}

// destroyEmpty destroys a vault with no deposits. The routing engine is not
// involved. The caller holds the vault gate.
func (s *Service) destroyEmpty(ctx context.Context, v *model.Vault, now time.Time) (*model.Vault, error) {
	staleProposal := v.ActiveProposalID
	var summary *model.DestructionSummary
	v, err := s.store.UpdateVault(ctx, v.ID, func(v *model.Vault) error {
		if err := v.Apply(model.TriggerExpiredEmpty); err != nil {
			return err
		}
		summary = model.Summarize(v, nil, now)
		v.Summary = summary
		v.DestroyedAt = &now
		v.UpdatedAt = now
		clearSensitive(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if staleProposal != "" {
		s.deleteStaleProposal(ctx, v.ID, staleProposal)
	}
	s.recordAndPublish(ctx, events.TopicVaultDestroyed, v.ID, "", events.VaultDestroyed{VaultID: v.ID, Summary: summary})
	s.logger.Info("expired vault destroyed", "vault", v.ID, "reason", summary.Reason)
	return v, nil
}

func (s *Service) deleteStaleProposal(ctx context.Context, vaultID, proposalID string) {
	if err := s.store.DeleteProposal(ctx, proposalID); err != nil && !errors.Is(err, model.ErrNotFound) {
		s.logger.Warn("failed to delete proposal of expired vault", "vault", vaultID, "proposal", proposalID, "error", err)
	}
}

// refundRecords splits the vault's deposits back to their sources.
func (s *Service) refundRecords(ctx context.Context, v *model.Vault) ([]model.RecipientRecord, error) {
	deposits, err := s.store.GetDeposits(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("load deposits of vault %s: %w", v.ID, err)
	}

	var (
		addrs      []string
		weights    []decimal.Decimal
		index      = map[string]int{}
		attributed = decimal.Zero
	)
	add := func(addr string, amount decimal.Decimal) {
		i, ok := index[addr]
		if !ok {
			i = len(addrs)
			index[addr] = i
			addrs = append(addrs, addr)
			weights = append(weights, decimal.Zero)
		}
		weights[i] = weights[i].Add(amount)
	}
	for _, d := range deposits {
		if d.RefundAddress == "" || !d.Amount.IsPositive() {
			continue
		}
		add(d.RefundAddress, d.Amount)
		attributed = attributed.Add(d.Amount)
	}
	if rest := v.TotalDeposits.Sub(attributed); rest.IsPositive() {
		fallback := v.RefundAddress
		if fallback == "" {
			fallback = s.cfg.FallbackRefundAddress
		}
		if fallback == "" {
			return nil, fmt.Errorf("vault %s: %s unattributed: %w", v.ID, rest, ErrNoRefundDestination)
		}
		add(fallback, rest)
	}

	amounts, err := routing.Split(v.TotalDeposits, weights, s.cfg.Decimals(v.SourceAsset))
	if err != nil {
		return nil, err
	}
	records := make([]model.RecipientRecord, 0, len(addrs))
	for i, addr := range addrs {
		if amounts[i].IsZero() {
			continue
		}
		records = append(records, model.RecipientRecord{
			RecipientID: fmt.Sprintf("refund-%d", len(records)+1),
			Address:     addr,
			Amount:      amounts[i],
			TargetAsset: v.SourceAsset,
			Kind:        model.TransferDirect,
			Status:      model.RecordPending,
		})
	}
	return records, nil
}
