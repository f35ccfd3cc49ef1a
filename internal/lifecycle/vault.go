package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/events"
	"github.com/alfredjeanlab/splitvault/internal/idgen"
	"github.com/alfredjeanlab/splitvault/internal/model"
)

// CreateVaultInput describes a new vault.
type CreateVaultInput struct {
	SourceAsset   string        `json:"source_asset"`
	KeyHolders    []string      `json:"key_holders"`
	Threshold     int           `json:"threshold"`
	RefundAddress string        `json:"refund_address,omitempty"`
	TTL           time.Duration `json:"ttl,omitempty"`
	CreatedBy     string        `json:"created_by,omitempty"`
}

// CreateVault creates a vault in status created with no deposits.
func (s *Service) CreateVault(ctx context.Context, in CreateVaultInput) (*model.Vault, error) {
	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.cfg.VaultTTL
	}
	id, err := idgen.NewVaultID()
	if err != nil {
		return nil, fmt.Errorf("generate vault id: %w", err)
	}
	now := s.now()
	v := &model.Vault{
		ID:            id,
		Status:        model.StatusCreated,
		SourceAsset:   strings.ToLower(strings.TrimSpace(in.SourceAsset)),
		TotalDeposits: decimal.Zero,
		RefundAddress: in.RefundAddress,
		Threshold:     in.Threshold,
		KeyHolders:    in.KeyHolders,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := model.ValidateVault(v); err != nil {
		return nil, err
	}
	if err := s.store.CreateVault(ctx, v); err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}
	s.recordAndPublish(ctx, events.TopicVaultCreated, v.ID, v.CreatedBy, events.VaultCreated{Vault: v})
	return v, nil
}

// ActivateDepositAddress attaches the deposit address and opens the vault
// for funding.
func (s *Service) ActivateDepositAddress(ctx context.Context, vaultID, address string) (*model.Vault, error) {
	if strings.TrimSpace(address) == "" {
		return nil, model.NewValidationError("deposit_address", "is required")
	}
	unlock := s.lock(vaultID)
	defer unlock()

	var from model.Status
	v, err := s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
		from = v.Status
		// A first deposit may have opened the vault before the address was
		// activated.
		if v.Status == model.StatusFunding && v.DepositAddress == "" {
			v.DepositAddress = address
			v.UpdatedAt = s.now()
			return nil
		}
		if err := v.Apply(model.TriggerAddressActivated); err != nil {
			return err
		}
		v.DepositAddress = address
		v.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, events.TopicVaultActivated, v.ID, "", from, v.Status, "deposit address activated")
	return v, nil
}

// DepositReport is a running total observed by the deposit source.
type DepositReport struct {
	Total         decimal.Decimal `json:"total"`
	Depositor     string          `json:"depositor,omitempty"`
	RefundAddress string          `json:"refund_address,omitempty"`
}

// ApplyDeposit raises the vault's total to report.Total. Reports at or
// below the current total are ignored, so totals never decrease. The
// increase is attributed to the reporting depositor. The first positive
// deposit opens a created vault; a funding vault whose active proposal
// already holds quorum becomes ready. Totals with more precision than the
// source asset's minimal unit are rejected.
func (s *Service) ApplyDeposit(ctx context.Context, vaultID string, report DepositReport) (*model.Vault, error) {
	if report.Total.IsNegative() {
		return nil, model.NewValidationError("total", "must not be negative, got %s", report.Total)
	}
	unlock := s.lock(vaultID)
	defer unlock()

	v, err := s.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	// A total the routing engine cannot split would strand the vault.
	if d := s.cfg.Decimals(v.SourceAsset); !report.Total.Shift(d).IsInteger() {
		return nil, model.NewValidationError("total", "%s is finer than the minimal unit of %s (1e-%d)", report.Total, v.SourceAsset, d)
	}
	p, err := s.activeProposal(ctx, v)
	if err != nil {
		return nil, err
	}

	var (
		from  model.Status
		delta decimal.Decimal
	)
	updated, err := s.store.UpdateVault(ctx, vaultID, func(v *model.Vault) error {
		from = v.Status
		switch v.Status {
		case model.StatusDestroyed, model.StatusUnlocking:
			return model.ErrExpiryRace
		}
		if !report.Total.GreaterThan(v.TotalDeposits) {
			return errUnchanged
		}
		delta = report.Total.Sub(v.TotalDeposits)
		v.TotalDeposits = report.Total
		v.UpdatedAt = s.now()
		if v.Status == model.StatusCreated {
			if err := v.Apply(model.TriggerFirstDeposit); err != nil {
				return err
			}
		}
		if v.Status == model.StatusFunding && p != nil && p.HasQuorum() {
			return v.Apply(model.TriggerQuorumMet)
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return v, nil
	case errors.Is(err, model.ErrExpiryRace):
		s.logger.Warn("deposit report for closed vault ignored", "vault", vaultID, "status", v.Status, "total", report.Total)
		return v, nil
	case err != nil:
		return nil, err
	}

	if err := s.store.RecordDeposit(ctx, &model.Deposit{
		VaultID:       vaultID,
		Amount:        delta,
		Total:         report.Total,
		Depositor:     report.Depositor,
		RefundAddress: report.RefundAddress,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to record deposit attribution", "vault", vaultID, "error", err)
	}
	s.recordAndPublish(ctx, events.TopicVaultDeposit, vaultID, report.Depositor, events.DepositReceived{
		VaultID:   vaultID,
		Amount:    delta,
		Total:     report.Total,
		Depositor: report.Depositor,
	})
	if from == model.StatusCreated {
		s.transitioned(ctx, events.TopicVaultActivated, vaultID, "", from, model.StatusFunding, "first deposit")
	}
	if updated.Status == model.StatusReady {
		s.transitioned(ctx, events.TopicVaultReady, vaultID, "", model.StatusFunding, model.StatusReady, "deposit with quorum")
	}
	return updated, nil
}
