package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Vault is a pooled-deposit custody record guarded by a key-holder quorum.
type Vault struct {
	ID               string          `json:"id"`
	Status           Status          `json:"status"`
	SourceAsset      string          `json:"source_asset"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	DepositAddress   string          `json:"deposit_address,omitempty"`
	RefundAddress    string          `json:"refund_address,omitempty"`
	Threshold        int             `json:"threshold"`
	KeyHolders       []string        `json:"key_holders,omitempty"`
	ActiveProposalID string          `json:"active_proposal_id,omitempty"`
	CreatedBy        string          `json:"created_by,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	DestroyedAt      *time.Time      `json:"destroyed_at,omitempty"`

	// Run is set while the vault is unlocking.
	Run *UnlockRun `json:"run,omitempty"`
	// Summary is set once, when the vault is destroyed.
	Summary *DestructionSummary `json:"summary,omitempty"`

	// Version increments on every persisted update.
	Version int64 `json:"version"`
}

// IsKeyHolder reports whether holder is one of the vault's key holders.
func (v *Vault) IsKeyHolder(holder string) bool {
	return slices.Contains(v.KeyHolders, holder)
}

// HasDeposits reports whether any funds have been credited to the vault.
func (v *Vault) HasDeposits() bool {
	return v.TotalDeposits.IsPositive()
}

// Expired reports whether the vault's expiry has passed at now.
func (v *Vault) Expired(now time.Time) bool {
	return !v.ExpiresAt.After(now)
}

// Apply moves the vault along the transition table. The status is left
// unchanged on error.
func (v *Vault) Apply(ev Trigger) error {
	to, err := Transition(v.Status, ev)
	if err != nil {
		return err
	}
	v.Status = to
	return nil
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	c := *v
	c.KeyHolders = slices.Clone(v.KeyHolders)
	if v.DestroyedAt != nil {
		t := *v.DestroyedAt
		c.DestroyedAt = &t
	}
	c.Run = v.Run.Clone()
	c.Summary = v.Summary.Clone()
	return &c
}

// VaultFilter narrows ListVaults results.
type VaultFilter struct {
	Status []Status
	Limit  int
	Offset int
}

// Matches reports whether v satisfies the status part of the filter.
func (f VaultFilter) Matches(v *Vault) bool {
	return len(f.Status) == 0 || slices.Contains(f.Status, v.Status)
}
