package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Recipient is one destination of an unlock proposal.
type Recipient struct {
	ID          string          `json:"id"`
	Address     string          `json:"address"`
	Percentage  decimal.Decimal `json:"percentage"`
	TargetAsset string          `json:"target_asset"`
}

// Proposal is a pending plan for splitting a vault's funds among recipients.
type Proposal struct {
	ID              string      `json:"id"`
	VaultID         string      `json:"vault_id"`
	Recipients      []Recipient `json:"recipients"`
	Approvals       []string    `json:"approvals"`
	Threshold       int         `json:"threshold"`
	QuorumReachedAt *time.Time  `json:"quorum_reached_at,omitempty"`
	CreatedBy       string      `json:"created_by,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
	Version         int64       `json:"version"`
}

// HasQuorum reports whether the proposal has ever reached its threshold.
func (p *Proposal) HasQuorum() bool {
	return p.QuorumReachedAt != nil
}

// HasApproved reports whether holder already approved the proposal.
func (p *Proposal) HasApproved(holder string) bool {
	return slices.Contains(p.Approvals, holder)
}

// Expired reports whether the proposal's expiry has passed at now.
func (p *Proposal) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	c := *p
	c.Recipients = slices.Clone(p.Recipients)
	c.Approvals = slices.Clone(p.Approvals)
	if p.QuorumReachedAt != nil {
		t := *p.QuorumReachedAt
		c.QuorumReachedAt = &t
	}
	return &c
}
