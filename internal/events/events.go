package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/model"
)

// Event topic constants
const (
	TopicVaultCreated   = "splitvault.vault.created"
	TopicVaultActivated = "splitvault.vault.activated"
	TopicVaultDeposit   = "splitvault.vault.deposit"
	TopicVaultReady     = "splitvault.vault.ready"
	TopicVaultReopened  = "splitvault.vault.reopened"
	TopicVaultUnlocking = "splitvault.vault.unlocking"
	TopicVaultDestroyed = "splitvault.vault.destroyed"
	TopicVaultRefunded  = "splitvault.vault.refunded"

	TopicProposalCreated   = "splitvault.proposal.created"
	TopicProposalApproved  = "splitvault.proposal.approved"
	TopicProposalCancelled = "splitvault.proposal.cancelled"
	TopicProposalExpired   = "splitvault.proposal.expired"

	TopicRecipientSubmitted = "splitvault.recipient.submitted"
	TopicRecipientFailed    = "splitvault.recipient.failed"

	// Inbound: deposit totals reported by the chain watcher.
	TopicDepositReported = "splitvault.deposits.reported"
)

// Event types

type VaultCreated struct {
	Vault *model.Vault `json:"vault"`
}

// VaultTransitioned is emitted on every status change after creation.
type VaultTransitioned struct {
	VaultID string       `json:"vault_id"`
	From    model.Status `json:"from"`
	To      model.Status `json:"to"`
	Reason  string       `json:"reason,omitempty"`
}

type DepositReceived struct {
	VaultID   string          `json:"vault_id"`
	Amount    decimal.Decimal `json:"amount"`
	Total     decimal.Decimal `json:"total"`
	Depositor string          `json:"depositor,omitempty"`
}

type VaultDestroyed struct {
	VaultID string                    `json:"vault_id"`
	Summary *model.DestructionSummary `json:"summary"`
}

// Proposal events

type ProposalCreated struct {
	Proposal *model.Proposal `json:"proposal"`
}

type ProposalApproved struct {
	ProposalID string `json:"proposal_id"`
	VaultID    string `json:"vault_id"`
	HolderID   string `json:"holder_id"`
	Count      int    `json:"count"`
	Threshold  int    `json:"threshold"`
	QuorumMet  bool   `json:"quorum_met"`
}

// ProposalClosed covers cancellation and expiry.
type ProposalClosed struct {
	ProposalID string `json:"proposal_id"`
	VaultID    string `json:"vault_id"`
	Actor      string `json:"actor,omitempty"`
}

// RecipientRouted reports a terminal payout. Addresses are left out.
type RecipientRouted struct {
	VaultID     string             `json:"vault_id"`
	ProposalID  string             `json:"proposal_id,omitempty"`
	RecipientID string             `json:"recipient_id"`
	Amount      decimal.Decimal    `json:"amount"`
	TargetAsset string             `json:"target_asset"`
	Kind        model.TransferKind `json:"kind"`
	Status      model.RecordStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	ShiftID     string             `json:"shift_id,omitempty"`
	Degraded    bool               `json:"degraded,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// DepositReport is the inbound payload on TopicDepositReported. Total is the
// vault's cumulative balance as observed on chain.
type DepositReport struct {
	VaultID       string          `json:"vault_id"`
	Total         decimal.Decimal `json:"total"`
	Depositor     string          `json:"depositor,omitempty"`
	RefundAddress string          `json:"refund_address,omitempty"`
	ObservedAt    time.Time       `json:"observed_at,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
