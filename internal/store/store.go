package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/model"
)

// VaultMutator edits a vault in place. Returning an error aborts the update
// and nothing is written.
type VaultMutator func(v *model.Vault) error

// ProposalMutator edits a proposal in place. Returning an error aborts the
// update and nothing is written.
type ProposalMutator func(p *model.Proposal) error

// Store defines the persistence interface for vaults and unlock proposals.
// Lookups of unknown ids fail with *model.NotFoundError.
type Store interface {
	// Vaults
	CreateVault(ctx context.Context, v *model.Vault) error
	GetVault(ctx context.Context, id string) (*model.Vault, error)
	// UpdateVault applies fn as one atomic read-modify-write and returns the
	// stored result. Concurrent updates of the same id never lose writes.
	UpdateVault(ctx context.Context, id string, fn VaultMutator) (*model.Vault, error)
	ListVaults(ctx context.Context, filter model.VaultFilter) ([]*model.Vault, error)
	// GetExpiredVaults returns non-destroyed vaults with expires_at <= now.
	GetExpiredVaults(ctx context.Context, now time.Time) ([]*model.Vault, error)

	// Proposals
	CreateProposal(ctx context.Context, p *model.Proposal) error
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	UpdateProposal(ctx context.Context, id string, fn ProposalMutator) (*model.Proposal, error)
	DeleteProposal(ctx context.Context, id string) error
	// GetExpiredProposals returns proposals with expires_at <= now that have
	// not reached quorum.
	GetExpiredProposals(ctx context.Context, now time.Time) ([]*model.Proposal, error)

	// Deposits
	RecordDeposit(ctx context.Context, d *model.Deposit) error
	GetDeposits(ctx context.Context, vaultID string) ([]*model.Deposit, error)

	// Events
	RecordEvent(ctx context.Context, event *model.Event) error
	GetEvents(ctx context.Context, vaultID string) ([]*model.Event, error)

	// Lifecycle
	Close() error
}
