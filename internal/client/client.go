// Package client provides a transport-agnostic interface for the splitvault
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/swap"
	"github.com/alfredjeanlab/splitvault/internal/sweeper"
)

// Client is the interface that all sv CLI commands use to communicate with
// the splitvault server.
type Client interface {
	// Vaults
	CreateVault(ctx context.Context, req *CreateVaultRequest) (*model.Vault, error)
	GetVault(ctx context.Context, id string) (*model.Vault, error)
	ListVaults(ctx context.Context, req *ListVaultsRequest) ([]*model.Vault, error)
	ActivateVault(ctx context.Context, id, depositAddress string) (*model.Vault, error)
	ReportDeposit(ctx context.Context, id string, req *DepositReport) (*model.Vault, error)
	GetDeposits(ctx context.Context, id string) ([]*model.Deposit, error)
	GetEvents(ctx context.Context, id string) ([]*model.Event, error)

	// Proposals
	CreateProposal(ctx context.Context, vaultID string, req *CreateProposalRequest) (*model.Proposal, error)
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	Approve(ctx context.Context, proposalID, holderID string) (*ApprovalResult, error)
	CancelProposal(ctx context.Context, proposalID, actor string) error

	// Unlock
	ExecuteUnlock(ctx context.Context, vaultID string) (*model.Vault, error)
	ResumeUnlock(ctx context.Context, vaultID string) (*model.Vault, error)
	GetShift(ctx context.Context, shiftID string) (*swap.Shift, error)

	// Operations
	Sweep(ctx context.Context) (*sweeper.Report, error)
	Health(ctx context.Context) (string, error)

	Close() error
}

// CreateVaultRequest holds the parameters for creating a vault.
type CreateVaultRequest struct {
	SourceAsset   string   `json:"source_asset"`
	KeyHolders    []string `json:"key_holders"`
	Threshold     int      `json:"threshold"`
	RefundAddress string   `json:"refund_address,omitempty"`
	TTL           string   `json:"ttl,omitempty"`
	CreatedBy     string   `json:"created_by,omitempty"`
}

// ListVaultsRequest holds filter and pagination parameters for listing vaults.
type ListVaultsRequest struct {
	Status []string
	Limit  int
	Offset int
}

// DepositReport carries the cumulative deposit total observed for a vault.
type DepositReport struct {
	Total         decimal.Decimal `json:"total"`
	Depositor     string          `json:"depositor,omitempty"`
	RefundAddress string          `json:"refund_address,omitempty"`
}

// CreateProposalRequest holds the parameters for proposing an unlock split.
type CreateProposalRequest struct {
	Recipients []model.Recipient `json:"recipients"`
	TTL        string            `json:"ttl,omitempty"`
	CreatedBy  string            `json:"created_by,omitempty"`
}

// ApprovalResult is the server's answer to an approval.
type ApprovalResult struct {
	Proposal      *model.Proposal `json:"proposal"`
	Count         int             `json:"count"`
	Threshold     int             `json:"threshold"`
	QuorumReached bool            `json:"quorum_reached"`
	QuorumJustMet bool            `json:"quorum_just_met"`
}

