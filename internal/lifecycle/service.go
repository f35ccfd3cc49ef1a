// Package lifecycle drives vaults through their states: deposits, unlock
// proposals and approvals, unlock execution and destruction on expiry. All
// writes to one vault (and to the proposals it owns) go through a
// single-writer gate keyed by vault id.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/approval"
	"github.com/alfredjeanlab/splitvault/internal/events"
	"github.com/alfredjeanlab/splitvault/internal/gate"
	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/routing"
	"github.com/alfredjeanlab/splitvault/internal/store"
)

// ErrNoRefundDestination is returned by DestroyExpired when a vault holding
// deposits has neither depositor refund addresses nor a fallback address.
// The vault is left untouched.
var ErrNoRefundDestination = errors.New("no refund destination for expired vault with deposits")

// errUnchanged aborts a store update without writing anything.
var errUnchanged = errors.New("unchanged")

// Config holds the service's policy knobs.
type Config struct {
	VaultTTL    time.Duration
	ProposalTTL time.Duration
	// AssetDecimals maps a lower-case asset symbol to its number of decimal
	// places. Assets not listed use DefaultDecimals.
	AssetDecimals   map[string]int32
	DefaultDecimals int32
	// FallbackRefundAddress receives refunds that cannot be attributed to a
	// depositor.
	FallbackRefundAddress string
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		VaultTTL:        30 * 24 * time.Hour,
		ProposalTTL:     72 * time.Hour,
		DefaultDecimals: 8,
	}
}

// Decimals returns the minimal-unit exponent for asset.
func (c Config) Decimals(asset string) int32 {
	if d, ok := c.AssetDecimals[strings.ToLower(asset)]; ok {
		return d
	}
	return c.DefaultDecimals
}

// Service is the vault lifecycle orchestrator.
type Service struct {
	store     store.Store
	approvals *approval.Engine
	router    *routing.Engine
	publisher events.Publisher
	gate      *gate.Gate
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Service. A nil publisher disables event publishing; events
// are still recorded in the store.
func New(s store.Store, router *routing.Engine, p events.Publisher, cfg Config, logger *slog.Logger) *Service {
	if p == nil {
		p = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		approvals: approval.NewEngine(s),
		router:    router,
		publisher: p,
		gate:      gate.New(),
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Router returns the routing engine used for unlocks.
func (s *Service) Router() *routing.Engine { return s.router }

// lock acquires the single-writer gate for a vault.
func (s *Service) lock(vaultID string) func() {
	return s.gate.Lock(vaultID)
}

// recordAndPublish persists an event to the store and publishes it.
// Both are best-effort; failures are logged and never fail the caller.
func (s *Service) recordAndPublish(ctx context.Context, topic, vaultID, actor string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event", "topic", topic, "vault", vaultID, "error", err)
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.store.RecordEvent(ctx, &model.Event{
		Topic:     topic,
		VaultID:   vaultID,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Warn("failed to record event", "topic", topic, "vault", vaultID, "error", err)
	}
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "vault", vaultID, "error", err)
	}
}

func (s *Service) transitioned(ctx context.Context, topic, vaultID, actor string, from, to model.Status, reason string) {
	if from == to {
		return
	}
	s.recordAndPublish(ctx, topic, vaultID, actor, events.VaultTransitioned{
		VaultID: vaultID, From: from, To: to, Reason: reason,
	})
}

// GetVault returns a vault by id.
func (s *Service) GetVault(ctx context.Context, id string) (*model.Vault, error) {
	return s.store.GetVault(ctx, id)
}

// ListVaults returns vaults matching filter.
func (s *Service) ListVaults(ctx context.Context, filter model.VaultFilter) ([]*model.Vault, error) {
	return s.store.ListVaults(ctx, filter)
}

// GetProposal returns a proposal by id.
func (s *Service) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	return s.store.GetProposal(ctx, id)
}

// GetDeposits returns the attributed deposits of a vault, oldest first.
func (s *Service) GetDeposits(ctx context.Context, vaultID string) ([]*model.Deposit, error) {
	if _, err := s.store.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}
	return s.store.GetDeposits(ctx, vaultID)
}

// GetEvents returns the audit trail of a vault, oldest first.
func (s *Service) GetEvents(ctx context.Context, vaultID string) ([]*model.Event, error) {
	if _, err := s.store.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}
	return s.store.GetEvents(ctx, vaultID)
}

// activeProposal resolves the vault's weak proposal reference. A reference
// to a proposal that no longer exists yields nil.
func (s *Service) activeProposal(ctx context.Context, v *model.Vault) (*model.Proposal, error) {
	if v.ActiveProposalID == "" {
		return nil, nil
	}
	p, err := s.store.GetProposal(ctx, v.ActiveProposalID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// clearSensitive wipes the fields a destroyed vault must not retain.
func clearSensitive(v *model.Vault) {
	v.DepositAddress = ""
	v.RefundAddress = ""
	v.KeyHolders = nil
	v.ActiveProposalID = ""
	v.Run = nil
}
