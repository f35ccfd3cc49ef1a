// Package memory implements store.Store in process memory. Every read and
// write copies the record, so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/gate"
	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/store"
)

// MemoryStore implements store.Store backed by maps.
type MemoryStore struct {
	mu        sync.RWMutex
	vaults    map[string]*model.Vault
	proposals map[string]*model.Proposal
	deposits  map[string][]*model.Deposit
	events    map[string][]*model.Event
	nextID    int64

	// entities serializes read-modify-write per vault/proposal id.
	entities *gate.Gate
}

// Compile-time check that MemoryStore implements store.Store.
var _ store.Store = (*MemoryStore)(nil)

// New creates an empty in-memory store.
func New() *MemoryStore {
	return &MemoryStore{
		vaults:    make(map[string]*model.Vault),
		proposals: make(map[string]*model.Proposal),
		deposits:  make(map[string][]*model.Deposit),
		events:    make(map[string][]*model.Event),
		entities:  gate.New(),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateVault(_ context.Context, v *model.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[v.ID]; ok {
		return fmt.Errorf("vault %q already exists", v.ID)
	}
	s.vaults[v.ID] = v.Clone()
	return nil
}

func (s *MemoryStore) GetVault(_ context.Context, id string) (*model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[id]
	if !ok {
		return nil, model.VaultNotFound(id)
	}
	return v.Clone(), nil
}

func (s *MemoryStore) UpdateVault(ctx context.Context, id string, fn store.VaultMutator) (*model.Vault, error) {
	unlock := s.entities.Lock("vault:" + id)
	defer unlock()

	v, err := s.GetVault(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(v); err != nil {
		return nil, err
	}
	v.ID = id
	v.Version++

	s.mu.Lock()
	s.vaults[id] = v.Clone()
	s.mu.Unlock()
	return v, nil
}

func (s *MemoryStore) ListVaults(_ context.Context, filter model.VaultFilter) ([]*model.Vault, error) {
	s.mu.RLock()
	var result []*model.Vault
	for _, v := range s.vaults {
		if filter.Matches(v) {
			result = append(result, v.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return page(result, filter.Offset, filter.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *MemoryStore) GetExpiredVaults(_ context.Context, now time.Time) ([]*model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Vault
	for _, v := range s.vaults {
		if v.Status != model.StatusDestroyed && v.Expired(now) {
			result = append(result, v.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result, nil
}

func (s *MemoryStore) CreateProposal(_ context.Context, p *model.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vaults[p.VaultID]; !ok {
		return model.VaultNotFound(p.VaultID)
	}
	if _, ok := s.proposals[p.ID]; ok {
		return fmt.Errorf("proposal %q already exists", p.ID)
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetProposal(_ context.Context, id string) (*model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, model.ProposalNotFound(id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpdateProposal(ctx context.Context, id string, fn store.ProposalMutator) (*model.Proposal, error) {
	unlock := s.entities.Lock("proposal:" + id)
	defer unlock()

	p, err := s.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	p.ID = id
	p.Version++

	s.mu.Lock()
	defer s.mu.Unlock()
	// The proposal may have been deleted while fn ran.
	if _, ok := s.proposals[id]; !ok {
		return nil, model.ProposalNotFound(id)
	}
	s.proposals[id] = p.Clone()
	return p, nil
}

func (s *MemoryStore) DeleteProposal(_ context.Context, id string) error {
	unlock := s.entities.Lock("proposal:" + id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[id]; !ok {
		return model.ProposalNotFound(id)
	}
	delete(s.proposals, id)
	return nil
}

func (s *MemoryStore) GetExpiredProposals(_ context.Context, now time.Time) ([]*model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Proposal
	for _, p := range s.proposals {
		if p.Expired(now) && !p.HasQuorum() {
			result = append(result, p.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	return result, nil
}

func (s *MemoryStore) RecordDeposit(_ context.Context, d *model.Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	d.ID = s.nextID
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	cp := *d
	s.deposits[d.VaultID] = append(s.deposits[d.VaultID], &cp)
	return nil
}

func (s *MemoryStore) GetDeposits(_ context.Context, vaultID string) ([]*model.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Deposit, 0, len(s.deposits[vaultID]))
	for _, d := range s.deposits[vaultID] {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) RecordEvent(_ context.Context, event *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	cp := *event
	s.events[event.VaultID] = append(s.events[event.VaultID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, vaultID string) ([]*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Event, 0, len(s.events[vaultID]))
	for _, e := range s.events[vaultID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
