package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version       string    `json:"version"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	VaultCount    int       `json:"vault_count"`
	ProposalCount int       `json:"proposal_count"`
	DepositCount  int       `json:"deposit_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes a snapshot of every vault, its open proposal and its
// deposit history as JSONL to w. Vaults are sorted by ID; each vault line is
// followed by its proposal (if any) and then its deposits in arrival order.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	vaults, err := s.ListVaults(ctx, model.VaultFilter{})
	if err != nil {
		return fmt.Errorf("list vaults: %w", err)
	}
	sort.Slice(vaults, func(i, j int) bool {
		return vaults[i].ID < vaults[j].ID
	})

	proposals := make(map[string]*model.Proposal)
	deposits := make(map[string][]*model.Deposit)
	var nDeposits int
	for _, v := range vaults {
		if v.ActiveProposalID != "" {
			p, err := s.GetProposal(ctx, v.ActiveProposalID)
			switch {
			case errors.Is(err, model.ErrNotFound):
				// Deleted between the list and this read.
			case err != nil:
				return fmt.Errorf("get proposal for %s: %w", v.ID, err)
			default:
				proposals[v.ID] = p
			}
		}

		ds, err := s.GetDeposits(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("get deposits for %s: %w", v.ID, err)
		}
		deposits[v.ID] = ds
		nDeposits += len(ds)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:       "1",
		Type:          "header",
		Timestamp:     time.Now().UTC(),
		VaultCount:    len(vaults),
		ProposalCount: len(proposals),
		DepositCount:  nDeposits,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, v := range vaults {
		if err := enc.Encode(record{Type: "vault", Data: v}); err != nil {
			return fmt.Errorf("encode vault %s: %w", v.ID, err)
		}
		if p, ok := proposals[v.ID]; ok {
			if err := enc.Encode(record{Type: "proposal", Data: p}); err != nil {
				return fmt.Errorf("encode proposal %s: %w", p.ID, err)
			}
		}
		for _, d := range deposits[v.ID] {
			if err := enc.Encode(record{Type: "deposit", Data: d}); err != nil {
				return fmt.Errorf("encode deposit %d: %w", d.ID, err)
			}
		}
	}

	return nil
}
