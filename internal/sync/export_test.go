package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/store/memory"
)

// seedStore returns a memory store holding two vaults, one of them with an
// open proposal and a deposit.
func seedStore(t *testing.T) *memory.MemoryStore {
	t.Helper()
	ctx := context.Background()
	ms := memory.New()
	now := time.Now().UTC()

	for _, id := range []string{"vlt-zzz", "vlt-aaa"} {
		v := &model.Vault{
			ID: id, Status: model.StatusFunding, SourceAsset: "btc",
			Threshold: 1, KeyHolders: []string{"alice"},
			CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
		}
		if err := ms.CreateVault(ctx, v); err != nil {
			t.Fatalf("CreateVault: %v", err)
		}
	}

	p := &model.Proposal{
		ID: "prp-1", VaultID: "vlt-aaa", Threshold: 1,
		Recipients: []model.Recipient{{ID: "r1", Address: "a1", Percentage: decimal.NewFromInt(100), TargetAsset: "btc"}},
		CreatedAt:  now, ExpiresAt: now.Add(time.Hour),
	}
	if err := ms.CreateProposal(ctx, p); err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if _, err := ms.UpdateVault(ctx, "vlt-aaa", func(v *model.Vault) error {
		v.ActiveProposalID = "prp-1"
		v.TotalDeposits = decimal.NewFromInt(5)
		return nil
	}); err != nil {
		t.Fatalf("UpdateVault: %v", err)
	}
	if err := ms.RecordDeposit(ctx, &model.Deposit{VaultID: "vlt-aaa", Amount: decimal.NewFromInt(5), Total: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("RecordDeposit: %v", err)
	}
	return ms
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), memory.New(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.VaultCount != 0 || h.ProposalCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_WithVaults(t *testing.T) {
	ms := seedStore(t)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), ms, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// header, vlt-aaa, its proposal, its deposit, vlt-zzz
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.VaultCount != 2 || h.ProposalCount != 1 || h.DepositCount != 1 {
		t.Fatalf("unexpected header: %+v", h)
	}

	wantTypes := []string{"vault", "proposal", "deposit", "vault"}
	for i, want := range wantTypes {
		var rec struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(lines[i+1]), &rec); err != nil {
			t.Fatalf("unmarshal line %d: %v", i+1, err)
		}
		if rec.Type != want {
			t.Errorf("line %d type = %q, want %q", i+1, rec.Type, want)
		}
	}

	var first struct {
		Data model.Vault `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &first); err != nil {
		t.Fatalf("unmarshal vault: %v", err)
	}
	if first.Data.ID != "vlt-aaa" || !first.Data.TotalDeposits.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected vlt-aaa first with total 5, got %+v", first.Data)
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
