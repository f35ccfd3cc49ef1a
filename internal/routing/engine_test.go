package routing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/swap"
)

// scriptedProvider fails the first failures calls for each reference.
type scriptedProvider struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
}

func (p *scriptedProvider) CreateShift(_ context.Context, req swap.ShiftRequest) (*swap.Shift, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[req.Reference]++
	if p.calls[req.Reference] <= p.failures {
		return nil, &swap.ProviderError{Op: "create shift", StatusCode: 503, Transient: true}
	}
	return &swap.Shift{ID: "sh-" + req.Reference, Status: swap.ShiftPending, Reference: req.Reference}, nil
}

func (p *scriptedProvider) GetShiftStatus(context.Context, string) (*swap.Shift, error) {
	return nil, swap.ErrShiftNotFound
}

func (p *scriptedProvider) count(ref string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ref]
}

func newTestEngine(p swap.Provider, attempts int) *Engine {
	e := NewEngine(p,
		WithBackoff(Backoff{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: attempts}),
		WithCallTimeout(time.Second),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

// recorder collects applied updates.
type recorder struct {
	mu      sync.Mutex
	updates []model.RecipientRecord
	fence   func(rec model.RecipientRecord) bool
}

func (r *recorder) apply(_ context.Context, _ int64, rec model.RecipientRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fence != nil && r.fence(rec) {
		return model.ErrExpiryRace
	}
	r.updates = append(r.updates, rec)
	return nil
}

func testPlan() Plan {
	return Plan{
		VaultID:     "vlt-1",
		ProposalID:  "prp-1",
		Generation:  1,
		SourceAsset: "btc",
		Records: []model.RecipientRecord{
			{RecipientID: "a", Address: "bc1a", Amount: decimal.NewFromInt(6), TargetAsset: "btc", Kind: model.TransferDirect, Status: model.RecordPending},
			{RecipientID: "b", Address: "0xb", Amount: decimal.NewFromInt(4), TargetAsset: "eth", Kind: model.TransferSwap, Status: model.RecordPending},
		},
	}
}

func TestEngine_DirectAndSwap(t *testing.T) {
	p := &scriptedProvider{}
	rec := &recorder{}
	out := newTestEngine(p, 3).Execute(context.Background(), testPlan(), rec.apply)

	if out[0].Status != model.RecordSubmitted || out[0].ShiftID != "" {
		t.Errorf("direct record = %+v", out[0])
	}
	if p.count("prp-1:a") != 0 {
		t.Error("direct transfer must not call the provider")
	}
	if out[1].Status != model.RecordSubmitted || out[1].ShiftID != "sh-prp-1:b" || out[1].Attempts != 1 {
		t.Errorf("swap record = %+v", out[1])
	}
	if len(rec.updates) != 2 {
		t.Errorf("applied %d updates, want 2", len(rec.updates))
	}
}

func TestEngine_ZeroAmountSwapSkipsProvider(t *testing.T) {
	recipients := []model.Recipient{
		{ID: "r1", Address: "0x1", Percentage: decimal.RequireFromString("33.3"), TargetAsset: "eth"},
		{ID: "r2", Address: "0x2", Percentage: decimal.RequireFromString("33.3"), TargetAsset: "eth"},
		{ID: "r3", Address: "bc1c", Percentage: decimal.RequireFromString("33.4"), TargetAsset: "btc"},
	}
	allocs, err := ComputeAllocations(decimal.NewFromInt(1), recipients, 0)
	if err != nil {
		t.Fatalf("ComputeAllocations: %v", err)
	}
	plan := Plan{VaultID: "vlt-1", ProposalID: "prp-1", Generation: 1, SourceAsset: "btc"}
	for i, r := range recipients {
		plan.Records = append(plan.Records, model.RecipientRecord{
			RecipientID: r.ID,
			Address:     r.Address,
			Amount:      allocs[i].Amount,
			TargetAsset: r.TargetAsset,
			Kind:        KindFor(plan.SourceAsset, r.TargetAsset),
			Status:      model.RecordPending,
		})
	}

	// Every provider call would fail.
	p := &scriptedProvider{failures: 100}
	out := newTestEngine(p, 3).Execute(context.Background(), plan, (&recorder{}).apply)

	for i, rec := range out {
		if rec.Status != model.RecordSubmitted {
			t.Errorf("record %s status = %s, want submitted", rec.RecipientID, rec.Status)
		}
		if rec.Attempts != 0 {
			t.Errorf("record %s attempts = %d, want 0", rec.RecipientID, rec.Attempts)
		}
		if want := allocs[i].Amount; !rec.Amount.Equal(want) {
			t.Errorf("record %s amount = %s, want %s", rec.RecipientID, rec.Amount, want)
		}
	}
	if !out[2].Amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("r3 amount = %s, want 1", out[2].Amount)
	}
	for _, ref := range []string{"prp-1:r1", "prp-1:r2"} {
		if n := p.count(ref); n != 0 {
			t.Errorf("provider called %d times for %s, want 0", n, ref)
		}
	}
}

func TestEngine_RetriesThenSucceeds(t *testing.T) {
	p := &scriptedProvider{failures: 2}
	out := newTestEngine(p, 5).Execute(context.Background(), testPlan(), (&recorder{}).apply)
	if out[1].Status != model.RecordSubmitted || out[1].Attempts != 3 {
		t.Errorf("swap record = %+v, want submitted after 3 attempts", out[1])
	}
	if out[1].LastError != "" {
		t.Errorf("LastError = %q, want cleared", out[1].LastError)
	}
}

func TestEngine_RetriesExhausted(t *testing.T) {
	p := &scriptedProvider{failures: 100}
	rec := &recorder{}
	out := newTestEngine(p, 4).Execute(context.Background(), testPlan(), rec.apply)
	if out[1].Status != model.RecordFailed || out[1].Attempts != 4 {
		t.Errorf("swap record = %+v, want failed after 4 attempts", out[1])
	}
	if got := p.count("prp-1:b"); got != 4 {
		t.Errorf("provider calls = %d, want 4", got)
	}
	if out[0].Status != model.RecordSubmitted {
		t.Error("failing swap must not affect the direct transfer")
	}
	if out[1].LastError == "" {
		t.Error("expected last error recorded")
	}
}

func TestEngine_FencedStopsRetrying(t *testing.T) {
	p := &scriptedProvider{failures: 100}
	rec := &recorder{fence: func(r model.RecipientRecord) bool { return r.RecipientID == "b" }}
	out := newTestEngine(p, 5).Execute(context.Background(), testPlan(), rec.apply)
	if got := p.count("prp-1:b"); got != 1 {
		t.Errorf("provider calls after fence = %d, want 1", got)
	}
	if out[1].IsTerminal() {
		t.Errorf("fenced record should stay non-terminal, got %s", out[1].Status)
	}
}

func TestEngine_SkipsTerminalRecords(t *testing.T) {
	p := &scriptedProvider{}
	plan := testPlan()
	plan.Records[1].Status = model.RecordFailed
	plan.Records[1].Attempts = 5
	out := newTestEngine(p, 5).Execute(context.Background(), plan, (&recorder{}).apply)
	if p.count("prp-1:b") != 0 || out[1].Status != model.RecordFailed {
		t.Errorf("terminal record was re-routed: %+v", out[1])
	}
}

func TestEngine_CancelledContextLeavesPending(t *testing.T) {
	p := &scriptedProvider{failures: 100}
	e := newTestEngine(p, 5)
	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	out := e.Execute(ctx, testPlan(), (&recorder{}).apply)
	if out[1].Status != model.RecordPending || out[1].Attempts != 1 {
		t.Errorf("swap record = %+v, want pending after 1 attempt", out[1])
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, MaxAttempts: 10}
	for _, tc := range []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{60, time.Second},
	} {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}

	b.Jitter = 0.5
	for i := 0; i < 100; i++ {
		d := b.Delay(3)
		if d < 200*time.Millisecond || d > 600*time.Millisecond {
			t.Fatalf("jittered Delay(3) = %s, outside [200ms, 600ms]", d)
		}
	}
}

func TestKindFor(t *testing.T) {
	if KindFor("BTC", "btc") != model.TransferDirect {
		t.Error("same asset should be direct")
	}
	if KindFor("btc", "eth") != model.TransferSwap {
		t.Error("different asset should swap")
	}
}
