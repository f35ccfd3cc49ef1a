package swap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockIDPrefix marks shifts produced by MockProvider.
const MockIDPrefix = "mock-"

// MockProvider is the degraded-mode provider. It never moves funds; it
// returns syntactically valid shift records so routing still runs end to end.
// Shifts are keyed by reference, so retrying a payout returns the shift
// created by the first attempt. Amounts settle 1:1 and a shift reports
// settled on its first status query.
type MockProvider struct {
	mu     sync.Mutex
	shifts map[string]*Shift // by id
	refs   map[string]string // reference -> id
	now    func() time.Time
}

// NewMockProvider creates an empty degraded-mode provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		shifts: make(map[string]*Shift),
		refs:   make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MockProvider) CreateShift(_ context.Context, req ShiftRequest) (*Shift, error) {
	if req.FromAsset == "" || req.ToAsset == "" || req.DestinationAddress == "" {
		return nil, &ProviderError{Op: "create shift", Reason: "from, to and destination are required"}
	}
	if !req.Amount.IsPositive() {
		return nil, &ProviderError{Op: "create shift", Reason: fmt.Sprintf("amount must be positive, got %s", req.Amount)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.refs[req.Reference]; ok && req.Reference != "" {
		cp := *m.shifts[id]
		return &cp, nil
	}

	sum := sha256.Sum256([]byte(req.Reference + "|" + req.FromAsset + "|" + req.ToAsset + "|" + req.DestinationAddress))
	digest := hex.EncodeToString(sum[:])
	sh := &Shift{
		ID:             MockIDPrefix + digest[:16],
		DepositAddress: "mock-" + strings.ToLower(req.FromAsset) + "-" + digest[16:40],
		Status:         ShiftPending,
		DepositAmount:  req.Amount,
		SettleAmount:   req.Amount,
		Reference:      req.Reference,
		Degraded:       true,
		CreatedAt:      m.now(),
	}
	m.shifts[sh.ID] = sh
	if req.Reference != "" {
		m.refs[req.Reference] = sh.ID
	}
	cp := *sh
	return &cp, nil
}

func (m *MockProvider) GetShiftStatus(_ context.Context, shiftID string) (*Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shifts[shiftID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", shiftID, ErrShiftNotFound)
	}
	sh.Status = ShiftSettled
	cp := *sh
	return &cp, nil
}
