// Package swap is the client side of the external swap provider: the live
// HTTP API, a deterministic degraded-mode provider, and a wrapper that falls
// back from the first to the second when the provider is unavailable.
package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ShiftStatus is the provider-side state of a shift.
type ShiftStatus string

const (
	ShiftPending    ShiftStatus = "pending"
	ShiftProcessing ShiftStatus = "processing"
	ShiftSettled    ShiftStatus = "settled"
	ShiftFailed     ShiftStatus = "failed"
	ShiftExpired    ShiftStatus = "expired"
)

// IsValid checks whether the status is a known value.
func (s ShiftStatus) IsValid() bool {
	switch s {
	case ShiftPending, ShiftProcessing, ShiftSettled, ShiftFailed, ShiftExpired:
		return true
	}
	return false
}

// ErrShiftNotFound is returned by GetShiftStatus for an unknown shift id.
var ErrShiftNotFound = errors.New("shift not found")

// ShiftRequest asks the provider to convert Amount of FromAsset into ToAsset
// and deliver it to DestinationAddress. Reference is stable across retries
// of the same payout so the provider can detect duplicates.
type ShiftRequest struct {
	FromAsset          string          `json:"from_asset"`
	ToAsset            string          `json:"to_asset"`
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destination_address"`
	Reference          string          `json:"reference"`
}

// Shift is the provider's record of a requested conversion.
type Shift struct {
	ID             string          `json:"id"`
	DepositAddress string          `json:"deposit_address"`
	Status         ShiftStatus     `json:"status"`
	DepositAmount  decimal.Decimal `json:"deposit_amount"`
	SettleAmount   decimal.Decimal `json:"settle_amount"`
	Reference      string          `json:"reference,omitempty"`
	Degraded       bool            `json:"degraded,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Provider is the swap provider contract.
type Provider interface {
	CreateShift(ctx context.Context, req ShiftRequest) (*Shift, error)
	GetShiftStatus(ctx context.Context, shiftID string) (*Shift, error)
}

// ProviderError is a failed provider request. Reason carries the message the
// provider reported, when there was one.
type ProviderError struct {
	Op         string
	StatusCode int
	Reason     string
	// Transient marks failures worth retrying or falling back on: transport
	// errors, timeouts, 429 and 5xx responses.
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	msg := "swap provider " + e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is transient.
func (e *ProviderError) Temporary() bool { return e.Transient }

// IsUnavailable reports whether err means the provider could not be reached
// or did not answer in time, as opposed to rejecting the request.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
