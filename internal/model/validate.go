package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PercentageTolerance is how far the sum of recipient percentages may drift
// from 100.
var PercentageTolerance = decimal.RequireFromString("0.001")

var hundred = decimal.NewFromInt(100)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Add appends a field error.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns e when it has errors and nil otherwise.
func (e *ValidationError) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// NewValidationError returns a ValidationError with a single field error.
func NewValidationError(field, format string, args ...any) *ValidationError {
	var ve ValidationError
	ve.Add(field, format, args...)
	return &ve
}

// ValidateVault checks a new Vault for constraint violations.
func ValidateVault(v *Vault) error {
	var ve ValidationError

	if strings.TrimSpace(v.SourceAsset) == "" {
		ve.Add("source_asset", "is required")
	}

	if len(v.KeyHolders) == 0 {
		ve.Add("key_holders", "at least one key holder is required")
	}
	seen := make(map[string]bool, len(v.KeyHolders))
	for i, h := range v.KeyHolders {
		if strings.TrimSpace(h) == "" {
			ve.Add(fmt.Sprintf("key_holders[%d]", i), "is empty")
			continue
		}
		if seen[h] {
			ve.Add(fmt.Sprintf("key_holders[%d]", i), "duplicate holder %q", h)
		}
		seen[h] = true
	}

	if v.Threshold < 1 {
		ve.Add("threshold", "must be positive, got %d", v.Threshold)
	} else if v.Threshold > len(v.KeyHolders) {
		ve.Add("threshold", "must not exceed the number of key holders (%d), got %d", len(v.KeyHolders), v.Threshold)
	}

	if v.TotalDeposits.IsNegative() {
		ve.Add("total_deposits", "must not be negative")
	}

	if !v.Status.IsValid() {
		ve.Add("status", "invalid value %q", v.Status)
	}

	if !v.ExpiresAt.After(v.CreatedAt) {
		ve.Add("expires_at", "must be after created_at")
	}

	return ve.Err()
}

// ValidateRecipients checks an unlock split: percentages within 0–100 that
// sum to 100 within PercentageTolerance, and no duplicated recipient.
func ValidateRecipients(recipients []Recipient) error {
	var ve ValidationError

	if len(recipients) == 0 {
		ve.Add("recipients", "at least one recipient is required")
		return &ve
	}

	ids := make(map[string]bool, len(recipients))
	dests := make(map[string]bool, len(recipients))
	sum := decimal.Zero
	for i, r := range recipients {
		field := fmt.Sprintf("recipients[%d]", i)
		if strings.TrimSpace(r.ID) == "" {
			ve.Add(field+".id", "is required")
		} else if ids[r.ID] {
			ve.Add(field+".id", "duplicate recipient %q", r.ID)
		}
		ids[r.ID] = true

		if strings.TrimSpace(r.Address) == "" {
			ve.Add(field+".address", "is required")
		}
		if strings.TrimSpace(r.TargetAsset) == "" {
			ve.Add(field+".target_asset", "is required")
		}
		dest := r.Address + "|" + r.TargetAsset
		if r.Address != "" && dests[dest] {
			ve.Add(field+".address", "duplicate destination %s (%s)", r.Address, r.TargetAsset)
		}
		dests[dest] = true

		if r.Percentage.IsNegative() || r.Percentage.GreaterThan(hundred) {
			ve.Add(field+".percentage", "must be between 0 and 100, got %s", r.Percentage)
		}
		sum = sum.Add(r.Percentage)
	}

	if sum.Sub(hundred).Abs().GreaterThan(PercentageTolerance) {
		ve.Add("recipients", "percentages must sum to 100, got %s", sum)
	}

	return ve.Err()
}
