package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict signals a stale read during an update. Stores
	// retry it internally; it never reaches callers of the service.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrExpiryRace is returned when the entity an operation was working on
	// has been destroyed, deleted or superseded in the meantime. Callers
	// treat it as a no-op.
	ErrExpiryRace = errors.New("entity destroyed or superseded")
)

// NotFoundError reports a lookup of an unknown vault or proposal.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) true for every NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// VaultNotFound returns a NotFoundError for a vault id.
func VaultNotFound(id string) error {
	return &NotFoundError{Entity: "vault", ID: id}
}

// ProposalNotFound returns a NotFoundError for a proposal id.
func ProposalNotFound(id string) error {
	return &NotFoundError{Entity: "proposal", ID: id}
}

// UnauthorizedHolderError is returned when a holder outside the vault's key
// holders tries to approve.
type UnauthorizedHolderError struct {
	VaultID  string
	HolderID string
}

func (e *UnauthorizedHolderError) Error() string {
	return fmt.Sprintf("holder %q is not a key holder of vault %q", e.HolderID, e.VaultID)
}

// IsValidation reports whether err should be surfaced to the caller as bad
// input with no retry.
func IsValidation(err error) bool {
	var ve *ValidationError
	var ue *UnauthorizedHolderError
	return errors.As(err, &ve) || errors.As(err, &ue)
}
