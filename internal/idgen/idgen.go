// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes identify the entity an ID belongs to.
const (
	VaultPrefix    = "vlt-"
	ProposalPrefix = "prp-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// NewVaultID returns a new vault ID.
func NewVaultID() (string, error) {
	return GenerateWithPrefix(VaultPrefix)
}

// NewProposalID returns a new proposal ID.
func NewProposalID() (string, error) {
	return GenerateWithPrefix(ProposalPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
