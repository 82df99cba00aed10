package loan

import (
	"fmt"

	"github.com/google/uuid"
)

// OwnershipToken models the transferable claim to a loan's borrower
// rights. Ownership is an indirection table, never the Borrower field:
// whoever holds the token may expand, close, and collect the fee refund.
type OwnershipToken interface {
	Mint(to uuid.UUID, tokenID int64) error
	Burn(tokenID int64) error
	Transfer(tokenID int64, from, to uuid.UUID) error
	OwnerOf(tokenID int64) (uuid.UUID, error)
}

// OwnershipTable is the built-in ownership token backed by a plain map.
type OwnershipTable struct {
	owners map[int64]uuid.UUID
}

func NewOwnershipTable() *OwnershipTable {
	return &OwnershipTable{
		owners: make(map[int64]uuid.UUID),
	}
}

func (t *OwnershipTable) Mint(to uuid.UUID, tokenID int64) error {
	if _, ok := t.owners[tokenID]; ok {
		return fmt.Errorf("ownership token %d already minted", tokenID)
	}
	t.owners[tokenID] = to
	return nil
}

func (t *OwnershipTable) Burn(tokenID int64) error {
	if _, ok := t.owners[tokenID]; !ok {
		return ErrTokenNotFound
	}
	delete(t.owners, tokenID)
	return nil
}

func (t *OwnershipTable) Transfer(tokenID int64, from, to uuid.UUID) error {
	owner, ok := t.owners[tokenID]
	if !ok {
		return ErrTokenNotFound
	}
	if owner != from {
		return ErrUnauthorized
	}
	if to == uuid.Nil {
		return ErrZeroDelegatee
	}
	t.owners[tokenID] = to
	return nil
}

func (t *OwnershipTable) OwnerOf(tokenID int64) (uuid.UUID, error) {
	owner, ok := t.owners[tokenID]
	if !ok {
		return uuid.Nil, ErrTokenNotFound
	}
	return owner, nil
}

// Owners returns a copy of the table for snapshotting.
func (t *OwnershipTable) Owners() map[int64]uuid.UUID {
	out := make(map[int64]uuid.UUID, len(t.owners))
	for k, v := range t.owners {
		out[k] = v
	}
	return out
}

// Restore replaces the table contents from a snapshot.
func (t *OwnershipTable) Restore(owners map[int64]uuid.UUID) {
	t.owners = make(map[int64]uuid.UUID, len(owners))
	for k, v := range owners {
		t.owners[k] = v
	}
}
