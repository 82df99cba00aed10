package loan

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/fixed"
)

// DelegationVehicle is the per-loan escrow that holds borrowed funds and
// forwards their governance weight to a delegatee. The built-in vehicle
// keeps the delegation as ledger bookkeeping; external strategy variants
// (claim-and-delegate staked tokens, snapshot registries) implement the
// same interface.
type DelegationVehicle interface {
	// Initiate receives principal + fees and delegates their combined
	// weight to the delegatee.
	Initiate(delegatee uuid.UUID, principal, fees *big.Int) error

	// Expand adds fees to the escrow and extends the delegated weight.
	Expand(extraFees *big.Int) error

	// Settle drains the escrow: principal back to the pool, feesUsed
	// consumed, the remainder routed per the close/kill split. Clears the
	// delegation.
	Settle(feesUsed *big.Int) error

	// ChangeDelegatee redirects the escrowed voting weight.
	ChangeDelegatee(newDelegatee uuid.UUID) error

	// DelegatedWeight reports the currently delegated voting weight.
	DelegatedWeight() *big.Int
}

// Vehicle is the built-in ledger-backed vehicle. Funds live in the
// vehicle's ledger sub-accounts; this record tracks the delegation side.
type Vehicle struct {
	ID        uuid.UUID
	LoanID    uuid.UUID
	Delegatee uuid.UUID
	Weight    *big.Int
	Settled   bool
}

func NewVehicle(loanID uuid.UUID) *Vehicle {
	return &Vehicle{
		ID:     uuid.New(),
		LoanID: loanID,
		Weight: new(big.Int),
	}
}

func (v *Vehicle) Initiate(delegatee uuid.UUID, principal, fees *big.Int) error {
	if delegatee == uuid.Nil {
		return ErrZeroDelegatee
	}
	v.Delegatee = delegatee
	v.Weight = new(big.Int).Add(principal, fees)
	return nil
}

func (v *Vehicle) Expand(extraFees *big.Int) error {
	if v.Settled {
		return ErrLoanClosed
	}
	v.Weight.Add(v.Weight, extraFees)
	return nil
}

func (v *Vehicle) Settle(feesUsed *big.Int) error {
	if v.Settled {
		return ErrLoanClosed
	}
	v.Settled = true
	v.Weight = new(big.Int)
	v.Delegatee = uuid.Nil
	return nil
}

func (v *Vehicle) ChangeDelegatee(newDelegatee uuid.UUID) error {
	if v.Settled {
		return ErrLoanClosed
	}
	if newDelegatee == uuid.Nil {
		return ErrZeroDelegatee
	}
	v.Delegatee = newDelegatee
	return nil
}

func (v *Vehicle) DelegatedWeight() *big.Int {
	return fixed.Clone(v.Weight)
}
