package loan

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/fixed"
)

// Loan is one borrow position. Terminal records are kept forever so reward
// claims stay auditable.
type Loan struct {
	ID        uuid.UUID
	PoolID    string
	Borrower  uuid.UUID
	Delegatee uuid.UUID
	VehicleID uuid.UUID

	Principal  *big.Int
	FeesAmount *big.Int // prepaid, escrowed in the vehicle
	FeesUsed   *big.Int // consumed, computed at settlement

	StartBlock int64
	CloseBlock int64
	Closed     bool
	Killed     bool

	TokenID int64
}

// Terminal reports whether the loan reached a final state.
func (l *Loan) Terminal() bool {
	return l.Closed || l.Killed
}

// Clone returns a deep copy for snapshots and projections.
func (l *Loan) Clone() *Loan {
	out := *l
	out.Principal = fixed.Clone(l.Principal)
	out.FeesAmount = fixed.Clone(l.FeesAmount)
	out.FeesUsed = fixed.Clone(l.FeesUsed)
	return &out
}

// SettlementResult is what a close or kill decided. The core turns it into
// the ledger batch and the rewards notification.
type SettlementResult struct {
	Loan     *Loan
	FeesUsed *big.Int // consumed fee driving the reserve split
	Refund   *big.Int // fees returned to the token holder (close)
	Bounty   *big.Int // fee share paid to the killer (kill)
	CashIn   *big.Int // value the pool receives: principal + pool fee share
	Owner    uuid.UUID
	Killer   uuid.UUID
	Killed   bool
}
