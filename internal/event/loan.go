package event

import (
	"math/big"

	"github.com/google/uuid"
)

// LoanOpen borrows principal against a prepaid fee. Principal and fees move
// into a fresh delegation vehicle whose voting weight goes to Delegatee.
type LoanOpen struct {
	Meta
	LoanID    uuid.UUID
	Borrower  uuid.UUID
	Delegatee uuid.UUID
	Principal *big.Int
	Fees      *big.Int
}

func (e *LoanOpen) EventType() EventType { return EventTypeLoanOpen }

// LoanExpand escrows additional fees into an open loan's vehicle.
type LoanExpand struct {
	Meta
	LoanID    uuid.UUID
	Caller    uuid.UUID
	ExtraFees *big.Int
}

func (e *LoanExpand) EventType() EventType { return EventTypeLoanExpand }

// LoanClose voluntarily settles an open loan. Caller must hold the loan's
// ownership token.
type LoanClose struct {
	Meta
	LoanID uuid.UUID
	Caller uuid.UUID
}

func (e *LoanClose) EventType() EventType { return EventTypeLoanClose }

// LoanKill force-settles a loan whose fee cushion is near exhaustion.
// The killer collects a bounty; self-kill is rejected.
type LoanKill struct {
	Meta
	LoanID uuid.UUID
	Killer uuid.UUID
}

func (e *LoanKill) EventType() EventType { return EventTypeLoanKill }

// LoanTransfer moves the loan's ownership token, and with it the right to
// expand or close, to a new holder.
type LoanTransfer struct {
	Meta
	LoanID uuid.UUID
	Caller uuid.UUID
	To     uuid.UUID
}

func (e *LoanTransfer) EventType() EventType { return EventTypeLoanTransfer }
