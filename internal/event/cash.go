package event

import (
	"math/big"

	"github.com/google/uuid"
)

// CashDeposit credits a user's free balance from the external settlement
// layer. It is how underlying (or reward token) enters the ledger.
type CashDeposit struct {
	Meta
	UserID uuid.UUID
	Asset  string
	Amount *big.Int
}

func (e *CashDeposit) EventType() EventType { return EventTypeCashDeposit }

// CashWithdraw returns part of a user's free balance to the external
// settlement layer.
type CashWithdraw struct {
	Meta
	UserID uuid.UUID
	Asset  string
	Amount *big.Int
}

func (e *CashWithdraw) EventType() EventType { return EventTypeCashWithdraw }
