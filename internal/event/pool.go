package event

import (
	"math/big"

	"github.com/google/uuid"
)

// PoolDeposit supplies underlying into the pool in exchange for receipt
// tokens minted at the current exchange rate.
type PoolDeposit struct {
	Meta
	UserID uuid.UUID
	Amount *big.Int
}

func (e *PoolDeposit) EventType() EventType { return EventTypePoolDeposit }

// PoolWithdraw redeems receipt tokens for underlying at the current
// exchange rate.
type PoolWithdraw struct {
	Meta
	UserID        uuid.UUID
	ReceiptAmount *big.Int
}

func (e *PoolWithdraw) EventType() EventType { return EventTypePoolWithdraw }
