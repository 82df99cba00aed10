package event

import (
	"math/big"

	"github.com/google/uuid"
)

// PoolRegister lists a new pool for an underlying asset with its initial
// risk parameters. Rates are 1e18 fixed point.
type PoolRegister struct {
	Meta
	Caller          uuid.UUID
	UnderlyingAsset string
	ReceiptAsset    string
	ReserveFactor   *big.Int
	KillerRatio     *big.Int
	KillFactor      *big.Int
	MinBorrowLength int64
}

func (e *PoolRegister) EventType() EventType { return EventTypePoolRegister }

// PoolParamsUpdate replaces a pool's risk parameters.
type PoolParamsUpdate struct {
	Meta
	Caller          uuid.UUID
	ReserveFactor   *big.Int
	KillerRatio     *big.Int
	KillFactor      *big.Int
	MinBorrowLength int64
}

func (e *PoolParamsUpdate) EventType() EventType { return EventTypePoolParamsUpdate }

// PoolRewardsUpdate sets the pool's supply reward speed, borrow reward
// ratio, and the auto-credit flag. Indices are accrued before the new
// values take effect.
type PoolRewardsUpdate struct {
	Meta
	Caller      uuid.UUID
	SupplySpeed *big.Int
	BorrowRatio *big.Int
	Auto        bool
}

func (e *PoolRewardsUpdate) EventType() EventType { return EventTypePoolRewardsUpdate }

// RewardTokenUpdate designates the asset paid out by reward claims.
type RewardTokenUpdate struct {
	Meta
	Caller uuid.UUID
	Asset  string
}

func (e *RewardTokenUpdate) EventType() EventType { return EventTypeRewardTokenUpdate }

// ReserveSweep pays accumulated reserve value out of the pool to a
// recipient's free balance.
type ReserveSweep struct {
	Meta
	Caller    uuid.UUID
	Recipient uuid.UUID
	Amount    *big.Int
}

func (e *ReserveSweep) EventType() EventType { return EventTypeReserveSweep }

// FeesSweep pays accumulated killer-fee surplus out of the pool.
type FeesSweep struct {
	Meta
	Caller    uuid.UUID
	Recipient uuid.UUID
	Amount    *big.Int
}

func (e *FeesSweep) EventType() EventType { return EventTypeFeesSweep }
