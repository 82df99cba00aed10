package event

import (
	"math/big"

	"github.com/google/uuid"
)

// StakeDeposit escrows receipt tokens into the rewards engine so they start
// earning the supply reward stream.
type StakeDeposit struct {
	Meta
	UserID uuid.UUID
	Asset  string
	Amount *big.Int
}

func (e *StakeDeposit) EventType() EventType { return EventTypeStakeDeposit }

// StakeWithdraw releases staked receipt tokens back to the user.
type StakeWithdraw struct {
	Meta
	UserID uuid.UUID
	Asset  string
	Amount *big.Int
}

func (e *StakeWithdraw) EventType() EventType { return EventTypeStakeWithdraw }

// RewardsUpdateUser settles every asset position the user holds against the
// current reward indices.
type RewardsUpdateUser struct {
	Meta
	UserID uuid.UUID
}

func (e *RewardsUpdateUser) EventType() EventType { return EventTypeRewardsUpdateUser }

// RewardsClaim pays out the user's accrued reward balance from the reward
// fund. Retryable once the fund is refilled.
type RewardsClaim struct {
	Meta
	UserID uuid.UUID
}

func (e *RewardsClaim) EventType() EventType { return EventTypeRewardsClaim }

// LoanRewardsClaim claims the one-shot borrow reward for a closed loan in a
// pool running non-auto borrow rewards.
type LoanRewardsClaim struct {
	Meta
	LoanID uuid.UUID
	Caller uuid.UUID
}

func (e *LoanRewardsClaim) EventType() EventType { return EventTypeLoanRewardsClaim }

// RewardsFund tops up the reward fund from the external settlement layer.
type RewardsFund struct {
	Meta
	Amount *big.Int
}

func (e *RewardsFund) EventType() EventType { return EventTypeRewardsFund }
