package rewards

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/fixed"
)

// SupplyRewardState is the per-asset accumulator. Index is reward-per-
// deposited-unit at 1e36 scale; both fields are monotone non-decreasing.
type SupplyRewardState struct {
	Index       *big.Int
	BlockNumber int64
}

func (s *SupplyRewardState) Clone() *SupplyRewardState {
	return &SupplyRewardState{
		Index:       fixed.Clone(s.Index),
		BlockNumber: s.BlockNumber,
	}
}

// SupplierPosition is one user's stake in one asset. A zero snapshot means
// never settled: the user accrues nothing for blocks before their first
// deposit.
type SupplierPosition struct {
	Deposited *big.Int
	Snapshot  *big.Int
}

func (p *SupplierPosition) Clone() *SupplierPosition {
	return &SupplierPosition{
		Deposited: fixed.Clone(p.Deposited),
		Snapshot:  fixed.Clone(p.Snapshot),
	}
}

// BorrowReward tracks the ratio-snapshot reward of one loan. Ratio is
// fixed at open/expand time and only used in auto mode; non-auto claims
// read the pool's current ratio instead.
type BorrowReward struct {
	PoolID   string
	Borrower uuid.UUID
	Ratio    *big.Int
	FeesUsed *big.Int // set when the close notification arrives
	Closed   bool
	Claimed  bool
}

func (b *BorrowReward) Clone() *BorrowReward {
	out := *b
	out.Ratio = fixed.Clone(b.Ratio)
	out.FeesUsed = fixed.Clone(b.FeesUsed)
	return &out
}

// PoolRewardConfig is the admin-set reward policy of a pool.
type PoolRewardConfig struct {
	SupplySpeed      *big.Int // reward units per block streamed to stakers
	BorrowRatio      *big.Int // 1e18 fraction of feesUsed paid on close
	Auto             bool     // credit borrow rewards automatically on close
	BorrowStartBlock int64    // block the current borrow program began, 0 if off
}

func (c *PoolRewardConfig) Clone() *PoolRewardConfig {
	return &PoolRewardConfig{
		SupplySpeed:      fixed.Clone(c.SupplySpeed),
		BorrowRatio:      fixed.Clone(c.BorrowRatio),
		Auto:             c.Auto,
		BorrowStartBlock: c.BorrowStartBlock,
	}
}

// EngineState is the full serializable state of the rewards engine, used
// for snapshots.
type EngineState struct {
	RewardToken string
	Supply      map[string]*SupplyRewardState
	Positions   map[string]map[uuid.UUID]*SupplierPosition
	TotalStaked map[string]*big.Int
	Accrued     map[uuid.UUID]*big.Int
	Loans       map[uuid.UUID]*BorrowReward
	Pools       map[string]*PoolRewardConfig
	PoolAssets  map[string]string
}
