package rewards

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/fixed"
)

// Engine distributes the reward token: a continuous per-block stream to
// receipt stakers (1e36 accumulator) and a one-shot fee-proportional
// payout to borrowers (ratio snapshot). It owns its state independently of
// the pool engine and is only informed of events; the one value it ever
// learns from a loan is feesUsed, delivered with the close notification.
type Engine struct {
	rewardToken string
	supply      map[string]*SupplyRewardState
	positions   map[string]map[uuid.UUID]*SupplierPosition
	totalStaked map[string]*big.Int
	accrued     map[uuid.UUID]*big.Int
	loans       map[uuid.UUID]*BorrowReward
	pools       map[string]*PoolRewardConfig

	// poolAssets maps a pool to its reward-eligible (receipt) asset.
	poolAssets map[string]string
}

func NewEngine() *Engine {
	return &Engine{
		supply:      make(map[string]*SupplyRewardState),
		positions:   make(map[string]map[uuid.UUID]*SupplierPosition),
		totalStaked: make(map[string]*big.Int),
		accrued:     make(map[uuid.UUID]*big.Int),
		loans:       make(map[uuid.UUID]*BorrowReward),
		pools:       make(map[string]*PoolRewardConfig),
		poolAssets:  make(map[string]string),
	}
}

// SetRewardToken designates the payout asset.
func (e *Engine) SetRewardToken(asset string) {
	e.rewardToken = asset
}

func (e *Engine) RewardToken() string {
	return e.rewardToken
}

// RegisterPool makes a pool's receipt asset reward-eligible with an empty
// program. The index starts at 1e36 so a fresh staker's snapshot is never
// mistaken for the unsettled zero value.
func (e *Engine) RegisterPool(poolID, receiptAsset string, block int64) {
	e.poolAssets[poolID] = receiptAsset
	if _, ok := e.supply[receiptAsset]; !ok {
		e.supply[receiptAsset] = &SupplyRewardState{
			Index:       fixed.Clone(fixed.DoubleWad),
			BlockNumber: block,
		}
	}
	if _, ok := e.pools[poolID]; !ok {
		e.pools[poolID] = &PoolRewardConfig{
			SupplySpeed: new(big.Int),
			BorrowRatio: new(big.Int),
		}
	}
}

func (e *Engine) assetState(asset string) (*SupplyRewardState, error) {
	s, ok := e.supply[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	return s, nil
}

// speedFor resolves the supply speed feeding an asset's stream. Two pools
// may share a receipt asset; the lexicographically first pool's program
// governs so identical logs accrue identically on replay.
func (e *Engine) speedFor(asset string) *big.Int {
	ids := make([]string, 0, 1)
	for poolID, a := range e.poolAssets {
		if a == asset {
			ids = append(ids, poolID)
		}
	}
	if len(ids) == 0 {
		return new(big.Int)
	}
	sort.Strings(ids)
	return e.pools[ids[0]].SupplySpeed
}

// accrueSupplyIndex advances the asset's accumulator to block. The block
// stamp always moves, even when the index does not, so speed changes are
// bracketed correctly.
func (e *Engine) accrueSupplyIndex(asset string, block int64) error {
	s, err := e.assetState(asset)
	if err != nil {
		return err
	}

	blocks := block - s.BlockNumber
	if blocks <= 0 {
		return nil
	}

	total := e.totalStaked[asset]
	speed := e.speedFor(asset)
	if total != nil && total.Sign() > 0 && speed.Sign() > 0 {
		delta := new(big.Int).Mul(speed, big.NewInt(blocks))
		delta.Mul(delta, fixed.DoubleWad)
		delta.Quo(delta, total)
		s.Index.Add(s.Index, delta)
	}
	s.BlockNumber = block
	return nil
}

// settleSupplier folds the index delta since the user's last settlement
// into their accrued balance, on the pre-change deposited amount.
func (e *Engine) settleSupplier(asset string, user uuid.UUID, block int64) error {
	if err := e.accrueSupplyIndex(asset, block); err != nil {
		return err
	}

	pos := e.position(asset, user)
	s := e.supply[asset]

	if pos.Snapshot.Sign() > 0 {
		delta := new(big.Int).Sub(s.Index, pos.Snapshot)
		earned := fixed.MulDouble(pos.Deposited, delta)
		e.credit(user, earned)
	}
	pos.Snapshot = fixed.Clone(s.Index)
	return nil
}

func (e *Engine) position(asset string, user uuid.UUID) *SupplierPosition {
	byUser, ok := e.positions[asset]
	if !ok {
		byUser = make(map[uuid.UUID]*SupplierPosition)
		e.positions[asset] = byUser
	}
	pos, ok := byUser[user]
	if !ok {
		pos = &SupplierPosition{Deposited: new(big.Int), Snapshot: new(big.Int)}
		byUser[user] = pos
	}
	return pos
}

func (e *Engine) credit(user uuid.UUID, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	acc, ok := e.accrued[user]
	if !ok {
		acc = new(big.Int)
		e.accrued[user] = acc
	}
	acc.Add(acc, amount)
}

// DepositStake escrows receipt tokens into the reward stream. The user is
// settled on their pre-change balance first so past blocks are attributed
// to past balances.
func (e *Engine) DepositStake(asset string, user uuid.UUID, amount *big.Int, block int64) error {
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if err := e.settleSupplier(asset, user, block); err != nil {
		return err
	}

	pos := e.position(asset, user)
	pos.Deposited.Add(pos.Deposited, amount)

	total, ok := e.totalStaked[asset]
	if !ok {
		total = new(big.Int)
		e.totalStaked[asset] = total
	}
	total.Add(total, amount)
	return nil
}

// WithdrawStake releases staked receipts after settling the user.
func (e *Engine) WithdrawStake(asset string, user uuid.UUID, amount *big.Int, block int64) error {
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if err := e.settleSupplier(asset, user, block); err != nil {
		return err
	}

	pos := e.position(asset, user)
	if pos.Deposited.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientStake, pos.Deposited, amount)
	}

	pos.Deposited.Sub(pos.Deposited, amount)
	e.totalStaked[asset].Sub(e.totalStaked[asset], amount)
	return nil
}

// UpdateUserRewards settles every asset the user has a nonzero position in.
func (e *Engine) UpdateUserRewards(user uuid.UUID, block int64) error {
	for _, asset := range sortedAssets(e.positions) {
		pos, ok := e.positions[asset][user]
		if !ok || pos.Deposited.Sign() == 0 {
			continue
		}
		if err := e.settleSupplier(asset, user, block); err != nil {
			return err
		}
	}
	return nil
}

// Accrued returns the user's claimable balance.
func (e *Engine) Accrued(user uuid.UUID) *big.Int {
	if acc, ok := e.accrued[user]; ok {
		return new(big.Int).Set(acc)
	}
	return new(big.Int)
}

// Claim zeros and returns the user's accrued balance. The caller settles
// the transfer against the reward fund and must verify coverage first;
// fundBalance is checked here so the error carries the engine's taxonomy.
func (e *Engine) Claim(user uuid.UUID, fundBalance *big.Int) (*big.Int, error) {
	if e.rewardToken == "" {
		return nil, ErrNoRewardToken
	}
	amount := e.Accrued(user)
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	if fundBalance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: fund %s < accrued %s", ErrInsufficientRewardSupply, fundBalance, amount)
	}
	e.accrued[user] = new(big.Int)
	return amount, nil
}

// OnLoanOpen snapshots the pool's borrow ratio for the loan when the pool
// runs auto borrow rewards with a nonzero ratio.
func (e *Engine) OnLoanOpen(poolID string, loanID, borrower uuid.UUID) {
	cfg, ok := e.pools[poolID]
	if !ok {
		return
	}

	br := &BorrowReward{
		PoolID:   poolID,
		Borrower: borrower,
		Ratio:    new(big.Int),
		FeesUsed: new(big.Int),
	}
	if cfg.Auto && cfg.BorrowRatio.Sign() > 0 {
		br.Ratio = fixed.Clone(cfg.BorrowRatio)
	}
	e.loans[loanID] = br
}

// OnLoanExpand re-snapshots the ratio to the pool's current value; the
// ratio drifts with the loan as it grows, downward included. A program
// zeroed since open zeroes the snapshot.
func (e *Engine) OnLoanExpand(poolID string, loanID uuid.UUID) {
	cfg, ok := e.pools[poolID]
	if !ok {
		return
	}
	br, ok := e.loans[loanID]
	if !ok {
		return
	}
	if cfg.Auto {
		br.Ratio = fixed.Clone(cfg.BorrowRatio)
	}
}

// OnLoanClose records the loan's consumed fee. In auto mode the reward is
// credited immediately at the snapshotted ratio and the loan is marked
// claimed; otherwise the borrower claims later at the then-current pool
// ratio. The two modes intentionally read different ratios.
func (e *Engine) OnLoanClose(poolID string, loanID, borrower uuid.UUID, feesUsed *big.Int) {
	br, ok := e.loans[loanID]
	if !ok {
		br = &BorrowReward{
			PoolID:   poolID,
			Borrower: borrower,
			Ratio:    new(big.Int),
		}
		e.loans[loanID] = br
	}
	br.Closed = true
	br.FeesUsed = fixed.Clone(feesUsed)

	cfg, ok := e.pools[poolID]
	if !ok || !cfg.Auto {
		return
	}

	reward := fixed.MulWad(feesUsed, br.Ratio)
	e.credit(borrower, reward)
	br.Claimed = true
}

// ClaimLoanRewards pays the one-shot borrow reward for a closed loan in a
// non-auto pool, at the pool's current ratio.
func (e *Engine) ClaimLoanRewards(loanID, caller uuid.UUID, fundBalance *big.Int) (*big.Int, error) {
	if e.rewardToken == "" {
		return nil, ErrNoRewardToken
	}
	br, ok := e.loans[loanID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLoan, loanID)
	}
	if !br.Closed {
		return nil, ErrLoanStillOpen
	}
	if br.Borrower != caller {
		return nil, ErrNotBorrower
	}
	if br.Claimed {
		return nil, ErrAlreadyClaimed
	}

	cfg := e.pools[br.PoolID]
	reward := fixed.MulWad(br.FeesUsed, cfg.BorrowRatio)
	if reward.Sign() > 0 && fundBalance.Cmp(reward) < 0 {
		return nil, fmt.Errorf("%w: fund %s < reward %s", ErrInsufficientRewardSupply, fundBalance, reward)
	}

	br.Claimed = true
	return reward, nil
}

// UpdatePoolRewards applies a new reward policy. The asset's index is
// accrued first so the old speed governs the blocks it covered. The borrow
// program start block is stamped when the ratio turns on (or auto toggles
// while on) and cleared when the ratio is zeroed.
func (e *Engine) UpdatePoolRewards(poolID string, speed, ratio *big.Int, auto bool, block int64) error {
	if ratio.Sign() < 0 || ratio.Cmp(fixed.Wad) > 0 {
		return ErrRatioOutOfRange
	}
	if speed.Sign() < 0 {
		return ErrZeroAmount
	}
	asset, ok := e.poolAssets[poolID]
	if !ok {
		return fmt.Errorf("%w: pool %s", ErrAssetNotFound, poolID)
	}

	if err := e.accrueSupplyIndex(asset, block); err != nil {
		return err
	}

	cfg := e.pools[poolID]
	switch {
	case ratio.Sign() == 0:
		cfg.BorrowStartBlock = 0
	case cfg.BorrowRatio.Sign() == 0 || cfg.Auto != auto:
		cfg.BorrowStartBlock = block
	}

	cfg.SupplySpeed = fixed.Clone(speed)
	cfg.BorrowRatio = fixed.Clone(ratio)
	cfg.Auto = auto
	return nil
}

// State exports a deep copy for snapshots.
func (e *Engine) State() *EngineState {
	out := &EngineState{
		RewardToken: e.rewardToken,
		Supply:      make(map[string]*SupplyRewardState, len(e.supply)),
		Positions:   make(map[string]map[uuid.UUID]*SupplierPosition, len(e.positions)),
		TotalStaked: make(map[string]*big.Int, len(e.totalStaked)),
		Accrued:     make(map[uuid.UUID]*big.Int, len(e.accrued)),
		Loans:       make(map[uuid.UUID]*BorrowReward, len(e.loans)),
		Pools:       make(map[string]*PoolRewardConfig, len(e.pools)),
		PoolAssets:  make(map[string]string, len(e.poolAssets)),
	}
	for k, v := range e.supply {
		out.Supply[k] = v.Clone()
	}
	for asset, byUser := range e.positions {
		m := make(map[uuid.UUID]*SupplierPosition, len(byUser))
		for u, p := range byUser {
			m[u] = p.Clone()
		}
		out.Positions[asset] = m
	}
	for k, v := range e.totalStaked {
		out.TotalStaked[k] = fixed.Clone(v)
	}
	for k, v := range e.accrued {
		out.Accrued[k] = fixed.Clone(v)
	}
	for k, v := range e.loans {
		out.Loans[k] = v.Clone()
	}
	for k, v := range e.pools {
		out.Pools[k] = v.Clone()
	}
	for k, v := range e.poolAssets {
		out.PoolAssets[k] = v
	}
	return out
}

// Restore replaces engine state from a snapshot.
func (e *Engine) Restore(s *EngineState) {
	e.rewardToken = s.RewardToken
	e.supply = s.Supply
	e.positions = s.Positions
	e.totalStaked = s.TotalStaked
	e.accrued = s.Accrued
	e.loans = s.Loans
	e.pools = s.Pools
	e.poolAssets = s.PoolAssets
	if e.poolAssets == nil {
		e.poolAssets = make(map[string]string)
	}
}

func sortedAssets(m map[string]map[uuid.UUID]*SupplierPosition) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Deterministic iteration keeps state hashes replay-stable.
	sort.Strings(out)
	return out
}
