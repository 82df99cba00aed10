package pool

import (
	"fmt"
	"math/big"

	"github.com/PaladinFinance/paladin-ledger/internal/fixed"
	"github.com/PaladinFinance/paladin-ledger/internal/rates"
)

// Manager owns all pool states and their interest bookkeeping. It is
// mutated only by the core goroutine; mutations are committed by the core
// after ledger validation, so every method either fully applies or returns
// an error without touching state.
type Manager struct {
	pools   map[string]*State
	oracles map[string]rates.InterestOracle
}

func NewManager() *Manager {
	return &Manager{
		pools:   make(map[string]*State),
		oracles: make(map[string]rates.InterestOracle),
	}
}

// Register lists a new pool. The borrow index starts at 1e18.
func (m *Manager) Register(id, underlying, receipt string, params Params, oracle rates.InterestOracle) (*State, error) {
	if _, ok := m.pools[id]; ok {
		return nil, ErrPoolExists
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if oracle == nil {
		return nil, ErrInvalidParams
	}

	s := &State{
		ID:              id,
		UnderlyingAsset: underlying,
		ReceiptAsset:    receipt,
		Cash:            new(big.Int),
		TotalBorrowed:   new(big.Int),
		TotalReserve:    new(big.Int),
		AccruedFees:     new(big.Int),
		BorrowIndex:     fixed.Clone(fixed.Wad),
		ReceiptSupply:   new(big.Int),
		Params:          params.Clone(),
	}
	m.pools[id] = s
	m.oracles[id] = oracle
	return s, nil
}

func (m *Manager) Get(id string) (*State, error) {
	s, ok := m.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return s, nil
}

// States returns the live pool map for snapshotting. Callers must not
// mutate outside the core goroutine.
func (m *Manager) States() map[string]*State {
	return m.pools
}

// Snapshot deep-copies all pool states.
func (m *Manager) Snapshot() map[string]*State {
	out := make(map[string]*State, len(m.pools))
	for id, s := range m.pools {
		out[id] = s.Clone()
	}
	return out
}

// RestoreAll replaces the pool map wholesale. Oracle bindings for pools
// that existed before are kept; stale oracle entries are harmless.
func (m *Manager) RestoreAll(pools map[string]*State) {
	m.pools = pools
}

// Restore installs a snapshotted state, replacing any existing entry.
// The oracle must be re-bound by the caller.
func (m *Manager) Restore(s *State, oracle rates.InterestOracle) {
	m.pools[s.ID] = s
	m.oracles[s.ID] = oracle
}

// SetParams replaces the pool's risk parameters after validation.
func (m *Manager) SetParams(id string, params Params) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	s.Params = params.Clone()
	return nil
}

// AccrueInterest advances the pool to currentBlock. No-op when already
// accrued this block; stale blocks are rejected so replays cannot rewind
// the index.
//
//	factor   = rate * blocks
//	interest = totalBorrowed * factor / 1e18
//	reserve += interest * reserveFactor / 1e18
//	fees    += interest * (reserveFactor - killerRatio) / 1e18
//	index   += index * factor / 1e18
//	borrowed += interest
//
// Division truncates throughout; dust stays with the pool.
func (m *Manager) AccrueInterest(id string, currentBlock int64) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.AccrualBlock == currentBlock {
		return nil
	}
	if currentBlock < s.AccrualBlock {
		return fmt.Errorf("%w: %d < %d", ErrStaleBlock, currentBlock, s.AccrualBlock)
	}

	blocks := big.NewInt(currentBlock - s.AccrualBlock)
	rate := m.oracles[id].BorrowRate(s.Cash, s.TotalBorrowed, s.TotalReserve)
	factor := new(big.Int).Mul(rate, blocks)
	interest := fixed.MulWad(s.TotalBorrowed, factor)

	s.TotalReserve.Add(s.TotalReserve, fixed.MulWad(interest, s.Params.ReserveFactor))
	feeShare := new(big.Int).Sub(s.Params.ReserveFactor, s.Params.KillerRatio)
	s.AccruedFees.Add(s.AccruedFees, fixed.MulWad(interest, feeShare))
	s.BorrowIndex.Add(s.BorrowIndex, fixed.MulWad(s.BorrowIndex, factor))
	s.TotalBorrowed.Add(s.TotalBorrowed, interest)
	s.AccrualBlock = currentBlock

	return fixed.CheckNonNegative(s.TotalBorrowed, s.TotalReserve, s.AccruedFees)
}

// ExchangeRate returns (cash + borrowed − reserve) * 1e18 / receiptSupply,
// or 1e18 when no receipts exist.
func (m *Manager) ExchangeRate(id string) (*big.Int, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return exchangeRate(s), nil
}

func exchangeRate(s *State) *big.Int {
	if s.ReceiptSupply.Sign() == 0 {
		return fixed.Clone(fixed.Wad)
	}
	value := new(big.Int).Add(s.Cash, s.TotalBorrowed)
	value.Sub(value, s.TotalReserve)
	return fixed.DivWad(value, s.ReceiptSupply)
}

// BorrowRate returns the current per-block borrow rate.
func (m *Manager) BorrowRate(id string) (*big.Int, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.oracles[id].BorrowRate(s.Cash, s.TotalBorrowed, s.TotalReserve), nil
}

// SupplyRate returns the current per-block supply rate.
func (m *Manager) SupplyRate(id string) (*big.Int, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.oracles[id].SupplyRate(s.Cash, s.TotalBorrowed, s.TotalReserve, s.Params.ReserveFactor), nil
}

// Deposit mints receipts at the pre-deposit exchange rate and grows cash.
// Interest must already be accrued for this block by the caller.
func (m *Manager) Deposit(id string, amount *big.Int) (*big.Int, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(amount) || amount.Sign() < 0 {
		return nil, ErrZeroAmount
	}

	minted := fixed.DivWad(amount, exchangeRate(s))
	if minted.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	s.Cash.Add(s.Cash, amount)
	s.ReceiptSupply.Add(s.ReceiptSupply, minted)
	return minted, nil
}

// Withdraw burns receipts at the current exchange rate and shrinks cash.
// Cash may be below the redemption value while lent out.
func (m *Manager) Withdraw(id string, receiptAmount *big.Int) (*big.Int, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if fixed.IsZero(receiptAmount) || receiptAmount.Sign() < 0 {
		return nil, ErrZeroAmount
	}
	if s.ReceiptSupply.Cmp(receiptAmount) < 0 {
		return nil, fmt.Errorf("%w: receipt supply %s < %s", ErrInsufficientLiquidity, s.ReceiptSupply, receiptAmount)
	}

	amount := fixed.MulWad(receiptAmount, exchangeRate(s))
	if s.Cash.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: cash %s < %s", ErrInsufficientLiquidity, s.Cash, amount)
	}

	s.Cash.Sub(s.Cash, amount)
	s.ReceiptSupply.Sub(s.ReceiptSupply, receiptAmount)
	return amount, nil
}

// MinBorrowFees returns max(1, minBorrowLength * principal * rate / 1e18)
// where rate is the marginal borrow rate as if the borrow had already
// happened.
func (m *Manager) MinBorrowFees(id string, principal *big.Int) (*big.Int, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	postCash := new(big.Int).Sub(s.Cash, principal)
	postBorrowed := new(big.Int).Add(s.TotalBorrowed, principal)
	rate := m.oracles[id].BorrowRate(postCash, postBorrowed, s.TotalReserve)

	fees := new(big.Int).Mul(big.NewInt(s.Params.MinBorrowLength), principal)
	fees = fixed.MulWad(fees, rate)
	return fixed.Max(fees, big.NewInt(1)), nil
}

// BorrowOut moves principal from cash to outstanding borrows for a newly
// opened loan.
func (m *Manager) BorrowOut(id string, principal *big.Int) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.Cash.Cmp(principal) < 0 {
		return fmt.Errorf("%w: cash %s < principal %s", ErrInsufficientLiquidity, s.Cash, principal)
	}

	s.Cash.Sub(s.Cash, principal)
	s.TotalBorrowed.Add(s.TotalBorrowed, principal)
	s.NumberActiveLoans++
	return nil
}

// ApplySettlement books a loan close or kill. cashIn is the value the
// pool actually receives (principal plus the pool's share of the consumed
// fee); feesUsed drives the reserve split. TotalBorrowed is clamped at
// zero: the dust absorbed here simply vanishes from the counter.
func (m *Manager) ApplySettlement(id string, principal, feesUsed, cashIn *big.Int) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	s.Cash.Add(s.Cash, cashIn)
	s.TotalReserve.Add(s.TotalReserve, fixed.MulWad(feesUsed, s.Params.ReserveFactor))
	feeShare := new(big.Int).Sub(s.Params.ReserveFactor, s.Params.KillerRatio)
	s.AccruedFees.Add(s.AccruedFees, fixed.MulWad(feesUsed, feeShare))

	s.TotalBorrowed.Sub(s.TotalBorrowed, principal)
	if s.TotalBorrowed.Sign() < 0 {
		s.TotalBorrowed.SetInt64(0)
	}

	s.NumberActiveLoans--
	return fixed.CheckNonNegative(s.TotalReserve, s.AccruedFees)
}

// SweepReserve pays reserve value out of the pool. The fee-earmarked
// portion is protected; sweep it with SweepFees.
func (m *Manager) SweepReserve(id string, amount *big.Int) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	free := new(big.Int).Sub(s.TotalReserve, s.AccruedFees)
	if free.Cmp(amount) < 0 {
		return fmt.Errorf("%w: free reserve %s < %s", ErrInsufficientReserve, free, amount)
	}
	if s.Cash.Cmp(amount) < 0 {
		return fmt.Errorf("%w: cash %s < %s", ErrInsufficientLiquidity, s.Cash, amount)
	}

	s.TotalReserve.Sub(s.TotalReserve, amount)
	s.Cash.Sub(s.Cash, amount)
	return nil
}

// SweepFees pays accrued fee value out of the pool. Fees are a sub-portion
// of the reserve, so both counters shrink.
func (m *Manager) SweepFees(id string, amount *big.Int) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.AccruedFees.Cmp(amount) < 0 {
		return fmt.Errorf("%w: accrued %s < %s", ErrInsufficientFees, s.AccruedFees, amount)
	}
	if s.Cash.Cmp(amount) < 0 {
		return fmt.Errorf("%w: cash %s < %s", ErrInsufficientLiquidity, s.Cash, amount)
	}

	s.AccruedFees.Sub(s.AccruedFees, amount)
	s.TotalReserve.Sub(s.TotalReserve, amount)
	s.Cash.Sub(s.Cash, amount)
	return nil
}
