package loan

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/fixed"
	"github.com/PaladinFinance/paladin-ledger/internal/pool"
)

// Manager is the loan lifecycle state machine. States move Open → Closed
// or Open → Killed exactly once; Expand is a self-transition on Open.
// The core accrues pool interest before calling any state-changing method
// and turns the returned settlement into ledger journals.
type Manager struct {
	pools     *pool.Manager
	loans     map[uuid.UUID]*Loan
	vehicles  map[uuid.UUID]*Vehicle
	ownership OwnershipToken
	table     *OwnershipTable

	nextTokenID int64
}

func NewManager(pools *pool.Manager) *Manager {
	table := NewOwnershipTable()
	return &Manager{
		pools:       pools,
		loans:       make(map[uuid.UUID]*Loan),
		vehicles:    make(map[uuid.UUID]*Vehicle),
		ownership:   table,
		table:       table,
		nextTokenID: 1,
	}
}

func (m *Manager) Get(loanID uuid.UUID) (*Loan, error) {
	l, ok := m.loans[loanID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLoanNotFound, loanID)
	}
	return l, nil
}

// OwnerOf resolves the current holder of a loan's ownership token.
func (m *Manager) OwnerOf(loanID uuid.UUID) (uuid.UUID, error) {
	l, err := m.Get(loanID)
	if err != nil {
		return uuid.Nil, err
	}
	return m.ownership.OwnerOf(l.TokenID)
}

// Open creates a loan. Checks liquidity, the delegatee, and the minimum
// fee rule; moves the pool counters and mints the ownership token. The
// caller escrows principal + fees into the vehicle's ledger accounts.
func (m *Manager) Open(poolID string, loanID, borrower, delegatee uuid.UUID, principal, fees *big.Int, block int64) (*Loan, error) {
	if _, ok := m.loans[loanID]; ok {
		return nil, fmt.Errorf("loan engine: duplicate loan id %s", loanID)
	}
	if delegatee == uuid.Nil {
		return nil, ErrZeroDelegatee
	}
	if fixed.IsZero(principal) || principal.Sign() < 0 {
		return nil, ErrZeroAmount
	}

	minFees, err := m.pools.MinBorrowFees(poolID, principal)
	if err != nil {
		return nil, err
	}
	if fees == nil || fees.Cmp(minFees) < 0 {
		return nil, fmt.Errorf("%w: need %s, got %s", ErrFeesTooLow, minFees, fees)
	}

	if err := m.pools.BorrowOut(poolID, principal); err != nil {
		return nil, err
	}

	vehicle := NewVehicle(loanID)
	if err := vehicle.Initiate(delegatee, principal, fees); err != nil {
		return nil, err
	}

	tokenID := m.nextTokenID
	m.nextTokenID++
	if err := m.ownership.Mint(borrower, tokenID); err != nil {
		return nil, err
	}

	l := &Loan{
		ID:         loanID,
		PoolID:     poolID,
		Borrower:   borrower,
		Delegatee:  delegatee,
		VehicleID:  vehicle.ID,
		Principal:  fixed.Clone(principal),
		FeesAmount: fixed.Clone(fees),
		FeesUsed:   new(big.Int),
		StartBlock: block,
		TokenID:    tokenID,
	}
	m.loans[loanID] = l
	m.vehicles[vehicle.ID] = vehicle
	return l, nil
}

// Expand escrows extra fees into an open loan. Only the current token
// holder may expand.
func (m *Manager) Expand(loanID, caller uuid.UUID, extraFees *big.Int) (*Loan, error) {
	l, err := m.Get(loanID)
	if err != nil {
		return nil, err
	}
	if l.Terminal() {
		return nil, ErrLoanClosed
	}
	if fixed.IsZero(extraFees) || extraFees.Sign() < 0 {
		return nil, ErrZeroAmount
	}
	if err := m.requireOwner(l, caller); err != nil {
		return nil, err
	}

	if err := m.vehicles[l.VehicleID].Expand(extraFees); err != nil {
		return nil, err
	}
	l.FeesAmount.Add(l.FeesAmount, extraFees)
	return l, nil
}

// Transfer moves the loan's ownership token while the loan is open.
func (m *Manager) Transfer(loanID, caller, to uuid.UUID) error {
	l, err := m.Get(loanID)
	if err != nil {
		return err
	}
	if l.Terminal() {
		return ErrLoanClosed
	}
	return m.ownership.Transfer(l.TokenID, caller, to)
}

// ProjectedFeesUsed computes the fee the loan would consume if settled at
// block, before committing anything:
//
//	natural = elapsed * principal * rate / 1e18
//	floor   = minBorrowFees(principal) when elapsed < minBorrowLength
//	result  = min(feesAmount, max(natural, floor))
//
// The rate is the pool's current borrow rate, so callers should accrue
// first for a settlement-grade number.
func (m *Manager) ProjectedFeesUsed(l *Loan, block int64) (*big.Int, error) {
	rate, err := m.pools.BorrowRate(l.PoolID)
	if err != nil {
		return nil, err
	}
	ps, err := m.pools.Get(l.PoolID)
	if err != nil {
		return nil, err
	}

	elapsed := block - l.StartBlock
	if elapsed < 0 {
		elapsed = 0
	}

	natural := new(big.Int).Mul(big.NewInt(elapsed), l.Principal)
	natural = fixed.MulWad(natural, rate)

	if elapsed < ps.Params.MinBorrowLength {
		floor := new(big.Int).Mul(big.NewInt(ps.Params.MinBorrowLength), l.Principal)
		floor = fixed.MulWad(floor, rate)
		floor = fixed.Max(floor, big.NewInt(1))
		natural = fixed.Max(natural, floor)
	}

	return fixed.Min(natural, l.FeesAmount), nil
}

// IsKillable reports whether the projected consumed fee has crossed the
// kill factor of the prepaid amount. Terminal loans are never killable.
func (m *Manager) IsKillable(loanID uuid.UUID, block int64) (bool, error) {
	l, err := m.Get(loanID)
	if err != nil {
		return false, err
	}
	if l.Terminal() {
		return false, nil
	}

	used, err := m.ProjectedFeesUsed(l, block)
	if err != nil {
		return false, err
	}
	ps, err := m.pools.Get(l.PoolID)
	if err != nil {
		return false, err
	}

	threshold := fixed.MulWad(l.FeesAmount, ps.Params.KillFactor)
	return used.Cmp(threshold) > 0, nil
}

// Close settles an open loan voluntarily. The consumed fee goes to the
// pool; the remainder refunds to the token holder.
func (m *Manager) Close(loanID, caller uuid.UUID, block int64) (*SettlementResult, error) {
	l, err := m.Get(loanID)
	if err != nil {
		return nil, err
	}
	if l.Terminal() {
		return nil, ErrLoanClosed
	}
	if err := m.requireOwner(l, caller); err != nil {
		return nil, err
	}

	feesUsed, err := m.ProjectedFeesUsed(l, block)
	if err != nil {
		return nil, err
	}

	refund := new(big.Int).Sub(l.FeesAmount, feesUsed)
	cashIn := new(big.Int).Add(l.Principal, feesUsed)

	if err := m.settle(l, feesUsed, cashIn, block, false); err != nil {
		return nil, err
	}

	return &SettlementResult{
		Loan:     l,
		FeesUsed: feesUsed,
		Refund:   refund,
		Bounty:   new(big.Int),
		CashIn:   cashIn,
		Owner:    caller,
	}, nil
}

// Kill force-settles a killable loan. The killer takes killerRatio of the
// prepaid fees as bounty; the rest of the escrow goes to the pool. The
// borrower gets nothing back.
func (m *Manager) Kill(loanID, killer uuid.UUID, block int64) (*SettlementResult, error) {
	l, err := m.Get(loanID)
	if err != nil {
		return nil, err
	}
	if l.Terminal() {
		return nil, ErrLoanClosed
	}
	if killer == l.Borrower {
		return nil, ErrSelfKill
	}

	killable, err := m.IsKillable(loanID, block)
	if err != nil {
		return nil, err
	}
	if !killable {
		return nil, ErrNotKillable
	}

	feesUsed, err := m.ProjectedFeesUsed(l, block)
	if err != nil {
		return nil, err
	}
	ps, err := m.pools.Get(l.PoolID)
	if err != nil {
		return nil, err
	}

	bounty := fixed.MulWad(l.FeesAmount, ps.Params.KillerRatio)
	feesToPool := new(big.Int).Sub(l.FeesAmount, bounty)
	cashIn := new(big.Int).Add(l.Principal, feesToPool)

	if err := m.settle(l, feesUsed, cashIn, block, true); err != nil {
		return nil, err
	}

	return &SettlementResult{
		Loan:     l,
		FeesUsed: feesUsed,
		Refund:   new(big.Int),
		Bounty:   bounty,
		CashIn:   cashIn,
		Killer:   killer,
		Killed:   true,
	}, nil
}

func (m *Manager) settle(l *Loan, feesUsed, cashIn *big.Int, block int64, killed bool) error {
	if err := m.pools.ApplySettlement(l.PoolID, l.Principal, feesUsed, cashIn); err != nil {
		return err
	}
	if err := m.vehicles[l.VehicleID].Settle(feesUsed); err != nil {
		return err
	}
	if err := m.ownership.Burn(l.TokenID); err != nil {
		return err
	}

	l.FeesUsed = fixed.Clone(feesUsed)
	l.CloseBlock = block
	if killed {
		l.Killed = true
	} else {
		l.Closed = true
	}
	return nil
}

func (m *Manager) requireOwner(l *Loan, caller uuid.UUID) error {
	owner, err := m.ownership.OwnerOf(l.TokenID)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrUnauthorized
	}
	return nil
}

// Loans returns the live loan map for snapshots and projections. Callers
// must not mutate outside the core goroutine.
func (m *Manager) Loans() map[uuid.UUID]*Loan {
	return m.loans
}

// LoansSnapshot deep-copies all loan records.
func (m *Manager) LoansSnapshot() map[uuid.UUID]*Loan {
	out := make(map[uuid.UUID]*Loan, len(m.loans))
	for id, l := range m.loans {
		out[id] = l.Clone()
	}
	return out
}

// VehiclesSnapshot deep-copies all vehicles.
func (m *Manager) VehiclesSnapshot() map[uuid.UUID]*Vehicle {
	out := make(map[uuid.UUID]*Vehicle, len(m.vehicles))
	for id, v := range m.vehicles {
		cp := *v
		cp.Weight = new(big.Int).Set(v.Weight)
		out[id] = &cp
	}
	return out
}

// Vehicles returns the live vehicle map for snapshots.
func (m *Manager) Vehicles() map[uuid.UUID]*Vehicle {
	return m.vehicles
}

// OwnershipOwners exposes the ownership table for snapshots.
func (m *Manager) OwnershipOwners() map[int64]uuid.UUID {
	return m.table.Owners()
}

// Restore installs snapshotted lifecycle state.
func (m *Manager) Restore(loans map[uuid.UUID]*Loan, vehicles map[uuid.UUID]*Vehicle, owners map[int64]uuid.UUID, nextTokenID int64) {
	m.loans = loans
	m.vehicles = vehicles
	m.table.Restore(owners)
	m.nextTokenID = nextTokenID
}

// NextTokenID exposes the mint counter for snapshots.
func (m *Manager) NextTokenID() int64 {
	return m.nextTokenID
}
