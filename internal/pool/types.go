package pool

import (
	"math/big"

	"github.com/PaladinFinance/paladin-ledger/internal/fixed"
)

// Params are the admin-set risk parameters of a pool. Rates and ratios are
// 1e18 fixed point.
type Params struct {
	// ReserveFactor is the share of consumed fees retained by the pool's
	// reserve. Must satisfy 0 < ReserveFactor < 1e18.
	ReserveFactor *big.Int

	// KillerRatio is the share of a killed loan's fees paid to the killer
	// as bounty. Must satisfy KillerRatio <= ReserveFactor.
	KillerRatio *big.Int

	// KillFactor is the fraction of a loan's prepaid fees that may be
	// consumed before the loan becomes killable.
	KillFactor *big.Int

	// MinBorrowLength is the minimum loan duration in blocks used by the
	// minimum-fee and early-close penalty rules.
	MinBorrowLength int64
}

// Validate enforces the parameter invariants.
func (p Params) Validate() error {
	if p.ReserveFactor == nil || p.KillerRatio == nil || p.KillFactor == nil {
		return ErrInvalidParams
	}
	if p.ReserveFactor.Sign() <= 0 || p.ReserveFactor.Cmp(fixed.Wad) >= 0 {
		return ErrInvalidParams
	}
	if p.KillerRatio.Sign() < 0 || p.KillerRatio.Cmp(p.ReserveFactor) > 0 {
		return ErrInvalidParams
	}
	if p.KillFactor.Sign() <= 0 || p.KillFactor.Cmp(fixed.Wad) > 0 {
		return ErrInvalidParams
	}
	if p.MinBorrowLength <= 0 {
		return ErrInvalidParams
	}
	return nil
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	return Params{
		ReserveFactor:   fixed.Clone(p.ReserveFactor),
		KillerRatio:     fixed.Clone(p.KillerRatio),
		KillFactor:      fixed.Clone(p.KillFactor),
		MinBorrowLength: p.MinBorrowLength,
	}
}

// State is the accounting state of one pool. Cash mirrors the ledger's
// pool cash account at all times; AccruedFees is the sub-portion of
// TotalReserve earmarked for fee sweeps.
type State struct {
	ID              string
	UnderlyingAsset string
	ReceiptAsset    string

	Cash              *big.Int
	TotalBorrowed     *big.Int
	TotalReserve      *big.Int
	AccruedFees       *big.Int
	BorrowIndex       *big.Int // starts at 1e18, monotone non-decreasing
	AccrualBlock      int64
	NumberActiveLoans int64
	ReceiptSupply     *big.Int

	Params Params
}

// Clone returns a deep copy for snapshots and projections.
func (s *State) Clone() *State {
	return &State{
		ID:                s.ID,
		UnderlyingAsset:   s.UnderlyingAsset,
		ReceiptAsset:      s.ReceiptAsset,
		Cash:              fixed.Clone(s.Cash),
		TotalBorrowed:     fixed.Clone(s.TotalBorrowed),
		TotalReserve:      fixed.Clone(s.TotalReserve),
		AccruedFees:       fixed.Clone(s.AccruedFees),
		BorrowIndex:       fixed.Clone(s.BorrowIndex),
		AccrualBlock:      s.AccrualBlock,
		NumberActiveLoans: s.NumberActiveLoans,
		ReceiptSupply:     fixed.Clone(s.ReceiptSupply),
		Params:            s.Params.Clone(),
	}
}
