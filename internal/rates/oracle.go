package rates

import "math/big"

// InterestOracle prices borrow demand. Rates are 1e18 fixed point per
// block. Implementations must be pure functions of their inputs so the
// core stays deterministic and replayable.
type InterestOracle interface {
	// BorrowRate returns the per-block rate charged on outstanding borrows.
	BorrowRate(cash, borrowed, reserves *big.Int) *big.Int

	// SupplyRate returns the per-block rate earned by suppliers after the
	// reserve cut.
	SupplyRate(cash, borrowed, reserves, reserveFactor *big.Int) *big.Int
}

// RateMultiplier scales an oracle rate by a governance-driven factor
// (1e18 fixed point, 1e18 = identity). External strategies plug in here.
type RateMultiplier interface {
	Multiplier(poolID string) *big.Int
}

// ScaledOracle wraps an oracle with a multiplier for one pool.
type ScaledOracle struct {
	Inner      InterestOracle
	PoolID     string
	Multiplier RateMultiplier
}

func (s *ScaledOracle) BorrowRate(cash, borrowed, reserves *big.Int) *big.Int {
	rate := s.Inner.BorrowRate(cash, borrowed, reserves)
	return applyMultiplier(rate, s.Multiplier, s.PoolID)
}

func (s *ScaledOracle) SupplyRate(cash, borrowed, reserves, reserveFactor *big.Int) *big.Int {
	rate := s.Inner.SupplyRate(cash, borrowed, reserves, reserveFactor)
	return applyMultiplier(rate, s.Multiplier, s.PoolID)
}

func applyMultiplier(rate *big.Int, m RateMultiplier, poolID string) *big.Int {
	if m == nil {
		return rate
	}
	out := new(big.Int).Mul(rate, m.Multiplier(poolID))
	return out.Quo(out, wad)
}
