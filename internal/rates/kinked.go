package rates

import "math/big"

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// KinkedModel is a jump-rate curve: below the kink utilisation the rate
// grows linearly from BaseRate with Multiplier; above it the excess
// utilisation is priced with JumpMultiplier. All parameters are per-block
// rates at 1e18 scale; Kink is a 1e18 utilisation fraction.
type KinkedModel struct {
	BaseRate       *big.Int
	Multiplier     *big.Int
	JumpMultiplier *big.Int
	Kink           *big.Int
}

// Utilisation returns borrowed / (cash + borrowed − reserves) at 1e18
// scale, zero when the pool holds no net value.
func (m *KinkedModel) Utilisation(cash, borrowed, reserves *big.Int) *big.Int {
	total := new(big.Int).Add(cash, borrowed)
	total.Sub(total, reserves)
	if total.Sign() <= 0 || borrowed.Sign() <= 0 {
		return new(big.Int)
	}
	util := new(big.Int).Mul(borrowed, wad)
	return util.Quo(util, total)
}

func (m *KinkedModel) BorrowRate(cash, borrowed, reserves *big.Int) *big.Int {
	util := m.Utilisation(cash, borrowed, reserves)

	if m.Kink.Sign() == 0 || util.Cmp(m.Kink) <= 0 {
		rate := new(big.Int).Mul(util, m.Multiplier)
		rate.Quo(rate, wad)
		return rate.Add(rate, m.BaseRate)
	}

	normal := new(big.Int).Mul(m.Kink, m.Multiplier)
	normal.Quo(normal, wad)
	normal.Add(normal, m.BaseRate)

	excess := new(big.Int).Sub(util, m.Kink)
	excess.Mul(excess, m.JumpMultiplier)
	excess.Quo(excess, wad)

	return normal.Add(normal, excess)
}

func (m *KinkedModel) SupplyRate(cash, borrowed, reserves, reserveFactor *big.Int) *big.Int {
	borrowRate := m.BorrowRate(cash, borrowed, reserves)

	oneMinusReserve := new(big.Int).Sub(wad, reserveFactor)
	rateToPool := new(big.Int).Mul(borrowRate, oneMinusReserve)
	rateToPool.Quo(rateToPool, wad)

	util := m.Utilisation(cash, borrowed, reserves)
	rate := new(big.Int).Mul(util, rateToPool)
	return rate.Quo(rate, wad)
}

// FixedModel returns a constant borrow rate regardless of utilisation.
// Useful for tests and for pools governed by an external rate setter.
type FixedModel struct {
	Rate *big.Int
}

func (m *FixedModel) BorrowRate(cash, borrowed, reserves *big.Int) *big.Int {
	return new(big.Int).Set(m.Rate)
}

func (m *FixedModel) SupplyRate(cash, borrowed, reserves, reserveFactor *big.Int) *big.Int {
	oneMinusReserve := new(big.Int).Sub(wad, reserveFactor)
	rate := new(big.Int).Mul(m.Rate, oneMinusReserve)
	return rate.Quo(rate, wad)
}
