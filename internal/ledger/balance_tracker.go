package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) bal(key AccountKey) *big.Int {
	b, ok := bt.balances[key]
	if !ok {
		b = new(big.Int)
		bt.balances[key] = b
	}
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.bal(j.DebitAccount)
	debit.Add(debit, j.Amount)
	credit := bt.bal(j.CreditAccount)
	credit.Sub(credit, j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// RevertBatch undoes a previously applied batch. Used when post-apply
// validation fails and the event must leave no trace.
func (bt *BalanceTracker) RevertBatch(batch *Batch) {
	for _, j := range batch.Journals {
		debit := bt.bal(j.DebitAccount)
		debit.Sub(debit, j.Amount)
		credit := bt.bal(j.CreditAccount)
		credit.Add(credit, j.Amount)
	}
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// GetUserCash returns a user's free balance in an asset
func (bt *BalanceTracker) GetUserCash(userID uuid.UUID, assetID AssetID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, assetID))
}

// GetPoolCash returns the pool's lendable underlying balance
func (bt *BalanceTracker) GetPoolCash(poolID string, assetID AssetID) *big.Int {
	return bt.GetBalance(NewPoolAccountKey(poolID, SubTypePoolCash, assetID))
}

// GetVehicleBalance returns a vehicle escrow sub-account balance
func (bt *BalanceTracker) GetVehicleBalance(vehicleID uuid.UUID, subType AccountSubType, assetID AssetID) *big.Int {
	return bt.GetBalance(NewVehicleAccountKey(vehicleID, subType, assetID))
}

// GetRewardFund returns the reward-token balance backing claims
func (bt *BalanceTracker) GetRewardFund(assetID AssetID) *big.Int {
	return bt.GetBalance(NewRewardsAccountKey(SubTypeRewardFund, assetID))
}

// ValidateSufficient checks that an account can cover a transfer of amount
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, amount *big.Int) error {
	have := bt.GetBalance(key)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance on %s: have=%s, need=%s",
			key.AccountPath(), have.String(), amount.String())
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0.
// The external settlement account is the only account allowed to go
// negative (it mirrors value held outside the ledger).
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance.String())
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (must be 0 for a
// zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		t, ok := totals[key.AssetID]
		if !ok {
			t = new(big.Int)
			totals[key.AssetID] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// SetBalance installs a balance directly. Used by snapshot restore only.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
