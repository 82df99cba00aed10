package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total.Sign() != 0 {
			return fmt.Errorf("global balance for asset %d is non-zero: %s", assetID, total.String())
		}
	}

	return nil
}

// ValidateUserCashNonNegative checks a user's free balance >= 0
func (v *InvariantValidator) ValidateUserCashNonNegative(userID uuid.UUID, assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(userID, assetID))
}

// ValidatePoolCashNonNegative checks the pool's cash account. Pool cash may
// legitimately run low while lent out, but never negative.
func (v *InvariantValidator) ValidatePoolCashNonNegative(poolID string, assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewPoolAccountKey(poolID, SubTypePoolCash, assetID))
}

// ValidateVehicleDrained checks that a settled loan's vehicle sub-accounts
// are empty. Settlement must route every unit somewhere.
func (v *InvariantValidator) ValidateVehicleDrained(vehicleID uuid.UUID, assetID AssetID) error {
	for _, sub := range []AccountSubType{SubTypeVehiclePrincipal, SubTypeVehicleFees} {
		balance := v.tracker.GetVehicleBalance(vehicleID, sub, assetID)
		if balance.Sign() != 0 {
			return fmt.Errorf("settled vehicle %s has residual balance: %s", vehicleID, balance.String())
		}
	}
	return nil
}
