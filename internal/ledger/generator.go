package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from engine decisions.
// Pre-checks run against the live tracker, so a returned batch is known to
// be coverable at generation time; the core applies it atomically.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence aligns the generator with the core's event sequence after
// snapshot restore.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(eventRef string, blockNumber int64, capacity int) *Batch {
	return &Batch{
		BatchID:     uuid.New(),
		EventRef:    eventRef,
		Sequence:    jg.sequence,
		BlockNumber: blockNumber,
		Journals:    make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) addJournal(b *Batch, debit, credit AccountKey, amount *big.Int, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		BlockNumber:   b.BlockNumber,
	})
}

// GenerateCashDeposit moves funds: external:settlement → user:cash
func (jg *JournalGenerator) GenerateCashDeposit(
	userID uuid.UUID,
	eventRef string,
	amount *big.Int,
	assetID AssetID,
	blockNumber int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, blockNumber, 1)
	jg.addJournal(batch,
		NewUserAccountKey(userID, assetID),
		NewExternalAccountKey(assetID),
		amount, JournalTypeCashDeposit)
	jg.sequence++
	return batch, nil
}

// GenerateCashWithdraw moves funds: user:cash → external:settlement
func (jg *JournalGenerator) GenerateCashWithdraw(
	userID uuid.UUID,
	eventRef string,
	amount *big.Int,
	assetID AssetID,
	blockNumber int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewUserAccountKey(userID, assetID), amount); err != nil {
		return nil, fmt.Errorf("cash withdraw pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 1)
	jg.addJournal(batch,
		NewExternalAccountKey(assetID),
		NewUserAccountKey(userID, assetID),
		amount, JournalTypeCashWithdrawal)
	jg.sequence++
	return batch, nil
}

// GeneratePoolDeposit settles a supply into the pool:
// user:cash → pool:cash for the underlying, and a receipt mint against the
// external settlement account for the minted amount.
func (jg *JournalGenerator) GeneratePoolDeposit(
	userID uuid.UUID,
	poolID string,
	eventRef string,
	amount *big.Int,
	minted *big.Int,
	underlyingID AssetID,
	receiptID AssetID,
	blockNumber int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewUserAccountKey(userID, underlyingID), amount); err != nil {
		return nil, fmt.Errorf("pool deposit pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 2)
	jg.addJournal(batch,
		NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID),
		NewUserAccountKey(userID, underlyingID),
		amount, JournalTypePoolDeposit)
	jg.addJournal(batch,
		NewUserAccountKey(userID, receiptID),
		NewExternalAccountKey(receiptID),
		minted, JournalTypePoolDeposit)
	jg.sequence++
	return batch, nil
}

// GeneratePoolWithdraw settles a redemption: receipt burn against the
// external account, pool:cash → user:cash for the underlying.
func (jg *JournalGenerator) GeneratePoolWithdraw(
	userID uuid.UUID,
	poolID string,
	eventRef string,
	receiptAmount *big.Int,
	amount *big.Int,
	underlyingID AssetID,
	receiptID AssetID,
	blockNumber int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewUserAccountKey(userID, receiptID), receiptAmount); err != nil {
		return nil, fmt.Errorf("pool withdraw pre-check failed: %w", err)
	}
	if err := jg.balanceTracker.ValidateSufficient(NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID), amount); err != nil {
		return nil, fmt.Errorf("pool withdraw pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 2)
	jg.addJournal(batch,
		NewExternalAccountKey(receiptID),
		NewUserAccountKey(userID, receiptID),
		receiptAmount, JournalTypePoolWithdrawal)
	jg.addJournal(batch,
		NewUserAccountKey(userID, underlyingID),
		NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID),
		amount, JournalTypePoolWithdrawal)
	jg.sequence++
	return batch, nil
}

// GenerateLoanOpen escrows the borrower's fees and disburses principal:
// user:cash → vehicle:fees, pool:cash → vehicle:principal.
func (jg *JournalGenerator) GenerateLoanOpen(
	borrower uuid.UUID,
	poolID string,
	vehicleID uuid.UUID,
	eventRef string,
	principal *big.Int,
	fees *big.Int,
	underlyingID AssetID,
	blockNumber int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewUserAccountKey(borrower, underlyingID), fees); err != nil {
		return nil, fmt.Errorf("loan open pre-check failed: %w", err)
	}
	if err := jg.balanceTracker.ValidateSufficient(NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID), principal); err != nil {
		return nil, fmt.Errorf("loan open pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 2)
	jg.addJournal(batch,
		NewVehicleAccountKey(vehicleID, SubTypeVehicleFees, underlyingID),
		NewUserAccountKey(borrower, underlyingID),
		fees, JournalTypeLoanFeeEscrow)
	jg.addJournal(batch,
		NewVehicleAccountKey(vehicleID, SubTypeVehiclePrincipal, underlyingID),
		NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID),
		principal, JournalTypeLoanDisburse)
	jg.sequence++
	return batch, nil
}

// GenerateLoanExpand escrows additional fees: user:cash → vehicle:fees.
func (jg *JournalGenerator) GenerateLoanExpand(
	caller uuid.UUID,
	vehicleID uuid.UUID,
	eventRef string,
	extraFees *big.Int,
	underlyingID AssetID,
	blockNumber int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewUserAccountKey(caller, underlyingID), extraFees); err != nil {
		return nil, fmt.Errorf("loan expand pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 1)
	jg.addJournal(batch,
		NewVehicleAccountKey(vehicleID, SubTypeVehicleFees, underlyingID),
		NewUserAccountKey(caller, underlyingID),
		extraFees, JournalTypeLoanFeeEscrow)
	jg.sequence++
	return batch, nil
}

// LoanSettlement describes how a vehicle's escrow is routed on close/kill.
// Amounts must sum to exactly principal + feesAmount; the vehicle ends
// drained.
type LoanSettlement struct {
	Principal  *big.Int  // vehicle:principal → pool:cash
	FeesToPool *big.Int  // vehicle:fees → pool:cash (consumed fee)
	FeesRefund *big.Int  // vehicle:fees → owner's cash (close only)
	Bounty     *big.Int  // vehicle:fees → killer's cash (kill only)
	Refundee   uuid.UUID // recipient of FeesRefund
	Killer     uuid.UUID // recipient of Bounty
}

// GenerateLoanSettle drains the vehicle per the settlement split. All legs
// land in one batch so the loan either settles fully or not at all.
func (jg *JournalGenerator) GenerateLoanSettle(
	poolID string,
	vehicleID uuid.UUID,
	eventRef string,
	s LoanSettlement,
	underlyingID AssetID,
	blockNumber int64,
) (*Batch, error) {
	feesTotal := new(big.Int).Add(s.FeesToPool, s.FeesRefund)
	feesTotal.Add(feesTotal, s.Bounty)
	if err := jg.balanceTracker.ValidateSufficient(NewVehicleAccountKey(vehicleID, SubTypeVehicleFees, underlyingID), feesTotal); err != nil {
		return nil, fmt.Errorf("loan settle pre-check failed: %w", err)
	}
	if err := jg.balanceTracker.ValidateSufficient(NewVehicleAccountKey(vehicleID, SubTypeVehiclePrincipal, underlyingID), s.Principal); err != nil {
		return nil, fmt.Errorf("loan settle pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 4)

	jg.addJournal(batch,
		NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID),
		NewVehicleAccountKey(vehicleID, SubTypeVehiclePrincipal, underlyingID),
		s.Principal, JournalTypePrincipalReturn)

	if s.FeesToPool.Sign() > 0 {
		jg.addJournal(batch,
			NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID),
			NewVehicleAccountKey(vehicleID, SubTypeVehicleFees, underlyingID),
			s.FeesToPool, JournalTypeFeeConsume)
	}

	if s.FeesRefund.Sign() > 0 {
		jg.addJournal(batch,
			NewUserAccountKey(s.Refundee, underlyingID),
			NewVehicleAccountKey(vehicleID, SubTypeVehicleFees, underlyingID),
			s.FeesRefund, JournalTypeFeeRefund)
	}

	if s.Bounty.Sign() > 0 {
		jg.addJournal(batch,
			NewUserAccountKey(s.Killer, underlyingID),
			NewVehicleAccountKey(vehicleID, SubTypeVehicleFees, underlyingID),
			s.Bounty, JournalTypeKillerBounty)
	}

	jg.sequence++
	return batch, nil
}

// GenerateStakeDeposit escrows receipt tokens: user:cash → rewards:stake.
func (jg *JournalGenerator) GenerateStakeDeposit(
	userID uuid.UUID,
	eventRef string,
	amount *big.Int,
	receiptID AssetID,
	blockNumber int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewUserAccountKey(userID, receiptID), amount); err != nil {
		return nil, fmt.Errorf("stake deposit pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 1)
	jg.addJournal(batch,
		NewRewardsAccountKey(SubTypeRewardStake, receiptID),
		NewUserAccountKey(userID, receiptID),
		amount, JournalTypeStakeDeposit)
	jg.sequence++
	return batch, nil
}

// GenerateStakeWithdraw releases staked receipts: rewards:stake → user:cash.
// The per-user deposited check happens in the rewards engine; the ledger
// check guards the aggregate.
func (jg *JournalGenerator) GenerateStakeWithdraw(
	userID uuid.UUID,
	eventRef string,
	amount *big.Int,
	receiptID AssetID,
	blockNumber int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewRewardsAccountKey(SubTypeRewardStake, receiptID), amount); err != nil {
		return nil, fmt.Errorf("stake withdraw pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 1)
	jg.addJournal(batch,
		NewUserAccountKey(userID, receiptID),
		NewRewardsAccountKey(SubTypeRewardStake, receiptID),
		amount, JournalTypeStakeWithdrawal)
	jg.sequence++
	return batch, nil
}

// GenerateRewardClaim pays accrued rewards: rewards:fund → user:cash.
func (jg *JournalGenerator) GenerateRewardClaim(
	userID uuid.UUID,
	eventRef string,
	amount *big.Int,
	rewardAssetID AssetID,
	blockNumber int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewRewardsAccountKey(SubTypeRewardFund, rewardAssetID), amount); err != nil {
		return nil, fmt.Errorf("reward claim pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 1)
	jg.addJournal(batch,
		NewUserAccountKey(userID, rewardAssetID),
		NewRewardsAccountKey(SubTypeRewardFund, rewardAssetID),
		amount, JournalTypeRewardClaim)
	jg.sequence++
	return batch, nil
}

// GenerateRewardsFund tops up the fund: external:settlement → rewards:fund.
func (jg *JournalGenerator) GenerateRewardsFund(
	eventRef string,
	amount *big.Int,
	rewardAssetID AssetID,
	blockNumber int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, blockNumber, 1)
	jg.addJournal(batch,
		NewRewardsAccountKey(SubTypeRewardFund, rewardAssetID),
		NewExternalAccountKey(rewardAssetID),
		amount, JournalTypeRewardFund)
	jg.sequence++
	return batch, nil
}

// GenerateSweep pays pool value out to a recipient: pool:cash → user:cash.
// Used for both reserve and fee sweeps; the counter bookkeeping lives in
// the pool engine.
func (jg *JournalGenerator) GenerateSweep(
	poolID string,
	recipient uuid.UUID,
	eventRef string,
	amount *big.Int,
	underlyingID AssetID,
	blockNumber int64,
	jt JournalType,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID), amount); err != nil {
		return nil, fmt.Errorf("sweep pre-check failed: %w", err)
	}

	batch := jg.newBatch(eventRef, blockNumber, 1)
	jg.addJournal(batch,
		NewUserAccountKey(recipient, underlyingID),
		NewPoolAccountKey(poolID, SubTypePoolCash, underlyingID),
		amount, jt)
	jg.sequence++
	return batch, nil
}
