package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCashDeposit JournalType = iota
	JournalTypeCashWithdrawal
	JournalTypePoolDeposit
	JournalTypePoolWithdrawal
	JournalTypeLoanDisburse
	JournalTypeLoanFeeEscrow
	JournalTypePrincipalReturn
	JournalTypeFeeConsume
	JournalTypeFeeRefund
	JournalTypeKillerBounty
	JournalTypeStakeDeposit
	JournalTypeStakeWithdrawal
	JournalTypeRewardClaim
	JournalTypeRewardFund
	JournalTypeReserveSweep
	JournalTypeFeesSweep
	JournalTypeAdjustment
)

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries of one settlement
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        *big.Int    // Base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	BlockNumber   int64       // Versioned input block height
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID     uuid.UUID
	EventRef    string
	Sequence    int64
	BlockNumber int64
	Journals    []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry is a balanced transfer by construction (a single
// positive amount moves from credit account to debit account), so
// Σ debits == Σ credits holds per-entry. Multi-leg settlements (loan close
// with fee split, kill with bounty) use multiple entries under one
// batch_id, each individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %v", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		// No self-transfers
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s crosses assets", j.JournalID)
		}
	}

	return nil
}
