package query

import "github.com/google/uuid"

// PoolResponse represents pool accounting state for API queries. Amounts
// are decimal strings of base units; rates are 1e18 fixed point.
type PoolResponse struct {
	PoolID          string `json:"pool_id"`
	UnderlyingAsset string `json:"underlying_asset"`
	ReceiptAsset    string `json:"receipt_asset"`
	Cash            string `json:"cash"`
	TotalBorrowed   string `json:"total_borrowed"`
	TotalReserve    string `json:"total_reserve"`
	AccruedFees     string `json:"accrued_fees"`
	BorrowIndex     string `json:"borrow_index"`
	AccrualBlock    int64  `json:"accrual_block"`
	ActiveLoans     int64  `json:"active_loans"`
	ReceiptSupply   string `json:"receipt_supply"`
	ExchangeRate    string `json:"exchange_rate"`
	Active          bool   `json:"active"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// LoanResponse represents a loan for API queries.
type LoanResponse struct {
	LoanID       uuid.UUID `json:"loan_id"`
	PoolID       string    `json:"pool_id"`
	Borrower     uuid.UUID `json:"borrower"`
	Delegatee    uuid.UUID `json:"delegatee"`
	Owner        uuid.UUID `json:"owner"`
	VehicleID    uuid.UUID `json:"vehicle_id"`
	Principal    string    `json:"principal"`
	FeesAmount   string    `json:"fees_amount"`
	FeesUsed     string    `json:"fees_used"`
	StartBlock   int64     `json:"start_block"`
	CloseBlock   int64     `json:"close_block"`
	Status       string    `json:"status"`
	TokenID      int64     `json:"token_id"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// RewardResponse represents a user's claimable reward balance.
type RewardResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Accrued      string    `json:"accrued"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	BlockNumber   int64  `json:"block_number"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
