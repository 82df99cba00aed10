package query

import (
	"github.com/google/uuid"
)

// BalanceEntry is one ledger account balance for API queries. Balance is
// a decimal string of base units.
type BalanceEntry struct {
	AccountPath string `json:"account_path"`
	AssetID     uint16 `json:"asset_id"`
	Balance     string `json:"balance"`
}

// BalanceResponse represents a user's ledger balances across all assets.
type BalanceResponse struct {
	UserID       uuid.UUID      `json:"user_id"`
	Balances     []BalanceEntry `json:"balances"`
	AsOfSequence int64          `json:"as_of_sequence"`
}
