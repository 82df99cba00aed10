package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the projection tables. All
// responses include as_of_sequence so callers can reason about freshness
// against the core's event sequence.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetUserBalances returns every ledger balance the user holds.
func (qs *QueryService) GetUserBalances(ctx context.Context, userID uuid.UUID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	prefix := fmt.Sprintf("user:%s:%%", userID)
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance::TEXT
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY account_path
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalanceResponse{UserID: userID, AsOfSequence: asOfSeq}
	for rows.Next() {
		var e BalanceEntry
		if err := rows.Scan(&e.AccountPath, &e.AssetID, &e.Balance); err != nil {
			return nil, err
		}
		resp.Balances = append(resp.Balances, e)
	}

	return resp, rows.Err()
}

// GetPool returns the accounting state of one pool.
func (qs *QueryService) GetPool(ctx context.Context, poolID string) (*PoolResponse, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT pool_id, underlying_asset, receipt_asset, cash::TEXT,
		       total_borrowed::TEXT, total_reserve::TEXT, accrued_fees::TEXT,
		       borrow_index::TEXT, accrual_block, active_loans,
		       receipt_supply::TEXT, exchange_rate::TEXT, active, as_of_sequence
		FROM projections.pool_states
		WHERE pool_id = $1
	`, poolID)

	var p PoolResponse
	err := row.Scan(
		&p.PoolID, &p.UnderlyingAsset, &p.ReceiptAsset, &p.Cash,
		&p.TotalBorrowed, &p.TotalReserve, &p.AccruedFees,
		&p.BorrowIndex, &p.AccrualBlock, &p.ActiveLoans,
		&p.ReceiptSupply, &p.ExchangeRate, &p.Active, &p.AsOfSequence,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPools returns all registered pools.
func (qs *QueryService) ListPools(ctx context.Context) ([]PoolResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT pool_id, underlying_asset, receipt_asset, cash::TEXT,
		       total_borrowed::TEXT, total_reserve::TEXT, accrued_fees::TEXT,
		       borrow_index::TEXT, accrual_block, active_loans,
		       receipt_supply::TEXT, exchange_rate::TEXT, active, as_of_sequence
		FROM projections.pool_states
		ORDER BY pool_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolResponse
	for rows.Next() {
		var p PoolResponse
		if err := rows.Scan(
			&p.PoolID, &p.UnderlyingAsset, &p.ReceiptAsset, &p.Cash,
			&p.TotalBorrowed, &p.TotalReserve, &p.AccruedFees,
			&p.BorrowIndex, &p.AccrualBlock, &p.ActiveLoans,
			&p.ReceiptSupply, &p.ExchangeRate, &p.Active, &p.AsOfSequence,
		); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}

	return pools, rows.Err()
}

// GetLoan returns one loan by ID.
func (qs *QueryService) GetLoan(ctx context.Context, loanID uuid.UUID) (*LoanResponse, error) {
	row := qs.db.QueryRowContext(ctx, `
		SELECT loan_id, pool_id, borrower, delegatee, owner_id, vehicle_id,
		       principal::TEXT, fees_amount::TEXT, fees_used::TEXT,
		       start_block, close_block, status, token_id, as_of_sequence
		FROM projections.loans
		WHERE loan_id = $1
	`, loanID)

	var l LoanResponse
	err := row.Scan(
		&l.LoanID, &l.PoolID, &l.Borrower, &l.Delegatee, &l.Owner, &l.VehicleID,
		&l.Principal, &l.FeesAmount, &l.FeesUsed,
		&l.StartBlock, &l.CloseBlock, &l.Status, &l.TokenID, &l.AsOfSequence,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLoansByOwner returns loans whose token the user currently holds.
func (qs *QueryService) GetLoansByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]LoanResponse, error) {
	return qs.queryLoans(ctx, `
		SELECT loan_id, pool_id, borrower, delegatee, owner_id, vehicle_id,
		       principal::TEXT, fees_amount::TEXT, fees_used::TEXT,
		       start_block, close_block, status, token_id, as_of_sequence
		FROM projections.loans
		WHERE owner_id = $1
		ORDER BY start_block DESC
		LIMIT $2
	`, owner, limit)
}

// GetLoansByPool returns loans in a pool, optionally filtered by status.
func (qs *QueryService) GetLoansByPool(ctx context.Context, poolID string, status *string, limit int) ([]LoanResponse, error) {
	if status != nil {
		return qs.queryLoans(ctx, `
			SELECT loan_id, pool_id, borrower, delegatee, owner_id, vehicle_id,
			       principal::TEXT, fees_amount::TEXT, fees_used::TEXT,
			       start_block, close_block, status, token_id, as_of_sequence
			FROM projections.loans
			WHERE pool_id = $1 AND status = $2
			ORDER BY start_block DESC
			LIMIT $3
		`, poolID, *status, limit)
	}
	return qs.queryLoans(ctx, `
		SELECT loan_id, pool_id, borrower, delegatee, owner_id, vehicle_id,
		       principal::TEXT, fees_amount::TEXT, fees_used::TEXT,
		       start_block, close_block, status, token_id, as_of_sequence
		FROM projections.loans
		WHERE pool_id = $1
		ORDER BY start_block DESC
		LIMIT $2
	`, poolID, limit)
}

func (qs *QueryService) queryLoans(ctx context.Context, query string, args ...interface{}) ([]LoanResponse, error) {
	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []LoanResponse
	for rows.Next() {
		var l LoanResponse
		if err := rows.Scan(
			&l.LoanID, &l.PoolID, &l.Borrower, &l.Delegatee, &l.Owner, &l.VehicleID,
			&l.Principal, &l.FeesAmount, &l.FeesUsed,
			&l.StartBlock, &l.CloseBlock, &l.Status, &l.TokenID, &l.AsOfSequence,
		); err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}

	return loans, rows.Err()
}

// GetRewardAccrued returns a user's claimable reward balance.
func (qs *QueryService) GetRewardAccrued(ctx context.Context, userID uuid.UUID) (*RewardResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &RewardResponse{UserID: userID, Accrued: "0", AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT accrued::TEXT FROM projections.reward_accruals WHERE user_id = $1
	`, userID).Scan(&resp.Accrued)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return resp, nil
}

// GetJournalHistory returns journal entries touching a user's accounts,
// newest first, with cursor-based pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::TEXT,
		       journal_type, block_number
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.BlockNumber,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the zero-sum global
// balance invariant against the stored log and projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Global balance: each asset's balances sum to zero
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::TEXT AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total string
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT as_of_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
