package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/big"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/loan"
	"github.com/PaladinFinance/paladin-ledger/internal/pool"
)

// ProjectionOutput mirrors the data projection workers need from the core.
// The orchestrator bridges between core.CoreOutput and this; the domain
// state fields are deep copies taken on the core goroutine.
type ProjectionOutput struct {
	Sequence    int64
	EventType   string
	PoolID      *string
	BlockNumber int64
	Journals    []JournalEntry

	Pool          *pool.State
	ExchangeRate  *big.Int
	Loan          *loan.Loan
	LoanOwner     uuid.UUID
	RewardUser    uuid.UUID
	RewardAccrued *big.Int
}

// JournalEntry is a simplified journal for projection consumption. Amount
// is the decimal string form of the base-unit big.Int.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string
	JournalType   int32
}

// ProjectionWorker updates the read-model tables from processed events.
// The projection channel is non-blocking with drop: if this worker falls
// behind, the read model is rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.updateBalances(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Pool != nil {
		if err := pw.updatePoolState(ctx, tx, output); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}

	if output.Loan != nil {
		if err := pw.updateLoan(ctx, tx, output); err != nil {
			return fmt.Errorf("loan projection: %w", err)
		}
	}

	if output.RewardAccrued != nil {
		if err := pw.updateRewardAccrual(ctx, tx, output); err != nil {
			return fmt.Errorf("reward projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark SET as_of_sequence = $1, updated_at = NOW() WHERE id = 1
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalances(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Debit account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, as_of_sequence)
		VALUES ($1, $2, -($3::NUMERIC), $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $3::NUMERIC,
		              as_of_sequence = $4, updated_at = NOW()
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	// Credit account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, as_of_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC,
		              as_of_sequence = $4, updated_at = NOW()
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) updatePoolState(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	ps := output.Pool
	rate := "0"
	if output.ExchangeRate != nil {
		rate = output.ExchangeRate.String()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool_states
			(pool_id, underlying_asset, receipt_asset, cash, total_borrowed,
			 total_reserve, accrued_fees, borrow_index, accrual_block,
			 active_loans, receipt_supply, exchange_rate, as_of_sequence)
		VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		        $8::NUMERIC, $9, $10, $11::NUMERIC, $12::NUMERIC, $13)
		ON CONFLICT (pool_id) DO UPDATE SET
			cash = $4::NUMERIC, total_borrowed = $5::NUMERIC,
			total_reserve = $6::NUMERIC, accrued_fees = $7::NUMERIC,
			borrow_index = $8::NUMERIC, accrual_block = $9,
			active_loans = $10, receipt_supply = $11::NUMERIC,
			exchange_rate = $12::NUMERIC, as_of_sequence = $13, updated_at = NOW()
	`, ps.ID, ps.UnderlyingAsset, ps.ReceiptAsset,
		ps.Cash.String(), ps.TotalBorrowed.String(), ps.TotalReserve.String(),
		ps.AccruedFees.String(), ps.BorrowIndex.String(), ps.AccrualBlock,
		ps.NumberActiveLoans, ps.ReceiptSupply.String(), rate, output.Sequence)
	return err
}

func (pw *ProjectionWorker) updateLoan(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	l := output.Loan
	status := "active"
	switch {
	case l.Killed:
		status = "killed"
	case l.Closed:
		status = "closed"
	}
	feesUsed := "0"
	if l.FeesUsed != nil {
		feesUsed = l.FeesUsed.String()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.loans
			(loan_id, pool_id, borrower, delegatee, owner_id, vehicle_id,
			 principal, fees_amount, fees_used, start_block, close_block,
			 status, token_id, as_of_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		        $10, $11, $12, $13, $14)
		ON CONFLICT (loan_id) DO UPDATE SET
			owner_id = $5, fees_amount = $8::NUMERIC, fees_used = $9::NUMERIC,
			close_block = $11, status = $12, as_of_sequence = $14, updated_at = NOW()
	`, l.ID, l.PoolID, l.Borrower, l.Delegatee, output.LoanOwner, l.VehicleID,
		l.Principal.String(), l.FeesAmount.String(), feesUsed,
		l.StartBlock, l.CloseBlock, status, l.TokenID, output.Sequence)
	return err
}

func (pw *ProjectionWorker) updateRewardAccrual(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.reward_accruals (user_id, accrued, as_of_sequence)
		VALUES ($1, $2::NUMERIC, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			accrued = $2::NUMERIC, as_of_sequence = $3, updated_at = NOW()
	`, output.RewardUser, output.RewardAccrued.String(), output.Sequence)
	return err
}

// RebuildProjections rebuilds the balance projection from the event log and
// clears the state tables. Pool, loan, and reward rows repopulate as the
// core replays or processes new events.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.pool_states`,
		`TRUNCATE projections.loans`,
		`TRUNCATE projections.reward_accruals`,
		`UPDATE projections.watermark SET as_of_sequence = 0 WHERE id = 1`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Credits
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, as_of_sequence)
		SELECT
			credit_account AS account_path,
			MIN(asset_id) AS asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS as_of_sequence
		FROM event_log.journal
		GROUP BY credit_account
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	// Subtract debits
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, as_of_sequence)
		SELECT
			debit_account AS account_path,
			MIN(asset_id) AS asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS as_of_sequence
		FROM event_log.journal
		GROUP BY debit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    as_of_sequence = GREATEST(projections.balances.as_of_sequence, EXCLUDED.as_of_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		UPDATE projections.watermark
		SET as_of_sequence = COALESCE((SELECT MAX(sequence) FROM event_log.journal), 0)
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
