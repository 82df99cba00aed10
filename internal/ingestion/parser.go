package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts
// raw commands before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "CashDeposit":
		return parseCashDeposit(raw.Data)
	case "CashWithdraw":
		return parseCashWithdraw(raw.Data)
	case "PoolDeposit":
		return parsePoolDeposit(raw.Data)
	case "PoolWithdraw":
		return parsePoolWithdraw(raw.Data)
	case "LoanOpen":
		return parseLoanOpen(raw.Data)
	case "LoanExpand":
		return parseLoanExpand(raw.Data)
	case "LoanClose":
		return parseLoanClose(raw.Data)
	case "LoanKill":
		return parseLoanKill(raw.Data)
	case "LoanTransfer":
		return parseLoanTransfer(raw.Data)
	case "StakeDeposit":
		return parseStakeDeposit(raw.Data)
	case "StakeWithdraw":
		return parseStakeWithdraw(raw.Data)
	case "RewardsUpdateUser":
		return parseRewardsUpdateUser(raw.Data)
	case "RewardsClaim":
		return parseRewardsClaim(raw.Data)
	case "LoanRewardsClaim":
		return parseLoanRewardsClaim(raw.Data)
	case "RewardsFund":
		return parseRewardsFund(raw.Data)
	case "PoolRegister":
		return parsePoolRegister(raw.Data)
	case "PoolParamsUpdate":
		return parsePoolParamsUpdate(raw.Data)
	case "PoolRewardsUpdate":
		return parsePoolRewardsUpdate(raw.Data)
	case "RewardTokenUpdate":
		return parseRewardTokenUpdate(raw.Data)
	case "ReserveSweep":
		return parseReserveSweep(raw.Data)
	case "FeesSweep":
		return parseFeesSweep(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS. Field
// names use snake_case to match upstream producers; amounts are decimal
// strings because base units overflow int64.

type metaJSON struct {
	EventID     string `json:"event_id"`
	PoolID      string `json:"pool_id,omitempty"`
	BlockNumber int64  `json:"block_number"`
	Sequence    int64  `json:"sequence"`
}

func (m metaJSON) toMeta() (event.Meta, error) {
	id, err := uuid.Parse(m.EventID)
	if err != nil {
		return event.Meta{}, fmt.Errorf("parse event_id: %w", err)
	}
	return event.Meta{
		EventID:  id,
		Pool:     m.PoolID,
		Block:    m.BlockNumber,
		Sequence: m.Sequence,
	}, nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid amount %q", field, s)
	}
	return v, nil
}

func parseUser(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

type cashJSON struct {
	metaJSON
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func parseCashDeposit(data []byte) (*event.CashDeposit, error) {
	var j cashJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CashDeposit: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	userID, err := parseUser("user_id", j.UserID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.CashDeposit{Meta: meta, UserID: userID, Asset: j.Asset, Amount: amount}, nil
}

func parseCashWithdraw(data []byte) (*event.CashWithdraw, error) {
	var j cashJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CashWithdraw: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	userID, err := parseUser("user_id", j.UserID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.CashWithdraw{Meta: meta, UserID: userID, Asset: j.Asset, Amount: amount}, nil
}

type poolDepositJSON struct {
	metaJSON
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

func parsePoolDeposit(data []byte) (*event.PoolDeposit, error) {
	var j poolDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolDeposit: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	userID, err := parseUser("user_id", j.UserID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.PoolDeposit{Meta: meta, UserID: userID, Amount: amount}, nil
}

type poolWithdrawJSON struct {
	metaJSON
	UserID        string `json:"user_id"`
	ReceiptAmount string `json:"receipt_amount"`
}

func parsePoolWithdraw(data []byte) (*event.PoolWithdraw, error) {
	var j poolWithdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolWithdraw: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	userID, err := parseUser("user_id", j.UserID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("receipt_amount", j.ReceiptAmount)
	if err != nil {
		return nil, err
	}
	return &event.PoolWithdraw{Meta: meta, UserID: userID, ReceiptAmount: amount}, nil
}

type loanOpenJSON struct {
	metaJSON
	LoanID    string `json:"loan_id"`
	Borrower  string `json:"borrower"`
	Delegatee string `json:"delegatee"`
	Principal string `json:"principal"`
	Fees      string `json:"fees"`
}

func parseLoanOpen(data []byte) (*event.LoanOpen, error) {
	var j loanOpenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanOpen: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	loanID, err := parseUser("loan_id", j.LoanID)
	if err != nil {
		return nil, err
	}
	borrower, err := parseUser("borrower", j.Borrower)
	if err != nil {
		return nil, err
	}
	delegatee, err := parseUser("delegatee", j.Delegatee)
	if err != nil {
		return nil, err
	}
	principal, err := parseAmount("principal", j.Principal)
	if err != nil {
		return nil, err
	}
	fees, err := parseAmount("fees", j.Fees)
	if err != nil {
		return nil, err
	}
	return &event.LoanOpen{
		Meta:      meta,
		LoanID:    loanID,
		Borrower:  borrower,
		Delegatee: delegatee,
		Principal: principal,
		Fees:      fees,
	}, nil
}

type loanExpandJSON struct {
	metaJSON
	LoanID    string `json:"loan_id"`
	Caller    string `json:"caller"`
	ExtraFees string `json:"extra_fees"`
}

func parseLoanExpand(data []byte) (*event.LoanExpand, error) {
	var j loanExpandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanExpand: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	loanID, err := parseUser("loan_id", j.LoanID)
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	extraFees, err := parseAmount("extra_fees", j.ExtraFees)
	if err != nil {
		return nil, err
	}
	return &event.LoanExpand{Meta: meta, LoanID: loanID, Caller: caller, ExtraFees: extraFees}, nil
}

type loanCallJSON struct {
	metaJSON
	LoanID string `json:"loan_id"`
	Caller string `json:"caller"`
}

func parseLoanClose(data []byte) (*event.LoanClose, error) {
	var j loanCallJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanClose: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	loanID, err := parseUser("loan_id", j.LoanID)
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	return &event.LoanClose{Meta: meta, LoanID: loanID, Caller: caller}, nil
}

type loanKillJSON struct {
	metaJSON
	LoanID string `json:"loan_id"`
	Killer string `json:"killer"`
}

func parseLoanKill(data []byte) (*event.LoanKill, error) {
	var j loanKillJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanKill: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	loanID, err := parseUser("loan_id", j.LoanID)
	if err != nil {
		return nil, err
	}
	killer, err := parseUser("killer", j.Killer)
	if err != nil {
		return nil, err
	}
	return &event.LoanKill{Meta: meta, LoanID: loanID, Killer: killer}, nil
}

type loanTransferJSON struct {
	metaJSON
	LoanID string `json:"loan_id"`
	Caller string `json:"caller"`
	To     string `json:"to"`
}

func parseLoanTransfer(data []byte) (*event.LoanTransfer, error) {
	var j loanTransferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanTransfer: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	loanID, err := parseUser("loan_id", j.LoanID)
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	to, err := parseUser("to", j.To)
	if err != nil {
		return nil, err
	}
	return &event.LoanTransfer{Meta: meta, LoanID: loanID, Caller: caller, To: to}, nil
}

type stakeJSON struct {
	metaJSON
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func parseStakeDeposit(data []byte) (*event.StakeDeposit, error) {
	var j stakeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StakeDeposit: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	userID, err := parseUser("user_id", j.UserID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.StakeDeposit{Meta: meta, UserID: userID, Asset: j.Asset, Amount: amount}, nil
}

func parseStakeWithdraw(data []byte) (*event.StakeWithdraw, error) {
	var j stakeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StakeWithdraw: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	userID, err := parseUser("user_id", j.UserID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.StakeWithdraw{Meta: meta, UserID: userID, Asset: j.Asset, Amount: amount}, nil
}

type userOnlyJSON struct {
	metaJSON
	UserID string `json:"user_id"`
}

func parseRewardsUpdateUser(data []byte) (*event.RewardsUpdateUser, error) {
	var j userOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardsUpdateUser: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	userID, err := parseUser("user_id", j.UserID)
	if err != nil {
		return nil, err
	}
	return &event.RewardsUpdateUser{Meta: meta, UserID: userID}, nil
}

func parseRewardsClaim(data []byte) (*event.RewardsClaim, error) {
	var j userOnlyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardsClaim: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	userID, err := parseUser("user_id", j.UserID)
	if err != nil {
		return nil, err
	}
	return &event.RewardsClaim{Meta: meta, UserID: userID}, nil
}

func parseLoanRewardsClaim(data []byte) (*event.LoanRewardsClaim, error) {
	var j loanCallJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LoanRewardsClaim: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	loanID, err := parseUser("loan_id", j.LoanID)
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	return &event.LoanRewardsClaim{Meta: meta, LoanID: loanID, Caller: caller}, nil
}

type rewardsFundJSON struct {
	metaJSON
	Amount string `json:"amount"`
}

func parseRewardsFund(data []byte) (*event.RewardsFund, error) {
	var j rewardsFundJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardsFund: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.RewardsFund{Meta: meta, Amount: amount}, nil
}

type poolRegisterJSON struct {
	metaJSON
	Caller          string `json:"caller"`
	UnderlyingAsset string `json:"underlying_asset"`
	ReceiptAsset    string `json:"receipt_asset"`
	ReserveFactor   string `json:"reserve_factor"`
	KillerRatio     string `json:"killer_ratio"`
	KillFactor      string `json:"kill_factor"`
	MinBorrowLength int64  `json:"min_borrow_length"`
}

func parsePoolRegister(data []byte) (*event.PoolRegister, error) {
	var j poolRegisterJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolRegister: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	reserveFactor, err := parseAmount("reserve_factor", j.ReserveFactor)
	if err != nil {
		return nil, err
	}
	killerRatio, err := parseAmount("killer_ratio", j.KillerRatio)
	if err != nil {
		return nil, err
	}
	killFactor, err := parseAmount("kill_factor", j.KillFactor)
	if err != nil {
		return nil, err
	}
	return &event.PoolRegister{
		Meta:            meta,
		Caller:          caller,
		UnderlyingAsset: j.UnderlyingAsset,
		ReceiptAsset:    j.ReceiptAsset,
		ReserveFactor:   reserveFactor,
		KillerRatio:     killerRatio,
		KillFactor:      killFactor,
		MinBorrowLength: j.MinBorrowLength,
	}, nil
}

type poolParamsJSON struct {
	metaJSON
	Caller          string `json:"caller"`
	ReserveFactor   string `json:"reserve_factor"`
	KillerRatio     string `json:"killer_ratio"`
	KillFactor      string `json:"kill_factor"`
	MinBorrowLength int64  `json:"min_borrow_length"`
}

func parsePoolParamsUpdate(data []byte) (*event.PoolParamsUpdate, error) {
	var j poolParamsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolParamsUpdate: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	reserveFactor, err := parseAmount("reserve_factor", j.ReserveFactor)
	if err != nil {
		return nil, err
	}
	killerRatio, err := parseAmount("killer_ratio", j.KillerRatio)
	if err != nil {
		return nil, err
	}
	killFactor, err := parseAmount("kill_factor", j.KillFactor)
	if err != nil {
		return nil, err
	}
	return &event.PoolParamsUpdate{
		Meta:            meta,
		Caller:          caller,
		ReserveFactor:   reserveFactor,
		KillerRatio:     killerRatio,
		KillFactor:      killFactor,
		MinBorrowLength: j.MinBorrowLength,
	}, nil
}

type poolRewardsJSON struct {
	metaJSON
	Caller      string `json:"caller"`
	SupplySpeed string `json:"supply_speed"`
	BorrowRatio string `json:"borrow_ratio"`
	Auto        bool   `json:"auto"`
}

func parsePoolRewardsUpdate(data []byte) (*event.PoolRewardsUpdate, error) {
	var j poolRewardsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolRewardsUpdate: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	speed, err := parseAmount("supply_speed", j.SupplySpeed)
	if err != nil {
		return nil, err
	}
	ratio, err := parseAmount("borrow_ratio", j.BorrowRatio)
	if err != nil {
		return nil, err
	}
	return &event.PoolRewardsUpdate{
		Meta:        meta,
		Caller:      caller,
		SupplySpeed: speed,
		BorrowRatio: ratio,
		Auto:        j.Auto,
	}, nil
}

type rewardTokenJSON struct {
	metaJSON
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

func parseRewardTokenUpdate(data []byte) (*event.RewardTokenUpdate, error) {
	var j rewardTokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RewardTokenUpdate: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	return &event.RewardTokenUpdate{Meta: meta, Caller: caller, Asset: j.Asset}, nil
}

type sweepJSON struct {
	metaJSON
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func parseReserveSweep(data []byte) (*event.ReserveSweep, error) {
	var j sweepJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ReserveSweep: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	recipient, err := parseUser("recipient", j.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.ReserveSweep{Meta: meta, Caller: caller, Recipient: recipient, Amount: amount}, nil
}

func parseFeesSweep(data []byte) (*event.FeesSweep, error) {
	var j sweepJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FeesSweep: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return nil, err
	}
	caller, err := parseUser("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	recipient, err := parseUser("recipient", j.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.FeesSweep{Meta: meta, Caller: caller, Recipient: recipient, Amount: amount}, nil
}
