package ingestion_test

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/PaladinFinance/paladin-ledger/internal/event"
	"github.com/PaladinFinance/paladin-ledger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func meta(pool string) map[string]interface{} {
	return map[string]interface{}{
		"event_id":     "550e8400-e29b-41d4-a716-446655440000",
		"pool_id":      pool,
		"block_number": int64(18_000_000),
		"sequence":     int64(42),
	}
}

func withMeta(pool string, extra map[string]interface{}) map[string]interface{} {
	m := meta(pool)
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func TestParseCashDeposit(t *testing.T) {
	raw := rawFromJSON(t, withMeta("", map[string]interface{}{
		"user_id": "660e8400-e29b-41d4-a716-446655440001",
		"asset":   "USDC",
		"amount":  "250000000000000000000",
	}))

	evt, err := ingestion.ParseRawEvent(raw, "CashDeposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cd, ok := evt.(*event.CashDeposit)
	if !ok {
		t.Fatalf("expected *event.CashDeposit, got %T", evt)
	}
	if cd.Asset != "USDC" {
		t.Errorf("asset: got %s", cd.Asset)
	}
	want, _ := new(big.Int).SetString("250000000000000000000", 10)
	if cd.Amount.Cmp(want) != 0 {
		t.Errorf("amount: got %s, want %s", cd.Amount, want)
	}
	if cd.BlockNumber() != 18_000_000 {
		t.Errorf("block: got %d", cd.BlockNumber())
	}
	if cd.SourceSequence() != 42 {
		t.Errorf("source sequence: got %d", cd.SourceSequence())
	}
	if cd.PoolID() != nil {
		t.Errorf("cash events carry no pool, got %v", *cd.PoolID())
	}
}

func TestParseLoanOpen(t *testing.T) {
	raw := rawFromJSON(t, withMeta("usdc-main", map[string]interface{}{
		"loan_id":   "770e8400-e29b-41d4-a716-446655440002",
		"borrower":  "660e8400-e29b-41d4-a716-446655440001",
		"delegatee": "880e8400-e29b-41d4-a716-446655440003",
		"principal": "2000000000000000000000",
		"fees":      "50000000000000000000",
	}))

	evt, err := ingestion.ParseRawEvent(raw, "LoanOpen")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lo, ok := evt.(*event.LoanOpen)
	if !ok {
		t.Fatalf("expected *event.LoanOpen, got %T", evt)
	}
	if lo.PoolID() == nil || *lo.PoolID() != "usdc-main" {
		t.Errorf("pool: got %v", lo.PoolID())
	}
	if lo.Borrower.String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("borrower: got %s", lo.Borrower)
	}
	if lo.Principal.Cmp(lo.Fees) <= 0 {
		t.Errorf("expected principal > fees, got %s vs %s", lo.Principal, lo.Fees)
	}
}

func TestParsePoolRegister(t *testing.T) {
	raw := rawFromJSON(t, withMeta("usdc-main", map[string]interface{}{
		"caller":            "660e8400-e29b-41d4-a716-446655440001",
		"underlying_asset":  "USDC",
		"receipt_asset":     "palUSDC",
		"reserve_factor":    "100000000000000000",
		"killer_ratio":      "150000000000000000",
		"kill_factor":       "500000000000000000",
		"min_borrow_length": int64(5760),
	}))

	evt, err := ingestion.ParseRawEvent(raw, "PoolRegister")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pr, ok := evt.(*event.PoolRegister)
	if !ok {
		t.Fatalf("expected *event.PoolRegister, got %T", evt)
	}
	if pr.UnderlyingAsset != "USDC" || pr.ReceiptAsset != "palUSDC" {
		t.Errorf("assets: got %s/%s", pr.UnderlyingAsset, pr.ReceiptAsset)
	}
	if pr.MinBorrowLength != 5760 {
		t.Errorf("min borrow length: got %d", pr.MinBorrowLength)
	}
}

func TestParseReserveSweep(t *testing.T) {
	raw := rawFromJSON(t, withMeta("usdc-main", map[string]interface{}{
		"caller":    "660e8400-e29b-41d4-a716-446655440001",
		"recipient": "990e8400-e29b-41d4-a716-446655440004",
		"amount":    "1000000",
	}))

	evt, err := ingestion.ParseRawEvent(raw, "ReserveSweep")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	rs, ok := evt.(*event.ReserveSweep)
	if !ok {
		t.Fatalf("expected *event.ReserveSweep, got %T", evt)
	}
	if rs.Recipient.String() != "990e8400-e29b-41d4-a716-446655440004" {
		t.Errorf("recipient: got %s", rs.Recipient)
	}
}

func TestParseRejectsBadAmount(t *testing.T) {
	raw := rawFromJSON(t, withMeta("", map[string]interface{}{
		"user_id": "660e8400-e29b-41d4-a716-446655440001",
		"asset":   "USDC",
		"amount":  "lots",
	}))

	if _, err := ingestion.ParseRawEvent(raw, "CashDeposit"); err == nil {
		t.Error("non-numeric amount should fail")
	}
}

func TestParseRejectsBadUUID(t *testing.T) {
	raw := rawFromJSON(t, withMeta("", map[string]interface{}{
		"user_id": "nobody",
		"asset":   "USDC",
		"amount":  "1",
	}))

	if _, err := ingestion.ParseRawEvent(raw, "CashDeposit"); err == nil {
		t.Error("malformed user_id should fail")
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	raw := rawFromJSON(t, meta(""))
	if _, err := ingestion.ParseRawEvent(raw, "MarginCall"); err == nil {
		t.Error("unknown event type should fail")
	}
}

func TestParseIdempotencyKeyIsEventID(t *testing.T) {
	raw := rawFromJSON(t, withMeta("", map[string]interface{}{
		"user_id": "660e8400-e29b-41d4-a716-446655440001",
		"asset":   "USDC",
		"amount":  "1",
	}))

	evt, err := ingestion.ParseRawEvent(raw, "CashDeposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if evt.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", evt.IdempotencyKey())
	}
}
