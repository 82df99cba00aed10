package core_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/core"
	"github.com/PaladinFinance/paladin-ledger/internal/event"
	"github.com/PaladinFinance/paladin-ledger/internal/ledger"
	"github.com/PaladinFinance/paladin-ledger/internal/rates"
)

const (
	testPool = "usdc-main"

	// Per-block borrow rate at 1e18 scale. A fixed model keeps fee math
	// exactly predictable: 1e18 principal consumes 1e12 per block.
	testRate = 1_000_000_000_000
)

var (
	admin    = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	supplier = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	borrower = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	killer   = uuid.MustParse("00000000-0000-0000-0000-000000000004")
)

func wadFrac(num int64) *big.Int {
	// num is in 1e18 fixed point already for small test values.
	return big.NewInt(num)
}

func amt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad amount: " + s)
	}
	return v
}

// harness owns a core with buffered output channels and per-partition
// source sequence counters, mirroring what the NATS ingest loop provides.
type harness struct {
	t       *testing.T
	core    *core.DeterministicCore
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	seqs    map[string]int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	persist := make(chan core.CoreOutput, 4096)
	proj := make(chan core.CoreOutput, 4096)

	factory := func(poolID string) rates.InterestOracle {
		return &rates.FixedModel{Rate: big.NewInt(testRate)}
	}

	c := core.NewDeterministicCore(0, admin, factory, persist, proj, nil, nil)
	return &harness{
		t:       t,
		core:    c,
		persist: persist,
		proj:    proj,
		seqs:    make(map[string]int64),
	}
}

func (h *harness) meta(pool string, block int64) event.Meta {
	partition := "global"
	if pool != "" {
		partition = "pool:" + pool
	}
	seq := h.seqs[partition]
	h.seqs[partition] = seq + 1
	return event.Meta{
		EventID:  uuid.New(),
		Pool:     pool,
		Block:    block,
		Sequence: seq,
	}
}

func (h *harness) apply(evt event.Event) {
	h.t.Helper()
	if err := h.core.ProcessEvent(evt); err != nil {
		h.t.Fatalf("%s: %v", evt.EventType(), err)
	}
}

func (h *harness) applyErr(evt event.Event) error {
	h.t.Helper()
	return h.core.ProcessEvent(evt)
}

// drain empties the persist channel and returns everything emitted since
// the last drain.
func (h *harness) drain() []core.CoreOutput {
	var outs []core.CoreOutput
	for {
		select {
		case out := <-h.persist:
			outs = append(outs, out)
		default:
			return outs
		}
	}
}

func (h *harness) lastOutput() core.CoreOutput {
	h.t.Helper()
	outs := h.drain()
	if len(outs) == 0 {
		h.t.Fatal("no output emitted")
	}
	return outs[len(outs)-1]
}

// registerPool lists the standard test pool: 10% reserve factor, 10%
// killer ratio, 50% kill factor, 100-block minimum borrow.
func (h *harness) registerPool(block int64) {
	h.apply(&event.PoolRegister{
		Meta:            h.meta(testPool, block),
		Caller:          admin,
		UnderlyingAsset: "USDC",
		ReceiptAsset:    "palUSDC",
		ReserveFactor:   wadFrac(100_000_000_000_000_000),
		KillerRatio:     wadFrac(100_000_000_000_000_000),
		KillFactor:      wadFrac(500_000_000_000_000_000),
		MinBorrowLength: 100,
	})
}

func (h *harness) fundAndSupply(block int64) {
	h.apply(&event.CashDeposit{
		Meta:   h.meta("", block),
		UserID: supplier,
		Asset:  "USDC",
		Amount: amt("5000000000000000000"),
	})
	h.apply(&event.PoolDeposit{
		Meta:   h.meta(testPool, block),
		UserID: supplier,
		Amount: amt("2000000000000000000"),
	})
}

func (h *harness) openLoan(loanID uuid.UUID, fees *big.Int, block int64) {
	h.apply(&event.CashDeposit{
		Meta:   h.meta("", block),
		UserID: borrower,
		Asset:  "USDC",
		Amount: amt("1000000000000000"),
	})
	h.apply(&event.LoanOpen{
		Meta:      h.meta(testPool, block),
		LoanID:    loanID,
		Borrower:  borrower,
		Delegatee: borrower,
		Principal: amt("1000000000000000000"),
		Fees:      fees,
	})
}

// --- Administration ---

func TestPoolRegisterRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	err := h.applyErr(&event.PoolRegister{
		Meta:            h.meta(testPool, 10),
		Caller:          supplier,
		UnderlyingAsset: "USDC",
		ReceiptAsset:    "palUSDC",
		ReserveFactor:   wadFrac(100_000_000_000_000_000),
		KillerRatio:     wadFrac(100_000_000_000_000_000),
		KillFactor:      wadFrac(500_000_000_000_000_000),
		MinBorrowLength: 100,
	})
	if err == nil {
		t.Fatal("non-admin registration must be rejected")
	}

	h.registerPool(11)
	out := h.lastOutput()
	if out.PoolState == nil || out.PoolState.ID != testPool {
		t.Errorf("expected pool hint, got %+v", out.PoolState)
	}
}

// --- Supply side ---

func TestPoolDepositMintsAtPar(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.fundAndSupply(20)

	out := h.lastOutput()
	if out.PoolState == nil {
		t.Fatal("missing pool hint")
	}
	if out.PoolState.ReceiptSupply.Cmp(amt("2000000000000000000")) != 0 {
		t.Errorf("receipt supply: got %s, want 2e18", out.PoolState.ReceiptSupply)
	}
	if out.PoolState.Cash.Cmp(amt("2000000000000000000")) != 0 {
		t.Errorf("pool cash: got %s, want 2e18", out.PoolState.Cash)
	}
	if out.ExchangeRate == nil || out.ExchangeRate.Cmp(amt("1000000000000000000")) != 0 {
		t.Errorf("exchange rate: got %v, want 1e18", out.ExchangeRate)
	}
}

func TestPoolDepositRequiresListedPool(t *testing.T) {
	h := newHarness(t)
	err := h.applyErr(&event.PoolDeposit{
		Meta:   h.meta("nope", 10),
		UserID: supplier,
		Amount: amt("1000"),
	})
	if err == nil {
		t.Error("deposit into unknown pool must be rejected")
	}
}

// --- Loan lifecycle ---

func TestLoanCloseConsumesElapsedFees(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.fundAndSupply(20)

	loanID := uuid.New()
	h.openLoan(loanID, amt("300000000000000"), 100)
	h.drain()

	// 200 blocks at 1e12/block on 1e18 principal consumes 2e14 of the
	// 3e14 escrow; 1e14 refunds to the owner.
	h.apply(&event.LoanClose{
		Meta:   h.meta(testPool, 300),
		LoanID: loanID,
		Caller: borrower,
	})

	out := h.lastOutput()
	if out.Loan == nil || !out.Loan.Closed || out.Loan.Killed {
		t.Fatalf("expected closed loan hint, got %+v", out.Loan)
	}
	if out.Loan.FeesUsed.Cmp(amt("200000000000000")) != 0 {
		t.Errorf("fees used: got %s, want 2e14", out.Loan.FeesUsed)
	}

	var refund *big.Int
	for _, j := range out.Batch.Journals {
		if j.JournalType == ledger.JournalTypeFeeRefund {
			refund = j.Amount
		}
	}
	if refund == nil || refund.Cmp(amt("100000000000000")) != 0 {
		t.Errorf("refund: got %v, want 1e14", refund)
	}
}

func TestLoanCloseFloorsAtMinBorrowLength(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.fundAndSupply(20)

	loanID := uuid.New()
	h.openLoan(loanID, amt("300000000000000"), 100)
	h.drain()

	// Closing after 10 blocks still pays the 100-block minimum: 1e14.
	h.apply(&event.LoanClose{
		Meta:   h.meta(testPool, 110),
		LoanID: loanID,
		Caller: borrower,
	})

	out := h.lastOutput()
	if out.Loan.FeesUsed.Cmp(amt("100000000000000")) != 0 {
		t.Errorf("fees used: got %s, want 1e14 floor", out.Loan.FeesUsed)
	}
}

func TestLoanCloseOnlyOwner(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.fundAndSupply(20)

	loanID := uuid.New()
	h.openLoan(loanID, amt("300000000000000"), 100)

	if err := h.applyErr(&event.LoanClose{
		Meta:   h.meta(testPool, 150),
		LoanID: loanID,
		Caller: supplier,
	}); err == nil {
		t.Fatal("non-owner close must be rejected")
	}

	// Transferring the token moves the right to close with it.
	h.apply(&event.LoanTransfer{
		Meta:   h.meta(testPool, 160),
		LoanID: loanID,
		Caller: borrower,
		To:     supplier,
	})
	h.apply(&event.LoanClose{
		Meta:   h.meta(testPool, 250),
		LoanID: loanID,
		Caller: supplier,
	})
}

func TestLoanKillBountyAndNoRefund(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.fundAndSupply(20)

	loanID := uuid.New()
	h.openLoan(loanID, amt("200000000000000"), 100)

	// Not killable yet: threshold is 50% of 2e14 = 1e14 consumed.
	if err := h.applyErr(&event.LoanKill{
		Meta:   h.meta(testPool, 110),
		LoanID: loanID,
		Killer: killer,
	}); err == nil {
		t.Fatal("healthy loan must not be killable")
	}

	// Self-kill is rejected even when killable.
	if err := h.applyErr(&event.LoanKill{
		Meta:   h.meta(testPool, 260),
		LoanID: loanID,
		Killer: borrower,
	}); err == nil {
		t.Fatal("self-kill must be rejected")
	}
	h.drain()

	// 150+ blocks elapsed consumes over the 1e14 threshold. Bounty is
	// 10% of the escrow (2e13); the rest goes to the pool, nothing
	// refunds.
	h.apply(&event.LoanKill{
		Meta:   h.meta(testPool, 261),
		LoanID: loanID,
		Killer: killer,
	})

	out := h.lastOutput()
	if out.Loan == nil || !out.Loan.Killed {
		t.Fatalf("expected killed loan hint, got %+v", out.Loan)
	}

	var bounty, refund *big.Int
	for _, j := range out.Batch.Journals {
		switch j.JournalType {
		case ledger.JournalTypeKillerBounty:
			bounty = j.Amount
		case ledger.JournalTypeFeeRefund:
			refund = j.Amount
		}
	}
	if bounty == nil || bounty.Cmp(amt("20000000000000")) != 0 {
		t.Errorf("bounty: got %v, want 2e13", bounty)
	}
	if refund != nil {
		t.Errorf("kill must not refund the borrower, got %s", refund)
	}
}

func TestTerminalLoanRejectsFurtherLifecycle(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.fundAndSupply(20)

	loanID := uuid.New()
	h.openLoan(loanID, amt("300000000000000"), 100)
	h.apply(&event.LoanClose{
		Meta:   h.meta(testPool, 300),
		LoanID: loanID,
		Caller: borrower,
	})

	if err := h.applyErr(&event.LoanClose{
		Meta:   h.meta(testPool, 301),
		LoanID: loanID,
		Caller: borrower,
	}); err == nil {
		t.Error("double close must be rejected")
	}
	if err := h.applyErr(&event.LoanExpand{
		Meta:      h.meta(testPool, 302),
		LoanID:    loanID,
		Caller:    borrower,
		ExtraFees: amt("1"),
	}); err == nil {
		t.Error("expand on closed loan must be rejected")
	}
	if err := h.applyErr(&event.LoanKill{
		Meta:   h.meta(testPool, 303),
		LoanID: loanID,
		Killer: killer,
	}); err == nil {
		t.Error("kill on closed loan must be rejected")
	}
}

// --- Rewards ---

func (h *harness) setupRewards(block int64) {
	h.apply(&event.RewardTokenUpdate{
		Meta:   h.meta("", block),
		Caller: admin,
		Asset:  "PAL",
	})
	h.apply(&event.RewardsFund{
		Meta:   h.meta("", block),
		Amount: amt("1000000000000000000"),
	})
}

func TestStakeEarnsSupplySpeed(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.setupRewards(10)
	h.fundAndSupply(20)

	h.apply(&event.PoolRewardsUpdate{
		Meta:        h.meta(testPool, 20),
		Caller:      admin,
		SupplySpeed: amt("10000000000"),
		BorrowRatio: new(big.Int),
		Auto:        false,
	})
	h.apply(&event.StakeDeposit{
		Meta:   h.meta("", 30),
		UserID: supplier,
		Asset:  "palUSDC",
		Amount: amt("1000000000000000000"),
	})
	h.drain()

	// Sole staker for 100 blocks at speed 1e10: exactly 1e12 accrues.
	h.apply(&event.RewardsClaim{
		Meta:   h.meta("", 130),
		UserID: supplier,
	})

	out := h.lastOutput()
	if len(out.Batch.Journals) != 1 {
		t.Fatalf("expected one claim journal, got %d", len(out.Batch.Journals))
	}
	j := out.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeRewardClaim {
		t.Errorf("journal type: got %d", j.JournalType)
	}
	if j.Amount.Cmp(amt("1000000000000")) != 0 {
		t.Errorf("claim amount: got %s, want 1e12", j.Amount)
	}
	if out.RewardAccrued == nil || out.RewardAccrued.Sign() != 0 {
		t.Errorf("accrued after claim: got %v, want 0", out.RewardAccrued)
	}
}

func TestStakeRequiresReceiptBalance(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.setupRewards(10)

	err := h.applyErr(&event.StakeDeposit{
		Meta:   h.meta("", 20),
		UserID: supplier,
		Asset:  "palUSDC",
		Amount: amt("1"),
	})
	if err == nil {
		t.Error("staking unheld receipts must be rejected")
	}
}

func TestLoanRewardsClaimOneShot(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.setupRewards(10)
	h.fundAndSupply(20)

	h.apply(&event.PoolRewardsUpdate{
		Meta:        h.meta(testPool, 20),
		Caller:      admin,
		SupplySpeed: new(big.Int),
		BorrowRatio: amt("500000000000000000"),
		Auto:        false,
	})

	loanID := uuid.New()
	h.openLoan(loanID, amt("300000000000000"), 100)

	// Open loans cannot claim the borrow reward.
	if err := h.applyErr(&event.LoanRewardsClaim{
		Meta:   h.meta("", 150),
		LoanID: loanID,
		Caller: borrower,
	}); err == nil {
		t.Fatal("claim on open loan must be rejected")
	}

	h.apply(&event.LoanClose{
		Meta:   h.meta(testPool, 300),
		LoanID: loanID,
		Caller: borrower,
	})
	h.drain()

	// Reward is ratio * feesUsed = 0.5 * 2e14 = 1e14.
	h.apply(&event.LoanRewardsClaim{
		Meta:   h.meta("", 301),
		LoanID: loanID,
		Caller: borrower,
	})
	out := h.lastOutput()
	if len(out.Batch.Journals) != 1 || out.Batch.Journals[0].Amount.Cmp(amt("100000000000000")) != 0 {
		t.Fatalf("borrow reward: got %+v", out.Batch.Journals)
	}

	if err := h.applyErr(&event.LoanRewardsClaim{
		Meta:   h.meta("", 302),
		LoanID: loanID,
		Caller: borrower,
	}); err == nil {
		t.Error("second claim must be rejected")
	}
}

// --- Ordering, idempotency, hash chain ---

func TestDuplicateEventSkipped(t *testing.T) {
	h := newHarness(t)

	evt := &event.CashDeposit{
		Meta:   h.meta("", 10),
		UserID: supplier,
		Asset:  "USDC",
		Amount: amt("1000"),
	}
	h.apply(evt)
	seqAfterFirst := h.core.GetSequence()

	// Same event id redelivered: absorbed without advancing state.
	if err := h.applyErr(evt); err != nil {
		t.Fatalf("duplicate must be absorbed, got %v", err)
	}
	if h.core.GetSequence() != seqAfterFirst {
		t.Errorf("duplicate advanced sequence: %d -> %d", seqAfterFirst, h.core.GetSequence())
	}
}

func TestSequenceGapRejected(t *testing.T) {
	h := newHarness(t)

	err := h.applyErr(&event.CashDeposit{
		Meta:   event.Meta{EventID: uuid.New(), Block: 10, Sequence: 5},
		UserID: supplier,
		Asset:  "USDC",
		Amount: amt("1000"),
	})
	if err == nil {
		t.Error("sequence gap must be rejected")
	}
}

func TestRejectedEventLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.fundAndSupply(20)
	before := h.core.GetStateHash()
	h.drain()

	// Withdrawing more receipts than minted fails inside the handler,
	// after interest accrual already ran; the checkpoint rolls it back.
	err := h.applyErr(&event.PoolWithdraw{
		Meta:          h.meta(testPool, 30),
		UserID:        supplier,
		ReceiptAmount: amt("9000000000000000000"),
	})
	if err == nil {
		t.Fatal("over-withdrawal must be rejected")
	}
	if h.core.GetStateHash() != before {
		t.Error("rejected event mutated the hash chain")
	}
	if outs := h.drain(); len(outs) != 0 {
		t.Errorf("rejected event emitted %d outputs", len(outs))
	}
}

func TestHashChainLinksEnvelopes(t *testing.T) {
	h := newHarness(t)
	h.registerPool(10)
	h.fundAndSupply(20)

	outs := h.drain()
	if len(outs) < 2 {
		t.Fatalf("got %d outputs", len(outs))
	}
	for i := 1; i < len(outs); i++ {
		if outs[i].Envelope.PrevHash != outs[i-1].Envelope.StateHash {
			t.Errorf("envelope %d prev hash does not link to %d", i, i-1)
		}
	}
	if outs[len(outs)-1].Envelope.StateHash != h.core.GetStateHash() {
		t.Error("chain tip does not match last envelope")
	}
}

func TestDeterministicHashAcrossRuns(t *testing.T) {
	run := func() [32]byte {
		h := newHarness(t)
		h.seedDeterministic()
		return h.core.GetStateHash()
	}
	if run() != run() {
		t.Error("identical event streams produced different state hashes")
	}
}

// seedDeterministic drives a fixed scenario with fixed UUIDs so two runs
// are byte-identical.
func (h *harness) seedDeterministic() {
	fixedMeta := func(pool string, block int64, id string) event.Meta {
		m := h.meta(pool, block)
		m.EventID = uuid.MustParse(id)
		return m
	}

	h.apply(&event.PoolRegister{
		Meta:            fixedMeta(testPool, 10, "10000000-0000-0000-0000-000000000001"),
		Caller:          admin,
		UnderlyingAsset: "USDC",
		ReceiptAsset:    "palUSDC",
		ReserveFactor:   wadFrac(100_000_000_000_000_000),
		KillerRatio:     wadFrac(100_000_000_000_000_000),
		KillFactor:      wadFrac(500_000_000_000_000_000),
		MinBorrowLength: 100,
	})
	h.apply(&event.CashDeposit{
		Meta:   fixedMeta("", 11, "10000000-0000-0000-0000-000000000002"),
		UserID: supplier,
		Asset:  "USDC",
		Amount: amt("5000000000000000000"),
	})
	h.apply(&event.PoolDeposit{
		Meta:   fixedMeta(testPool, 12, "10000000-0000-0000-0000-000000000003"),
		UserID: supplier,
		Amount: amt("2000000000000000000"),
	})
	h.apply(&event.CashWithdraw{
		Meta:   fixedMeta("", 13, "10000000-0000-0000-0000-000000000004"),
		UserID: supplier,
		Asset:  "USDC",
		Amount: amt("1000000000000000000"),
	})
}

// --- Snapshot & replay ---

func TestSnapshotRestoreContinuesChain(t *testing.T) {
	h := newHarness(t)
	h.seedDeterministic()

	snap := h.core.CreateSnapshotState()
	blob, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	var restoredState core.SnapshotState
	if err := json.Unmarshal(blob, &restoredState); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored := newHarness(t)
	restored.core.RestoreFromSnapshot(&restoredState)
	restored.core.WarmLRU(restoredState.IdempotencyKeys)
	restored.seqs = map[string]int64{}
	for p, s := range restoredState.SequenceState {
		restored.seqs[p] = s
	}

	if restored.core.GetSequence() != h.core.GetSequence() {
		t.Fatalf("sequence: got %d, want %d", restored.core.GetSequence(), h.core.GetSequence())
	}
	if restored.core.GetStateHash() != h.core.GetStateHash() {
		t.Fatal("restored hash diverges from live hash")
	}

	// The same next event must hash identically on both cores.
	next := func(hh *harness) {
		hh.apply(&event.CashDeposit{
			Meta: event.Meta{
				EventID:  uuid.MustParse("10000000-0000-0000-0000-000000000005"),
				Block:    20,
				Sequence: hh.seqs["global"],
			},
			UserID: borrower,
			Asset:  "USDC",
			Amount: amt("7"),
		})
		hh.seqs["global"]++
	}
	next(h)
	next(restored)

	if restored.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("post-restore processing diverged")
	}
}

func TestReplayReproducesHashChain(t *testing.T) {
	h := newHarness(t)
	h.seedDeterministic()
	outs := h.drain()

	replayer := newHarness(t)
	for _, out := range outs {
		evt, err := event.DecodePayload(out.Envelope.EventType, out.Envelope.Payload)
		if err != nil {
			t.Fatalf("decode %s: %v", out.Envelope.EventType, err)
		}
		hash, err := replayer.core.ReplayEvent(evt)
		if err != nil {
			t.Fatalf("replay %s: %v", out.Envelope.EventType, err)
		}
		if !bytes.Equal(hash[:], out.Envelope.StateHash[:]) {
			t.Fatalf("replay hash mismatch at sequence %d", out.Envelope.Sequence)
		}
	}

	if replayer.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("replayed chain tip diverges from live tip")
	}
	if replayer.core.GetSequence() != h.core.GetSequence() {
		t.Errorf("sequence: got %d, want %d", replayer.core.GetSequence(), h.core.GetSequence())
	}

	// Replay primed the dedup LRU: redelivering a replayed event is a
	// no-op, and the partition cursors accept the next live sequence.
	evt, err := event.DecodePayload(outs[0].Envelope.EventType, outs[0].Envelope.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	seqBefore := replayer.core.GetSequence()
	if err := replayer.core.ProcessEvent(evt); err != nil {
		t.Fatalf("redelivery after replay: %v", err)
	}
	if replayer.core.GetSequence() != seqBefore {
		t.Error("redelivered event advanced the sequence")
	}
}
