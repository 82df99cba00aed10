package ledger_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/ledger"
)

func bi(n int64) *big.Int { return big.NewInt(n) }

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(userID, 1)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:cash:1"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_PoolPath(t *testing.T) {
	key := ledger.NewPoolAccountKey("usdc-main", ledger.SubTypePoolCash, 1)

	path := key.AccountPath()
	if path != "pool:usdc-main:cash:1" {
		t.Errorf("got %q, want %q", path, "pool:usdc-main:cash:1")
	}
}

func TestAccountKey_VehiclePath(t *testing.T) {
	vehicleID := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	key := ledger.NewVehicleAccountKey(vehicleID, ledger.SubTypeVehicleFees, 2)

	path := key.AccountPath()
	expected := "vehicle:00000000-0000-0000-0000-0000000000aa:fees:2"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_RewardsAndExternalPaths(t *testing.T) {
	fund := ledger.NewRewardsAccountKey(ledger.SubTypeRewardFund, 3)
	if fund.AccountPath() != "rewards:fund:3" {
		t.Errorf("got %q", fund.AccountPath())
	}

	stake := ledger.NewRewardsAccountKey(ledger.SubTypeRewardStake, 2)
	if stake.AccountPath() != "rewards:stake:2" {
		t.Errorf("got %q", stake.AccountPath())
	}

	ext := ledger.NewExternalAccountKey(1)
	if ext.AccountPath() != "external:settlement:1" {
		t.Errorf("got %q", ext.AccountPath())
	}
}

func TestAccountKey_TextRoundTrip(t *testing.T) {
	orig := ledger.NewVehicleAccountKey(uuid.New(), ledger.SubTypeVehiclePrincipal, 7)

	text, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back ledger.AccountKey
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != orig {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, orig)
	}
}

func TestAccountKey_UnmarshalMalformed(t *testing.T) {
	var k ledger.AccountKey
	if err := k.UnmarshalText([]byte("not-a-key")); err == nil {
		t.Error("expected error for malformed key")
	}
	if err := k.UnmarshalText([]byte("1:2:3:zz")); err == nil {
		t.Error("expected error for bad entity hex")
	}
}

// ============================================================================
// Test: AssetTable
// ============================================================================

func TestAssetTable_RegisterAndLookup(t *testing.T) {
	table := ledger.NewAssetTable()

	usdc := table.Register("USDC")
	if usdc == 0 {
		t.Fatal("asset IDs start at 1")
	}

	// Re-registering returns the same ID.
	if again := table.Register("USDC"); again != usdc {
		t.Errorf("re-register: got %d, want %d", again, usdc)
	}

	pal := table.Register("palUSDC")
	if pal == usdc {
		t.Error("distinct assets must get distinct IDs")
	}

	id, ok := table.Lookup("USDC")
	if !ok || id != usdc {
		t.Errorf("lookup: got %d/%v", id, ok)
	}
	if _, ok := table.Lookup("DOGE"); ok {
		t.Error("unregistered asset should not resolve")
	}

	name, ok := table.Name(pal)
	if !ok || name != "palUSDC" {
		t.Errorf("name: got %q/%v", name, ok)
	}
}

func TestAssetTable_SnapshotIsolation(t *testing.T) {
	table := ledger.NewAssetTable()
	table.Register("USDC")

	snap := table.Snapshot()
	table.Register("DAI")

	if _, ok := snap.Lookup("DAI"); ok {
		t.Error("snapshot must not see later registrations")
	}

	table.RestoreFrom(snap)
	if _, ok := table.Lookup("DAI"); ok {
		t.Error("restore must drop assets registered after the snapshot")
	}
}

func TestAssetTable_JSONRoundTrip(t *testing.T) {
	table := ledger.NewAssetTable()
	usdc := table.Register("USDC")
	pal := table.Register("palUSDC")

	data, err := json.Marshal(table)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := ledger.NewAssetTable()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if id, ok := restored.Lookup("USDC"); !ok || id != usdc {
		t.Errorf("USDC: got %d/%v, want %d", id, ok, usdc)
	}
	if id, ok := restored.Lookup("palUSDC"); !ok || id != pal {
		t.Errorf("palUSDC: got %d/%v, want %d", id, ok, pal)
	}

	// New registrations continue past restored IDs.
	next := restored.Register("DAI")
	if next == usdc || next == pal {
		t.Errorf("post-restore registration reused ID %d", next)
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if bal := bt.GetUserCash(uuid.New(), 1); bal.Sign() != 0 {
		t.Errorf("initial balance should be 0, got %s", bal)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()

	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, 1),
		CreditAccount: ledger.NewExternalAccountKey(1),
		AssetID:       1,
		Amount:        bi(1_000_000),
	}
	bt.ApplyJournal(j)

	if bal := bt.GetUserCash(userID, 1); bal.Cmp(bi(1_000_000)) != 0 {
		t.Errorf("cash: got %s, want 1000000", bal)
	}
	if ext := bt.GetBalance(ledger.NewExternalAccountKey(1)); ext.Cmp(bi(-1_000_000)) != 0 {
		t.Errorf("external: got %s, want -1000000", ext)
	}
}

func TestBalanceTracker_RevertBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewUserAccountKey(userID, 1),
			CreditAccount: ledger.NewExternalAccountKey(1),
			AssetID:       1,
			Amount:        bi(500_000),
		}},
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	bt.RevertBatch(batch)

	if bal := bt.GetUserCash(userID, 1); bal.Sign() != 0 {
		t.Errorf("after revert: got %s, want 0", bal)
	}
}

func TestBalanceTracker_ValidateSufficient(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	key := ledger.NewUserAccountKey(userID, 1)

	bt.SetBalance(key, bi(100))

	if err := bt.ValidateSufficient(key, bi(100)); err != nil {
		t.Errorf("exact amount should pass: %v", err)
	}
	if err := bt.ValidateSufficient(key, bi(101)); err == nil {
		t.Error("over-withdrawal should fail")
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	userID := uuid.New()
	batch, err := jg.GenerateCashDeposit(userID, "evt-1", bi(1_000_000), 1, 100)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	for assetID, sum := range bt.ComputeGlobalBalance() {
		if sum.Sign() != 0 {
			t.Errorf("asset %d: global sum %s, want 0", assetID, sum)
		}
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func fundedTracker(t *testing.T, userID uuid.UUID, amount int64) (*ledger.BalanceTracker, *ledger.JournalGenerator) {
	t.Helper()
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	batch, err := jg.GenerateCashDeposit(userID, "seed", bi(amount), 1, 1)
	if err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("seed apply: %v", err)
	}
	return bt, jg
}

func TestGenerator_CashWithdrawInsufficient(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	_, err := jg.GenerateCashWithdraw(uuid.New(), "evt-1", bi(1), 1, 100)
	if err == nil {
		t.Error("withdraw from empty account should fail")
	}
}

func TestGenerator_PoolDepositLegs(t *testing.T) {
	userID := uuid.New()
	bt, jg := fundedTracker(t, userID, 1_000_000)

	batch, err := jg.GeneratePoolDeposit(userID, "usdc-main", "evt-2", bi(400_000), bi(400_000), 1, 2, 10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("got %d journals, want 2", len(batch.Journals))
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if cash := bt.GetPoolCash("usdc-main", 1); cash.Cmp(bi(400_000)) != 0 {
		t.Errorf("pool cash: got %s, want 400000", cash)
	}
	if receipt := bt.GetUserCash(userID, 2); receipt.Cmp(bi(400_000)) != 0 {
		t.Errorf("receipt: got %s, want 400000", receipt)
	}
	if cash := bt.GetUserCash(userID, 1); cash.Cmp(bi(600_000)) != 0 {
		t.Errorf("remaining cash: got %s, want 600000", cash)
	}
}

func TestGenerator_LoanOpenEscrowsAndDisburses(t *testing.T) {
	borrower := uuid.New()
	bt, jg := fundedTracker(t, borrower, 1_000_000)

	// Fund the pool from a supplier.
	supplier := uuid.New()
	seed, err := jg.GenerateCashDeposit(supplier, "seed-2", bi(5_000_000), 1, 1)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := bt.ApplyBatch(seed); err != nil {
		t.Fatalf("seed apply: %v", err)
	}
	dep, err := jg.GeneratePoolDeposit(supplier, "usdc-main", "seed-3", bi(5_000_000), bi(5_000_000), 1, 2, 1)
	if err != nil {
		t.Fatalf("pool seed: %v", err)
	}
	if err := bt.ApplyBatch(dep); err != nil {
		t.Fatalf("pool seed apply: %v", err)
	}

	vehicleID := uuid.New()
	batch, err := jg.GenerateLoanOpen(borrower, "usdc-main", vehicleID, "evt-3", bi(2_000_000), bi(50_000), 1, 20)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if v := bt.GetVehicleBalance(vehicleID, ledger.SubTypeVehiclePrincipal, 1); v.Cmp(bi(2_000_000)) != 0 {
		t.Errorf("vehicle principal: got %s", v)
	}
	if v := bt.GetVehicleBalance(vehicleID, ledger.SubTypeVehicleFees, 1); v.Cmp(bi(50_000)) != 0 {
		t.Errorf("vehicle fees: got %s", v)
	}
	if cash := bt.GetPoolCash("usdc-main", 1); cash.Cmp(bi(3_000_000)) != 0 {
		t.Errorf("pool cash after disburse: got %s", cash)
	}
}

func TestGenerator_LoanSettleDrainsVehicle(t *testing.T) {
	borrower := uuid.New()
	killer := uuid.New()
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	vehicleID := uuid.New()
	bt.SetBalance(ledger.NewVehicleAccountKey(vehicleID, ledger.SubTypeVehiclePrincipal, 1), bi(2_000_000))
	bt.SetBalance(ledger.NewVehicleAccountKey(vehicleID, ledger.SubTypeVehicleFees, 1), bi(50_000))

	batch, err := jg.GenerateLoanSettle("usdc-main", vehicleID, "evt-4", ledger.LoanSettlement{
		Principal:  bi(2_000_000),
		FeesToPool: bi(30_000),
		FeesRefund: bi(0),
		Bounty:     bi(20_000),
		Refundee:   borrower,
		Killer:     killer,
	}, 1, 30)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if v := bt.GetVehicleBalance(vehicleID, ledger.SubTypeVehiclePrincipal, 1); v.Sign() != 0 {
		t.Errorf("principal not drained: %s", v)
	}
	if v := bt.GetVehicleBalance(vehicleID, ledger.SubTypeVehicleFees, 1); v.Sign() != 0 {
		t.Errorf("fees not drained: %s", v)
	}
	if b := bt.GetUserCash(killer, 1); b.Cmp(bi(20_000)) != 0 {
		t.Errorf("killer bounty: got %s, want 20000", b)
	}
	if cash := bt.GetPoolCash("usdc-main", 1); cash.Cmp(bi(2_030_000)) != 0 {
		t.Errorf("pool cash: got %s, want 2030000", cash)
	}
}

func TestGenerator_SettleRefundOnClose(t *testing.T) {
	owner := uuid.New()
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	vehicleID := uuid.New()
	bt.SetBalance(ledger.NewVehicleAccountKey(vehicleID, ledger.SubTypeVehiclePrincipal, 1), bi(1_000_000))
	bt.SetBalance(ledger.NewVehicleAccountKey(vehicleID, ledger.SubTypeVehicleFees, 1), bi(40_000))

	batch, err := jg.GenerateLoanSettle("usdc-main", vehicleID, "evt-5", ledger.LoanSettlement{
		Principal:  bi(1_000_000),
		FeesToPool: bi(15_000),
		FeesRefund: bi(25_000),
		Bounty:     bi(0),
		Refundee:   owner,
	}, 1, 40)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if b := bt.GetUserCash(owner, 1); b.Cmp(bi(25_000)) != 0 {
		t.Errorf("refund: got %s, want 25000", b)
	}
}

func TestGenerator_StakeRoundTrip(t *testing.T) {
	userID := uuid.New()
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	// Receipts held as user cash in the receipt asset.
	bt.SetBalance(ledger.NewUserAccountKey(userID, 2), bi(300))

	dep, err := jg.GenerateStakeDeposit(userID, "evt-6", bi(300), 2, 50)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := bt.ApplyBatch(dep); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}
	if b := bt.GetBalance(ledger.NewRewardsAccountKey(ledger.SubTypeRewardStake, 2)); b.Cmp(bi(300)) != 0 {
		t.Errorf("stake escrow: got %s", b)
	}

	wd, err := jg.GenerateStakeWithdraw(userID, "evt-7", bi(300), 2, 51)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := bt.ApplyBatch(wd); err != nil {
		t.Fatalf("apply withdraw: %v", err)
	}
	if b := bt.GetUserCash(userID, 2); b.Cmp(bi(300)) != 0 {
		t.Errorf("after withdraw: got %s", b)
	}
}

func TestGenerator_RewardClaimRequiresFund(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	if _, err := jg.GenerateRewardClaim(uuid.New(), "evt-8", bi(10), 3, 60); err == nil {
		t.Error("claim against empty fund should fail")
	}

	fund, err := jg.GenerateRewardsFund("evt-9", bi(1_000), 3, 60)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := bt.ApplyBatch(fund); err != nil {
		t.Fatalf("apply fund: %v", err)
	}

	if _, err := jg.GenerateRewardClaim(uuid.New(), "evt-10", bi(10), 3, 61); err != nil {
		t.Errorf("claim after funding: %v", err)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestValidator_GeneratedBatchesBalance(t *testing.T) {
	userID := uuid.New()
	bt, jg := fundedTracker(t, userID, 1_000_000)
	v := ledger.NewInvariantValidator(bt)

	batch, err := jg.GeneratePoolDeposit(userID, "usdc-main", "evt-11", bi(100), bi(100), 1, 2, 70)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := v.ValidateBatchBalance(batch); err != nil {
		t.Errorf("generated batch should balance: %v", err)
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
}

func TestValidator_VehicleDrained(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	vehicleID := uuid.New()

	if err := v.ValidateVehicleDrained(vehicleID, 1); err != nil {
		t.Errorf("untouched vehicle counts as drained: %v", err)
	}

	bt.SetBalance(ledger.NewVehicleAccountKey(vehicleID, ledger.SubTypeVehicleFees, 1), bi(5))
	if err := v.ValidateVehicleDrained(vehicleID, 1); err == nil {
		t.Error("residual escrow must be reported")
	}
}
