package rewards_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"github.com/PaladinFinance/paladin-ledger/internal/rewards"
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-000000000021")
	bob   = uuid.MustParse("00000000-0000-0000-0000-000000000022")
)

func bi(n int64) *big.Int { return big.NewInt(n) }

func amt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad amount literal %q", s)
	}
	return v
}

// wadFrac returns num/den scaled to 1e18 fixed point.
func wadFrac(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), big.NewInt(1e18))
	return v.Quo(v, big.NewInt(den))
}

// newEngine registers "usdc-main" with a supply speed of 1e10 per block
// and no borrow program, starting at block 10.
func newEngine(t *testing.T) *rewards.Engine {
	t.Helper()
	e := rewards.NewEngine()
	e.SetRewardToken("PAL")
	e.RegisterPool("usdc-main", "palUSDC", 10)
	if err := e.UpdatePoolRewards("usdc-main", bi(1e10), bi(0), false, 10); err != nil {
		t.Fatalf("set rewards: %v", err)
	}
	return e
}

// ==== Supply stream ====

func TestSingleStakerEarnsSpeed(t *testing.T) {
	e := newEngine(t)

	if err := e.DepositStake("palUSDC", alice, amt(t, "1000000000000000000"), 30); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if acc := e.Accrued(alice); acc.Sign() != 0 {
		t.Fatalf("accrued = %s at stake time, want 0", acc)
	}

	// Sole staker for 100 blocks captures the whole stream.
	if err := e.UpdateUserRewards(alice, 130); err != nil {
		t.Fatalf("update: %v", err)
	}
	if acc := e.Accrued(alice); acc.Cmp(bi(1e12)) != 0 {
		t.Fatalf("accrued = %s, want 1e12", acc)
	}

	paid, err := e.Claim(alice, amt(t, "1000000000000000000"))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(bi(1e12)) != 0 {
		t.Fatalf("claimed = %s, want 1e12", paid)
	}
	if acc := e.Accrued(alice); acc.Sign() != 0 {
		t.Fatalf("accrued = %s after claim, want 0", acc)
	}

	// A second claim has nothing to pay.
	paid, err = e.Claim(alice, amt(t, "1000000000000000000"))
	if err != nil || paid.Sign() != 0 {
		t.Fatalf("re-claim = %s, %v, want 0, nil", paid, err)
	}
}

func TestTwoStakersSplitProRata(t *testing.T) {
	e := newEngine(t)

	if err := e.DepositStake("palUSDC", alice, amt(t, "1000000000000000000"), 30); err != nil {
		t.Fatalf("stake alice: %v", err)
	}
	if err := e.DepositStake("palUSDC", bob, amt(t, "3000000000000000000"), 30); err != nil {
		t.Fatalf("stake bob: %v", err)
	}

	if err := e.UpdateUserRewards(alice, 130); err != nil {
		t.Fatalf("update alice: %v", err)
	}
	if err := e.UpdateUserRewards(bob, 130); err != nil {
		t.Fatalf("update bob: %v", err)
	}

	if acc := e.Accrued(alice); acc.Cmp(bi(250_000_000_000)) != 0 {
		t.Fatalf("alice accrued = %s, want quarter share", acc)
	}
	if acc := e.Accrued(bob); acc.Cmp(bi(750_000_000_000)) != 0 {
		t.Fatalf("bob accrued = %s, want three quarters", acc)
	}
}

func TestLateStakerOnlyEarnsForward(t *testing.T) {
	e := newEngine(t)

	if err := e.DepositStake("palUSDC", alice, amt(t, "1000000000000000000"), 30); err != nil {
		t.Fatalf("stake alice: %v", err)
	}
	// Bob joins 50 blocks later with an equal stake; the first 50 blocks
	// belong entirely to alice.
	if err := e.DepositStake("palUSDC", bob, amt(t, "1000000000000000000"), 80); err != nil {
		t.Fatalf("stake bob: %v", err)
	}

	if err := e.UpdateUserRewards(alice, 130); err != nil {
		t.Fatalf("update alice: %v", err)
	}
	if err := e.UpdateUserRewards(bob, 130); err != nil {
		t.Fatalf("update bob: %v", err)
	}

	if acc := e.Accrued(alice); acc.Cmp(bi(750_000_000_000)) != 0 {
		t.Fatalf("alice accrued = %s, want 7.5e11", acc)
	}
	if acc := e.Accrued(bob); acc.Cmp(bi(250_000_000_000)) != 0 {
		t.Fatalf("bob accrued = %s, want 2.5e11", acc)
	}
}

func TestSpeedChangeBracketsAccrual(t *testing.T) {
	e := newEngine(t)

	if err := e.DepositStake("palUSDC", alice, amt(t, "1000000000000000000"), 30); err != nil {
		t.Fatalf("stake: %v", err)
	}
	// Doubling the speed mid-stream accrues the old speed first.
	if err := e.UpdatePoolRewards("usdc-main", bi(2e10), bi(0), false, 80); err != nil {
		t.Fatalf("speed change: %v", err)
	}
	if err := e.UpdateUserRewards(alice, 130); err != nil {
		t.Fatalf("update: %v", err)
	}

	// 50 blocks at 1e10 plus 50 blocks at 2e10.
	if acc := e.Accrued(alice); acc.Cmp(bi(1_500_000_000_000)) != 0 {
		t.Fatalf("accrued = %s, want 1.5e12", acc)
	}
}

func TestWithdrawStakeStopsAccrual(t *testing.T) {
	e := newEngine(t)

	if err := e.DepositStake("palUSDC", alice, amt(t, "1000000000000000000"), 30); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := e.WithdrawStake("palUSDC", alice, amt(t, "2000000000000000000"), 130); !errors.Is(err, rewards.ErrInsufficientStake) {
		t.Fatalf("over-withdraw: want ErrInsufficientStake, got %v", err)
	}
	if err := e.WithdrawStake("palUSDC", alice, amt(t, "1000000000000000000"), 130); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// Withdrawal settles the stream first; nothing accrues afterwards.
	if acc := e.Accrued(alice); acc.Cmp(bi(1e12)) != 0 {
		t.Fatalf("accrued = %s after withdraw, want 1e12", acc)
	}
	if err := e.UpdateUserRewards(alice, 230); err != nil {
		t.Fatalf("update: %v", err)
	}
	if acc := e.Accrued(alice); acc.Cmp(bi(1e12)) != 0 {
		t.Fatalf("accrued = %s grew after full withdraw", acc)
	}
}

func TestSharedReceiptAssetAccruesDeterministically(t *testing.T) {
	// Two pools over one receipt asset with different speeds: the
	// lexicographically first pool's program must win on every run, or
	// replaying an identical log would diverge from the recorded hashes.
	run := func() *big.Int {
		e := rewards.NewEngine()
		e.SetRewardToken("PAL")
		e.RegisterPool("pool-a", "palUSDC", 10)
		e.RegisterPool("pool-b", "palUSDC", 10)
		if err := e.UpdatePoolRewards("pool-a", bi(100), bi(0), false, 10); err != nil {
			t.Fatalf("set pool-a: %v", err)
		}
		if err := e.UpdatePoolRewards("pool-b", bi(999), bi(0), false, 10); err != nil {
			t.Fatalf("set pool-b: %v", err)
		}
		if err := e.DepositStake("palUSDC", alice, amt(t, "1000000000000000000"), 20); err != nil {
			t.Fatalf("stake: %v", err)
		}
		if err := e.UpdateUserRewards(alice, 30); err != nil {
			t.Fatalf("update: %v", err)
		}
		return e.Accrued(alice)
	}

	want := bi(1000) // pool-a's speed 100 over 10 blocks
	for i := 0; i < 50; i++ {
		if acc := run(); acc.Cmp(want) != 0 {
			t.Fatalf("run %d: accrued = %s, want %s", i, acc, want)
		}
	}
}

func TestClaimRequiresFundCoverage(t *testing.T) {
	e := newEngine(t)

	if err := e.DepositStake("palUSDC", alice, amt(t, "1000000000000000000"), 30); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := e.UpdateUserRewards(alice, 130); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := e.Claim(alice, bi(1e11)); !errors.Is(err, rewards.ErrInsufficientRewardSupply) {
		t.Fatalf("want ErrInsufficientRewardSupply, got %v", err)
	}
	// The balance stays claimable.
	if acc := e.Accrued(alice); acc.Cmp(bi(1e12)) != 0 {
		t.Fatalf("accrued = %s after failed claim, want 1e12", acc)
	}
}

func TestClaimWithoutRewardToken(t *testing.T) {
	e := rewards.NewEngine()
	if _, err := e.Claim(alice, bi(0)); !errors.Is(err, rewards.ErrNoRewardToken) {
		t.Fatalf("want ErrNoRewardToken, got %v", err)
	}
}

// ==== Borrow reward ====

func TestManualBorrowRewardLifecycle(t *testing.T) {
	e := newEngine(t)
	if err := e.UpdatePoolRewards("usdc-main", bi(0), wadFrac(1, 2), false, 20); err != nil {
		t.Fatalf("set ratio: %v", err)
	}

	loanID := uuid.New()
	e.OnLoanOpen("usdc-main", loanID, bob)

	if _, err := e.ClaimLoanRewards(loanID, bob, amt(t, "1000000000000000000")); !errors.Is(err, rewards.ErrLoanStillOpen) {
		t.Fatalf("claim on open loan: want ErrLoanStillOpen, got %v", err)
	}

	e.OnLoanClose("usdc-main", loanID, bob, amt(t, "200000000000000"))

	if _, err := e.ClaimLoanRewards(loanID, alice, amt(t, "1000000000000000000")); !errors.Is(err, rewards.ErrNotBorrower) {
		t.Fatalf("claim by non-borrower: want ErrNotBorrower, got %v", err)
	}

	reward, err := e.ClaimLoanRewards(loanID, bob, amt(t, "1000000000000000000"))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if reward.Cmp(amt(t, "100000000000000")) != 0 {
		t.Fatalf("reward = %s, want half of fees used", reward)
	}

	if _, err := e.ClaimLoanRewards(loanID, bob, amt(t, "1000000000000000000")); !errors.Is(err, rewards.ErrAlreadyClaimed) {
		t.Fatalf("second claim: want ErrAlreadyClaimed, got %v", err)
	}
}

func TestManualClaimUsesCurrentRatio(t *testing.T) {
	e := newEngine(t)
	if err := e.UpdatePoolRewards("usdc-main", bi(0), wadFrac(1, 2), false, 20); err != nil {
		t.Fatalf("set ratio: %v", err)
	}

	loanID := uuid.New()
	e.OnLoanOpen("usdc-main", loanID, bob)
	e.OnLoanClose("usdc-main", loanID, bob, amt(t, "200000000000000"))

	// Ratio halves between close and claim; the manual path pays the
	// current ratio, not the open-time snapshot.
	if err := e.UpdatePoolRewards("usdc-main", bi(0), wadFrac(1, 4), false, 30); err != nil {
		t.Fatalf("change ratio: %v", err)
	}

	reward, err := e.ClaimLoanRewards(loanID, bob, amt(t, "1000000000000000000"))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if reward.Cmp(amt(t, "50000000000000")) != 0 {
		t.Fatalf("reward = %s, want quarter of fees used", reward)
	}
}

func TestExpandResnapshotsCurrentRatio(t *testing.T) {
	e := newEngine(t)
	if err := e.UpdatePoolRewards("usdc-main", bi(0), wadFrac(1, 2), true, 20); err != nil {
		t.Fatalf("set auto: %v", err)
	}

	loanID := uuid.New()
	e.OnLoanOpen("usdc-main", loanID, bob)

	// The ratio drifts downward before the loan grows; the expand-time
	// value governs the eventual payout.
	if err := e.UpdatePoolRewards("usdc-main", bi(0), wadFrac(1, 4), true, 25); err != nil {
		t.Fatalf("change ratio: %v", err)
	}
	e.OnLoanExpand("usdc-main", loanID)
	e.OnLoanClose("usdc-main", loanID, bob, amt(t, "200000000000000"))

	if acc := e.Accrued(bob); acc.Cmp(amt(t, "50000000000000")) != 0 {
		t.Fatalf("accrued = %s, want quarter of fees used", acc)
	}
}

func TestExpandAfterZeroedProgramZeroesSnapshot(t *testing.T) {
	e := newEngine(t)
	if err := e.UpdatePoolRewards("usdc-main", bi(0), wadFrac(1, 2), true, 20); err != nil {
		t.Fatalf("set auto: %v", err)
	}

	loanID := uuid.New()
	e.OnLoanOpen("usdc-main", loanID, bob)

	if err := e.UpdatePoolRewards("usdc-main", bi(0), bi(0), true, 25); err != nil {
		t.Fatalf("zero ratio: %v", err)
	}
	e.OnLoanExpand("usdc-main", loanID)
	e.OnLoanClose("usdc-main", loanID, bob, amt(t, "200000000000000"))

	if acc := e.Accrued(bob); acc.Sign() != 0 {
		t.Fatalf("accrued = %s after zeroed program, want 0", acc)
	}
}

func TestAutoBorrowRewardCreditsOnClose(t *testing.T) {
	e := newEngine(t)
	if err := e.UpdatePoolRewards("usdc-main", bi(0), wadFrac(1, 2), true, 20); err != nil {
		t.Fatalf("set auto: %v", err)
	}

	loanID := uuid.New()
	e.OnLoanOpen("usdc-main", loanID, bob)
	e.OnLoanClose("usdc-main", loanID, bob, amt(t, "200000000000000"))

	if acc := e.Accrued(bob); acc.Cmp(amt(t, "100000000000000")) != 0 {
		t.Fatalf("accrued = %s after auto close, want 1e14", acc)
	}
	if _, err := e.ClaimLoanRewards(loanID, bob, amt(t, "1000000000000000000")); !errors.Is(err, rewards.ErrAlreadyClaimed) {
		t.Fatalf("manual claim after auto credit: want ErrAlreadyClaimed, got %v", err)
	}
}

// ==== Policy updates ====

func TestUpdatePoolRewardsValidation(t *testing.T) {
	e := newEngine(t)

	if err := e.UpdatePoolRewards("usdc-main", bi(0), amt(t, "2000000000000000000"), false, 20); !errors.Is(err, rewards.ErrRatioOutOfRange) {
		t.Fatalf("ratio > 1: want ErrRatioOutOfRange, got %v", err)
	}
	if err := e.UpdatePoolRewards("usdc-main", bi(-1), bi(0), false, 20); !errors.Is(err, rewards.ErrZeroAmount) {
		t.Fatalf("negative speed: want ErrZeroAmount, got %v", err)
	}
	if err := e.UpdatePoolRewards("ghost", bi(0), bi(0), false, 20); !errors.Is(err, rewards.ErrAssetNotFound) {
		t.Fatalf("unknown pool: want ErrAssetNotFound, got %v", err)
	}
}

// ==== Snapshot ====

func TestStateRestoreRoundTrip(t *testing.T) {
	e := newEngine(t)
	if err := e.DepositStake("palUSDC", alice, amt(t, "1000000000000000000"), 30); err != nil {
		t.Fatalf("stake: %v", err)
	}

	restored := rewards.NewEngine()
	restored.Restore(e.State())

	if err := restored.UpdateUserRewards(alice, 130); err != nil {
		t.Fatalf("update: %v", err)
	}
	if acc := restored.Accrued(alice); acc.Cmp(bi(1e12)) != 0 {
		t.Fatalf("accrued = %s after restore, want 1e12", acc)
	}
}
