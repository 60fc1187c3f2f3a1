package position

import (
	"testing"
	"time"

	"PowerPerps/internal/corerr"
	"PowerPerps/internal/domain"

	"github.com/google/uuid"
)

// testCustodies returns a position custody and its matching collateral
// custody for a Long position: per spec ยง4.5.1 step 4, longs collateralize
// against the position custody itself, so the two are the same record.
func testCustodies() (c *domain.Custody) {
	c = &domain.Custody{
		ID:       uuid.New(),
		Decimals: 6,
		Pricing: domain.PricingParams{
			MinInitialLeverageBPS: 10_000,
			MaxInitialLeverageBPS: 500_000,
			MaxPayoffMultBPS:      90_000, // 9x
			LiquidationFeeBPS:     100,    // 1%
			MinCollateralBPS:      500,    // 5%
		},
		Fees: domain.Fees{ClosePosition: 10, Liquidation: 50},
		Permissions: domain.TradingPermissions{
			AllowOpenPosition: true, AllowClosePosition: true, AllowLiquidatePosition: true,
		},
		Assets: domain.AssetBalances{Owned: 1_000_000_000000},
	}
	return c
}

// testShortCustodies returns a position custody plus a stable collateral
// custody in the same pool, matching the Short-side validation in Open.
func testShortCustodies() (c, stable *domain.Custody) {
	c = testCustodies()
	stable = &domain.Custody{
		ID:       uuid.New(),
		PoolID:   c.PoolID,
		Decimals: 6,
		IsStable: true,
		Assets:   domain.AssetBalances{Owned: 1_000_000_000000},
	}
	return c, stable
}

func TestOpen_ValidatesLeverageBounds(t *testing.T) {
	c := testCustodies()
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideLong, Power: 1,
		EntryPriceScaled: 100_000000, SizeUSD: 100_000_000000, CollateralUSD: 1_000_000, // 100x leverage, over max
		Now: time.Now(),
	}
	if _, err := Open(params, c, c); err == nil {
		t.Fatal("expected leverage error")
	} else if k, _ := corerr.KindOf(err); k != corerr.KindLeverageTooHigh {
		t.Fatalf("expected LeverageTooHigh, got %v", k)
	}
}

func TestOpen_HigherPowerTightensLeverageCap(t *testing.T) {
	c := testCustodies()
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideLong, Power: 5,
		EntryPriceScaled: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 1_000_000000, // 10x leverage
		Now: time.Now(),
	}
	// k=5 cap is [30_000, 60_000] bps = [3x, 6x]; 10x exceeds it.
	if _, err := Open(params, c, c); err == nil {
		t.Fatal("expected leverage error for k=5 at 10x")
	}
}

func TestOpen_LocksMaxPayoffAgainstCollateralCustody(t *testing.T) {
	c := testCustodies()
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideLong, Power: 1,
		EntryPriceScaled: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 1_000_000000, // 10x
		Now: time.Now(),
	}
	pos, err := Open(params, c, c)
	if err != nil {
		t.Fatal(err)
	}
	if c.Assets.Locked != pos.LockedAmount || pos.LockedAmount == 0 {
		t.Fatalf("expected locked amount recorded on collateral custody, got %d vs %d", c.Assets.Locked, pos.LockedAmount)
	}
	if pos.CollateralAmount == 0 {
		t.Fatal("expected collateral_amount stored on the position")
	}
}

func TestOpen_RejectsMismatchedCollateralCustodyForLong(t *testing.T) {
	c := testCustodies()
	other := testCustodies()
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideLong, Power: 1,
		EntryPriceScaled: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 1_000_000000,
		Now: time.Now(),
	}
	if _, err := Open(params, c, other); err == nil {
		t.Fatal("expected CollateralMismatch error")
	} else if k, _ := corerr.KindOf(err); k != corerr.KindCollateralMismatch {
		t.Fatalf("expected CollateralMismatch, got %v", k)
	}
}

func TestOpen_RejectsNonStableCollateralForShort(t *testing.T) {
	c, stable := testShortCustodies()
	stable.IsStable = false
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideShort, Power: 1,
		EntryPriceScaled: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 1_000_000000,
		Now: time.Now(),
	}
	if _, err := Open(params, c, stable); err == nil {
		t.Fatal("expected CollateralMismatch error")
	} else if k, _ := corerr.KindOf(err); k != corerr.KindCollateralMismatch {
		t.Fatalf("expected CollateralMismatch, got %v", k)
	}
}

func TestOpen_AcceptsStableCollateralForShort(t *testing.T) {
	c, stable := testShortCustodies()
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideShort, Power: 1,
		EntryPriceScaled: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 1_000_000000,
		Now: time.Now(),
	}
	if _, err := Open(params, c, stable); err != nil {
		t.Fatal(err)
	}
}

func TestPnL_LongProfitsWhenPriceRises(t *testing.T) {
	pos := &Position{Side: domain.SideLong, Power: 1, EntryPrice: 100_000000, SizeUSD: 1_000_000000, LockedAmount: 100_000_000_000}
	profit, loss, _, err := pos.PnL(110_000000, 6, 0, 0) // locked_amount well above any possible payoff here, no interest/fee
	if err != nil {
		t.Fatal(err)
	}
	if loss != 0 || profit != 100_000000 {
		t.Fatalf("profit=%d loss=%d, want profit=100_000000 loss=0", profit, loss)
	}
}

func TestPnL_ShortProfitsWhenPriceFalls(t *testing.T) {
	pos := &Position{Side: domain.SideShort, Power: 1, EntryPrice: 100_000000, SizeUSD: 1_000_000000, LockedAmount: 100_000_000_000}
	profit, loss, _, err := pos.PnL(90_000000, 6, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Short PnL uses the ratio entry/exit = 100/90 = 1.111111 (6dp, truncated).
	if loss != 0 || profit != 111_111_000 {
		t.Fatalf("profit=%d loss=%d, want profit=111_111_000 loss=0", profit, loss)
	}
}

func TestPnL_ProfitCappedAtLockedAmountUSD(t *testing.T) {
	// exit at 3x entry: ratio^2 = 9, profit = size*(9-1) = 8x size, far beyond
	// what locked_amount covers. token_to_usd(6_000000, 6dp, 300_000000) =
	// 6_000000 * 300_000000 / 1e6 = 1_800_000000.
	pos := &Position{Side: domain.SideLong, Power: 2, EntryPrice: 100_000000, SizeUSD: 1_000_000000, LockedAmount: 6_000000}
	profit, _, _, err := pos.PnL(300_000000, 6, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if profit != 1_800_000000 {
		t.Fatalf("profit = %d, want capped at 1_800_000000", profit)
	}
}

func TestPnL_MutuallyExclusiveProfitAndLoss(t *testing.T) {
	pos := &Position{Side: domain.SideLong, Power: 3, EntryPrice: 100_000000, SizeUSD: 1_000_000000, LockedAmount: 100_000_000_000}
	for _, exit := range []int64{50_000000, 100_000000, 150_000000} {
		profit, loss, _, err := pos.PnL(exit, 6, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if profit != 0 && loss != 0 {
			t.Fatalf("at exit=%d both profit=%d and loss=%d nonzero", exit, profit, loss)
		}
	}
}

func TestPnL_SubtractsAccruedInterestAndFee(t *testing.T) {
	pos := &Position{Side: domain.SideLong, Power: 1, EntryPrice: 100_000000, SizeUSD: 1_000_000000, CumulativeInterestSnapshot: 0, LockedAmount: 100_000_000_000}
	// No price movement: the only nonzero terms are interest and fee.
	profit, loss, feeUSD, err := pos.PnL(100_000000, 6, 100, 100) // 100bps accrued interest, 1% fee
	if err != nil {
		t.Fatal(err)
	}
	if profit != 0 {
		t.Fatalf("expected no profit with flat price, got %d", profit)
	}
	if feeUSD != 10_000000 { // 1% of 1_000_000000
		t.Fatalf("feeUSD = %d, want 10_000000", feeUSD)
	}
	if loss == 0 {
		t.Fatal("expected loss from interest + fee with flat price")
	}
}

func TestClose_SettlesAndReleasesLockedLiquidity(t *testing.T) {
	c := testCustodies()
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideLong, Power: 1,
		EntryPriceScaled: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 2_000_000000, // 5x
		Now: time.Now(),
	}
	pos, err := Open(params, c, c)
	if err != nil {
		t.Fatal(err)
	}
	lockedBefore := c.Assets.Locked
	lockedAmountBefore := pos.LockedAmount

	result, err := Close(pos, 110_000000, pos.SizeUSD, time.Now(), c, c)
	if err != nil {
		t.Fatal(err)
	}
	if result.ProfitUSD == 0 {
		t.Fatal("expected nonzero profit on price rise")
	}
	if c.Assets.Locked != lockedBefore-lockedAmountBefore {
		t.Fatalf("locked amount not fully released: %d", c.Assets.Locked)
	}
	if pos.Status != StatusClosed {
		t.Fatalf("status = %v, want closed", pos.Status)
	}
	if result.RemainingSizeUSD != 0 {
		t.Fatalf("remaining size = %d, want 0 on full close", result.RemainingSizeUSD)
	}
}

func TestClose_PartialCloseLeavesRemainderOpen(t *testing.T) {
	c := testCustodies()
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideLong, Power: 1,
		EntryPriceScaled: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 2_000_000000,
		Now: time.Now(),
	}
	pos, err := Open(params, c, c)
	if err != nil {
		t.Fatal(err)
	}

	result, err := Close(pos, 110_000000, 4_000_000000, time.Now(), c, c)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Status != StatusOpen {
		t.Fatalf("status = %v, want still open after partial close", pos.Status)
	}
	if pos.SizeUSD != 6_000_000000 {
		t.Fatalf("remaining size_usd = %d, want 6_000_000000", pos.SizeUSD)
	}
	if result.RemainingSizeUSD != pos.SizeUSD {
		t.Fatalf("result.RemainingSizeUSD = %d, want %d", result.RemainingSizeUSD, pos.SizeUSD)
	}
	if result.ProfitUSD == 0 {
		t.Fatal("expected nonzero profit on the closed portion")
	}
}

func TestClose_RejectsSizeAboveRemaining(t *testing.T) {
	c := testCustodies()
	params := OpenParams{
		Owner: uuid.New(), PoolID: uuid.New(), Side: domain.SideLong, Power: 1,
		EntryPriceScaled: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 2_000_000000,
		Now: time.Now(),
	}
	pos, err := Open(params, c, c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Close(pos, 110_000000, pos.SizeUSD+1, time.Now(), c, c); err == nil {
		t.Fatal("expected error closing more size than remains")
	}
}

func TestClose_RejectsAlreadyClosedPosition(t *testing.T) {
	c := testCustodies()
	pos := &Position{Status: StatusClosed, SizeUSD: 1_000_000000}
	if _, err := Close(pos, 100_000000, pos.SizeUSD, time.Now(), c, c); err == nil {
		t.Fatal("expected error closing an already-closed position")
	}
}

func TestGetLiquidationState_Thresholds(t *testing.T) {
	c := testCustodies()
	pos := &Position{Side: domain.SideLong, Power: 1, EntryPrice: 100_000000, SizeUSD: 1_000_000000, CollateralUSD: 100_000000, LockedAmount: 90_000_000000}

	// Healthy at entry price.
	state, _, err := GetLiquidationState(pos, 100_000000, c, c)
	if err != nil {
		t.Fatal(err)
	}
	if state != LiquidationNone {
		t.Fatalf("state = %v at entry, want none", state)
	}

	// Deep loss should trigger MustBeLiquidated.
	state, _, err = GetLiquidationState(pos, 10_000000, c, c)
	if err != nil {
		t.Fatal(err)
	}
	if state != LiquidationMustBeLiquidated {
		t.Fatalf("state = %v at deep loss, want must_be_liquidated", state)
	}

	// Exactly at the margin=550 boundary (MinCollateralBPS=500,
	// LiquidationFeeBPS=100 on this fixture): CanBeLiquidated, not None, and
	// not MustBeLiquidated — the review's own example of the bug this test
	// previously missed: a margin between the two thresholds never probed.
	boundaryPos := &Position{Side: domain.SideLong, Power: 1, EntryPrice: 100_000000, SizeUSD: 1_000_000000, CollateralUSD: 100_000000, LockedAmount: 90_000_000000}
	// remaining_usd = collateral + profit - loss - fee = 1_000_000000 * 5.5% = 55_000000
	// exit price chosen so profit-loss-fee lands collateral+pnl at 55_000000.
	state, margin, err := GetLiquidationState(boundaryPos, exitPriceForMargin(t, c, boundaryPos, 550), c, c)
	if err != nil {
		t.Fatal(err)
	}
	if state != LiquidationCanBeLiquidated {
		t.Fatalf("state = %v at margin=%d bps, want can_be_liquidated (min=%d, min+fee=%d)",
			state, margin, c.Pricing.MinCollateralBPS, c.Pricing.MinCollateralBPS+c.Pricing.LiquidationFeeBPS)
	}
}

// exitPriceForMargin bisects for the exit price that puts pos's margin
// fraction at exactly targetBPS, reusing GetLiquidationState's own margin
// computation so the test is pinned to the production formula rather than a
// hand-derived constant.
func exitPriceForMargin(t *testing.T, c *domain.Custody, pos *Position, targetBPS int64) int64 {
	t.Helper()
	lo, hi := int64(1), pos.EntryPrice*10
	for i := 0; i < 64; i++ {
		mid := lo + (hi-lo)/2
		_, margin, err := GetLiquidationState(pos, mid, c, c)
		if err != nil {
			t.Fatal(err)
		}
		if margin > targetBPS {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo
}

func TestLiquidate_RejectsHealthyPosition(t *testing.T) {
	c := testCustodies()
	pos := &Position{Status: StatusOpen, Side: domain.SideLong, Power: 1, EntryPrice: 100_000000, SizeUSD: 1_000_000000, CollateralUSD: 500_000000, LockedAmount: 90_000_000000}

	if _, err := Liquidate(pos, 100_000000, time.Now(), c, c); err == nil {
		t.Fatal("expected NotLiquidatable error")
	} else if k, _ := corerr.KindOf(err); k != corerr.KindNotLiquidatable {
		t.Fatalf("expected NotLiquidatable, got %v", k)
	}
}

func TestGetLiquidationPrice_LongConverges(t *testing.T) {
	c := testCustodies()
	pos := &Position{Side: domain.SideLong, Power: 1, EntryPrice: 100_000000, SizeUSD: 1_000_000000, CollateralUSD: 100_000000, LockedAmount: 90_000_000000}

	result, err := GetLiquidationPrice(pos, c, c)
	if err != nil {
		t.Fatal(err)
	}
	if result.Approximate {
		t.Error("expected exact convergence for a linear (k=1) long")
	}
	state, _, err := GetLiquidationState(pos, result.PriceScaled, c, c)
	if err != nil {
		t.Fatal(err)
	}
	if state == LiquidationNone {
		t.Fatalf("solved price %d should be at or past the liquidation threshold", result.PriceScaled)
	}
}

func TestGetLiquidationPrice_ShortConverges(t *testing.T) {
	c := testCustodies()
	pos := &Position{Side: domain.SideShort, Power: 1, EntryPrice: 100_000000, SizeUSD: 1_000_000000, CollateralUSD: 100_000000, LockedAmount: 90_000_000000}

	result, err := GetLiquidationPrice(pos, c, c)
	if err != nil {
		t.Fatal(err)
	}
	if result.PriceScaled <= pos.EntryPrice {
		t.Errorf("short liquidation price %d should be above entry %d", result.PriceScaled, pos.EntryPrice)
	}
}

func TestGetLiquidationPrice_HighPowerStillBracketed(t *testing.T) {
	c := testCustodies()
	pos := &Position{Side: domain.SideLong, Power: 5, EntryPrice: 100_000000, SizeUSD: 1_000_000000, CollateralUSD: 200_000000, LockedAmount: 90_000_000000}

	result, err := GetLiquidationPrice(pos, c, c)
	if err != nil {
		t.Fatal(err)
	}
	if result.PriceScaled <= 0 {
		t.Fatalf("expected a positive solved price, got %d", result.PriceScaled)
	}
}
