package pool

import (
	"testing"

	"PowerPerps/internal/domain"
	"PowerPerps/internal/position"

	"github.com/google/uuid"
)

func TestLeverageCapBPS_PowerSpecificTable(t *testing.T) {
	params := domain.PricingParams{MaxLeverageBPS: 1_000_000}

	cases := []struct {
		power int
		want  int64
	}{
		{1, 1_000_000},
		{2, 400_000},
		{3, 200_000},
		{4, 100_000},
		{5, 60_000},
	}
	for _, c := range cases {
		got, err := LeverageCapBPS(params, c.power)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("power=%d cap=%d, want %d", c.power, got, c.want)
		}
	}
}

func TestLeverageCapBPS_RejectsOutOfRangePower(t *testing.T) {
	if _, err := LeverageCapBPS(domain.PricingParams{}, 6); err == nil {
		t.Fatal("expected error for power=6")
	}
}

func TestCheckLeverage_RejectsOverCapPosition(t *testing.T) {
	c := &domain.Custody{Pricing: domain.PricingParams{MaxLeverageBPS: 100_000, MaxPayoffMultBPS: 1_000_000}}
	collateralCustody := &domain.Custody{Decimals: 6}
	pos := &position.Position{
		ID: uuid.New(), Side: domain.SideLong, Power: 1,
		EntryPrice: 100_000000, SizeUSD: 10_000_000000, CollateralUSD: 100_000000, // 100x
	}
	if err := CheckLeverage(pos, 100_000000, c, collateralCustody); err == nil {
		t.Fatal("expected leverage cap violation")
	}
}

func TestCheckLeverage_PassesWithinCap(t *testing.T) {
	c := &domain.Custody{Pricing: domain.PricingParams{MaxLeverageBPS: 500_000, MaxPayoffMultBPS: 1_000_000}}
	collateralCustody := &domain.Custody{Decimals: 6}
	pos := &position.Position{
		ID: uuid.New(), Side: domain.SideLong, Power: 1,
		EntryPrice: 100_000000, SizeUSD: 1_000_000000, CollateralUSD: 500_000000, // 2x
	}
	if err := CheckLeverage(pos, 100_000000, c, collateralCustody); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetAssetsUnderManagement_SumsAndSubtractsUnrealizedPnL(t *testing.T) {
	c1 := &domain.Custody{ID: uuid.New(), Decimals: 6, Assets: domain.AssetBalances{Owned: 1_000_000000}}
	c2 := &domain.Custody{ID: uuid.New(), Decimals: 9, Assets: domain.AssetBalances{Owned: 2_000_000000000}}

	prices := map[uuid.UUID]int64{c1.ID: 100_000000, c2.ID: 1_000000}
	unrealized := map[uuid.UUID]int64{c1.ID: 10_000000}

	total, valuations, err := GetAssetsUnderManagement([]*domain.Custody{c1, c2}, prices, unrealized)
	if err != nil {
		t.Fatal(err)
	}
	if len(valuations) != 2 {
		t.Fatalf("expected 2 valuations, got %d", len(valuations))
	}
	// c1: 1_000_000000 tokens(6dp) * 100_000000 price(6dp) -> 100_000_000000 usd(6dp), minus 10_000000 unrealized
	// c2: 2_000_000000000 tokens(9dp) * 1_000000 price(6dp) -> 2_000_000000 usd(6dp)
	want := int64(100_000_000000 - 10_000000 + 2_000_000000)
	if total != want {
		t.Errorf("total = %d, want %d", total, want)
	}
}

func TestGetAssetsUnderManagement_MissingPriceErrors(t *testing.T) {
	c1 := &domain.Custody{ID: uuid.New()}
	if _, _, err := GetAssetsUnderManagement([]*domain.Custody{c1}, map[uuid.UUID]int64{}, nil); err == nil {
		t.Fatal("expected missing-price error")
	}
}

func TestCheckTokenRatio_RejectsOutOfBand(t *testing.T) {
	ratio := TokenRatio{TargetBPS: 5000, MinBPS: 4000, MaxBPS: 6000}
	// custody already at 9000/10000 = 90% of AUM; any further addition stays out of band.
	err := CheckTokenRatio(9_000_000000, 100_000000, 10_000_000000, ratio)
	if err == nil {
		t.Fatal("expected out-of-band rejection")
	}
}

func TestCheckTokenRatio_AllowsWithinBand(t *testing.T) {
	ratio := TokenRatio{TargetBPS: 5000, MinBPS: 4000, MaxBPS: 6000}
	err := CheckTokenRatio(5_000_000000, 0, 10_000_000000, ratio)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetFeeLinear_InterpolatesAcrossRange(t *testing.T) {
	fee, err := GetFeeLinear(10, 100, 5000) // halfway
	if err != nil {
		t.Fatal(err)
	}
	if fee != 55 {
		t.Errorf("fee = %d, want 55", fee)
	}
}

func TestGetFeeOptimal_FlatBelowKinkRisesAbove(t *testing.T) {
	below, err := GetFeeOptimal(10, 200, 8000, 4000)
	if err != nil {
		t.Fatal(err)
	}
	if below != 10 {
		t.Errorf("below-kink fee = %d, want 10", below)
	}

	above, err := GetFeeOptimal(10, 200, 8000, 9000)
	if err != nil {
		t.Fatal(err)
	}
	if above <= 10 || above >= 200 {
		t.Errorf("above-kink fee = %d, want strictly between 10 and 200", above)
	}
}

func TestResolveFeeBPS_DispatchesOnMode(t *testing.T) {
	fixed := &domain.Custody{Fees: domain.Fees{Mode: domain.FeesModeFixed}}
	got, err := ResolveFeeBPS(fixed, 25, 9000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 25 {
		t.Errorf("fixed mode fee = %d, want 25 (utilization ignored)", got)
	}

	linear := &domain.Custody{Fees: domain.Fees{Mode: domain.FeesModeLinear, FeeMax: 100}}
	got, err = ResolveFeeBPS(linear, 10, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 55 {
		t.Errorf("linear mode fee = %d, want 55", got)
	}

	if _, err := ResolveFeeBPS(&domain.Custody{Fees: domain.Fees{Mode: 99}}, 10, 0); err == nil {
		t.Fatal("expected error for unrecognized fee mode")
	}
}

func liquidityTestCustody() *domain.Custody {
	return &domain.Custody{
		ID:       uuid.New(),
		Decimals: 6,
		Fees: domain.Fees{
			Mode: domain.FeesModeFixed,
			AddLiquidity: 100, RemoveLiquidity: 100,
			SwapIn: 50, SwapOut: 50,
		},
		Permissions: domain.TradingPermissions{AllowAddLiquidity: true, AllowRemoveLiquidity: true, AllowSwap: true},
	}
}

func TestGetAddLiquidityAmountAndFee_FirstDepositMintsAtPar(t *testing.T) {
	c := liquidityTestCustody()
	result, err := GetAddLiquidityAmountAndFee(c, 1_000_000, 1_000000, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Fee != 10_000 {
		t.Errorf("fee = %d, want 10_000", result.Fee)
	}
	if result.Amount != 990_000 {
		t.Errorf("lp amount = %d, want 990_000", result.Amount)
	}
	if result.DeltaUSD != 990_000 {
		t.Errorf("delta_usd = %d, want 990_000", result.DeltaUSD)
	}
}

func TestGetAddLiquidityAmountAndFee_RejectsZeroAmount(t *testing.T) {
	c := liquidityTestCustody()
	if _, err := GetAddLiquidityAmountAndFee(c, 0, 1_000000, 0, 0); err == nil {
		t.Fatal("expected error for zero deposit")
	}
}

func TestGetRemoveLiquidityAmountAndFee_ProRataAgainstAUM(t *testing.T) {
	c := liquidityTestCustody()
	result, err := GetRemoveLiquidityAmountAndFee(c, 990_000, 1_000000, 990_000, 990_000)
	if err != nil {
		t.Fatal(err)
	}
	if result.Amount != 980_100 {
		t.Errorf("amount = %d, want 980_100", result.Amount)
	}
	if result.Fee != 9900 {
		t.Errorf("fee = %d, want 9900", result.Fee)
	}
	if result.DeltaUSD != -990_000 {
		t.Errorf("delta_usd = %d, want -990_000", result.DeltaUSD)
	}
}

func TestGetRemoveLiquidityAmountAndFee_RejectsBurnAboveSupply(t *testing.T) {
	c := liquidityTestCustody()
	if _, err := GetRemoveLiquidityAmountAndFee(c, 1_000_000, 1_000000, 990_000, 990_000); err == nil {
		t.Fatal("expected error for lp_amount above lp_supply")
	}
}

func TestGetLPTokenPrice_ParAndZeroSupply(t *testing.T) {
	price, err := GetLPTokenPrice(990_000, 990_000)
	if err != nil {
		t.Fatal(err)
	}
	if price != 1_000000 {
		t.Errorf("price = %d, want 1_000000 (par)", price)
	}

	price, err = GetLPTokenPrice(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if price != 0 {
		t.Errorf("price = %d, want 0 before first deposit", price)
	}
}

func TestGetSwapAmountAndFees_CrossesThroughUSD(t *testing.T) {
	custodyIn := liquidityTestCustody()
	custodyOut := liquidityTestCustody()
	result, err := GetSwapAmountAndFees(custodyIn, custodyOut, 1_000_000, 1_000000, 2_000000)
	if err != nil {
		t.Fatal(err)
	}
	if result.AmountOut != 500_000 {
		t.Errorf("amount_out = %d, want 500_000 (half, at double the price)", result.AmountOut)
	}
	if result.FeeIn != 5000 {
		t.Errorf("fee_in = %d, want 5000", result.FeeIn)
	}
	if result.FeeOut != 2500 {
		t.Errorf("fee_out = %d, want 2500", result.FeeOut)
	}
}

func TestAddLiquidity_MintsLPAndCollectsFee(t *testing.T) {
	p := &domain.Pool{ID: uuid.New()}
	c := liquidityTestCustody()

	result, err := AddLiquidity(p, c, 1_000_000, 1_000000, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Amount != 990_000 {
		t.Errorf("lp minted = %d, want 990_000", result.Amount)
	}
	if c.Assets.Owned != 1_000_000 {
		t.Errorf("owned = %d, want 1_000_000", c.Assets.Owned)
	}
	if c.Assets.ProtocolFees != 10_000 {
		t.Errorf("protocol_fees = %d, want 10_000", c.Assets.ProtocolFees)
	}
	if p.LPSupply != 990_000 {
		t.Errorf("lp_supply = %d, want 990_000", p.LPSupply)
	}
}

func TestAddLiquidity_RejectsWhenDisallowed(t *testing.T) {
	p := &domain.Pool{ID: uuid.New()}
	c := liquidityTestCustody()
	c.Permissions.AllowAddLiquidity = false
	if _, err := AddLiquidity(p, c, 1_000_000, 1_000000, 0, 0); err == nil {
		t.Fatal("expected error when add-liquidity is disallowed")
	}
}

func TestRemoveLiquidity_BurnsLPAndPaysOutNetOfFee(t *testing.T) {
	p := &domain.Pool{ID: uuid.New(), LPSupply: 990_000}
	c := liquidityTestCustody()
	c.Assets.Owned = 1_000_000
	c.Assets.ProtocolFees = 10_000

	result, err := RemoveLiquidity(p, c, 990_000, 1_000000, 990_000, 990_000)
	if err != nil {
		t.Fatal(err)
	}
	if result.Amount != 980_100 {
		t.Errorf("amount = %d, want 980_100", result.Amount)
	}
	if c.Assets.Owned != 19_900 {
		t.Errorf("owned = %d, want 19_900", c.Assets.Owned)
	}
	if p.LPSupply != 0 {
		t.Errorf("lp_supply = %d, want 0", p.LPSupply)
	}
}

func TestRemoveLiquidity_RejectsLPAmountAbovePoolSupply(t *testing.T) {
	p := &domain.Pool{ID: uuid.New(), LPSupply: 990_000}
	c := liquidityTestCustody()
	if _, err := RemoveLiquidity(p, c, 1_000_000, 1_000000, 990_000, 990_000); err == nil {
		t.Fatal("expected error for lp_amount above pool lp_supply")
	}
}

func TestSwap_TransfersNetOfFeeBothWays(t *testing.T) {
	custodyIn := liquidityTestCustody()
	custodyOut := liquidityTestCustody()
	custodyOut.Assets.Owned = 1_000_000

	result, err := Swap(custodyIn, custodyOut, 1_000_000, 1_000000, 2_000000)
	if err != nil {
		t.Fatal(err)
	}
	if result.AmountOut != 497_500 {
		t.Errorf("amount_out = %d, want 497_500 (net of fee_out)", result.AmountOut)
	}
	if custodyIn.Assets.Owned != 1_000_000 {
		t.Errorf("custody_in owned = %d, want 1_000_000", custodyIn.Assets.Owned)
	}
	if custodyIn.Assets.ProtocolFees != 5000 {
		t.Errorf("custody_in protocol_fees = %d, want 5000", custodyIn.Assets.ProtocolFees)
	}
	if custodyOut.Assets.Owned != 502_500 {
		t.Errorf("custody_out owned = %d, want 502_500", custodyOut.Assets.Owned)
	}
	if custodyOut.Assets.ProtocolFees != 2500 {
		t.Errorf("custody_out protocol_fees = %d, want 2500", custodyOut.Assets.ProtocolFees)
	}
}

func TestSwap_RejectsWhenOutputExceedsAvailable(t *testing.T) {
	custodyIn := liquidityTestCustody()
	custodyOut := liquidityTestCustody()
	custodyOut.Assets.Owned = 100_000 // far below the ~497_500 needed out

	if _, err := Swap(custodyIn, custodyOut, 1_000_000, 1_000000, 2_000000); err == nil {
		t.Fatal("expected insufficient-liquidity error")
	}
}

func TestAddCustody_RejectsDuplicateAndOverflow(t *testing.T) {
	p := &domain.Pool{ID: uuid.New()}
	id := uuid.New()
	if err := AddCustody(p, id); err != nil {
		t.Fatal(err)
	}
	if err := AddCustody(p, id); err == nil {
		t.Fatal("expected duplicate custody error")
	}
	for i := 1; i < domain.MaxCustodies; i++ {
		if err := AddCustody(p, uuid.New()); err != nil {
			t.Fatal(err)
		}
	}
	if err := AddCustody(p, uuid.New()); err == nil {
		t.Fatal("expected custody-count overflow error")
	}
}
