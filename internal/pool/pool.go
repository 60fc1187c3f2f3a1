// Package pool implements Pool (spec ยง4.6): the power-specific leverage cap
// table, assets-under-management recomputation, and the supplemented
// liquidity/swap fee curves. Grounded on internal/state/risk_params.go's
// per-market parameter record pattern plus original source
// state/pool.rs's check_leverage/get_assets_under_management_usd/
// get_fee_linear/get_fee_optimal, ported from Anchor accounts to plain Go.
package pool

import (
	"PowerPerps/internal/corerr"
	"PowerPerps/internal/custody"
	"PowerPerps/internal/domain"
	"PowerPerps/internal/fixedmath"
	"PowerPerps/internal/position"

	"github.com/google/uuid"
)

// LeverageCapBPS resolves the power-specific ongoing leverage ceiling (spec
// ยง4.6's check_leverage cap table). Only power 1 defers to the custody's
// configured max_leverage_bps; powers 2-5 use the fixed table since their
// non-linear payoff bounds risk independent of custody configuration.
func LeverageCapBPS(params domain.PricingParams, power int) (int64, error) {
	switch power {
	case 1:
		return params.MaxLeverageBPS, nil
	case 2:
		return 400_000, nil
	case 3:
		return 200_000, nil
	case 4:
		return 100_000, nil
	case 5:
		return 60_000, nil
	default:
		return 0, corerr.New(corerr.KindInvalidPower, "pool.LeverageCapBPS", map[string]any{"power": power})
	}
}

// CheckLeverage implements spec ยง4.6: current leverage (computed from
// effective collateral after PnL) must stay at or below the power's cap.
func CheckLeverage(pos *position.Position, currentPriceScaled int64, c, collateralCustody *domain.Custody) error {
	profitUSD, lossUSD, _, err := pos.PnL(currentPriceScaled, collateralCustody.Decimals, c.BorrowRate.CumulativeInterest, c.Fees.ClosePosition)
	if err != nil {
		return err
	}

	effectiveCollateralUSD := pos.CollateralUSD + profitUSD - lossUSD
	if effectiveCollateralUSD <= 0 {
		return corerr.New(corerr.KindLeverageTooHigh, "pool.CheckLeverage", map[string]any{"position": pos.ID})
	}

	leverageBPS, err := fixedmath.CheckedMulDiv(pos.SizeUSD, fixedmath.BPSScale, effectiveCollateralUSD, fixedmath.RoundDown)
	if err != nil {
		return corerr.Wrap(corerr.KindMathOverflow, "pool.CheckLeverage", nil, err)
	}

	cap, err := LeverageCapBPS(c.Pricing, pos.Power)
	if err != nil {
		return err
	}
	if leverageBPS > cap {
		return corerr.New(corerr.KindLeverageTooHigh, "pool.CheckLeverage", map[string]any{
			"leverage_bps": leverageBPS, "cap_bps": cap,
		})
	}
	return nil
}

// CustodyValuation is one custody's contribution to pool AUM: its owned
// token balance valued in USD, net of outstanding unrealized position PnL
// the pool would owe (spec ยง4.6 get_assets_under_management).
type CustodyValuation struct {
	CustodyID     uuid.UUID
	OwnedUSD      int64
	UnrealizedPnLUSD int64 // positive = pool owes traders, reduces AUM
}

// GetAssetsUnderManagement sums every custody's valuation into a single USD
// figure (spec ยง4.6). priceByCustody supplies each custody's current oracle
// price at PRICE_DECIMALS; callers resolve these via internal/oracle before
// calling in.
func GetAssetsUnderManagement(custodies []*domain.Custody, priceByCustody map[uuid.UUID]int64, unrealizedPnLByCustody map[uuid.UUID]int64) (int64, []CustodyValuation, error) {
	var total int64
	valuations := make([]CustodyValuation, 0, len(custodies))

	for _, c := range custodies {
		price, ok := priceByCustody[c.ID]
		if !ok {
			return 0, nil, corerr.New(corerr.KindUnsupportedOracle, "pool.GetAssetsUnderManagement", map[string]any{"custody": c.ID})
		}

		ownedUSD, err := custody.TokenToUSD(c.Assets.Owned, c.Decimals, price)
		if err != nil {
			return 0, nil, err
		}

		unrealized := unrealizedPnLByCustody[c.ID]

		net := ownedUSD - unrealized
		total += net

		valuations = append(valuations, CustodyValuation{
			CustodyID:        c.ID,
			OwnedUSD:         ownedUSD,
			UnrealizedPnLUSD: unrealized,
		})
	}

	if total < 0 {
		return 0, valuations, corerr.New(corerr.KindStateCorruption, "pool.GetAssetsUnderManagement", map[string]any{"total_usd": total})
	}
	return total, valuations, nil
}

// TokenRatio is a pool's target-vs-actual custody weighting (spec
// Supplemented features: AUM recomputation / TokenRatios). Aliased to the
// persistent per-custody config so domain.Custody.Ratio can be passed here
// directly.
type TokenRatio = domain.AssetRatio

// CheckTokenRatio reports whether adding delta (USD, signed) to a custody's
// current USD valuation keeps it within its configured band relative to
// pool AUM (spec Supplemented features, grounded on pool.rs's
// check_token_ratio).
func CheckTokenRatio(custodyUSD, deltaUSD, poolAUMUSD int64, ratio TokenRatio) error {
	newCustodyUSD := custodyUSD + deltaUSD
	newAUMUSD := poolAUMUSD + deltaUSD
	if newAUMUSD <= 0 {
		return corerr.New(corerr.KindInvalidAmount, "pool.CheckTokenRatio", map[string]any{"new_aum_usd": newAUMUSD})
	}

	ratioBPS, err := fixedmath.CheckedMulDiv(newCustodyUSD, fixedmath.BPSScale, newAUMUSD, fixedmath.RoundDown)
	if err != nil {
		return corerr.Wrap(corerr.KindMathOverflow, "pool.CheckTokenRatio", nil, err)
	}
	if ratioBPS < ratio.MinBPS || ratioBPS > ratio.MaxBPS {
		return corerr.New(corerr.KindInsufficientLiquidity, "pool.CheckTokenRatio", map[string]any{
			"ratio_bps": ratioBPS, "min_bps": ratio.MinBPS, "max_bps": ratio.MaxBPS,
		})
	}
	return nil
}

// GetFeeLinear and GetFeeOptimal implement the utilization-based fee curves
// that apply to liquidity and swap operations only (Open Question #1's
// resolution excludes these from position open/close/liquidation, which
// always use custody.GetFeeAmount's flat bps).
//
// GetFeeLinear interpolates linearly between fee_min and fee_max across the
// full [0, BPS_SCALE] utilization range.
func GetFeeLinear(feeMinBPS, feeMaxBPS, utilizationBPS int64) (int64, error) {
	if utilizationBPS <= 0 {
		return feeMinBPS, nil
	}
	if utilizationBPS >= fixedmath.BPSScale {
		return feeMaxBPS, nil
	}
	span := feeMaxBPS - feeMinBPS
	term, err := fixedmath.CheckedMulDiv(span, utilizationBPS, fixedmath.BPSScale, fixedmath.RoundDown)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "pool.GetFeeLinear", nil, err)
	}
	return feeMinBPS + term, nil
}

// GetFeeOptimal applies a kinked curve like the borrow rate: fee_min below
// optimalUtilizationBPS, interpolating up to fee_max above it.
func GetFeeOptimal(feeMinBPS, feeMaxBPS, optimalUtilizationBPS, utilizationBPS int64) (int64, error) {
	if optimalUtilizationBPS <= 0 || optimalUtilizationBPS >= fixedmath.BPSScale {
		return 0, corerr.New(corerr.KindInvalidConfig, "pool.GetFeeOptimal", map[string]any{"optimal_utilization_bps": optimalUtilizationBPS})
	}
	if utilizationBPS <= optimalUtilizationBPS {
		return feeMinBPS, nil
	}
	span := feeMaxBPS - feeMinBPS
	term, err := fixedmath.CheckedMulDiv(span, utilizationBPS-optimalUtilizationBPS, fixedmath.BPSScale-optimalUtilizationBPS, fixedmath.RoundDown)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "pool.GetFeeOptimal", nil, err)
	}
	return feeMinBPS + term, nil
}

// ResolveFeeBPS dispatches a custody's configured fee curve for liquidity
// and swap operations (spec Supplemented features). baseFeeBPS is the
// operation's flat rate (e.g. Fees.AddLiquidity), used directly under
// FeesModeFixed and as the curve's floor under Linear/Optimal.
func ResolveFeeBPS(c *domain.Custody, baseFeeBPS, utilizationBPS int64) (int64, error) {
	switch c.Fees.Mode {
	case domain.FeesModeFixed:
		return baseFeeBPS, nil
	case domain.FeesModeLinear:
		return GetFeeLinear(baseFeeBPS, c.Fees.FeeMax, utilizationBPS)
	case domain.FeesModeOptimal:
		return GetFeeOptimal(baseFeeBPS, c.Fees.FeeMax, c.Fees.FeeOptimal, utilizationBPS)
	default:
		return 0, corerr.New(corerr.KindInvalidConfig, "pool.ResolveFeeBPS", map[string]any{"mode": c.Fees.Mode})
	}
}

// AmountAndFee is the result of a liquidity add/remove computation. DeltaUSD
// is signed relative to the custody's USD valuation (positive for deposits,
// negative for withdrawals) and feeds CheckTokenRatio.
type AmountAndFee struct {
	Amount   int64 // lp tokens minted (add) or custody tokens transferred (remove)
	Fee      int64 // custody-native token units
	DeltaUSD int64
}

// GetAddLiquidityAmountAndFee implements spec Supplemented features'
// add_liquidity view, grounded on original source
// instructions/get_add_liquidity_amount_and_fee.rs: the deposit is charged
// the custody's add-liquidity fee, converted to USD, and minted as LP
// tokens pro-rata to the pool's existing AUM (or 1:1 with USD on the first
// deposit, when lpSupply is zero).
func GetAddLiquidityAmountAndFee(c *domain.Custody, amountInTokens, priceScaled, poolAUMUSD, lpSupply int64) (AmountAndFee, error) {
	if amountInTokens <= 0 {
		return AmountAndFee{}, corerr.New(corerr.KindInvalidAmount, "pool.GetAddLiquidityAmountAndFee", map[string]any{"amount": amountInTokens})
	}

	feeBPS, err := ResolveFeeBPS(c, c.Fees.AddLiquidity, custody.UtilizationBPS(c))
	if err != nil {
		return AmountAndFee{}, err
	}
	feeTokens, err := custody.GetFeeAmount(feeBPS, amountInTokens)
	if err != nil {
		return AmountAndFee{}, err
	}
	noFeeTokens := amountInTokens - feeTokens

	tokenAmountUSD, err := custody.TokenToUSD(noFeeTokens, c.Decimals, priceScaled)
	if err != nil {
		return AmountAndFee{}, err
	}

	var lpAmount int64
	if lpSupply == 0 {
		lpAmount = tokenAmountUSD
	} else {
		if poolAUMUSD <= 0 {
			return AmountAndFee{}, corerr.New(corerr.KindStateCorruption, "pool.GetAddLiquidityAmountAndFee", map[string]any{"pool_aum_usd": poolAUMUSD})
		}
		lpAmount, err = fixedmath.CheckedMulDiv(tokenAmountUSD, lpSupply, poolAUMUSD, fixedmath.RoundDown)
		if err != nil {
			return AmountAndFee{}, corerr.Wrap(corerr.KindMathOverflow, "pool.GetAddLiquidityAmountAndFee", nil, err)
		}
	}

	return AmountAndFee{Amount: lpAmount, Fee: feeTokens, DeltaUSD: tokenAmountUSD}, nil
}

// GetRemoveLiquidityAmountAndFee implements spec Supplemented features'
// remove_liquidity view, grounded on original source
// instructions/get_remove_liquidity_amount_and_fee.rs: the burned LP amount
// claims its pro-rata share of pool AUM, converted to custody tokens, then
// charged the custody's remove-liquidity fee.
func GetRemoveLiquidityAmountAndFee(c *domain.Custody, lpAmountIn, priceScaled, poolAUMUSD, lpSupply int64) (AmountAndFee, error) {
	if lpAmountIn <= 0 {
		return AmountAndFee{}, corerr.New(corerr.KindInvalidAmount, "pool.GetRemoveLiquidityAmountAndFee", map[string]any{"lp_amount": lpAmountIn})
	}
	if lpSupply <= 0 || lpAmountIn > lpSupply {
		return AmountAndFee{}, corerr.New(corerr.KindInvalidAmount, "pool.GetRemoveLiquidityAmountAndFee", map[string]any{"lp_amount": lpAmountIn, "lp_supply": lpSupply})
	}

	removeUSD, err := fixedmath.CheckedMulDiv(poolAUMUSD, lpAmountIn, lpSupply, fixedmath.RoundDown)
	if err != nil {
		return AmountAndFee{}, corerr.Wrap(corerr.KindMathOverflow, "pool.GetRemoveLiquidityAmountAndFee", nil, err)
	}

	removeTokens, err := custody.USDToToken(removeUSD, c.Decimals, priceScaled)
	if err != nil {
		return AmountAndFee{}, err
	}

	feeBPS, err := ResolveFeeBPS(c, c.Fees.RemoveLiquidity, custody.UtilizationBPS(c))
	if err != nil {
		return AmountAndFee{}, err
	}
	feeTokens, err := custody.GetFeeAmount(feeBPS, removeTokens)
	if err != nil {
		return AmountAndFee{}, err
	}

	return AmountAndFee{Amount: removeTokens - feeTokens, Fee: feeTokens, DeltaUSD: -removeUSD}, nil
}

// GetLPTokenPrice implements spec Supplemented features' get_lp_token_price
// view, grounded on original source instructions/get_lp_token_price.rs:
// aum_usd / lp_supply, or zero before the first deposit.
func GetLPTokenPrice(poolAUMUSD, lpSupply int64) (int64, error) {
	if lpSupply <= 0 {
		return 0, nil
	}
	price, err := fixedmath.CheckedMulDiv(poolAUMUSD, fixedmath.PriceScale, lpSupply, fixedmath.RoundDown)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "pool.GetLPTokenPrice", nil, err)
	}
	return price, nil
}

// SwapAmountAndFees is the gross result of a swap view computation: fees
// are reported separately from AmountOut, not pre-deducted, matching the
// original source's view-function semantics (get_swap_amount_and_fees.rs).
type SwapAmountAndFees struct {
	AmountOut int64
	FeeIn     int64
	FeeOut    int64
}

// GetSwapAmountAndFees implements spec Supplemented features' swap view,
// grounded on original source instructions/get_swap_amount_and_fees.rs and
// state/pool.rs's get_swap_amount/get_swap_fees: amount_in is converted to
// USD at custodyIn's price and back to custodyOut's tokens at its own
// price, with swap-in/out fees computed on the token amounts directly.
func GetSwapAmountAndFees(custodyIn, custodyOut *domain.Custody, amountIn, priceInScaled, priceOutScaled int64) (SwapAmountAndFees, error) {
	if amountIn <= 0 {
		return SwapAmountAndFees{}, corerr.New(corerr.KindInvalidAmount, "pool.GetSwapAmountAndFees", map[string]any{"amount_in": amountIn})
	}

	amountInUSD, err := custody.TokenToUSD(amountIn, custodyIn.Decimals, priceInScaled)
	if err != nil {
		return SwapAmountAndFees{}, err
	}
	amountOut, err := custody.USDToToken(amountInUSD, custodyOut.Decimals, priceOutScaled)
	if err != nil {
		return SwapAmountAndFees{}, err
	}

	feeInBPS, err := ResolveFeeBPS(custodyIn, custodyIn.Fees.SwapIn, custody.UtilizationBPS(custodyIn))
	if err != nil {
		return SwapAmountAndFees{}, err
	}
	feeOutBPS, err := ResolveFeeBPS(custodyOut, custodyOut.Fees.SwapOut, custody.UtilizationBPS(custodyOut))
	if err != nil {
		return SwapAmountAndFees{}, err
	}
	feeIn, err := custody.GetFeeAmount(feeInBPS, amountIn)
	if err != nil {
		return SwapAmountAndFees{}, err
	}
	feeOut, err := custody.GetFeeAmount(feeOutBPS, amountOut)
	if err != nil {
		return SwapAmountAndFees{}, err
	}

	return SwapAmountAndFees{AmountOut: amountOut, FeeIn: feeIn, FeeOut: feeOut}, nil
}

// available reports a custody's free (unlocked, unearmarked) token balance,
// mirroring custody.Lock's owned-minus-fees headroom invariant.
func available(c *domain.Custody) int64 {
	return c.Assets.Owned - c.Assets.Locked - c.Assets.ProtocolFees
}

// AddLiquidity implements spec Supplemented features' add_liquidity:
// deposits amountInTokens into c, mints LP tokens into p.LPSupply, and
// earmarks the add-liquidity fee exactly as custody.CollectFee does for
// position fees. custodyUSD/poolAUMUSD are the caller's current valuations
// (from pool.GetAssetsUnderManagement); poolAUMUSD also sets the pro-rata
// LP mint amount, and both feed the optional ratio check.
func AddLiquidity(p *domain.Pool, c *domain.Custody, amountInTokens, priceScaled, custodyUSD, poolAUMUSD int64) (AmountAndFee, error) {
	if !c.Permissions.AllowAddLiquidity {
		return AmountAndFee{}, corerr.New(corerr.KindOperationDisabled, "pool.AddLiquidity", map[string]any{"custody": c.ID})
	}

	result, err := GetAddLiquidityAmountAndFee(c, amountInTokens, priceScaled, poolAUMUSD, p.LPSupply)
	if err != nil {
		return AmountAndFee{}, err
	}

	if c.Ratio.MaxBPS > 0 {
		if err := CheckTokenRatio(custodyUSD, result.DeltaUSD, poolAUMUSD, c.Ratio); err != nil {
			return AmountAndFee{}, err
		}
	}

	c.Assets.Owned += amountInTokens
	if err := custody.CollectFee(c, result.Fee); err != nil {
		return AmountAndFee{}, err
	}
	p.LPSupply += result.Amount
	return result, nil
}

// RemoveLiquidity implements spec Supplemented features' remove_liquidity:
// burns lpAmountIn from p.LPSupply and transfers the corresponding token
// amount out of c, net of the remove-liquidity fee.
func RemoveLiquidity(p *domain.Pool, c *domain.Custody, lpAmountIn, priceScaled, custodyUSD, poolAUMUSD int64) (AmountAndFee, error) {
	if !c.Permissions.AllowRemoveLiquidity {
		return AmountAndFee{}, corerr.New(corerr.KindOperationDisabled, "pool.RemoveLiquidity", map[string]any{"custody": c.ID})
	}
	if lpAmountIn > p.LPSupply {
		return AmountAndFee{}, corerr.New(corerr.KindInvalidAmount, "pool.RemoveLiquidity", map[string]any{"lp_amount": lpAmountIn, "lp_supply": p.LPSupply})
	}

	result, err := GetRemoveLiquidityAmountAndFee(c, lpAmountIn, priceScaled, poolAUMUSD, p.LPSupply)
	if err != nil {
		return AmountAndFee{}, err
	}

	if c.Ratio.MaxBPS > 0 {
		if err := CheckTokenRatio(custodyUSD, result.DeltaUSD, poolAUMUSD, c.Ratio); err != nil {
			return AmountAndFee{}, err
		}
	}

	if result.Amount+result.Fee > available(c) {
		return AmountAndFee{}, corerr.New(corerr.KindInsufficientLiquidity, "pool.RemoveLiquidity", map[string]any{
			"custody": c.ID, "needed": result.Amount + result.Fee, "available": available(c),
		})
	}

	c.Assets.Owned -= result.Amount
	if err := custody.CollectFee(c, result.Fee); err != nil {
		return AmountAndFee{}, err
	}
	p.LPSupply -= lpAmountIn
	return result, nil
}

// Swap implements spec Supplemented features' swap: moves amountIn into
// custodyIn and the fee-adjusted output out of custodyOut. Unlike the pure
// GetSwapAmountAndFees view, the returned AmountOut here is net of
// FeeOut — the actual amount transferred to the trader.
func Swap(custodyIn, custodyOut *domain.Custody, amountIn, priceInScaled, priceOutScaled int64) (SwapAmountAndFees, error) {
	if !custodyIn.Permissions.AllowSwap || !custodyOut.Permissions.AllowSwap {
		return SwapAmountAndFees{}, corerr.New(corerr.KindOperationDisabled, "pool.Swap", map[string]any{"custody_in": custodyIn.ID, "custody_out": custodyOut.ID})
	}

	result, err := GetSwapAmountAndFees(custodyIn, custodyOut, amountIn, priceInScaled, priceOutScaled)
	if err != nil {
		return SwapAmountAndFees{}, err
	}

	transferOut := result.AmountOut - result.FeeOut
	if transferOut <= 0 {
		return SwapAmountAndFees{}, corerr.New(corerr.KindInvalidAmount, "pool.Swap", map[string]any{"transfer_out": transferOut})
	}
	if transferOut > available(custodyOut) {
		return SwapAmountAndFees{}, corerr.New(corerr.KindInsufficientLiquidity, "pool.Swap", map[string]any{
			"custody": custodyOut.ID, "needed": transferOut, "available": available(custodyOut),
		})
	}

	custodyIn.Assets.Owned += amountIn
	if err := custody.CollectFee(custodyIn, result.FeeIn); err != nil {
		return SwapAmountAndFees{}, err
	}
	custodyOut.Assets.Owned -= transferOut
	if err := custody.CollectFee(custodyOut, result.FeeOut); err != nil {
		return SwapAmountAndFees{}, err
	}

	return SwapAmountAndFees{AmountOut: transferOut, FeeIn: result.FeeIn, FeeOut: result.FeeOut}, nil
}

// AddCustody appends a custody to the pool's membership list, enforcing
// MaxCustodies (spec ยง3 Pool).
func AddCustody(p *domain.Pool, custodyID uuid.UUID) error {
	if len(p.CustodyIDs) >= domain.MaxCustodies {
		return corerr.New(corerr.KindInvalidConfig, "pool.AddCustody", map[string]any{"pool": p.ID, "count": len(p.CustodyIDs)})
	}
	for _, id := range p.CustodyIDs {
		if id == custodyID {
			return corerr.New(corerr.KindCustodyExists, "pool.AddCustody", map[string]any{"custody": custodyID})
		}
	}
	p.CustodyIDs = append(p.CustodyIDs, custodyID)
	return nil
}
