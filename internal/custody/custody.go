// Package custody implements the per-asset Custody operations (spec ยง4.4):
// borrow-rate accrual, collateral bookkeeping, open-interest counters, and
// the payoff lock/unlock discipline. Grounded on
// internal/state/funding_manager.go's accrual-snapshot pattern (a monotone
// cumulative accumulator plus update-before-read discipline), generalized
// from funding rate to the kinked-utilization borrow rate curve in
// spec.md ยง4.4 and original source pool.rs's borrow-rate fields.
package custody

import (
	"time"

	"PowerPerps/internal/corerr"
	"PowerPerps/internal/domain"
	"PowerPerps/internal/fixedmath"
)

// UpdateBorrowRate recomputes current_rate and cumulative_interest using
// the kinked utilization curve (spec ยง4.4). Must be invoked before any
// open, close, or liquidation on a position referencing this custody.
//
// utilizationBPS is supplied by the caller (Pool computes it from
// owned/locked across the custody) rather than derived here, since Custody
// itself has no visibility into pool-wide aggregation.
func UpdateBorrowRate(c *domain.Custody, utilizationBPS int64, now time.Time) error {
	br := &c.BorrowRate

	dt := now.Sub(br.LastUpdate)
	if dt < 0 {
		return corerr.New(corerr.KindInvalidAmount, "custody.UpdateBorrowRate", map[string]any{"custody": c.ID, "dt_ns": dt})
	}

	rate, err := computeRate(br, utilizationBPS)
	if err != nil {
		return err
	}
	br.CurrentRateBPS = rate

	if dt > 0 {
		elapsedSec := int64(dt / time.Second)
		if elapsedSec > 0 {
			accrued, err := fixedmath.CheckedMulDiv(rate, elapsedSec, 1, fixedmath.RoundDown)
			if err != nil {
				return corerr.Wrap(corerr.KindMathOverflow, "custody.UpdateBorrowRate", map[string]any{"custody": c.ID}, err)
			}
			br.CumulativeInterest += accrued
		}
	}

	br.LastUpdate = now
	return nil
}

// computeRate implements the kinked curve:
//
//	rate = base + slope1*u/u*                       when u <= u*
//	rate = base + slope1 + slope2*(u-u*)/(1-u*)      when u > u*
func computeRate(br *domain.BorrowRateState, utilizationBPS int64) (int64, error) {
	uStar := br.OptimalUtilizationBPS
	if uStar <= 0 || uStar >= fixedmath.BPSScale {
		return 0, corerr.New(corerr.KindInvalidConfig, "custody.computeRate", map[string]any{"optimal_utilization_bps": uStar})
	}

	if utilizationBPS <= uStar {
		term, err := fixedmath.CheckedMulDiv(br.Slope1BPS, utilizationBPS, uStar, fixedmath.RoundDown)
		if err != nil {
			return 0, corerr.Wrap(corerr.KindMathOverflow, "custody.computeRate", nil, err)
		}
		return br.BaseRateBPS + term, nil
	}

	term, err := fixedmath.CheckedMulDiv(br.Slope2BPS, utilizationBPS-uStar, fixedmath.BPSScale-uStar, fixedmath.RoundDown)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "custody.computeRate", nil, err)
	}
	return br.BaseRateBPS + br.Slope1BPS + term, nil
}

// AddCollateral / ReleaseCollateral update the custody's collateral counter,
// never allowing collateral > owned (spec ยง4.4).
func AddCollateral(c *domain.Custody, amount int64) error {
	if amount < 0 {
		return corerr.New(corerr.KindInvalidAmount, "custody.AddCollateral", map[string]any{"amount": amount})
	}
	next := c.Assets.Collateral + amount
	if next > c.Assets.Owned {
		return corerr.New(corerr.KindInsufficientLiquidity, "custody.AddCollateral", map[string]any{
			"custody": c.ID, "next_collateral": next, "owned": c.Assets.Owned,
		})
	}
	c.Assets.Collateral = next
	return nil
}

func ReleaseCollateral(c *domain.Custody, amount int64) error {
	if amount < 0 || amount > c.Assets.Collateral {
		return corerr.New(corerr.KindInvalidAmount, "custody.ReleaseCollateral", map[string]any{
			"custody": c.ID, "amount": amount, "collateral": c.Assets.Collateral,
		})
	}
	c.Assets.Collateral -= amount
	return nil
}

// Lock / Unlock reserve tokens to back potential user profit. Invariant:
// locked <= owned - protocol_fees (spec ยง4.4).
func Lock(c *domain.Custody, amount int64) error {
	if amount < 0 {
		return corerr.New(corerr.KindInvalidAmount, "custody.Lock", map[string]any{"amount": amount})
	}
	next := c.Assets.Locked + amount
	if next > c.Assets.Owned-c.Assets.ProtocolFees {
		return corerr.New(corerr.KindInsufficientLiquidity, "custody.Lock", map[string]any{
			"custody": c.ID, "next_locked": next, "available": c.Assets.Owned - c.Assets.ProtocolFees,
		})
	}
	c.Assets.Locked = next
	return nil
}

func Unlock(c *domain.Custody, amount int64) error {
	if amount < 0 || amount > c.Assets.Locked {
		return corerr.New(corerr.KindInvalidAmount, "custody.Unlock", map[string]any{
			"custody": c.ID, "amount": amount, "locked": c.Assets.Locked,
		})
	}
	c.Assets.Locked -= amount
	return nil
}

// CollectFee credits amount (native token units, at the custody's decimals)
// into the protocol fee bucket, carved out of the same owned-minus-fees
// headroom Lock draws from. Admin.WithdrawFees later sweeps this bucket out.
func CollectFee(c *domain.Custody, amount int64) error {
	if amount < 0 {
		return corerr.New(corerr.KindInvalidAmount, "custody.CollectFee", map[string]any{"amount": amount})
	}
	next := c.Assets.ProtocolFees + amount
	if next > c.Assets.Owned {
		return corerr.New(corerr.KindInsufficientLiquidity, "custody.CollectFee", map[string]any{
			"custody": c.ID, "next_protocol_fees": next, "owned": c.Assets.Owned,
		})
	}
	c.Assets.ProtocolFees = next
	return nil
}

// RecordOpen updates per-side open-interest counters (spec ยง4.4).
func RecordOpen(c *domain.Custody, side domain.Side, sizeUSD, collateralUSD int64) {
	stats := statsFor(c, side)
	stats.OpenInterestUSD += sizeUSD
	stats.PositionCount++
}

// RecordClose updates per-side open-interest and realized-PnL counters
// (spec ยง4.4). realizedPnLUSD is signed: positive for net profit, negative
// for net loss.
func RecordClose(c *domain.Custody, side domain.Side, sizeUSD, collateralUSD, realizedPnLUSD int64) {
	stats := statsFor(c, side)
	stats.OpenInterestUSD -= sizeUSD
	if stats.OpenInterestUSD < 0 {
		stats.OpenInterestUSD = 0
	}
	stats.PositionCount--
	if stats.PositionCount < 0 {
		stats.PositionCount = 0
	}
	stats.RealizedPnLUSD += realizedPnLUSD
}

func statsFor(c *domain.Custody, side domain.Side) *domain.SideStats {
	if side == domain.SideLong {
		return &c.LongStats
	}
	return &c.ShortStats
}

// GetFeeAmount implements the flat bps fee rule resolved from
// original_source/.../pool.rs::get_fee_amount: ceil(amount * fee_bps /
// BPS_SCALE), rounding in the pool's favor (spec ยง4.1). Zero fee or zero
// amount short-circuits to zero, matching the source exactly.
func GetFeeAmount(feeBPS, amount int64) (int64, error) {
	if feeBPS == 0 || amount == 0 {
		return 0, nil
	}
	fee, err := fixedmath.ApplyBPS(amount, feeBPS, fixedmath.RoundUp)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "custody.GetFeeAmount", nil, err)
	}
	return fee, nil
}

// TokenToUSD converts a token amount (native custody decimals) to a USD
// value at PRICE_DECIMALS using the supplied oracle price.
func TokenToUSD(amountTokens int64, decimals int, priceScaled int64) (int64, error) {
	tokenScale, err := fixedmath.CheckedAsScaled(1, 0, decimals)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "custody.TokenToUSD", nil, err)
	}
	usd, err := fixedmath.CheckedMulDiv(amountTokens, priceScaled, tokenScale, fixedmath.RoundDown)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "custody.TokenToUSD", nil, err)
	}
	return usd, nil
}

// USDToToken converts a USD value at PRICE_DECIMALS back to a token amount
// at the custody's native decimals, mirroring TokenToUSD's inverse (spec
// Supplemented features: Liquidity/Swap modules need this to turn
// USD-denominated remove/swap amounts back into transferable token units).
func USDToToken(usdScaled int64, decimals int, priceScaled int64) (int64, error) {
	if priceScaled == 0 {
		return 0, corerr.New(corerr.KindDivisionByZero, "custody.USDToToken", nil)
	}
	tokenScale, err := fixedmath.CheckedAsScaled(1, 0, decimals)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "custody.USDToToken", nil, err)
	}
	return fixedmath.CheckedMulDiv(usdScaled, tokenScale, priceScaled, fixedmath.RoundDown)
}

// UtilizationBPS computes owned-vs-locked utilization for the borrow curve.
func UtilizationBPS(c *domain.Custody) int64 {
	if c.Assets.Owned == 0 {
		return 0
	}
	u, err := fixedmath.CheckedMulDiv(c.Assets.Locked, fixedmath.BPSScale, c.Assets.Owned, fixedmath.RoundDown)
	if err != nil {
		return fixedmath.BPSScale
	}
	return u
}
