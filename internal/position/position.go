// Package position implements Position (spec ยง4.5): open/close validation,
// the power-perpetuals PnL computation with profit cap, and the liquidation
// state machine and price solver. Grounded on internal/state/position.go's
// Position record shape and internal/state/liquidation_manager.go's state
// enum/transition-table discipline, generalized from the linear futures
// payoff and margin-fraction-vs-MM/IM test to the power-k payoff and the
// collateral/size bps test spec.md defines.
package position

import (
	"time"

	"PowerPerps/internal/corerr"
	"PowerPerps/internal/custody"
	"PowerPerps/internal/domain"
	"PowerPerps/internal/fixedmath"

	"github.com/google/uuid"
)

// Status is the position lifecycle state (spec ยง4.5: Open/Closed, no
// partial-liquidation intermediate states since liquidation always closes
// the full position in this core).
type Status int8

const (
	StatusNone Status = iota
	StatusOpen
	StatusClosed
	StatusLiquidated
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "none"
	}
}

// Position is the per-trade record (spec ยง3 Position).
type Position struct {
	ID                uuid.UUID
	Owner             uuid.UUID
	PoolID            uuid.UUID
	CustodyID         uuid.UUID
	CollateralCustodyID uuid.UUID
	Side              domain.Side
	Power             int
	Status            Status
	EntryPrice        int64 // scaled, PRICE_DECIMALS
	SizeUSD           int64
	CollateralUSD     int64
	CollateralAmount  int64 // native collateral-custody decimals, deposited at Open; released verbatim at Close/Liquidate
	LockedAmount      int64 // native custody decimals, reserved against max payoff
	BorrowSizeUSD     int64
	CumulativeInterestSnapshot int64
	// UnrealizedProfitUSD / UnrealizedLossUSD carry the PnL of a prior
	// partial close forward onto the remaining size, per spec ยง4.5.2 step 5's
	// netting formula and ยง4.5.3's partial-close accounting.
	UnrealizedProfitUSD int64
	UnrealizedLossUSD   int64
	OpenTime          time.Time
	UpdateTime        time.Time
}

// OpenParams bundles the inputs to Open (spec ยง4.5.1).
type OpenParams struct {
	Owner               uuid.UUID
	PoolID              uuid.UUID
	Side                domain.Side
	Power               int
	EntryPriceScaled    int64
	SizeUSD             int64
	CollateralUSD       int64
	Now                 time.Time
}

// Open validates and constructs a new Position against its custody and
// collateral custody (spec ยง4.5.1): leverage bounds, power bounds, max
// payoff lock, borrow accounting.
func Open(p OpenParams, c *domain.Custody, collateralCustody *domain.Custody) (*Position, error) {
	if p.Power < 1 || p.Power > fixedmath.MaxPower {
		return nil, corerr.New(corerr.KindInvalidPower, "position.Open", map[string]any{"power": p.Power})
	}
	if p.Side != domain.SideLong && p.Side != domain.SideShort {
		return nil, corerr.New(corerr.KindInvalidSide, "position.Open", map[string]any{"side": int8(p.Side)})
	}
	if p.SizeUSD <= 0 || p.CollateralUSD <= 0 {
		return nil, corerr.New(corerr.KindInvalidAmount, "position.Open", map[string]any{"size_usd": p.SizeUSD, "collateral_usd": p.CollateralUSD})
	}
	if !c.Permissions.AllowOpenPosition {
		return nil, corerr.New(corerr.KindOperationDisabled, "position.Open", map[string]any{"custody": c.ID})
	}

	// Collateral custody matches protocol expectation (spec ยง4.5.1 step 4):
	// Long collateralizes against the position custody itself; Short against
	// a stable custody in the same pool.
	switch p.Side {
	case domain.SideLong:
		if collateralCustody.ID != c.ID {
			return nil, corerr.New(corerr.KindCollateralMismatch, "position.Open", map[string]any{
				"custody": c.ID, "collateral_custody": collateralCustody.ID,
			})
		}
	case domain.SideShort:
		if !collateralCustody.IsStable || collateralCustody.PoolID != c.PoolID {
			return nil, corerr.New(corerr.KindCollateralMismatch, "position.Open", map[string]any{
				"collateral_custody": collateralCustody.ID, "is_stable": collateralCustody.IsStable,
			})
		}
	}

	leverageBPS, err := fixedmath.CheckedMulDiv(p.SizeUSD, fixedmath.BPSScale, p.CollateralUSD, fixedmath.RoundDown)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindMathOverflow, "position.Open", nil, err)
	}

	minInit, maxInit := leverageBoundsBPS(c.Pricing, p.Power)
	if leverageBPS < minInit || leverageBPS > maxInit {
		return nil, corerr.New(corerr.KindLeverageTooHigh, "position.Open", map[string]any{
			"leverage_bps": leverageBPS, "min_initial_bps": minInit, "max_initial_bps": maxInit,
		})
	}

	// Reserve the maximum payoff the pool could owe so locked liquidity
	// covers worst case: max_payoff_usd = size_usd * max_payoff_mult_bps /
	// BPS_SCALE (spec ยง4.1/ยง4.5.1, Open Question #3: absolute, not
	// k-scaled).
	maxPayoffUSD, err := fixedmath.ApplyBPS(p.SizeUSD, c.Pricing.MaxPayoffMultBPS, fixedmath.RoundUp)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindMathOverflow, "position.Open", nil, err)
	}
	lockedTokens, err := usdToToken(maxPayoffUSD, collateralCustody.Decimals, p.EntryPriceScaled)
	if err != nil {
		return nil, err
	}
	if err := custody.Lock(collateralCustody, lockedTokens); err != nil {
		return nil, err
	}

	collateralTokens, err := usdToToken(p.CollateralUSD, collateralCustody.Decimals, p.EntryPriceScaled)
	if err != nil {
		return nil, err
	}
	if err := custody.AddCollateral(collateralCustody, collateralTokens); err != nil {
		return nil, err
	}

	custody.RecordOpen(c, p.Side, p.SizeUSD, p.CollateralUSD)

	pos := &Position{
		ID:                  uuid.New(),
		Owner:               p.Owner,
		PoolID:              p.PoolID,
		CustodyID:           c.ID,
		CollateralCustodyID: collateralCustody.ID,
		Side:                p.Side,
		Power:               p.Power,
		Status:              StatusOpen,
		EntryPrice:           p.EntryPriceScaled,
		SizeUSD:             p.SizeUSD,
		CollateralUSD:       p.CollateralUSD,
		CollateralAmount:    collateralTokens,
		LockedAmount:        lockedTokens,
		BorrowSizeUSD:       p.SizeUSD,
		CumulativeInterestSnapshot: c.BorrowRate.CumulativeInterest,
		OpenTime:            p.Now,
		UpdateTime:          p.Now,
	}
	return pos, nil
}

// leverageBoundsBPS resolves the power-specific initial leverage cap table
// (spec ยง4.6's `check_leverage`, applied at open time too per ยง4.5.1).
func leverageBoundsBPS(params domain.PricingParams, power int) (min, max int64) {
	switch power {
	case 1:
		return params.MinInitialLeverageBPS, params.MaxInitialLeverageBPS
	case 2:
		return 200_000, 400_000
	case 3:
		return 100_000, 200_000
	case 4:
		return 50_000, 100_000
	case 5:
		return 30_000, 60_000
	default:
		return 0, 0
	}
}

func usdToToken(usd int64, decimals int, priceScaled int64) (int64, error) {
	if priceScaled == 0 {
		return 0, corerr.New(corerr.KindDivisionByZero, "position.usdToToken", nil)
	}
	atTokenScale, err := fixedmath.CheckedAsScaled(usd, fixedmath.PriceDecimals, decimals+fixedmath.PriceDecimals)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "position.usdToToken", nil, err)
	}
	return fixedmath.CheckedMulDiv(atTokenScale, 1, priceScaled, fixedmath.RoundDown)
}

// PnL computes the position's current profit/loss against exitPrice using
// calc_power_perps_pnl (spec ยง4.1/ยง4.5.2), applying the long/short
// argument-order convention: long calls (exit, entry), short calls (entry,
// exit). The raw payoff is then netted against borrow interest accrued
// since open, the exit fee, and any unrealized remainder carried forward
// from a prior partial close (spec ยง4.5.2 steps 3-5), and finally capped at
// token_to_usd(locked_amount, collateral custody) — the actual USD value of
// what was locked against this position at the current exit price, not a
// flat bps-of-size_usd figure (spec ยง4.5.2 step 6, confirmed against
// original source state/pool.rs's get_pnl_usd; this is also spec ยง8's
// solvency invariant unrealized_profit_usd <= token_to_usd(locked_amount,
// custody)).
//
// cumulativeInterest is the position custody's current
// borrow_rate.cumulative_interest (caller reads it after update_borrow_rate
// has run); feeBPS is the flat bps rate for whichever exit this PnL call
// represents (close vs liquidation charge different rates);
// collateralDecimals is the collateral custody's token decimals, needed to
// convert locked_amount to USD at exitPriceScaled.
func (pos *Position) PnL(exitPriceScaled int64, collateralDecimals int, cumulativeInterest, feeBPS int64) (profitUSD, lossUSD, feeUSD int64, err error) {
	var e, n int64
	switch pos.Side {
	case domain.SideLong:
		e, n = exitPriceScaled, pos.EntryPrice
	case domain.SideShort:
		e, n = pos.EntryPrice, exitPriceScaled
	default:
		return 0, 0, 0, corerr.New(corerr.KindInvalidSide, "position.PnL", map[string]any{"side": int8(pos.Side)})
	}

	rawProfitUSD, rawLossUSD, err := fixedmath.CalcPowerPerpsPnL(e, n, pos.SizeUSD, pos.Power)
	if err != nil {
		return 0, 0, 0, corerr.Wrap(corerr.KindMathOverflow, "position.PnL", map[string]any{"position": pos.ID}, err)
	}

	interestUSD, err := interestAmountUSD(pos.SizeUSD, cumulativeInterest, pos.CumulativeInterestSnapshot)
	if err != nil {
		return 0, 0, 0, err
	}
	feeUSD, err = custody.GetFeeAmount(feeBPS, pos.SizeUSD)
	if err != nil {
		return 0, 0, 0, err
	}

	net := rawProfitUSD - rawLossUSD - interestUSD - feeUSD - pos.UnrealizedLossUSD + pos.UnrealizedProfitUSD
	if net > 0 {
		profitUSD, lossUSD = net, 0
	} else {
		profitUSD, lossUSD = 0, -net
	}

	lockedUSD, err := custody.TokenToUSD(pos.LockedAmount, collateralDecimals, exitPriceScaled)
	if err != nil {
		return 0, 0, 0, err
	}
	if profitUSD > lockedUSD {
		profitUSD = lockedUSD
	}
	return profitUSD, lossUSD, feeUSD, nil
}

// interestAmountUSD implements spec ยง4.5.2 step 3: size_usd times the
// cumulative-interest delta accrued since the position's snapshot, over
// BPS_SCALE (cumulative_interest accrues in custody.UpdateBorrowRate as
// current_rate_bps * elapsed_seconds, so dividing by BPS_SCALE recovers a
// plain USD amount). Rounds up, against the trader, matching the spread and
// fee rounding convention elsewhere in this core.
func interestAmountUSD(sizeUSD, cumulativeInterest, snapshot int64) (int64, error) {
	delta := cumulativeInterest - snapshot
	if delta <= 0 {
		return 0, nil
	}
	interestUSD, err := fixedmath.CheckedMulDiv(sizeUSD, delta, fixedmath.BPSScale, fixedmath.RoundUp)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "position.interestAmountUSD", nil, err)
	}
	return interestUSD, nil
}

// CloseResult is the settlement breakdown Close produces (spec ยง4.5.3).
type CloseResult struct {
	ProfitUSD     int64
	LossUSD       int64
	FeeUSD        int64
	TransferUSD   int64 // net amount returned to the owner, 0 if fully absorbed by loss+fee
	RemainingSizeUSD int64 // 0 once the position is fully closed
	UnlockedAmountUSD int64 // token_to_usd(portion unlocked, collateral custody) at exit price
}

// proportion scales a copy of pos down to the sizeUSDToClose slice being
// settled (spec ยง4.5.3: "recompute PnL on the portion being closed,
// proportional to size_usd_to_close / size_usd"). A full close
// (sizeUSDToClose == pos.SizeUSD) returns an exact copy, avoiding any
// rounding loss on the common case.
func proportion(pos *Position, sizeUSDToClose int64) (*Position, error) {
	p := *pos
	if sizeUSDToClose == pos.SizeUSD {
		return &p, nil
	}

	scale := func(amount int64) (int64, error) {
		scaled, err := fixedmath.CheckedMulDiv(amount, sizeUSDToClose, pos.SizeUSD, fixedmath.RoundDown)
		if err != nil {
			return 0, corerr.Wrap(corerr.KindMathOverflow, "position.proportion", nil, err)
		}
		return scaled, nil
	}

	var err error
	if p.CollateralUSD, err = scale(pos.CollateralUSD); err != nil {
		return nil, err
	}
	if p.CollateralAmount, err = scale(pos.CollateralAmount); err != nil {
		return nil, err
	}
	if p.LockedAmount, err = scale(pos.LockedAmount); err != nil {
		return nil, err
	}
	if p.UnrealizedProfitUSD, err = scale(pos.UnrealizedProfitUSD); err != nil {
		return nil, err
	}
	if p.UnrealizedLossUSD, err = scale(pos.UnrealizedLossUSD); err != nil {
		return nil, err
	}
	p.SizeUSD = sizeUSDToClose
	return &p, nil
}

// Close settles sizeUSDToClose of the position against exitPrice (spec
// ยง4.5.3): computes PnL on that portion (capped, net of interest and exit
// fee), releases the locked liquidity and collateral actually backing that
// portion, and records the realized outcome on both custodies. A full
// close (sizeUSDToClose == pos.SizeUSD) destroys the position; otherwise the
// remainder stays Open with its size/collateral/locked amounts reduced.
func Close(pos *Position, exitPriceScaled, sizeUSDToClose int64, now time.Time, c, collateralCustody *domain.Custody) (CloseResult, error) {
	if pos.Status != StatusOpen {
		return CloseResult{}, corerr.New(corerr.KindInvalidAmount, "position.Close", map[string]any{"status": pos.Status.String()})
	}
	if !c.Permissions.AllowClosePosition {
		return CloseResult{}, corerr.New(corerr.KindOperationDisabled, "position.Close", map[string]any{"custody": c.ID})
	}
	if sizeUSDToClose <= 0 || sizeUSDToClose > pos.SizeUSD {
		return CloseResult{}, corerr.New(corerr.KindInvalidAmount, "position.Close", map[string]any{
			"size_usd_to_close": sizeUSDToClose, "size_usd": pos.SizeUSD,
		})
	}

	portion, err := proportion(pos, sizeUSDToClose)
	if err != nil {
		return CloseResult{}, err
	}

	profitUSD, lossUSD, feeUSD, err := portion.PnL(exitPriceScaled, collateralCustody.Decimals, c.BorrowRate.CumulativeInterest, c.Fees.ClosePosition)
	if err != nil {
		return CloseResult{}, err
	}

	lockedUSD, err := custody.TokenToUSD(portion.LockedAmount, collateralCustody.Decimals, exitPriceScaled)
	if err != nil {
		return CloseResult{}, err
	}
	if err := custody.Unlock(collateralCustody, portion.LockedAmount); err != nil {
		return CloseResult{}, err
	}

	// feeUSD and the borrow interest are already netted into profitUSD/
	// lossUSD by PnL; the amount returned to the owner is simply the
	// portion's collateral plus that net outcome.
	remainingUSD := portion.CollateralUSD + profitUSD - lossUSD
	transferUSD := remainingUSD
	if transferUSD < 0 {
		transferUSD = 0
	}

	if err := custody.ReleaseCollateral(collateralCustody, fixedmath.Min64(portion.CollateralAmount, collateralCustody.Assets.Collateral)); err != nil {
		return CloseResult{}, err
	}

	realizedUSD := profitUSD - lossUSD
	custody.RecordClose(c, pos.Side, portion.SizeUSD, portion.CollateralUSD, realizedUSD)

	if feeUSD > 0 {
		feeTokens, err := usdToToken(feeUSD, collateralCustody.Decimals, exitPriceScaled)
		if err != nil {
			return CloseResult{}, err
		}
		if err := custody.CollectFee(collateralCustody, feeTokens); err != nil {
			return CloseResult{}, err
		}
	}

	pos.SizeUSD -= portion.SizeUSD
	pos.CollateralUSD -= portion.CollateralUSD
	pos.CollateralAmount -= portion.CollateralAmount
	pos.LockedAmount -= portion.LockedAmount
	pos.UnrealizedProfitUSD -= portion.UnrealizedProfitUSD
	pos.UnrealizedLossUSD -= portion.UnrealizedLossUSD
	pos.UpdateTime = now

	if pos.SizeUSD == 0 {
		pos.Status = StatusClosed
	}

	return CloseResult{
		ProfitUSD:   profitUSD,
		LossUSD:     lossUSD,
		FeeUSD:      feeUSD,
		TransferUSD: transferUSD,
		RemainingSizeUSD: pos.SizeUSD,
		UnlockedAmountUSD: lockedUSD,
	}, nil
}

// LiquidationState classifies margin health (spec ยง4.5.4 / ยง8).
type LiquidationState int8

const (
	LiquidationNone LiquidationState = iota
	LiquidationCanBeLiquidated
	LiquidationMustBeLiquidated
)

func (s LiquidationState) String() string {
	switch s {
	case LiquidationCanBeLiquidated:
		return "can_be_liquidated"
	case LiquidationMustBeLiquidated:
		return "must_be_liquidated"
	default:
		return "none"
	}
}

// GetLiquidationState implements spec ยง4.5.4's margin test:
//
//	remaining_collateral_usd = collateral_usd + profit - loss - fee
//	margin_fraction_bps = remaining_collateral_usd * BPS_SCALE / size_usd
//
// None when margin_fraction_bps >= min_collateral_bps + liquidation_fee_bps;
// CanBeLiquidated when min_collateral_bps <= margin_fraction_bps is below
// that sum; MustBeLiquidated when margin_fraction_bps < min_collateral_bps.
func GetLiquidationState(pos *Position, exitPriceScaled int64, c, collateralCustody *domain.Custody) (LiquidationState, int64, error) {
	profitUSD, lossUSD, feeUSD, err := pos.PnL(exitPriceScaled, collateralCustody.Decimals, c.BorrowRate.CumulativeInterest, c.Fees.Liquidation)
	if err != nil {
		return LiquidationNone, 0, err
	}

	remainingUSD := pos.CollateralUSD + profitUSD - lossUSD - feeUSD
	marginFractionBPS, err := fixedmath.CheckedMulDiv(remainingUSD, fixedmath.BPSScale, pos.SizeUSD, fixedmath.RoundDown)
	if err != nil {
		return LiquidationNone, 0, corerr.Wrap(corerr.KindMathOverflow, "position.GetLiquidationState", nil, err)
	}

	if marginFractionBPS < c.Pricing.MinCollateralBPS {
		return LiquidationMustBeLiquidated, marginFractionBPS, nil
	}
	if marginFractionBPS < c.Pricing.MinCollateralBPS+c.Pricing.LiquidationFeeBPS {
		return LiquidationCanBeLiquidated, marginFractionBPS, nil
	}
	return LiquidationNone, marginFractionBPS, nil
}

// Liquidate closes a position via the liquidation path: same settlement as
// Close but charging the liquidation fee instead of the close fee, and
// requiring the position to already be in a liquidatable state (spec
// ยง4.5.4, ยง4.7's allow_liquidate_position gate).
func Liquidate(pos *Position, exitPriceScaled int64, now time.Time, c, collateralCustody *domain.Custody) (CloseResult, error) {
	if pos.Status != StatusOpen {
		return CloseResult{}, corerr.New(corerr.KindInvalidAmount, "position.Liquidate", map[string]any{"status": pos.Status.String()})
	}
	if !c.Permissions.AllowLiquidatePosition {
		return CloseResult{}, corerr.New(corerr.KindOperationDisabled, "position.Liquidate", map[string]any{"custody": c.ID})
	}

	state, _, err := GetLiquidationState(pos, exitPriceScaled, c, collateralCustody)
	if err != nil {
		return CloseResult{}, err
	}
	if state == LiquidationNone {
		return CloseResult{}, corerr.New(corerr.KindNotLiquidatable, "position.Liquidate", map[string]any{"position": pos.ID})
	}

	// Liquidation always closes the full position; no partial-liquidation
	// intermediate state exists in this core.
	profitUSD, lossUSD, feeUSD, err := pos.PnL(exitPriceScaled, collateralCustody.Decimals, c.BorrowRate.CumulativeInterest, c.Fees.Liquidation)
	if err != nil {
		return CloseResult{}, err
	}

	lockedUSD, err := custody.TokenToUSD(pos.LockedAmount, collateralCustody.Decimals, exitPriceScaled)
	if err != nil {
		return CloseResult{}, err
	}
	if err := custody.Unlock(collateralCustody, pos.LockedAmount); err != nil {
		return CloseResult{}, err
	}

	remainingUSD := pos.CollateralUSD + profitUSD - lossUSD
	transferUSD := remainingUSD
	if transferUSD < 0 {
		transferUSD = 0
	}

	if err := custody.ReleaseCollateral(collateralCustody, fixedmath.Min64(pos.CollateralAmount, collateralCustody.Assets.Collateral)); err != nil {
		return CloseResult{}, err
	}

	realizedUSD := profitUSD - lossUSD
	custody.RecordClose(c, pos.Side, pos.SizeUSD, pos.CollateralUSD, realizedUSD)

	if feeUSD > 0 {
		feeTokens, err := usdToToken(feeUSD, collateralCustody.Decimals, exitPriceScaled)
		if err != nil {
			return CloseResult{}, err
		}
		if err := custody.CollectFee(collateralCustody, feeTokens); err != nil {
			return CloseResult{}, err
		}
	}

	pos.Status = StatusLiquidated
	pos.SizeUSD = 0
	pos.UpdateTime = now

	return CloseResult{
		ProfitUSD:   profitUSD,
		LossUSD:     lossUSD,
		FeeUSD:      feeUSD,
		TransferUSD: transferUSD,
		UnlockedAmountUSD: lockedUSD,
	}, nil
}

const (
	bisectionMaxIterations = 64
	bisectionToleranceScaled = 1 // one scaled-price unit, per spec ยง4.5.4
)

// LiquidationPriceResult reports the solved exit price and whether the
// bisection converged within tolerance (spec ยง4.5.4).
type LiquidationPriceResult struct {
	PriceScaled int64
	Approximate bool
}

// GetLiquidationPrice solves for the exit price at which margin_fraction_bps
// crosses min_collateral_bps + liquidation_fee_bps — the None/
// CanBeLiquidated boundary (spec ยง4.5.4) — by bisection over a one-sided
// bracket: longs search [epsilon, 10*entry], shorts search [entry/10,
// entry]. The margin fraction is monotone in exit price within each
// bracket (losses increase for longs as price falls, for shorts as price
// rises), which is what makes bisection applicable despite the non-linear
// power-k payoff.
func GetLiquidationPrice(pos *Position, c, collateralCustody *domain.Custody) (LiquidationPriceResult, error) {
	entry := pos.EntryPrice
	if entry <= 0 {
		return LiquidationPriceResult{}, corerr.New(corerr.KindInvalidAmount, "position.GetLiquidationPrice", map[string]any{"entry": entry})
	}

	var lo, hi int64
	switch pos.Side {
	case domain.SideLong:
		lo, hi = 1, entry*10
	case domain.SideShort:
		lo, hi = entry/10, entry
		if lo < 1 {
			lo = 1
		}
	default:
		return LiquidationPriceResult{}, corerr.New(corerr.KindInvalidSide, "position.GetLiquidationPrice", map[string]any{"side": int8(pos.Side)})
	}

	marginAt := func(price int64) (int64, error) {
		_, marginBPS, err := GetLiquidationState(pos, price, c, collateralCustody)
		return marginBPS, err
	}

	target := c.Pricing.MinCollateralBPS + c.Pricing.LiquidationFeeBPS

	loMargin, err := marginAt(lo)
	if err != nil {
		return LiquidationPriceResult{}, err
	}
	hiMargin, err := marginAt(hi)
	if err != nil {
		return LiquidationPriceResult{}, err
	}

	// For longs, margin increases with price (loss shrinks as price rises
	// toward and past entry); for shorts, margin decreases with price. Both
	// reduce to "margin is monotone increasing in (lo->hi) direction that
	// moves price away from the loss-maximizing bound", so the same
	// bisection shape works for both sides given the brackets above.
	increasing := pos.Side == domain.SideLong

	if !straddlesTarget(loMargin, hiMargin, target, increasing) {
		// No liquidation price exists in the bracket (e.g. collateral so far
		// above the fee threshold the position can never be liquidated within
		// the 10x/0.1x band) — report the boundary closest to target, flagged
		// approximate.
		if increasing {
			if loMargin <= target {
				return LiquidationPriceResult{PriceScaled: lo, Approximate: true}, nil
			}
			return LiquidationPriceResult{PriceScaled: hi, Approximate: true}, nil
		}
		if hiMargin <= target {
			return LiquidationPriceResult{PriceScaled: hi, Approximate: true}, nil
		}
		return LiquidationPriceResult{PriceScaled: lo, Approximate: true}, nil
	}

	for i := 0; i < bisectionMaxIterations; i++ {
		if hi-lo <= bisectionToleranceScaled {
			break
		}
		mid := lo + (hi-lo)/2
		midMargin, err := marginAt(mid)
		if err != nil {
			return LiquidationPriceResult{}, err
		}

		// margin(price) is monotone in the direction `increasing` points;
		// when mid sits on the healthy side of target (same side as the
		// direction of travel), the root is still between lo and mid, so
		// hi contracts to mid; otherwise lo contracts to mid.
		midAboveTarget := midMargin >= target
		if midAboveTarget == increasing {
			hi = mid
		} else {
			lo = mid
		}
	}

	approximate := hi-lo > bisectionToleranceScaled
	return LiquidationPriceResult{PriceScaled: lo, Approximate: approximate}, nil
}

func straddlesTarget(loMargin, hiMargin, target int64, increasing bool) bool {
	if increasing {
		return loMargin <= target && hiMargin >= target
	}
	return loMargin >= target && hiMargin <= target
}
