package query

import "github.com/google/uuid"

// PositionMarginInfo contains derived margin metrics for a single position,
// computed at query time against the latest oracle price rather than stored
// as a ledger balance.
type PositionMarginInfo struct {
	PositionID uuid.UUID `json:"position_id"`

	MarginFractionBPS int64  `json:"margin_fraction_bps"`
	LiquidationState  int32  `json:"liquidation_state"` // position.LiquidationState
	UnrealizedPnLUSD  int64  `json:"unrealized_pnl_usd"`
	EffectiveEquity   int64  `json:"effective_equity_usd"` // collateral_usd + unrealized_pnl_usd

	AsOfSequence int64 `json:"as_of_sequence"`
}

// PoolAggregateInfo reports custody-aggregated liquidity for a pool.
type PoolAggregateInfo struct {
	PoolID uuid.UUID `json:"pool_id"`

	TotalOwnedLiquidity  int64 `json:"total_owned_liquidity_usd"`
	TotalLockedLiquidity int64 `json:"total_locked_liquidity_usd"`
	TotalOpenInterest    int64 `json:"total_open_interest_usd"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
