// Package domain holds the Data Model entities (spec ยง3): Perpetuals,
// Multisig, Pool, Custody, PricingParams, and BorrowRateState. Positions
// reference these by stable uuid.UUID identity, never by pointer, following
// the teacher's ledger.AccountKey discipline ("persistent keyed records",
// not an on-chain account graph).
package domain

import (
	"time"

	"PowerPerps/internal/corerr"

	"github.com/google/uuid"
)

// ErrInvalidConfig is returned by Validate methods on malformed entity
// configuration (spec ยง7 Validation kind InvalidConfig).
var ErrInvalidConfig = corerr.New(corerr.KindInvalidConfig, "domain.Validate", nil)

// MaxAdmins bounds the multisig signer set (spec ยง3 Multisig).
const MaxAdmins = 6

// MaxCustodies bounds a pool's custody list (spec ยง3 Pool).
const MaxCustodies = 8

// Side is the direction of a position.
type Side int8

const (
	SideNone Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "none"
	}
}

// OracleType tags which oracle variant a custody reads from (spec ยง4.2).
type OracleType int8

const (
	OracleTypeNone OracleType = iota
	OracleTypeCustom
	OracleTypePyth
)

// OracleConfig is the per-custody oracle configuration.
type OracleConfig struct {
	OracleAccount   uuid.UUID
	OracleType      OracleType
	OracleAuthority uuid.UUID // permissionless custom-price signer, see SPEC_FULL ยง Supplemented
	MaxPriceErrorBPS int64
	MaxPriceAgeSec  int64
}

// FeesMode selects the fee curve a custody uses for liquidity ops. Position
// open/close/liquidation fees are always flat bps (see SPEC_FULL's Open
// Question #1 resolution); FeesMode only matters for the supplemented
// liquidity/swap module.
type FeesMode int8

const (
	FeesModeFixed FeesMode = iota
	FeesModeLinear
	FeesModeOptimal
)

// AssetRatio is a custody's configured target weighting within pool AUM,
// enforced by pool.CheckTokenRatio on every liquidity-changing operation
// (SPEC_FULL Supplemented features: AUM recomputation / TokenRatios,
// grounded on pool.rs's `ratios` field). MaxBPS of zero means no band is
// configured and the check is skipped.
type AssetRatio struct {
	TargetBPS int64
	MinBPS    int64
	MaxBPS    int64
}

// Fees holds every fee rate a custody charges, in basis points.
type Fees struct {
	Mode            FeesMode
	OpenPosition    int64 // bps, flat
	ClosePosition   int64 // bps, flat
	Liquidation     int64 // bps, flat
	SwapIn          int64
	SwapOut         int64
	AddLiquidity    int64
	RemoveLiquidity int64
	FeeMax          int64 // for Linear/Optimal liquidity fee curves
	FeeOptimal      int64
}

// PricingParams are the per-custody pricing and leverage configuration
// (spec ยง3 PricingParams).
type PricingParams struct {
	UseEMA              bool
	TradeSpreadLongBPS  int64
	TradeSpreadShortBPS int64
	SwapSpreadBPS       int64
	MinInitialLeverageBPS int64
	MaxInitialLeverageBPS int64
	MaxLeverageBPS        int64
	MaxPayoffMultBPS      int64
	LiquidationFeeBPS     int64
	MinCollateralBPS      int64
	MaxConfidenceBPS      int64
}

// Validate enforces spec ยง3's PricingParams invariants.
func (p PricingParams) Validate() error {
	if p.MinInitialLeverageBPS < 0 || p.MaxInitialLeverageBPS < 0 || p.MaxLeverageBPS < 0 || p.MaxPayoffMultBPS < 0 {
		return ErrInvalidConfig
	}
	if p.MinInitialLeverageBPS > p.MaxInitialLeverageBPS || p.MaxInitialLeverageBPS > p.MaxLeverageBPS {
		return ErrInvalidConfig
	}
	return nil
}

// BorrowRateState is the kinked-utilization borrow-rate accumulator (spec
// ยง3 BorrowRateState, ยง4.4 update_borrow_rate).
type BorrowRateState struct {
	BaseRateBPS          int64
	Slope1BPS            int64
	Slope2BPS            int64
	OptimalUtilizationBPS int64
	CurrentRateBPS       int64
	CumulativeInterest   int64 // scaled accumulator, monotone non-decreasing
	LastUpdate           time.Time
}

// AssetBalances mirrors spec ยง3 Custody's assets{collateral, protocol_fees,
// owned, locked}.
type AssetBalances struct {
	Owned         int64
	Collateral    int64
	ProtocolFees  int64
	Locked        int64
}

// SideStats aggregates per-side open interest and realized PnL (spec ยง4.4
// record_open/record_close, ยง8 invariant #4).
type SideStats struct {
	OpenInterestUSD int64
	PositionCount   int64
	RealizedPnLUSD  int64
}

// Custody is the per-asset configuration and counters (spec ยง3 Custody).
type Custody struct {
	ID              uuid.UUID
	PoolID          uuid.UUID
	TokenMint       uuid.UUID
	Decimals        int
	IsStable        bool
	Oracle          OracleConfig
	Pricing         PricingParams
	Fees            Fees
	BorrowRate      BorrowRateState
	Permissions     TradingPermissions
	Assets          AssetBalances
	Ratio           AssetRatio
	LongStats       SideStats
	ShortStats      SideStats
}

// TradingPermissions gates per-custody trading operations (spec ยง4.7,
// generalized to per-custody since the original exposes per-custody
// allow flags too — see pool.rs's Custody.permissions reference).
type TradingPermissions struct {
	AllowOpenPosition        bool
	AllowClosePosition       bool
	AllowPnLWithdrawal       bool
	AllowCollateralWithdrawal bool
	AllowSizeChange          bool
	AllowLiquidatePosition   bool
	AllowSwap                bool
	AllowAddLiquidity        bool
	AllowRemoveLiquidity     bool
}

// Pool aggregates custodies and LP accounting (spec ยง3 Pool).
type Pool struct {
	ID              uuid.UUID
	Name            string
	CreationTime    time.Time
	LPTokenMint     uuid.UUID
	LPSupply        int64
	CustodyIDs      []uuid.UUID
	AUMUSDCache     int64
	InceptionTime   time.Time
}

// Perpetuals is the global singleton (spec ยง3 Perpetuals).
type Perpetuals struct {
	Permissions           GlobalPermissions
	PoolIDs               []uuid.UUID
	TransferAuthorityID    uuid.UUID
	InceptionTime          time.Time
}

// GlobalPermissions are the protocol-wide trading gates (spec ยง4.7).
type GlobalPermissions struct {
	AllowSwap                bool
	AllowAddLiquidity        bool
	AllowRemoveLiquidity     bool
	AllowOpenPosition        bool
	AllowClosePosition       bool
	AllowPnLWithdrawal       bool
	AllowCollateralWithdrawal bool
	AllowSizeChange          bool
	AllowLiquidatePosition   bool
}

// Multisig is the M-of-N admin authorization gate (spec ยง3 Multisig, ยง4.7).
type Multisig struct {
	Signers           []uuid.UUID // ordered admin identity list
	MinSignatures     int
	PendingHash       [32]byte // instruction-accumulator buffer
	PendingSignedBy   map[uuid.UUID]bool
}

// Validate enforces `1 <= min_signatures <= len(signers) <= MaxAdmins`.
func (m Multisig) Validate() error {
	if len(m.Signers) == 0 || len(m.Signers) > MaxAdmins {
		return ErrInvalidConfig
	}
	if m.MinSignatures < 1 || m.MinSignatures > len(m.Signers) {
		return ErrInvalidConfig
	}
	return nil
}
