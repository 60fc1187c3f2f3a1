package query

import "github.com/google/uuid"

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	PositionID        uuid.UUID `json:"position_id"`
	Pool              uuid.UUID `json:"pool_id"`
	Owner             uuid.UUID `json:"owner"`
	Custody           uuid.UUID `json:"custody_id"`
	CollateralCustody uuid.UUID `json:"collateral_custody_id"`
	Side              int32     `json:"side"`
	Power             int32     `json:"power"`
	SizeUSD           int64     `json:"size_usd"`
	CollateralUSD     int64     `json:"collateral_usd"`
	EntryPrice        int64     `json:"entry_price"`
	EntryBorrowCumul  int64     `json:"entry_borrow_cumulative"`
	UnrealizedPnLUSD  int64     `json:"unrealized_pnl_usd"` // Derived at query time
	OpenedAt          int64     `json:"opened_at"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

// CustodyResponse represents a custody's liquidity and borrow-rate state.
type CustodyResponse struct {
	CustodyID          uuid.UUID `json:"custody_id"`
	Pool               uuid.UUID `json:"pool_id"`
	OwnedLiquidity     int64     `json:"owned_liquidity_usd"`
	LockedLiquidity    int64     `json:"locked_liquidity_usd"`
	ProtocolFees       int64     `json:"protocol_fees_usd"`
	UtilizationBPS     int64     `json:"utilization_bps"`
	CurrentRateBPS     int64     `json:"current_rate_bps"`
	CumulativeInterest int64     `json:"cumulative_interest"`
	AsOfSequence       int64     `json:"as_of_sequence"`
}

// BorrowRateHistoryEntry represents a borrow-rate recomputation for API queries.
type BorrowRateHistoryEntry struct {
	CustodyID       uuid.UUID `json:"custody_id"`
	UtilizationBPS  int64     `json:"utilization_bps"`
	NewRateBPS      int64     `json:"new_rate_bps"`
	CumulativeAfter int64     `json:"cumulative_after"`
	Sequence        int64     `json:"sequence"`
	Timestamp       int64     `json:"timestamp"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// LiquidationResponse represents a liquidation record for API queries.
type LiquidationResponse struct {
	PositionID uuid.UUID `json:"position_id"`
	Pool       uuid.UUID `json:"pool_id"`
	Owner      uuid.UUID `json:"owner"`
	Custody    uuid.UUID `json:"custody_id"`
	ExitPrice  int64     `json:"exit_price"`
	ProfitUSD  int64     `json:"profit_usd"`
	LossUSD    int64     `json:"loss_usd"`
	FeeUSD     int64     `json:"fee_usd"`
	Timestamp  int64     `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	SchemaVersion    string            `json:"schema_version"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedScopes []UnbalancedScope `json:"unbalanced_scopes,omitempty"`
}

// UnbalancedScope represents an account scope whose balances don't satisfy
// the lock-never-exceeds-owned invariant at query time.
type UnbalancedScope struct {
	Scope     string `json:"scope"`
	Imbalance int64  `json:"imbalance"`
}
