package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry.
type JournalType int32

const (
	JournalTypeCollateralDeposit JournalType = iota
	JournalTypeCollateralRelease
	JournalTypeLockLiquidity
	JournalTypeUnlockLiquidity
	JournalTypePositionOpenFee
	JournalTypePositionCloseFee
	JournalTypeLiquidationFee
	JournalTypeRealizedProfit
	JournalTypeRealizedLoss
	JournalTypeBorrowInterest
	JournalTypeFeeWithdrawal
	JournalTypeAdjustment
	JournalTypeLiquidityDeposit
	JournalTypeLiquidityWithdrawal
	JournalTypeLiquidityFee
	JournalTypeSwapIn
	JournalTypeSwapOut
	JournalTypeSwapFee
)

// Journal represents a single double-entry journal entry.
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of the source opgateway operation
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Amount        int64       // USD-scaled amount, ALWAYS positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries produced by one
// opgateway operation (e.g. ClosePosition posts a release-collateral leg,
// a realized-pnl leg, and a fee leg under one batch id).
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal entry is a
// balanced transfer by construction (a single positive amount moves from
// credit account to debit account), so a multi-leg batch is balanced as
// long as every leg individually is.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
