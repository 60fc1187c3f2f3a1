package ledger

import (
	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants against the journal-derived
// balance tracker, independent of the in-memory domain state.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{tracker: tracker}
}

// ValidateBatchBalance verifies a batch is internally balanced.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidatePositionCollateralNonNegative checks a position's ledger
// collateral balance never went negative.
func (v *InvariantValidator) ValidatePositionCollateralNonNegative(positionID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(NewPositionAccountKey(positionID, SubTypeCollateral))
}

// ValidateCustodyOwnedNonNegative checks a custody's ledger owned balance
// never went negative.
func (v *InvariantValidator) ValidateCustodyOwnedNonNegative(custodyID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(NewCustodyAccountKey(custodyID, SubTypeOwned))
}

// ValidateLockInvariant re-checks custody.Lock's invariant against the
// ledger's independently-derived balances.
func (v *InvariantValidator) ValidateLockInvariant(custodyID uuid.UUID) error {
	return v.tracker.ValidateLockNeverExceedsOwned(custodyID)
}
