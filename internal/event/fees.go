package event

import (
	"fmt"

	"github.com/google/uuid"
)

// FeesWithdrawn records an admin.WithdrawFees sweep of a custody's accrued
// protocol fee balance. Scoped to the pool that owns the custody; the
// withdrawal destination is an admin-controlled treasury, not a trader.
type FeesWithdrawn struct {
	Custody   uuid.UUID
	Pool      uuid.UUID
	AmountUSD int64
	Sequence  int64
	Timestamp int64
}

func (f *FeesWithdrawn) IdempotencyKey() string {
	return fmt.Sprintf("%s:withdraw_fees:%d", f.Custody, f.Sequence)
}

func (f *FeesWithdrawn) EventType() EventType {
	return EventTypeFeesWithdrawn
}

func (f *FeesWithdrawn) PoolID() *string {
	s := f.Pool.String()
	return &s
}

func (f *FeesWithdrawn) SourceSequence() int64 {
	return f.Sequence
}
