package event

import (
	"fmt"

	"github.com/google/uuid"
)

// BorrowRateUpdated records a recomputation of a custody's kinked
// utilization borrow curve (custody.UpdateBorrowRate).
type BorrowRateUpdated struct {
	Custody         uuid.UUID
	Pool            uuid.UUID
	UtilizationBPS  int64
	NewRateBPS      int64
	CumulativeAfter int64
	Sequence        int64
	Timestamp       int64
}

func (b *BorrowRateUpdated) IdempotencyKey() string {
	return fmt.Sprintf("%s:borrow_rate:%d", b.Custody, b.Sequence)
}

func (b *BorrowRateUpdated) EventType() EventType {
	return EventTypeBorrowRateUpdated
}

func (b *BorrowRateUpdated) PoolID() *string {
	s := b.Pool.String()
	return &s
}

func (b *BorrowRateUpdated) SourceSequence() int64 {
	return b.Sequence
}
