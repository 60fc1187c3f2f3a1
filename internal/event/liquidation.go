package event

import (
	"fmt"

	"github.com/google/uuid"
)

// PositionLiquidated records a forced close of a position whose liquidation
// state is CanBeLiquidated or MustBeLiquidated (position.LiquidationState).
type PositionLiquidated struct {
	PositionID uuid.UUID
	Pool       uuid.UUID
	Owner      uuid.UUID
	Custody    uuid.UUID
	ExitPrice  int64
	ProfitUSD  int64
	LossUSD    int64
	FeeUSD     int64
	Sequence   int64
	Timestamp  int64
}

func (l *PositionLiquidated) IdempotencyKey() string {
	return fmt.Sprintf("%s:liquidate", l.PositionID)
}

func (l *PositionLiquidated) EventType() EventType {
	return EventTypePositionLiquidated
}

func (l *PositionLiquidated) PoolID() *string {
	s := l.Pool.String()
	return &s
}

func (l *PositionLiquidated) SourceSequence() int64 {
	return l.Sequence
}
