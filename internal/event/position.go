package event

import (
	"fmt"

	"PowerPerps/internal/domain"

	"github.com/google/uuid"
)

// PositionOpened is emitted once per successful opgateway.OpenPosition call.
// Idempotency key is the position id, which the gateway assigns before the
// event is recorded, so replays of the same open never double-lock collateral.
type PositionOpened struct {
	PositionID          uuid.UUID
	Pool                uuid.UUID
	Owner               uuid.UUID
	Custody             uuid.UUID
	CollateralCustody   uuid.UUID
	Side                domain.Side
	Power               int
	EntryPrice          int64
	SizeUSD             int64
	CollateralUSD       int64
	Sequence            int64
	Timestamp           int64
}

func (p *PositionOpened) IdempotencyKey() string {
	return fmt.Sprintf("%s:open", p.PositionID)
}

func (p *PositionOpened) EventType() EventType {
	return EventTypePositionOpened
}

func (p *PositionOpened) PoolID() *string {
	s := p.Pool.String()
	return &s
}

func (p *PositionOpened) SourceSequence() int64 {
	return p.Sequence
}

// PositionClosed is emitted once per successful voluntary close. Liquidations
// use PositionLiquidated instead, even though the settlement shape is the same,
// because the two differ in fee schedule and in who may trigger them.
type PositionClosed struct {
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

func (p *PositionClosed) IdempotencyKey() string {
	return fmt.Sprintf("%s:close", p.PositionID)
}

func (p *PositionClosed) EventType() EventType {
	return EventTypePositionClosed
}

func (p *PositionClosed) PoolID() *string {
	s := p.Pool.String()
	return &s
}

func (p *PositionClosed) SourceSequence() int64 {
	return p.Sequence
}
