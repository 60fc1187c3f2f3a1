package event

import (
	"fmt"

	"github.com/google/uuid"
)

// LiquidityAdded records a deposit minting LP tokens into a pool (spec
// Supplemented features: add_liquidity).
type LiquidityAdded struct {
	Pool         uuid.UUID
	Custody      uuid.UUID
	AmountTokens int64
	FeeTokens    int64
	LPAmount     int64
	Sequence     int64
	Timestamp    int64
}

func (l *LiquidityAdded) IdempotencyKey() string {
	return fmt.Sprintf("%s:add_liquidity:%d", l.Custody, l.Sequence)
}

func (l *LiquidityAdded) EventType() EventType {
	return EventTypeLiquidityAdded
}

func (l *LiquidityAdded) PoolID() *string {
	s := l.Pool.String()
	return &s
}

func (l *LiquidityAdded) SourceSequence() int64 {
	return l.Sequence
}

// LiquidityRemoved records an LP-token burn paying out a pro-rata share of
// custody tokens (spec Supplemented features: remove_liquidity).
type LiquidityRemoved struct {
	Pool         uuid.UUID
	Custody      uuid.UUID
	AmountTokens int64
	FeeTokens    int64
	LPAmount     int64
	Sequence     int64
	Timestamp    int64
}

func (l *LiquidityRemoved) IdempotencyKey() string {
	return fmt.Sprintf("%s:remove_liquidity:%d", l.Custody, l.Sequence)
}

func (l *LiquidityRemoved) EventType() EventType {
	return EventTypeLiquidityRemoved
}

func (l *LiquidityRemoved) PoolID() *string {
	s := l.Pool.String()
	return &s
}

func (l *LiquidityRemoved) SourceSequence() int64 {
	return l.Sequence
}

// Swapped records a cross-custody token swap priced through USD at each
// side's own oracle quote (spec Supplemented features: get_swap_amount_and_fees).
type Swapped struct {
	Pool       uuid.UUID
	CustodyIn  uuid.UUID
	CustodyOut uuid.UUID
	AmountIn   int64
	AmountOut  int64
	FeeIn      int64
	FeeOut     int64
	Sequence   int64
	Timestamp  int64
}

func (s *Swapped) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:swap:%d", s.CustodyIn, s.CustodyOut, s.Sequence)
}

func (s *Swapped) EventType() EventType {
	return EventTypeSwapped
}

func (s *Swapped) PoolID() *string {
	p := s.Pool.String()
	return &p
}

func (s *Swapped) SourceSequence() int64 {
	return s.Sequence
}
