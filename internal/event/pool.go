package event

import (
	"fmt"

	"github.com/google/uuid"
)

// PoolCreated records the admin-gated creation of a new liquidity pool.
type PoolCreated struct {
	Pool      uuid.UUID
	Name      string
	Sequence  int64
	Timestamp int64
}

func (p *PoolCreated) IdempotencyKey() string {
	return fmt.Sprintf("pool:%s:create", p.Pool)
}

func (p *PoolCreated) EventType() EventType {
	return EventTypePoolCreated
}

func (p *PoolCreated) PoolID() *string {
	s := p.Pool.String()
	return &s
}

func (p *PoolCreated) SourceSequence() int64 {
	return p.Sequence
}

// CustodyAdded records a new custody (single-asset liquidity account)
// being registered with a pool.
type CustodyAdded struct {
	Pool      uuid.UUID
	Custody   uuid.UUID
	Sequence  int64
	Timestamp int64
}

func (c *CustodyAdded) IdempotencyKey() string {
	return fmt.Sprintf("custody:%s:add", c.Custody)
}

func (c *CustodyAdded) EventType() EventType {
	return EventTypeCustodyAdded
}

func (c *CustodyAdded) PoolID() *string {
	s := c.Pool.String()
	return &s
}

func (c *CustodyAdded) SourceSequence() int64 {
	return c.Sequence
}
