package event

import (
	"fmt"

	"github.com/google/uuid"
)

// RiskParamUpdated records a change to a custody's pricing/leverage table
// (domain.PricingParams) applied through the multisig gate.
type RiskParamUpdated struct {
	Custody               uuid.UUID
	Pool                  uuid.UUID
	MinInitialLeverageBPS int64
	MaxInitialLeverageBPS int64
	MaxLeverageBPS        int64
	MaxPayoffMultBPS      int64
	EffectiveSeq          int64
	Sequence              int64
	Timestamp             int64
}

func (r *RiskParamUpdated) IdempotencyKey() string {
	return fmt.Sprintf("risk_param:%s:%d", r.Custody, r.EffectiveSeq)
}

func (r *RiskParamUpdated) EventType() EventType {
	return EventTypeRiskParamUpdated
}

func (r *RiskParamUpdated) PoolID() *string {
	s := r.Pool.String()
	return &s
}

func (r *RiskParamUpdated) SourceSequence() int64 {
	return r.Sequence
}
