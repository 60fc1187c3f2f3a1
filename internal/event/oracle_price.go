package event

import (
	"fmt"

	"github.com/google/uuid"
)

// OraclePriceUpdated represents a price publish into the oracle store,
// either a genuine feed update or a permissioned custom-oracle write.
type OraclePriceUpdated struct {
	Custody        uuid.UUID
	Pool           uuid.UUID
	PriceScaled    int64
	ConfidenceBPS  int64
	PublishSeq     int64
	PublishTime    int64
	UsedEMAFallback bool
}

func (m *OraclePriceUpdated) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", m.Custody, m.PublishSeq)
}

func (m *OraclePriceUpdated) EventType() EventType {
	return EventTypeOraclePriceUpdated
}

func (m *OraclePriceUpdated) PoolID() *string {
	s := m.Pool.String()
	return &s
}

func (m *OraclePriceUpdated) SourceSequence() int64 {
	return m.PublishSeq
}
