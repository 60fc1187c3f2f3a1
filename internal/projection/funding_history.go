package projection

import (
	"github.com/google/uuid"
)

// BorrowRateHistoryEntry records one borrow-rate recomputation for a custody.
type BorrowRateHistoryEntry struct {
	CustodyID       uuid.UUID
	PoolID          uuid.UUID
	UtilizationBPS  int64
	NewRateBPS      int64
	CumulativeAfter int64
	JournalID       string
	Sequence        int64
	Timestamp       int64
}

// BorrowRateHistoryProjection maintains an in-memory queryable borrow-rate
// history, mirroring projections.borrow_rate_history before it's flushed
// to Postgres by the persistence worker.
type BorrowRateHistoryProjection struct {
	entries []BorrowRateHistoryEntry
}

func NewBorrowRateHistoryProjection() *BorrowRateHistoryProjection {
	return &BorrowRateHistoryProjection{
		entries: make([]BorrowRateHistoryEntry, 0),
	}
}

// AddEntry records a borrow-rate recomputation.
func (p *BorrowRateHistoryProjection) AddEntry(entry BorrowRateHistoryEntry) {
	p.entries = append(p.entries, entry)
}

// QueryByCustody returns the most recent borrow-rate history for a custody.
func (p *BorrowRateHistoryProjection) QueryByCustody(custodyID uuid.UUID, limit int) []BorrowRateHistoryEntry {
	result := make([]BorrowRateHistoryEntry, 0)

	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].CustodyID == custodyID {
			result = append(result, p.entries[i])
		}
	}

	return result
}
