package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker guards against re-applying an opgateway
// operation's event twice — e.g. a retried close_position after a
// persistence-worker timeout whose write actually succeeded. It checks
// event_log.events directly rather than keeping its own in-memory LRU, so
// it stays correct across process restarts.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db: db,
	}
}

// IsDuplicate reports whether idempotencyKey has already been recorded for
// eventType in event_log.events (e.g. event.PositionClosed's
// "<position_id>:close" form). The events table's UNIQUE
// constraint on idempotency_key, laid down by migrations/000001_event_log,
// is the actual enforcement point — this read lets the gateway short-circuit
// a retried operation before it re-runs settlement math.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
		SELECT 1
		FROM event_log.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`

	var exists int
	err := pic.db.QueryRowContext(ctx, query, eventType, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
