package query

import (
	"context"
	"database/sql"
	"fmt"

	"PowerPerps/internal/persistence"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables, served over
// HTTP/JSON by internal/httpapi. Every response carries as_of_sequence so
// callers can reason about freshness against the projection's watermark.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPosition returns a single open position by id.
func (qs *QueryService) GetPosition(ctx context.Context, positionID uuid.UUID) (*PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var p PositionResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT position_id, pool_id, owner, custody_id, collateral_custody_id,
		       side, power, size_usd, collateral_usd, entry_price,
		       entry_borrow_cumulative, opened_at
		FROM projections.positions
		WHERE position_id = $1
	`, positionID).Scan(
		&p.PositionID, &p.Pool, &p.Owner, &p.Custody, &p.CollateralCustody,
		&p.Side, &p.Power, &p.SizeUSD, &p.CollateralUSD, &p.EntryPrice,
		&p.EntryBorrowCumul, &p.OpenedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.AsOfSequence = asOfSeq
	return &p, nil
}

// GetPositionsByOwner returns all open positions for an owner.
func (qs *QueryService) GetPositionsByOwner(ctx context.Context, owner uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, pool_id, owner, custody_id, collateral_custody_id,
		       side, power, size_usd, collateral_usd, entry_price,
		       entry_borrow_cumulative, opened_at
		FROM projections.positions
		WHERE owner = $1
		ORDER BY opened_at DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PositionID, &p.Pool, &p.Owner, &p.Custody, &p.CollateralCustody,
			&p.Side, &p.Power, &p.SizeUSD, &p.CollateralUSD, &p.EntryPrice,
			&p.EntryBorrowCumul, &p.OpenedAt,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetCustody returns a custody's liquidity and borrow-rate projection.
func (qs *QueryService) GetCustody(ctx context.Context, custodyID uuid.UUID) (*CustodyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var c CustodyResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT custody_id, pool_id, owned_liquidity_usd, locked_liquidity_usd,
		       protocol_fees_usd, utilization_bps, current_rate_bps, cumulative_interest
		FROM projections.custodies
		WHERE custody_id = $1
	`, custodyID).Scan(
		&c.CustodyID, &c.Pool, &c.OwnedLiquidity, &c.LockedLiquidity,
		&c.ProtocolFees, &c.UtilizationBPS, &c.CurrentRateBPS, &c.CumulativeInterest,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.AsOfSequence = asOfSeq
	return &c, nil
}

// GetBorrowRateHistory returns borrow rate recomputations for a custody,
// newest first, with cursor pagination on sequence.
func (qs *QueryService) GetBorrowRateHistory(
	ctx context.Context,
	custodyID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]BorrowRateHistoryEntry, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT custody_id, utilization_bps, new_rate_bps, cumulative_after, sequence, timestamp
		FROM projections.borrow_rate_history
		WHERE custody_id = $1
	`
	args := []interface{}{custodyID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []BorrowRateHistoryEntry
	for rows.Next() {
		var h BorrowRateHistoryEntry
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.CustodyID, &h.UtilizationBPS, &h.NewRateBPS, &h.CumulativeAfter,
			&h.Sequence, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetLiquidationHistory returns completed liquidations for a pool, newest first.
func (qs *QueryService) GetLiquidationHistory(ctx context.Context, poolID uuid.UUID, limit int) ([]LiquidationResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, pool_id, owner, custody_id, exit_price, profit_usd, loss_usd, fee_usd, timestamp
		FROM projections.liquidation_history
		WHERE pool_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, poolID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LiquidationResponse
	for rows.Next() {
		var r LiquidationResponse
		if err := rows.Scan(
			&r.PositionID, &r.Pool, &r.Owner, &r.Custody,
			&r.ExitPrice, &r.ProfitUSD, &r.LossUSD, &r.FeeUSD, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// GetJournalHistory returns journal entries touching a custody or position
// account, with cursor pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account = $1 OR credit_account = $1
	`
	args := []interface{}{accountPath}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the lock-never-exceeds-owned
// invariant across all custody accounts.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	// Locked liquidity may never exceed owned liquidity net of protocol fees,
	// per ledger.ValidateLockNeverExceedsOwned.
	custodyRows, err := qs.db.QueryContext(ctx, `
		SELECT custody_id, owned_liquidity_usd - protocol_fees_usd - locked_liquidity_usd AS headroom
		FROM projections.custodies
		WHERE owned_liquidity_usd - protocol_fees_usd - locked_liquidity_usd < 0
	`)
	if err != nil {
		return nil, err
	}
	defer custodyRows.Close()

	for custodyRows.Next() {
		var custodyID string
		var headroom int64
		if err := custodyRows.Scan(&custodyID, &headroom); err != nil {
			return nil, err
		}
		report.UnbalancedScopes = append(report.UnbalancedScopes, UnbalancedScope{
			Scope:     custodyID,
			Imbalance: headroom,
		})
	}

	version, err := persistence.NewMigrator(qs.db, "").CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	report.SchemaVersion = version

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedScopes) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
