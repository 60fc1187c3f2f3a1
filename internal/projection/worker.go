package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// GatewayOutput mirrors the data a projection worker needs from one opgateway
// operation. Payload is the same JSON-encoded event the event log stores;
// carrying it lets the worker rebuild entity-shaped projections (positions,
// custodies, liquidation history) without a second round trip to Postgres.
type GatewayOutput struct {
	Sequence       int64
	EventType      string
	PoolID         *string
	Payload        []byte
	JournalEntries []JournalEntry
	Timestamp      int64
}

// JournalEntry is a simplified journal leg for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events. The
// projection channel is non-blocking with drop — if projections fall behind,
// they can be rebuilt from the event log via RebuildProjections.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan GatewayOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan GatewayOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output GatewayOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
		if err := pw.updateCustodyLiquidity(ctx, tx, j, output.PoolID); err != nil {
			return fmt.Errorf("custody liquidity projection: %w", err)
		}
	}

	if err := pw.updateEntityProjection(ctx, tx, output); err != nil {
		return fmt.Errorf("entity projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, -$2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $2, last_sequence = $3
	`, j.DebitAccount, j.Amount, pw.lastSeq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2, last_sequence = $3
	`, j.CreditAccount, j.Amount, pw.lastSeq); err != nil {
		return err
	}

	return nil
}

// updateCustodyLiquidity buckets journal legs touching a custody's
// owned/locked/protocol_fees sub-accounts (see ledger.AccountKey) into
// projections.custodies, keeping the per-custody liquidity aggregate in
// sync with the double-entry ledger without re-deriving it from domain
// state.
func (pw *ProjectionWorker) updateCustodyLiquidity(ctx context.Context, tx *sql.Tx, j JournalEntry, poolID *string) error {
	if err := pw.applyCustodyLeg(ctx, tx, j.DebitAccount, j.Amount, poolID); err != nil {
		return err
	}
	return pw.applyCustodyLeg(ctx, tx, j.CreditAccount, -j.Amount, poolID)
}

func (pw *ProjectionWorker) applyCustodyLeg(ctx context.Context, tx *sql.Tx, accountPath string, delta int64, poolID *string) error {
	custodyID, column, ok := parseCustodyAccountPath(accountPath)
	if !ok {
		return nil
	}

	pool := ""
	if poolID != nil {
		pool = *poolID
	}

	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO projections.custodies (custody_id, pool_id, %s)
		VALUES ($1, $2, $3)
		ON CONFLICT (custody_id)
		DO UPDATE SET %s = projections.custodies.%s + $3
	`, column, column, column), custodyID, pool, delta)
	return err
}

// parseCustodyAccountPath maps a ledger.AccountKey.AccountPath() of the form
// "custody:<id>:owned|locked|protocol_fees" to a custody id and the
// projections.custodies column it feeds. Position and treasury paths return
// ok=false.
func parseCustodyAccountPath(path string) (custodyID, column string, ok bool) {
	parts := strings.SplitN(path, ":", 3)
	if len(parts) != 3 || parts[0] != "custody" {
		return "", "", false
	}
	switch parts[2] {
	case "owned":
		return parts[1], "owned_liquidity_usd", true
	case "locked":
		return parts[1], "locked_liquidity_usd", true
	case "protocol_fees":
		return parts[1], "protocol_fees_usd", true
	default:
		return "", "", false
	}
}

// updateEntityProjection rebuilds the entity-shaped rows (open positions,
// liquidation history) that the balance ledger alone can't express, by
// decoding the same JSON payload written to event_log.events.
func (pw *ProjectionWorker) updateEntityProjection(ctx context.Context, tx *sql.Tx, output GatewayOutput) error {
	if len(output.Payload) == 0 {
		return nil
	}

	switch output.EventType {
	case "CustodyAdded":
		var c struct {
			Pool    string `json:"Pool"`
			Custody string `json:"Custody"`
		}
		if err := json.Unmarshal(output.Payload, &c); err != nil {
			return fmt.Errorf("decode CustodyAdded: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.custodies (custody_id, pool_id)
			VALUES ($1, $2)
			ON CONFLICT (custody_id) DO NOTHING
		`, c.Custody, c.Pool)
		return err

	case "PositionOpened":
		var p struct {
			PositionID        string `json:"PositionID"`
			Pool              string `json:"Pool"`
			Owner             string `json:"Owner"`
			Custody           string `json:"Custody"`
			CollateralCustody string `json:"CollateralCustody"`
			Side              int32  `json:"Side"`
			Power             int    `json:"Power"`
			EntryPrice        int64  `json:"EntryPrice"`
			SizeUSD           int64  `json:"SizeUSD"`
			CollateralUSD     int64  `json:"CollateralUSD"`
			Timestamp         int64  `json:"Timestamp"`
		}
		if err := json.Unmarshal(output.Payload, &p); err != nil {
			return fmt.Errorf("decode PositionOpened: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(position_id, pool_id, owner, custody_id, collateral_custody_id,
				 side, power, size_usd, collateral_usd, entry_price, entry_borrow_cumulative, opened_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)
			ON CONFLICT (position_id) DO NOTHING
		`, p.PositionID, p.Pool, p.Owner, p.Custody, p.CollateralCustody,
			p.Side, p.Power, p.SizeUSD, p.CollateralUSD, p.EntryPrice, p.Timestamp)
		return err

	case "PositionClosed":
		var p struct {
			PositionID string `json:"PositionID"`
		}
		if err := json.Unmarshal(output.Payload, &p); err != nil {
			return fmt.Errorf("decode PositionClosed: %w", err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM projections.positions WHERE position_id = $1`, p.PositionID)
		return err

	case "PositionLiquidated":
		var p struct {
			PositionID string `json:"PositionID"`
			Pool       string `json:"Pool"`
			Owner      string `json:"Owner"`
			Custody    string `json:"Custody"`
			ExitPrice  int64  `json:"ExitPrice"`
			ProfitUSD  int64  `json:"ProfitUSD"`
			LossUSD    int64  `json:"LossUSD"`
			FeeUSD     int64  `json:"FeeUSD"`
			Timestamp  int64  `json:"Timestamp"`
		}
		if err := json.Unmarshal(output.Payload, &p); err != nil {
			return fmt.Errorf("decode PositionLiquidated: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM projections.positions WHERE position_id = $1`, p.PositionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidation_history
				(position_id, pool_id, owner, custody_id, exit_price, profit_usd, loss_usd, fee_usd, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, p.PositionID, p.Pool, p.Owner, p.Custody, p.ExitPrice, p.ProfitUSD, p.LossUSD, p.FeeUSD, p.Timestamp)
		return err

	case "BorrowRateUpdated":
		var b struct {
			Custody         string `json:"Custody"`
			UtilizationBPS  int64  `json:"UtilizationBPS"`
			NewRateBPS      int64  `json:"NewRateBPS"`
			CumulativeAfter int64  `json:"CumulativeAfter"`
			Sequence        int64  `json:"Sequence"`
			Timestamp       int64  `json:"Timestamp"`
		}
		if err := json.Unmarshal(output.Payload, &b); err != nil {
			return fmt.Errorf("decode BorrowRateUpdated: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.custodies
			SET utilization_bps = $2, current_rate_bps = $3, cumulative_interest = $4
			WHERE custody_id = $1
		`, b.Custody, b.UtilizationBPS, b.NewRateBPS, b.CumulativeAfter); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.borrow_rate_history
				(custody_id, utilization_bps, new_rate_bps, cumulative_after, sequence, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, b.Custody, b.UtilizationBPS, b.NewRateBPS, b.CumulativeAfter, b.Sequence, b.Timestamp)
		return err
	}

	return nil
}

// CreateProjectionSchema is deprecated — use Migrator.Up() with migrations/*.sql instead.
// Kept as a no-op for backward compatibility during transition.
func CreateProjectionSchema(ctx context.Context, db *sql.DB) error {
	return nil
}

// RebuildProjections rebuilds all projection tables from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.custodies`,
		`TRUNCATE projections.borrow_rate_history`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	if err := rebuildEntityProjections(ctx, db); err != nil {
		return fmt.Errorf("rebuild entity projections: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}

// rebuildEntityProjections replays event_log.events in order through the
// same decode path updateEntityProjection uses, reconstructing open
// positions, liquidation history and custody liquidity from the log.
func rebuildEntityProjections(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, pool_id, payload
		FROM event_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	worker := &ProjectionWorker{db: db}

	for rows.Next() {
		var seq int64
		var eventType string
		var poolID sql.NullString
		var payload []byte
		if err := rows.Scan(&seq, &eventType, &poolID, &payload); err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		output := GatewayOutput{Sequence: seq, EventType: eventType, Payload: payload}
		if poolID.Valid {
			output.PoolID = &poolID.String
		}

		journalRows, err := db.QueryContext(ctx, `
			SELECT debit_account, credit_account, amount, journal_type
			FROM event_log.journal WHERE sequence = $1
		`, seq)
		if err != nil {
			tx.Rollback()
			return err
		}
		for journalRows.Next() {
			var j JournalEntry
			if err := journalRows.Scan(&j.DebitAccount, &j.CreditAccount, &j.Amount, &j.JournalType); err != nil {
				journalRows.Close()
				tx.Rollback()
				return err
			}
			output.JournalEntries = append(output.JournalEntries, j)
		}
		journalRows.Close()

		for _, j := range output.JournalEntries {
			if err := worker.updateCustodyLiquidity(ctx, tx, j, output.PoolID); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := worker.updateEntityProjection(ctx, tx, output); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return rows.Err()
}
