package ingestion

import (
	"encoding/json"
	"fmt"

	"PowerPerps/internal/domain"
	"PowerPerps/internal/event"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts
// raw NATS messages before they reach opgateway.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "OraclePriceUpdated":
		return parseOraclePriceUpdated(raw.Data)
	case "PoolCreated":
		return parsePoolCreated(raw.Data)
	case "CustodyAdded":
		return parseCustodyAdded(raw.Data)
	case "RiskParamUpdated":
		return parseRiskParamUpdated(raw.Data)
	case "FeesWithdrawn":
		return parseFeesWithdrawn(raw.Data)
	case "PositionOpened":
		return parsePositionOpened(raw.Data)
	case "PositionClosed":
		return parsePositionClosed(raw.Data)
	case "PositionLiquidated":
		return parsePositionLiquidated(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type oraclePriceJSON struct {
	Custody         string `json:"custody_id"`
	Pool            string `json:"pool_id"`
	PriceScaled     int64  `json:"price_scaled"`
	ConfidenceBPS   int64  `json:"confidence_bps"`
	PublishSeq      int64  `json:"publish_seq"`
	PublishTimeUs   int64  `json:"publish_time_us"`
	UsedEMAFallback bool   `json:"used_ema_fallback"`
}

func parseOraclePriceUpdated(data []byte) (*event.OraclePriceUpdated, error) {
	var j oraclePriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OraclePriceUpdated: %w", err)
	}
	custodyID, err := uuid.Parse(j.Custody)
	if err != nil {
		return nil, fmt.Errorf("parse custody_id: %w", err)
	}
	poolID, err := uuid.Parse(j.Pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	return &event.OraclePriceUpdated{
		Custody:         custodyID,
		Pool:            poolID,
		PriceScaled:     j.PriceScaled,
		ConfidenceBPS:   j.ConfidenceBPS,
		PublishSeq:      j.PublishSeq,
		PublishTime:     j.PublishTimeUs,
		UsedEMAFallback: j.UsedEMAFallback,
	}, nil
}

type poolCreatedJSON struct {
	Pool        string `json:"pool_id"`
	Name        string `json:"name"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePoolCreated(data []byte) (*event.PoolCreated, error) {
	var j poolCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolCreated: %w", err)
	}
	poolID, err := uuid.Parse(j.Pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	return &event.PoolCreated{Pool: poolID, Name: j.Name, Sequence: j.Sequence, Timestamp: j.TimestampUs}, nil
}

type custodyAddedJSON struct {
	Pool        string `json:"pool_id"`
	Custody     string `json:"custody_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCustodyAdded(data []byte) (*event.CustodyAdded, error) {
	var j custodyAddedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CustodyAdded: %w", err)
	}
	poolID, err := uuid.Parse(j.Pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	custodyID, err := uuid.Parse(j.Custody)
	if err != nil {
		return nil, fmt.Errorf("parse custody_id: %w", err)
	}
	return &event.CustodyAdded{Pool: poolID, Custody: custodyID, Sequence: j.Sequence, Timestamp: j.TimestampUs}, nil
}

type riskParamUpdatedJSON struct {
	Custody               string `json:"custody_id"`
	Pool                  string `json:"pool_id"`
	MinInitialLeverageBPS int64  `json:"min_initial_leverage_bps"`
	MaxInitialLeverageBPS int64  `json:"max_initial_leverage_bps"`
	MaxLeverageBPS        int64  `json:"max_leverage_bps"`
	MaxPayoffMultBPS      int64  `json:"max_payoff_mult_bps"`
	EffectiveSeq          int64  `json:"effective_seq"`
	Sequence              int64  `json:"sequence"`
	TimestampUs           int64  `json:"timestamp_us"`
}

func parseRiskParamUpdated(data []byte) (*event.RiskParamUpdated, error) {
	var j riskParamUpdatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RiskParamUpdated: %w", err)
	}
	custodyID, err := uuid.Parse(j.Custody)
	if err != nil {
		return nil, fmt.Errorf("parse custody_id: %w", err)
	}
	poolID, err := uuid.Parse(j.Pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	return &event.RiskParamUpdated{
		Custody:               custodyID,
		Pool:                  poolID,
		MinInitialLeverageBPS: j.MinInitialLeverageBPS,
		MaxInitialLeverageBPS: j.MaxInitialLeverageBPS,
		MaxLeverageBPS:        j.MaxLeverageBPS,
		MaxPayoffMultBPS:      j.MaxPayoffMultBPS,
		EffectiveSeq:          j.EffectiveSeq,
		Sequence:              j.Sequence,
		Timestamp:             j.TimestampUs,
	}, nil
}

type feesWithdrawnJSON struct {
	Custody     string `json:"custody_id"`
	Pool        string `json:"pool_id"`
	AmountUSD   int64  `json:"amount_usd"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFeesWithdrawn(data []byte) (*event.FeesWithdrawn, error) {
	var j feesWithdrawnJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FeesWithdrawn: %w", err)
	}
	custodyID, err := uuid.Parse(j.Custody)
	if err != nil {
		return nil, fmt.Errorf("parse custody_id: %w", err)
	}
	poolID, err := uuid.Parse(j.Pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	return &event.FeesWithdrawn{Custody: custodyID, Pool: poolID, AmountUSD: j.AmountUSD, Sequence: j.Sequence, Timestamp: j.TimestampUs}, nil
}

type positionOpenedJSON struct {
	PositionID        string `json:"position_id"`
	Pool              string `json:"pool_id"`
	Owner             string `json:"owner"`
	Custody           string `json:"custody_id"`
	CollateralCustody string `json:"collateral_custody_id"`
	Side              string `json:"side"` // "long" or "short"
	Power             int    `json:"power"`
	EntryPrice        int64  `json:"entry_price"`
	SizeUSD           int64  `json:"size_usd"`
	CollateralUSD     int64  `json:"collateral_usd"`
	Sequence          int64  `json:"sequence"`
	TimestampUs       int64  `json:"timestamp_us"`
}

func parsePositionOpened(data []byte) (*event.PositionOpened, error) {
	var j positionOpenedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionOpened: %w", err)
	}
	positionID, err := uuid.Parse(j.PositionID)
	if err != nil {
		return nil, fmt.Errorf("parse position_id: %w", err)
	}
	poolID, err := uuid.Parse(j.Pool)
	if err != nil {
		return nil, fmt.Errorf("parse pool_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	custodyID, err := uuid.Parse(j.Custody)
	if err != nil {
		return nil, fmt.Errorf("parse custody_id: %w", err)
	}
	collateralCustodyID, err := uuid.Parse(j.CollateralCustody)
	if err != nil {
		return nil, fmt.Errorf("parse collateral_custody_id: %w", err)
	}

	side := domain.SideLong
	if j.Side == "short" {
		side = domain.SideShort
	}

	return &event.PositionOpened{
		PositionID:        positionID,
		Pool:              poolID,
		Owner:             owner,
		Custody:           custodyID,
		CollateralCustody: collateralCustodyID,
		Side:              side,
		Power:             j.Power,
		EntryPrice:        j.EntryPrice,
		SizeUSD:           j.SizeUSD,
		CollateralUSD:     j.CollateralUSD,
		Sequence:          j.Sequence,
		Timestamp:         j.TimestampUs,
	}, nil
}

type positionSettledJSON struct {
	PositionID  string `json:"position_id"`
	Pool        string `json:"pool_id"`
	Owner       string `json:"owner"`
	Custody     string `json:"custody_id"`
	ExitPrice   int64  `json:"exit_price"`
	ProfitUSD   int64  `json:"profit_usd"`
	LossUSD     int64  `json:"loss_usd"`
	FeeUSD      int64  `json:"fee_usd"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePositionClosed(data []byte) (*event.PositionClosed, error) {
	var j positionSettledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionClosed: %w", err)
	}
	positionID, poolID, owner, custodyID, err := parseSettlementIDs(j.PositionID, j.Pool, j.Owner, j.Custody)
	if err != nil {
		return nil, err
	}
	return &event.PositionClosed{
		PositionID: positionID,
		Pool:       poolID,
		Owner:      owner,
		Custody:    custodyID,
		ExitPrice:  j.ExitPrice,
		ProfitUSD:  j.ProfitUSD,
		LossUSD:    j.LossUSD,
		FeeUSD:     j.FeeUSD,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

func parsePositionLiquidated(data []byte) (*event.PositionLiquidated, error) {
	var j positionSettledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionLiquidated: %w", err)
	}
	positionID, poolID, owner, custodyID, err := parseSettlementIDs(j.PositionID, j.Pool, j.Owner, j.Custody)
	if err != nil {
		return nil, err
	}
	return &event.PositionLiquidated{
		PositionID: positionID,
		Pool:       poolID,
		Owner:      owner,
		Custody:    custodyID,
		ExitPrice:  j.ExitPrice,
		ProfitUSD:  j.ProfitUSD,
		LossUSD:    j.LossUSD,
		FeeUSD:     j.FeeUSD,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

func parseSettlementIDs(position, pool, owner, custody string) (positionID, poolID, ownerID, custodyID uuid.UUID, err error) {
	if positionID, err = uuid.Parse(position); err != nil {
		return uuid.UUID{}, uuid.UUID{}, uuid.UUID{}, uuid.UUID{}, fmt.Errorf("parse position_id: %w", err)
	}
	if poolID, err = uuid.Parse(pool); err != nil {
		return uuid.UUID{}, uuid.UUID{}, uuid.UUID{}, uuid.UUID{}, fmt.Errorf("parse pool_id: %w", err)
	}
	if ownerID, err = uuid.Parse(owner); err != nil {
		return uuid.UUID{}, uuid.UUID{}, uuid.UUID{}, uuid.UUID{}, fmt.Errorf("parse owner: %w", err)
	}
	if custodyID, err = uuid.Parse(custody); err != nil {
		return uuid.UUID{}, uuid.UUID{}, uuid.UUID{}, uuid.UUID{}, fmt.Errorf("parse custody_id: %w", err)
	}
	return positionID, poolID, ownerID, custodyID, nil
}
