package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PowerPerps/internal/domain"
	"PowerPerps/internal/event"
	"PowerPerps/internal/ingestion"

	"github.com/google/uuid"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseOraclePriceUpdated(t *testing.T) {
	custodyID := uuid.New()
	poolID := uuid.New()
	payload := map[string]interface{}{
		"custody_id":        custodyID.String(),
		"pool_id":           poolID.String(),
		"price_scaled":      int64(50_000_000000),
		"confidence_bps":    int64(5),
		"publish_seq":       int64(42),
		"publish_time_us":   int64(1700000000000000),
		"used_ema_fallback": false,
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "OraclePriceUpdated")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	op, ok := evt.(*event.OraclePriceUpdated)
	if !ok {
		t.Fatalf("expected *event.OraclePriceUpdated, got %T", evt)
	}
	if op.PriceScaled != 50_000_000000 {
		t.Errorf("price_scaled: got %d, want 50_000_000000", op.PriceScaled)
	}
	if op.PublishSeq != 42 {
		t.Errorf("publish_seq: got %d, want 42", op.PublishSeq)
	}
	if op.EventType() != event.EventTypeOraclePriceUpdated {
		t.Errorf("event type: got %v, want OraclePriceUpdated", op.EventType())
	}
}

func TestParsePoolCreated(t *testing.T) {
	poolID := uuid.New()
	payload := map[string]interface{}{
		"pool_id":      poolID.String(),
		"name":         "main-pool",
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PoolCreated")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pc, ok := evt.(*event.PoolCreated)
	if !ok {
		t.Fatalf("expected *event.PoolCreated, got %T", evt)
	}
	if pc.Name != "main-pool" {
		t.Errorf("name: got %s, want main-pool", pc.Name)
	}
	if pc.Pool != poolID {
		t.Errorf("pool: got %s, want %s", pc.Pool, poolID)
	}
}

func TestParseCustodyAdded(t *testing.T) {
	poolID := uuid.New()
	custodyID := uuid.New()
	payload := map[string]interface{}{
		"pool_id":      poolID.String(),
		"custody_id":   custodyID.String(),
		"sequence":     int64(2),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CustodyAdded")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ca, ok := evt.(*event.CustodyAdded)
	if !ok {
		t.Fatalf("expected *event.CustodyAdded, got %T", evt)
	}
	if ca.Custody != custodyID {
		t.Errorf("custody: got %s, want %s", ca.Custody, custodyID)
	}
}

func TestParseRiskParamUpdated(t *testing.T) {
	custodyID := uuid.New()
	poolID := uuid.New()
	payload := map[string]interface{}{
		"custody_id":               custodyID.String(),
		"pool_id":                  poolID.String(),
		"min_initial_leverage_bps": int64(11_000),
		"max_initial_leverage_bps": int64(100_000),
		"max_leverage_bps":         int64(150_000),
		"max_payoff_mult_bps":      int64(900_000),
		"effective_seq":            int64(99),
		"sequence":                 int64(1),
		"timestamp_us":             int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RiskParamUpdated")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rp, ok := evt.(*event.RiskParamUpdated)
	if !ok {
		t.Fatalf("expected *event.RiskParamUpdated, got %T", evt)
	}
	if rp.MaxLeverageBPS != 150_000 {
		t.Errorf("max_leverage_bps: got %d, want 150_000", rp.MaxLeverageBPS)
	}
	if rp.EffectiveSeq != 99 {
		t.Errorf("effective_seq: got %d, want 99", rp.EffectiveSeq)
	}
}

func TestParseFeesWithdrawn(t *testing.T) {
	custodyID := uuid.New()
	poolID := uuid.New()
	payload := map[string]interface{}{
		"custody_id":   custodyID.String(),
		"pool_id":      poolID.String(),
		"amount_usd":   int64(5_000000),
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "FeesWithdrawn")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fw, ok := evt.(*event.FeesWithdrawn)
	if !ok {
		t.Fatalf("expected *event.FeesWithdrawn, got %T", evt)
	}
	if fw.AmountUSD != 5_000000 {
		t.Errorf("amount_usd: got %d, want 5_000000", fw.AmountUSD)
	}
}

func TestParsePositionOpened(t *testing.T) {
	positionID := uuid.New()
	poolID := uuid.New()
	owner := uuid.New()
	custodyID := uuid.New()
	collateralCustodyID := uuid.New()
	payload := map[string]interface{}{
		"position_id":           positionID.String(),
		"pool_id":               poolID.String(),
		"owner":                 owner.String(),
		"custody_id":            custodyID.String(),
		"collateral_custody_id": collateralCustodyID.String(),
		"side":                  "short",
		"power":                 3,
		"entry_price":           int64(50_000_000000),
		"size_usd":              int64(1000_000000),
		"collateral_usd":        int64(100_000000),
		"sequence":              int64(10),
		"timestamp_us":          int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PositionOpened")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	po, ok := evt.(*event.PositionOpened)
	if !ok {
		t.Fatalf("expected *event.PositionOpened, got %T", evt)
	}
	if po.Side != domain.SideShort {
		t.Errorf("side: got %v, want SideShort", po.Side)
	}
	if po.Power != 3 {
		t.Errorf("power: got %d, want 3", po.Power)
	}
	if po.SizeUSD != 1000_000000 {
		t.Errorf("size_usd: got %d, want 1000_000000", po.SizeUSD)
	}
	if po.EventType() != event.EventTypePositionOpened {
		t.Errorf("event type: got %v, want PositionOpened", po.EventType())
	}
}

func TestParsePositionClosed(t *testing.T) {
	positionID := uuid.New()
	poolID := uuid.New()
	owner := uuid.New()
	custodyID := uuid.New()
	payload := map[string]interface{}{
		"position_id":  positionID.String(),
		"pool_id":      poolID.String(),
		"owner":        owner.String(),
		"custody_id":   custodyID.String(),
		"exit_price":   int64(55_000_000000),
		"profit_usd":   int64(200_000000),
		"loss_usd":     int64(0),
		"fee_usd":      int64(3_000000),
		"sequence":     int64(11),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PositionClosed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pc, ok := evt.(*event.PositionClosed)
	if !ok {
		t.Fatalf("expected *event.PositionClosed, got %T", evt)
	}
	if pc.ProfitUSD != 200_000000 {
		t.Errorf("profit_usd: got %d, want 200_000000", pc.ProfitUSD)
	}
}

func TestParsePositionLiquidated(t *testing.T) {
	positionID := uuid.New()
	poolID := uuid.New()
	owner := uuid.New()
	custodyID := uuid.New()
	payload := map[string]interface{}{
		"position_id":  positionID.String(),
		"pool_id":      poolID.String(),
		"owner":        owner.String(),
		"custody_id":   custodyID.String(),
		"exit_price":   int64(40_000_000000),
		"profit_usd":   int64(0),
		"loss_usd":     int64(100_000000),
		"fee_usd":      int64(5_000000),
		"sequence":     int64(12),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "PositionLiquidated")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pl, ok := evt.(*event.PositionLiquidated)
	if !ok {
		t.Fatalf("expected *event.PositionLiquidated, got %T", evt)
	}
	if pl.LossUSD != 100_000000 {
		t.Errorf("loss_usd: got %d, want 100_000000", pl.LossUSD)
	}
	if pl.EventType() != event.EventTypePositionLiquidated {
		t.Errorf("event type: got %v, want PositionLiquidated", pl.EventType())
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "OraclePriceUpdated")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"custody_id":        "not-a-uuid",
		"pool_id":           "also-not-a-uuid",
		"price_scaled":      int64(1),
		"confidence_bps":    int64(0),
		"publish_seq":       int64(0),
		"publish_time_us":   int64(0),
		"used_ema_fallback": false,
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "OraclePriceUpdated")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
