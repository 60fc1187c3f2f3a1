package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"time"

	"PowerPerps/internal/corerr"
	"PowerPerps/internal/domain"
	"PowerPerps/internal/opgateway"
	"PowerPerps/internal/oracle"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func testFeed() oracle.Feed {
	return oracle.Feed{Price: 100_000_000_000, Expo: -9, Conf: 100_000, PublishAt: time.Now()}
}

func newTestServer() *Server {
	return NewServer(opgateway.New(), zerolog.Nop())
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleInit_CreatesMultisig(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s, "/v1/init", initRequest{Admins: []uuid.UUID{uuid.New()}, MinSignatures: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleInit_RejectsMalformedBody(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/init", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAddPool_RejectsBeforeInit(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s, "/v1/pools", addPoolRequest{Name: "main"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["kind"] != string(corerr.KindInvalidConfig) {
		t.Errorf("kind = %s, want %s", payload["kind"], corerr.KindInvalidConfig)
	}
}

func TestHandleGetPnL_UnknownPositionReturns404(t *testing.T) {
	s := newTestServer()
	rec := postJSON(t, s, "/v1/positions/pnl", positionIDRequest{PositionID: uuid.New()})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestFullFlow_InitAddPoolAddCustodyOpenClose(t *testing.T) {
	s := newTestServer()

	admin := uuid.New()
	if rec := postJSON(t, s, "/v1/init", initRequest{Admins: []uuid.UUID{admin}, MinSignatures: 1}); rec.Code != http.StatusOK {
		t.Fatalf("init failed: %s", rec.Body.String())
	}

	rec := postJSON(t, s, "/v1/pools", addPoolRequest{Name: "main"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add pool failed: %s", rec.Body.String())
	}
	var poolResp map[string]uuid.UUID
	if err := json.Unmarshal(rec.Body.Bytes(), &poolResp); err != nil {
		t.Fatal(err)
	}

	custody := domain.Custody{
		Decimals: 6,
		Oracle:   domain.OracleConfig{OracleType: domain.OracleTypeCustom, MaxPriceAgeSec: 3600},
		Pricing: domain.PricingParams{
			MinInitialLeverageBPS: 10_000, MaxInitialLeverageBPS: 500_000, MaxLeverageBPS: 500_000,
			MaxPayoffMultBPS: 90_000, LiquidationFeeBPS: 100, MinCollateralBPS: 500, MaxConfidenceBPS: 100_000,
		},
		BorrowRate:  domain.BorrowRateState{BaseRateBPS: 10, Slope1BPS: 1000, Slope2BPS: 5000, OptimalUtilizationBPS: 8000},
		Assets:      domain.AssetBalances{Owned: 1_000_000_000000},
		Permissions: domain.TradingPermissions{AllowOpenPosition: true, AllowClosePosition: true},
	}
	rec = postJSON(t, s, "/v1/custodies", addCustodyRequest{PoolID: poolResp["pool_id"], Custody: custody})
	if rec.Code != http.StatusOK {
		t.Fatalf("add custody failed: %s", rec.Body.String())
	}
	var custodyResp map[string]uuid.UUID
	if err := json.Unmarshal(rec.Body.Bytes(), &custodyResp); err != nil {
		t.Fatal(err)
	}

	s.gw.PublishOraclePrice(custodyResp["custody_id"], testFeed())

	rec = postJSON(t, s, "/v1/positions/open", opgateway.OpenPositionRequest{
		Owner: uuid.New(), PoolID: poolResp["pool_id"],
		CustodyID: custodyResp["custody_id"], CollateralCustodyID: custodyResp["custody_id"],
		Side: domain.SideLong, Power: 1, SizeUSD: 1_000_000000, CollateralUSD: 200_000000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("open position failed: %s", rec.Body.String())
	}
}
