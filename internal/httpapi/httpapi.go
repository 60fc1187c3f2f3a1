// Package httpapi is a plain net/http JSON adapter over internal/opgateway,
// replacing the teacher's gRPC + grpc-gateway transport layer (see
// SPEC_FULL.md §11 "Dropped teacher dependencies" for the full rationale:
// the teacher's generated protobuf stubs are absent from the retrieval
// pack, so hand-authoring them would be fabricating a dependency). Grounded
// on internal/observability/health.go's JSON-over-net/http handler idiom
// and internal/server/grpc.go's httpMux/health-endpoint structure, minus
// the reverse-proxy layer.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"PowerPerps/internal/corerr"
	"PowerPerps/internal/domain"
	"PowerPerps/internal/opgateway"
	"PowerPerps/internal/query"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server wires opgateway operations to HTTP JSON endpoints.
type Server struct {
	gw  *opgateway.Gateway
	qs  *query.QueryService
	log zerolog.Logger
	mux *http.ServeMux
}

func NewServer(gw *opgateway.Gateway, log zerolog.Logger) *Server {
	s := &Server{gw: gw, log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

// WithQueryService wires the read-only projection endpoints backed by qs.
// Optional: a Server with no query service serves only the opgateway command
// surface (used as-is by the in-process unit tests, which have no Postgres).
func (s *Server) WithQueryService(qs *query.QueryService) *Server {
	s.qs = qs
	s.mux.HandleFunc("/v1/query/position", s.handleQueryPosition)
	s.mux.HandleFunc("/v1/query/custody", s.handleQueryCustody)
	s.mux.HandleFunc("/v1/query/integrity", s.handleQueryIntegrity)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("/v1/init", s.handleInit)
	s.mux.HandleFunc("/v1/pools", s.handleAddPool)
	s.mux.HandleFunc("/v1/custodies", s.handleAddCustody)
	s.mux.HandleFunc("/v1/positions/open", s.handleOpenPosition)
	s.mux.HandleFunc("/v1/positions/close", s.handleClosePosition)
	s.mux.HandleFunc("/v1/positions/liquidate", s.handleLiquidatePosition)
	s.mux.HandleFunc("/v1/positions/pnl", s.handleGetPnL)
	s.mux.HandleFunc("/v1/positions/liquidation-price", s.handleGetLiquidationPrice)
	s.mux.HandleFunc("/v1/pools/aum", s.handleGetPoolAUM)
	s.mux.HandleFunc("/v1/pools/lp-token-price", s.handleGetLPTokenPrice)
	s.mux.HandleFunc("/v1/liquidity/add", s.handleAddLiquidity)
	s.mux.HandleFunc("/v1/liquidity/remove", s.handleRemoveLiquidity)
	s.mux.HandleFunc("/v1/swap", s.handleSwap)
	s.mux.HandleFunc("/v1/admin/sign", s.handleSignInstruction)
	s.mux.HandleFunc("/v1/admin/unsign", s.handleUnsignInstruction)
	s.mux.HandleFunc("/v1/admin/withdraw-fees", s.handleWithdrawFees)
	s.mux.HandleFunc("/v1/admin/update-risk-params", s.handleUpdateRiskParams)
	s.mux.HandleFunc("/v1/admin/set-custom-oracle-price", s.handleSetCustomOraclePrice)
	s.mux.HandleFunc("/v1/oracle/set-custom-price", s.handleSetCustomOraclePricePermissionless)
}

type signInstructionRequest struct {
	Signer uuid.UUID `json:"signer"`
	Kind   string    `json:"kind"`
	Args   []string  `json:"args"`
}

func (s *Server) handleSignInstruction(w http.ResponseWriter, r *http.Request) {
	var req signInstructionRequest
	if !decode(w, r, &req) {
		return
	}
	remaining, err := s.gw.SignInstruction(req.Signer, req.Kind, req.Args...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": remaining})
}

type unsignInstructionRequest struct {
	Signer uuid.UUID `json:"signer"`
}

func (s *Server) handleUnsignInstruction(w http.ResponseWriter, r *http.Request) {
	var req unsignInstructionRequest
	if !decode(w, r, &req) {
		return
	}
	s.gw.UnsignInstruction(req.Signer)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsigned"})
}

type withdrawFeesRequest struct {
	CustodyID uuid.UUID `json:"custody_id"`
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req withdrawFeesRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := s.gw.WithdrawFees(req.CustodyID, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount_usd": amount})
}

type updateRiskParamsRequest struct {
	CustodyID uuid.UUID             `json:"custody_id"`
	Params    domain.PricingParams `json:"params"`
}

func (s *Server) handleUpdateRiskParams(w http.ResponseWriter, r *http.Request) {
	var req updateRiskParamsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.gw.UpdateRiskParams(req.CustodyID, req.Params, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type initRequest struct {
	Admins        []uuid.UUID `json:"admins"`
	MinSignatures int         `json:"min_signatures"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.gw.Init(req.Admins, req.MinSignatures, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

type addPoolRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAddPool(w http.ResponseWriter, r *http.Request) {
	var req addPoolRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.gw.AddPool(req.Name, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uuid.UUID{"pool_id": id})
}

type addCustodyRequest struct {
	PoolID  uuid.UUID      `json:"pool_id"`
	Custody domain.Custody `json:"custody"`
}

func (s *Server) handleAddCustody(w http.ResponseWriter, r *http.Request) {
	var req addCustodyRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.gw.AddCustody(req.PoolID, req.Custody, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uuid.UUID{"custody_id": id})
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req opgateway.OpenPositionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	pos, err := s.gw.OpenPosition(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req opgateway.ClosePositionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	result, err := s.gw.ClosePosition(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type liquidateRequest struct {
	PositionID uuid.UUID `json:"position_id"`
}

func (s *Server) handleLiquidatePosition(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := s.gw.LiquidatePosition(req.PositionID, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type positionIDRequest struct {
	PositionID uuid.UUID `json:"position_id"`
}

func (s *Server) handleGetPnL(w http.ResponseWriter, r *http.Request) {
	var req positionIDRequest
	if !decode(w, r, &req) {
		return
	}
	profitUSD, lossUSD, feeUSD, err := s.gw.GetPnL(req.PositionID, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"profit_usd": profitUSD, "loss_usd": lossUSD, "fee_usd": feeUSD})
}

type poolIDRequest struct {
	PoolID uuid.UUID `json:"pool_id"`
}

func (s *Server) handleGetPoolAUM(w http.ResponseWriter, r *http.Request) {
	var req poolIDRequest
	if !decode(w, r, &req) {
		return
	}
	total, valuations, err := s.gw.GetPoolAUM(req.PoolID, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aum_usd": total, "custodies": valuations})
}

func (s *Server) handleGetLPTokenPrice(w http.ResponseWriter, r *http.Request) {
	var req poolIDRequest
	if !decode(w, r, &req) {
		return
	}
	price, err := s.gw.GetLPTokenPrice(req.PoolID, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"lp_token_price": price})
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req opgateway.AddLiquidityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	result, err := s.gw.AddLiquidity(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req opgateway.RemoveLiquidityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	result, err := s.gw.RemoveLiquidity(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req opgateway.SwapRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	result, err := s.gw.Swap(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type setCustomOraclePriceRequest struct {
	Signer      uuid.UUID `json:"signer"`
	CustodyID   uuid.UUID `json:"custody_id"`
	PriceScaled int64     `json:"price_scaled"`
}

func (s *Server) handleSetCustomOraclePrice(w http.ResponseWriter, r *http.Request) {
	var req setCustomOraclePriceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.gw.SetCustomOraclePrice(req.Signer, req.CustodyID, req.PriceScaled, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetCustomOraclePricePermissionless(w http.ResponseWriter, r *http.Request) {
	var req setCustomOraclePriceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.gw.SetCustomOraclePricePermissionless(req.Signer, req.CustodyID, req.PriceScaled, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleGetLiquidationPrice(w http.ResponseWriter, r *http.Request) {
	var req positionIDRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := s.gw.GetLiquidationPrice(req.PositionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueryPosition(w http.ResponseWriter, r *http.Request) {
	var req positionIDRequest
	if !decode(w, r, &req) {
		return
	}
	pos, err := s.qs.GetPosition(r.Context(), req.PositionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if pos == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "position not found"})
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type custodyIDRequest struct {
	CustodyID uuid.UUID `json:"custody_id"`
}

func (s *Server) handleQueryCustody(w http.ResponseWriter, r *http.Request) {
	var req custodyIDRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.qs.GetCustody(r.Context(), req.CustodyID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "custody not found"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleQueryIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.qs.VerifyIntegrity(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a corerr.Kind to an HTTP status the way spec §7's
// propagation policy intends: validation/market/risk kinds are client
// errors (400), permission kinds are 403, not-found kinds are 404, and
// anything else (including StateCorruption) is a 500.
func writeError(w http.ResponseWriter, err error) {
	kind, _ := corerr.KindOf(err)
	status := statusForKind(kind)
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

func statusForKind(kind corerr.Kind) int {
	switch kind {
	case corerr.KindPoolNotFound, corerr.KindCustodyNotFound, corerr.KindPositionNotFound:
		return http.StatusNotFound
	case corerr.KindOperationDisabled, corerr.KindNotAdmin, corerr.KindBelowThreshold,
		corerr.KindDuplicateSignature, corerr.KindInstructionMismatch, corerr.KindNotAuthorized:
		return http.StatusForbidden
	case corerr.KindInvalidPower, corerr.KindInvalidConfig, corerr.KindInvalidAmount, corerr.KindInvalidSide,
		corerr.KindCollateralMismatch,
		corerr.KindStaleOraclePrice, corerr.KindPriceConfidenceTooWide, corerr.KindMaxPriceSlippage,
		corerr.KindUnsupportedOracle, corerr.KindLeverageTooHigh, corerr.KindInsufficientLiquidity,
		corerr.KindNotLiquidatable, corerr.KindPoolExists, corerr.KindCustodyExists,
		corerr.KindMultisigAlreadyInit, corerr.KindInvalidThreshold:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
