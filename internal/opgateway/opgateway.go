// Package opgateway implements the operation façade (spec ยง2 item 8, ยง6.1):
// init, add_pool, add_custody, open_position, close_position,
// liquidate_position, get_pnl, get_liquidation_price, plus the supplemented
// add_liquidity, remove_liquidity, get_lp_token_price, swap,
// set_custom_oracle_price, and set_custom_oracle_price_permissionless. It is
// pure dispatch,
// validation, and state-machine calls with no transport concerns of its
// own — internal/httpapi is the only thing that talks to it over the
// network. Grounded on internal/core/engine.go's ProcessEvent
// dispatch-by-type pipeline (validate -> mutate -> respond), pared down to
// the synchronous, non-event-sourced shape spec.md ยง5 describes: single
// goroutine, serialized per pool, no cancellation.
package opgateway

import (
	"fmt"
	"sync"
	"time"

	"PowerPerps/internal/admin"
	"PowerPerps/internal/corerr"
	"PowerPerps/internal/custody"
	"PowerPerps/internal/domain"
	"PowerPerps/internal/event"
	"PowerPerps/internal/fixedmath"
	"PowerPerps/internal/ledger"
	"PowerPerps/internal/oracle"
	"PowerPerps/internal/pool"
	"PowerPerps/internal/position"
	"PowerPerps/internal/pricing"

	"github.com/google/uuid"
)

// EventSink receives one (event, ledger batch) pair per successful mutating
// operation. cmd/perpledger wires this to bridge opgateway into the
// persistence and projection workers; batch is nil for operations that move
// no liquidity (e.g. AddPool).
type EventSink interface {
	Emit(evt event.Event, batch *ledger.Batch)
}

// SetEventSink installs the sink used for all subsequent operations. Not
// safe to call concurrently with other Gateway methods.
func (g *Gateway) SetEventSink(sink EventSink) {
	g.sink = sink
	g.journals = ledger.NewJournalGenerator(0, nil)
}

func (g *Gateway) emit(evt event.Event, batch *ledger.Batch) {
	if g.sink == nil {
		return
	}
	g.sink.Emit(evt, batch)
}

func (g *Gateway) nextSeq() int64 {
	g.seq++
	return g.seq
}

// Gateway holds the entire in-memory world state: the global singleton,
// every pool/custody/position, and the oracle store. Every exported method
// takes the pool-level lock for its duration, matching spec ยง5's "serialized
// per pool" concurrency model (approximated here with a single global lock
// since pools do not yet have independent goroutines in this core).
type Gateway struct {
	mu sync.Mutex

	perpetuals *domain.Perpetuals
	multisig   *domain.Multisig
	oracles    *oracle.Store

	pools      map[uuid.UUID]*domain.Pool
	custodies  map[uuid.UUID]*domain.Custody
	positions  map[uuid.UUID]*position.Position

	sink     EventSink
	journals *ledger.JournalGenerator
	seq      int64
}

// New constructs an empty Gateway; call Init before any other operation.
func New() *Gateway {
	return &Gateway{
		oracles:   oracle.NewStore(),
		pools:     make(map[uuid.UUID]*domain.Pool),
		custodies: make(map[uuid.UUID]*domain.Custody),
		positions: make(map[uuid.UUID]*position.Position),
	}
}

// Init creates the Perpetuals singleton and its Multisig (spec ยง6.1 init).
func (g *Gateway) Init(admins []uuid.UUID, minSignatures int, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.perpetuals != nil {
		return corerr.New(corerr.KindMultisigAlreadyInit, "opgateway.Init", nil)
	}

	m := &domain.Multisig{}
	if err := admin.SetSigners(m, admins, minSignatures); err != nil {
		return corerr.Wrap(corerr.KindInvalidThreshold, "opgateway.Init", nil, err)
	}

	g.multisig = m
	g.perpetuals = &domain.Perpetuals{
		InceptionTime: now,
		Permissions: domain.GlobalPermissions{
			AllowSwap: true, AllowAddLiquidity: true, AllowRemoveLiquidity: true,
			AllowOpenPosition: true, AllowClosePosition: true, AllowPnLWithdrawal: true,
			AllowCollateralWithdrawal: true, AllowSizeChange: true, AllowLiquidatePosition: true,
		},
	}
	return nil
}

// AddPool creates a pool with an empty custody list (spec ยง6.1 add_pool).
func (g *Gateway) AddPool(name string, now time.Time) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.requirePerpetuals(); err != nil {
		return uuid.Nil, err
	}
	for _, p := range g.pools {
		if p.Name == name {
			return uuid.Nil, corerr.New(corerr.KindPoolExists, "opgateway.AddPool", map[string]any{"name": name})
		}
	}

	p := &domain.Pool{ID: uuid.New(), Name: name, CreationTime: now, InceptionTime: now}
	g.pools[p.ID] = p
	g.perpetuals.PoolIDs = append(g.perpetuals.PoolIDs, p.ID)

	g.emit(&event.PoolCreated{
		Pool: p.ID, Name: name, Sequence: g.nextSeq(), Timestamp: now.UnixMicro(),
	}, nil)
	return p.ID, nil
}

// AddCustody registers a fully-configured custody against poolID (spec
// ยง6.1 add_custody).
func (g *Gateway) AddCustody(poolID uuid.UUID, c domain.Custody, now time.Time) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pools[poolID]
	if !ok {
		return uuid.Nil, corerr.New(corerr.KindPoolNotFound, "opgateway.AddCustody", map[string]any{"pool": poolID})
	}
	if err := c.Pricing.Validate(); err != nil {
		return uuid.Nil, err
	}

	c.ID = uuid.New()
	c.PoolID = poolID
	c.BorrowRate.LastUpdate = now
	g.custodies[c.ID] = &c

	if err := pool.AddCustody(p, c.ID); err != nil {
		delete(g.custodies, c.ID)
		return uuid.Nil, err
	}

	g.emit(&event.CustodyAdded{
		Pool: poolID, Custody: c.ID, Sequence: g.nextSeq(), Timestamp: now.UnixMicro(),
	}, nil)
	return c.ID, nil
}

// OpenPositionRequest bundles open_position's inputs (spec ยง6.1).
type OpenPositionRequest struct {
	Owner              uuid.UUID
	PoolID             uuid.UUID
	CustodyID          uuid.UUID
	CollateralCustodyID uuid.UUID
	Side               domain.Side
	Power              int
	PriceLimitScaled   int64 // slippage bound; entry price must not cross it against the trader
	CollateralUSD      int64
	SizeUSD            int64
	Now                time.Time
}

// OpenPosition validates and opens a position, quoting the entry price
// through Pricing and enforcing PriceLimitScaled (spec ยง6.1 open_position).
func (g *Gateway) OpenPosition(req OpenPositionRequest) (*position.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.requireCustody(req.CustodyID)
	if err != nil {
		return nil, err
	}
	collateralCustody, err := g.requireCustody(req.CollateralCustodyID)
	if err != nil {
		return nil, err
	}
	if !g.perpetuals.Permissions.AllowOpenPosition {
		return nil, corerr.New(corerr.KindOperationDisabled, "opgateway.OpenPosition", nil)
	}

	raw, err := g.oracles.Read(c, req.Now, c.Pricing.UseEMA)
	if err != nil {
		return nil, err
	}
	entryPrice, err := pricing.QuoteEntry(raw, c, req.Side)
	if err != nil {
		return nil, err
	}
	if err := checkSlippage(req.Side, pricing.IntentEntry, entryPrice, req.PriceLimitScaled); err != nil {
		return nil, err
	}

	if err := custody.UpdateBorrowRate(c, custody.UtilizationBPS(c), req.Now); err != nil {
		return nil, err
	}
	g.emit(&event.BorrowRateUpdated{
		Custody: c.ID, Pool: c.PoolID, UtilizationBPS: custody.UtilizationBPS(c),
		NewRateBPS: c.BorrowRate.CurrentRateBPS, CumulativeAfter: c.BorrowRate.CumulativeInterest,
		Sequence: g.nextSeq(), Timestamp: req.Now.UnixMicro(),
	}, nil)

	pos, err := position.Open(position.OpenParams{
		Owner: req.Owner, PoolID: req.PoolID, Side: req.Side, Power: req.Power,
		EntryPriceScaled: entryPrice, SizeUSD: req.SizeUSD, CollateralUSD: req.CollateralUSD,
		Now: req.Now,
	}, c, collateralCustody)
	if err != nil {
		return nil, err
	}

	g.positions[pos.ID] = pos

	lockedUSD, usdErr := custody.TokenToUSD(pos.LockedAmount, collateralCustody.Decimals, entryPrice)
	if usdErr == nil && g.journals != nil {
		batch := g.journals.GenerateOpenPosition(pos.ID, req.CollateralCustodyID, req.CollateralUSD, lockedUSD, req.Now.UnixMicro())
		g.emit(&event.PositionOpened{
			PositionID: pos.ID, Pool: req.PoolID, Owner: req.Owner, Custody: req.CustodyID,
			CollateralCustody: req.CollateralCustodyID, Side: req.Side, Power: req.Power,
			EntryPrice: entryPrice, SizeUSD: req.SizeUSD, CollateralUSD: req.CollateralUSD,
			Sequence: g.nextSeq(), Timestamp: req.Now.UnixMicro(),
		}, batch)
	}
	return pos, nil
}

// ClosePositionRequest bundles close_position's inputs (spec ยง6.1).
type ClosePositionRequest struct {
	PositionID       uuid.UUID
	SizeUSDToClose   int64 // 0 means close the position's full remaining size
	PriceLimitScaled int64
	Now              time.Time
}

// ClosePosition settles positionID against a freshly-quoted exit price
// (spec ยง6.1 close_position).
func (g *Gateway) ClosePosition(req ClosePositionRequest) (position.CloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[req.PositionID]
	if !ok {
		return position.CloseResult{}, corerr.New(corerr.KindPositionNotFound, "opgateway.ClosePosition", map[string]any{"position": req.PositionID})
	}
	c, err := g.requireCustody(pos.CustodyID)
	if err != nil {
		return position.CloseResult{}, err
	}
	collateralCustody, err := g.requireCustody(pos.CollateralCustodyID)
	if err != nil {
		return position.CloseResult{}, err
	}

	raw, err := g.oracles.Read(c, req.Now, c.Pricing.UseEMA)
	if err != nil {
		return position.CloseResult{}, err
	}
	exitPrice, err := pricing.QuoteExit(raw, c, pos.Side)
	if err != nil {
		return position.CloseResult{}, err
	}
	if err := checkSlippage(pos.Side, pricing.IntentExit, exitPrice, req.PriceLimitScaled); err != nil {
		return position.CloseResult{}, err
	}

	if err := custody.UpdateBorrowRate(c, custody.UtilizationBPS(c), req.Now); err != nil {
		return position.CloseResult{}, err
	}
	g.emit(&event.BorrowRateUpdated{
		Custody: c.ID, Pool: c.PoolID, UtilizationBPS: custody.UtilizationBPS(c),
		NewRateBPS: c.BorrowRate.CurrentRateBPS, CumulativeAfter: c.BorrowRate.CumulativeInterest,
		Sequence: g.nextSeq(), Timestamp: req.Now.UnixMicro(),
	}, nil)

	sizeUSDToClose := req.SizeUSDToClose
	if sizeUSDToClose == 0 {
		sizeUSDToClose = pos.SizeUSD
	}
	result, err := position.Close(pos, exitPrice, sizeUSDToClose, req.Now, c, collateralCustody)
	if err != nil {
		return position.CloseResult{}, err
	}

	if g.journals != nil {
		batch := g.journals.GenerateClosePosition(pos.ID, pos.CollateralCustodyID, result.UnlockedAmountUSD, result.ProfitUSD, result.LossUSD, result.FeeUSD, req.Now.UnixMicro())
		g.emit(&event.PositionClosed{
			PositionID: pos.ID, Pool: pos.PoolID, Owner: pos.Owner, Custody: pos.CustodyID,
			ExitPrice: exitPrice, ProfitUSD: result.ProfitUSD, LossUSD: result.LossUSD, FeeUSD: result.FeeUSD,
			Sequence: g.nextSeq(), Timestamp: req.Now.UnixMicro(),
		}, batch)
	}
	return result, nil
}

// LiquidatePosition liquidates positionID at the current oracle price (spec
// ยง6.1 liquidate_position).
func (g *Gateway) LiquidatePosition(positionID uuid.UUID, now time.Time) (position.CloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[positionID]
	if !ok {
		return position.CloseResult{}, corerr.New(corerr.KindPositionNotFound, "opgateway.LiquidatePosition", map[string]any{"position": positionID})
	}
	c, err := g.requireCustody(pos.CustodyID)
	if err != nil {
		return position.CloseResult{}, err
	}
	collateralCustody, err := g.requireCustody(pos.CollateralCustodyID)
	if err != nil {
		return position.CloseResult{}, err
	}

	raw, err := g.oracles.Read(c, now, c.Pricing.UseEMA)
	if err != nil {
		return position.CloseResult{}, err
	}
	exitPrice, err := pricing.QuoteExit(raw, c, pos.Side)
	if err != nil {
		return position.CloseResult{}, err
	}

	if err := custody.UpdateBorrowRate(c, custody.UtilizationBPS(c), now); err != nil {
		return position.CloseResult{}, err
	}
	g.emit(&event.BorrowRateUpdated{
		Custody: c.ID, Pool: c.PoolID, UtilizationBPS: custody.UtilizationBPS(c),
		NewRateBPS: c.BorrowRate.CurrentRateBPS, CumulativeAfter: c.BorrowRate.CumulativeInterest,
		Sequence: g.nextSeq(), Timestamp: now.UnixMicro(),
	}, nil)

	result, err := position.Liquidate(pos, exitPrice, now, c, collateralCustody)
	if err != nil {
		return position.CloseResult{}, err
	}

	if g.journals != nil {
		batch := g.journals.GenerateLiquidation(pos.ID, pos.CollateralCustodyID, result.UnlockedAmountUSD, result.ProfitUSD, result.LossUSD, result.FeeUSD, now.UnixMicro())
		g.emit(&event.PositionLiquidated{
			PositionID: pos.ID, Pool: pos.PoolID, Owner: pos.Owner, Custody: pos.CustodyID,
			ExitPrice: exitPrice, ProfitUSD: result.ProfitUSD, LossUSD: result.LossUSD, FeeUSD: result.FeeUSD,
			Sequence: g.nextSeq(), Timestamp: now.UnixMicro(),
		}, batch)
	}
	return result, nil
}

// GetPnL is a pure read (spec ยง6.1 get_pnl): never mutates state.
func (g *Gateway) GetPnL(positionID uuid.UUID, now time.Time) (profitUSD, lossUSD, feeUSD int64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[positionID]
	if !ok {
		return 0, 0, 0, corerr.New(corerr.KindPositionNotFound, "opgateway.GetPnL", map[string]any{"position": positionID})
	}
	c, err := g.requireCustody(pos.CustodyID)
	if err != nil {
		return 0, 0, 0, err
	}
	collateralCustody, err := g.requireCustody(pos.CollateralCustodyID)
	if err != nil {
		return 0, 0, 0, err
	}

	raw, err := g.oracles.Read(c, now, c.Pricing.UseEMA)
	if err != nil {
		return 0, 0, 0, err
	}
	exitPrice, err := pricing.QuoteExit(raw, c, pos.Side)
	if err != nil {
		return 0, 0, 0, err
	}
	return pos.PnL(exitPrice, collateralCustody.Decimals, c.BorrowRate.CumulativeInterest, c.Fees.ClosePosition)
}

// GetLiquidationPrice is a pure read (spec ยง6.1 get_liquidation_price).
func (g *Gateway) GetLiquidationPrice(positionID uuid.UUID) (position.LiquidationPriceResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[positionID]
	if !ok {
		return position.LiquidationPriceResult{}, corerr.New(corerr.KindPositionNotFound, "opgateway.GetLiquidationPrice", map[string]any{"position": positionID})
	}
	c, err := g.requireCustody(pos.CustodyID)
	if err != nil {
		return position.LiquidationPriceResult{}, err
	}
	collateralCustody, err := g.requireCustody(pos.CollateralCustodyID)
	if err != nil {
		return position.LiquidationPriceResult{}, err
	}
	return position.GetLiquidationPrice(pos, c, collateralCustody)
}

// GetPoolAUM is a pure read (spec ยง4.6 get_assets_under_management) that
// prices every custody in poolID against its current oracle quote, nets out
// open positions' unrealized PnL, and stores the result in the pool's
// AUMUSDCache field. GetLPTokenPrice does not read that field; it values
// the pool afresh.
func (g *Gateway) GetPoolAUM(poolID uuid.UUID, now time.Time) (int64, []pool.CustodyValuation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	total, _, valuations, err := g.valuePool(poolID, now)
	if err != nil {
		return 0, nil, err
	}
	g.pools[poolID].AUMUSDCache = total
	return total, valuations, nil
}

// valuePool prices every custody in poolID against its current oracle quote
// and nets out open positions' unrealized PnL, returning both the aggregate
// AUM and the per-custody price map so AddLiquidity/RemoveLiquidity/Swap can
// reuse the same valuation without re-reading oracles for every custody.
// Caller must hold g.mu.
func (g *Gateway) valuePool(poolID uuid.UUID, now time.Time) (total int64, priceByCustody map[uuid.UUID]int64, valuations []pool.CustodyValuation, err error) {
	p, ok := g.pools[poolID]
	if !ok {
		return 0, nil, nil, corerr.New(corerr.KindPoolNotFound, "opgateway.valuePool", map[string]any{"pool": poolID})
	}

	custodies := make([]*domain.Custody, 0, len(p.CustodyIDs))
	priceByCustody = make(map[uuid.UUID]int64, len(p.CustodyIDs))
	unrealizedByCustody := make(map[uuid.UUID]int64, len(p.CustodyIDs))

	for _, id := range p.CustodyIDs {
		c, err := g.requireCustody(id)
		if err != nil {
			return 0, nil, nil, err
		}
		custodies = append(custodies, c)

		raw, err := g.oracles.Read(c, now, c.Pricing.UseEMA)
		if err != nil {
			return 0, nil, nil, err
		}
		priceByCustody[id] = raw.PriceScaled
	}

	for _, pos := range g.positions {
		if pos.PoolID != poolID || pos.Status != position.StatusOpen {
			continue
		}
		c, err := g.requireCustody(pos.CustodyID)
		if err != nil {
			return 0, nil, nil, err
		}
		collateralCustody, err := g.requireCustody(pos.CollateralCustodyID)
		if err != nil {
			return 0, nil, nil, err
		}
		exitPrice, err := pricing.QuoteExit(oracle.Price{PriceScaled: priceByCustody[pos.CustodyID]}, c, pos.Side)
		if err != nil {
			return 0, nil, nil, err
		}
		profitUSD, lossUSD, _, err := pos.PnL(exitPrice, collateralCustody.Decimals, c.BorrowRate.CumulativeInterest, c.Fees.ClosePosition)
		if err != nil {
			return 0, nil, nil, err
		}
		unrealizedByCustody[pos.CustodyID] += profitUSD - lossUSD
	}

	total, valuations, err = pool.GetAssetsUnderManagement(custodies, priceByCustody, unrealizedByCustody)
	if err != nil {
		return 0, nil, nil, err
	}
	return total, priceByCustody, valuations, nil
}

// custodyValuationUSD reports a single custody's USD valuation out of a
// valuePool() result, used by AddLiquidity/RemoveLiquidity's ratio check.
func custodyValuationUSD(valuations []pool.CustodyValuation, custodyID uuid.UUID) int64 {
	for _, v := range valuations {
		if v.CustodyID == custodyID {
			return v.OwnedUSD - v.UnrealizedPnLUSD
		}
	}
	return 0
}

// AddLiquidityRequest bundles add_liquidity's inputs (spec Supplemented
// features).
type AddLiquidityRequest struct {
	PoolID         uuid.UUID
	CustodyID      uuid.UUID
	AmountInTokens int64
	Now            time.Time
}

// AddLiquidity implements spec Supplemented features' add_liquidity:
// deposits tokens into custodyID and mints LP tokens into the pool, gated
// by both the global and per-custody allow_add_liquidity permissions.
func (g *Gateway) AddLiquidity(req AddLiquidityRequest) (pool.AmountAndFee, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.perpetuals.Permissions.AllowAddLiquidity {
		return pool.AmountAndFee{}, corerr.New(corerr.KindOperationDisabled, "opgateway.AddLiquidity", nil)
	}
	p, ok := g.pools[req.PoolID]
	if !ok {
		return pool.AmountAndFee{}, corerr.New(corerr.KindPoolNotFound, "opgateway.AddLiquidity", map[string]any{"pool": req.PoolID})
	}
	c, err := g.requireCustody(req.CustodyID)
	if err != nil {
		return pool.AmountAndFee{}, err
	}

	poolAUMUSD, priceByCustody, valuations, err := g.valuePool(req.PoolID, req.Now)
	if err != nil {
		return pool.AmountAndFee{}, err
	}
	priceScaled, ok := priceByCustody[req.CustodyID]
	if !ok {
		return pool.AmountAndFee{}, corerr.New(corerr.KindCustodyNotFound, "opgateway.AddLiquidity", map[string]any{"custody": req.CustodyID})
	}

	result, err := pool.AddLiquidity(p, c, req.AmountInTokens, priceScaled, custodyValuationUSD(valuations, req.CustodyID), poolAUMUSD)
	if err != nil {
		return pool.AmountAndFee{}, err
	}

	if g.journals != nil {
		grossUSD, err := custody.TokenToUSD(req.AmountInTokens, c.Decimals, priceScaled)
		if err != nil {
			return pool.AmountAndFee{}, err
		}
		feeUSD, err := custody.TokenToUSD(result.Fee, c.Decimals, priceScaled)
		if err != nil {
			return pool.AmountAndFee{}, err
		}
		batch := g.journals.GenerateAddLiquidity(req.PoolID, req.CustodyID, grossUSD, feeUSD, req.Now.UnixMicro())
		g.emit(&event.LiquidityAdded{
			Pool: req.PoolID, Custody: req.CustodyID, AmountTokens: req.AmountInTokens,
			FeeTokens: result.Fee, LPAmount: result.Amount,
			Sequence: g.nextSeq(), Timestamp: req.Now.UnixMicro(),
		}, batch)
	}
	return result, nil
}

// RemoveLiquidityRequest bundles remove_liquidity's inputs (spec
// Supplemented features).
type RemoveLiquidityRequest struct {
	PoolID     uuid.UUID
	CustodyID  uuid.UUID
	LPAmountIn int64
	Now        time.Time
}

// RemoveLiquidity implements spec Supplemented features' remove_liquidity:
// burns LP tokens and transfers their pro-rata share of custodyID's tokens
// back out, net of the remove-liquidity fee.
func (g *Gateway) RemoveLiquidity(req RemoveLiquidityRequest) (pool.AmountAndFee, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.perpetuals.Permissions.AllowRemoveLiquidity {
		return pool.AmountAndFee{}, corerr.New(corerr.KindOperationDisabled, "opgateway.RemoveLiquidity", nil)
	}
	p, ok := g.pools[req.PoolID]
	if !ok {
		return pool.AmountAndFee{}, corerr.New(corerr.KindPoolNotFound, "opgateway.RemoveLiquidity", map[string]any{"pool": req.PoolID})
	}
	c, err := g.requireCustody(req.CustodyID)
	if err != nil {
		return pool.AmountAndFee{}, err
	}

	poolAUMUSD, priceByCustody, valuations, err := g.valuePool(req.PoolID, req.Now)
	if err != nil {
		return pool.AmountAndFee{}, err
	}
	priceScaled, ok := priceByCustody[req.CustodyID]
	if !ok {
		return pool.AmountAndFee{}, corerr.New(corerr.KindCustodyNotFound, "opgateway.RemoveLiquidity", map[string]any{"custody": req.CustodyID})
	}

	result, err := pool.RemoveLiquidity(p, c, req.LPAmountIn, priceScaled, custodyValuationUSD(valuations, req.CustodyID), poolAUMUSD)
	if err != nil {
		return pool.AmountAndFee{}, err
	}

	if g.journals != nil {
		netUSD, err := custody.TokenToUSD(result.Amount, c.Decimals, priceScaled)
		if err != nil {
			return pool.AmountAndFee{}, err
		}
		feeUSD, err := custody.TokenToUSD(result.Fee, c.Decimals, priceScaled)
		if err != nil {
			return pool.AmountAndFee{}, err
		}
		batch := g.journals.GenerateRemoveLiquidity(req.PoolID, req.CustodyID, netUSD, feeUSD, req.Now.UnixMicro())
		g.emit(&event.LiquidityRemoved{
			Pool: req.PoolID, Custody: req.CustodyID, AmountTokens: result.Amount,
			FeeTokens: result.Fee, LPAmount: req.LPAmountIn,
			Sequence: g.nextSeq(), Timestamp: req.Now.UnixMicro(),
		}, batch)
	}
	return result, nil
}

// GetLPTokenPrice is a pure read (spec Supplemented features:
// get_lp_token_price).
func (g *Gateway) GetLPTokenPrice(poolID uuid.UUID, now time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pools[poolID]
	if !ok {
		return 0, corerr.New(corerr.KindPoolNotFound, "opgateway.GetLPTokenPrice", map[string]any{"pool": poolID})
	}
	total, _, _, err := g.valuePool(poolID, now)
	if err != nil {
		return 0, err
	}
	return pool.GetLPTokenPrice(total, p.LPSupply)
}

// SwapRequest bundles swap's inputs (spec Supplemented features).
type SwapRequest struct {
	PoolID       uuid.UUID
	CustodyInID  uuid.UUID
	CustodyOutID uuid.UUID
	AmountIn     int64
	Now          time.Time
}

// Swap implements spec Supplemented features' swap: moves amount_in into
// custody_in and the fee-adjusted amount_out out of custody_out, both
// gated by the global and per-custody allow_swap permissions.
func (g *Gateway) Swap(req SwapRequest) (pool.SwapAmountAndFees, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.perpetuals.Permissions.AllowSwap {
		return pool.SwapAmountAndFees{}, corerr.New(corerr.KindOperationDisabled, "opgateway.Swap", nil)
	}
	custodyIn, err := g.requireCustody(req.CustodyInID)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}
	custodyOut, err := g.requireCustody(req.CustodyOutID)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}

	rawIn, err := g.oracles.Read(custodyIn, req.Now, custodyIn.Pricing.UseEMA)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}
	rawOut, err := g.oracles.Read(custodyOut, req.Now, custodyOut.Pricing.UseEMA)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}

	result, err := pool.Swap(custodyIn, custodyOut, req.AmountIn, rawIn.PriceScaled, rawOut.PriceScaled)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}

	amountInUSD, err := custody.TokenToUSD(req.AmountIn, custodyIn.Decimals, rawIn.PriceScaled)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}
	amountOutUSD, err := custody.TokenToUSD(result.AmountOut, custodyOut.Decimals, rawOut.PriceScaled)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}
	feeInUSD, err := custody.TokenToUSD(result.FeeIn, custodyIn.Decimals, rawIn.PriceScaled)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}
	feeOutUSD, err := custody.TokenToUSD(result.FeeOut, custodyOut.Decimals, rawOut.PriceScaled)
	if err != nil {
		return pool.SwapAmountAndFees{}, err
	}

	if g.journals != nil {
		batch := g.journals.GenerateSwap(req.PoolID, req.CustodyInID, req.CustodyOutID, amountInUSD, amountOutUSD, feeInUSD, feeOutUSD, req.Now.UnixMicro())
		g.emit(&event.Swapped{
			Pool: req.PoolID, CustodyIn: req.CustodyInID, CustodyOut: req.CustodyOutID,
			AmountIn: req.AmountIn, AmountOut: result.AmountOut, FeeIn: result.FeeIn, FeeOut: result.FeeOut,
			Sequence: g.nextSeq(), Timestamp: req.Now.UnixMicro(),
		}, batch)
	}
	return result, nil
}

// PublishOraclePrice feeds a fresh observation into the oracle store, used
// by ingestion (internal/ingestion adapts this from NATS subjects).
func (g *Gateway) PublishOraclePrice(custodyID uuid.UUID, feed oracle.Feed) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.oracles.Publish(custodyID, feed)

	c, ok := g.custodies[custodyID]
	if !ok {
		return
	}
	normalized, err := g.oracles.Read(c, feed.PublishAt, false)
	if err != nil {
		return
	}
	g.emit(&event.OraclePriceUpdated{
		Custody: custodyID, Pool: c.PoolID,
		PriceScaled: normalized.PriceScaled, ConfidenceBPS: normalized.ConfidenceScaled,
		PublishSeq: g.nextSeq(), PublishTime: feed.PublishAt.UnixMicro(),
		UsedEMAFallback: normalized.UsedSpotFallback,
	}, nil)
}

// SignInstruction records an admin's approval of a pending instruction
// identified by (kind, args), returning how many more signatures are needed
// to reach quorum. kind/args must match exactly what the later WithdrawFees
// or UpdateRiskParams call hashes, or CheckQuorum rejects it as a mismatch.
func (g *Gateway) SignInstruction(signer uuid.UUID, kind string, args ...string) (remaining int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.requirePerpetuals(); err != nil {
		return 0, err
	}
	return admin.Sign(g.multisig, signer, admin.HashInstruction(kind, args...))
}

// UnsignInstruction revokes signer's pending signature.
func (g *Gateway) UnsignInstruction(signer uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.multisig == nil {
		return
	}
	admin.Unsign(g.multisig, signer)
}

// WithdrawFees sweeps custodyID's accumulated protocol fees out to the
// treasury account, once SignInstruction("withdraw_fees", custodyID) has
// reached quorum.
func (g *Gateway) WithdrawFees(custodyID uuid.UUID, now time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.requireCustody(custodyID)
	if err != nil {
		return 0, err
	}
	if err := admin.CheckQuorum(g.multisig, admin.HashInstruction("withdraw_fees", custodyID.String())); err != nil {
		return 0, err
	}

	amountTokens, err := admin.WithdrawFees(c)
	if err != nil {
		return 0, err
	}
	if amountTokens == 0 {
		return 0, nil
	}

	raw, err := g.oracles.Read(c, now, c.Pricing.UseEMA)
	if err != nil {
		return 0, err
	}
	amountUSD, err := custody.TokenToUSD(amountTokens, c.Decimals, raw.PriceScaled)
	if err != nil {
		return 0, err
	}

	if g.journals != nil {
		batch := g.journals.GenerateFeeWithdrawal(custodyID, amountUSD, now.UnixMicro())
		g.emit(&event.FeesWithdrawn{
			Custody: custodyID, Pool: c.PoolID, AmountUSD: amountUSD,
			Sequence: g.nextSeq(), Timestamp: now.UnixMicro(),
		}, batch)
	}
	return amountUSD, nil
}

// UpdateRiskParams replaces custodyID's pricing parameters, once
// SignInstruction("update_risk_params", custodyID, params...) has reached
// quorum against the exact same params being applied here.
func (g *Gateway) UpdateRiskParams(custodyID uuid.UUID, params domain.PricingParams, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.requireCustody(custodyID)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := admin.CheckQuorum(g.multisig, admin.HashInstruction("update_risk_params", append([]string{custodyID.String()}, riskParamsArgs(params)...)...)); err != nil {
		return err
	}

	c.Pricing = params

	seq := g.nextSeq()
	g.emit(&event.RiskParamUpdated{
		Custody: custodyID, Pool: c.PoolID,
		MinInitialLeverageBPS: params.MinInitialLeverageBPS, MaxInitialLeverageBPS: params.MaxInitialLeverageBPS,
		MaxLeverageBPS: params.MaxLeverageBPS, MaxPayoffMultBPS: params.MaxPayoffMultBPS,
		EffectiveSeq: seq, Sequence: seq, Timestamp: now.UnixMicro(),
	}, nil)
	return nil
}

// riskParamsArgs canonicalizes a PricingParams for instruction hashing, so
// every signer approving an update_risk_params instruction is provably
// approving these exact values.
func riskParamsArgs(p domain.PricingParams) []string {
	return []string{
		fmt.Sprintf("%t", p.UseEMA),
		fmt.Sprintf("%d", p.TradeSpreadLongBPS), fmt.Sprintf("%d", p.TradeSpreadShortBPS),
		fmt.Sprintf("%d", p.SwapSpreadBPS),
		fmt.Sprintf("%d", p.MinInitialLeverageBPS), fmt.Sprintf("%d", p.MaxInitialLeverageBPS),
		fmt.Sprintf("%d", p.MaxLeverageBPS), fmt.Sprintf("%d", p.MaxPayoffMultBPS),
		fmt.Sprintf("%d", p.LiquidationFeeBPS), fmt.Sprintf("%d", p.MinCollateralBPS),
		fmt.Sprintf("%d", p.MaxConfidenceBPS),
	}
}

// customOraclePriceArgs canonicalizes a custom price write for instruction
// hashing, mirroring riskParamsArgs.
func customOraclePriceArgs(priceScaled, confScaled int64) []string {
	return []string{fmt.Sprintf("%d", priceScaled), fmt.Sprintf("%d", confScaled)}
}

// setCustomOraclePrice is the shared write path for both
// SetCustomOraclePrice and SetCustomOraclePricePermissionless (spec
// Supplemented features), differing only in how the caller is authorized.
// priceScaled/confScaled are already at PRICE_DECIMALS, so they are stored
// with expo -PRICE_DECIMALS and normalizing them is a no-op.
// Caller must hold g.mu.
func (g *Gateway) setCustomOraclePrice(c *domain.Custody, priceScaled, confScaled int64, now time.Time) error {
	if err := g.oracles.SetCustomPrice(c, priceScaled, confScaled, -int32(fixedmath.PriceDecimals), now); err != nil {
		return err
	}
	normalized, err := g.oracles.Read(c, now, false)
	if err != nil {
		return err
	}
	g.emit(&event.OraclePriceUpdated{
		Custody: c.ID, Pool: c.PoolID,
		PriceScaled: normalized.PriceScaled, ConfidenceBPS: normalized.ConfidenceScaled,
		PublishSeq: g.nextSeq(), PublishTime: now.UnixMicro(),
		UsedEMAFallback: normalized.UsedSpotFallback,
	}, nil)
	return nil
}

// SetCustomOraclePrice implements spec Supplemented features'
// set_custom_oracle_price: a multisig-gated write to a Custom-variant
// oracle, once SignInstruction("set_custom_oracle_price", custodyID,
// price, conf) has reached quorum against these exact values, matching the
// WithdrawFees/UpdateRiskParams sign-then-apply pattern.
// The signer is not itself checked here: quorum was already established by
// prior SignInstruction calls against isSigner, matching
// WithdrawFees/UpdateRiskParams. The parameter exists for request-shape
// symmetry with SetCustomOraclePricePermissionless, where it is the check.
func (g *Gateway) SetCustomOraclePrice(_, custodyID uuid.UUID, priceScaled int64, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.requireCustody(custodyID)
	if err != nil {
		return err
	}
	args := customOraclePriceArgs(priceScaled, 0)
	instruction := admin.HashInstruction("set_custom_oracle_price", append([]string{custodyID.String()}, args...)...)
	if err := admin.CheckQuorum(g.multisig, instruction); err != nil {
		return err
	}
	return g.setCustomOraclePrice(c, priceScaled, 0, now)
}

// SetCustomOraclePricePermissionless implements spec Supplemented features'
// set_custom_oracle_price_permissionless: bypasses the multisig gate for
// the single signer configured as the custody's oracle_authority.
func (g *Gateway) SetCustomOraclePricePermissionless(signer, custodyID uuid.UUID, priceScaled int64, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.requireCustody(custodyID)
	if err != nil {
		return err
	}
	if c.Oracle.OracleAuthority == uuid.Nil || signer != c.Oracle.OracleAuthority {
		return corerr.New(corerr.KindNotAuthorized, "opgateway.SetCustomOraclePricePermissionless", map[string]any{"custody": custodyID})
	}
	return g.setCustomOraclePrice(c, priceScaled, 0, now)
}

func (g *Gateway) requirePerpetuals() error {
	if g.perpetuals == nil {
		return corerr.New(corerr.KindInvalidConfig, "opgateway", map[string]any{"reason": "not initialized"})
	}
	return nil
}

func (g *Gateway) requireCustody(id uuid.UUID) (*domain.Custody, error) {
	c, ok := g.custodies[id]
	if !ok {
		return nil, corerr.New(corerr.KindCustodyNotFound, "opgateway", map[string]any{"custody": id})
	}
	return c, nil
}

// checkSlippage enforces price_limit against the quoted price in the
// direction unfavorable to the trader: entry must not exceed the limit for
// longs (or fall below it for shorts); exit must not fall below the limit
// for longs (or exceed it for shorts).
func checkSlippage(side domain.Side, intent pricing.Intent, quotedPrice, limitPrice int64) error {
	if limitPrice == 0 {
		return nil // no limit requested
	}

	unfavorable := (side == domain.SideLong && intent == pricing.IntentEntry && quotedPrice > limitPrice) ||
		(side == domain.SideShort && intent == pricing.IntentEntry && quotedPrice < limitPrice) ||
		(side == domain.SideLong && intent == pricing.IntentExit && quotedPrice < limitPrice) ||
		(side == domain.SideShort && intent == pricing.IntentExit && quotedPrice > limitPrice)

	if unfavorable {
		return corerr.New(corerr.KindMaxPriceSlippage, "opgateway.checkSlippage", map[string]any{
			"quoted": quotedPrice, "limit": limitPrice,
		})
	}
	return nil
}
