// Package execution places and tracks orders against the configured
// exchange.Adapter, admits entries through the Trade Contract Builder, and
// reconciles local state with the exchange on startup.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/contract"
	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/internal/exchange"
	"github.com/atlas-desktop/derivatives-agent/internal/reasoncode"
	"github.com/atlas-desktop/derivatives-agent/internal/slmanager"
	"github.com/atlas-desktop/derivatives-agent/internal/statemachine"
	"github.com/atlas-desktop/derivatives-agent/internal/storage"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Executor turns an admitted TradeContract into exchange orders, and the
// reverse: closes and SL triggers into exchange orders. It never special
// cases paper trading — every call goes through exchange.Adapter, whose
// default implementation is exchange.PaperAdapter.
type Executor struct {
	logger   *zap.Logger
	adapter  exchange.Adapter
	builder  *contract.Builder
	orderMgr *OrderManager
	guard    *PreTradeGuard
	sl       *slmanager.Manager
	states   *statemachine.Machine
	bus      *events.Bus
	store    *storage.Store

	mu         sync.RWMutex
	active     map[string]string          // symbol -> tradeID, for open trades this process knows about
	trailModes map[string]types.TrailMode // tradeID -> active trail mode, mutable via SET_TRAIL
}

// New constructs an Executor.
func New(logger *zap.Logger, adapter exchange.Adapter, builder *contract.Builder, orderMgr *OrderManager, guard *PreTradeGuard, sl *slmanager.Manager, states *statemachine.Machine, bus *events.Bus, store *storage.Store) *Executor {
	return &Executor{
		logger:     logger.Named("executor"),
		adapter:    adapter,
		builder:    builder,
		orderMgr:   orderMgr,
		guard:      guard,
		sl:         sl,
		states:     states,
		bus:        bus,
		store:      store,
		active:     make(map[string]string),
		trailModes: make(map[string]types.TrailMode),
	}
}

// Reconcile runs at startup: it loads locally-persisted open trades and
// cross-checks them against the exchange's reported positions. A trade this
// process believes is open but the exchange no longer reports is logged as
// an out-of-band close; a position the exchange reports with no matching
// local trade is logged as unknown and left alone rather than guessed at.
func (e *Executor) Reconcile(ctx context.Context) error {
	localTrades, err := e.store.OpenTrades()
	if err != nil {
		return fmt.Errorf("loading open trades: %w", err)
	}
	remotePositions, err := e.adapter.GetAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("loading exchange positions: %w", err)
	}
	remoteBySymbol := make(map[string]exchange.Position, len(remotePositions))
	for _, p := range remotePositions {
		remoteBySymbol[p.Symbol] = p
	}

	e.mu.Lock()
	for _, t := range localTrades {
		if _, stillOpen := remoteBySymbol[t.Contract.Symbol]; !stillOpen {
			events.Record(e.bus, types.EventUnknownRestartClose, t.Contract.Symbol, t.Contract.TradeID,
				"locally-open trade has no matching exchange position after restart", nil)
			continue
		}
		e.active[t.Contract.Symbol] = t.Contract.TradeID
		e.sl.Register(slLevelsFromContract(t.Contract))
	}
	e.mu.Unlock()

	for symbol := range remoteBySymbol {
		if _, known := e.findTradeID(symbol); !known {
			e.logger.Warn("exchange reports an open position with no matching local trade", zap.String("symbol", symbol))
		}
	}

	events.Record(e.bus, types.EventReconciled, "", "", "startup reconciliation complete", map[string]any{
		"localTrades": len(localTrades), "remotePositions": len(remotePositions),
	})
	return nil
}

func (e *Executor) findTradeID(symbol string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.active[symbol]
	return id, ok
}

// OpenTradeForSymbol implements trailing.TradeLookup.
func (e *Executor) OpenTradeForSymbol(symbol string) (tradeID string, side types.PositionSide, mode types.TrailMode, ok bool) {
	tradeID, ok = e.findTradeID(symbol)
	if !ok {
		return "", "", "", false
	}
	levels, ok := e.sl.Levels(tradeID)
	if !ok {
		return "", "", "", false
	}
	e.mu.RLock()
	mode, hasMode := e.trailModes[tradeID]
	e.mu.RUnlock()
	if !hasMode {
		mode = types.TrailModeSupertrend
	}
	return tradeID, levels.Side, mode, true
}

// SetTrailMode implements SET_TRAIL: it swaps the active trail mode for an
// open trade; the Trailing Manager reads it on the next confirmed close.
func (e *Executor) SetTrailMode(tradeID string, mode types.TrailMode) {
	e.mu.Lock()
	e.trailModes[tradeID] = mode
	e.mu.Unlock()
}

func slLevelsFromContract(tc types.TradeContract) types.SLLevels {
	var strategic decimal.Decimal
	if tc.SL.ResolvedPrice != nil {
		strategic = *tc.SL.ResolvedPrice
	}
	return types.SLLevels{
		TradeID:    tc.TradeID,
		Symbol:     tc.Symbol,
		Side:       tc.Side,
		Strategic:  strategic,
		Emergency:  strategic,
		BufferPct:  decimal.NewFromFloat(0.5),
		UpdatedAt:  time.Now(),
	}
}

// EnterTrade admits and places a single entry: it builds the TradeContract
// through the five-step admission order, then issues one atomic order
// (entry + SL/TP) against the exchange. The emergency SL buffer defaults to
// 0.5% beyond the strategic stop.
func (e *Executor) EnterTrade(ctx context.Context, intent types.Intent) (*types.TradeContract, error) {
	ticker, err := e.adapter.GetTicker(ctx, intent.Symbol)
	if err != nil {
		return nil, reasoncode.New(reasoncode.CodeExchangeError, fmt.Sprintf("ticker unavailable: %v", err), "")
	}
	inst, err := e.adapter.GetInstrumentInfo(ctx, intent.Symbol)
	if err != nil {
		return nil, reasoncode.New(reasoncode.CodeExchangeError, fmt.Sprintf("instrument info unavailable: %v", err), "")
	}

	tc, size, rej := e.builder.Build(intent, ticker.Mark, contract.Instrument{
		MinOrderQty: inst.MinOrderQty, QtyStep: inst.QtyStep, TickSize: inst.TickSize, MaxLeverage: inst.MaxLeverage,
	})
	if rej != nil {
		events.Record(e.bus, eventForRejection(rej.Code), intent.Symbol, "", rej.Message, nil)
		return nil, rej
	}

	if err := e.guard.Check(size, ticker.Mark); err != nil {
		events.Record(e.bus, types.EventEntrySizeError, intent.Symbol, tc.TradeID, err.Error(), nil)
		return nil, reasoncode.New(reasoncode.CodeSizeCalcError, err.Error(), "")
	}

	if err := e.adapter.SetLeverage(ctx, intent.Symbol, tc.Entry.AppliedLev); err != nil {
		return nil, reasoncode.New(reasoncode.CodeExchangeError, fmt.Sprintf("set leverage failed: %v", err), "")
	}

	side := types.OrderSideBuy
	if tc.Side == types.PositionSideShort {
		side = types.OrderSideSell
	}

	emergencyBuffer := decimal.NewFromFloat(0.5)
	var emergency decimal.Decimal
	if tc.SL.ResolvedPrice != nil {
		one := decimal.NewFromInt(1)
		bufferFrac := emergencyBuffer.Div(decimal.NewFromInt(100))
		if tc.Side == types.PositionSideLong {
			emergency = tc.SL.ResolvedPrice.Mul(one.Sub(bufferFrac))
		} else {
			emergency = tc.SL.ResolvedPrice.Mul(one.Add(bufferFrac))
		}
	}

	linkID := uuid.NewString()
	req := exchange.PlaceOrderRequest{
		Symbol: intent.Symbol, Side: side, Type: tc.Entry.OrderType,
		Quantity: size, LinkID: linkID, StopLoss: emergency,
	}
	if tc.Entry.LimitPrice != nil {
		req.Price = *tc.Entry.LimitPrice
	}
	if tc.TP.Price != nil {
		req.TakeProfit = *tc.TP.Price
	}

	_, seen := e.orderMgr.TrackOrder(storage.OrderRecord{
		LinkID: linkID, TradeID: tc.TradeID, Symbol: intent.Symbol, Side: side,
		Type: tc.Entry.OrderType, Size: size, ReduceOnly: false, Status: types.OrderStatusPending, IsEntry: true,
	})
	if seen {
		e.logger.Warn("duplicate entry submission suppressed", zap.String("linkId", linkID))
		return tc, nil
	}

	result, err := e.adapter.PlaceOrder(ctx, req)
	if err != nil {
		e.orderMgr.ApplyFill(linkID, types.OrderStatusRejected, decimal.Zero, decimal.Zero)
		return nil, reasoncode.New(reasoncode.CodeExchangeError, fmt.Sprintf("order placement failed: %v", err), "")
	}
	e.orderMgr.ApplyFill(linkID, result.Status, result.AvgFillPrice, result.FilledQty)

	tc.Status = types.ContractExecuted
	now := time.Now()

	e.mu.Lock()
	e.active[intent.Symbol] = tc.TradeID
	e.mu.Unlock()

	e.states.EnterPosition(intent.Symbol, tc.Side)

	e.sl.Register(types.SLLevels{
		TradeID: tc.TradeID, Symbol: intent.Symbol, Side: tc.Side,
		Strategic: *tc.SL.ResolvedPrice, Emergency: emergency, BufferPct: emergencyBuffer,
		EntryPrice: result.AvgFillPrice, UpdatedAt: now,
	})

	if err := e.store.SaveTradeWithEvent(storage.TradeRecord{Contract: *tc, ExecutedAt: &now, RealizedPnL: decimal.Zero}, types.Event{
		ID: events.NewEventID(), Symbol: intent.Symbol, TradeID: tc.TradeID, Type: types.EventEntryPlaced,
		Message: "entry placed", Timestamp: now,
	}); err != nil {
		e.logger.Error("failed to persist executed trade", zap.Error(err))
	}
	events.Record(e.bus, types.EventEntryPlaced, intent.Symbol, tc.TradeID, "entry placed", map[string]any{
		"side": tc.Side, "size": size.String(), "avgFillPrice": result.AvgFillPrice.String(),
	})

	return tc, nil
}

// RequestFullClose implements slmanager.CloseRequester: it places a
// reduce-only market order closing the whole position and releases the
// trade's SL levels. The state machine moves to EXITING for the duration of
// the close and on to FLAT or a lock state once it completes, per the
// per-symbol trade lifecycle.
func (e *Executor) RequestFullClose(ctx context.Context, tradeID, reason string) {
	symbol, side, ok := e.resolveTrade(tradeID)
	if !ok {
		e.logger.Warn("close requested for unknown trade", zap.String("tradeId", tradeID))
		return
	}
	e.states.StartExiting(symbol)

	pos, ok, err := e.adapter.GetPosition(ctx, symbol)
	if err != nil || !ok || pos.Size.IsZero() {
		e.logger.Warn("close requested but exchange reports no open position", zap.String("symbol", symbol), zap.Error(err))
		e.clearTrade(symbol, tradeID, side, reason)
		return
	}

	e.closePosition(ctx, tradeID, symbol, side, pos.Size, reason)
}

// RequestPartialClose places a reduce-only market order sized to
// position_size * percent/100. A percent that rounds to the full position
// is treated as a full close; otherwise the state machine returns to
// IN_side once the reduce-only order completes, since the position stays
// open.
func (e *Executor) RequestPartialClose(ctx context.Context, tradeID, reason string, percent decimal.Decimal) {
	symbol, side, ok := e.resolveTrade(tradeID)
	if !ok {
		e.logger.Warn("partial close requested for unknown trade", zap.String("tradeId", tradeID))
		return
	}
	e.states.StartExiting(symbol)

	pos, ok, err := e.adapter.GetPosition(ctx, symbol)
	if err != nil || !ok || pos.Size.IsZero() {
		e.logger.Warn("partial close requested but exchange reports no open position", zap.String("symbol", symbol), zap.Error(err))
		e.clearTrade(symbol, tradeID, side, reason)
		return
	}

	if percent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		e.closePosition(ctx, tradeID, symbol, side, pos.Size, reason)
		return
	}

	closeQty := pos.Size.Mul(percent).Div(decimal.NewFromInt(100))
	remainder := pos.Size.Sub(closeQty)
	if closeQty.LessThanOrEqual(decimal.Zero) {
		e.states.EnterPosition(symbol, side)
		return
	}
	if remainder.LessThanOrEqual(decimal.Zero) {
		e.closePosition(ctx, tradeID, symbol, side, pos.Size, reason)
		return
	}

	closeSide := types.OrderSideSell
	if side == types.PositionSideShort {
		closeSide = types.OrderSideBuy
	}

	linkID := uuid.NewString()
	_, seen := e.orderMgr.TrackOrder(storage.OrderRecord{
		LinkID: linkID, TradeID: tradeID, Symbol: symbol, Side: closeSide,
		Type: types.OrderTypeMarket, Size: closeQty, ReduceOnly: true, Status: types.OrderStatusPending, IsExit: true,
	})
	if seen {
		e.states.EnterPosition(symbol, side)
		return
	}

	result, err := e.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: symbol, Side: closeSide, Type: types.OrderTypeMarket, Quantity: closeQty, ReduceOnly: true, LinkID: linkID,
	})
	if err != nil {
		e.logger.Error("partial close order failed", zap.String("tradeId", tradeID), zap.Error(err))
		e.states.EnterPosition(symbol, side)
		return
	}
	e.orderMgr.ApplyFill(linkID, result.Status, result.AvgFillPrice, result.FilledQty)

	events.Record(e.bus, types.EventExitFilled, symbol, tradeID, reason, map[string]any{
		"avgFillPrice": result.AvgFillPrice.String(), "percent": percent.String(), "partial": true,
	})
	e.states.EnterPosition(symbol, side)
}

// SetTakeProfit implements SET_TP: it moves the exchange-side take-profit
// trigger for the open trade's symbol without touching the Strategic/
// Emergency SL pair.
func (e *Executor) SetTakeProfit(ctx context.Context, tradeID string, price decimal.Decimal) error {
	symbol, side, ok := e.resolveTrade(tradeID)
	if !ok {
		return reasoncode.New(reasoncode.CodeInconsistentState, "no open trade for take-profit update", "")
	}
	if err := e.adapter.SetTakeProfit(ctx, symbol, side, price); err != nil {
		return reasoncode.New(reasoncode.CodeExchangeError, fmt.Sprintf("set take profit failed: %v", err), "")
	}
	return nil
}

// CancelOpenOrders implements CANCEL_ORDER: it cancels every resting order
// on the symbol (the parsed Intent carries no specific order id to target).
func (e *Executor) CancelOpenOrders(ctx context.Context, symbol string) error {
	if err := e.adapter.CancelAllOrders(ctx, symbol); err != nil {
		return reasoncode.New(reasoncode.CodeExchangeError, fmt.Sprintf("cancel orders failed: %v", err), "")
	}
	events.Record(e.bus, types.EventOrderCancelled, symbol, "", "all open orders cancelled", nil)
	return nil
}

// closePosition places the reduce-only market order that fully closes qty
// and finalizes local bookkeeping once it fills.
func (e *Executor) closePosition(ctx context.Context, tradeID, symbol string, side types.PositionSide, qty decimal.Decimal, reason string) {
	closeSide := types.OrderSideSell
	if side == types.PositionSideShort {
		closeSide = types.OrderSideBuy
	}

	linkID := uuid.NewString()
	_, seen := e.orderMgr.TrackOrder(storage.OrderRecord{
		LinkID: linkID, TradeID: tradeID, Symbol: symbol, Side: closeSide,
		Type: types.OrderTypeMarket, Size: qty, ReduceOnly: true, Status: types.OrderStatusPending, IsExit: true,
	})
	if seen {
		return
	}

	result, err := e.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: symbol, Side: closeSide, Type: types.OrderTypeMarket, Quantity: qty, ReduceOnly: true, LinkID: linkID,
	})
	if err != nil {
		e.logger.Error("full close order failed", zap.String("tradeId", tradeID), zap.Error(err))
		return
	}
	e.orderMgr.ApplyFill(linkID, result.Status, result.AvgFillPrice, result.FilledQty)

	e.clearTrade(symbol, tradeID, side, reason)
	events.Record(e.bus, types.EventExitFilled, symbol, tradeID, reason, map[string]any{
		"avgFillPrice": result.AvgFillPrice.String(),
	})
}

func (e *Executor) resolveTrade(tradeID string) (symbol string, side types.PositionSide, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for sym, id := range e.active {
		if id == tradeID {
			levels, lok := e.sl.Levels(tradeID)
			if lok {
				return sym, levels.Side, true
			}
			return sym, "", true
		}
	}
	return "", "", false
}

// clearTrade releases local bookkeeping for a fully-closed trade and moves
// the state machine to FLAT (a clean exit) or the lock state for the
// stopped side (a STOP_LOSS exit) — the anti-revenge mechanism.
func (e *Executor) clearTrade(symbol, tradeID string, side types.PositionSide, reason string) {
	e.mu.Lock()
	delete(e.active, symbol)
	delete(e.trailModes, tradeID)
	e.mu.Unlock()
	e.sl.Release(tradeID)

	if reason == "STOP_LOSS" {
		e.states.ExitStopped(symbol, side)
	} else {
		e.states.ExitClean(symbol)
	}

	now := time.Now()
	if err := e.store.SaveTrade(storage.TradeRecord{
		Contract:   types.TradeContract{TradeID: tradeID, Symbol: symbol, Status: types.ContractExecuted},
		ClosedAt:   &now,
		ExitReason: reason,
	}); err != nil {
		e.logger.Error("failed to persist trade close", zap.Error(err))
	}
}

func eventForRejection(code reasoncode.Code) types.EventType {
	switch code {
	case reasoncode.CodePaused:
		return types.EventEntryBlockedPause
	case reasoncode.CodeCircuitBreaker:
		return types.EventEntryBlockedCircuit
	case reasoncode.CodeStateLock, reasoncode.CodeStateExiting, reasoncode.CodeStateInPosition:
		return types.EventEntryBlockedState
	case reasoncode.CodeDirectionDisallowed:
		return types.EventEntryBlockedDirection
	default:
		return types.EventEntrySizeError
	}
}
