package execution_test

import (
	"context"
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/circuitbreaker"
	"github.com/atlas-desktop/derivatives-agent/internal/contract"
	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/internal/exchange"
	"github.com/atlas-desktop/derivatives-agent/internal/execution"
	"github.com/atlas-desktop/derivatives-agent/internal/slmanager"
	"github.com/atlas-desktop/derivatives-agent/internal/statemachine"
	"github.com/atlas-desktop/derivatives-agent/internal/storage"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeWallet struct{ balance decimal.Decimal }

func (w fakeWallet) AvailableUSD() decimal.Decimal { return w.balance }

type fakeStrategies struct{ state types.StrategyState }

func (f fakeStrategies) State(symbol string) (types.StrategyState, bool) { return f.state, true }

func longAllowedState() types.StrategyState {
	return types.StrategyState{
		Symbol:          "BTCUSDT",
		AllowLongEntry:  true,
		AllowShortEntry: false,
		Snapshot: types.StrategySnapshot{
			HasProtectedLow:   true,
			ProtectedSwingLow: 28000,
		},
	}
}

func newExecutor(t *testing.T, balance decimal.Decimal) (*execution.Executor, *exchange.PaperAdapter, *storage.Store, *statemachine.Machine) {
	t.Helper()
	logger := zap.NewNop()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	adapter := exchange.NewPaperAdapter(balance)
	adapter.SetMark("BTCUSDT", decimal.NewFromInt(30000))

	states := statemachine.New(logger)
	breaker := circuitbreaker.New(logger, circuitbreaker.DefaultConfig(), balance)
	builder := contract.New(logger, states, breaker, fakeStrategies{state: longAllowedState()}, fakeWallet{balance: balance}, contract.DefaultConfig())

	sl := slmanager.New(logger, adapter, nil)
	orderMgr := execution.NewOrderManager(logger)
	guard := execution.NewPreTradeGuard(logger, decimal.NewFromInt(1), decimal.NewFromInt(1_000_000))
	bus := events.NewBus(logger, events.Config{NumWorkers: 1, BufferSize: 64})
	t.Cleanup(bus.Stop)

	ex := execution.New(logger, adapter, builder, orderMgr, guard, sl, states, bus, store)
	sl.SetCloser(ex)
	return ex, adapter, store, states
}

func TestEnterTradePlacesOrderAndRegistersSL(t *testing.T) {
	ex, _, store, states := newExecutor(t, decimal.NewFromInt(10000))

	tc, err := ex.EnterTrade(context.Background(), types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc.Status != types.ContractExecuted {
		t.Errorf("status = %s, want ContractExecuted", tc.Status)
	}

	tradeID, side, _, ok := ex.OpenTradeForSymbol("BTCUSDT")
	if !ok || tradeID != tc.TradeID || side != types.PositionSideLong {
		t.Fatalf("expected the trade to be tracked as open, got tradeID=%s side=%s ok=%v", tradeID, side, ok)
	}

	open, err := store.OpenTrades()
	if err != nil {
		t.Fatalf("reading open trades: %v", err)
	}
	if len(open) != 1 || open[0].Contract.TradeID != tc.TradeID {
		t.Fatalf("expected the executed trade to be persisted, got %+v", open)
	}

	if got := states.State("BTCUSDT").State; got != types.StateInLong {
		t.Errorf("state = %v, want IN_LONG after a filled entry", got)
	}
}

func TestEnterTradeRejectsDuplicateSymbolEntry(t *testing.T) {
	ex, _, _, _ := newExecutor(t, decimal.NewFromInt(10000))

	if _, err := ex.EnterTrade(context.Background(), types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"}); err != nil {
		t.Fatalf("unexpected error on first entry: %v", err)
	}

	// The state machine (driven through contract.Builder) blocks a second
	// entry on a symbol with an open position.
	if _, err := ex.EnterTrade(context.Background(), types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"}); err == nil {
		t.Fatal("expected a second EnterTrade on a symbol already in position to be rejected")
	}
}

func TestRequestFullCloseClearsTrackedTrade(t *testing.T) {
	ex, _, store, states := newExecutor(t, decimal.NewFromInt(10000))

	tc, err := ex.EnterTrade(context.Background(), types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ex.RequestFullClose(context.Background(), tc.TradeID, "USER_CLOSE")

	if _, _, _, ok := ex.OpenTradeForSymbol("BTCUSDT"); ok {
		t.Fatal("expected the trade to no longer be tracked as open after a full close")
	}

	open, err := store.OpenTrades()
	if err != nil {
		t.Fatalf("reading open trades: %v", err)
	}
	for _, rec := range open {
		if rec.Contract.TradeID == tc.TradeID {
			t.Fatalf("expected the closed trade to no longer appear as open, got %+v", rec)
		}
	}

	if got := states.State("BTCUSDT").State; got != types.StateFlat {
		t.Errorf("state = %v, want FLAT after a user close", got)
	}
}

func TestRequestFullCloseOnStopLossLocksTheStoppedSide(t *testing.T) {
	ex, _, _, states := newExecutor(t, decimal.NewFromInt(10000))

	tc, err := ex.EnterTrade(context.Background(), types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ex.RequestFullClose(context.Background(), tc.TradeID, "STOP_LOSS")

	st := states.State("BTCUSDT")
	if st.State != types.StateLockLong {
		t.Errorf("state = %v, want LOCK_LONG after a stop-out", st.State)
	}
	if st.LastStoppedSide != types.PositionSideLong {
		t.Errorf("lastStoppedSide = %v, want LONG", st.LastStoppedSide)
	}

	if err := states.CanEnter("BTCUSDT", types.PositionSideLong); err == nil {
		t.Fatal("expected LOCK_LONG to deny a further long entry")
	}
	if err := states.CanEnter("BTCUSDT", types.PositionSideShort); err != nil {
		t.Fatal("expected LOCK_LONG to still permit a short entry")
	}
}

func TestRequestPartialCloseReturnsStateToInSide(t *testing.T) {
	ex, _, _, states := newExecutor(t, decimal.NewFromInt(10000))

	tc, err := ex.EnterTrade(context.Background(), types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ex.RequestPartialClose(context.Background(), tc.TradeID, "USER_CLOSE", decimal.NewFromInt(50))

	if _, _, _, ok := ex.OpenTradeForSymbol("BTCUSDT"); !ok {
		t.Fatal("expected the trade to remain tracked as open after a partial close")
	}
	if got := states.State("BTCUSDT").State; got != types.StateInLong {
		t.Errorf("state = %v, want IN_LONG after a partial close leaves a remainder", got)
	}
}

func TestRequestPartialCloseFullPercentClearsTheTrade(t *testing.T) {
	ex, _, _, states := newExecutor(t, decimal.NewFromInt(10000))

	tc, err := ex.EnterTrade(context.Background(), types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ex.RequestPartialClose(context.Background(), tc.TradeID, "USER_CLOSE", decimal.NewFromInt(100))

	if _, _, _, ok := ex.OpenTradeForSymbol("BTCUSDT"); ok {
		t.Fatal("expected a 100% partial close to clear the trade like a full close")
	}
	if got := states.State("BTCUSDT").State; got != types.StateFlat {
		t.Errorf("state = %v, want FLAT", got)
	}
}

func TestSetTrailModeIsReadBackByOpenTradeForSymbol(t *testing.T) {
	ex, _, _, _ := newExecutor(t, decimal.NewFromInt(10000))

	tc, err := ex.EnterTrade(context.Background(), types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ex.SetTrailMode(tc.TradeID, types.TrailModeStructure)

	_, _, mode, ok := ex.OpenTradeForSymbol("BTCUSDT")
	if !ok {
		t.Fatal("expected the trade to still be open")
	}
	if mode != types.TrailModeStructure {
		t.Errorf("mode = %v, want structure after SetTrailMode", mode)
	}
}

func TestCancelOpenOrdersSucceedsOnPaperAdapter(t *testing.T) {
	ex, _, _, _ := newExecutor(t, decimal.NewFromInt(10000))
	if err := ex.CancelOpenOrders(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("unexpected error cancelling orders on the paper adapter: %v", err)
	}
}

func TestRequestFullCloseIgnoresUnknownTradeID(t *testing.T) {
	ex, _, _, _ := newExecutor(t, decimal.NewFromInt(10000))
	ex.RequestFullClose(context.Background(), "nonexistent", "STOP_LOSS")
}

func TestReconcileRegistersSLForLocallyOpenTrades(t *testing.T) {
	ex, adapter, store, _ := newExecutor(t, decimal.NewFromInt(10000))

	sl := decimal.NewFromInt(28000)
	tc := types.TradeContract{
		TradeID: "trade-1", Symbol: "BTCUSDT", Side: types.PositionSideLong,
		SL:     types.SLBlock{Rule: types.SLRuleSwing, ResolvedPrice: &sl},
		Status: types.ContractExecuted,
	}
	if err := store.SaveTrade(storage.TradeRecord{Contract: tc}); err != nil {
		t.Fatalf("seeding trade: %v", err)
	}
	adapter.SetMark("BTCUSDT", decimal.NewFromInt(30000))
	// The paper adapter only reports a position once an order has filled
	// against it; simulate that by placing a matching entry directly.
	_, err := adapter.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromFloat(0.1), LinkID: "seed-link",
	})
	if err != nil {
		t.Fatalf("seeding position: %v", err)
	}

	if err := ex.Reconcile(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tradeID, side, _, ok := ex.OpenTradeForSymbol("BTCUSDT")
	if !ok || tradeID != "trade-1" || side != types.PositionSideLong {
		t.Fatalf("expected reconciliation to pick up the locally-open trade, got tradeID=%s ok=%v", tradeID, ok)
	}
}
