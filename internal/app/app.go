// Package app wires every domain package into one running agent: storage,
// candle buffering, the strategy engine, the trade-lifecycle state machine,
// the circuit breaker, the event bus and its audit logger, the trade
// contract builder, SL/trailing/watch management, intent parsing, the
// executor, and the API server. Context is the single type that satisfies
// internal/api.Agent.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/api"
	"github.com/atlas-desktop/derivatives-agent/internal/candles"
	"github.com/atlas-desktop/derivatives-agent/internal/circuitbreaker"
	"github.com/atlas-desktop/derivatives-agent/internal/config"
	"github.com/atlas-desktop/derivatives-agent/internal/contract"
	"github.com/atlas-desktop/derivatives-agent/internal/data"
	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/internal/exchange"
	"github.com/atlas-desktop/derivatives-agent/internal/execution"
	"github.com/atlas-desktop/derivatives-agent/internal/intent"
	"github.com/atlas-desktop/derivatives-agent/internal/position"
	"github.com/atlas-desktop/derivatives-agent/internal/reasoncode"
	"github.com/atlas-desktop/derivatives-agent/internal/slmanager"
	"github.com/atlas-desktop/derivatives-agent/internal/statemachine"
	"github.com/atlas-desktop/derivatives-agent/internal/storage"
	"github.com/atlas-desktop/derivatives-agent/internal/strategy"
	"github.com/atlas-desktop/derivatives-agent/internal/trailing"
	"github.com/atlas-desktop/derivatives-agent/internal/watch"
	"github.com/atlas-desktop/derivatives-agent/internal/workers"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Context owns every wired component and implements internal/api.Agent.
type Context struct {
	logger *zap.Logger
	cfg    config.Config

	store       *storage.Store
	candleStore *candles.Store
	dataStore   *data.Store

	bus         *events.Bus
	eventLogger *events.Logger

	states     *statemachine.Machine
	breaker    *circuitbreaker.Breaker
	strategies *strategy.Engine

	builder  *contract.Builder
	sl       *slmanager.Manager
	trailer  *trailing.Manager
	tracker  *position.Tracker
	watches  *watch.Manager
	parser   *intent.Parser
	orderMgr *execution.OrderManager
	guard    *execution.PreTradeGuard
	executor *execution.Executor

	adapter exchange.Adapter
	server  *api.Server
	pool    *workers.Pool

	symbols   []string
	timeframe types.Timeframe
}

// walletView adapts exchange.Adapter into contract.Wallet. It makes one
// synchronous balance call per lookup; PaperAdapter answers from memory, a
// live adapter would cache this, but that caching belongs to the adapter,
// not to the contract package.
type walletView struct {
	logger  *zap.Logger
	adapter exchange.Adapter
}

func (w *walletView) AvailableUSD() decimal.Decimal {
	bal, err := w.adapter.GetWalletBalance(context.Background())
	if err != nil {
		w.logger.Warn("wallet balance lookup failed, treating as zero", zap.Error(err))
		return decimal.Zero
	}
	return bal.TotalUSD
}

// New wires every component per cfg and returns a Context ready for Run.
func New(logger *zap.Logger, cfg config.Config) (*Context, error) {
	store, err := storage.Open(cfg.Data.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	dataStore, err := data.NewStore(logger, cfg.Data.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening historical data store: %w", err)
	}

	candleStore := candles.NewStore(candles.DefaultCapacity)
	bus := events.NewBus(logger, events.DefaultConfig())
	eventLogger := events.NewLogger(bus, store, logger)

	states := statemachine.New(logger)
	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.Agent.CircuitBreakerLossPct > 0 {
		breakerCfg.LossThresholdPct = decimal.NewFromFloat(cfg.Agent.CircuitBreakerLossPct)
	}
	breaker := circuitbreaker.New(logger, breakerCfg, decimal.NewFromFloat(cfg.Agent.StartingBalance))
	strategies := strategy.NewEngine(logger, strategy.DefaultConfig())

	adapter := exchange.NewPaperAdapter(decimal.NewFromFloat(cfg.Agent.StartingBalance))
	wallet := &walletView{logger: logger.Named("wallet"), adapter: adapter}

	builder := contract.New(logger, states, breaker, strategies, wallet, contract.Config{
		DefaultLeverage: cfg.Agent.DefaultLeverage,
		DefaultRiskPct:  cfg.Agent.DefaultRiskPercentDecimal(),
	})

	sl := slmanager.New(logger, adapter, nil)

	orderMgr := execution.NewOrderManager(logger)
	guard := execution.NewPreTradeGuard(logger, decimal.NewFromFloat(1), decimal.NewFromFloat(1_000_000))

	executor := execution.New(logger, adapter, builder, orderMgr, guard, sl, states, bus, store)
	sl.SetCloser(executor)

	trailer := trailing.New(logger, sl, executor)
	tracker := position.New(logger, bus)

	c := &Context{
		logger: logger.Named("app"), cfg: cfg,
		store: store, candleStore: candleStore, dataStore: dataStore,
		bus: bus, eventLogger: eventLogger,
		states: states, breaker: breaker, strategies: strategies,
		builder: builder, sl: sl, trailer: trailer, tracker: tracker,
		orderMgr: orderMgr, guard: guard, executor: executor,
		adapter: adapter, pool: workers.NewPool(logger, workers.DefaultPoolConfig("agent")),
		symbols: cfg.Agent.Symbols, timeframe: types.Timeframe(cfg.Agent.Timeframe),
	}

	c.watches = watch.New(logger, bus, dispatchFunc(c.dispatchIntent))
	c.parser = intent.NewParser(logger)

	strategies.OnStateUpdate(func(state types.StrategyState) {
		trailer.OnConfirmedClose(state)
		c.watches.OnConfirmedClose(state)
		c.clearLockOnSignalFlip(state)
	})

	c.server = api.NewServer(logger, cfg.Server.ToServerConfig(), c, bus, dataStore)
	return c, nil
}

// dispatchFunc adapts a plain function to watch.IntentSink.
type dispatchFunc func(types.Intent)

func (f dispatchFunc) Dispatch(i types.Intent) { f(i) }

func (c *Context) dispatchIntent(i types.Intent) {
	if _, err := c.executor.EnterTrade(context.Background(), i); err != nil {
		c.logger.Warn("watch-triggered entry rejected", zap.String("symbol", i.Symbol), zap.Error(err))
	}
}

// Run starts the worker pool, reconciles state against the exchange, begins
// consuming the market and private feeds, and blocks serving the API until
// ctx is cancelled.
func (c *Context) Run(ctx context.Context) error {
	c.pool.Start()

	if err := c.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to exchange: %w", err)
	}
	if err := c.executor.Reconcile(ctx); err != nil {
		c.logger.Error("startup reconciliation failed", zap.Error(err))
	}

	candleEvents, err := c.adapter.SubscribeMarket(c.symbols, c.timeframe)
	if err != nil {
		return fmt.Errorf("subscribing to market feed: %w", err)
	}
	positionEvents, _, err := c.adapter.SubscribePrivate()
	if err != nil {
		return fmt.Errorf("subscribing to private feed: %w", err)
	}

	go c.tracker.Run(positionEvents)
	go c.consumeCandles(candleEvents)
	go c.runWatchExpiry(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- c.server.Start() }()

	select {
	case <-ctx.Done():
		return c.shutdown()
	case err := <-errCh:
		return err
	}
}

func (c *Context) shutdown() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.server.Stop(stopCtx); err != nil {
		c.logger.Warn("api server shutdown error", zap.Error(err))
	}
	c.pool.Stop()
	return c.store.Close()
}

// consumeCandles ingests every market candle into the candle store and, on
// each confirmed close, re-evaluates the strategy state.
func (c *Context) consumeCandles(ch <-chan exchange.MarketCandleEvent) {
	for ev := range ch {
		c.candleStore.Ingest(ev.Candle)
		if !ev.Candle.Confirmed {
			continue
		}
		confirmed := c.candleStore.Confirmed(ev.Candle.Symbol, ev.Candle.Timeframe)
		symbol := ev.Candle.Symbol
		closePrice := ev.Candle.Close
		if err := c.pool.SubmitFunc(func() error {
			c.strategies.Evaluate(symbol, ev.Candle.Timeframe, confirmed)
			c.sl.CheckClose(context.Background(), c.findTradeID(symbol), closePrice)
			return nil
		}); err != nil {
			c.logger.Warn("failed to submit strategy evaluation", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// clearLockOnSignalFlip is the anti-revenge mechanism's other half: a lock
// only clears on an opposite-direction signal (or an admin unlock), never on
// a timer. It runs on every confirmed-close re-evaluation, so a lock held
// since the last stop-out clears the moment the strategy flips direction.
func (c *Context) clearLockOnSignalFlip(state types.StrategyState) {
	var side types.PositionSide
	switch state.Bias {
	case types.BiasLong:
		side = types.PositionSideLong
	case types.BiasShort:
		side = types.PositionSideShort
	default:
		return
	}
	c.states.ClearLock(state.Symbol, side)
}

func (c *Context) findTradeID(symbol string) string {
	tradeID, _, _, ok := c.executor.OpenTradeForSymbol(symbol)
	if !ok {
		return ""
	}
	return tradeID
}

// runWatchExpiry periodically retires overdue watch rules.
func (c *Context) runWatchExpiry(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.watches.ExpireOverdue(now)
		}
	}
}

// --- api.Agent ---

func (c *Context) Pause()  { c.states.Pause() }
func (c *Context) Resume() { c.states.Resume() }
func (c *Context) Paused() bool { return c.states.Paused() }

func (c *Context) CircuitBreakerState() types.CircuitBreakerState { return c.breaker.State() }
func (c *Context) OverrideCircuitBreaker()                        { c.breaker.ManualOverride() }
func (c *Context) ResetCircuitBreaker() {
	c.breaker.Reset(decimal.NewFromFloat(c.cfg.Agent.StartingBalance))
}

func (c *Context) TradeState(symbol string) types.SymbolTradeState { return c.states.State(symbol) }

// ForceUnlockSymbol is the admin override for the anti-revenge lock: it
// forces a symbol back to FLAT regardless of which side is locked out.
func (c *Context) ForceUnlockSymbol(symbol string) {
	c.states.ForceUnlock(symbol)
	events.Record(c.bus, types.EventForceUnlocked, symbol, "", "admin force-unlock", nil)
}

func (c *Context) StrategyState(symbol string) (types.StrategyState, bool) {
	return c.strategies.State(symbol)
}

func (c *Context) OpenPositions(ctx context.Context) ([]exchange.Position, error) {
	return c.adapter.GetAllPositions(ctx)
}

func (c *Context) OpenTrades() ([]storage.TradeRecord, error) { return c.store.OpenTrades() }

func (c *Context) DispatchCommand(raw string) (types.Intent, error) {
	i, err := c.parser.Parse(raw)
	if err != nil {
		return types.Intent{}, reasoncode.New(reasoncode.CodeUnparseableCommand, err.Error(), "")
	}

	ctx := context.Background()

	switch i.Action {
	case types.IntentEnterLong, types.IntentEnterShort:
		if _, err := c.executor.EnterTrade(ctx, i); err != nil {
			return i, err
		}
	case types.IntentClose:
		tradeID, ok := c.requireOpenTrade(i.Symbol)
		if !ok {
			return i, reasoncode.New(reasoncode.CodeInconsistentState, "no open trade for "+i.Symbol, "")
		}
		c.executor.RequestFullClose(ctx, tradeID, "USER_CLOSE")
	case types.IntentClosePartial:
		tradeID, ok := c.requireOpenTrade(i.Symbol)
		if !ok {
			return i, reasoncode.New(reasoncode.CodeInconsistentState, "no open trade for "+i.Symbol, "")
		}
		if i.PartialClosePercent == nil {
			return i, reasoncode.New(reasoncode.CodeInvalidIntent, "partial close requires a percent", "")
		}
		c.executor.RequestPartialClose(ctx, tradeID, "USER_CLOSE", *i.PartialClosePercent)
	case types.IntentCancelOrder:
		if err := c.executor.CancelOpenOrders(ctx, i.Symbol); err != nil {
			return i, err
		}
	case types.IntentMoveSL:
		tradeID, ok := c.requireOpenTrade(i.Symbol)
		if !ok {
			return i, reasoncode.New(reasoncode.CodeInconsistentState, "no open trade for "+i.Symbol, "")
		}
		if i.SLPrice == nil {
			return i, reasoncode.New(reasoncode.CodeInvalidIntent, "move-sl requires a price", "")
		}
		if err := c.sl.Update(ctx, tradeID, *i.SLPrice); err != nil {
			return i, reasoncode.New(reasoncode.CodeExchangeError, err.Error(), "")
		}
	case types.IntentSetTP:
		tradeID, ok := c.requireOpenTrade(i.Symbol)
		if !ok {
			return i, reasoncode.New(reasoncode.CodeInconsistentState, "no open trade for "+i.Symbol, "")
		}
		if i.TPPrice == nil {
			return i, reasoncode.New(reasoncode.CodeInvalidIntent, "set-tp requires a price", "")
		}
		if err := c.executor.SetTakeProfit(ctx, tradeID, *i.TPPrice); err != nil {
			return i, err
		}
	case types.IntentSetTrail:
		tradeID, ok := c.requireOpenTrade(i.Symbol)
		if !ok {
			return i, reasoncode.New(reasoncode.CodeInconsistentState, "no open trade for "+i.Symbol, "")
		}
		c.executor.SetTrailMode(tradeID, i.TrailMode)
	case types.IntentPause:
		c.states.Pause()
	case types.IntentResume:
		c.states.Resume()
	case types.IntentWatchCreate, types.IntentWatchCancel, types.IntentOpinion, types.IntentInfo:
		// informational or routed through the dedicated watch API, not DispatchCommand.
	default:
		return i, reasoncode.New(reasoncode.CodeUnsupportedAction, "no handler for action "+string(i.Action), "")
	}
	return i, nil
}

func (c *Context) requireOpenTrade(symbol string) (tradeID string, ok bool) {
	tradeID, _, _, ok = c.executor.OpenTradeForSymbol(symbol)
	return tradeID, ok
}

func (c *Context) CreateWatch(rule types.WatchRule) string { return c.watches.Create(rule) }
func (c *Context) CancelWatch(id string) bool              { return c.watches.Cancel(id) }
func (c *Context) ActiveWatches() []types.WatchRule         { return c.watches.Active() }
