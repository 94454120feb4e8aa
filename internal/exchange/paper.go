package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperAdapter is a deterministic in-memory Adapter used by default and by
// tests. It fills every order immediately: market orders at the last known
// mark price, limit orders with a positive price at that limit price,
// grounded on the teacher's Executor.simulateExecution paper-fill path,
// pulled out here so Executor never special-cases paper trading.
type PaperAdapter struct {
	mu sync.Mutex

	connected bool

	marks     map[string]decimal.Decimal
	positions map[string]Position
	orders    map[string]PlaceOrderResult
	leverage  map[string]int
	balance   decimal.Decimal

	marketCh  chan MarketCandleEvent
	positionCh chan PositionEvent
	orderCh   chan OrderEvent
}

// NewPaperAdapter constructs a paper adapter seeded with a starting USD
// balance.
func NewPaperAdapter(startingBalance decimal.Decimal) *PaperAdapter {
	return &PaperAdapter{
		marks:      make(map[string]decimal.Decimal),
		positions:  make(map[string]Position),
		orders:     make(map[string]PlaceOrderResult),
		leverage:   make(map[string]int),
		balance:    startingBalance,
		marketCh:   make(chan MarketCandleEvent, 1024),
		positionCh: make(chan PositionEvent, 1024),
		orderCh:    make(chan OrderEvent, 1024),
	}
}

// SetMark updates the adapter's view of the current mark price for a
// symbol; tests drive the simulation by calling this directly.
func (p *PaperAdapter) SetMark(symbol string, mark decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = mark
}

func (p *PaperAdapter) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *PaperAdapter) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *PaperAdapter) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PaperAdapter) GetKlines(ctx context.Context, symbol string, interval types.Timeframe, limit int) ([]types.Candle, error) {
	return nil, fmt.Errorf("paper adapter: historical klines not available, seed the candle store directly in tests")
}

func (p *PaperAdapter) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mark, ok := p.marks[symbol]
	if !ok {
		return Ticker{}, fmt.Errorf("no mark price known for %s", symbol)
	}
	return Ticker{Symbol: symbol, Last: mark, Mark: mark, Bid: mark, Ask: mark}, nil
}

func (p *PaperAdapter) GetWalletBalance(ctx context.Context) (WalletBalance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return WalletBalance{TotalUSD: p.balance, ByCoin: map[string]decimal.Decimal{"USDT": p.balance}}, nil
}

func (p *PaperAdapter) GetPosition(ctx context.Context, symbol string) (Position, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	return pos, ok, nil
}

func (p *PaperAdapter) GetAllPositions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *PaperAdapter) GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error) {
	return InstrumentInfo{
		Symbol:      symbol,
		MinOrderQty: decimal.NewFromFloat(0.001),
		QtyStep:     decimal.NewFromFloat(0.001),
		TickSize:    decimal.NewFromFloat(0.1),
		MaxLeverage: 100,
	}, nil
}

func (p *PaperAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leverage[symbol] == leverage {
		return nil // "already set" is success, per spec §6
	}
	p.leverage[symbol] = leverage
	return nil
}

func (p *PaperAdapter) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.orders[req.LinkID]; ok {
		return existing, nil // idempotent resubmission
	}

	mark, ok := p.marks[req.Symbol]
	if !ok {
		return PlaceOrderResult{}, fmt.Errorf("no mark price known for %s", req.Symbol)
	}
	fillPrice := mark
	if req.Type == types.OrderTypeLimit && req.Price.IsPositive() {
		fillPrice = req.Price
	}

	result := PlaceOrderResult{
		OrderID:      uuid.NewString(),
		LinkID:       req.LinkID,
		Status:       types.OrderStatusFilled,
		AvgFillPrice: fillPrice,
		FilledQty:    req.Quantity,
		CreatedAt:    time.Now(),
	}
	p.orders[req.LinkID] = result

	p.applyFill(req, fillPrice)

	p.orderCh <- OrderEvent{
		OrderID: result.OrderID, LinkID: req.LinkID, Symbol: req.Symbol,
		Status: result.Status, AvgFillPrice: fillPrice, FilledQty: req.Quantity, At: time.Now(),
	}
	return result, nil
}

func (p *PaperAdapter) applyFill(req PlaceOrderRequest, fillPrice decimal.Decimal) {
	pos, exists := p.positions[req.Symbol]

	if req.ReduceOnly {
		if !exists {
			return
		}
		remaining := pos.Size.Sub(req.Quantity)
		if remaining.LessThanOrEqual(decimal.Zero) {
			pos.Size = decimal.Zero
			delete(p.positions, req.Symbol)
		} else {
			pos.Size = remaining
			p.positions[req.Symbol] = pos
		}
		p.positionCh <- PositionEvent{Position: pos, At: time.Now()}
		return
	}

	side := types.PositionSideLong
	if req.Side == types.OrderSideSell {
		side = types.PositionSideShort
	}

	if !exists {
		pos = Position{
			Symbol:    req.Symbol,
			Side:      side,
			Size:      req.Quantity,
			AvgPrice:  fillPrice,
			MarkPrice: fillPrice,
			Leverage:  p.leverage[req.Symbol],
			StopLoss:  req.StopLoss,
			TakeProfit: req.TakeProfit,
		}
	} else {
		totalSize := pos.Size.Add(req.Quantity)
		pos.AvgPrice = pos.AvgPrice.Mul(pos.Size).Add(fillPrice.Mul(req.Quantity)).Div(totalSize)
		pos.Size = totalSize
		if req.StopLoss.IsPositive() {
			pos.StopLoss = req.StopLoss
		}
		if req.TakeProfit.IsPositive() {
			pos.TakeProfit = req.TakeProfit
		}
	}
	p.positions[req.Symbol] = pos
	p.positionCh <- PositionEvent{Position: pos, At: time.Now()}
}

func (p *PaperAdapter) SetStopLoss(ctx context.Context, symbol string, side types.PositionSide, price decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	pos.StopLoss = price
	p.positions[symbol] = pos
	return nil
}

func (p *PaperAdapter) SetTakeProfit(ctx context.Context, symbol string, side types.PositionSide, price decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	pos.TakeProfit = price
	p.positions[symbol] = pos
	return nil
}

func (p *PaperAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil // filled immediately, nothing to cancel
}

func (p *PaperAdapter) CancelAllOrders(ctx context.Context, symbol string) error {
	return nil
}

func (p *PaperAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]PlaceOrderResult, error) {
	return nil, nil // paper orders fill synchronously, never remain open
}

func (p *PaperAdapter) SubscribeMarket(symbols []string, interval types.Timeframe) (<-chan MarketCandleEvent, error) {
	return p.marketCh, nil
}

func (p *PaperAdapter) SubscribePrivate() (<-chan PositionEvent, <-chan OrderEvent, error) {
	return p.positionCh, p.orderCh, nil
}

// PushCandle lets a test or feed simulator inject a market candle event.
func (p *PaperAdapter) PushCandle(c types.Candle) {
	p.marketCh <- MarketCandleEvent{Candle: c}
	p.SetMark(c.Symbol, c.Close)
}
