// Package exchange models the REST/WebSocket contract of the single
// perpetual-futures venue this agent trades against, per the External
// Interfaces design. internal/execution calls exclusively through Adapter
// so the live Executor never special-cases paper trading.
package exchange

import (
	"context"
	"time"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
)

// Kline is one OHLCV bar as returned by getKlines, oldest to newest.
type Kline struct {
	OpenTime int64
	types.Candle
}

// Ticker is the last/mark/bid/ask quote for a symbol.
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
	Mark   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// InstrumentInfo carries the rounding rules needed for size/price math.
type InstrumentInfo struct {
	Symbol      string
	MinOrderQty decimal.Decimal
	QtyStep     decimal.Decimal
	TickSize    decimal.Decimal
	MaxLeverage int
}

// PlaceOrderRequest is a single-shot order placement. SL/TP are carried in
// the same request so entry + protection is atomic; LinkID is the
// idempotency key the venue (and our own Order Manager) dedupe on.
type PlaceOrderRequest struct {
	Symbol     string
	Side       types.OrderSide
	Type       types.OrderType
	Quantity   decimal.Decimal
	Price      decimal.Decimal // set iff Type == Limit
	ReduceOnly bool
	LinkID     string
	StopLoss   decimal.Decimal // emergency SL, zero if none
	TakeProfit decimal.Decimal // zero if none
}

// PlaceOrderResult mirrors the exchange's order acknowledgement.
type PlaceOrderResult struct {
	OrderID      string
	LinkID       string
	Status       types.OrderStatus
	AvgFillPrice decimal.Decimal
	FilledQty    decimal.Decimal
	CreatedAt    time.Time
}

// Position mirrors one exchange-side open position.
type Position struct {
	Symbol          string
	Side            types.PositionSide
	Size            decimal.Decimal
	AvgPrice        decimal.Decimal
	MarkPrice       decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	Leverage        int
	LiquidationPrice decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfit      decimal.Decimal
}

// WalletBalance is the summed-by-USD-value wallet balance, per spec §9's
// resolved open question (sum over all coins; USDT/USDC use equity
// directly, else the coin's usd-value).
type WalletBalance struct {
	TotalUSD decimal.Decimal
	ByCoin   map[string]decimal.Decimal
}

// PositionEvent is one private-feed position update.
type PositionEvent struct {
	Position Position
	At       time.Time
}

// OrderEvent is one private-feed order status update.
type OrderEvent struct {
	OrderID      string
	LinkID       string
	Symbol       string
	Status       types.OrderStatus
	AvgFillPrice decimal.Decimal
	FilledQty    decimal.Decimal
	At           time.Time
}

// MarketCandleEvent is one market-feed kline update (live or confirmed).
type MarketCandleEvent struct {
	Candle types.Candle
}

// Adapter is the full REST + WebSocket contract this agent needs from a
// perpetual-futures exchange. A single adapter instance is shared by every
// component that talks to the venue; the default implementation is
// PaperAdapter.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	GetKlines(ctx context.Context, symbol string, interval types.Timeframe, limit int) ([]types.Candle, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetWalletBalance(ctx context.Context) (WalletBalance, error)
	GetPosition(ctx context.Context, symbol string) (Position, bool, error)
	GetAllPositions(ctx context.Context) ([]Position, error)
	GetInstrumentInfo(ctx context.Context, symbol string) (InstrumentInfo, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error)
	SetStopLoss(ctx context.Context, symbol string, side types.PositionSide, price decimal.Decimal) error
	SetTakeProfit(ctx context.Context, symbol string, side types.PositionSide, price decimal.Decimal) error
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]PlaceOrderResult, error)

	SubscribeMarket(symbols []string, interval types.Timeframe) (<-chan MarketCandleEvent, error)
	SubscribePrivate() (<-chan PositionEvent, <-chan OrderEvent, error)
}
