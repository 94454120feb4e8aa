package exchange_test

import (
	"context"
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/exchange"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
)

func TestPlaceOrderFillsImmediatelyAtMark(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(10000))
	a.SetMark("BTCUSDT", decimal.NewFromInt(30000))

	result, err := a.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromFloat(0.1), LinkID: "link-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != types.OrderStatusFilled {
		t.Errorf("status = %s, want filled", result.Status)
	}
	if !result.AvgFillPrice.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("fill price = %s, want 30000", result.AvgFillPrice)
	}

	pos, ok, err := a.GetPosition(context.Background(), "BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("expected a position to exist, ok=%v err=%v", ok, err)
	}
	if pos.Side != types.PositionSideLong || !pos.Size.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("unexpected position: %+v", pos)
	}
}

func TestPlaceOrderIsIdempotentByLinkID(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(10000))
	a.SetMark("BTCUSDT", decimal.NewFromInt(30000))

	req := exchange.PlaceOrderRequest{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromFloat(0.1), LinkID: "link-1"}
	first, err := a.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Error("expected a resubmission with the same LinkID to return the original order")
	}

	positions, err := a.GetAllPositions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 || !positions[0].Size.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("expected the duplicate submission to not double the position size, got %+v", positions)
	}
}

func TestPlaceOrderAveragesPriceOnAddToPosition(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(100000))
	a.SetMark("BTCUSDT", decimal.NewFromInt(100))
	a.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1), LinkID: "l1"})

	a.SetMark("BTCUSDT", decimal.NewFromInt(200))
	a.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1), LinkID: "l2"})

	pos, _, _ := a.GetPosition(context.Background(), "BTCUSDT")
	if !pos.AvgPrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("avg price = %s, want 150", pos.AvgPrice)
	}
	if !pos.Size.Equal(decimal.NewFromInt(2)) {
		t.Errorf("size = %s, want 2", pos.Size)
	}
}

func TestReduceOnlyOrderClosesPositionWhenFullyReduced(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(10000))
	a.SetMark("BTCUSDT", decimal.NewFromInt(30000))
	a.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeMarket, Quantity: decimal.NewFromFloat(0.1), LinkID: "l1"})

	_, err := a.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: types.OrderSideSell, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromFloat(0.1), LinkID: "l2", ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, ok, _ := a.GetPosition(context.Background(), "BTCUSDT")
	if ok {
		t.Fatal("expected the position to be fully closed after a matching reduce-only order")
	}
}

func TestReduceOnlyOrderIsANoOpWithNoExistingPosition(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(10000))
	a.SetMark("BTCUSDT", decimal.NewFromInt(30000))

	_, err := a.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: types.OrderSideSell, Type: types.OrderTypeMarket,
		Quantity: decimal.NewFromFloat(0.1), LinkID: "l1", ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := a.GetPosition(context.Background(), "BTCUSDT"); ok {
		t.Fatal("expected no position to be created by a reduce-only order")
	}
}

func TestPlaceOrderRejectsUnknownSymbol(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(10000))
	_, err := a.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{Symbol: "UNKNOWN", Type: types.OrderTypeMarket, Quantity: decimal.NewFromInt(1), LinkID: "l1"})
	if err == nil {
		t.Fatal("expected an error when no mark price is known for the symbol")
	}
}

func TestLimitOrderFillsAtLimitPrice(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(10000))
	a.SetMark("BTCUSDT", decimal.NewFromInt(30000))

	result, err := a.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeLimit,
		Price: decimal.NewFromInt(29500), Quantity: decimal.NewFromFloat(0.1), LinkID: "l1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.AvgFillPrice.Equal(decimal.NewFromInt(29500)) {
		t.Errorf("fill price = %s, want the limit price 29500", result.AvgFillPrice)
	}
}

func TestSetLeverageIsIdempotent(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(10000))
	if err := a.SetLeverage(context.Background(), "BTCUSDT", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.SetLeverage(context.Background(), "BTCUSDT", 10); err != nil {
		t.Fatalf("unexpected error on repeated identical leverage: %v", err)
	}
}

func TestGetWalletBalanceReturnsSeededBalance(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(5000))
	bal, err := a.GetWalletBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.TotalUSD.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("total USD = %s, want 5000", bal.TotalUSD)
	}
}

func TestPushCandleUpdatesMarkAndDeliversOnMarketChannel(t *testing.T) {
	a := exchange.NewPaperAdapter(decimal.NewFromInt(10000))
	ch, err := a.SubscribeMarket([]string{"BTCUSDT"}, types.Timeframe15m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.PushCandle(types.Candle{Symbol: "BTCUSDT", Close: decimal.NewFromInt(31000), Confirmed: true})

	select {
	case ev := <-ch:
		if !ev.Candle.Close.Equal(decimal.NewFromInt(31000)) {
			t.Errorf("candle close = %s, want 31000", ev.Candle.Close)
		}
	default:
		t.Fatal("expected the pushed candle to be delivered on the market channel")
	}

	ticker, err := a.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ticker.Mark.Equal(decimal.NewFromInt(31000)) {
		t.Errorf("mark = %s, want 31000 after PushCandle", ticker.Mark)
	}
}
