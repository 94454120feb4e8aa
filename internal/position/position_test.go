package position_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/internal/exchange"
	"github.com/atlas-desktop/derivatives-agent/internal/position"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func waitForEvent(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return types.Event{}
	}
}

func subscribeAll(bus *events.Bus) <-chan types.Event {
	ch := make(chan types.Event, 16)
	bus.SubscribeAll(func(ev types.Event) error {
		ch <- ev
		return nil
	}, events.SubscriptionOptions{Async: false})
	return ch
}

func TestTrackerEmitsPositionOpened(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.Config{NumWorkers: 1, BufferSize: 16})
	defer bus.Stop()
	ch := subscribeAll(bus)
	tr := position.New(zap.NewNop(), bus)

	feed := make(chan exchange.PositionEvent, 1)
	feed <- exchange.PositionEvent{Position: exchange.Position{
		Symbol: "BTCUSDT", Side: types.PositionSideLong,
		Size: decimal.NewFromFloat(0.1), AvgPrice: decimal.NewFromInt(30000),
	}}
	close(feed)
	tr.Run(feed)

	ev := waitForEvent(t, ch)
	if ev.Type != types.EventPositionOpened {
		t.Errorf("event type = %s, want %s", ev.Type, types.EventPositionOpened)
	}

	p, ok := tr.Get("BTCUSDT")
	if !ok || !p.Size.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("expected a mirrored position, got %+v ok=%v", p, ok)
	}
}

func TestTrackerEmitsPositionClosed(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.Config{NumWorkers: 1, BufferSize: 16})
	defer bus.Stop()
	ch := subscribeAll(bus)
	tr := position.New(zap.NewNop(), bus)

	feed := make(chan exchange.PositionEvent, 2)
	feed <- exchange.PositionEvent{Position: exchange.Position{
		Symbol: "BTCUSDT", Side: types.PositionSideLong,
		Size: decimal.NewFromFloat(0.1), AvgPrice: decimal.NewFromInt(30000),
	}}
	feed <- exchange.PositionEvent{Position: exchange.Position{
		Symbol: "BTCUSDT", Size: decimal.Zero,
	}}
	close(feed)
	tr.Run(feed)

	waitForEvent(t, ch) // opened
	closedEv := waitForEvent(t, ch)
	if closedEv.Type != types.EventPositionClosed {
		t.Errorf("event type = %s, want %s", closedEv.Type, types.EventPositionClosed)
	}

	if _, ok := tr.Get("BTCUSDT"); ok {
		t.Error("expected the closed position to be removed from the tracker")
	}
}

func TestTrackerEmitsPnLUpdateOnChange(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.Config{NumWorkers: 1, BufferSize: 16})
	defer bus.Stop()
	ch := subscribeAll(bus)
	tr := position.New(zap.NewNop(), bus)

	feed := make(chan exchange.PositionEvent, 2)
	feed <- exchange.PositionEvent{Position: exchange.Position{
		Symbol: "BTCUSDT", Side: types.PositionSideLong,
		Size: decimal.NewFromFloat(0.1), AvgPrice: decimal.NewFromInt(30000),
		UnrealizedPnL: decimal.Zero,
	}}
	feed <- exchange.PositionEvent{Position: exchange.Position{
		Symbol: "BTCUSDT", Side: types.PositionSideLong,
		Size: decimal.NewFromFloat(0.1), AvgPrice: decimal.NewFromInt(30000),
		MarkPrice: decimal.NewFromInt(30500), UnrealizedPnL: decimal.NewFromInt(50),
	}}
	close(feed)
	tr.Run(feed)

	waitForEvent(t, ch) // opened
	updateEv := waitForEvent(t, ch)
	if updateEv.Type != types.EventPositionUpdated {
		t.Fatalf("event type = %s, want %s", updateEv.Type, types.EventPositionUpdated)
	}
	pnlEv := waitForEvent(t, ch)
	if pnlEv.Type != types.EventPnLUpdate {
		t.Errorf("event type = %s, want %s", pnlEv.Type, types.EventPnLUpdate)
	}
}

func TestAllReturnsEveryOpenPosition(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.Config{NumWorkers: 1, BufferSize: 16})
	defer bus.Stop()
	tr := position.New(zap.NewNop(), bus)

	feed := make(chan exchange.PositionEvent, 2)
	feed <- exchange.PositionEvent{Position: exchange.Position{Symbol: "BTCUSDT", Size: decimal.NewFromFloat(0.1)}}
	feed <- exchange.PositionEvent{Position: exchange.Position{Symbol: "ETHUSDT", Size: decimal.NewFromFloat(1)}}
	close(feed)
	tr.Run(feed)

	all := tr.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 open positions, got %d", len(all))
	}
}
