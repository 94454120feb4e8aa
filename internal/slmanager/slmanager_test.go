package slmanager_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/slmanager"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeExchange struct {
	lastPrice decimal.Decimal
	calls     int
	err       error
}

func (f *fakeExchange) SetStopLoss(ctx context.Context, symbol string, side types.PositionSide, price decimal.Decimal) error {
	f.calls++
	f.lastPrice = price
	return f.err
}

type fakeCloser struct {
	closed  []string
	reasons []string
}

func (f *fakeCloser) RequestFullClose(ctx context.Context, tradeID, reason string) {
	f.closed = append(f.closed, tradeID)
	f.reasons = append(f.reasons, reason)
}

func register(m *slmanager.Manager, tradeID string, side types.PositionSide, strategic decimal.Decimal) {
	m.Register(types.SLLevels{
		TradeID: tradeID, Symbol: "BTCUSDT", Side: side,
		Strategic: strategic, Emergency: strategic, BufferPct: decimal.NewFromFloat(0.5),
		UpdatedAt: time.Now(),
	})
}

func TestUpdateIgnoresUnfavorableMove(t *testing.T) {
	exch := &fakeExchange{}
	m := slmanager.New(zap.NewNop(), exch, &fakeCloser{})
	register(m, "t1", types.PositionSideLong, decimal.NewFromInt(100))

	if err := m.Update(context.Background(), "t1", decimal.NewFromInt(90)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exch.calls != 0 {
		t.Errorf("expected no exchange call for an unfavorable move, got %d", exch.calls)
	}
	levels, _ := m.Levels("t1")
	if !levels.Strategic.Equal(decimal.NewFromInt(100)) {
		t.Errorf("strategic SL should not have moved, got %s", levels.Strategic)
	}
}

func TestUpdateMovesFavorableLong(t *testing.T) {
	exch := &fakeExchange{}
	m := slmanager.New(zap.NewNop(), exch, &fakeCloser{})
	register(m, "t1", types.PositionSideLong, decimal.NewFromInt(100))

	if err := m.Update(context.Background(), "t1", decimal.NewFromInt(110)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exch.calls != 1 {
		t.Fatalf("expected exactly one exchange call, got %d", exch.calls)
	}
	levels, ok := m.Levels("t1")
	if !ok {
		t.Fatal("expected levels to still be registered")
	}
	if !levels.Strategic.Equal(decimal.NewFromInt(110)) {
		t.Errorf("strategic SL should have moved to 110, got %s", levels.Strategic)
	}
	wantEmergency := decimal.NewFromInt(110).Mul(decimal.NewFromFloat(0.995))
	if !levels.Emergency.Equal(wantEmergency) {
		t.Errorf("emergency SL = %s, want %s", levels.Emergency, wantEmergency)
	}
}

func TestCheckCloseTriggersOnStrategicBreach(t *testing.T) {
	closer := &fakeCloser{}
	m := slmanager.New(zap.NewNop(), &fakeExchange{}, closer)
	register(m, "t1", types.PositionSideLong, decimal.NewFromInt(100))

	m.CheckClose(context.Background(), "t1", decimal.NewFromInt(99))

	if len(closer.closed) != 1 || closer.closed[0] != "t1" {
		t.Fatalf("expected a full close request for t1, got %v", closer.closed)
	}
	if closer.reasons[0] != "STOP_LOSS" {
		t.Errorf("reason = %q, want STOP_LOSS", closer.reasons[0])
	}
}

func TestCheckCloseDoesNotTriggerAboveStrategic(t *testing.T) {
	closer := &fakeCloser{}
	m := slmanager.New(zap.NewNop(), &fakeExchange{}, closer)
	register(m, "t1", types.PositionSideLong, decimal.NewFromInt(100))

	m.CheckClose(context.Background(), "t1", decimal.NewFromInt(101))

	if len(closer.closed) != 0 {
		t.Fatalf("expected no close request, got %v", closer.closed)
	}
}

func TestReleaseRemovesLevels(t *testing.T) {
	m := slmanager.New(zap.NewNop(), &fakeExchange{}, &fakeCloser{})
	register(m, "t1", types.PositionSideShort, decimal.NewFromInt(100))

	m.Release("t1")

	if _, ok := m.Levels("t1"); ok {
		t.Fatal("expected levels to be gone after Release")
	}
}

func TestSetCloserAfterConstruction(t *testing.T) {
	closer := &fakeCloser{}
	m := slmanager.New(zap.NewNop(), &fakeExchange{}, nil)
	m.SetCloser(closer)
	register(m, "t1", types.PositionSideShort, decimal.NewFromInt(100))

	m.CheckClose(context.Background(), "t1", decimal.NewFromInt(101))

	if len(closer.closed) != 1 {
		t.Fatalf("expected the late-bound closer to receive the close request, got %v", closer.closed)
	}
}
