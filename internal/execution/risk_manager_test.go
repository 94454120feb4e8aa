package execution_test

import (
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/execution"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestPreTradeGuardAcceptsWithinBounds(t *testing.T) {
	g := execution.NewPreTradeGuard(zap.NewNop(), decimal.NewFromInt(10), decimal.NewFromInt(100000))
	if err := g.Check(decimal.NewFromFloat(0.1), decimal.NewFromInt(30000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPreTradeGuardRejectsBelowMinimum(t *testing.T) {
	g := execution.NewPreTradeGuard(zap.NewNop(), decimal.NewFromInt(10), decimal.NewFromInt(100000))
	if err := g.Check(decimal.NewFromFloat(0.0001), decimal.NewFromInt(30000)); err == nil {
		t.Fatal("expected an error for notional below the minimum")
	}
}

func TestPreTradeGuardRejectsAboveMaximum(t *testing.T) {
	g := execution.NewPreTradeGuard(zap.NewNop(), decimal.NewFromInt(10), decimal.NewFromInt(1000))
	if err := g.Check(decimal.NewFromFloat(1), decimal.NewFromInt(30000)); err == nil {
		t.Fatal("expected an error for notional above the maximum")
	}
}

func TestPreTradeGuardSkipsBoundsWhenZero(t *testing.T) {
	g := execution.NewPreTradeGuard(zap.NewNop(), decimal.Zero, decimal.Zero)
	if err := g.Check(decimal.NewFromFloat(0.00001), decimal.NewFromInt(30000)); err != nil {
		t.Fatalf("expected no bounds enforced when both are zero, got %v", err)
	}
}
