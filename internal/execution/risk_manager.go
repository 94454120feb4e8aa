package execution

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PreTradeGuard performs the last sanity check before an order reaches the
// exchange: order-size bounds. Direction gating, circuit-breaker state, and
// trade-lifecycle locks are the responsibility of internal/statemachine,
// internal/circuitbreaker and internal/strategy respectively — this guard
// only protects against a miscalculated or absurd order size reaching the
// venue.
type PreTradeGuard struct {
	logger       *zap.Logger
	minOrderSize decimal.Decimal
	maxOrderSize decimal.Decimal
}

// NewPreTradeGuard constructs a guard with the given order-size bounds in
// quote currency.
func NewPreTradeGuard(logger *zap.Logger, minOrderSize, maxOrderSize decimal.Decimal) *PreTradeGuard {
	return &PreTradeGuard{
		logger:       logger.Named("pretrade-guard"),
		minOrderSize: minOrderSize,
		maxOrderSize: maxOrderSize,
	}
}

// Check validates a proposed order's notional value (size * mark) against
// the configured bounds.
func (g *PreTradeGuard) Check(size, mark decimal.Decimal) error {
	notional := size.Mul(mark)
	if g.minOrderSize.IsPositive() && notional.LessThan(g.minOrderSize) {
		return fmt.Errorf("order notional %s below minimum %s", notional, g.minOrderSize)
	}
	if g.maxOrderSize.IsPositive() && notional.GreaterThan(g.maxOrderSize) {
		return fmt.Errorf("order notional %s exceeds maximum %s", notional, g.maxOrderSize)
	}
	return nil
}
