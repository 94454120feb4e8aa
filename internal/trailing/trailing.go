// Package trailing ratchets the Strategic stop loss on each confirmed
// candle close per the trade's configured trail mode. It subscribes to the
// strategy engine's state updates rather than polling, grounded on the
// teacher's subscriber-callback wiring in internal/strategy.
package trailing

import (
	"context"

	"github.com/atlas-desktop/derivatives-agent/internal/slmanager"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeLookup resolves the open trade (if any) for a symbol, supplying the
// trail mode and side the Manager needs without owning trade bookkeeping
// itself.
type TradeLookup interface {
	OpenTradeForSymbol(symbol string) (tradeID string, side types.PositionSide, mode types.TrailMode, ok bool)
}

// Manager ratchets Strategic SL candidates derived from each confirmed
// candle's snapshot into the SL Manager.
type Manager struct {
	logger *zap.Logger
	sl     *slmanager.Manager
	trades TradeLookup
}

// New constructs a Trailing Manager.
func New(logger *zap.Logger, sl *slmanager.Manager, trades TradeLookup) *Manager {
	return &Manager{logger: logger.Named("trailing"), sl: sl, trades: trades}
}

// OnConfirmedClose is wired as a strategy.Engine state-update subscriber. It
// derives a new Strategic SL candidate from the snapshot's trail-relevant
// levels and forwards it to the SL Manager, which silently drops any move
// against the trade's favor.
func (m *Manager) OnConfirmedClose(state types.StrategyState) {
	tradeID, side, mode, ok := m.trades.OpenTradeForSymbol(state.Symbol)
	if !ok {
		return
	}

	candidate, ok := m.candidateFor(mode, side, state)
	if !ok {
		return
	}

	if err := m.sl.Update(context.Background(), tradeID, candidate); err != nil {
		m.logger.Warn("trail update failed", zap.String("symbol", state.Symbol), zap.Error(err))
	}
}

func (m *Manager) candidateFor(mode types.TrailMode, side types.PositionSide, state types.StrategyState) (decimal.Decimal, bool) {
	switch mode {
	case types.TrailModeSupertrend:
		return decimal.NewFromFloat(state.Snapshot.SupertrendValue), true
	case types.TrailModeStructure:
		if side == types.PositionSideLong {
			if !state.HasProtectedLow {
				return decimal.Zero, false
			}
			return decimal.NewFromFloat(state.ProtectedSwingLow), true
		}
		if !state.HasProtectedHigh {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(state.ProtectedSwingHigh), true
	default:
		return decimal.Zero, false
	}
}
