// Package slmanager maintains the two-layer (Strategic, Emergency) stop-loss
// pair per open trade. Strategic is checked only on confirmed candle close;
// Emergency is the exchange-preset price trigger.
package slmanager

import (
	"context"
	"sync"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExchangeMover is the minimal exchange capability the Manager needs to move
// the Emergency SL. Satisfied by internal/exchange.Adapter.
type ExchangeMover interface {
	SetStopLoss(ctx context.Context, symbol string, side types.PositionSide, price decimal.Decimal) error
}

// CloseRequester is called when the Strategic SL triggers on a confirmed
// close; satisfied by internal/execution.Executor.
type CloseRequester interface {
	RequestFullClose(ctx context.Context, tradeID, reason string)
}

// Manager owns SLLevels per open trade.
type Manager struct {
	logger   *zap.Logger
	exchange ExchangeMover
	closer   CloseRequester

	mu     sync.RWMutex
	levels map[string]*types.SLLevels
}

// New constructs an SL Manager. closer may be nil at construction time and
// set later via SetCloser, since the Executor that typically implements it
// needs a *Manager to construct itself.
func New(logger *zap.Logger, exchange ExchangeMover, closer CloseRequester) *Manager {
	return &Manager{
		logger:   logger.Named("slmanager"),
		exchange: exchange,
		closer:   closer,
		levels:   make(map[string]*types.SLLevels),
	}
}

// SetCloser wires the CloseRequester after construction, breaking the
// construction cycle between Manager and Executor.
func (m *Manager) SetCloser(closer CloseRequester) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closer = closer
}

// Register records the initial SL pair for a newly-entered trade.
func (m *Manager) Register(levels types.SLLevels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := levels
	m.levels[levels.TradeID] = &l
}

// Release removes a trade's SL levels, e.g. on full exit.
func (m *Manager) Release(tradeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels, tradeID)
}

// Levels returns a snapshot of a trade's current SL levels.
func (m *Manager) Levels(tradeID string) (types.SLLevels, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.levels[tradeID]
	if !ok {
		return types.SLLevels{}, false
	}
	return *l, true
}

// CheckClose evaluates the Strategic SL against a confirmed candle close
// and requests a full close if triggered: for LONG, close < strategic; for
// SHORT, close > strategic.
func (m *Manager) CheckClose(ctx context.Context, tradeID string, closePrice decimal.Decimal) {
	m.mu.RLock()
	l, ok := m.levels[tradeID]
	closer := m.closer
	m.mu.RUnlock()
	if !ok {
		return
	}

	triggered := false
	switch l.Side {
	case types.PositionSideLong:
		triggered = closePrice.LessThan(l.Strategic)
	case types.PositionSideShort:
		triggered = closePrice.GreaterThan(l.Strategic)
	}

	if triggered && closer != nil {
		m.logger.Info("strategicSlTriggered", zap.String("tradeId", tradeID), zap.String("closePrice", closePrice.String()))
		closer.RequestFullClose(ctx, tradeID, "STOP_LOSS")
	}
}

// Update attempts to move the Strategic SL. Moves against the trade's favor
// (down for LONG, up for SHORT) are silently ignored and never change
// Emergency. Favorable moves recompute Emergency from the stored buffer and
// issue one exchange call.
func (m *Manager) Update(ctx context.Context, tradeID string, candidate decimal.Decimal) error {
	m.mu.Lock()
	l, ok := m.levels[tradeID]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	favorable := false
	switch l.Side {
	case types.PositionSideLong:
		favorable = candidate.GreaterThan(l.Strategic)
	case types.PositionSideShort:
		favorable = candidate.LessThan(l.Strategic)
	}
	if !favorable {
		m.mu.Unlock()
		return nil
	}

	prevStrategic, prevEmergency := l.Strategic, l.Emergency
	l.Strategic = candidate
	var emergency decimal.Decimal
	one := decimal.NewFromInt(1)
	bufferFrac := l.BufferPct.Div(decimal.NewFromInt(100))
	if l.Side == types.PositionSideLong {
		emergency = l.Strategic.Mul(one.Sub(bufferFrac))
	} else {
		emergency = l.Strategic.Mul(one.Add(bufferFrac))
	}
	l.Emergency = emergency
	symbol := l.Symbol
	side := l.Side
	m.mu.Unlock()

	if err := m.exchange.SetStopLoss(ctx, symbol, side, emergency); err != nil {
		// Restore the previous levels so the next close's candidate is
		// favorable again and the move is re-sent.
		m.mu.Lock()
		if l.Strategic.Equal(candidate) {
			l.Strategic, l.Emergency = prevStrategic, prevEmergency
		}
		m.mu.Unlock()
		m.logger.Warn("failed to move emergency sl, will retry on next close", zap.String("tradeId", tradeID), zap.Error(err))
		return err
	}
	return nil
}
