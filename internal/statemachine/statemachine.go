// Package statemachine owns the per-symbol trade lifecycle and the global
// pause flag. Every (state, event) pair has a defined outcome.
package statemachine

import (
	"sync"

	"github.com/atlas-desktop/derivatives-agent/internal/reasoncode"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"go.uber.org/zap"
)

// Machine is the single-writer owner of every symbol's trade state plus the
// process-wide pause flag.
type Machine struct {
	logger *zap.Logger

	mu     sync.RWMutex
	paused bool
	states map[string]*types.SymbolTradeState
}

// New constructs an empty state machine; unknown symbols default to FLAT.
func New(logger *zap.Logger) *Machine {
	return &Machine{
		logger: logger.Named("statemachine"),
		states: make(map[string]*types.SymbolTradeState),
	}
}

func (m *Machine) get(symbol string) *types.SymbolTradeState {
	s, ok := m.states[symbol]
	if !ok {
		s = &types.SymbolTradeState{Symbol: symbol, State: types.StateFlat}
		m.states[symbol] = s
	}
	return s
}

// State returns a snapshot of a symbol's trade state.
func (m *Machine) State(symbol string) types.SymbolTradeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[symbol]; ok {
		return *s
	}
	return types.SymbolTradeState{Symbol: symbol, State: types.StateFlat}
}

// Paused reports the global pause flag.
func (m *Machine) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// CanEnter is a read-only query: is an entry of `side` currently allowed,
// and if not, why.
func (m *Machine) CanEnter(symbol string, side types.PositionSide) *reasoncode.Rejection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.paused {
		return reasoncode.New(reasoncode.CodePaused, "trading is globally paused", "resume trading before entering")
	}

	s, ok := m.states[symbol]
	if !ok {
		return nil
	}

	switch s.State {
	case types.StateFlat:
		return nil
	case types.StateInLong, types.StateInShort:
		return reasoncode.New(reasoncode.CodeStateInPosition, "symbol already has an open position", "close the existing position first")
	case types.StateExiting:
		return reasoncode.New(reasoncode.CodeStateExiting, "symbol is exiting an open position", "wait for the exit to complete")
	case types.StateLockLong:
		if side == types.PositionSideLong {
			return reasoncode.New(reasoncode.CodeStateLock, "long entries are locked out after a stop-out", "wait for an opposite-direction signal or an admin unlock")
		}
		return nil
	case types.StateLockShort:
		if side == types.PositionSideShort {
			return reasoncode.New(reasoncode.CodeStateLock, "short entries are locked out after a stop-out", "wait for an opposite-direction signal or an admin unlock")
		}
		return nil
	}
	return nil
}

// EnterPosition sets the symbol to IN_side from any current state.
func (m *Machine) EnterPosition(symbol string, side types.PositionSide) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(symbol)
	s.Side = side
	if side == types.PositionSideLong {
		s.State = types.StateInLong
	} else {
		s.State = types.StateInShort
	}
	m.logger.Info("enterPosition", zap.String("symbol", symbol), zap.String("side", string(side)))
}

// StartExiting transitions an open position into EXITING.
func (m *Machine) StartExiting(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(symbol)
	s.State = types.StateExiting
	m.logger.Info("startExiting", zap.String("symbol", symbol))
}

// ExitClean transitions EXITING or an open position back to FLAT.
func (m *Machine) ExitClean(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(symbol)
	s.State = types.StateFlat
	s.Side = ""
	m.logger.Info("exitClean", zap.String("symbol", symbol))
}

// ExitStopped transitions into the lock state for the stopped side and
// records the last-stopped side for lock-clearing later.
func (m *Machine) ExitStopped(symbol string, stoppedSide types.PositionSide) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(symbol)
	s.LastStoppedSide = stoppedSide
	if stoppedSide == types.PositionSideLong {
		s.State = types.StateLockLong
	} else {
		s.State = types.StateLockShort
	}
	m.logger.Info("exitStopped", zap.String("symbol", symbol), zap.String("stoppedSide", string(stoppedSide)))
}

// ClearLock clears a lock state iff the incoming signal side is opposite the
// locked side. This is the anti-revenge mechanism; it has no time expiry.
func (m *Machine) ClearLock(symbol string, signalSide types.PositionSide) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(symbol)

	switch s.State {
	case types.StateLockLong:
		if signalSide != types.PositionSideLong {
			s.State = types.StateFlat
			m.logger.Info("clearLock", zap.String("symbol", symbol), zap.String("signalSide", string(signalSide)))
			return true
		}
	case types.StateLockShort:
		if signalSide != types.PositionSideShort {
			s.State = types.StateFlat
			m.logger.Info("clearLock", zap.String("symbol", symbol), zap.String("signalSide", string(signalSide)))
			return true
		}
	}
	return false
}

// ForceUnlock forces any state back to FLAT, regardless of lock side.
func (m *Machine) ForceUnlock(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(symbol)
	s.State = types.StateFlat
	s.Side = ""
	m.logger.Info("forceUnlock", zap.String("symbol", symbol))
}

// Pause sets the global pause flag.
func (m *Machine) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	m.logger.Info("pause")
}

// Resume clears the global pause flag.
func (m *Machine) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.logger.Info("resume")
}
