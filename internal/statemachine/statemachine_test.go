package statemachine_test

import (
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/statemachine"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"go.uber.org/zap"
)

func TestCanEnterAllowsOnFreshSymbol(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	if rej := m.CanEnter("BTCUSDT", types.PositionSideLong); rej != nil {
		t.Fatalf("expected no rejection on a fresh symbol, got %v", rej)
	}
}

func TestCanEnterRejectsWhenPaused(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	m.Pause()
	rej := m.CanEnter("BTCUSDT", types.PositionSideLong)
	if rej == nil || rej.Code != "PAUSED" {
		t.Fatalf("expected a PAUSED rejection, got %v", rej)
	}
}

func TestCanEnterRejectsAlreadyInPosition(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	m.EnterPosition("BTCUSDT", types.PositionSideLong)

	rej := m.CanEnter("BTCUSDT", types.PositionSideShort)
	if rej == nil || rej.Code != "ALREADY_IN_POSITION" {
		t.Fatalf("expected ALREADY_IN_POSITION, got %v", rej)
	}
}

func TestCanEnterRejectsExiting(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	m.EnterPosition("BTCUSDT", types.PositionSideLong)
	m.StartExiting("BTCUSDT")

	rej := m.CanEnter("BTCUSDT", types.PositionSideLong)
	if rej == nil || rej.Code != "STATE_EXITING" {
		t.Fatalf("expected STATE_EXITING, got %v", rej)
	}
}

func TestExitCleanReturnsToFlat(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	m.EnterPosition("BTCUSDT", types.PositionSideLong)
	m.StartExiting("BTCUSDT")
	m.ExitClean("BTCUSDT")

	if rej := m.CanEnter("BTCUSDT", types.PositionSideShort); rej != nil {
		t.Fatalf("expected no rejection after a clean exit, got %v", rej)
	}
}

func TestExitStoppedLocksOnlySameSideReentry(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	m.EnterPosition("BTCUSDT", types.PositionSideLong)
	m.ExitStopped("BTCUSDT", types.PositionSideLong)

	if rej := m.CanEnter("BTCUSDT", types.PositionSideLong); rej == nil || rej.Code != "STATE_LOCK" {
		t.Fatalf("expected a lockout on the same-side reentry, got %v", rej)
	}
	if rej := m.CanEnter("BTCUSDT", types.PositionSideShort); rej != nil {
		t.Fatalf("expected the opposite side to remain free, got %v", rej)
	}
}

func TestClearLockOnlyClearsOnOppositeSignal(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	m.EnterPosition("BTCUSDT", types.PositionSideLong)
	m.ExitStopped("BTCUSDT", types.PositionSideLong)

	if m.ClearLock("BTCUSDT", types.PositionSideLong) {
		t.Fatal("expected a same-side signal to not clear the lock")
	}
	if !m.ClearLock("BTCUSDT", types.PositionSideShort) {
		t.Fatal("expected an opposite-side signal to clear the lock")
	}
	if rej := m.CanEnter("BTCUSDT", types.PositionSideLong); rej != nil {
		t.Fatalf("expected the lock to be fully cleared, got %v", rej)
	}
}

func TestForceUnlockAlwaysReturnsToFlat(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	m.EnterPosition("BTCUSDT", types.PositionSideLong)
	m.ExitStopped("BTCUSDT", types.PositionSideLong)
	m.ForceUnlock("BTCUSDT")

	if rej := m.CanEnter("BTCUSDT", types.PositionSideLong); rej != nil {
		t.Fatalf("expected force unlock to clear any lock, got %v", rej)
	}
}

func TestPauseAndResumeToggleGlobalFlag(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	if m.Paused() {
		t.Fatal("expected a new machine to start unpaused")
	}
	m.Pause()
	if !m.Paused() {
		t.Fatal("expected Pause to set the flag")
	}
	m.Resume()
	if m.Paused() {
		t.Fatal("expected Resume to clear the flag")
	}
}

func TestStateReturnsFlatForUnknownSymbol(t *testing.T) {
	m := statemachine.New(zap.NewNop())
	s := m.State("UNKNOWN")
	if s.State != types.StateFlat || s.Symbol != "UNKNOWN" {
		t.Errorf("unexpected default state: %+v", s)
	}
}
