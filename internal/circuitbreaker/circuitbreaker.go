// Package circuitbreaker tracks a rolling 24h loss window and trips a
// daily-drawdown lockout, with automatic or manual unlock.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/reasoncode"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config configures the breaker's loss threshold and window length.
type Config struct {
	LossThresholdPct decimal.Decimal
	WindowDuration   time.Duration
	LockDuration     time.Duration
}

// DefaultConfig fixes the threshold at 50% per spec §9's resolved open
// question (the source varied between 50% and 70%; 50% is the spec value,
// kept as a configuration field rather than a constant).
func DefaultConfig() Config {
	return Config{
		LossThresholdPct: decimal.NewFromInt(50),
		WindowDuration:   24 * time.Hour,
		LockDuration:     24 * time.Hour,
	}
}

// Breaker is the mutex-guarded owner of the Circuit Breaker State;
// RecordPnL, ManualOverride and Reset are its only writers.
type Breaker struct {
	logger *zap.Logger
	cfg    Config

	mu    sync.Mutex
	state types.CircuitBreakerState

	now func() time.Time
}

// New constructs a Breaker with the daily window starting now at the given
// equity.
func New(logger *zap.Logger, cfg Config, startBalance decimal.Decimal) *Breaker {
	b := &Breaker{
		logger: logger.Named("circuitbreaker"),
		cfg:    cfg,
		now:    time.Now,
	}
	b.state = types.CircuitBreakerState{
		DailyStartBalance: startBalance,
		DailyStartTime:    b.now(),
		TotalLossToday:    decimal.Zero,
		LossPct:           decimal.Zero,
	}
	return b
}

// State returns a snapshot of the current breaker state.
func (b *Breaker) State() types.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) rolloverIfNeeded(currentEquity decimal.Decimal) {
	if b.now().Sub(b.state.DailyStartTime) >= b.cfg.WindowDuration {
		b.state.DailyStartBalance = currentEquity
		b.state.DailyStartTime = b.now()
		b.state.TotalLossToday = decimal.Zero
		b.state.LossPct = decimal.Zero
	}
}

// RecordPnL adds a realized PnL observation to the rolling window, rolling
// the window over first if 24h have elapsed, and trips the breaker if the
// loss threshold is crossed.
func (b *Breaker) RecordPnL(pnl, currentEquity decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverIfNeeded(currentEquity)

	if pnl.IsNegative() {
		b.state.TotalLossToday = b.state.TotalLossToday.Add(pnl.Abs())
	}

	if b.state.DailyStartBalance.IsPositive() {
		b.state.LossPct = b.state.TotalLossToday.Div(b.state.DailyStartBalance).Mul(decimal.NewFromInt(100))
	}

	if !b.state.Tripped && b.state.LossPct.GreaterThanOrEqual(b.cfg.LossThresholdPct) {
		now := b.now()
		unlock := now.Add(b.cfg.LockDuration)
		b.state.Tripped = true
		b.state.TrippedAt = &now
		b.state.UnlockAt = &unlock
		b.state.TripReason = "daily loss threshold exceeded"
		b.logger.Warn("circuit breaker tripped",
			zap.String("lossPct", b.state.LossPct.String()),
			zap.Time("unlockAt", unlock),
		)
	}
}

// CanTrade reports whether new entries are currently allowed.
func (b *Breaker) CanTrade() (bool, *reasoncode.Rejection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.Tripped {
		return true, nil
	}
	if b.state.ManualOverride {
		return true, nil
	}
	if b.state.UnlockAt != nil && !b.now().Before(*b.state.UnlockAt) {
		return true, nil
	}
	return false, reasoncode.New(reasoncode.CodeCircuitBreaker, "daily loss circuit breaker is tripped", "wait for the automatic unlock or request a manual override")
}

// ManualOverride sets the manual-override flag, allowing trading despite a
// trip.
func (b *Breaker) ManualOverride() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ManualOverride = true
	b.logger.Info("circuit breaker manual override set")
}

// Reset clears the entire breaker state, including the override flag, and
// starts a fresh window at the given equity.
func (b *Breaker) Reset(currentEquity decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = types.CircuitBreakerState{
		DailyStartBalance: currentEquity,
		DailyStartTime:    b.now(),
		TotalLossToday:    decimal.Zero,
		LossPct:           decimal.Zero,
	}
	b.logger.Info("circuit breaker reset")
}
