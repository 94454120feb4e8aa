// Package position mirrors exchange-reported positions into local state and
// emits the position lifecycle events (opened, updated, closed, pnl-update)
// the rest of the agent reacts to. Grounded on the teacher's position
// tracking inside Executor, pulled out into its own subscriber of the
// exchange adapter's private feed.
package position

import (
	"sync"

	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/internal/exchange"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"go.uber.org/zap"
)

// Tracker mirrors the exchange's view of open positions.
type Tracker struct {
	logger *zap.Logger
	bus    *events.Bus

	mu        sync.RWMutex
	positions map[string]exchange.Position
}

// New constructs a Position Tracker.
func New(logger *zap.Logger, bus *events.Bus) *Tracker {
	return &Tracker{
		logger:    logger.Named("position"),
		bus:       bus,
		positions: make(map[string]exchange.Position),
	}
}

// Run consumes the adapter's private position feed until ctx-equivalent
// channel closure. Intended to run in its own goroutine from app wiring.
func (t *Tracker) Run(ch <-chan exchange.PositionEvent) {
	for ev := range ch {
		t.apply(ev)
	}
}

func (t *Tracker) apply(ev exchange.PositionEvent) {
	t.mu.Lock()
	prev, existed := t.positions[ev.Position.Symbol]
	closed := ev.Position.Size.IsZero()
	if closed {
		delete(t.positions, ev.Position.Symbol)
	} else {
		t.positions[ev.Position.Symbol] = ev.Position
	}
	t.mu.Unlock()

	switch {
	case closed && existed:
		events.Record(t.bus, types.EventPositionClosed, ev.Position.Symbol, "", "position closed", map[string]any{
			"avgPrice": prev.AvgPrice.String(),
		})
	case !existed:
		events.Record(t.bus, types.EventPositionOpened, ev.Position.Symbol, "", "position opened", map[string]any{
			"side": ev.Position.Side, "size": ev.Position.Size.String(), "avgPrice": ev.Position.AvgPrice.String(),
		})
	default:
		events.Record(t.bus, types.EventPositionUpdated, ev.Position.Symbol, "", "position updated", map[string]any{
			"size": ev.Position.Size.String(), "markPrice": ev.Position.MarkPrice.String(),
		})
		if !ev.Position.UnrealizedPnL.Equal(prev.UnrealizedPnL) {
			events.Record(t.bus, types.EventPnLUpdate, ev.Position.Symbol, "", "", map[string]any{
				"unrealizedPnl": ev.Position.UnrealizedPnL.String(),
			})
		}
	}
}

// Get returns the current mirrored position for a symbol, if any.
func (t *Tracker) Get(symbol string) (exchange.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[symbol]
	return p, ok
}

// All returns every currently open position.
func (t *Tracker) All() []exchange.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]exchange.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}
