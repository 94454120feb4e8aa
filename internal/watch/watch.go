// Package watch holds user-created proximity and price watch rules and
// evaluates them against each confirmed-candle strategy snapshot, firing
// exactly once per rule via a compare-and-swap status transition.
package watch

import (
	"sync"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IntentSink receives the synthesized Intent an AUTO_ENTER watch produces on
// trigger. Satisfied by internal/app's dispatchFunc.
type IntentSink interface {
	Dispatch(types.Intent)
}

// Manager owns the ACTIVE watch rule set.
type Manager struct {
	logger *zap.Logger
	bus    *events.Bus
	sink   IntentSink

	mu    sync.Mutex
	rules map[string]*types.WatchRule
}

// New constructs a Watch Manager.
func New(logger *zap.Logger, bus *events.Bus, sink IntentSink) *Manager {
	return &Manager{
		logger: logger.Named("watch"),
		bus:    bus,
		sink:   sink,
		rules:  make(map[string]*types.WatchRule),
	}
}

// Create registers a new ACTIVE watch rule and returns its ID.
func (m *Manager) Create(rule types.WatchRule) string {
	rule.ID = uuid.NewString()
	rule.Status = types.WatchActive
	rule.CreatedAt = time.Now()

	m.mu.Lock()
	m.rules[rule.ID] = &rule
	m.mu.Unlock()

	events.Record(m.bus, types.EventWatchCreated, rule.Symbol, "", "watch created", map[string]any{
		"watchId": rule.ID, "triggerType": rule.TriggerType, "mode": rule.Mode,
	})
	return rule.ID
}

// Cancel transitions an ACTIVE watch to CANCELLED. A no-op if the watch is
// already terminal.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.Status != types.WatchActive {
		return false
	}
	r.Status = types.WatchCancelled
	events.Record(m.bus, types.EventWatchCancelled, r.Symbol, "", "watch cancelled", map[string]any{"watchId": id})
	return true
}

// Active returns every currently ACTIVE watch rule.
func (m *Manager) Active() []types.WatchRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.WatchRule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Status == types.WatchActive {
			out = append(out, *r)
		}
	}
	return out
}

// ExpireOverdue transitions any ACTIVE watch past its ExpiryTime to EXPIRED.
// Intended to run on a periodic tick from app wiring.
func (m *Manager) ExpireOverdue(now time.Time) {
	m.mu.Lock()
	var expired []*types.WatchRule
	for _, r := range m.rules {
		if r.Status == types.WatchActive && now.After(r.ExpiryTime) {
			r.Status = types.WatchExpired
			expired = append(expired, r)
		}
	}
	m.mu.Unlock()

	for _, r := range expired {
		events.Record(m.bus, types.EventWatchExpired, r.Symbol, "", "watch expired", map[string]any{"watchId": r.ID})
	}
}

// OnConfirmedClose evaluates every ACTIVE watch for the closed symbol
// against the fresh strategy state. Each rule transitions to TRIGGERED
// exactly once via the lock held across the check-and-set; a rule already
// claimed by a concurrent evaluation is skipped.
func (m *Manager) OnConfirmedClose(state types.StrategyState) {
	price := decimal.NewFromFloat(state.Snapshot.Price)

	m.mu.Lock()
	var fired []*types.WatchRule
	for _, r := range m.rules {
		if r.Symbol != state.Symbol || r.Status != types.WatchActive {
			continue
		}
		if triggers(*r, state, price) {
			now := time.Now()
			r.Status = types.WatchTriggered
			r.TriggeredAt = &now
			fired = append(fired, r)
		}
	}
	m.mu.Unlock()

	for _, r := range fired {
		m.onTrigger(*r, state)
	}
}

func triggers(r types.WatchRule, state types.StrategyState, price decimal.Decimal) bool {
	switch r.TriggerType {
	case types.WatchPriceAbove:
		return price.GreaterThanOrEqual(r.TargetPrice)
	case types.WatchPriceBelow:
		return price.LessThanOrEqual(r.TargetPrice)
	case types.WatchCloserToSMA200:
		return closerThan(state.Snapshot.Price, state.Snapshot.SMA200, r.ThresholdPct)
	case types.WatchCloserToEMA1000:
		return closerThan(state.Snapshot.Price, state.Snapshot.EMA1000, r.ThresholdPct)
	case types.WatchCloserToSupertrend:
		return closerThan(state.Snapshot.Price, state.Snapshot.SupertrendValue, r.ThresholdPct)
	default:
		return false
	}
}

func closerThan(price, level float64, thresholdPct decimal.Decimal) bool {
	if level == 0 {
		return false
	}
	distPct := (price - level) / level * 100
	if distPct < 0 {
		distPct = -distPct
	}
	thr, _ := thresholdPct.Float64()
	return distPct <= thr
}

func (m *Manager) onTrigger(r types.WatchRule, state types.StrategyState) {
	events.Record(m.bus, types.EventWatchTriggered, r.Symbol, "", "watch triggered", map[string]any{
		"watchId": r.ID, "triggerType": r.TriggerType, "mode": r.Mode,
	})

	if r.Mode != types.WatchAutoEnter || r.Preset == nil {
		return
	}

	action := types.IntentEnterLong
	if r.IntendedSide == types.PositionSideShort {
		action = types.IntentEnterShort
	}
	intent := types.Intent{
		Action:      action,
		Symbol:      r.Symbol,
		RiskPercent: &r.Preset.RiskPercent,
		SLRule:      r.Preset.SLRule,
		TrailMode:   r.Preset.TrailMode,
	}
	m.sink.Dispatch(intent)
}
