// Package strategy computes the per-symbol Strategy State on each confirmed
// candle close: Supertrend/structure bias, the hard entry gate, and an
// informational strategy tag. The gate is the only way this package can
// block a trade.
package strategy

import (
	"sync"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/indicators"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"go.uber.org/zap"
)

// Config holds the indicator parameters the engine uses. These are the
// "configured indicator parameters" referenced by the Testable Properties
// purity invariant: identical candle sequence + identical Config must
// produce an identical Snapshot (ComputedAt aside).
type Config struct {
	SMAPeriod          int
	EMAPeriod          int
	SupertrendPeriod   int
	SupertrendMult     float64
	StructureLookback  int
	StructureWindow    int
	WideSLWarningPct   float64
}

// DefaultConfig matches the indicator periods named in spec.md (SMA200,
// EMA1000) and a conventional Supertrend(10, 3) setting.
func DefaultConfig() Config {
	return Config{
		SMAPeriod:         200,
		EMAPeriod:         1000,
		SupertrendPeriod:  10,
		SupertrendMult:    3.0,
		StructureLookback: 2,
		StructureWindow:   300,
		WideSLWarningPct:  5.0,
	}
}

// TagClassifier is a pure function over an already-computed state that
// assigns a strategy tag. Classifiers never affect admissibility — the hard
// gate alone decides that. Kept as a registry (teacher's Strategy-registry
// pattern) so operators can add named classifications without touching the
// gate logic.
type TagClassifier func(snap types.StrategySnapshot) (types.StrategyTag, bool)

// ClassifierRegistry holds named tag classifiers, evaluated in registration
// order; the first match wins.
type ClassifierRegistry struct {
	mu    sync.RWMutex
	order []string
	byTag map[string]TagClassifier
}

// NewClassifierRegistry builds a registry with the three tags spec §4.2
// calls out: S101 (conservative, both MAs aligned), S102 (trend-filter,
// Supertrend + one MA), S103 (aggressive, Supertrend only).
func NewClassifierRegistry() *ClassifierRegistry {
	r := &ClassifierRegistry{byTag: make(map[string]TagClassifier)}

	r.Register(string(types.StrategyTagS101), func(s types.StrategySnapshot) (types.StrategyTag, bool) {
		if s.SupertrendDirection == types.BiasLong && s.CloseAboveSMA200 && s.CloseAboveEMA1000 {
			return types.StrategyTagS101, true
		}
		if s.SupertrendDirection == types.BiasShort && !s.CloseAboveSMA200 && !s.CloseAboveEMA1000 {
			return types.StrategyTagS101, true
		}
		return "", false
	})

	r.Register(string(types.StrategyTagS102), func(s types.StrategySnapshot) (types.StrategyTag, bool) {
		if s.SupertrendDirection == types.BiasLong && (s.CloseAboveSMA200 || s.CloseAboveEMA1000) {
			return types.StrategyTagS102, true
		}
		if s.SupertrendDirection == types.BiasShort && (!s.CloseAboveSMA200 || !s.CloseAboveEMA1000) {
			return types.StrategyTagS102, true
		}
		return "", false
	})

	r.Register(string(types.StrategyTagS103), func(s types.StrategySnapshot) (types.StrategyTag, bool) {
		return types.StrategyTagS103, true
	})

	return r
}

// Register adds a named classifier, appended to the evaluation order.
func (r *ClassifierRegistry) Register(name string, c TagClassifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTag[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byTag[name] = c
}

// Classify runs classifiers in registration order and returns the first
// match, or StrategyTagNone.
func (r *ClassifierRegistry) Classify(snap types.StrategySnapshot) types.StrategyTag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if tag, ok := r.byTag[name](snap); ok {
			return tag
		}
	}
	return types.StrategyTagNone
}

// List returns classifier names in evaluation order.
func (r *ClassifierRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// StateUpdateFunc is invoked with the freshly-produced state on every
// recompute — the Trailing Manager and Watch Manager subscribe through it.
type StateUpdateFunc func(types.StrategyState)

// Engine computes and owns Strategy State, single-writer per symbol.
type Engine struct {
	logger      *zap.Logger
	cfg         Config
	classifiers *ClassifierRegistry

	mu     sync.RWMutex
	states map[string]types.StrategyState

	onUpdateMu sync.RWMutex
	onUpdate   []StateUpdateFunc
}

// NewEngine constructs a Strategy Engine.
func NewEngine(logger *zap.Logger, cfg Config) *Engine {
	return &Engine{
		logger:      logger.Named("strategy"),
		cfg:         cfg,
		classifiers: NewClassifierRegistry(),
		states:      make(map[string]types.StrategyState),
	}
}

// OnStateUpdate registers a callback fired after every successful recompute.
func (e *Engine) OnStateUpdate(fn StateUpdateFunc) {
	e.onUpdateMu.Lock()
	defer e.onUpdateMu.Unlock()
	e.onUpdate = append(e.onUpdate, fn)
}

// Evaluate recomputes the Strategy State for symbol/timeframe from the given
// confirmed candle sequence. Apart from ComputedAt (the wall-clock time of
// the call), the Snapshot depends only on (candles, e.cfg): identical inputs
// produce identical indicator values, per the purity invariant.
func (e *Engine) Evaluate(symbol string, tf types.Timeframe, confirmed []types.Candle) types.StrategyState {
	snap, sufficientData := e.computeSnapshot(symbol, tf, confirmed)

	state := types.StrategyState{
		Symbol:    symbol,
		Timeframe: tf,
		Snapshot:  snap,
	}
	if len(confirmed) > 0 {
		state.LastCloseAt = time.UnixMilli(confirmed[len(confirmed)-1].CloseTime)
	}

	if !sufficientData {
		state.Bias = types.BiasNeutral
		state.AllowLongEntry = false
		state.AllowShortEntry = false
		e.store(symbol, state)
		return state
	}

	state.Bias = deriveBias(snap)
	state.AllowLongEntry = snap.SupertrendDirection == types.BiasLong && snap.StructureBias != types.StructureBearish
	state.AllowShortEntry = snap.SupertrendDirection == types.BiasShort && snap.StructureBias != types.StructureBullish

	if state.AllowLongEntry && state.AllowShortEntry {
		// Never both true; Supertrend direction is exclusive by construction,
		// this guards the invariant defensively.
		state.AllowShortEntry = false
	}

	state.StrategyTag = e.classifiers.Classify(snap)

	state.ProtectedSwingHigh = snap.ProtectedSwingHigh
	state.ProtectedSwingLow = snap.ProtectedSwingLow
	state.HasProtectedHigh = snap.HasProtectedHigh
	state.HasProtectedLow = snap.HasProtectedLow

	state.RiskWarning, state.RiskWarningMessage = riskWarning(snap, e.cfg.WideSLWarningPct)

	e.store(symbol, state)
	return state
}

func (e *Engine) store(symbol string, state types.StrategyState) {
	e.mu.Lock()
	e.states[symbol] = state
	e.mu.Unlock()

	e.logger.Debug("state-update",
		zap.String("symbol", symbol),
		zap.String("bias", string(state.Bias)),
		zap.Bool("allowLong", state.AllowLongEntry),
		zap.Bool("allowShort", state.AllowShortEntry),
		zap.String("tag", string(state.StrategyTag)),
	)

	e.onUpdateMu.RLock()
	subs := append([]StateUpdateFunc(nil), e.onUpdate...)
	e.onUpdateMu.RUnlock()
	for _, fn := range subs {
		fn(state)
	}
}

// State returns the latest computed state for a symbol. Entry permission
// checks read this without blocking.
func (e *Engine) State(symbol string) (types.StrategyState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.states[symbol]
	return s, ok
}

// Classifiers exposes the tag classifier registry for inspection/extension.
func (e *Engine) Classifiers() *ClassifierRegistry {
	return e.classifiers
}

func deriveBias(snap types.StrategySnapshot) types.Bias {
	switch snap.SupertrendDirection {
	case types.BiasLong:
		if snap.StructureBias == types.StructureBearish && snap.Price < snap.SMA200 {
			return types.BiasNeutral
		}
		return types.BiasLong
	case types.BiasShort:
		if snap.StructureBias == types.StructureBullish && snap.Price > snap.SMA200 {
			return types.BiasNeutral
		}
		return types.BiasShort
	default:
		return types.BiasNeutral
	}
}

func riskWarning(snap types.StrategySnapshot, thresholdPct float64) (bool, string) {
	dist := snap.DistToSupertrendPct
	if dist < 0 {
		dist = -dist
	}
	if dist >= thresholdPct {
		return true, "price is far from the Supertrend level; stop distance implies large notional for the configured risk %"
	}
	return false, ""
}

func (e *Engine) computeSnapshot(symbol string, tf types.Timeframe, confirmed []types.Candle) (types.StrategySnapshot, bool) {
	longest := e.cfg.EMAPeriod
	if e.cfg.SMAPeriod > longest {
		longest = e.cfg.SMAPeriod
	}
	if len(confirmed) < longest {
		return types.StrategySnapshot{Symbol: symbol, Timeframe: tf, ComputedAt: time.Now()}, false
	}

	sma, smaOK := indicators.SMA(confirmed, e.cfg.SMAPeriod)
	ema, emaOK := indicators.EMA(confirmed, e.cfg.EMAPeriod)
	st, stOK := indicators.Supertrend(confirmed, e.cfg.SupertrendPeriod, e.cfg.SupertrendMult)
	structure, structOK := indicators.Structure(confirmed, e.cfg.StructureWindow, e.cfg.StructureLookback)

	if !smaOK || !emaOK || !stOK || !structOK {
		return types.StrategySnapshot{Symbol: symbol, Timeframe: tf, ComputedAt: time.Now()}, false
	}

	last := confirmed[len(confirmed)-1]
	price, _ := last.Close.Float64()

	snap := types.StrategySnapshot{
		Symbol:              symbol,
		Timeframe:           tf,
		CandleIdx:           len(confirmed) - 1,
		SupertrendDirection: st.Direction,
		SupertrendValue:     st.Value,
		SMA200:              sma,
		EMA1000:             ema,
		CloseAboveSMA200:    price > sma,
		CloseAboveEMA1000:   price > ema,
		StructureBias:       structure.Bias,
		LastBOS:             structure.LastBOS,
		LastCHoCH:           structure.LastCHoCH,
		ProtectedSwingHigh:  structure.ProtectedSwingHigh,
		ProtectedSwingLow:   structure.ProtectedSwingLow,
		HasProtectedHigh:    structure.HasProtectedHigh,
		HasProtectedLow:     structure.HasProtectedLow,
		Price:               price,
		ComputedAt:          time.Now(),
	}

	snap.TrendLabel = trendLabel(snap)
	snap.DistToSMA200Pct = pctDist(price, sma)
	snap.DistToEMA1000Pct = pctDist(price, ema)
	snap.DistToSupertrendPct = pctDist(price, st.Value)

	return snap, true
}

func trendLabel(s types.StrategySnapshot) types.TrendLabel {
	switch {
	case s.SupertrendDirection == types.BiasLong && s.StructureBias != types.StructureBearish:
		return types.TrendUptrend
	case s.SupertrendDirection == types.BiasShort && s.StructureBias != types.StructureBullish:
		return types.TrendDowntrend
	default:
		return types.TrendRanging
	}
}

func pctDist(price, level float64) float64 {
	if level == 0 {
		return 0
	}
	return (price - level) / level * 100
}
