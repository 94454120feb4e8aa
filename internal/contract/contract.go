// Package contract builds immutable TradeContract records from an Intent,
// running the fixed admission order spec §4.4 requires: pause check,
// circuit breaker, state machine, strategy-engine gate, already-in-position
// check, leverage clamp, size computation, SL/TP pairing. It is grounded on
// the teacher's RiskManager.CheckOrder multi-rule short-circuit validation
// shape, generalized into this named sequence.
package contract

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/circuitbreaker"
	"github.com/atlas-desktop/derivatives-agent/internal/reasoncode"
	"github.com/atlas-desktop/derivatives-agent/internal/sizing"
	"github.com/atlas-desktop/derivatives-agent/internal/statemachine"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Wallet is the minimal balance source the Builder needs.
type Wallet interface {
	AvailableUSD() decimal.Decimal
}

// StrategyStateProvider is the minimal read the Builder needs from the
// strategy engine. Satisfied by internal/strategy.Engine.
type StrategyStateProvider interface {
	State(symbol string) (types.StrategyState, bool)
}

// Instrument carries the per-symbol rounding and leverage ceiling the
// exchange enforces, per internal/exchange.InstrumentInfo.
type Instrument struct {
	MinOrderQty decimal.Decimal
	QtyStep     decimal.Decimal
	TickSize    decimal.Decimal
	MaxLeverage int
}

// Builder assembles TradeContract records.
type Builder struct {
	logger     *zap.Logger
	states     *statemachine.Machine
	breaker    *circuitbreaker.Breaker
	strategies StrategyStateProvider
	wallet     Wallet

	defaultLeverage  int
	defaultRiskPct   decimal.Decimal
}

// Config carries the Builder's account-wide defaults.
type Config struct {
	DefaultLeverage int
	DefaultRiskPct  decimal.Decimal // percent of wallet, applied when Intent omits RiskPercent
}

// DefaultConfig returns conservative defaults: 3x leverage, 1% risk.
func DefaultConfig() Config {
	return Config{DefaultLeverage: 3, DefaultRiskPct: decimal.NewFromFloat(1.0)}
}

// New constructs a Trade Contract Builder.
func New(logger *zap.Logger, states *statemachine.Machine, breaker *circuitbreaker.Breaker, strategies StrategyStateProvider, wallet Wallet, cfg Config) *Builder {
	return &Builder{
		logger:          logger.Named("contract"),
		states:          states,
		breaker:         breaker,
		strategies:      strategies,
		wallet:          wallet,
		defaultLeverage: cfg.DefaultLeverage,
		defaultRiskPct:  cfg.DefaultRiskPct,
	}
}

func sideFromIntent(action types.IntentAction) types.PositionSide {
	if action == types.IntentEnterShort {
		return types.PositionSideShort
	}
	return types.PositionSideLong
}

// Build runs the full admission order and returns an assembled,
// ContractPending TradeContract plus its entry size, or a Rejection
// carrying the reason code and (where available) the strategy snapshot at
// the time of rejection.
func (b *Builder) Build(intent types.Intent, mark decimal.Decimal, inst Instrument) (*types.TradeContract, decimal.Decimal, *reasoncode.Rejection) {
	if b.states.Paused() {
		return nil, decimal.Zero, reasoncode.New(reasoncode.CodePaused, "agent is paused", "send RESUME to resume trading")
	}

	if ok, rej := b.breaker.CanTrade(); !ok {
		return nil, decimal.Zero, rej
	}

	side := sideFromIntent(intent.Action)
	if rej := b.states.CanEnter(intent.Symbol, side); rej != nil {
		return nil, decimal.Zero, rej
	}

	state, ok := b.strategies.State(intent.Symbol)
	if !ok {
		return nil, decimal.Zero, reasoncode.New(reasoncode.CodeInvalidIntent, "no strategy state available for symbol yet", "wait for the first confirmed candle")
	}
	allowed := state.AllowLongEntry
	if side == types.PositionSideShort {
		allowed = state.AllowShortEntry
	}
	if !allowed {
		code := reasoncode.CodeDirectionDisallowed
		return nil, decimal.Zero, reasoncode.New(code, fmt.Sprintf("strategy engine disallows %s entry on %s", side, intent.Symbol), "").WithSnapshot(state.Snapshot)
	}

	leverage := b.defaultLeverage
	if intent.Leverage != nil {
		leverage = *intent.Leverage
	}
	appliedLev := leverage
	if inst.MaxLeverage > 0 && appliedLev > inst.MaxLeverage {
		appliedLev = inst.MaxLeverage
	}
	if appliedLev < 1 {
		appliedLev = 1
	}

	riskPct := b.defaultRiskPct
	if intent.RiskPercent != nil {
		riskPct = *intent.RiskPercent
	}
	balance := b.wallet.AvailableUSD()
	if balance.LessThanOrEqual(decimal.Zero) {
		return nil, decimal.Zero, reasoncode.New(reasoncode.CodeInsufficientBalance, "wallet balance is zero or unavailable", "")
	}
	riskUSDT := balance.Mul(riskPct).Div(decimal.NewFromInt(100))

	slPrice, slRule, err := resolveSL(intent, state.Snapshot, side, mark)
	if err != nil {
		return nil, decimal.Zero, reasoncode.New(reasoncode.CodeInvalidIntent, err.Error(), "specify an explicit sl_price or choose a valid sl_rule")
	}

	size, rej := sizing.FixedRiskSize(sizing.FixedRiskInput{
		Balance: balance, RiskUSDT: riskUSDT, Mark: mark, SLPrice: slPrice,
		MinOrderQty: inst.MinOrderQty, QtyStep: inst.QtyStep,
	})
	if rej != nil {
		return nil, decimal.Zero, rej
	}
	if size.LessThan(inst.MinOrderQty) {
		return nil, decimal.Zero, reasoncode.New(reasoncode.CodeSizeBelowMinimum, "computed size is below the exchange minimum", "increase risk percent or account balance")
	}

	tpRule, tpPrice, tpRR := resolveTP(intent, mark, slPrice, side)

	trailMode := intent.TrailMode
	if trailMode == "" {
		trailMode = types.TrailModeSupertrend
	}

	tc := &types.TradeContract{
		TradeID:     uuid.NewString(),
		Symbol:      intent.Symbol,
		Side:        side,
		Timeframe:   state.Timeframe,
		StrategyTag: state.StrategyTag,
		Entry: types.EntryBlock{
			OrderType:    types.OrderTypeMarket,
			RiskPercent:  riskPct,
			RiskAmount:   riskUSDT,
			RequestedLev: leverage,
			AppliedLev:   appliedLev,
		},
		SL: types.SLBlock{Rule: slRule, ResolvedPrice: &slPrice},
		TP: types.TPBlock{Rule: tpRule, Price: tpPrice, RewardToRisk: tpRR},
		Trail: types.TrailBlock{Mode: trailMode, Active: trailMode != types.TrailModeNone},
		Invalidation: types.InvalidationFlags{BiasFlip: true, StructureBreak: true, SupertrendFlip: true},
		LockSameDirection: false,
		Snapshot:    state.Snapshot,
		Status:      types.ContractPending,
		CreatedAt:   time.Now(),
	}
	if intent.LimitPrice != nil {
		tc.Entry.OrderType = types.OrderTypeLimit
		tc.Entry.LimitPrice = intent.LimitPrice
	}

	return tc, size, nil
}

func resolveSL(intent types.Intent, snap types.StrategySnapshot, side types.PositionSide, mark decimal.Decimal) (decimal.Decimal, types.SLRule, error) {
	if intent.SLPrice != nil {
		return *intent.SLPrice, types.SLRulePrice, nil
	}

	rule := intent.SLRule
	if rule == "" {
		rule = types.SLRuleSwing
	}

	switch rule {
	case types.SLRuleSwing:
		if side == types.PositionSideLong {
			if !snap.HasProtectedLow {
				return decimal.Zero, rule, fmt.Errorf("no protected swing low available for swing-rule stop loss")
			}
			return decimal.NewFromFloat(snap.ProtectedSwingLow), rule, nil
		}
		if !snap.HasProtectedHigh {
			return decimal.Zero, rule, fmt.Errorf("no protected swing high available for swing-rule stop loss")
		}
		return decimal.NewFromFloat(snap.ProtectedSwingHigh), rule, nil
	case types.SLRuleSupertrend:
		return decimal.NewFromFloat(snap.SupertrendValue), rule, nil
	default:
		return decimal.Zero, rule, fmt.Errorf("sl_rule %s requires an explicit sl_price", rule)
	}
}

func resolveTP(intent types.Intent, mark, slPrice decimal.Decimal, side types.PositionSide) (types.TPRule, *decimal.Decimal, *decimal.Decimal) {
	if intent.TPPrice != nil {
		return types.TPRulePrice, intent.TPPrice, nil
	}
	if intent.RewardToRisk != nil {
		rr := *intent.RewardToRisk
		risk := mark.Sub(slPrice).Abs()
		var tp decimal.Decimal
		if side == types.PositionSideLong {
			tp = mark.Add(risk.Mul(rr))
		} else {
			tp = mark.Sub(risk.Mul(rr))
		}
		return types.TPRuleRR, &tp, &rr
	}
	return types.TPRuleNone, nil, nil
}
