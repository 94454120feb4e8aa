package contract_test

import (
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/circuitbreaker"
	"github.com/atlas-desktop/derivatives-agent/internal/contract"
	"github.com/atlas-desktop/derivatives-agent/internal/reasoncode"
	"github.com/atlas-desktop/derivatives-agent/internal/statemachine"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeWallet struct{ balance decimal.Decimal }

func (w fakeWallet) AvailableUSD() decimal.Decimal { return w.balance }

type fakeStrategies struct {
	state types.StrategyState
	ok    bool
}

func (f fakeStrategies) State(symbol string) (types.StrategyState, bool) { return f.state, f.ok }

func longAllowedState() types.StrategyState {
	return types.StrategyState{
		Symbol:          "BTCUSDT",
		Timeframe:       types.Timeframe15m,
		AllowLongEntry:  true,
		AllowShortEntry: false,
		StrategyTag:     types.StrategyTagS101,
		Snapshot: types.StrategySnapshot{
			HasProtectedLow:    true,
			ProtectedSwingLow:  28000,
			HasProtectedHigh:   true,
			ProtectedSwingHigh: 32000,
			SupertrendValue:    29500,
		},
	}
}

func newBuilder(states *statemachine.Machine, breaker *circuitbreaker.Breaker, strategies contract.StrategyStateProvider, wallet contract.Wallet) *contract.Builder {
	return contract.New(zap.NewNop(), states, breaker, strategies, wallet, contract.DefaultConfig())
}

func defaultInstrument() contract.Instrument {
	return contract.Instrument{
		MinOrderQty: decimal.NewFromFloat(0.001),
		QtyStep:     decimal.NewFromFloat(0.001),
		TickSize:    decimal.NewFromFloat(0.1),
		MaxLeverage: 20,
	}
}

func enterLongIntent() types.Intent {
	return types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"}
}

func TestBuildRejectsWhenPaused(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	states.Pause()
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	_, _, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej == nil {
		t.Fatal("expected a rejection while paused")
	}
	if rej.Code != reasoncode.CodePaused {
		t.Errorf("code = %s, want %s", rej.Code, reasoncode.CodePaused)
	}
}

func TestBuildRejectsOnTrippedBreaker(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	breaker.RecordPnL(decimal.NewFromInt(-6000), decimal.NewFromInt(4000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	_, _, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej == nil {
		t.Fatal("expected a rejection from a tripped circuit breaker")
	}
	if rej.Code != reasoncode.CodeCircuitBreaker {
		t.Errorf("code = %s, want %s", rej.Code, reasoncode.CodeCircuitBreaker)
	}
}

func TestBuildRejectsWhenAlreadyInPosition(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	states.EnterPosition("BTCUSDT", types.PositionSideLong)
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	_, _, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej == nil {
		t.Fatal("expected a rejection for an already-open position")
	}
	if rej.Code != reasoncode.CodeStateInPosition {
		t.Errorf("code = %s, want %s", rej.Code, reasoncode.CodeStateInPosition)
	}
}

func TestBuildRejectsWhenStrategyStateMissing(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{ok: false}, fakeWallet{balance: decimal.NewFromInt(10000)})

	_, _, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej == nil {
		t.Fatal("expected a rejection when no strategy state is available yet")
	}
	if rej.Code != reasoncode.CodeInvalidIntent {
		t.Errorf("code = %s, want %s", rej.Code, reasoncode.CodeInvalidIntent)
	}
}

func TestBuildRejectsDirectionDisallowedWithSnapshot(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	state := longAllowedState()
	state.AllowLongEntry = false
	b := newBuilder(states, breaker, fakeStrategies{state: state, ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	_, _, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej == nil {
		t.Fatal("expected a direction-disallowed rejection")
	}
	if rej.Code != reasoncode.CodeDirectionDisallowed {
		t.Errorf("code = %s, want %s", rej.Code, reasoncode.CodeDirectionDisallowed)
	}
	if rej.Snapshot == nil {
		t.Fatal("expected the rejection to carry the strategy snapshot")
	}
}

func TestBuildRejectsOnZeroBalance(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.Zero})

	_, _, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej == nil {
		t.Fatal("expected a rejection for zero balance")
	}
	if rej.Code != reasoncode.CodeInsufficientBalance {
		t.Errorf("code = %s, want %s", rej.Code, reasoncode.CodeInsufficientBalance)
	}
}

func TestBuildRejectsSwingSLWithoutProtectedLevel(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	state := longAllowedState()
	state.Snapshot.HasProtectedLow = false
	b := newBuilder(states, breaker, fakeStrategies{state: state, ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	_, _, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej == nil {
		t.Fatal("expected a rejection when no protected swing low is available")
	}
	if rej.Code != reasoncode.CodeInvalidIntent {
		t.Errorf("code = %s, want %s", rej.Code, reasoncode.CodeInvalidIntent)
	}
}

func TestBuildAssemblesContractWithSwingSLAndDefaultRiskReward(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	tc, size, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if tc.Symbol != "BTCUSDT" || tc.Side != types.PositionSideLong {
		t.Fatalf("unexpected contract: %+v", tc)
	}
	if tc.Status != types.ContractPending {
		t.Errorf("status = %s, want ContractPending", tc.Status)
	}
	if tc.SL.Rule != types.SLRuleSwing || tc.SL.ResolvedPrice == nil || !tc.SL.ResolvedPrice.Equal(decimal.NewFromInt(28000)) {
		t.Errorf("unexpected SL block: %+v", tc.SL)
	}
	if tc.TP.Rule != types.TPRuleNone {
		t.Errorf("expected no TP rule without tp_price or reward_to_risk, got %s", tc.TP.Rule)
	}
	if tc.Entry.AppliedLev != 3 {
		t.Errorf("applied leverage = %d, want default 3", tc.Entry.AppliedLev)
	}
	if size.LessThanOrEqual(decimal.Zero) {
		t.Errorf("expected a positive computed size, got %s", size)
	}
}

func TestBuildClampsLeverageToInstrumentMax(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	lev := 50
	intent := enterLongIntent()
	intent.Leverage = &lev
	inst := defaultInstrument()
	inst.MaxLeverage = 20

	tc, _, rej := b.Build(intent, decimal.NewFromInt(30000), inst)
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if tc.Entry.RequestedLev != 50 {
		t.Errorf("requested leverage = %d, want 50", tc.Entry.RequestedLev)
	}
	if tc.Entry.AppliedLev != 20 {
		t.Errorf("applied leverage = %d, want clamped 20", tc.Entry.AppliedLev)
	}
}

func TestBuildResolvesRewardToRiskTakeProfit(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	rr := decimal.NewFromInt(2)
	intent := enterLongIntent()
	intent.RewardToRisk = &rr
	mark := decimal.NewFromInt(30000)

	tc, _, rej := b.Build(intent, mark, defaultInstrument())
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if tc.TP.Rule != types.TPRuleRR {
		t.Fatalf("expected RR take-profit rule, got %s", tc.TP.Rule)
	}
	risk := mark.Sub(decimal.NewFromInt(28000)).Abs()
	wantTP := mark.Add(risk.Mul(rr))
	if tc.TP.Price == nil || !tc.TP.Price.Equal(wantTP) {
		t.Errorf("tp price = %v, want %s", tc.TP.Price, wantTP)
	}
	if tc.TP.RewardToRisk == nil || !tc.TP.RewardToRisk.Equal(rr) {
		t.Errorf("reward-to-risk = %v, want %s", tc.TP.RewardToRisk, rr)
	}
}

func TestBuildUsesExplicitSLAndTPPrices(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	sl := decimal.NewFromInt(29000)
	tp := decimal.NewFromInt(32000)
	intent := enterLongIntent()
	intent.SLPrice = &sl
	intent.TPPrice = &tp

	tc, _, rej := b.Build(intent, decimal.NewFromInt(30000), defaultInstrument())
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if tc.SL.Rule != types.SLRulePrice || !tc.SL.ResolvedPrice.Equal(sl) {
		t.Errorf("unexpected SL block: %+v", tc.SL)
	}
	if tc.TP.Rule != types.TPRulePrice || !tc.TP.Price.Equal(tp) {
		t.Errorf("unexpected TP block: %+v", tc.TP)
	}
}

func TestBuildUsesLimitOrderWhenLimitPriceGiven(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(10000)})

	limit := decimal.NewFromInt(29800)
	intent := enterLongIntent()
	intent.LimitPrice = &limit

	tc, _, rej := b.Build(intent, decimal.NewFromInt(30000), defaultInstrument())
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if tc.Entry.OrderType != types.OrderTypeLimit {
		t.Errorf("order type = %s, want LIMIT", tc.Entry.OrderType)
	}
	if tc.Entry.LimitPrice == nil || !tc.Entry.LimitPrice.Equal(limit) {
		t.Errorf("limit price = %v, want %s", tc.Entry.LimitPrice, limit)
	}
}

func TestBuildRejectsSizeBelowMinimumOnLowRisk(t *testing.T) {
	states := statemachine.New(zap.NewNop())
	breaker := circuitbreaker.New(zap.NewNop(), circuitbreaker.DefaultConfig(), decimal.NewFromInt(10000))
	b := newBuilder(states, breaker, fakeStrategies{state: longAllowedState(), ok: true}, fakeWallet{balance: decimal.NewFromInt(1)})

	_, _, rej := b.Build(enterLongIntent(), decimal.NewFromInt(30000), defaultInstrument())
	if rej == nil {
		t.Fatal("expected a rejection for an undersized position")
	}
	if rej.Code != reasoncode.CodeSizeBelowMinimum && rej.Code != reasoncode.CodeSizeCalcError {
		t.Errorf("code = %s, want SIZE_BELOW_MIN or SIZE_CALC_ERROR", rej.Code)
	}
}
