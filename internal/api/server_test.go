package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/api"
	"github.com/atlas-desktop/derivatives-agent/internal/data"
	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/internal/exchange"
	"github.com/atlas-desktop/derivatives-agent/internal/storage"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"go.uber.org/zap"
)

// fakeAgent implements api.Agent with canned responses the tests can
// inspect and override per-case.
type fakeAgent struct {
	paused         bool
	breakerState   types.CircuitBreakerState
	tradeState     types.SymbolTradeState
	strategyState  types.StrategyState
	strategyExists bool
	positions      []exchange.Position
	positionsErr   error
	trades         []storage.TradeRecord
	tradesErr      error
	dispatched     string
	dispatchErr    error
	watches        []types.WatchRule
	createdID      string
	cancelOK       bool
	cancelledID    string
	unlockedSymbol string
}

func (f *fakeAgent) Pause()  { f.paused = true }
func (f *fakeAgent) Resume() { f.paused = false }
func (f *fakeAgent) Paused() bool { return f.paused }

func (f *fakeAgent) CircuitBreakerState() types.CircuitBreakerState { return f.breakerState }
func (f *fakeAgent) OverrideCircuitBreaker()                        { f.breakerState.ManualOverride = true }
func (f *fakeAgent) ResetCircuitBreaker()                           { f.breakerState.Tripped = false }

func (f *fakeAgent) TradeState(symbol string) types.SymbolTradeState { return f.tradeState }
func (f *fakeAgent) StrategyState(symbol string) (types.StrategyState, bool) {
	return f.strategyState, f.strategyExists
}
func (f *fakeAgent) OpenPositions(ctx context.Context) ([]exchange.Position, error) {
	return f.positions, f.positionsErr
}
func (f *fakeAgent) OpenTrades() ([]storage.TradeRecord, error) { return f.trades, f.tradesErr }

func (f *fakeAgent) DispatchCommand(raw string) (types.Intent, error) {
	f.dispatched = raw
	if f.dispatchErr != nil {
		return types.Intent{}, f.dispatchErr
	}
	return types.Intent{Action: types.IntentEnterLong, Symbol: "BTCUSDT"}, nil
}

func (f *fakeAgent) ForceUnlockSymbol(symbol string) { f.unlockedSymbol = symbol }

func (f *fakeAgent) CreateWatch(rule types.WatchRule) string {
	f.watches = append(f.watches, rule)
	return f.createdID
}
func (f *fakeAgent) CancelWatch(id string) bool { f.cancelledID = id; return f.cancelOK }
func (f *fakeAgent) ActiveWatches() []types.WatchRule { return f.watches }

func newTestServer(t *testing.T, agent api.Agent) *api.Server {
	t.Helper()
	logger := zap.NewNop()
	cfg := &types.ServerConfig{Host: "127.0.0.1", Port: 0, WebSocketPath: "/ws"}
	bus := events.NewBus(logger, events.Config{NumWorkers: 1, BufferSize: 16})
	t.Cleanup(bus.Stop)
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("opening data store: %v", err)
	}
	return api.NewServer(logger, cfg, agent, bus, store)
}

func doRequest(s *api.Server, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	return w
}

func TestHealthReturnsOK(t *testing.T) {
	s := newTestServer(t, &fakeAgent{})
	w := doRequest(s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAgentPauseAndResume(t *testing.T) {
	agent := &fakeAgent{}
	s := newTestServer(t, agent)

	if w := doRequest(s, http.MethodPost, "/agent/pause", ""); w.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", w.Code)
	}
	if !agent.paused {
		t.Fatal("expected agent to be paused")
	}

	if w := doRequest(s, http.MethodPost, "/agent/resume", ""); w.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", w.Code)
	}
	if agent.paused {
		t.Fatal("expected agent to be resumed")
	}
}

func TestAgentStatusReportsPausedAndBreaker(t *testing.T) {
	agent := &fakeAgent{paused: true, breakerState: types.CircuitBreakerState{Tripped: true}}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodGet, "/agent/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if paused, _ := body["paused"].(bool); !paused {
		t.Errorf("expected paused=true in response, got %+v", body)
	}
}

func TestCircuitBreakerOverrideAndReset(t *testing.T) {
	agent := &fakeAgent{breakerState: types.CircuitBreakerState{Tripped: true}}
	s := newTestServer(t, agent)

	doRequest(s, http.MethodPost, "/agent/circuit-breaker/override", "")
	if !agent.breakerState.ManualOverride {
		t.Fatal("expected override to be recorded")
	}

	doRequest(s, http.MethodPost, "/agent/circuit-breaker/reset", "")
	if agent.breakerState.Tripped {
		t.Fatal("expected reset to clear tripped state")
	}
}

func TestStrategyStateReturnsNotFoundWhenMissing(t *testing.T) {
	agent := &fakeAgent{strategyExists: false}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodGet, "/strategy/BTCUSDT", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStrategyStateReturnsStateWhenPresent(t *testing.T) {
	agent := &fakeAgent{strategyExists: true, strategyState: types.StrategyState{Symbol: "BTCUSDT"}}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodGet, "/strategy/BTCUSDT", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestCommandDispatchesAndReturnsIntent(t *testing.T) {
	agent := &fakeAgent{}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodPost, "/execution/command", `{"command":"long BTCUSDT risk 1%"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", w.Code, w.Body.String())
	}
	if agent.dispatched != "long BTCUSDT risk 1%" {
		t.Errorf("dispatched command = %q", agent.dispatched)
	}
}

func TestCommandRejectsInvalidJSON(t *testing.T) {
	s := newTestServer(t, &fakeAgent{})
	w := doRequest(s, http.MethodPost, "/execution/command", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCommandPropagatesDispatchError(t *testing.T) {
	agent := &fakeAgent{dispatchErr: errors.New("unparseable command")}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodPost, "/execution/command", `{"command":"gibberish"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
}

func TestOpenPositionsReturnsAgentData(t *testing.T) {
	agent := &fakeAgent{positions: []exchange.Position{{Symbol: "BTCUSDT"}}}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodGet, "/execution/positions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	positions, _ := body["positions"].([]any)
	if len(positions) != 1 {
		t.Errorf("expected 1 position in response, got %d", len(positions))
	}
}

func TestOpenPositionsPropagatesError(t *testing.T) {
	agent := &fakeAgent{positionsErr: errors.New("exchange unavailable")}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodGet, "/execution/positions", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestOpenTradesReturnsAgentData(t *testing.T) {
	agent := &fakeAgent{trades: []storage.TradeRecord{{Contract: types.TradeContract{TradeID: "t1"}}}}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodGet, "/execution/trades", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestWatchCreateAssignsID(t *testing.T) {
	agent := &fakeAgent{createdID: "watch-1"}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodPost, "/watch", `{"symbol":"BTCUSDT","intendedSide":"LONG"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", w.Code, w.Body.String())
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["id"] != "watch-1" {
		t.Errorf("id = %q, want watch-1", body["id"])
	}
	if len(agent.watches) != 1 || agent.watches[0].Symbol != "BTCUSDT" {
		t.Errorf("expected the decoded rule to reach the agent, got %+v", agent.watches)
	}
}

func TestWatchListReturnsActiveWatches(t *testing.T) {
	agent := &fakeAgent{watches: []types.WatchRule{{ID: "w1", Symbol: "ETHUSDT"}}}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodGet, "/watch", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestWatchCancelReturnsNotFoundWhenRejected(t *testing.T) {
	agent := &fakeAgent{cancelOK: false}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodDelete, "/watch/w1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if agent.cancelledID != "w1" {
		t.Errorf("cancelled id = %q, want w1", agent.cancelledID)
	}
}

func TestWatchCancelReturnsOKWhenAccepted(t *testing.T) {
	agent := &fakeAgent{cancelOK: true}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodDelete, "/watch/w1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestForceUnlockRoutesToAgent(t *testing.T) {
	agent := &fakeAgent{}
	s := newTestServer(t, agent)

	w := doRequest(s, http.MethodPost, "/agent/unlock/BTCUSDT", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if agent.unlockedSymbol != "BTCUSDT" {
		t.Errorf("unlocked symbol = %q, want BTCUSDT", agent.unlockedSymbol)
	}
}

func TestGetSymbolsFallsBackWhenStoreEmpty(t *testing.T) {
	s := newTestServer(t, &fakeAgent{})

	w := doRequest(s, http.MethodGet, "/data/symbols", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	symbols, _ := body["symbols"].([]any)
	if len(symbols) != 1 || symbols[0] != "BTCUSDT" {
		t.Errorf("expected fallback [BTCUSDT], got %+v", symbols)
	}
}
