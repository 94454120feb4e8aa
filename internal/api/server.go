// Package api exposes the agent over HTTP and WebSocket: agent status and
// controls (pause/resume, circuit breaker, unlock) under /agent, read-only
// strategy state under /strategy, command intake and trade/position reads
// under /execution, watch rules under /watch, historical data and backtests
// under /data and /backtest, and an outbound event stream over WebSocket. Grounded on the teacher's
// mux+gorilla/websocket+rs/cors server shape in the original server.go,
// re-routed to this agent's surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/backtester"
	"github.com/atlas-desktop/derivatives-agent/internal/data"
	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/internal/exchange"
	"github.com/atlas-desktop/derivatives-agent/internal/storage"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Agent is the full surface the API needs from the wired application. It is
// satisfied by internal/app.Context; defined here (rather than imported) so
// this package stays a leaf api can be unit-tested against a fake.
type Agent interface {
	Pause()
	Resume()
	Paused() bool

	CircuitBreakerState() types.CircuitBreakerState
	OverrideCircuitBreaker()
	ResetCircuitBreaker()

	TradeState(symbol string) types.SymbolTradeState
	StrategyState(symbol string) (types.StrategyState, bool)
	OpenPositions(ctx context.Context) ([]exchange.Position, error)
	OpenTrades() ([]storage.TradeRecord, error)

	DispatchCommand(raw string) (types.Intent, error)
	ForceUnlockSymbol(symbol string)

	CreateWatch(rule types.WatchRule) string
	CancelWatch(id string) bool
	ActiveWatches() []types.WatchRule
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	agent      Agent
	bus        *events.Bus
	hub        *Hub
	dataStore  *data.Store
	backtests  map[string]*BacktestState
}

// BacktestState tracks a running backtest; the backtest subsystem remains
// available alongside the live agent for strategy research, never feeding
// back into live trading.
type BacktestState struct {
	ID      string
	Config  *types.BacktestConfig
	Engine  *backtester.Engine
	Status  string
	Started time.Time
	Result  *types.BacktestResult
}

// NewServer constructs the API server and wires its WebSocket hub to bus.
func NewServer(logger *zap.Logger, config *types.ServerConfig, agent Agent, bus *events.Bus, dataStore *data.Store) *Server {
	s := &Server{
		logger:    logger.Named("api"),
		config:    config,
		router:    mux.NewRouter(),
		agent:     agent,
		bus:       bus,
		hub:       NewHub(logger.Named("ws-hub")),
		dataStore: dataStore,
		backtests: make(map[string]*BacktestState),
	}
	s.setupRoutes()
	s.subscribeBus()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/agent/status", s.handleAgentStatus).Methods("GET")
	s.router.HandleFunc("/agent/pause", s.handlePause).Methods("POST")
	s.router.HandleFunc("/agent/resume", s.handleResume).Methods("POST")
	s.router.HandleFunc("/agent/circuit-breaker", s.handleCircuitBreakerStatus).Methods("GET")
	s.router.HandleFunc("/agent/circuit-breaker/override", s.handleCircuitBreakerOverride).Methods("POST")
	s.router.HandleFunc("/agent/circuit-breaker/reset", s.handleCircuitBreakerReset).Methods("POST")
	s.router.HandleFunc("/agent/unlock/{symbol}", s.handleForceUnlock).Methods("POST")

	s.router.HandleFunc("/strategy/{symbol}", s.handleStrategyState).Methods("GET")
	s.router.HandleFunc("/strategy/{symbol}/trade-state", s.handleTradeState).Methods("GET")

	s.router.HandleFunc("/execution/command", s.handleCommand).Methods("POST")
	s.router.HandleFunc("/execution/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/execution/trades", s.handleOpenTrades).Methods("GET")

	s.router.HandleFunc("/watch", s.handleWatchList).Methods("GET")
	s.router.HandleFunc("/watch", s.handleWatchCreate).Methods("POST")
	s.router.HandleFunc("/watch/{id}", s.handleWatchCancel).Methods("DELETE")

	s.router.HandleFunc("/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/data/history/{symbol}", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/backtest/{id}", s.handleGetBacktest).Methods("GET")

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

// subscribeBus forwards every published agent event onto the WebSocket hub
// as an outbound envelope.
func (s *Server) subscribeBus() {
	s.bus.SubscribeAll(func(ev types.Event) error {
		s.hub.Broadcast(OutboundEnvelope{Type: string(ev.Type), Data: ev, Timestamp: ev.Timestamp.UnixMilli()})
		return nil
	}, events.SubscriptionOptions{Async: true})
}

// Start runs the HTTP server and the hub loop. Blocks until the server
// stops or errors.
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server and hub down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the mux router for tests.
func (s *Server) Router() *mux.Router { return s.router }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"paused":         s.agent.Paused(),
		"circuitBreaker": s.agent.CircuitBreakerState(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.agent.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.agent.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.CircuitBreakerState())
}

func (s *Server) handleCircuitBreakerOverride(w http.ResponseWriter, r *http.Request) {
	s.agent.OverrideCircuitBreaker()
	writeJSON(w, http.StatusOK, map[string]string{"status": "overridden"})
}

func (s *Server) handleCircuitBreakerReset(w http.ResponseWriter, r *http.Request) {
	s.agent.ResetCircuitBreaker()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleForceUnlock is the admin override for the anti-revenge lock: it
// forces a symbol back to FLAT regardless of which side is locked out.
func (s *Server) handleForceUnlock(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	s.agent.ForceUnlockSymbol(symbol)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked", "symbol": symbol})
}

func (s *Server) handleStrategyState(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	state, ok := s.agent.StrategyState(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no strategy state for %s yet", symbol))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleTradeState(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	writeJSON(w, http.StatusOK, s.agent.TradeState(symbol))
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	intent, err := s.agent.DispatchCommand(req.Command)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusAccepted, intent)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.agent.OpenPositions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) handleOpenTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.agent.OpenTrades()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"watches": s.agent.ActiveWatches()})
}

func (s *Server) handleWatchCreate(w http.ResponseWriter, r *http.Request) {
	var rule types.WatchRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := s.agent.CreateWatch(rule)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleWatchCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.agent.CancelWatch(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("watch %s not found or not active", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.dataStore.GetAvailableSymbols()
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT"}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": symbols})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1h"
	}
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()
	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	bars, err := s.dataStore.LoadOHLCV(r.Context(), symbol, types.Timeframe(timeframe), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "timeframe": timeframe, "bars": bars, "count": len(bars)})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var cfg types.BacktestConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	slippageModel := backtester.CreateSlippageModel(cfg.Slippage)
	engine := backtester.NewEngine(s.logger, s.dataStore, slippageModel)
	state := &BacktestState{ID: cfg.ID, Config: &cfg, Engine: engine, Status: "running", Started: time.Now()}
	s.backtests[cfg.ID] = state

	go func() {
		result, err := engine.Run(context.Background(), &cfg)
		if err != nil {
			state.Status = "failed"
			s.logger.Error("backtest failed", zap.String("id", cfg.ID), zap.Error(err))
			return
		}
		state.Status = "completed"
		state.Result = result
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"id": cfg.ID, "status": "running"})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	state, ok := s.backtests[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("backtest %s not found", id))
		return
	}
	resp := map[string]any{"id": state.ID, "status": state.Status, "started": state.Started.Unix()}
	if state.Result != nil {
		resp["result"] = state.Result
	}
	writeJSON(w, http.StatusOK, resp)
}
