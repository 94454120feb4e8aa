package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bias is the net directional stance the strategy engine currently endorses.
type Bias string

const (
	BiasLong    Bias = "LONG"
	BiasShort   Bias = "SHORT"
	BiasNeutral Bias = "NEUTRAL"
)

// StructureBias describes the prevailing swing-structure read.
type StructureBias string

const (
	StructureBullish StructureBias = "BULLISH"
	StructureBearish StructureBias = "BEARISH"
	StructureNeutral StructureBias = "NEUTRAL"
)

// TrendLabel is a human label for the current trend regime.
type TrendLabel string

const (
	TrendUptrend   TrendLabel = "UPTREND"
	TrendDowntrend TrendLabel = "DOWNTREND"
	TrendRanging   TrendLabel = "RANGING"
)

// StrategyTag is a closed, informational classification of the gate
// conditions that produced an entry permission. It never itself gates.
type StrategyTag string

const (
	StrategyTagNone StrategyTag = ""
	StrategyTagS101 StrategyTag = "S101" // Supertrend + SMA200 + EMA1000 all aligned
	StrategyTagS102 StrategyTag = "S102" // Supertrend + one MA aligned
	StrategyTagS103 StrategyTag = "S103" // Supertrend alignment only
)

// Candle is an OHLCV bar for one symbol and timeframe. Confirmed candles are
// immutable; the live candle for a (symbol, timeframe) pair is mutable and
// must never be used for decisions that require a confirmed close.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	OpenTime  int64           `json:"openTimeMs"`
	CloseTime int64           `json:"closeTimeMs"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Confirmed bool            `json:"confirmed"`
}

// SwingEvent records a break-of-structure or change-of-character event.
type SwingEvent struct {
	Direction   StructureBias `json:"direction"`
	Level       float64       `json:"level"`
	CandleIndex int           `json:"candleIndex"`
	OpenTime    int64         `json:"openTimeMs"`
}

// StrategySnapshot is the full indicator read produced on a confirmed
// candle close. All numerics are IEEE-754 doubles; callers must never
// compare them for equality.
type StrategySnapshot struct {
	Symbol    string     `json:"symbol"`
	Timeframe Timeframe  `json:"timeframe"`
	CandleIdx int        `json:"candleIndex"`

	SupertrendDirection Bias    `json:"supertrendDirection"`
	SupertrendValue     float64 `json:"supertrendValue"`

	SMA200  float64 `json:"sma200"`
	EMA1000 float64 `json:"ema1000"`

	CloseAboveSMA200  bool `json:"closeAboveSma200"`
	CloseAboveEMA1000 bool `json:"closeAboveEma1000"`

	StructureBias StructureBias `json:"structureBias"`
	TrendLabel    TrendLabel    `json:"trendLabel"`

	LastBOS   *SwingEvent `json:"lastBos,omitempty"`
	LastCHoCH *SwingEvent `json:"lastChoch,omitempty"`

	ProtectedSwingHigh float64 `json:"protectedSwingHigh"`
	ProtectedSwingLow  float64 `json:"protectedSwingLow"`
	HasProtectedHigh   bool    `json:"hasProtectedHigh"`
	HasProtectedLow    bool    `json:"hasProtectedLow"`

	Price float64 `json:"price"`

	// Signed percentage distances from price to each key level.
	DistToSMA200Pct      float64 `json:"distToSma200Pct"`
	DistToEMA1000Pct     float64 `json:"distToEma1000Pct"`
	DistToSupertrendPct  float64 `json:"distToSupertrendPct"`

	ComputedAt time.Time `json:"computedAt"`
}

// StrategyState is the derived, per-symbol output of the Strategy Engine.
// It is never authoritative — it is fully recomputed from the candle buffer
// on any inconsistency.
type StrategyState struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`

	LastCloseAt time.Time `json:"lastCloseAt"`

	Bias Bias `json:"bias"`

	AllowLongEntry  bool `json:"allowLongEntry"`
	AllowShortEntry bool `json:"allowShortEntry"`

	StrategyTag StrategyTag `json:"strategyTag"`

	RiskWarning        bool   `json:"riskWarning"`
	RiskWarningMessage string `json:"riskWarningMessage,omitempty"`

	ProtectedSwingHigh float64 `json:"protectedSwingHigh"`
	ProtectedSwingLow  float64 `json:"protectedSwingLow"`
	HasProtectedHigh   bool    `json:"hasProtectedHigh"`
	HasProtectedLow    bool    `json:"hasProtectedLow"`

	Snapshot StrategySnapshot `json:"snapshot"`
}

// SymbolState is the per-symbol trade lifecycle state.
type SymbolState string

const (
	StateFlat      SymbolState = "FLAT"
	StateInLong    SymbolState = "IN_LONG"
	StateInShort   SymbolState = "IN_SHORT"
	StateExiting   SymbolState = "EXITING"
	StateLockLong  SymbolState = "LOCK_LONG"
	StateLockShort SymbolState = "LOCK_SHORT"
)

// SymbolTradeState is the per-symbol trade-lifecycle record owned by the
// state machine.
type SymbolTradeState struct {
	Symbol          string       `json:"symbol"`
	State           SymbolState  `json:"state"`
	Side            PositionSide `json:"side,omitempty"`
	EnteredAt       time.Time    `json:"enteredAt,omitempty"`
	LastStoppedSide PositionSide `json:"lastStoppedSide,omitempty"`
}

// IntentAction is the parsed action tag of a user command.
type IntentAction string

const (
	IntentEnterLong    IntentAction = "ENTER_LONG"
	IntentEnterShort   IntentAction = "ENTER_SHORT"
	IntentClose        IntentAction = "CLOSE"
	IntentClosePartial IntentAction = "CLOSE_PARTIAL"
	IntentCancelOrder  IntentAction = "CANCEL_ORDER"
	IntentMoveSL       IntentAction = "MOVE_SL"
	IntentSetTP        IntentAction = "SET_TP"
	IntentSetTrail     IntentAction = "SET_TRAIL"
	IntentPause        IntentAction = "PAUSE"
	IntentResume       IntentAction = "RESUME"
	IntentWatchCreate  IntentAction = "WATCH_CREATE"
	IntentWatchCancel  IntentAction = "WATCH_CANCEL"
	IntentOpinion      IntentAction = "OPINION"
	IntentInfo         IntentAction = "INFO"
	IntentUnknown      IntentAction = "UNKNOWN"
)

// SLRule identifies how a stop-loss price is resolved.
type SLRule string

const (
	SLRuleSwing      SLRule = "SWING"
	SLRuleSupertrend SLRule = "SUPERTREND"
	SLRulePrice      SLRule = "PRICE"
	SLRuleNone       SLRule = "NONE"
)

// TPRule identifies how a take-profit price is resolved.
type TPRule string

const (
	TPRuleNone      TPRule = "NONE"
	TPRuleRR        TPRule = "RR"
	TPRulePrice     TPRule = "PRICE"
	TPRuleStructure TPRule = "STRUCTURE"
)

// TrailMode identifies the trailing-stop mode.
type TrailMode string

const (
	TrailModeSupertrend TrailMode = "SUPERTREND"
	TrailModeStructure  TrailMode = "STRUCTURE"
	TrailModeNone       TrailMode = "NONE"
)

// Intent is a parsed user command, structured or natural-language.
type Intent struct {
	Action IntentAction `json:"action"`
	Symbol string       `json:"symbol"`

	RiskPercent *decimal.Decimal `json:"riskPercent,omitempty"`
	Leverage    *int             `json:"leverage,omitempty"`

	SLRule  SLRule           `json:"slRule,omitempty"`
	SLPrice *decimal.Decimal `json:"slPrice,omitempty"`

	TPRule   TPRule           `json:"tpRule,omitempty"`
	TPPrice  *decimal.Decimal `json:"tpPrice,omitempty"`
	RewardToRisk *decimal.Decimal `json:"rewardToRisk,omitempty"`

	TrailMode TrailMode `json:"trailMode,omitempty"`

	PartialClosePercent *decimal.Decimal `json:"partialClosePercent,omitempty"`
	LimitPrice          *decimal.Decimal `json:"limitPrice,omitempty"`

	RawText string `json:"rawText,omitempty"`
}

// EntryBlock describes the entry-order portion of a trade contract.
type EntryBlock struct {
	OrderType       OrderType       `json:"orderType"` // MARKET or LIMIT
	RiskPercent     decimal.Decimal `json:"riskPercent"`
	RiskAmount      decimal.Decimal `json:"riskAmount"`
	RequestedLev    int             `json:"requestedLeverage"`
	AppliedLev      int             `json:"appliedLeverage"`
	LimitPrice      *decimal.Decimal `json:"limitPrice,omitempty"`
}

// SLBlock describes the stop-loss portion of a trade contract.
type SLBlock struct {
	Rule          SLRule           `json:"rule"`
	ResolvedPrice *decimal.Decimal `json:"resolvedPrice,omitempty"`
}

// TPBlock describes the take-profit portion of a trade contract.
type TPBlock struct {
	Rule         TPRule           `json:"rule"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	RewardToRisk *decimal.Decimal `json:"rewardToRisk,omitempty"`
}

// TrailBlock describes the trailing-stop portion of a trade contract.
type TrailBlock struct {
	Mode   TrailMode `json:"mode"`
	Active bool      `json:"active"`
}

// InvalidationFlags describe the conditions that invalidate the trade.
type InvalidationFlags struct {
	BiasFlip       bool `json:"biasFlip"`
	StructureBreak bool `json:"structureBreak"`
	SupertrendFlip bool `json:"supertrendFlip"`
}

// ContractStatus is the lifecycle status of a trade contract.
type ContractStatus string

const (
	ContractPending  ContractStatus = "PENDING"
	ContractExecuted ContractStatus = "EXECUTED"
	ContractRejected ContractStatus = "REJECTED"
)

// TradeContract is immutable after construction.
type TradeContract struct {
	TradeID     string         `json:"tradeId"`
	Symbol      string         `json:"symbol"`
	Side        PositionSide   `json:"side"`
	Timeframe   Timeframe      `json:"timeframe"`
	StrategyTag StrategyTag    `json:"strategyTag"`

	Entry EntryBlock `json:"entry"`
	SL    SLBlock    `json:"sl"`
	TP    TPBlock    `json:"tp"`
	Trail TrailBlock `json:"trail"`

	Invalidation InvalidationFlags `json:"invalidation"`

	LockSameDirection bool `json:"lockSameDirection"`

	UserTags []string         `json:"userTags,omitempty"`
	Note     string           `json:"note,omitempty"`
	Snapshot StrategySnapshot `json:"snapshotAtEntry"`

	Status    ContractStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SLLevels is the two-layer stop-loss record for one open trade.
type SLLevels struct {
	TradeID    string          `json:"tradeId"`
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	Strategic  decimal.Decimal `json:"strategic"`
	Emergency  decimal.Decimal `json:"emergency"`
	BufferPct  decimal.Decimal `json:"bufferPct"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// WatchTriggerType identifies what condition a watch rule monitors.
type WatchTriggerType string

const (
	WatchCloserToSMA200     WatchTriggerType = "CLOSER_TO_SMA200"
	WatchCloserToEMA1000    WatchTriggerType = "CLOSER_TO_EMA1000"
	WatchCloserToSupertrend WatchTriggerType = "CLOSER_TO_SUPERTREND"
	WatchPriceAbove         WatchTriggerType = "PRICE_ABOVE"
	WatchPriceBelow         WatchTriggerType = "PRICE_BELOW"
)

// WatchMode identifies whether a triggered watch only notifies or enters.
type WatchMode string

const (
	WatchNotifyOnly WatchMode = "NOTIFY_ONLY"
	WatchAutoEnter  WatchMode = "AUTO_ENTER"
)

// WatchStatus is the lifecycle status of a watch rule.
type WatchStatus string

const (
	WatchActive    WatchStatus = "ACTIVE"
	WatchTriggered WatchStatus = "TRIGGERED"
	WatchExpired   WatchStatus = "EXPIRED"
	WatchCancelled WatchStatus = "CANCELLED"
)

// WatchPreset carries the entry parameters an AUTO_ENTER watch applies.
type WatchPreset struct {
	RiskPercent decimal.Decimal `json:"riskPercent"`
	SLRule      SLRule          `json:"slRule"`
	TrailMode   TrailMode       `json:"trailMode"`
}

// WatchRule is a user-created proximity or price trigger.
type WatchRule struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	IntendedSide  PositionSide     `json:"intendedSide"`
	TriggerType   WatchTriggerType `json:"triggerType"`
	ThresholdPct  decimal.Decimal  `json:"thresholdPct,omitempty"`
	TargetPrice   decimal.Decimal  `json:"targetPrice,omitempty"`
	Mode          WatchMode        `json:"mode"`
	ExpiryTime    time.Time        `json:"expiryTime"`
	Status        WatchStatus      `json:"status"`
	Preset        *WatchPreset     `json:"preset,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	TriggeredAt   *time.Time       `json:"triggeredAt,omitempty"`
}

// CircuitBreakerState tracks the rolling daily-loss window.
type CircuitBreakerState struct {
	DailyStartBalance decimal.Decimal `json:"dailyStartBalance"`
	DailyStartTime    time.Time       `json:"dailyStartTime"`
	TotalLossToday    decimal.Decimal `json:"totalLossToday"`
	LossPct           decimal.Decimal `json:"lossPct"`
	Tripped           bool            `json:"tripped"`
	TrippedAt         *time.Time      `json:"trippedAt,omitempty"`
	UnlockAt          *time.Time      `json:"unlockAt,omitempty"`
	TripReason        string          `json:"tripReason,omitempty"`
	ManualOverride    bool            `json:"manualOverride"`
}

// EventType is one of the closed set of append-only audit-event tags.
type EventType string

const (
	EventStateUpdate              EventType = "state-update"
	EventEntryPlaced              EventType = "ENTRY_PLACED"
	EventEntryBlockedPause        EventType = "ENTRY_BLOCKED_PAUSE"
	EventEntryBlockedCircuit      EventType = "ENTRY_BLOCKED_CIRCUIT_BREAKER"
	EventEntryBlockedState        EventType = "ENTRY_BLOCKED_STATE"
	EventEntryBlockedDirection    EventType = "ENTRY_BLOCKED_DIRECTION"
	EventEntryBlockedInPosition   EventType = "ENTRY_BLOCKED_ALREADY_IN_POSITION"
	EventEntrySizeError           EventType = "ENTRY_SIZE_ERROR"
	EventOrderPlaced              EventType = "order-placed"
	EventOrderFilled              EventType = "order-filled"
	EventOrderCancelled           EventType = "order-cancelled"
	EventOrderRejected            EventType = "order-rejected"
	EventPositionOpened           EventType = "positionOpened"
	EventPositionUpdated          EventType = "positionUpdated"
	EventPositionClosed           EventType = "positionClosed"
	EventPnLUpdate                EventType = "pnlUpdate"
	EventStrategicSLTriggered     EventType = "strategicSlTriggered"
	EventSLUpdated                EventType = "sl-updated"
	EventTrailUpdated             EventType = "trail-updated"
	EventWatchCreated             EventType = "watch-created"
	EventWatchTriggered           EventType = "watch-triggered"
	EventWatchExpired             EventType = "watch-expired"
	EventWatchCancelled           EventType = "watch-cancelled"
	EventCircuitBreakerTripped    EventType = "circuit-breaker-tripped"
	EventCircuitBreakerReset      EventType = "circuit-breaker-reset"
	EventCircuitBreakerOverride   EventType = "circuit-breaker-override"
	EventPauseEnabled             EventType = "pause-enabled"
	EventPauseDisabled            EventType = "pause-disabled"
	EventLockCleared              EventType = "lock-cleared"
	EventForceUnlocked            EventType = "force-unlocked"
	EventDegraded                 EventType = "degraded"
	EventReconciled               EventType = "reconciled"
	EventUnknownRestartClose      EventType = "UNKNOWN_RESTART_CLOSE"
	EventSystemFatal              EventType = "system-fatal"
	EventExitFilled               EventType = "exit-filled"
)

// Event is an append-only audit-log entry. Never mutated.
type Event struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol,omitempty"`
	TradeID   string         `json:"tradeId,omitempty"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
