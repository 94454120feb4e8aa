package storage

import (
	"time"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
)

// TradeRecord is the persisted form of a trade: the contract plus lifecycle
// timestamps, fills, exit reason, and realized PnL.
type TradeRecord struct {
	Contract    types.TradeContract `json:"contract"`
	ExecutedAt  *time.Time          `json:"executedAt,omitempty"`
	ClosedAt    *time.Time          `json:"closedAt,omitempty"`
	ExitReason  string              `json:"exitReason,omitempty"`
	RealizedPnL decimal.Decimal     `json:"realizedPnl"`
	Fills       []Fill              `json:"fills,omitempty"`
}

// Fill is one execution report against an order linked to a trade.
type Fill struct {
	OrderID   string          `json:"orderId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	FilledAt  time.Time       `json:"filledAt"`
}

// OrderRecord is the persisted local shadow of an exchange order.
type OrderRecord struct {
	LocalID      string            `json:"localId"`
	LinkID       string            `json:"linkId"`
	TradeID      string            `json:"tradeId,omitempty"`
	Symbol       string            `json:"symbol"`
	Side         types.OrderSide   `json:"side"`
	Type         types.OrderType   `json:"type"`
	Size         decimal.Decimal   `json:"size"`
	Price        decimal.Decimal  `json:"price,omitempty"`
	ReduceOnly   bool              `json:"reduceOnly"`
	Status       types.OrderStatus `json:"status"`
	AvgFillPrice decimal.Decimal   `json:"avgFillPrice"`
	FilledSize   decimal.Decimal   `json:"filledSize"`
	IsEntry      bool              `json:"isEntry"`
	IsExit       bool              `json:"isExit"`
	IsSL         bool              `json:"isSl"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Settings is the process-wide persisted configuration row.
type Settings struct {
	MaxLeverage          int             `json:"maxLeverage"`
	CircuitBreakerPct    decimal.Decimal `json:"circuitBreakerPct"`
	SLEmergencyBufferPct decimal.Decimal `json:"slEmergencyBufferPct"`
	Testnet              bool            `json:"testnet"`
}

// SymbolConfig is per-symbol instrument/rounding configuration.
type SymbolConfig struct {
	Symbol      string          `json:"symbol"`
	MinOrderQty decimal.Decimal `json:"minOrderQty"`
	QtyStep     decimal.Decimal `json:"qtyStep"`
	TickSize    decimal.Decimal `json:"tickSize"`
	MaxLeverage int             `json:"maxLeverage"`
}
