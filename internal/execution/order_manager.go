// Package execution places and tracks orders against the configured
// exchange.Adapter, admits entries through the Trade Contract Builder, and
// reconciles local state with the exchange on startup.
package execution

import (
	"sync"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/storage"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderManager tracks local order state and dedupes submissions by LinkID,
// the idempotency key carried through exchange.PlaceOrderRequest.
type OrderManager struct {
	logger *zap.Logger

	mu     sync.RWMutex
	orders map[string]*storage.OrderRecord // keyed by LinkID
}

// NewOrderManager constructs an Order Manager.
func NewOrderManager(logger *zap.Logger) *OrderManager {
	return &OrderManager{
		logger: logger.Named("order-manager"),
		orders: make(map[string]*storage.OrderRecord),
	}
}

// TrackOrder records a newly-submitted order. If linkID was already tracked
// the existing record is returned unchanged and seen is true — callers must
// not re-submit or re-apply side effects for a duplicate.
func (m *OrderManager) TrackOrder(rec storage.OrderRecord) (current storage.OrderRecord, seen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.orders[rec.LinkID]; ok {
		return *existing, true
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	m.orders[rec.LinkID] = &rec
	return rec, false
}

// ApplyFill updates a tracked order's fill state from an exchange order
// event. Unknown LinkIDs are ignored, e.g. orders placed before this
// process started and not yet reconciled.
func (m *OrderManager) ApplyFill(linkID string, status types.OrderStatus, avgFillPrice, filledQty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.orders[linkID]
	if !ok {
		return
	}
	rec.Status = status
	rec.AvgFillPrice = avgFillPrice
	rec.FilledSize = filledQty
	rec.UpdatedAt = time.Now()
}

// Get returns the tracked order for a LinkID.
func (m *OrderManager) Get(linkID string) (storage.OrderRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orders[linkID]
	if !ok {
		return storage.OrderRecord{}, false
	}
	return *rec, true
}

// ForTrade returns every tracked order linked to a trade ID.
func (m *OrderManager) ForTrade(tradeID string) []storage.OrderRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []storage.OrderRecord
	for _, rec := range m.orders {
		if rec.TradeID == tradeID {
			out = append(out, *rec)
		}
	}
	return out
}

// Seed loads previously-persisted orders into memory, used during startup
// reconciliation before any new orders are placed.
func (m *OrderManager) Seed(records []storage.OrderRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range records {
		rec := records[i]
		m.orders[rec.LinkID] = &rec
	}
}
