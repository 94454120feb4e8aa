package events

import (
	"time"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Persister is the minimal contract the Logger needs from the persistence
// layer; satisfied by internal/storage.Store. Defined here rather than
// imported to keep internal/events free of a storage dependency.
type Persister interface {
	SaveEvent(types.Event) error
}

// NewEventID returns a unique event id.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}

// Logger is the append-only audit sink: it owns nothing but a subscription
// to the bus and a persister. Every published event is written exactly
// once and never mutated afterward.
type Logger struct {
	bus    *Bus
	store  Persister
	logger *zap.Logger
}

// NewLogger subscribes a Logger to every event on the given bus.
func NewLogger(bus *Bus, store Persister, logger *zap.Logger) *Logger {
	l := &Logger{bus: bus, store: store, logger: logger.Named("eventlog")}
	bus.SubscribeAll(l.onEvent, SubscriptionOptions{Async: false})
	return l
}

func (l *Logger) onEvent(ev types.Event) error {
	if err := l.store.SaveEvent(ev); err != nil {
		l.logger.Error("failed to persist event", zap.String("eventId", ev.ID), zap.Error(err))
		return err
	}
	return nil
}

// Record constructs and publishes an audit event. Symbol/tradeID may be
// empty for process-wide events.
func Record(bus *Bus, eventType types.EventType, symbol, tradeID, message string, payload map[string]any) {
	bus.Publish(types.Event{
		ID:        NewEventID(),
		Symbol:    symbol,
		TradeID:   tradeID,
		Type:      eventType,
		Payload:   payload,
		Message:   message,
		Timestamp: time.Now(),
	})
}
