package events_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/derivatives-agent/internal/events"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) *events.Bus {
	t.Helper()
	b := events.NewBus(zap.NewNop(), events.Config{NumWorkers: 2, BufferSize: 16})
	t.Cleanup(b.Stop)
	return b
}

func TestSubscribeReceivesMatchingEventType(t *testing.T) {
	b := newTestBus(t)
	received := make(chan types.Event, 1)
	b.Subscribe(types.EventPositionOpened, func(ev types.Event) error {
		received <- ev
		return nil
	}, events.SubscriptionOptions{Async: false})

	b.Publish(types.Event{Type: types.EventPositionOpened, Symbol: "BTCUSDT"})

	select {
	case ev := <-received:
		if ev.Symbol != "BTCUSDT" {
			t.Errorf("symbol = %q, want BTCUSDT", ev.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the subscribed event")
	}
}

func TestSubscribeIgnoresOtherEventTypes(t *testing.T) {
	b := newTestBus(t)
	received := make(chan types.Event, 1)
	b.Subscribe(types.EventPositionOpened, func(ev types.Event) error {
		received <- ev
		return nil
	}, events.SubscriptionOptions{Async: false})

	b.PublishSync(types.Event{Type: types.EventPositionClosed})

	select {
	case ev := <-received:
		t.Fatalf("did not expect a mismatched event type, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeAllReceivesEveryEventType(t *testing.T) {
	b := newTestBus(t)
	var received []types.Event
	done := make(chan struct{}, 2)
	b.SubscribeAll(func(ev types.Event) error {
		received = append(received, ev)
		done <- struct{}{}
		return nil
	}, events.SubscriptionOptions{Async: false})

	b.PublishSync(types.Event{Type: types.EventPositionOpened})
	b.PublishSync(types.Event{Type: types.EventWatchCreated})

	if len(received) != 2 {
		t.Fatalf("expected 2 events received synchronously, got %d", len(received))
	}
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := newTestBus(t)
	received := make(chan types.Event, 2)
	sub := b.Subscribe(types.EventPositionOpened, func(ev types.Event) error {
		received <- ev
		return nil
	}, events.SubscriptionOptions{Async: false})

	b.Unsubscribe(sub)
	if sub.IsActive() {
		t.Fatal("expected the subscription to be inactive after Unsubscribe")
	}
	b.PublishSync(types.Event{Type: types.EventPositionOpened})

	select {
	case ev := <-received:
		t.Fatalf("did not expect delivery after unsubscribe, got %+v", ev)
	default:
	}
}

func TestHandlerPanicDoesNotCrashTheBus(t *testing.T) {
	b := newTestBus(t)
	b.SubscribeAll(func(ev types.Event) error {
		panic("boom")
	}, events.SubscriptionOptions{Async: false})

	// Should not panic the test goroutine; a recovering bus just logs it.
	b.PublishSync(types.Event{Type: types.EventPositionOpened})
}

func TestHandlerErrorIsCountedNotFatal(t *testing.T) {
	b := newTestBus(t)
	b.SubscribeAll(func(ev types.Event) error {
		return errors.New("handler failed")
	}, events.SubscriptionOptions{Async: false})

	b.PublishSync(types.Event{Type: types.EventPositionOpened})
	stats := b.Stats()
	if stats.ProcessingErrors == 0 {
		t.Error("expected the handler error to be counted")
	}
}

type fakePersister struct {
	saved []types.Event
}

func (f *fakePersister) SaveEvent(ev types.Event) error {
	f.saved = append(f.saved, ev)
	return nil
}

func TestLoggerPersistsEveryPublishedEvent(t *testing.T) {
	b := newTestBus(t)
	store := &fakePersister{}
	events.NewLogger(b, store, zap.NewNop())

	events.Record(b, types.EventOrderPlaced, "BTCUSDT", "trade-1", "order placed", nil)

	deadline := time.Now().Add(time.Second)
	for len(store.saved) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(store.saved))
	}
	if store.saved[0].Symbol != "BTCUSDT" || store.saved[0].TradeID != "trade-1" {
		t.Errorf("unexpected persisted event: %+v", store.saved[0])
	}
	if store.saved[0].ID == "" {
		t.Error("expected Record to assign a non-empty event ID")
	}
}
