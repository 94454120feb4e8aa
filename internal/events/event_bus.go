// Package events provides the append-only audit event bus: a worker-pool
// pub/sub router (kept from the teacher's design for its throughput
// properties) fanning a single generic types.Event record out to subscribers,
// one of which is the persistence-backed Logger in logger.go.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"go.uber.org/zap"
)

// Handler processes an audit event. Handlers must not block indefinitely;
// the bus recovers from and logs handler panics so one bad subscriber never
// takes down the process.
type Handler func(types.Event) error

// Filter selectively accepts events for a subscription.
type Filter func(types.Event) bool

// SubscriptionOptions configures a subscription.
type SubscriptionOptions struct {
	Filter Filter
	Async  bool
}

// Subscription is an active registration; Unsubscribe via Bus.Unsubscribe.
type Subscription struct {
	id        string
	eventType types.EventType
	all       bool
	handler   Handler
	options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive reports whether the subscription still receives events.
func (s *Subscription) IsActive() bool { return s.active.Load() }

// Config configures the bus's worker pool.
type Config struct {
	NumWorkers int
	BufferSize int
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{NumWorkers: 16, BufferSize: 100000}
}

// Stats reports bus throughput counters.
type Stats struct {
	EventsPublished   int64
	EventsProcessed   int64
	EventsDropped     int64
	ProcessingErrors  int64
	ActiveSubscribers int64
	AvgLatencyNs      int64
	MaxLatencyNs      int64
	P99LatencyNs      int64
}

// Bus is the central, in-process event router.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[types.EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan types.Event
	workerCount int

	eventsPublished  atomic.Int64
	eventsProcessed  atomic.Int64
	eventsDropped    atomic.Int64
	processingErrors atomic.Int64
	active           atomic.Int64

	latencyMu  sync.Mutex
	latencies  []int64
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger

	idCounter atomic.Int64
}

// NewBus constructs and starts a worker-pooled event bus.
func NewBus(logger *zap.Logger, cfg Config) *Bus {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 16
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100000
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[types.EventType][]*Subscription),
		eventChan:   make(chan types.Event, cfg.BufferSize),
		workerCount: cfg.NumWorkers,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("eventbus"),
		latencies:   make([]int64, 0, 10000),
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	b.logger.Info("event bus started", zap.Int("workers", cfg.NumWorkers), zap.Int("bufferSize", cfg.BufferSize))
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.eventChan:
			start := time.Now()
			b.dispatch(ev)
			b.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (b *Bus) dispatch(ev types.Event) {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subscribers[ev.Type]...)
	all := append([]*Subscription(nil), b.allSubscribers...)
	b.mu.RUnlock()

	run := func(s *Subscription) {
		if !s.active.Load() {
			return
		}
		if s.options.Filter != nil && !s.options.Filter(ev) {
			return
		}
		if s.options.Async {
			go b.execute(s, ev)
		} else {
			b.execute(s, ev)
		}
	}

	for _, s := range subs {
		run(s)
	}
	for _, s := range all {
		run(s)
	}
	b.eventsProcessed.Add(1)
}

func (b *Bus) execute(s *Subscription, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.processingErrors.Add(1)
			b.logger.Error("handler panic", zap.String("subscriptionId", s.id), zap.String("eventType", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	if err := s.handler(ev); err != nil {
		b.processingErrors.Add(1)
		b.logger.Warn("handler error", zap.String("subscriptionId", s.id), zap.String("eventType", string(ev.Type)), zap.Error(err))
	}
}

func (b *Bus) trackLatency(ns int64) {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	b.latencies = append(b.latencies, ns)
	if len(b.latencies) > 10000 {
		b.latencies = b.latencies[5000:]
	}
	if ns > b.maxLatency.Load() {
		b.maxLatency.Store(ns)
	}
	b.avgLatency.Store((b.avgLatency.Load()*99 + ns) / 100)
}

func (b *Bus) nextSubID() string {
	n := b.idCounter.Add(1)
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(n)
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Subscribe registers a handler for a single event type.
func (b *Bus) Subscribe(t types.EventType, h Handler, opts ...SubscriptionOptions) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		o = opts[0]
	}
	s := &Subscription{id: b.nextSubID(), eventType: t, handler: h, options: o}
	s.active.Store(true)
	b.subscribers[t] = append(b.subscribers[t], s)
	b.active.Add(1)
	return s
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler, opts ...SubscriptionOptions) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		o = opts[0]
	}
	s := &Subscription{id: b.nextSubID(), all: true, handler: h, options: o}
	s.active.Store(true)
	b.allSubscribers = append(b.allSubscribers, s)
	b.active.Add(1)
	return s
}

// Unsubscribe deactivates a subscription.
func (b *Bus) Unsubscribe(s *Subscription) {
	s.active.Store(false)
	b.active.Add(-1)
}

// Publish sends an event to subscribers without blocking; if the buffer is
// full the event is dropped and counted, never silently retried.
func (b *Bus) Publish(ev types.Event) {
	select {
	case b.eventChan <- ev:
		b.eventsPublished.Add(1)
	default:
		b.eventsDropped.Add(1)
		b.logger.Warn("event dropped, buffer full", zap.String("eventType", string(ev.Type)))
	}
}

// PublishSync sends an event and processes it before returning.
func (b *Bus) PublishSync(ev types.Event) {
	b.eventsPublished.Add(1)
	b.dispatch(ev)
}

// Stats returns current throughput counters.
func (b *Bus) Stats() Stats {
	return Stats{
		EventsPublished:   b.eventsPublished.Load(),
		EventsProcessed:   b.eventsProcessed.Load(),
		EventsDropped:     b.eventsDropped.Load(),
		ProcessingErrors:  b.processingErrors.Load(),
		ActiveSubscribers: b.active.Load(),
		AvgLatencyNs:      b.avgLatency.Load(),
		MaxLatencyNs:      b.maxLatency.Load(),
		P99LatencyNs:      b.p99LatencyNs(),
	}
}

func (b *Bus) p99LatencyNs() int64 {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	if len(b.latencies) == 0 {
		return 0
	}
	sorted := append([]int64(nil), b.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop shuts the bus down, waiting up to 5s for in-flight work to drain.
func (b *Bus) Stop() {
	b.logger.Info("stopping event bus")
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("event bus stopped", zap.Int64("processed", b.eventsProcessed.Load()), zap.Int64("dropped", b.eventsDropped.Load()))
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus stop timed out")
	}
}
