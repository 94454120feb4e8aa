// Package candles holds, per (symbol, timeframe), a bounded sequence of
// confirmed candles plus at most one live candle, and merges incoming feed
// updates into either.
package candles

import (
	"sync"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
)

// DefaultCapacity is the default confirmed-candle retention, above the
// 1500-candle minimum of spec §4.1 and enough for indicator warmup
// (longest period used is EMA1000).
const DefaultCapacity = 2000

type key struct {
	symbol    string
	timeframe types.Timeframe
}

// Ring is a fixed-capacity, oldest-drops-first buffer of confirmed candles
// plus an optional live (unconfirmed) candle.
type Ring struct {
	mu        sync.RWMutex
	capacity  int
	confirmed []types.Candle
	live      *types.Candle
}

func newRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity, confirmed: make([]types.Candle, 0, capacity)}
}

// Ingest merges an incoming candle. If its open time matches the current
// live candle's open time, the live candle is updated in place. Otherwise
// the current live candle (if any) is confirmed and appended, and the new
// candle becomes live.
func (r *Ring) Ingest(c types.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live != nil && r.live.OpenTime == c.OpenTime {
		updated := c
		updated.Confirmed = false
		r.live = &updated
		return
	}

	if r.live != nil {
		confirmed := *r.live
		confirmed.Confirmed = true
		r.confirmed = append(r.confirmed, confirmed)
		if len(r.confirmed) > r.capacity {
			r.confirmed = r.confirmed[len(r.confirmed)-r.capacity:]
		}
	}

	live := c
	live.Confirmed = false
	r.live = &live
}

// Confirmed returns a copy of the confirmed-candle sequence, oldest first.
func (r *Ring) Confirmed() []types.Candle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Candle, len(r.confirmed))
	copy(out, r.confirmed)
	return out
}

// Live returns the current live candle, if any.
func (r *Ring) Live() (types.Candle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.live == nil {
		return types.Candle{}, false
	}
	return *r.live, true
}

// Len returns the number of confirmed candles currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.confirmed)
}

// Store is a registry of Rings keyed by (symbol, timeframe).
type Store struct {
	mu       sync.RWMutex
	rings    map[key]*Ring
	capacity int
}

// NewStore constructs an empty candle store with the given per-ring capacity.
// A capacity of 0 uses DefaultCapacity.
func NewStore(capacity int) *Store {
	return &Store{rings: make(map[key]*Ring), capacity: capacity}
}

func (s *Store) ringFor(symbol string, tf types.Timeframe) *Ring {
	k := key{symbol, tf}

	s.mu.RLock()
	r, ok := s.rings[k]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rings[k]; ok {
		return r
	}
	r = newRing(s.capacity)
	s.rings[k] = r
	return r
}

// Ingest routes a candle to the ring for its symbol/timeframe.
func (s *Store) Ingest(c types.Candle) {
	s.ringFor(c.Symbol, c.Timeframe).Ingest(c)
}

// Confirmed returns the confirmed-candle sequence for a symbol/timeframe.
func (s *Store) Confirmed(symbol string, tf types.Timeframe) []types.Candle {
	return s.ringFor(symbol, tf).Confirmed()
}

// Live returns the live candle for a symbol/timeframe, if present.
func (s *Store) Live(symbol string, tf types.Timeframe) (types.Candle, bool) {
	return s.ringFor(symbol, tf).Live()
}
