package candles_test

import (
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/candles"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
)

func TestIngestUpdatesLiveCandleInPlace(t *testing.T) {
	s := candles.NewStore(10)
	s.Ingest(types.Candle{Symbol: "BTCUSDT", Timeframe: types.Timeframe15m, OpenTime: 100})
	s.Ingest(types.Candle{Symbol: "BTCUSDT", Timeframe: types.Timeframe15m, OpenTime: 100, CloseTime: 200})

	live, ok := s.Live("BTCUSDT", types.Timeframe15m)
	if !ok {
		t.Fatal("expected a live candle to be present")
	}
	if live.CloseTime != 200 {
		t.Errorf("expected the live candle to be updated in place, got CloseTime=%d", live.CloseTime)
	}
	if s.Confirmed("BTCUSDT", types.Timeframe15m) != nil && len(s.Confirmed("BTCUSDT", types.Timeframe15m)) != 0 {
		t.Error("expected no confirmed candles yet")
	}
}

func TestIngestConfirmsPreviousLiveOnNewOpenTime(t *testing.T) {
	s := candles.NewStore(10)
	s.Ingest(types.Candle{Symbol: "BTCUSDT", Timeframe: types.Timeframe15m, OpenTime: 100})
	s.Ingest(types.Candle{Symbol: "BTCUSDT", Timeframe: types.Timeframe15m, OpenTime: 200})

	confirmed := s.Confirmed("BTCUSDT", types.Timeframe15m)
	if len(confirmed) != 1 || confirmed[0].OpenTime != 100 {
		t.Fatalf("expected the first candle to be confirmed, got %+v", confirmed)
	}
	if !confirmed[0].Confirmed {
		t.Error("expected the confirmed flag to be set")
	}

	live, ok := s.Live("BTCUSDT", types.Timeframe15m)
	if !ok || live.OpenTime != 200 {
		t.Fatalf("expected the new candle to become live, got %+v ok=%v", live, ok)
	}
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	s := candles.NewStore(2)
	for i := int64(0); i < 4; i++ {
		s.Ingest(types.Candle{Symbol: "BTCUSDT", Timeframe: types.Timeframe15m, OpenTime: i * 100})
	}

	confirmed := s.Confirmed("BTCUSDT", types.Timeframe15m)
	if len(confirmed) != 2 {
		t.Fatalf("expected capacity to cap confirmed candles at 2, got %d", len(confirmed))
	}
	if confirmed[0].OpenTime != 100 || confirmed[1].OpenTime != 200 {
		t.Errorf("expected the oldest candles to be evicted, got %+v", confirmed)
	}
}

func TestLiveReturnsFalseBeforeAnyIngest(t *testing.T) {
	s := candles.NewStore(10)
	if _, ok := s.Live("BTCUSDT", types.Timeframe15m); ok {
		t.Fatal("expected no live candle before any ingest")
	}
}

func TestDistinctSymbolsAreIsolated(t *testing.T) {
	s := candles.NewStore(10)
	s.Ingest(types.Candle{Symbol: "BTCUSDT", Timeframe: types.Timeframe15m, OpenTime: 100})
	s.Ingest(types.Candle{Symbol: "ETHUSDT", Timeframe: types.Timeframe15m, OpenTime: 100})

	if _, ok := s.Live("BTCUSDT", types.Timeframe15m); !ok {
		t.Fatal("expected BTCUSDT to have a live candle")
	}
	if _, ok := s.Live("ETHUSDT", types.Timeframe15m); !ok {
		t.Fatal("expected ETHUSDT to have its own independent live candle")
	}
}
