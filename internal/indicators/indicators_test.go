package indicators_test

import (
	"testing"

	"github.com/atlas-desktop/derivatives-agent/internal/indicators"
	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
)

func closesCandles(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = types.Candle{OpenTime: int64(i), Open: d, High: d, Low: d, Close: d}
	}
	return out
}

func TestSMAAveragesLastPeriodCloses(t *testing.T) {
	candles := closesCandles(10, 20, 30, 40, 50)
	avg, ok := indicators.SMA(candles, 3)
	if !ok {
		t.Fatal("expected enough data for a period-3 SMA")
	}
	// average of the last 3 closes: (30+40+50)/3 = 40
	if avg != 40 {
		t.Errorf("SMA = %v, want 40", avg)
	}
}

func TestSMAFalseWithInsufficientData(t *testing.T) {
	candles := closesCandles(10, 20)
	if _, ok := indicators.SMA(candles, 5); ok {
		t.Fatal("expected SMA to report insufficient data")
	}
}

func TestSMAFalseOnZeroOrNegativePeriod(t *testing.T) {
	candles := closesCandles(10, 20, 30)
	if _, ok := indicators.SMA(candles, 0); ok {
		t.Fatal("expected a zero period to be rejected")
	}
}

func TestEMASeedsFromSMAAndConverges(t *testing.T) {
	closes := make([]float64, 0, 30)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	candles := closesCandles(closes...)
	ema, ok := indicators.EMA(candles, 10)
	if !ok {
		t.Fatal("expected enough data for a period-10 EMA")
	}
	// a flat price series converges the EMA to the same constant price
	if ema != 100 {
		t.Errorf("EMA of a flat series = %v, want 100", ema)
	}
}

func TestEMAFalseWithInsufficientData(t *testing.T) {
	candles := closesCandles(10, 20, 30)
	if _, ok := indicators.EMA(candles, 10); ok {
		t.Fatal("expected EMA to report insufficient data")
	}
}

func trendingCandles(n int, start, step float64) []types.Candle {
	out := make([]types.Candle, n)
	price := start
	for i := 0; i < n; i++ {
		high := decimal.NewFromFloat(price + 1)
		low := decimal.NewFromFloat(price - 1)
		close := decimal.NewFromFloat(price)
		out[i] = types.Candle{OpenTime: int64(i), High: high, Low: low, Close: close}
		price += step
	}
	return out
}

func TestSupertrendReportsInsufficientDataBelowPeriod(t *testing.T) {
	candles := trendingCandles(5, 100, 1)
	if _, ok := indicators.Supertrend(candles, 10, 3); ok {
		t.Fatal("expected Supertrend to report insufficient data")
	}
}

func TestSupertrendDirectionsOnASteadyUptrend(t *testing.T) {
	candles := trendingCandles(50, 100, 2)
	res, ok := indicators.Supertrend(candles, 10, 3)
	if !ok {
		t.Fatal("expected enough data for Supertrend")
	}
	if res.Direction != types.BiasLong {
		t.Errorf("direction on a steady uptrend = %v, want BiasLong", res.Direction)
	}
	if res.Value <= 0 {
		t.Errorf("expected a positive trailing value, got %v", res.Value)
	}
}

func TestStructureReportsNeutralWithInsufficientData(t *testing.T) {
	candles := trendingCandles(3, 100, 1)
	res, ok := indicators.Structure(candles, 0, 2)
	if ok || res.Bias != types.StructureNeutral {
		t.Fatalf("expected a neutral, not-ok result with too few candles, got %+v ok=%v", res, ok)
	}
}

func TestStructureFindsProtectedSwingLowInAnUptrend(t *testing.T) {
	// A simple zigzag: down-up-down-up pattern gives the fractal scan
	// clear swing points to lock onto.
	prices := []float64{100, 90, 95, 85, 100, 88, 110}
	candles := make([]types.Candle, len(prices))
	for i, p := range prices {
		d := decimal.NewFromFloat(p)
		candles[i] = types.Candle{OpenTime: int64(i), High: d.Add(decimal.NewFromInt(1)), Low: d.Sub(decimal.NewFromInt(1)), Close: d}
	}

	res, ok := indicators.Structure(candles, 0, 1)
	if !ok {
		t.Fatal("expected enough candles for a lookback-1 structure scan")
	}
	if !res.HasProtectedLow && !res.HasProtectedHigh {
		t.Error("expected at least one protected swing level to be found")
	}
}
