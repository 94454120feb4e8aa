// Package indicators provides pure, stateless technical-indicator functions
// over a confirmed candle sequence. Every function is recomputed in full on
// each call; incremental optimizations are the caller's concern and must
// still produce bit-identical direction flags to a full recompute.
package indicators

import (
	"math"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
)

// NotEnoughData is a sentinel value that no function in this package
// returns: indicator underflow is reported as (zero value, false) rather
// than as an error, so it looks exactly like the "neutral, no permissions"
// case.
const NotEnoughData = math.MaxFloat64 * -1 // sentinel, never compared for equality

// SMA returns the arithmetic mean of the last `period` closes. Returns
// (0, false) if the sequence is shorter than period.
func SMA(candles []types.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	sum := 0.0
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		c, _ := candles[i].Close.Float64()
		sum += c
	}
	return sum / float64(period), true
}

// EMA computes an SMA-seeded exponential moving average over the full
// sequence. SMA-seeding is required because last-value seeding makes long
// periods (e.g. 1000) unstable during warmup.
func EMA(candles []types.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	seed, ok := SMA(candles[:period], period)
	if !ok {
		return 0, false
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := seed
	for i := period; i < len(candles); i++ {
		c, _ := candles[i].Close.Float64()
		ema = c*k + ema*(1-k)
	}
	return ema, true
}

// SupertrendResult is the per-candle Supertrend output.
type SupertrendResult struct {
	Direction types.Bias
	Value     float64
}

// Supertrend computes an ATR-based trailing band over the sequence and
// returns the direction/value as of the last candle. Requires at least
// period+1 candles.
func Supertrend(candles []types.Candle, period int, multiplier float64) (SupertrendResult, bool) {
	n := len(candles)
	if period <= 0 || n < period+1 {
		return SupertrendResult{}, false
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		h, _ := c.High.Float64()
		l, _ := c.Low.Float64()
		cl, _ := c.Close.Float64()
		highs[i], lows[i], closes[i] = h, l, cl
	}

	// Wilder-smoothed ATR.
	atr := make([]float64, n)
	trSum := 0.0
	for i := 0; i < n; i++ {
		var tr float64
		if i == 0 {
			tr = highs[i] - lows[i]
		} else {
			tr = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		}
		if i < period {
			trSum += tr
			atr[i] = trSum / float64(i+1)
			continue
		}
		if i == period {
			atr[i] = trSum / float64(period)
		}
		atr[i] = (atr[i-1]*float64(period-1) + tr) / float64(period)
	}

	upperBand := make([]float64, n)
	lowerBand := make([]float64, n)
	direction := make([]types.Bias, n)
	value := make([]float64, n)

	for i := 0; i < n; i++ {
		mid := (highs[i] + lows[i]) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if i == 0 {
			upperBand[i] = basicUpper
			lowerBand[i] = basicLower
			direction[i] = types.BiasLong
			value[i] = lowerBand[i]
			continue
		}

		if basicUpper < upperBand[i-1] || closes[i-1] > upperBand[i-1] {
			upperBand[i] = basicUpper
		} else {
			upperBand[i] = upperBand[i-1]
		}
		if basicLower > lowerBand[i-1] || closes[i-1] < lowerBand[i-1] {
			lowerBand[i] = basicLower
		} else {
			lowerBand[i] = lowerBand[i-1]
		}

		switch direction[i-1] {
		case types.BiasLong:
			if closes[i] < lowerBand[i] {
				direction[i] = types.BiasShort
				value[i] = upperBand[i]
			} else {
				direction[i] = types.BiasLong
				value[i] = lowerBand[i]
			}
		default:
			if closes[i] > upperBand[i] {
				direction[i] = types.BiasLong
				value[i] = lowerBand[i]
			} else {
				direction[i] = types.BiasShort
				value[i] = upperBand[i]
			}
		}
	}

	return SupertrendResult{Direction: direction[n-1], Value: value[n-1]}, true
}

// StructureResult is the swing/BOS/CHoCH read as of the last candle.
type StructureResult struct {
	Bias               types.StructureBias
	LastBOS            *types.SwingEvent
	LastCHoCH          *types.SwingEvent
	ProtectedSwingHigh float64
	ProtectedSwingLow  float64
	HasProtectedHigh   bool
	HasProtectedLow    bool
}

type swingPoint struct {
	idx      int
	level    float64
	openTime int64
	isHigh   bool
}

// Structure scans the last `lookback` fractal window over `n` candles for
// swing points and derives BOS/CHoCH events plus the protected swing used as
// the SWING stop-loss reference.
func Structure(candles []types.Candle, n, lookback int) (StructureResult, bool) {
	if lookback < 1 {
		lookback = 2
	}
	window := candles
	if n > 0 && n < len(candles) {
		window = candles[len(candles)-n:]
	}
	if len(window) < 2*lookback+1 {
		return StructureResult{Bias: types.StructureNeutral}, false
	}

	var swings []swingPoint
	for i := lookback; i < len(window)-lookback; i++ {
		h, _ := window[i].High.Float64()
		l, _ := window[i].Low.Float64()

		isSwingHigh := true
		isSwingLow := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			jh, _ := window[j].High.Float64()
			jl, _ := window[j].Low.Float64()
			if jh >= h {
				isSwingHigh = false
			}
			if jl <= l {
				isSwingLow = false
			}
		}
		if isSwingHigh {
			swings = append(swings, swingPoint{idx: i, level: h, openTime: window[i].OpenTime, isHigh: true})
		}
		if isSwingLow {
			swings = append(swings, swingPoint{idx: i, level: l, openTime: window[i].OpenTime, isHigh: false})
		}
	}

	res := StructureResult{Bias: types.StructureNeutral}

	var lastSwingHigh, lastSwingLow *swingPoint
	for i := range swings {
		s := swings[i]
		if s.isHigh {
			lastSwingHigh = &swings[i]
		} else {
			lastSwingLow = &swings[i]
		}
	}

	lastClose, _ := window[len(window)-1].Close.Float64()

	if lastSwingHigh != nil {
		res.ProtectedSwingHigh = lastSwingHigh.level
		res.HasProtectedHigh = true
	}
	if lastSwingLow != nil {
		res.ProtectedSwingLow = lastSwingLow.level
		res.HasProtectedLow = true
	}

	trendUp := lastSwingLow != nil && (lastSwingHigh == nil || lastSwingLow.idx > lastSwingHigh.idx)

	if trendUp && lastSwingHigh != nil && lastClose > lastSwingHigh.level {
		res.Bias = types.StructureBullish
		res.LastBOS = &types.SwingEvent{Direction: types.StructureBullish, Level: lastSwingHigh.level, CandleIndex: lastSwingHigh.idx, OpenTime: lastSwingHigh.openTime}
	} else if !trendUp && lastSwingLow != nil && lastClose < lastSwingLow.level {
		res.Bias = types.StructureBearish
		res.LastBOS = &types.SwingEvent{Direction: types.StructureBearish, Level: lastSwingLow.level, CandleIndex: lastSwingLow.idx, OpenTime: lastSwingLow.openTime}
	} else if trendUp && lastSwingLow != nil && lastClose < lastSwingLow.level {
		res.Bias = types.StructureBearish
		res.LastCHoCH = &types.SwingEvent{Direction: types.StructureBearish, Level: lastSwingLow.level, CandleIndex: lastSwingLow.idx, OpenTime: lastSwingLow.openTime}
	} else if !trendUp && lastSwingHigh != nil && lastClose > lastSwingHigh.level {
		res.Bias = types.StructureBullish
		res.LastCHoCH = &types.SwingEvent{Direction: types.StructureBullish, Level: lastSwingHigh.level, CandleIndex: lastSwingHigh.idx, OpenTime: lastSwingHigh.openTime}
	} else if trendUp {
		res.Bias = types.StructureBullish
	} else if !trendUp && lastSwingHigh != nil {
		res.Bias = types.StructureBearish
	}

	return res, true
}
