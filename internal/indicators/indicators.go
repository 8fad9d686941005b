// Package indicators wraps TA-Lib style MACD, Bollinger Bands and RSI so the
// trading loop only ever sees a rounded snapshot or nothing at all.
package indicators

import (
	"math"

	"paragon-bot-go/internal/models"

	"github.com/markcheno/go-talib"
)

// Params are the indicator periods used to build a snapshot.
type Params struct {
	MinimumQuotes   int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	BBandPeriod     int
	BBandDeviations float64
	RSIPeriod       int
}

// ParamsFrom extracts indicator parameters from the strategy config.
func ParamsFrom(cfg models.StrategyConfig) Params {
	return Params{
		MinimumQuotes:   cfg.MinimumQuotes,
		MACDFast:        cfg.MACDFast,
		MACDSlow:        cfg.MACDSlow,
		MACDSignal:      cfg.MACDSignal,
		BBandPeriod:     cfg.BBandPeriod,
		BBandDeviations: cfg.BBandDeviations,
		RSIPeriod:       cfg.RSIPeriod,
	}
}

// Compute returns the indicator snapshot for the last point of the series.
// It reports false while the series holds no more than MinimumQuotes points
// or when any indicator is undefined.
func Compute(series []models.Cents, p Params) (models.IndicatorSnapshot, bool) {
	if len(series) <= p.MinimumQuotes {
		return models.IndicatorSnapshot{}, false
	}

	prices := make([]float64, len(series))
	for i, c := range series {
		prices[i] = c.Dollars()
	}

	macd, signal, _ := talib.Macd(prices, p.MACDFast, p.MACDSlow, p.MACDSignal)
	upper, middle, lower := talib.BBands(prices, p.BBandPeriod, p.BBandDeviations, p.BBandDeviations, talib.SMA)
	rsi := talib.Rsi(prices, p.RSIPeriod)

	snap := models.IndicatorSnapshot{
		MACD:      round4(last(macd)),
		Signal:    round4(last(signal)),
		BBandHigh: round4(last(upper)),
		BBandMid:  round4(last(middle)),
		BBandLow:  round4(last(lower)),
		RSI:       round4(last(rsi)),
	}
	for _, v := range []float64{snap.MACD, snap.Signal, snap.BBandHigh, snap.BBandMid, snap.BBandLow, snap.RSI} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.IndicatorSnapshot{}, false
		}
	}
	return snap, true
}

// AverageDailyRange is half the day's high-low spread, rounded up to the cent.
func AverageDailyRange(low, high models.Cents) models.Cents {
	return models.Cents(math.Ceil(float64(high-low) / 2))
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
