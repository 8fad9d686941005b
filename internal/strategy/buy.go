package strategy

import "paragon-bot-go/internal/models"

// DetermineBuy reports whether the indicators give a strong buy signal at quote.
// A nil snapshot never buys.
func DetermineBuy(quote models.Cents, ind *models.IndicatorSnapshot, rsiCutoff float64) bool {
	if ind == nil {
		return false
	}
	return ind.MACD > 0 &&
		ind.MACD > ind.Signal &&
		ind.BBandHigh > quote.Dollars() &&
		ind.RSI >= rsiCutoff
}
