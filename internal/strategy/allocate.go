package strategy

import "paragon-bot-go/internal/models"

// Allocator converts account equity into the day's budget and per-trade share counts.
type Allocator struct {
	CapitalFraction float64
	TradeFraction   float64
}

// TradingCapital returns today's risk budget.
func (a Allocator) TradingCapital(totalAccountValue models.Cents) models.Cents {
	if totalAccountValue <= 0 {
		return 0
	}
	return totalAccountValue.MulFraction(a.CapitalFraction)
}

// ShareCount returns how many shares to buy at quote. It returns 0 once the
// per-trade funds would reach the remaining budget.
func (a Allocator) ShareCount(totalAccountValue, tradingCapitalRemaining, quote models.Cents) int {
	if quote <= 0 || totalAccountValue <= 0 || tradingCapitalRemaining <= 0 {
		return 0
	}
	funds := totalAccountValue.MulFraction(a.TradeFraction)
	if funds >= tradingCapitalRemaining {
		return 0
	}
	return int(funds / quote)
}
