package strategy

import (
	"paragon-bot-go/internal/indicators"
	"paragon-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// DetermineSell applies the trailing stop. When quote is at or below the
// position's lower bound it returns sell=true; otherwise it returns the new
// lower bound, which never decreases.
func DetermineSell(quote models.Cents, pos models.Position) (sell bool, lowerBound models.Cents) {
	if quote <= pos.LowerBound {
		return true, pos.LowerBound
	}
	candidate := quote - pos.DivorceBuffer
	if candidate > pos.LowerBound {
		return false, candidate
	}
	return false, pos.LowerBound
}

// Divorce sizes the trailing-stop buffer from the day's range.
type Divorce struct {
	ADRMultiplier float64
	FixedOffset   float64
}

// Buffer returns ADRMultiplier * ADR + FixedOffset rounded to the cent.
func (d Divorce) Buffer(dailyLow, dailyHigh models.Cents) models.Cents {
	adr := indicators.AverageDailyRange(dailyLow, dailyHigh).Decimal()
	buffer := decimal.NewFromFloat(d.ADRMultiplier).Mul(adr).Add(decimal.NewFromFloat(d.FixedOffset))
	return models.FromDecimal(buffer)
}
