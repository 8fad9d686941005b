package strategy

import (
	"testing"

	"paragon-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestDetermineSellRaisesBound(t *testing.T) {
	pos := models.Position{Symbol: "ABC", LowerBound: 950, DivorceBuffer: 30}
	sell, bound := DetermineSell(1000, pos)
	assert.False(t, sell)
	assert.Equal(t, models.Cents(970), bound)
}

func TestDetermineSellTriggers(t *testing.T) {
	pos := models.Position{Symbol: "ABC", LowerBound: 950, DivorceBuffer: 30}
	sell, bound := DetermineSell(940, pos)
	assert.True(t, sell)
	assert.Equal(t, models.Cents(950), bound)

	sell, _ = DetermineSell(950, pos)
	assert.True(t, sell, "a quote equal to the bound sells")
}

func TestDetermineSellNeverLowersBound(t *testing.T) {
	pos := models.Position{Symbol: "ABC", LowerBound: 950, DivorceBuffer: 30}
	for q := models.Cents(951); q < 1200; q += 7 {
		sell, bound := DetermineSell(q, pos)
		assert.False(t, sell)
		assert.GreaterOrEqual(t, int64(bound), int64(pos.LowerBound))
		assert.Less(t, int64(bound), int64(q))
		pos.LowerBound = bound
	}
}

func TestDivorceBufferRounding(t *testing.T) {
	d := Divorce{ADRMultiplier: 0.0485, FixedOffset: 0.01}
	assert.Equal(t, models.Cents(1), d.Buffer(308, 325))

	// ADR of 100 cents: 0.0485 + 0.01 = 0.0585 -> 0.06
	assert.Equal(t, models.Cents(6), d.Buffer(1000, 1200))

	// Zero range leaves just the offset.
	assert.Equal(t, models.Cents(1), d.Buffer(500, 500))
}

func TestDetermineBuy(t *testing.T) {
	strong := &models.IndicatorSnapshot{MACD: 0.05, Signal: 0.02, BBandHigh: 10.50, BBandMid: 10.0, BBandLow: 9.5, RSI: 72}

	testCases := []struct {
		name  string
		quote models.Cents
		ind   *models.IndicatorSnapshot
		want  bool
	}{
		{"strong signal", 1000, strong, true},
		{"nil snapshot", 1000, nil, false},
		{"macd not positive", 1000, &models.IndicatorSnapshot{MACD: 0, Signal: -0.1, BBandHigh: 10.5, RSI: 80}, false},
		{"macd below signal", 1000, &models.IndicatorSnapshot{MACD: 0.01, Signal: 0.02, BBandHigh: 10.5, RSI: 80}, false},
		{"quote above upper band", 1051, strong, false},
		{"quote on upper band", 1050, strong, false},
		{"rsi below cutoff", 1000, &models.IndicatorSnapshot{MACD: 0.05, Signal: 0.02, BBandHigh: 10.5, RSI: 69.99}, false},
		{"rsi at cutoff", 1000, &models.IndicatorSnapshot{MACD: 0.05, Signal: 0.02, BBandHigh: 10.5, RSI: 70}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetermineBuy(tc.quote, tc.ind, 70))
		})
	}
}

func TestTradingCapital(t *testing.T) {
	a := Allocator{CapitalFraction: 0.5, TradeFraction: 0.05}
	assert.Equal(t, models.Cents(500000), a.TradingCapital(1000000))
	assert.Equal(t, models.Cents(0), a.TradingCapital(0))
	assert.Equal(t, models.Cents(0), a.TradingCapital(-10))
}

func TestShareCount(t *testing.T) {
	a := Allocator{CapitalFraction: 0.5, TradeFraction: 0.05}

	// funds = 50000 cents, quote 12.34 -> 40 shares
	assert.Equal(t, 40, a.ShareCount(1000000, 500000, 1234))

	// funds equal to remaining budget -> no buy
	assert.Equal(t, 0, a.ShareCount(1000000, 50000, 1234))
	assert.Equal(t, 0, a.ShareCount(1000000, 49999, 1234))
	assert.Equal(t, 0, a.ShareCount(1000000, 500000, 0))

	// quote larger than funds
	assert.Equal(t, 0, a.ShareCount(1000000, 500000, 60000))
}

func TestShareCountStaysWithinBudget(t *testing.T) {
	a := Allocator{CapitalFraction: 0.5, TradeFraction: 0.05}
	total := models.Cents(2500000)
	remaining := a.TradingCapital(total)
	quote := models.Cents(4321)

	buys := 0
	for {
		n := a.ShareCount(total, remaining, quote)
		if n == 0 {
			break
		}
		cost := quote * models.Cents(n)
		assert.LessOrEqual(t, int64(cost), int64(remaining))
		remaining -= cost
		buys++
	}
	assert.Greater(t, buys, 0)
	assert.GreaterOrEqual(t, int64(remaining), int64(0))
}
