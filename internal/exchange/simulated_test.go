package exchange

import (
	"context"
	"errors"
	"testing"

	"paragon-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedLimitBuyFillsWhenPriceReachesLimit(t *testing.T) {
	ctx := context.Background()
	e := NewSimulatedBroker(100000, []string{"ABC"}, nil)
	e.SetQuote(models.Quote{Symbol: "ABC", Last: 1010})

	o, err := e.PlaceLimitOrder(ctx, "ABC", models.Buy, 10, 1000)
	require.NoError(t, err)

	st, err := e.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderOpen, st.State)

	e.SetQuote(models.Quote{Symbol: "ABC", Last: 1000})
	st, err = e.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, st.State)
	assert.Equal(t, 10, st.FilledQuantity)
	assert.Equal(t, models.Cents(1000), st.AvgFillPrice)
	assert.Equal(t, models.Cents(90000), e.Cash)
	assert.Equal(t, 10, e.Holdings("ABC"))
}

func TestSimulatedMarketSellBooksTrade(t *testing.T) {
	ctx := context.Background()
	e := NewSimulatedBroker(100000, nil, nil)
	e.SetQuote(models.Quote{Symbol: "ABC", Last: 1000})
	_, err := e.PlaceLimitOrder(ctx, "ABC", models.Buy, 10, 1000)
	require.NoError(t, err)

	e.SetQuote(models.Quote{Symbol: "ABC", Last: 1100})
	b, err := e.GetAccountBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(101000), b.TotalEquity)

	_, err = e.PlaceMarketOrder(ctx, "ABC", models.Sell, 10)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(101000), e.Cash)
	require.Len(t, e.TradeLog, 1)
	assert.Equal(t, models.Cents(1000), e.TradeLog[0].Gain)

	_, err = e.PlaceMarketOrder(ctx, "ABC", models.Sell, 1)
	assert.Error(t, err, "cannot sell what is not held")
}

func TestSimulatedCancelAndFaults(t *testing.T) {
	ctx := context.Background()
	e := NewSimulatedBroker(100000, nil, nil)
	e.HoldFills = true
	e.SetQuote(models.Quote{Symbol: "ABC", Last: 900})

	o, err := e.PlaceLimitOrder(ctx, "ABC", models.Buy, 1, 1000)
	require.NoError(t, err)
	assert.Len(t, e.OpenOrders(), 1)

	require.NoError(t, e.CancelOrder(ctx, o.ID))
	st, _ := e.GetOrderStatus(ctx, o.ID)
	assert.Equal(t, models.OrderCanceled, st.State)
	assert.Error(t, e.CancelOrder(ctx, o.ID))

	boom := errors.New("boom")
	e.InjectFault(OpQuotes, boom)
	_, err = e.GetQuotes(ctx, []string{"ABC"})
	assert.ErrorIs(t, err, boom)
	_, err = e.GetQuotes(ctx, []string{"ABC"})
	assert.NoError(t, err, "faults are one-shot")
}

func TestSimulatedCalendarDefaults(t *testing.T) {
	e := NewSimulatedBroker(0, nil, nil)
	e.AddCalendarDay(models.CalendarDay{Date: "2024-03-04", Status: "closed"})

	days, err := e.GetMarketCalendar(context.Background(), 2024, 3)
	require.NoError(t, err)
	require.Len(t, days, 31)
	assert.False(t, days[1].IsOpen(), "saturday")
	assert.False(t, days[3].IsOpen(), "explicit holiday")
	assert.True(t, days[4].IsOpen())
	assert.Equal(t, "09:30", days[4].OpenStart)
}

func TestPaperBrokerFeedsSimulator(t *testing.T) {
	ctx := context.Background()
	source := NewSimulatedBroker(0, []string{"ABC"}, nil)
	source.SetQuote(models.Quote{Symbol: "ABC", Last: 500})

	p := NewPaperBroker(source, NewSimulatedBroker(100000, nil, nil))
	quotes, err := p.GetQuotes(ctx, []string{"ABC"})
	require.NoError(t, err)
	assert.Equal(t, models.Cents(500), quotes["ABC"].Last)

	_, err = p.PlaceMarketOrder(ctx, "ABC", models.Buy, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Holdings("ABC"))
	assert.Equal(t, 0, source.Holdings("ABC"))

	wl, err := p.GetWatchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC"}, wl)
}
