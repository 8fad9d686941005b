package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paragon-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *TradierClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return NewTradierClient("VA000001", "token", srv.URL, loc, zap.NewNop())
}

func TestGetQuotesHandlesSingleObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/markets/quotes", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"quotes":{"quote":{"symbol":"AAPL","last":208.1449,"low":206.5,"high":209.0,"trade_date":1709564400000}}}`))
	})

	quotes, err := c.GetQuotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	require.Contains(t, quotes, "AAPL")
	q := quotes["AAPL"]
	assert.Equal(t, models.Cents(20814), q.Last)
	assert.Equal(t, models.Cents(20650), q.Low)
	assert.Equal(t, models.Cents(20900), q.High)
	assert.False(t, q.Time.IsZero())
}

func TestGetQuotesHandlesArrayAndSkipsBadEntries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quotes":{"quote":[
			{"symbol":"AAPL","last":10.5,"low":10,"high":11},
			{"symbol":"MSFT","last":null,"low":null,"high":null},
			{"symbol":"GOOG","last":"3.25","low":null,"high":null}
		]}}`))
	})

	quotes, err := c.GetQuotes(context.Background(), []string{"AAPL", "MSFT", "GOOG"})
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	assert.NotContains(t, quotes, "MSFT")
	assert.Equal(t, models.Cents(325), quotes["GOOG"].Low, "missing range falls back to last")
}

func TestGetQuotesMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"something":"else"}`))
	})
	_, err := c.GetQuotes(context.Background(), []string{"AAPL"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid Access Token", http.StatusUnauthorized)
	})
	_, err := c.GetAccountBalance(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "Invalid Access Token")
}

func TestGetAccountBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/VA000001/balances", r.URL.Path)
		w.Write([]byte(`{"balances":{"total_equity":25012.34,"cash":{"cash_available":20000.015}}}`))
	})
	b, err := c.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Cents(2501234), b.TotalEquity)
	assert.Equal(t, models.Cents(2000002), b.CashAvailable)
}

func TestPlaceLimitOrderSendsForm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/accounts/VA000001/orders", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "equity", r.PostForm.Get("class"))
		assert.Equal(t, "AAPL", r.PostForm.Get("symbol"))
		assert.Equal(t, "buy", r.PostForm.Get("side"))
		assert.Equal(t, "12", r.PostForm.Get("quantity"))
		assert.Equal(t, "limit", r.PostForm.Get("type"))
		assert.Equal(t, "day", r.PostForm.Get("duration"))
		assert.Equal(t, "10.05", r.PostForm.Get("price"))
		assert.True(t, strings.HasPrefix(r.PostForm.Get("tag"), "pgn-"))
		w.Write([]byte(`{"order":{"id":228175,"status":"ok","partner_id":"x"}}`))
	})

	o, err := c.PlaceLimitOrder(context.Background(), "AAPL", models.Buy, 12, 1005)
	require.NoError(t, err)
	assert.Equal(t, "228175", o.ID)
	assert.Equal(t, models.LimitOrder, o.Type)
	assert.Equal(t, models.Cents(1005), o.Price)
}

func TestPlaceMarketOrderOmitsPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "market", r.PostForm.Get("type"))
		assert.Empty(t, r.PostForm.Get("price"))
		w.Write([]byte(`{"order":{"id":1,"status":"ok"}}`))
	})
	_, err := c.PlaceMarketOrder(context.Background(), "AAPL", models.Sell, 3)
	require.NoError(t, err)
}

func TestPlaceOrderRejectedByBroker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":{"error":["Backoffice rejected override of the order."]}}`))
	})
	_, err := c.PlaceMarketOrder(context.Background(), "AAPL", models.Buy, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Backoffice rejected")
}

func TestGetOrderStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/VA000001/orders/42", r.URL.Path)
		w.Write([]byte(`{"order":{"id":42,"status":"filled","exec_quantity":10.0,"avg_fill_price":9.99}}`))
	})
	st, err := c.GetOrderStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, st.State)
	assert.Equal(t, 10, st.FilledQuantity)
	assert.Equal(t, models.Cents(999), st.AvgFillPrice)
}

func TestCancelOrderUsesDelete(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Write([]byte(`{"order":{"id":42,"status":"ok"}}`))
	})
	require.NoError(t, c.CancelOrder(context.Background(), "42"))
	assert.True(t, called)
}

func TestGetWatchlistKeepsOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"watchlist":{"name":"default","items":{"item":[{"symbol":"MSFT"},{"symbol":"AAPL"}]}}}`))
	})
	symbols, err := c.GetWatchlist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "AAPL"}, symbols)
}

func TestGetMarketCalendar(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024", r.URL.Query().Get("year"))
		assert.Equal(t, "03", r.URL.Query().Get("month"))
		w.Write([]byte(`{"calendar":{"month":3,"year":2024,"days":{"day":[
			{"date":"2024-03-02","status":"closed"},
			{"date":"2024-03-04","status":"open","open":{"start":"09:30","end":"16:00"}}
		]}}}`))
	})
	days, err := c.GetMarketCalendar(context.Background(), 2024, 3)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.False(t, days[0].IsOpen())
	assert.True(t, days[1].IsOpen())
	assert.Equal(t, "16:00", days[1].OpenEnd)
}

func TestGetTimeSales(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1min", r.URL.Query().Get("interval"))
		w.Write([]byte(`{"series":{"data":[
			{"time":"2024-03-04T09:30:00","price":10.01,"low":10.0,"high":10.05},
			{"time":"2024-03-04T09:31:00","price":10.03,"low":10.02,"high":10.04}
		]}}`))
	})
	loc, _ := time.LoadLocation("America/New_York")
	start := time.Date(2024, 3, 4, 9, 30, 0, 0, loc)
	sales, err := c.GetTimeSales(context.Background(), "AAPL", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, models.Cents(1003), sales[1].Price)
	assert.Equal(t, 31, sales[1].Time.Minute())
}

func TestCreateStreamSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"stream":{"url":"https://stream.tradier.com/v1/markets/events","sessionid":"abc-123"}}`))
	})
	id, err := c.CreateStreamSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
}

func TestNewOrderTagIsUnique(t *testing.T) {
	a, b := NewOrderTag(), NewOrderTag()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "pgn-"))
}
