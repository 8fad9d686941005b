package exchange

import (
	"context"
	"errors"
	"fmt"

	"paragon-bot-go/internal/models"
)

// Broker 定义了交易循环所需的所有经纪商操作。
// 这使得交易机器人可以在真实交易、模拟下单和回测之间轻松切换。
type Broker interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error)
	GetAccountBalance(ctx context.Context) (models.Balance, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity int, price models.Cents) (*models.Order, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, quantity int) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (models.OrderStatus, error)
	GetWatchlist(ctx context.Context) ([]string, error)
	GetMarketCalendar(ctx context.Context, year int, month int) ([]models.CalendarDay, error)
}

// ErrMalformedResponse 表示经纪商返回的数据缺少必需字段或类型不符。
// 调用方将其视为暂时性数据错误。
var ErrMalformedResponse = errors.New("malformed broker response")

// APIError 是经纪商返回的非2xx响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error: status %d: %s", e.StatusCode, e.Body)
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
