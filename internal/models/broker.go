package models

import (
	"fmt"
	"time"
)

// Side 定义了交易方向
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType 定义了订单类型
type OrderType string

const (
	LimitOrder  OrderType = "limit"
	MarketOrder OrderType = "market"
)

// OrderState 是经纪商返回的订单状态
type OrderState string

const (
	OrderOpen            OrderState = "open"
	OrderPending         OrderState = "pending"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderExpired         OrderState = "expired"
	OrderCanceled        OrderState = "canceled"
	OrderRejected        OrderState = "rejected"
)

// IsFinal 报告订单是否已经不会再成交
func (s OrderState) IsFinal() bool {
	switch s {
	case OrderFilled, OrderExpired, OrderCanceled, OrderRejected:
		return true
	}
	return false
}

// Quote 是某只股票的最新成交价及当日高低点
type Quote struct {
	Symbol string
	Last   Cents
	Low    Cents
	High   Cents
	Time   time.Time
}

// Balance 是账户余额信息
type Balance struct {
	TotalEquity   Cents
	CashAvailable Cents
}

// OrderRequest 描述一笔待提交的订单
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Quantity int
	Price    Cents // 仅限价单使用
	Tag      string
}

// Order 是经纪商确认后的订单回执
type Order struct {
	ID       string
	Status   string
	Symbol   string
	Side     Side
	Type     OrderType
	Quantity int
	Price    Cents
	Tag      string
}

// OrderStatus 是订单的成交状态
type OrderStatus struct {
	ID             string
	State          OrderState
	FilledQuantity int
	AvgFillPrice   Cents
}

// CalendarDay 是市场日历中的一天
type CalendarDay struct {
	Date      string // "2006-01-02"
	Status    string // "open" 或 "closed"
	OpenStart string // "09:30"
	OpenEnd   string // "16:00"
}

// IsOpen 报告当日是否开市
func (d CalendarDay) IsOpen() bool {
	return d.Status == "open"
}

// SessionBounds 返回当日在指定时区的开盘和收盘时间
func (d CalendarDay) SessionBounds(loc *time.Location) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, d.Date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing calendar date %q: %w", d.Date, err)
	}
	open, err := clockOn(day, d.OpenStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing open time: %w", err)
	}
	closing, err := clockOn(day, d.OpenEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing close time: %w", err)
	}
	if !closing.After(open) {
		return time.Time{}, time.Time{}, fmt.Errorf("close %s is not after open %s", d.OpenEnd, d.OpenStart)
	}
	return open, closing, nil
}

// TimeSale 是一条分钟级成交数据，用于回测
type TimeSale struct {
	Symbol string
	Time   time.Time
	Price  Cents
	Low    Cents
	High   Cents
}

const (
	// DateLayout 是交易日的日期格式
	DateLayout = "2006-01-02"
	// ClockLayout 是日历中的时刻格式
	ClockLayout = "15:04"
)

func clockOn(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
