package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"paragon-bot-go/internal/models"

	"go.uber.org/zap"
)

// Operation 标识可以注入故障的经纪商操作
type Operation string

const (
	OpQuotes   Operation = "quotes"
	OpBalance  Operation = "balance"
	OpPlace    Operation = "place"
	OpCancel   Operation = "cancel"
	OpStatus   Operation = "status"
	OpWatch    Operation = "watchlist"
	OpCalendar Operation = "calendar"
)

// SimulatedBroker 实现了 Broker 接口，在内存中撮合订单。
// 用于模拟下单(dry run)、回测以及测试。
type SimulatedBroker struct {
	mu sync.Mutex

	Cash        models.Cents
	quotes      map[string]models.Quote
	holdings    map[string]int
	avgCost     map[string]models.Cents
	orders      map[string]*simOrder
	nextOrderID int64
	watchlist   []string
	calendar    map[string]models.CalendarDay
	faults      map[Operation][]error
	now         func() time.Time

	// HoldFills 为 true 时限价单保持挂单状态，直到 FillOrder 被调用
	HoldFills bool
	TradeLog  []models.CompletedTrade

	logger *zap.Logger
}

type simOrder struct {
	order  models.Order
	state  models.OrderState
	filled int
	price  models.Cents
}

// NewSimulatedBroker 创建一个新的 SimulatedBroker 实例。
func NewSimulatedBroker(initialCash models.Cents, watchlist []string, logger *zap.Logger) *SimulatedBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedBroker{
		Cash:        initialCash,
		quotes:      make(map[string]models.Quote),
		holdings:    make(map[string]int),
		avgCost:     make(map[string]models.Cents),
		orders:      make(map[string]*simOrder),
		nextOrderID: 1,
		watchlist:   append([]string(nil), watchlist...),
		calendar:    make(map[string]models.CalendarDay),
		faults:      make(map[Operation][]error),
		now:         time.Now,
		logger:      logger,
	}
}

// SetClock 替换用于订单时间戳的时钟
func (e *SimulatedBroker) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetQuote 是回测的核心：更新最新价并检查挂单是否可以成交。
func (e *SimulatedBroker) SetQuote(q models.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.quotes[q.Symbol]; ok {
		if prev.Low > 0 && (q.Low == 0 || prev.Low < q.Low) {
			q.Low = prev.Low
		}
		if prev.High > q.High {
			q.High = prev.High
		}
	}
	if q.Low == 0 || q.Low > q.Last {
		q.Low = q.Last
	}
	if q.High < q.Last {
		q.High = q.Last
	}
	e.quotes[q.Symbol] = q
	if !e.HoldFills {
		e.checkLimitOrdersAtPrice(q.Symbol, q.Last)
	}
}

// ClearQuotes 在新交易日开始前清空报价，使当日高低点重新计算
func (e *SimulatedBroker) ClearQuotes() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotes = make(map[string]models.Quote)
}

// SetWatchlist 替换观察列表
func (e *SimulatedBroker) SetWatchlist(symbols []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchlist = append([]string(nil), symbols...)
}

// AddCalendarDay 添加一个交易日历条目
func (e *SimulatedBroker) AddCalendarDay(day models.CalendarDay) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calendar[day.Date] = day
}

// InjectFault 让指定操作的下一次调用返回 err。多次调用按顺序排队。
func (e *SimulatedBroker) InjectFault(op Operation, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = append(e.faults[op], err)
}

func (e *SimulatedBroker) fault(op Operation) error {
	queue := e.faults[op]
	if len(queue) == 0 {
		return nil
	}
	e.faults[op] = queue[1:]
	return queue[0]
}

// checkLimitOrdersAtPrice 按订单号顺序检查挂单是否可以在指定价格成交。必须在持有锁的情况下调用。
func (e *SimulatedBroker) checkLimitOrdersAtPrice(symbol string, price models.Cents) {
	for _, o := range e.sortedOrders() {
		if o.order.Symbol != symbol || o.order.Type != models.LimitOrder || o.state != models.OrderOpen {
			continue
		}
		if (o.order.Side == models.Buy && price <= o.order.Price) ||
			(o.order.Side == models.Sell && price >= o.order.Price) {
			e.handleFilledOrder(o, o.order.Price)
		}
	}
}

func (e *SimulatedBroker) sortedOrders() []*simOrder {
	out := make([]*simOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].order.ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].order.ID, 10, 64)
		return a < b
	})
	return out
}

// handleFilledOrder 处理一个已成交的订单，更新现金和持仓。必须在持有锁的情况下调用。
func (e *SimulatedBroker) handleFilledOrder(o *simOrder, price models.Cents) {
	qty := o.order.Quantity
	symbol := o.order.Symbol
	o.state = models.OrderFilled
	o.filled = qty
	o.price = price

	cost := price * models.Cents(qty)
	if o.order.Side == models.Buy {
		held := e.holdings[symbol]
		total := e.avgCost[symbol]*models.Cents(held) + cost
		e.holdings[symbol] = held + qty
		e.avgCost[symbol] = total / models.Cents(held+qty)
		e.Cash -= cost
	} else {
		held := e.holdings[symbol]
		if qty > held {
			qty = held
		}
		entry := e.avgCost[symbol]
		e.holdings[symbol] = held - qty
		e.Cash += price * models.Cents(qty)
		e.TradeLog = append(e.TradeLog, models.CompletedTrade{
			Symbol:    symbol,
			Shares:    qty,
			BuyPrice:  entry,
			SellPrice: price,
			Gain:      (price - entry) * models.Cents(qty),
			ClosedAt:  e.now(),
			Reason:    "simulated",
		})
		if e.holdings[symbol] == 0 {
			delete(e.holdings, symbol)
			delete(e.avgCost, symbol)
		}
	}

	e.logger.Debug("模拟订单成交",
		zap.String("order_id", o.order.ID),
		zap.String("symbol", symbol),
		zap.String("side", string(o.order.Side)),
		zap.Int("quantity", qty),
		zap.Stringer("price", price),
		zap.Stringer("cash", e.Cash))
}

// FillOrder 以指定价格立即成交一个挂单，用于 HoldFills 模式下的测试
func (e *SimulatedBroker) FillOrder(orderID string, price models.Cents) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if o.state != models.OrderOpen {
		return fmt.Errorf("order %s is %s", orderID, o.state)
	}
	e.handleFilledOrder(o, price)
	return nil
}

// RejectOrder 将挂单标记为被拒绝，用于测试
func (e *SimulatedBroker) RejectOrder(orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	o.state = models.OrderRejected
	return nil
}

// --- Broker 接口实现 ---

func (e *SimulatedBroker) GetQuotes(_ context.Context, symbols []string) (map[string]models.Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fault(OpQuotes); err != nil {
		return nil, err
	}
	out := make(map[string]models.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := e.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

// GetAccountBalance 以最新价计算持仓市值。
func (e *SimulatedBroker) GetAccountBalance(_ context.Context) (models.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fault(OpBalance); err != nil {
		return models.Balance{}, err
	}
	equity := e.Cash
	for symbol, qty := range e.holdings {
		price := e.avgCost[symbol]
		if q, ok := e.quotes[symbol]; ok {
			price = q.Last
		}
		equity += price * models.Cents(qty)
	}
	return models.Balance{TotalEquity: equity, CashAvailable: e.Cash}, nil
}

func (e *SimulatedBroker) PlaceLimitOrder(_ context.Context, symbol string, side models.Side, quantity int, price models.Cents) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fault(OpPlace); err != nil {
		return nil, err
	}
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("invalid limit order %s x%d @ %s", symbol, quantity, price)
	}
	o := e.newOrder(symbol, side, models.LimitOrder, quantity, price)
	if q, ok := e.quotes[symbol]; ok && !e.HoldFills {
		e.checkLimitOrdersAtPrice(symbol, q.Last)
	}
	ord := o.order
	return &ord, nil
}

// PlaceMarketOrder 以最新价立即成交。
func (e *SimulatedBroker) PlaceMarketOrder(_ context.Context, symbol string, side models.Side, quantity int) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fault(OpPlace); err != nil {
		return nil, err
	}
	q, ok := e.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid market order quantity %d", quantity)
	}
	if side == models.Sell && e.holdings[symbol] < quantity {
		return nil, fmt.Errorf("cannot sell %d %s, holding %d", quantity, symbol, e.holdings[symbol])
	}
	o := e.newOrder(symbol, side, models.MarketOrder, quantity, 0)
	e.handleFilledOrder(o, q.Last)
	ord := o.order
	return &ord, nil
}

func (e *SimulatedBroker) newOrder(symbol string, side models.Side, typ models.OrderType, quantity int, price models.Cents) *simOrder {
	id := strconv.FormatInt(e.nextOrderID, 10)
	e.nextOrderID++
	o := &simOrder{
		order: models.Order{
			ID:       id,
			Status:   "ok",
			Symbol:   symbol,
			Side:     side,
			Type:     typ,
			Quantity: quantity,
			Price:    price,
			Tag:      NewOrderTag(),
		},
		state: models.OrderOpen,
	}
	e.orders[id] = o
	return o
}

func (e *SimulatedBroker) CancelOrder(_ context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fault(OpCancel); err != nil {
		return err
	}
	o, ok := e.orders[orderID]
	if !ok {
		return &APIError{StatusCode: 400, Body: "unknown order " + orderID}
	}
	if o.state.IsFinal() {
		return &APIError{StatusCode: 400, Body: fmt.Sprintf("order %s already %s", orderID, o.state)}
	}
	o.state = models.OrderCanceled
	return nil
}

func (e *SimulatedBroker) GetOrderStatus(_ context.Context, orderID string) (models.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fault(OpStatus); err != nil {
		return models.OrderStatus{}, err
	}
	o, ok := e.orders[orderID]
	if !ok {
		return models.OrderStatus{}, &APIError{StatusCode: 404, Body: "unknown order " + orderID}
	}
	return models.OrderStatus{ID: orderID, State: o.state, FilledQuantity: o.filled, AvgFillPrice: o.price}, nil
}

func (e *SimulatedBroker) GetWatchlist(_ context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fault(OpWatch); err != nil {
		return nil, err
	}
	return append([]string(nil), e.watchlist...), nil
}

// GetMarketCalendar 返回指定月份的日历。未显式添加的工作日视为 09:30-16:00 开市，周末休市。
func (e *SimulatedBroker) GetMarketCalendar(_ context.Context, year int, month int) ([]models.CalendarDay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fault(OpCalendar); err != nil {
		return nil, err
	}
	var out []models.CalendarDay
	day := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	for day.Month() == time.Month(month) {
		date := day.Format(models.DateLayout)
		if d, ok := e.calendar[date]; ok {
			out = append(out, d)
		} else if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			out = append(out, models.CalendarDay{Date: date, Status: "closed"})
		} else {
			out = append(out, models.CalendarDay{Date: date, Status: "open", OpenStart: "09:30", OpenEnd: "16:00"})
		}
		day = day.AddDate(0, 0, 1)
	}
	return out, nil
}

// Holdings 返回当前持仓数量
func (e *SimulatedBroker) Holdings(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holdings[symbol]
}

// OpenOrders 返回所有未成交的订单，按订单号排序
func (e *SimulatedBroker) OpenOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Order
	for _, o := range e.sortedOrders() {
		if o.state == models.OrderOpen {
			out = append(out, o.order)
		}
	}
	return out
}
