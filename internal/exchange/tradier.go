package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paragon-bot-go/internal/models"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// TradierClient 实现了 Broker 接口，用于与 Tradier 经纪商 REST API 交互。
type TradierClient struct {
	accountID   string
	accessToken string
	baseURL     string
	httpClient  *http.Client
	logger      *zap.Logger
	loc         *time.Location
}

// NewTradierClient 创建一个新的 TradierClient 实例。
func NewTradierClient(accountID, accessToken, baseURL string, loc *time.Location, logger *zap.Logger) *TradierClient {
	if loc == nil {
		loc = time.UTC
	}
	return &TradierClient{
		accountID:   accountID,
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		loc:         loc,
	}
}

// doRequest 是一个通用的请求处理函数。GET/DELETE 的参数放在查询串中，POST 的参数以表单提交。
func (c *TradierClient) doRequest(ctx context.Context, method, endpoint string, params url.Values) (gjson.Result, error) {
	fullURL := c.baseURL + endpoint
	var body io.Reader
	encoded := params.Encode()

	if method == http.MethodPost {
		body = strings.NewReader(encoded)
	} else if encoded != "" {
		fullURL = fullURL + "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.logger.Debug("发送请求", zap.String("method", method), zap.String("endpoint", endpoint))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("执行请求失败 %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, malformed("%s %s returned invalid JSON", method, endpoint)
	}

	result := gjson.ParseBytes(raw)
	if ce := c.logger.Check(zap.DebugLevel, "响应内容"); ce != nil {
		ce.Write(zap.String("endpoint", endpoint), zap.String("dump", spew.Sdump(result.Value())))
	}
	return result, nil
}

// --- Broker 接口实现 ---

// GetQuotes 获取一组股票的最新成交价。没有成交价的股票不会出现在结果中。
func (c *TradierClient) GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	quotes := make(map[string]models.Quote, len(symbols))
	if len(symbols) == 0 {
		return quotes, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("greeks", "false")
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/markets/quotes", params)
	if err != nil {
		return nil, err
	}

	node := data.Get("quotes.quote")
	if !node.Exists() {
		if data.Get("quotes.unmatched_symbols").Exists() {
			return quotes, nil
		}
		return nil, malformed("quotes response has no quotes.quote")
	}

	// 单只股票时返回对象，多只时返回数组；Array() 对两者都适用
	for _, q := range node.Array() {
		quote, err := parseQuote(q)
		if err != nil {
			c.logger.Warn("忽略无效报价", zap.String("symbol", q.Get("symbol").String()), zap.Error(err))
			continue
		}
		quotes[quote.Symbol] = quote
	}
	return quotes, nil
}

func parseQuote(q gjson.Result) (models.Quote, error) {
	symbol := q.Get("symbol").String()
	if symbol == "" {
		return models.Quote{}, malformed("quote without symbol")
	}
	last, err := centsField(q, "last")
	if err != nil {
		return models.Quote{}, err
	}
	// 开盘前 high/low 可能为 null，此时以最新价代替
	low, err := centsField(q, "low")
	if err != nil {
		low = last
	}
	high, err := centsField(q, "high")
	if err != nil {
		high = last
	}
	quote := models.Quote{Symbol: symbol, Last: last, Low: low, High: high}
	if ms := q.Get("trade_date").Int(); ms > 0 {
		quote.Time = time.UnixMilli(ms)
	}
	return quote, nil
}

// GetAccountBalance 获取账户总权益和可用现金。
func (c *TradierClient) GetAccountBalance(ctx context.Context) (models.Balance, error) {
	data, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/balances", c.accountID), nil)
	if err != nil {
		return models.Balance{}, err
	}
	b := data.Get("balances")
	total, err := centsField(b, "total_equity")
	if err != nil {
		return models.Balance{}, err
	}

	// 现金账户与保证金账户的可用资金字段不同
	var cash models.Cents
	for _, path := range []string{"cash.cash_available", "margin.stock_buying_power", "pdt.stock_buying_power", "total_cash"} {
		if v, err := centsField(b, path); err == nil {
			cash = v
			break
		}
	}
	return models.Balance{TotalEquity: total, CashAvailable: cash}, nil
}

// PlaceLimitOrder 提交一个当日有效的限价单。
func (c *TradierClient) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity int, price models.Cents) (*models.Order, error) {
	return c.placeOrder(ctx, models.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     models.LimitOrder,
		Quantity: quantity,
		Price:    price,
		Tag:      NewOrderTag(),
	})
}

// PlaceMarketOrder 提交一个当日有效的市价单。
func (c *TradierClient) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, quantity int) (*models.Order, error) {
	return c.placeOrder(ctx, models.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     models.MarketOrder,
		Quantity: quantity,
		Tag:      NewOrderTag(),
	})
}

func (c *TradierClient) placeOrder(ctx context.Context, r models.OrderRequest) (*models.Order, error) {
	if r.Quantity <= 0 {
		return nil, fmt.Errorf("invalid order quantity %d for %s", r.Quantity, r.Symbol)
	}

	params := url.Values{}
	params.Set("class", "equity")
	params.Set("symbol", r.Symbol)
	params.Set("side", string(r.Side))
	params.Set("quantity", strconv.Itoa(r.Quantity))
	params.Set("type", string(r.Type))
	params.Set("duration", "day")
	if r.Type == models.LimitOrder {
		params.Set("price", r.Price.String())
	}
	if r.Tag != "" {
		params.Set("tag", r.Tag)
	}

	data, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/accounts/%s/orders", c.accountID), params)
	if err != nil {
		return nil, fmt.Errorf("下单失败 %s %s x%d: %w", r.Side, r.Symbol, r.Quantity, err)
	}

	o := data.Get("order")
	id := o.Get("id")
	if !id.Exists() {
		if errs := data.Get("errors.error"); errs.Exists() {
			return nil, fmt.Errorf("下单被拒绝 %s: %s", r.Symbol, errs.String())
		}
		return nil, malformed("order response has no order.id")
	}

	c.logger.Info("订单已提交",
		zap.String("order_id", id.String()),
		zap.String("symbol", r.Symbol),
		zap.String("side", string(r.Side)),
		zap.String("type", string(r.Type)),
		zap.Int("quantity", r.Quantity),
		zap.Stringer("price", r.Price))

	return &models.Order{
		ID:       id.String(),
		Status:   o.Get("status").String(),
		Symbol:   r.Symbol,
		Side:     r.Side,
		Type:     r.Type,
		Quantity: r.Quantity,
		Price:    r.Price,
		Tag:      r.Tag,
	}, nil
}

// CancelOrder 撤销一个订单。
func (c *TradierClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/v1/accounts/%s/orders/%s", c.accountID, orderID), nil)
	if err != nil {
		return fmt.Errorf("撤单失败 %s: %w", orderID, err)
	}
	return nil
}

// GetOrderStatus 查询订单的成交状态。
func (c *TradierClient) GetOrderStatus(ctx context.Context, orderID string) (models.OrderStatus, error) {
	data, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/orders/%s", c.accountID, orderID), nil)
	if err != nil {
		return models.OrderStatus{}, err
	}

	o := data.Get("order")
	state := o.Get("status")
	if !state.Exists() {
		return models.OrderStatus{}, malformed("order %s has no status", orderID)
	}
	status := models.OrderStatus{
		ID:             orderID,
		State:          models.OrderState(state.String()),
		FilledQuantity: int(o.Get("exec_quantity").Int()),
	}
	if status.FilledQuantity > 0 {
		price, err := centsField(o, "avg_fill_price")
		if err != nil {
			return models.OrderStatus{}, err
		}
		status.AvgFillPrice = price
	}
	return status, nil
}

// GetWatchlist 获取默认观察列表中的股票代码，保持原有顺序。
func (c *TradierClient) GetWatchlist(ctx context.Context) ([]string, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/watchlists/default", nil)
	if err != nil {
		return nil, err
	}
	w := data.Get("watchlist")
	if !w.Exists() {
		return nil, malformed("watchlist response has no watchlist")
	}

	var symbols []string
	for _, item := range w.Get("items.item").Array() {
		if s := item.Get("symbol").String(); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols, nil
}

// GetMarketCalendar 获取指定月份的市场日历。
func (c *TradierClient) GetMarketCalendar(ctx context.Context, year int, month int) ([]models.CalendarDay, error) {
	params := url.Values{}
	params.Set("year", strconv.Itoa(year))
	params.Set("month", fmt.Sprintf("%02d", month))
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/markets/calendar", params)
	if err != nil {
		return nil, err
	}

	days := data.Get("calendar.days.day")
	if !days.Exists() {
		return nil, malformed("calendar response has no calendar.days.day")
	}

	var out []models.CalendarDay
	for _, d := range days.Array() {
		day := models.CalendarDay{
			Date:      d.Get("date").String(),
			Status:    d.Get("status").String(),
			OpenStart: d.Get("open.start").String(),
			OpenEnd:   d.Get("open.end").String(),
		}
		if day.Date == "" || day.Status == "" {
			return nil, malformed("calendar day without date or status")
		}
		if day.IsOpen() && (day.OpenStart == "" || day.OpenEnd == "") {
			return nil, malformed("open calendar day %s without session times", day.Date)
		}
		out = append(out, day)
	}
	return out, nil
}

// --- 非 Broker 接口的辅助端点 ---

// GetTimeSales 获取某只股票在 [start, end] 区间内的分钟级成交数据。
func (c *TradierClient) GetTimeSales(ctx context.Context, symbol string, start, end time.Time) ([]models.TimeSale, error) {
	const layout = "2006-01-02 15:04"
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "1min")
	params.Set("start", start.In(c.loc).Format(layout))
	params.Set("end", end.In(c.loc).Format(layout))
	params.Set("session_filter", "open")

	data, err := c.doRequest(ctx, http.MethodGet, "/v1/markets/timesales", params)
	if err != nil {
		return nil, err
	}

	series := data.Get("series")
	if series.Type == gjson.Null {
		// 没有数据时 Tradier 返回 {"series": null}
		return nil, nil
	}

	var out []models.TimeSale
	for _, d := range series.Get("data").Array() {
		t, err := time.ParseInLocation("2006-01-02T15:04:05", d.Get("time").String(), c.loc)
		if err != nil {
			return nil, malformed("timesale with bad time %q", d.Get("time").String())
		}
		price, err := centsField(d, "price")
		if err != nil {
			return nil, err
		}
		low, err := centsField(d, "low")
		if err != nil {
			low = price
		}
		high, err := centsField(d, "high")
		if err != nil {
			high = price
		}
		out = append(out, models.TimeSale{Symbol: symbol, Time: t, Price: price, Low: low, High: high})
	}
	return out, nil
}

// CreateStreamSession 创建一个行情流会话，返回 WebSocket 订阅所需的 session id。
func (c *TradierClient) CreateStreamSession(ctx context.Context) (string, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/markets/events/session", nil)
	if err != nil {
		return "", fmt.Errorf("创建行情流会话失败: %w", err)
	}
	id := data.Get("stream.sessionid").String()
	if id == "" {
		return "", malformed("stream session response has no sessionid")
	}
	return id, nil
}

// NewOrderTag 生成一个唯一的订单标签，便于在经纪商后台追踪本程序提交的订单。
func NewOrderTag() string {
	id := uuid.New()
	return "pgn-" + base62.EncodeToString(id[:])
}

func centsField(r gjson.Result, path string) (models.Cents, error) {
	v := r.Get(path)
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = v.Str
	default:
		return 0, malformed("field %s missing or not a number", path)
	}
	c, err := models.ParseCents(raw)
	if err != nil {
		return 0, malformed("field %s: %v", path, err)
	}
	return c, nil
}
