package models

import "time"

// Readiness 决定每个 tick 中哪些决策分支可用
type Readiness int

const (
	Normal        Readiness = iota // 允许买入和卖出
	HoldNoNewBuys                  // 仅允许卖出
	Liquidating                    // 正在强制平仓
	Halted                         // 不再交易
)

func (r Readiness) String() string {
	switch r {
	case Normal:
		return "NORMAL"
	case HoldNoNewBuys:
		return "HOLD_NO_NEW_BUYS"
	case Liquidating:
		return "LIQUIDATING"
	case Halted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// AllowsBuys 报告是否可以开新仓
func (r Readiness) AllowsBuys() bool { return r == Normal }

// AllowsSells 报告是否可以根据卖出算法平仓
func (r Readiness) AllowsSells() bool { return r == Normal || r == HoldNoNewBuys }

// Phase 是交易日生命周期中的状态
type Phase int

const (
	AwaitingSessionDate Phase = iota
	AwaitingOpen
	TradingNormal
	TradingHold
	LiquidatingPhase
	Closed
)

func (p Phase) String() string {
	switch p {
	case AwaitingSessionDate:
		return "AWAITING_SESSION_DATE"
	case AwaitingOpen:
		return "AWAITING_OPEN"
	case TradingNormal:
		return "TRADING_NORMAL"
	case TradingHold:
		return "TRADING_HOLD"
	case LiquidatingPhase:
		return "LIQUIDATING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Position 是一个已成交的持仓
type Position struct {
	Symbol        string    `json:"symbol"`
	PurchasePrice Cents     `json:"purchase_price"`
	Shares        int       `json:"shares"`
	LowerBound    Cents     `json:"lower_bound"`    // 跟踪止损价，只升不降
	DivorceBuffer Cents     `json:"divorce_buffer"` // 开盘时计算，当日不变
	OpenedAt      time.Time `json:"opened_at"`
}

// PendingBuy 是已提交但尚未成交的买单
type PendingBuy struct {
	Symbol          string    `json:"symbol"`
	OrderID         string    `json:"order_id"`
	RequestedShares int       `json:"requested_shares"`
	RequestedPrice  Cents     `json:"requested_price"`
	PlacedAt        time.Time `json:"placed_at"`
}

// Cost 返回买单预估占用的资金
func (p PendingBuy) Cost() Cents {
	return p.RequestedPrice * Cents(p.RequestedShares)
}

// IndicatorSnapshot 是某个 tick 根据完整价格序列计算出的指标值
type IndicatorSnapshot struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	BBandHigh float64 `json:"bband_high"`
	BBandMid  float64 `json:"bband_mid"`
	BBandLow  float64 `json:"bband_low"`
	RSI       float64 `json:"rsi"`
}

// TickEvent 标记一个 tick 中发生的交易事件
type TickEvent string

const (
	EventNone       TickEvent = ""
	EventBuyPlaced  TickEvent = "buy_placed"
	EventBuyFilled  TickEvent = "buy_filled"
	EventBuyDropped TickEvent = "buy_dropped"
	EventSold       TickEvent = "sold"
)

// TickRecord 是某只股票在某个 tick 的持久化记录，按 (symbol, date, seq) 唯一标识
type TickRecord struct {
	Symbol        string             `json:"symbol"`
	Date          string             `json:"date"`
	Seq           int                `json:"seq"`
	Time          time.Time          `json:"time"`
	Quote         *Cents             `json:"quote"`
	Indicators    *IndicatorSnapshot `json:"indicators"`
	LowerBound    *Cents             `json:"lower_bound"`
	DivorceBuffer Cents              `json:"divorce_buffer"`
	Event         TickEvent          `json:"event,omitempty"`
}

// CompletedTrade 记录一笔完成的交易（买入和卖出）
type CompletedTrade struct {
	Symbol    string    `json:"symbol"`
	Shares    int       `json:"shares"`
	BuyPrice  Cents     `json:"buy_price"`
	SellPrice Cents     `json:"sell_price"`
	Gain      Cents     `json:"gain"`
	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at"`
	Reason    string    `json:"reason"`
}

// DaySummary 是收盘时持久化的当日汇总
type DaySummary struct {
	Date              string           `json:"date"`
	TotalAccountValue Cents            `json:"total_account_value"`
	TradingCapital    Cents            `json:"trading_capital"`
	CapitalRemaining  Cents            `json:"capital_remaining"`
	NetRealizedGain   Cents            `json:"net_realized_gain"`
	Symbols           []string         `json:"symbols"`
	Trades            []CompletedTrade `json:"trades"`
	LeftOpen          []Position       `json:"left_open,omitempty"`
	HaltReason        string           `json:"halt_reason,omitempty"`
}
