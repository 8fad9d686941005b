package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"paragon-bot-go/internal/exchange"
	"paragon-bot-go/internal/indicators"
	"paragon-bot-go/internal/ledger"
	"paragon-bot-go/internal/models"
	"paragon-bot-go/internal/persistence"
	"paragon-bot-go/internal/strategy"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// ErrSessionUnavailable 表示当日的开盘准备失败（日历、观察列表或余额不可用），
// 当日不交易，等待下一次每日唤醒重试。
var ErrSessionUnavailable = errors.New("trading session unavailable")

// Bot 是交易日状态机。所有 tick 和生命周期转换都在 mu 下串行执行。
type Bot struct {
	cfg      *models.Config
	broker   exchange.Broker
	recorder persistence.TickRecorder
	ledger   *ledger.Ledger
	clock    Clock
	loc      *time.Location
	logger   *zap.Logger

	params  indicators.Params
	alloc   strategy.Allocator
	divorce strategy.Divorce

	mu       sync.Mutex
	inFlight atomic.Bool
	state    SessionState

	scheduler *gocron.Scheduler
	runCtx    context.Context
	cancel    context.CancelFunc
	stopped   atomic.Bool

	errMu   sync.Mutex
	err     error
	fatalCh chan error

	// OnDayClosed 在收盘汇总写入后被调用
	OnDayClosed func(models.DaySummary)
}

// Option 用于定制 Bot
type Option func(*Bot)

// WithClock 替换时钟，用于回测和测试
func WithClock(c Clock) Option {
	return func(b *Bot) { b.clock = c }
}

// WithLogger 替换日志记录器
func WithLogger(l *zap.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// New 创建一个新的交易机器人实例
func New(cfg *models.Config, broker exchange.Broker, recorder persistence.TickRecorder, opts ...Option) (*Bot, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}

	b := &Bot{
		cfg:      cfg,
		broker:   broker,
		recorder: recorder,
		clock:    systemClock{},
		loc:      loc,
		logger:   zap.NewNop(),
		params:   indicators.ParamsFrom(cfg.Strategy),
		alloc: strategy.Allocator{
			CapitalFraction: cfg.Strategy.CapitalFraction,
			TradeFraction:   cfg.Strategy.TradeFraction,
		},
		divorce: strategy.Divorce{
			ADRMultiplier: cfg.Strategy.ADRMultiplier,
			FixedOffset:   cfg.Strategy.FixedOffset,
		},
		state:   newSessionState(),
		fatalCh: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ledger = ledger.New(b.logger.Named("ledger"))
	return b, nil
}

// Err 返回导致机器人停止交易的致命错误
func (b *Bot) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// Fatal 在发生致命错误时收到该错误，供监督进程退出使用
func (b *Bot) Fatal() <-chan error {
	return b.fatalCh
}

// fail 记录致命错误，停止当日交易并移除 tick 任务。必须在持有 mu 的情况下调用。
func (b *Bot) fail(err error) {
	b.errMu.Lock()
	first := b.err == nil
	if first {
		b.err = err
	}
	b.errMu.Unlock()

	b.logger.Error("致命错误，停止当日交易", zap.Error(err), zap.String("date", b.state.Date))
	b.state.Readiness = models.Halted
	b.state.Phase = models.Closed
	b.state.HaltReason = err.Error()
	b.removeJob(tagTick)
	b.removeJob(tagClose)

	if first {
		b.fatalCh <- err
	}
}

// Snapshot 返回当前会话状态的副本
func (b *Bot) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Bot) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:             b.state.Phase,
		Readiness:         b.state.Readiness,
		Date:              b.state.Date,
		OpenAt:            b.state.OpenAt,
		CloseAt:           b.state.CloseAt,
		TotalAccountValue: b.state.TotalAccountValue,
		TradingCapital:    b.ledger.TradingCapital(),
		CapitalRemaining:  b.ledger.CapitalRemaining(),
		NetRealizedGain:   b.ledger.NetRealizedGain(),
		ActiveSymbols:     append([]string(nil), b.state.ActiveSymbols...),
		Positions:         b.ledger.AllOpenPositions(),
		PendingBuys:       b.ledger.AllPendingBuys(),
		HaltReason:        b.state.HaltReason,
	}
}

// PrepareDay 读取市场日历。当日开市时进入 AWAITING_OPEN 并返回 true。
// 日历不可用时返回 ErrSessionUnavailable。
func (b *Bot) PrepareDay(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Err() != nil {
		return false, b.Err()
	}
	switch b.state.Phase {
	case models.TradingNormal, models.TradingHold, models.LiquidatingPhase:
		// 仍在交易中，唤醒不打断当前会话
		return false, nil
	}

	now := b.clock.Now().In(b.loc)
	today := now.Format(models.DateLayout)

	days, err := b.broker.GetMarketCalendar(ctx, now.Year(), int(now.Month()))
	if err != nil {
		b.state.Phase = models.AwaitingSessionDate
		return false, fmt.Errorf("%w: fetching calendar: %v", ErrSessionUnavailable, err)
	}

	var day *models.CalendarDay
	for i := range days {
		if days[i].Date == today {
			day = &days[i]
			break
		}
	}
	if day == nil || !day.IsOpen() {
		b.state.Phase = models.AwaitingSessionDate
		b.logger.Info("今日休市", zap.String("date", today))
		return false, nil
	}

	openAt, closeAt, err := day.SessionBounds(b.loc)
	if err != nil {
		b.state.Phase = models.AwaitingSessionDate
		return false, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if !now.Before(closeAt) {
		b.state.Phase = models.AwaitingSessionDate
		b.logger.Info("今日交易时段已结束", zap.String("date", today), zap.Time("close", closeAt))
		return false, nil
	}

	b.state.Date = today
	b.state.OpenAt = openAt
	b.state.CloseAt = closeAt
	b.state.Phase = models.AwaitingOpen
	b.logger.Info("今日开市",
		zap.String("date", today),
		zap.Time("open", openAt),
		zap.Time("close", closeAt))
	return true, nil
}

// OpenSession 执行开盘流程：读取账户权益、计算当日交易资金、读取观察列表，然后进入 TRADING_NORMAL。
func (b *Bot) OpenSession(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Phase != models.AwaitingOpen {
		return fmt.Errorf("cannot open session from phase %s", b.state.Phase)
	}

	balance, err := b.broker.GetAccountBalance(ctx)
	if err != nil {
		b.state.Phase = models.AwaitingSessionDate
		return fmt.Errorf("%w: fetching balance: %v", ErrSessionUnavailable, err)
	}
	symbols, err := b.broker.GetWatchlist(ctx)
	if err != nil {
		b.state.Phase = models.AwaitingSessionDate
		return fmt.Errorf("%w: fetching watchlist: %v", ErrSessionUnavailable, err)
	}

	date, openAt, closeAt := b.state.Date, b.state.OpenAt, b.state.CloseAt
	b.state = newSessionState()
	b.state.Date = date
	b.state.OpenAt = openAt
	b.state.CloseAt = closeAt
	b.state.TotalAccountValue = balance.TotalEquity
	b.state.addSymbols(symbols)
	b.state.Phase = models.TradingNormal
	b.state.Readiness = models.Normal

	capital := b.alloc.TradingCapital(balance.TotalEquity)
	b.ledger.Reset(capital)

	b.logger.Info("开盘",
		zap.String("date", date),
		zap.Stringer("total_account_value", balance.TotalEquity),
		zap.Stringer("trading_capital", capital),
		zap.Strings("symbols", symbols))
	return nil
}

// CloseSession 执行收盘流程并回到 AWAITING_SESSION_DATE。
func (b *Bot) CloseSession(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeSessionLocked(ctx)
}

func (b *Bot) closeSessionLocked(ctx context.Context) {
	switch b.state.Phase {
	case models.TradingNormal, models.TradingHold, models.LiquidatingPhase:
	default:
		return
	}
	b.removeJob(tagTick)
	b.removeJob(tagClose)

	summary := models.DaySummary{
		Date:              b.state.Date,
		TotalAccountValue: b.state.TotalAccountValue,
		TradingCapital:    b.ledger.TradingCapital(),
		CapitalRemaining:  b.ledger.CapitalRemaining(),
		NetRealizedGain:   b.ledger.NetRealizedGain(),
		Symbols:           append([]string(nil), b.state.ActiveSymbols...),
		Trades:            b.ledger.Trades(),
		LeftOpen:          b.ledger.AllOpenPositions(),
		HaltReason:        b.state.HaltReason,
	}
	for _, pb := range b.ledger.AllPendingBuys() {
		b.logger.Warn("收盘时仍有未成交买单", zap.String("symbol", pb.Symbol), zap.String("order_id", pb.OrderID))
	}
	for _, p := range summary.LeftOpen {
		b.logger.Warn("收盘时仍有持仓", zap.String("symbol", p.Symbol), zap.Int("shares", p.Shares))
	}

	if err := b.recorder.RecordDay(ctx, summary); err != nil {
		b.logger.Warn("保存当日汇总失败", zap.String("date", summary.Date), zap.Error(err))
	}
	b.logger.Info("收盘",
		zap.String("date", summary.Date),
		zap.Int("trades", len(summary.Trades)),
		zap.Stringer("net_realized_gain", summary.NetRealizedGain))
	if b.OnDayClosed != nil {
		b.OnDayClosed(summary)
	}

	b.ledger.Reset(0)
	b.state = newSessionState()
	b.state.Phase = models.AwaitingSessionDate
}
