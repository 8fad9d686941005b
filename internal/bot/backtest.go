package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"paragon-bot-go/internal/exchange"
	"paragon-bot-go/internal/models"

	"go.uber.org/zap"
)

// ManualClock 是一个手动推进的时钟，用于回测和测试
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Replay 在模拟交易所上按分钟重放历史成交数据，每个时间点执行一次 tick。
// 每个有数据的日期被视为一个 09:30-16:00 的交易日。
type Replay struct {
	Bot    *Bot
	Broker *exchange.SimulatedBroker
	Clock  *ManualClock
	Logger *zap.Logger
}

// Run 重放全部数据，返回每个交易日的汇总
func (r *Replay) Run(ctx context.Context, sales []models.TimeSale) ([]models.DaySummary, error) {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	byDay := make(map[string][]models.TimeSale)
	for _, s := range sales {
		day := s.Time.In(r.Bot.loc).Format(models.DateLayout)
		byDay[day] = append(byDay[day], s)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	var summaries []models.DaySummary
	prev := r.Bot.OnDayClosed
	r.Bot.OnDayClosed = func(s models.DaySummary) {
		summaries = append(summaries, s)
		if prev != nil {
			prev(s)
		}
	}
	defer func() { r.Bot.OnDayClosed = prev }()

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		if err := r.runDay(ctx, day, byDay[day]); err != nil {
			return summaries, err
		}
		if err := r.Bot.Err(); err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

func (r *Replay) runDay(ctx context.Context, day string, sales []models.TimeSale) error {
	loc := r.Bot.loc
	date, err := time.ParseInLocation(models.DateLayout, day, loc)
	if err != nil {
		return err
	}

	symbols := make(map[string]struct{})
	for _, s := range sales {
		symbols[s.Symbol] = struct{}{}
	}
	watch := make([]string, 0, len(symbols))
	for s := range symbols {
		watch = append(watch, s)
	}
	sort.Strings(watch)

	r.Broker.ClearQuotes()
	r.Broker.SetWatchlist(watch)
	r.Broker.AddCalendarDay(models.CalendarDay{Date: day, Status: "open", OpenStart: "09:30", OpenEnd: "16:00"})

	r.Clock.Set(date.Add(3 * time.Hour))
	open, err := r.Bot.PrepareDay(ctx)
	if err != nil {
		return err
	}
	if !open {
		return nil
	}
	snap := r.Bot.Snapshot()
	r.Clock.Set(snap.OpenAt)
	if err := r.Bot.OpenSession(ctx); err != nil {
		return fmt.Errorf("opening %s: %w", day, err)
	}

	sort.SliceStable(sales, func(i, j int) bool { return sales[i].Time.Before(sales[j].Time) })
	for i := 0; i < len(sales); {
		at := sales[i].Time
		for ; i < len(sales) && sales[i].Time.Equal(at); i++ {
			s := sales[i]
			r.Broker.SetQuote(models.Quote{Symbol: s.Symbol, Last: s.Price, Low: s.Low, High: s.High, Time: s.Time})
		}
		if at.Before(snap.OpenAt) {
			continue
		}
		r.Clock.Set(at)
		r.Bot.Tick(ctx)
		if r.Bot.Snapshot().Phase == models.AwaitingSessionDate || r.Bot.Err() != nil {
			break
		}
	}

	r.Clock.Set(snap.CloseAt)
	r.Bot.CloseSession(ctx)
	r.Logger.Info("回测交易日结束", zap.String("date", day), zap.Int("points", len(sales)))
	return nil
}
