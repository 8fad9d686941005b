package bot

import (
	"context"
	"errors"
	"fmt"

	"paragon-bot-go/internal/models"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const (
	tagWakeup = "wakeup"
	tagOpen   = "open"
	tagTick   = "tick"
	tagClose  = "close"
)

// Start 注册每日唤醒任务并立即执行一次，使进程在盘中启动时也能进入当日会话。
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.scheduler != nil {
		b.mu.Unlock()
		return fmt.Errorf("bot already started")
	}
	b.runCtx, b.cancel = context.WithCancel(ctx)
	b.scheduler = gocron.NewScheduler(b.loc)
	_, err := b.scheduler.Every(1).Day().At(b.cfg.WakeupTime).Tag(tagWakeup).Do(b.wakeup)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("scheduling daily wakeup: %w", err)
	}

	b.scheduler.StartAsync()
	b.logger.Info("调度器已启动", zap.String("wakeup", b.cfg.WakeupTime), zap.Duration("tick", b.cfg.TickInterval()))
	go b.wakeup()
	return nil
}

// Stop 取消所有定时任务，等待正在执行的 tick 结束。调用后不会再执行任何 tick。
func (b *Bot) Stop() {
	b.stopped.Store(true)
	if b.cancel != nil {
		b.cancel()
	}
	// 调度器停止时会等待运行中的任务，因此不能持有 mu
	if b.scheduler != nil {
		b.scheduler.Stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scheduler != nil {
		b.scheduler.Clear()
	}
	b.logger.Info("机器人已停止", zap.Stringer("phase", b.state.Phase))
}

// wakeup 是每日唤醒任务：读取日历，开市时安排开盘任务。
func (b *Bot) wakeup() {
	if b.stopped.Load() {
		return
	}
	ctx := b.runCtx
	open, err := b.PrepareDay(ctx)
	if err != nil {
		b.logger.Error("读取交易日历失败，等待下一次唤醒", zap.Error(err))
		return
	}
	if !open {
		return
	}

	snap := b.Snapshot()
	if !b.clock.Now().Before(snap.OpenAt) {
		b.openAndRun()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeJob(tagOpen)
	_, err = b.scheduler.Every(1).Day().StartAt(snap.OpenAt).LimitRunsTo(1).Tag(tagOpen).Do(b.openAndRun)
	if err != nil {
		b.logger.Error("安排开盘任务失败", zap.Error(err))
		return
	}
	b.logger.Info("已安排开盘任务", zap.Time("open", snap.OpenAt))
}

// openAndRun 执行开盘流程，并注册 tick 和收盘任务
func (b *Bot) openAndRun() {
	if b.stopped.Load() {
		return
	}
	ctx := b.runCtx
	if err := b.OpenSession(ctx); err != nil {
		if errors.Is(err, ErrSessionUnavailable) {
			b.logger.Error("开盘失败，今日不交易", zap.Error(err))
		} else {
			b.logger.Warn("跳过开盘", zap.Error(err))
		}
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Phase != models.TradingNormal {
		return
	}
	_, err := b.scheduler.Every(b.cfg.TickInterval()).SingletonMode().Tag(tagTick).Do(b.Tick, ctx)
	if err != nil {
		b.fail(fmt.Errorf("scheduling tick: %w", err))
		return
	}
	_, err = b.scheduler.Every(1).Day().StartAt(b.state.CloseAt).LimitRunsTo(1).Tag(tagClose).Do(b.CloseSession, ctx)
	if err != nil {
		b.logger.Warn("安排收盘任务失败，由 tick 负责收盘", zap.Error(err))
	}
}

// removeJob 移除指定标签的任务。必须在持有 mu 的情况下调用。
func (b *Bot) removeJob(tag string) {
	if b.scheduler == nil {
		return
	}
	if err := b.scheduler.RemoveByTag(tag); err != nil && !errors.Is(err, gocron.ErrJobNotFoundWithTag) {
		b.logger.Debug("移除任务失败", zap.String("tag", tag), zap.Error(err))
	}
}
