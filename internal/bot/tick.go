package bot

import (
	"context"
	"time"

	"paragon-bot-go/internal/indicators"
	"paragon-bot-go/internal/models"
	"paragon-bot-go/internal/strategy"

	"go.uber.org/zap"
)

const (
	reasonDivorce    = "divorce"
	reasonMaxLoss    = "max_loss"
	reasonSessionEnd = "session_end"
)

// Tick 执行一次交易循环。已有 tick 在执行时直接跳过。
func (b *Bot) Tick(ctx context.Context) {
	if !b.inFlight.CompareAndSwap(false, true) {
		b.logger.Warn("上一个 tick 尚未完成，跳过本次 tick")
		return
	}
	defer b.inFlight.Store(false)

	if b.stopped.Load() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped.Load() {
		return
	}
	b.tickLocked(ctx)
}

func (b *Bot) tickLocked(ctx context.Context) {
	switch b.state.Phase {
	case models.TradingNormal, models.TradingHold, models.LiquidatingPhase:
	default:
		return
	}

	now := b.clock.Now().In(b.loc)
	if !now.Before(b.state.CloseAt) {
		b.closeSessionLocked(ctx)
		return
	}

	if b.state.Readiness == models.Liquidating {
		// 上次平仓未完成的部分在后续 tick 中重试
		if !b.ledger.IsFlat() {
			if err := b.liquidateLocked(ctx, b.state.HaltReason); err != nil {
				b.fail(err)
				return
			}
		}
		b.recordQuotesOnly(ctx)
		return
	}

	if b.riskBreached() {
		b.logger.Warn("当日亏损超过上限，开始强制平仓",
			zap.Stringer("net_realized_gain", b.ledger.NetRealizedGain()),
			zap.Stringer("total_account_value", b.state.TotalAccountValue))
		if err := b.liquidateLocked(ctx, reasonMaxLoss); err != nil {
			b.fail(err)
			return
		}
		b.closeSessionLocked(ctx)
		return
	}

	if err := b.windDownLocked(ctx, now); err != nil {
		b.fail(err)
		return
	}
	if b.state.Readiness == models.Halted || b.state.Readiness == models.Liquidating {
		b.recordQuotesOnly(ctx)
		return
	}

	if symbols, err := b.broker.GetWatchlist(ctx); err != nil {
		b.logger.Warn("刷新观察列表失败，沿用当前列表", zap.Error(err))
	} else if n := b.state.addSymbols(symbols); n > 0 {
		b.logger.Info("观察列表新增股票", zap.Int("added", n), zap.Strings("active", b.state.ActiveSymbols))
	}

	quotes, err := b.broker.GetQuotes(ctx, b.state.ActiveSymbols)
	if err != nil {
		b.logger.Warn("获取报价失败，本 tick 记录空快照", zap.Error(err))
		quotes = nil
	}

	for _, symbol := range b.state.ActiveSymbols {
		var q *models.Quote
		if quote, ok := quotes[symbol]; ok && quote.Last > 0 {
			q = &quote
		}
		if err := b.processSymbol(ctx, symbol, q); err != nil {
			b.fail(err)
			return
		}
	}
}

// riskBreached 报告已实现亏损是否超过 total * maxLossFraction
func (b *Bot) riskBreached() bool {
	limit := b.state.TotalAccountValue.MulFraction(b.cfg.Strategy.MaxLossFraction)
	return b.ledger.NetRealizedGain() < -limit
}

// windDownLocked 处理收盘前的时间转换。
// 收盘前 HoldLead：空仓则停止交易，否则只允许卖出；只允许卖出且已空仓时停止交易。
// 收盘前 LiquidateLead：强制平仓。
func (b *Bot) windDownLocked(ctx context.Context, now time.Time) error {
	holdAt := b.state.CloseAt.Add(-b.cfg.HoldLead())
	liquidateAt := b.state.CloseAt.Add(-b.cfg.LiquidateLead())

	if !now.Before(liquidateAt) {
		switch b.state.Readiness {
		case models.Liquidating, models.Halted:
			return nil
		}
		b.logger.Info("临近收盘，强制平仓", zap.Time("close", b.state.CloseAt))
		return b.liquidateLocked(ctx, reasonSessionEnd)
	}

	if !now.Before(holdAt) {
		flat := b.ledger.IsFlat()
		switch {
		case b.state.Readiness == models.Normal && flat:
			b.setReadiness(models.Halted, models.TradingHold)
		case b.state.Readiness == models.Normal:
			b.setReadiness(models.HoldNoNewBuys, models.TradingHold)
		case b.state.Readiness == models.HoldNoNewBuys && flat:
			b.setReadiness(models.Halted, models.TradingHold)
		}
	}
	return nil
}

func (b *Bot) setReadiness(r models.Readiness, p models.Phase) {
	if b.state.Readiness == r && b.state.Phase == p {
		return
	}
	b.logger.Info("状态转换",
		zap.Stringer("from_readiness", b.state.Readiness),
		zap.Stringer("to_readiness", r),
		zap.Stringer("phase", p))
	b.state.Readiness = r
	b.state.Phase = p
}

// recordQuotesOnly 在停止交易或平仓期间只记录报价和止损价，使导出的序列没有空档
func (b *Bot) recordQuotesOnly(ctx context.Context) {
	quotes, err := b.broker.GetQuotes(ctx, b.state.ActiveSymbols)
	if err != nil {
		b.logger.Warn("获取报价失败，本 tick 记录空快照", zap.Error(err))
		quotes = nil
	}
	for _, symbol := range b.state.ActiveSymbols {
		rec := b.newRecord(ctx, symbol)
		if q, ok := quotes[symbol]; ok && q.Last > 0 {
			last := q.Last
			rec.Quote = &last
			b.state.LastQuote[symbol] = last
		}
		if pos, ok := b.ledger.Position(symbol); ok {
			rec.LowerBound = &pos.LowerBound
		}
		b.record(ctx, rec)
	}
}

func (b *Bot) newRecord(ctx context.Context, symbol string) models.TickRecord {
	return models.TickRecord{
		Symbol:        symbol,
		Date:          b.state.Date,
		Seq:           b.nextSeq(ctx, symbol),
		Time:          b.clock.Now(),
		DivorceBuffer: b.state.Buffers[symbol],
	}
}

// nextSeq 返回股票的下一个 tick 序号。当日首次使用时从存储中恢复，
// 使盘中重启的进程接着已有记录继续写入而不是覆盖。
func (b *Bot) nextSeq(ctx context.Context, symbol string) int {
	if !b.state.hasSeq(symbol) {
		next, err := b.recorder.NextSeq(ctx, symbol, b.state.Date)
		if err != nil {
			b.logger.Warn("读取已有 tick 序号失败，从 0 开始", zap.String("symbol", symbol), zap.Error(err))
			next = 0
		}
		if next > 0 {
			b.logger.Info("接续当日已有 tick 记录", zap.String("symbol", symbol), zap.Int("seq", next))
		}
		b.state.seedSeq(symbol, next)
	}
	return b.state.nextSeq(symbol)
}

// processSymbol 对单只股票执行一次决策。只有账本不变量被破坏时返回错误。
func (b *Bot) processSymbol(ctx context.Context, symbol string, q *models.Quote) error {
	rec := b.newRecord(ctx, symbol)
	defer func() { b.record(ctx, rec) }()

	if q == nil {
		b.logger.Debug("无报价", zap.String("symbol", symbol))
		if pos, ok := b.ledger.Position(symbol); ok {
			rec.LowerBound = &pos.LowerBound
		}
		return nil
	}

	last := q.Last
	rec.Quote = &last
	b.state.LastQuote[symbol] = last
	b.state.History[symbol] = append(b.state.History[symbol], last)
	if _, ok := b.state.Buffers[symbol]; !ok {
		buffer := b.divorce.Buffer(q.Low, q.High)
		b.state.Buffers[symbol] = buffer
		rec.DivorceBuffer = buffer
		b.logger.Debug("计算 divorce buffer",
			zap.String("symbol", symbol),
			zap.Stringer("low", q.Low),
			zap.Stringer("high", q.High),
			zap.Stringer("buffer", buffer))
	}

	snap, ok := indicators.Compute(b.state.History[symbol], b.params)
	if !ok {
		if pos, ok := b.ledger.Position(symbol); ok {
			rec.LowerBound = &pos.LowerBound
		}
		return nil
	}
	rec.Indicators = &snap

	if b.ledger.HasPendingBuy(symbol) {
		event, err := b.pollPendingBuy(ctx, symbol)
		if err != nil {
			return err
		}
		rec.Event = event
	}

	hasPosition := b.ledger.HasPosition(symbol)
	switch {
	case b.state.Readiness.AllowsBuys() && !hasPosition && !b.ledger.HasPendingBuy(symbol):
		if strategy.DetermineBuy(last, &snap, b.cfg.Strategy.RSICutoff) {
			placed, err := b.placeBuy(ctx, symbol, last)
			if err != nil {
				return err
			}
			if placed {
				rec.Event = models.EventBuyPlaced
			}
		}
	case hasPosition && b.state.Readiness.AllowsSells():
		pos, _ := b.ledger.Position(symbol)
		sell, bound := strategy.DetermineSell(last, pos)
		if sell {
			sold, err := b.sellPosition(ctx, pos, last, reasonDivorce)
			if err != nil {
				return err
			}
			if sold {
				rec.Event = models.EventSold
			}
		} else if err := b.ledger.UpdateLowerBound(symbol, bound); err != nil {
			return err
		}
	}

	if pos, ok := b.ledger.Position(symbol); ok {
		rec.LowerBound = &pos.LowerBound
	}
	return nil
}

// pollPendingBuy 查询买单状态。完全成交时建仓，取消、拒绝或过期时释放资金。
// 查询失败只记录日志，下个 tick 重试。
func (b *Bot) pollPendingBuy(ctx context.Context, symbol string) (models.TickEvent, error) {
	pb, _ := b.ledger.PendingBuy(symbol)
	status, err := b.broker.GetOrderStatus(ctx, pb.OrderID)
	if err != nil {
		b.logger.Warn("查询买单状态失败", zap.String("symbol", symbol), zap.String("order_id", pb.OrderID), zap.Error(err))
		return models.EventNone, nil
	}

	switch status.State {
	case models.OrderFilled:
		price := status.AvgFillPrice
		if price <= 0 {
			price = pb.RequestedPrice
		}
		shares := status.FilledQuantity
		if shares <= 0 {
			shares = pb.RequestedShares
		}
		if _, err := b.ledger.ConfirmFill(symbol, shares, price, b.state.Buffers[symbol], b.clock.Now()); err != nil {
			return models.EventNone, err
		}
		return models.EventBuyFilled, nil
	case models.OrderCanceled, models.OrderRejected, models.OrderExpired:
		if status.FilledQuantity > 0 {
			// 部分成交后结束的买单：已成交的股数建仓，未成交部分释放资金
			price := status.AvgFillPrice
			if price <= 0 {
				price = pb.RequestedPrice
			}
			if _, err := b.ledger.ConfirmFill(symbol, status.FilledQuantity, price, b.state.Buffers[symbol], b.clock.Now()); err != nil {
				return models.EventNone, err
			}
			b.logger.Warn("买单部分成交后结束",
				zap.String("symbol", symbol),
				zap.String("order_id", pb.OrderID),
				zap.String("state", string(status.State)),
				zap.Int("filled", status.FilledQuantity),
				zap.Int("requested", pb.RequestedShares))
			return models.EventBuyFilled, nil
		}
		if _, err := b.ledger.DropPendingBuy(symbol); err != nil {
			return models.EventNone, err
		}
		b.logger.Info("买单未成交，已释放资金",
			zap.String("symbol", symbol),
			zap.String("order_id", pb.OrderID),
			zap.String("state", string(status.State)))
		return models.EventBuyDropped, nil
	default:
		return models.EventNone, nil
	}
}

// placeBuy 按分配算法计算股数并以当前报价挂限价买单。下单失败时账本保持不变。
func (b *Bot) placeBuy(ctx context.Context, symbol string, quote models.Cents) (bool, error) {
	shares := b.alloc.ShareCount(b.state.TotalAccountValue, b.ledger.CapitalRemaining(), quote)
	if shares <= 0 {
		b.logger.Debug("买入信号但资金不足", zap.String("symbol", symbol), zap.Stringer("capital_remaining", b.ledger.CapitalRemaining()))
		return false, nil
	}

	order, err := b.broker.PlaceLimitOrder(ctx, symbol, models.Buy, shares, quote)
	if err != nil {
		b.logger.Warn("买单提交失败", zap.String("symbol", symbol), zap.Int("shares", shares), zap.Error(err))
		return false, nil
	}

	err = b.ledger.OpenPendingBuy(models.PendingBuy{
		Symbol:          symbol,
		OrderID:         order.ID,
		RequestedShares: shares,
		RequestedPrice:  quote,
		PlacedAt:        b.clock.Now(),
	})
	if err != nil {
		return false, err
	}
	b.logger.Info("买入信号，已挂单",
		zap.String("symbol", symbol),
		zap.String("order_id", order.ID),
		zap.Int("shares", shares),
		zap.Stringer("price", quote))
	return true, nil
}

// sellPosition 以市价卖出持仓，并按 quote 计算已实现盈亏。下单失败时持仓保留。
func (b *Bot) sellPosition(ctx context.Context, pos models.Position, quote models.Cents, reason string) (bool, error) {
	if _, err := b.broker.PlaceMarketOrder(ctx, pos.Symbol, models.Sell, pos.Shares); err != nil {
		b.logger.Warn("卖单提交失败", zap.String("symbol", pos.Symbol), zap.Int("shares", pos.Shares), zap.Error(err))
		return false, nil
	}
	if _, err := b.ledger.ClosePosition(pos.Symbol, quote, reason, b.clock.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// liquidateLocked 撤销所有买单并市价卖出所有持仓。查询到已成交的买单先建仓再卖出。
// 单个操作失败只记录日志，后续 tick 重试。
func (b *Bot) liquidateLocked(ctx context.Context, reason string) error {
	if b.state.Readiness != models.Liquidating {
		b.state.HaltReason = reason
	}
	b.setReadiness(models.Liquidating, models.LiquidatingPhase)

	for _, pb := range b.ledger.AllPendingBuys() {
		if _, err := b.pollPendingBuy(ctx, pb.Symbol); err != nil {
			return err
		}
		if !b.ledger.HasPendingBuy(pb.Symbol) {
			continue
		}
		if err := b.broker.CancelOrder(ctx, pb.OrderID); err != nil {
			b.logger.Warn("撤销买单失败", zap.String("symbol", pb.Symbol), zap.String("order_id", pb.OrderID), zap.Error(err))
			continue
		}
		// 撤单前可能已部分成交，再查询一次，已成交的股数建仓后在下面卖出
		if _, err := b.pollPendingBuy(ctx, pb.Symbol); err != nil {
			return err
		}
		if !b.ledger.HasPendingBuy(pb.Symbol) {
			continue
		}
		if _, err := b.ledger.DropPendingBuy(pb.Symbol); err != nil {
			return err
		}
		b.logger.Warn("撤单已确认但订单状态未更新，按未成交处理", zap.String("symbol", pb.Symbol), zap.String("order_id", pb.OrderID))
	}

	for _, pos := range b.ledger.AllOpenPositions() {
		quote, ok := b.state.LastQuote[pos.Symbol]
		if !ok {
			quote = pos.PurchasePrice
		}
		if _, err := b.sellPosition(ctx, pos, quote, reason); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) record(ctx context.Context, rec models.TickRecord) {
	if err := b.recorder.RecordTick(ctx, rec); err != nil {
		b.logger.Warn("保存 tick 记录失败", zap.String("symbol", rec.Symbol), zap.Int("seq", rec.Seq), zap.Error(err))
	}
}
