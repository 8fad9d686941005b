package reporter

import (
	"fmt"
	"io"
	"math"

	"paragon-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 汇总多个交易日的表现
type Metrics struct {
	Days             int
	StartDate        string
	EndDate          string
	InitialEquity    models.Cents
	FinalEquity      models.Cents
	TotalGain        models.Cents
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64 // 平均盈利 / 平均亏损
	MaxDrawdown      float64 // 百分比
	LeftOpen         int     // 收盘时未能平仓的持仓数
	HaltedDays       int     // 触发强制平仓的交易日数
}

// CalculateMetrics 按日期顺序计算汇总指标。每日收盘权益按开盘权益加当日已实现盈亏估算。
func CalculateMetrics(summaries []models.DaySummary) Metrics {
	m := Metrics{Days: len(summaries)}
	if len(summaries) == 0 {
		return m
	}
	m.StartDate = summaries[0].Date
	m.EndDate = summaries[len(summaries)-1].Date
	m.InitialEquity = summaries[0].TotalAccountValue

	curve := make([]float64, 0, len(summaries)+1)
	curve = append(curve, m.InitialEquity.Dollars())

	var totalProfit, totalLoss models.Cents
	for _, s := range summaries {
		m.TotalGain += s.NetRealizedGain
		m.LeftOpen += len(s.LeftOpen)
		if s.HaltReason != "" {
			m.HaltedDays++
		}
		for _, t := range s.Trades {
			m.TotalTrades++
			if t.Gain > 0 {
				m.WinningTrades++
				totalProfit += t.Gain
			} else {
				m.LosingTrades++
				totalLoss += t.Gain
			}
		}
		curve = append(curve, (s.TotalAccountValue + s.NetRealizedGain).Dollars())
	}

	last := summaries[len(summaries)-1]
	m.FinalEquity = last.TotalAccountValue + last.NetRealizedGain
	if m.InitialEquity != 0 {
		m.ProfitPercentage = float64(m.FinalEquity-m.InitialEquity) / float64(m.InitialEquity) * 100
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.WinningTrades > 0 && m.LosingTrades > 0 && totalLoss != 0 {
		avgWin := totalProfit.Dollars() / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss.Dollars() / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}
	m.MaxDrawdown = calculateMaxDrawdown(curve) * 100
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// RenderReport 以表格形式输出回测结果报告
func RenderReport(w io.Writer, m Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("回测结果报告")
	t.AppendRows([]table.Row{
		{"回测周期", fmt.Sprintf("%s 到 %s (%d 个交易日)", m.StartDate, m.EndDate, m.Days)},
		{"初始权益", m.InitialEquity.String()},
		{"最终权益", m.FinalEquity.String()},
		{"总盈亏", m.TotalGain.String()},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总交易次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"强制平仓天数", m.HaltedDays},
		{"收盘未平仓", m.LeftOpen},
	})
	t.Render()
}

// RenderDaySummary 输出单个交易日的汇总和成交明细
func RenderDaySummary(w io.Writer, s models.DaySummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s 交易汇总", s.Date))
	t.AppendHeader(table.Row{"Symbol", "Shares", "Buy", "Sell", "Gain", "Opened", "Closed", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	for _, tr := range s.Trades {
		t.AppendRow(table.Row{
			tr.Symbol,
			tr.Shares,
			tr.BuyPrice.String(),
			tr.SellPrice.String(),
			tr.Gain.String(),
			tr.OpenedAt.Format(timeLayout),
			tr.ClosedAt.Format(timeLayout),
			tr.Reason,
		})
	}
	for _, p := range s.LeftOpen {
		t.AppendRow(table.Row{p.Symbol, p.Shares, p.PurchasePrice.String(), "-", "-", p.OpenedAt.Format(timeLayout), "-", "left_open"})
	}
	t.AppendFooter(table.Row{"", "", "", "Net", s.NetRealizedGain.String(), "", "", s.HaltReason})
	t.Render()

	fmt.Fprintf(w, "总权益 %s  交易资金 %s  剩余资金 %s  股票 %d\n",
		s.TotalAccountValue, s.TradingCapital, s.CapitalRemaining, len(s.Symbols))
}
