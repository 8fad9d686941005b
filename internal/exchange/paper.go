package exchange

import (
	"context"

	"paragon-bot-go/internal/models"
)

// PaperBroker 从真实经纪商读取行情、观察列表和日历，订单由 SimulatedBroker 撮合。
type PaperBroker struct {
	source Broker
	*SimulatedBroker
}

// NewPaperBroker 组合行情来源和模拟撮合
func NewPaperBroker(source Broker, sim *SimulatedBroker) *PaperBroker {
	return &PaperBroker{source: source, SimulatedBroker: sim}
}

// GetQuotes 从行情来源读取报价，并同步到模拟撮合以触发限价单成交。
func (p *PaperBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	quotes, err := p.source.GetQuotes(ctx, symbols)
	if err != nil {
		return nil, err
	}
	for _, q := range quotes {
		p.SimulatedBroker.SetQuote(q)
	}
	return quotes, nil
}

func (p *PaperBroker) GetWatchlist(ctx context.Context) ([]string, error) {
	return p.source.GetWatchlist(ctx)
}

func (p *PaperBroker) GetMarketCalendar(ctx context.Context, year int, month int) ([]models.CalendarDay, error) {
	return p.source.GetMarketCalendar(ctx, year, month)
}
