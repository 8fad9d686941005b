package quotestream

import (
	"context"

	"paragon-bot-go/internal/exchange"
	"paragon-bot-go/internal/models"
)

// Overlay 是一个 exchange.Broker，报价优先取自行情流缓存。
// 缓存中没有的股票通过 REST 获取，并用其结果初始化缓存。
type Overlay struct {
	exchange.Broker
	stream *Stream
}

func NewOverlay(broker exchange.Broker, stream *Stream) *Overlay {
	return &Overlay{Broker: broker, stream: stream}
}

func (o *Overlay) GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	o.stream.Subscribe(symbols)

	out := make(map[string]models.Quote, len(symbols))
	var missing []string
	for _, s := range symbols {
		if q, ok := o.stream.Latest(s); ok {
			out[s] = q
		} else {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := o.Broker.GetQuotes(ctx, missing)
	if err != nil {
		if len(out) > 0 {
			return out, nil
		}
		return nil, err
	}
	for s, q := range fetched {
		o.stream.Seed(q)
		out[s], _ = o.stream.Latest(s)
	}
	return out, nil
}
