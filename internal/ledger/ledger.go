package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"paragon-bot-go/internal/models"

	"go.uber.org/zap"
)

// ErrInvariantViolation is returned when a mutation would leave the ledger
// inconsistent. Callers must treat it as fatal for the trading day.
var ErrInvariantViolation = errors.New("ledger invariant violation")

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// Ledger tracks open positions, pending buy orders, the day's capital budget
// and realized gain. A symbol never holds a Position and a PendingBuy at the
// same time.
type Ledger struct {
	mu sync.Mutex

	positions   map[string]*models.Position
	pendingBuys map[string]*models.PendingBuy
	trades      []models.CompletedTrade

	tradingCapital   models.Cents
	capitalRemaining models.Cents
	netRealizedGain  models.Cents

	logger *zap.Logger
}

// New creates an empty ledger.
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		positions:   make(map[string]*models.Position),
		pendingBuys: make(map[string]*models.PendingBuy),
		logger:      logger,
	}
}

// Reset clears all day state and installs a fresh trading-capital budget.
func (l *Ledger) Reset(tradingCapital models.Cents) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]*models.Position)
	l.pendingBuys = make(map[string]*models.PendingBuy)
	l.trades = nil
	l.tradingCapital = tradingCapital
	l.capitalRemaining = tradingCapital
	l.netRealizedGain = 0
}

// OpenPendingBuy records a placed buy order and reserves its estimated cost.
func (l *Ledger) OpenPendingBuy(pb models.PendingBuy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pb.RequestedShares <= 0 {
		return violation("pending buy for %s with %d shares", pb.Symbol, pb.RequestedShares)
	}
	if _, ok := l.positions[pb.Symbol]; ok {
		return violation("pending buy for %s while a position is open", pb.Symbol)
	}
	if _, ok := l.pendingBuys[pb.Symbol]; ok {
		return violation("second pending buy for %s", pb.Symbol)
	}
	cost := pb.Cost()
	if cost > l.capitalRemaining {
		return violation("pending buy for %s costs %s, only %s remaining", pb.Symbol, cost, l.capitalRemaining)
	}

	l.capitalRemaining -= cost
	p := pb
	l.pendingBuys[pb.Symbol] = &p
	l.logger.Debug("Pending buy recorded",
		zap.String("symbol", pb.Symbol),
		zap.String("order_id", pb.OrderID),
		zap.Int("shares", pb.RequestedShares),
		zap.Stringer("price", pb.RequestedPrice),
		zap.Stringer("capital_remaining", l.capitalRemaining))
	return nil
}

// ConfirmFill turns the symbol's pending buy into a Position. The trailing
// lower bound starts one divorce buffer below the fill price.
func (l *Ledger) ConfirmFill(symbol string, filledShares int, filledPrice, divorceBuffer models.Cents, at time.Time) (models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pb, ok := l.pendingBuys[symbol]
	if !ok {
		return models.Position{}, violation("fill for %s without a pending buy", symbol)
	}
	if _, ok := l.positions[symbol]; ok {
		return models.Position{}, violation("fill for %s while a position is open", symbol)
	}
	if filledShares <= 0 || filledShares > pb.RequestedShares {
		return models.Position{}, violation("fill for %s with %d of %d shares", symbol, filledShares, pb.RequestedShares)
	}
	// An order that ended partly filled gives back the reservation of the shares it never bought.
	if unfilled := pb.RequestedShares - filledShares; unfilled > 0 {
		l.capitalRemaining += pb.RequestedPrice * models.Cents(unfilled)
	}

	pos := &models.Position{
		Symbol:        symbol,
		PurchasePrice: filledPrice,
		Shares:        filledShares,
		LowerBound:    filledPrice - divorceBuffer,
		DivorceBuffer: divorceBuffer,
		OpenedAt:      at,
	}
	delete(l.pendingBuys, symbol)
	l.positions[symbol] = pos

	l.logger.Info("Buy filled",
		zap.String("symbol", symbol),
		zap.String("order_id", pb.OrderID),
		zap.Int("shares", filledShares),
		zap.Stringer("price", filledPrice),
		zap.Stringer("lower_bound", pos.LowerBound))
	return *pos, nil
}

// DropPendingBuy removes a canceled or rejected buy and refunds its reserved cost.
func (l *Ledger) DropPendingBuy(symbol string) (models.PendingBuy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pb, ok := l.pendingBuys[symbol]
	if !ok {
		return models.PendingBuy{}, violation("drop of unknown pending buy for %s", symbol)
	}
	delete(l.pendingBuys, symbol)
	l.capitalRemaining += pb.Cost()
	return *pb, nil
}

// UpdateLowerBound writes back a raised trailing bound. Lower values are ignored.
func (l *Ledger) UpdateLowerBound(symbol string, bound models.Cents) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return violation("bound update for %s without a position", symbol)
	}
	if bound > pos.LowerBound {
		pos.LowerBound = bound
	}
	return nil
}

// ClosePosition removes the symbol's position and books (sellPrice - purchasePrice) * shares
// into the day's realized gain.
func (l *Ledger) ClosePosition(symbol string, sellPrice models.Cents, reason string, at time.Time) (models.CompletedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return models.CompletedTrade{}, violation("close of %s without a position", symbol)
	}
	delete(l.positions, symbol)

	gain := (sellPrice - pos.PurchasePrice) * models.Cents(pos.Shares)
	l.netRealizedGain += gain
	trade := models.CompletedTrade{
		Symbol:    symbol,
		Shares:    pos.Shares,
		BuyPrice:  pos.PurchasePrice,
		SellPrice: sellPrice,
		Gain:      gain,
		OpenedAt:  pos.OpenedAt,
		ClosedAt:  at,
		Reason:    reason,
	}
	l.trades = append(l.trades, trade)

	l.logger.Info("Position closed",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.Stringer("sell_price", sellPrice),
		zap.Stringer("gain", gain),
		zap.Stringer("net_realized_gain", l.netRealizedGain))
	return trade, nil
}

func (l *Ledger) HasPosition(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[symbol]
	return ok
}

func (l *Ledger) HasPendingBuy(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pendingBuys[symbol]
	return ok
}

// Position returns a copy of the symbol's open position.
func (l *Ledger) Position(symbol string) (models.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// PendingBuy returns a copy of the symbol's pending buy.
func (l *Ledger) PendingBuy(symbol string) (models.PendingBuy, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pb, ok := l.pendingBuys[symbol]
	if !ok {
		return models.PendingBuy{}, false
	}
	return *pb, true
}

// AllOpenPositions returns copies of the open positions ordered by symbol.
func (l *Ledger) AllOpenPositions() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// AllPendingBuys returns copies of the pending buys ordered by symbol.
func (l *Ledger) AllPendingBuys() []models.PendingBuy {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.PendingBuy, 0, len(l.pendingBuys))
	for _, p := range l.pendingBuys {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// IsFlat reports whether no positions and no pending buys remain.
func (l *Ledger) IsFlat() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions) == 0 && len(l.pendingBuys) == 0
}

func (l *Ledger) CapitalRemaining() models.Cents {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capitalRemaining
}

func (l *Ledger) TradingCapital() models.Cents {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tradingCapital
}

func (l *Ledger) NetRealizedGain() models.Cents {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.netRealizedGain
}

// Trades returns a copy of the trades completed today.
func (l *Ledger) Trades() []models.CompletedTrade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.CompletedTrade, len(l.trades))
	copy(out, l.trades)
	return out
}
