package bot

import (
	"time"

	"paragon-bot-go/internal/models"
)

// Clock 提供当前时间。回测和测试中使用可控制的时钟。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SessionState 是交易日状态，由会话状态机独占，开盘时初始化，收盘时清空。
type SessionState struct {
	Phase     models.Phase
	Readiness models.Readiness

	Date    string
	OpenAt  time.Time
	CloseAt time.Time

	TotalAccountValue models.Cents
	HaltReason        string

	// 按加入顺序排列的活跃股票，盘中只增不减
	ActiveSymbols []string
	active        map[string]struct{}

	History   map[string][]models.Cents
	Buffers   map[string]models.Cents
	LastQuote map[string]models.Cents
	seq       map[string]int
}

func newSessionState() SessionState {
	return SessionState{
		Phase:     models.AwaitingSessionDate,
		Readiness: models.Normal,
		active:    make(map[string]struct{}),
		History:   make(map[string][]models.Cents),
		Buffers:   make(map[string]models.Cents),
		LastQuote: make(map[string]models.Cents),
		seq:       make(map[string]int),
	}
}

// addSymbols 追加新出现的股票，返回新增数量
func (s *SessionState) addSymbols(symbols []string) int {
	added := 0
	for _, sym := range symbols {
		if _, ok := s.active[sym]; ok || sym == "" {
			continue
		}
		s.active[sym] = struct{}{}
		s.ActiveSymbols = append(s.ActiveSymbols, sym)
		added++
	}
	return added
}

func (s *SessionState) hasSeq(symbol string) bool {
	_, ok := s.seq[symbol]
	return ok
}

func (s *SessionState) seedSeq(symbol string, next int) {
	s.seq[symbol] = next
}

func (s *SessionState) nextSeq(symbol string) int {
	n := s.seq[symbol]
	s.seq[symbol] = n + 1
	return n
}

// Snapshot 是会话状态的只读副本
type Snapshot struct {
	Phase             models.Phase
	Readiness         models.Readiness
	Date              string
	OpenAt            time.Time
	CloseAt           time.Time
	TotalAccountValue models.Cents
	TradingCapital    models.Cents
	CapitalRemaining  models.Cents
	NetRealizedGain   models.Cents
	ActiveSymbols     []string
	Positions         []models.Position
	PendingBuys       []models.PendingBuy
	HaltReason        string
}
