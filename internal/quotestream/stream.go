// Package quotestream keeps a cache of last-trade prices fed by the broker's
// websocket market-events stream.
package quotestream

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"paragon-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	reconnectDelay = 5 * time.Second
)

// SessionSource creates the session id the stream endpoint requires.
type SessionSource interface {
	CreateStreamSession(ctx context.Context) (string, error)
}

// Stream 维护到行情 WebSocket 的连接、断线重连以及最新成交价缓存。
type Stream struct {
	url      string
	sessions SessionSource
	logger   *zap.Logger

	mu      sync.RWMutex
	symbols []string
	latest  map[string]models.Quote

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	now func() time.Time
}

// New 创建一个尚未连接的 Stream
func New(url string, sessions SessionSource, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		url:      url,
		sessions: sessions,
		logger:   logger,
		latest:   make(map[string]models.Quote),
		now:      time.Now,
	}
}

// Subscribe 替换订阅的股票集合。已连接时立即重新发送订阅消息。
func (s *Stream) Subscribe(symbols []string) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	s.mu.Lock()
	same := strings.Join(sorted, ",") == strings.Join(s.symbols, ",")
	s.symbols = sorted
	s.mu.Unlock()
	if same {
		return
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		// 订阅消息需要新的 session id
		if err := s.sendSubscription(context.Background(), conn); err != nil {
			s.logger.Warn("重新订阅失败，等待重连", zap.Error(err))
			conn.Close()
		}
	}
}

// Latest 返回某只股票最近一次成交的报价
func (s *Stream) Latest(symbol string) (models.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.latest[symbol]
	return q, ok
}

// Seed 以 REST 报价初始化缓存，使当日高低点包含订阅前的成交
func (s *Stream) Seed(q models.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.latest[q.Symbol]; ok {
		if cur.Low < q.Low {
			q.Low = cur.Low
		}
		if cur.High > q.High {
			q.High = cur.High
		}
		if cur.Time.After(q.Time) {
			q.Last, q.Time = cur.Last, cur.Time
		}
	}
	s.latest[q.Symbol] = q
}

// Reset 清空缓存，在每个交易日收盘时调用
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = make(map[string]models.Quote)
}

// Run 是一个守护循环，负责维持连接和重连，直到 ctx 被取消。
func (s *Stream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.logger.Info("行情流已停止")
			return
		}
		if err := s.connect(ctx); err != nil {
			s.logger.Warn("行情流连接失败，稍后重试", zap.Error(err), zap.Duration("delay", reconnectDelay))
		} else {
			s.logger.Info("行情流连接成功")
			if err := s.handleMessages(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("行情流处理出错", zap.Error(err))
			}
			s.closeConn()
		}
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Stream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.url, err)
	}
	if err := s.sendSubscription(ctx, conn); err != nil {
		conn.Close()
		return err
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

func (s *Stream) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

type subscription struct {
	Symbols   []string `json:"symbols"`
	SessionID string   `json:"sessionid"`
	Filter    []string `json:"filter"`
	Linebreak bool     `json:"linebreak"`
}

func (s *Stream) sendSubscription(ctx context.Context, conn *websocket.Conn) error {
	s.mu.RLock()
	symbols := append([]string(nil), s.symbols...)
	s.mu.RUnlock()
	if len(symbols) == 0 {
		return nil
	}

	session, err := s.sessions.CreateStreamSession(ctx)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(subscription{
		Symbols:   symbols,
		SessionID: session,
		Filter:    []string{"trade"},
		Linebreak: true,
	})
}

// handleMessages 读取消息直到连接断开，并用 Ping 维持心跳
func (s *Stream) handleMessages(ctx context.Context) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				s.writeMu.Unlock()
				if err != nil {
					s.logger.Debug("发送Ping失败", zap.Error(err))
					return
				}
			case <-ctx.Done():
				s.writeMu.Lock()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				s.writeMu.Unlock()
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取消息失败: %w", err)
		}
		// 开启 linebreak 后一帧可能包含多条事件
		for _, line := range strings.Split(string(message), "\n") {
			if strings.TrimSpace(line) != "" {
				s.handleEvent(line)
			}
		}
	}
}

func (s *Stream) handleEvent(line string) {
	if !gjson.Valid(line) {
		s.logger.Debug("忽略无法解析的行情消息", zap.String("raw", line))
		return
	}
	ev := gjson.Parse(line)
	if ev.Get("type").String() != "trade" {
		return
	}
	symbol := ev.Get("symbol").String()
	price, err := models.ParseCents(ev.Get("price").String())
	if symbol == "" || err != nil || price <= 0 {
		return
	}
	at := s.now()
	if ms := ev.Get("date").Int(); ms > 0 {
		at = time.UnixMilli(ms)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.latest[symbol]
	if !ok {
		q = models.Quote{Symbol: symbol, Low: price, High: price}
	}
	q.Last = price
	q.Time = at
	if price < q.Low || q.Low == 0 {
		q.Low = price
	}
	if price > q.High {
		q.High = price
	}
	s.latest[symbol] = q
}
