package quotestream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paragon-bot-go/internal/exchange"
	"paragon-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedSession string

func (f fixedSession) CreateStreamSession(context.Context) (string, error) { return string(f), nil }

func TestStreamReceivesTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan subscription, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscription
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub
		msg := `{"type":"trade","symbol":"ABC","price":"10.05","date":"1709564400000"}` + "\n" +
			`{"type":"quote","symbol":"ABC","bid":10.0}` + "\n" +
			`{"type":"trade","symbol":"ABC","price":"9.98","date":"1709564401000"}`
		conn.WriteMessage(websocket.TextMessage, []byte(msg))
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := New("ws"+strings.TrimPrefix(srv.URL, "http"), fixedSession("sess-1"), zap.NewNop())
	s.Subscribe([]string{"ABC"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case sub := <-subs:
		assert.Equal(t, []string{"ABC"}, sub.Symbols)
		assert.Equal(t, "sess-1", sub.SessionID)
		assert.Equal(t, []string{"trade"}, sub.Filter)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		q, ok := s.Latest("ABC")
		return ok && q.Last == 998
	}, 5*time.Second, 10*time.Millisecond)

	q, _ := s.Latest("ABC")
	assert.Equal(t, models.Cents(998), q.Low)
	assert.Equal(t, models.Cents(1005), q.High)

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestOverlayFallsBackToREST(t *testing.T) {
	ctx := context.Background()
	rest := exchange.NewSimulatedBroker(0, nil, nil)
	rest.SetQuote(models.Quote{Symbol: "ABC", Last: 1000, Low: 950, High: 1020})
	rest.SetQuote(models.Quote{Symbol: "XYZ", Last: 500})

	s := New("ws://unused", fixedSession("x"), zap.NewNop())
	s.handleEvent(`{"type":"trade","symbol":"XYZ","price":"5.10"}`)

	o := NewOverlay(rest, s)
	quotes, err := o.GetQuotes(ctx, []string{"ABC", "XYZ"})
	require.NoError(t, err)

	assert.Equal(t, models.Cents(1000), quotes["ABC"].Last)
	assert.Equal(t, models.Cents(950), quotes["ABC"].Low)
	assert.Equal(t, models.Cents(510), quotes["XYZ"].Last, "streamed price wins")

	s.handleEvent(`{"type":"trade","symbol":"ABC","price":"10.30"}`)
	quotes, err = o.GetQuotes(ctx, []string{"ABC"})
	require.NoError(t, err)
	assert.Equal(t, models.Cents(1030), quotes["ABC"].Last)
	assert.Equal(t, models.Cents(1030), quotes["ABC"].High)
	assert.Equal(t, models.Cents(950), quotes["ABC"].Low)
}
