package persistence

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"paragon-bot-go/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cents(c models.Cents) *models.Cents { return &c }

func sampleTicks() []models.TickRecord {
	base := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	return []models.TickRecord{
		{Symbol: "ABC", Date: "2024-03-04", Seq: 0, Time: base, Quote: cents(1000)},
		{Symbol: "ABC", Date: "2024-03-04", Seq: 1, Time: base.Add(time.Minute), Quote: cents(1002),
			Indicators: &models.IndicatorSnapshot{MACD: 0.01, Signal: 0.005, BBandHigh: 10.1, BBandMid: 10, BBandLow: 9.9, RSI: 71.5},
			LowerBound: cents(990), DivorceBuffer: 12, Event: models.EventBuyFilled},
		{Symbol: "ABC", Date: "2024-03-04", Seq: 10, Time: base.Add(10 * time.Minute)},
		{Symbol: "AB", Date: "2024-03-04", Seq: 0, Time: base, Quote: cents(500)},
		{Symbol: "ABC", Date: "2024-03-05", Seq: 0, Time: base.AddDate(0, 0, 1), Quote: cents(1100)},
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	// 乱序写入，读取时应按 seq 排序
	ticks := sampleTicks()
	for _, i := range []int{2, 0, 4, 1, 3} {
		require.NoError(t, store.RecordTick(ctx, ticks[i]))
	}

	symbols, err := store.ListSeries("2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, []string{"AB", "ABC"}, symbols)

	got, err := store.Ticks("ABC", "2024-03-04")
	require.NoError(t, err)
	want := []models.TickRecord{ticks[0], ticks[1], ticks[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ticks mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, got[2].Quote, "null quote survives round trip")
}

func TestBadgerStoreDaySummary(t *testing.T) {
	ctx := context.Background()
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	missing, err := store.Day("2024-03-04")
	require.NoError(t, err)
	assert.Nil(t, missing)

	summary := models.DaySummary{
		Date:              "2024-03-04",
		TotalAccountValue: 100000,
		TradingCapital:    50000,
		NetRealizedGain:   -120,
		Symbols:           []string{"ABC"},
		Trades: []models.CompletedTrade{{
			Symbol: "ABC", Shares: 4, BuyPrice: 1000, SellPrice: 970, Gain: -120,
			OpenedAt: time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), ClosedAt: time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC),
			Reason: "divorce",
		}},
	}
	require.NoError(t, store.RecordDay(ctx, summary))

	got, err := store.Day("2024-03-04")
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(summary, *got); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestBadgerStoreReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.RecordTick(context.Background(), sampleTicks()[0]))
	require.NoError(t, store.Close())

	store, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Ticks("ABC", "2024-03-04")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBadgerStoreResumesSeqAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewBadgerStore(dir)
	require.NoError(t, err)

	next, err := store.NextSeq(ctx, "ABC", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	ticks := sampleTicks()
	for _, rec := range ticks {
		require.NoError(t, store.RecordTick(ctx, rec))
	}
	require.NoError(t, store.Close())

	store, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()

	// ABC 当日最大 seq 为 10，前缀 "AB" 不能混入 "ABC"
	next, err = store.NextSeq(ctx, "ABC", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 11, next)
	next, err = store.NextSeq(ctx, "AB", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	// 重启后从 0 重新编号会撞上已有记录
	overwrite := ticks[0]
	overwrite.Quote = cents(1)
	assert.ErrorIs(t, store.RecordTick(ctx, overwrite), ErrTickExists)

	resumed := models.TickRecord{Symbol: "ABC", Date: "2024-03-04", Seq: next, Time: ticks[2].Time.Add(time.Minute), Quote: cents(1010)}
	require.NoError(t, store.RecordTick(ctx, resumed))

	got, err := store.Ticks("ABC", "2024-03-04")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, models.Cents(1000), *got[0].Quote, "first record kept")
	assert.Equal(t, 11, got[3].Seq)
}

type rqliteStub struct {
	mu        sync.Mutex
	requests  []string
	failWith  string
	authUsers []string
	// maxSeq is returned by /db/query, nil meaning no rows
	maxSeq any
}

func (s *rqliteStub) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	user, _, _ := r.BasicAuth()

	s.mu.Lock()
	s.requests = append(s.requests, string(body))
	s.authUsers = append(s.authUsers, user)
	fail := s.failWith
	maxSeq := s.maxSeq
	s.mu.Unlock()

	result := map[string]any{"rows_affected": 1, "last_insert_id": 1}
	if r.URL.Path == "/db/query" {
		result = map[string]any{"columns": []string{"MAX(seq)"}, "types": []string{"integer"}, "values": [][]any{{maxSeq}}}
	}
	if fail != "" {
		result = map[string]any{"error": fail}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": []any{result}, "time": 0.001})
}

func TestRqliteStoreWritesTicks(t *testing.T) {
	stub := &rqliteStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	ctx := context.Background()
	store, err := NewRqliteStore(ctx, srv.URL, "bot", "secret")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordTick(ctx, sampleTicks()[1]))
	require.NoError(t, store.RecordDay(ctx, models.DaySummary{Date: "2024-03-04"}))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.requests, 3)
	assert.Contains(t, stub.requests[0], "CREATE TABLE IF NOT EXISTS ticks")
	assert.Contains(t, stub.requests[1], "INSERT INTO ticks")
	assert.NotContains(t, stub.requests[1], "REPLACE", "ticks are append-only")
	assert.Contains(t, stub.requests[1], "ABC")
	assert.Contains(t, stub.requests[2], "INSERT OR REPLACE INTO days")
	assert.Equal(t, "bot", stub.authUsers[1])
}

func TestRqliteStoreNextSeq(t *testing.T) {
	stub := &rqliteStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	ctx := context.Background()
	store, err := NewRqliteStore(ctx, srv.URL, "", "")
	require.NoError(t, err)
	defer store.Close()

	next, err := store.NextSeq(ctx, "ABC", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 0, next, "MAX over no rows")

	stub.mu.Lock()
	stub.maxSeq = 7
	stub.mu.Unlock()

	next, err = store.NextSeq(ctx, "ABC", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 8, next)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	last := stub.requests[len(stub.requests)-1]
	assert.Contains(t, last, "SELECT MAX(seq) FROM ticks")
	assert.Contains(t, last, "ABC")
}

func TestRqliteStoreSurfacesStatementErrors(t *testing.T) {
	stub := &rqliteStub{}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	ctx := context.Background()
	store, err := NewRqliteStore(ctx, srv.URL, "", "")
	require.NoError(t, err)

	stub.mu.Lock()
	stub.failWith = "table ticks has no column named quote"
	stub.mu.Unlock()

	err = store.RecordTick(ctx, sampleTicks()[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no column named quote")
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, rec := range sampleTicks() {
		require.NoError(t, m.RecordTick(ctx, rec))
	}
	symbols, _ := m.ListSeries("2024-03-04")
	assert.Equal(t, []string{"AB", "ABC"}, symbols)
	ticks, _ := m.Ticks("ABC", "2024-03-04")
	assert.Len(t, ticks, 3)

	next, err := m.NextSeq(ctx, "ABC", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 11, next)
	next, _ = m.NextSeq(ctx, "XYZ", "2024-03-04")
	assert.Equal(t, 0, next)
	assert.ErrorIs(t, m.RecordTick(ctx, sampleTicks()[1]), ErrTickExists)
	ticks, _ = m.Ticks("ABC", "2024-03-04")
	assert.Len(t, ticks, 3)

	m.FailWith(assert.AnError)
	assert.ErrorIs(t, m.RecordTick(ctx, sampleTicks()[0]), assert.AnError)
}
