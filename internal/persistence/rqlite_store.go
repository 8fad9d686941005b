package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paragon-bot-go/internal/models"

	rqlitehttp "github.com/rqlite/rqlite-go-http"
)

const (
	createTicksTableSQL = `CREATE TABLE IF NOT EXISTS ticks (
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		seq INTEGER NOT NULL,
		ts INTEGER NOT NULL,
		quote INTEGER,
		macd REAL,
		macd_signal REAL,
		bband_high REAL,
		bband_mid REAL,
		bband_low REAL,
		rsi REAL,
		lower_bound INTEGER,
		divorce_buffer INTEGER NOT NULL,
		event TEXT,
		PRIMARY KEY (symbol, date, seq)
	)`
	createDaysTableSQL = `CREATE TABLE IF NOT EXISTS days (
		date TEXT PRIMARY KEY,
		total_account_value INTEGER NOT NULL,
		net_realized_gain INTEGER NOT NULL,
		trades INTEGER NOT NULL,
		summary TEXT NOT NULL
	)`
	insertTickSQL = "INSERT INTO ticks(symbol, date, seq, ts, quote, macd, macd_signal, bband_high, bband_mid, bband_low, rsi, lower_bound, divorce_buffer, event) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	maxSeqSQL     = "SELECT MAX(seq) FROM ticks WHERE symbol=? AND date=?"
	upsertDaySQL  = "INSERT OR REPLACE INTO days(date, total_account_value, net_realized_gain, trades, summary) VALUES(?,?,?,?,?)"
)

// RqliteStore records ticks into an rqlite cluster. It is write-only; exports
// read from a local Badger store.
type RqliteStore struct {
	client *rqlitehttp.Client
}

var _ TickRecorder = (*RqliteStore)(nil)

// NewRqliteStore connects to rqlite and creates the tables if needed.
func NewRqliteStore(ctx context.Context, endpoint, user, pass string) (*RqliteStore, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}
	if user != "" {
		client.SetBasicAuth(user, pass)
	}

	s := &RqliteStore{client: client}
	if err := s.execute(ctx, "bootstrapping tables", rqlitehttp.SQLStatements{
		{SQL: createTicksTableSQL},
		{SQL: createDaysTableSQL},
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RqliteStore) execute(ctx context.Context, what string, stmts rqlitehttp.SQLStatements) error {
	resp, err := s.client.Execute(ctx, stmts, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("%s: statement %d -> %s", what, idx, errStr)
	}
	return nil
}

func (s *RqliteStore) RecordTick(ctx context.Context, rec models.TickRecord) error {
	var quote, lowerBound any
	if rec.Quote != nil {
		quote = int64(*rec.Quote)
	}
	if rec.LowerBound != nil {
		lowerBound = int64(*rec.LowerBound)
	}
	var macd, signal, high, mid, low, rsi any
	if ind := rec.Indicators; ind != nil {
		macd, signal, high, mid, low, rsi = ind.MACD, ind.Signal, ind.BBandHigh, ind.BBandMid, ind.BBandLow, ind.RSI
	}

	return s.execute(ctx, fmt.Sprintf("recording tick %s/%s/%d", rec.Symbol, rec.Date, rec.Seq), rqlitehttp.SQLStatements{
		{
			SQL: insertTickSQL,
			PositionalParams: []any{rec.Symbol, rec.Date, rec.Seq, rec.Time.Unix(), quote,
				macd, signal, high, mid, low, rsi, lowerBound, int64(rec.DivorceBuffer), string(rec.Event)},
		},
	})
}

func (s *RqliteStore) NextSeq(ctx context.Context, symbol, date string) (int, error) {
	resp, err := s.client.QuerySingle(ctx, maxSeqSQL, symbol, date)
	if err != nil {
		return 0, fmt.Errorf("reading last seq of %s/%s: %w", symbol, date, err)
	}
	if has, _, errStr := resp.HasError(); has {
		return 0, fmt.Errorf("reading last seq of %s/%s: %s", symbol, date, errStr)
	}
	results, ok := resp.Results.([]rqlitehttp.QueryResult)
	if !ok || len(results) == 0 || len(results[0].Values) == 0 || len(results[0].Values[0]) == 0 {
		return 0, nil
	}
	// MAX over no rows is NULL
	switch v := results[0].Values[0][0].(type) {
	case nil:
		return 0, nil
	case float64:
		return int(v) + 1, nil
	default:
		return 0, fmt.Errorf("unexpected max(seq) value %v (%T)", v, v)
	}
}

func (s *RqliteStore) RecordDay(ctx context.Context, summary models.DaySummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.execute(ctx, "recording day "+summary.Date, rqlitehttp.SQLStatements{
		{
			SQL: upsertDaySQL,
			PositionalParams: []any{summary.Date, int64(summary.TotalAccountValue),
				int64(summary.NetRealizedGain), len(summary.Trades), string(data)},
		},
	})
}

// Close is a no-op; the HTTP client holds no connection state.
func (s *RqliteStore) Close() error {
	return nil
}
