package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"paragon-bot-go/internal/models"
)

// MemoryStore keeps records in memory. Used for backtests and tests.
type MemoryStore struct {
	mu    sync.Mutex
	ticks []models.TickRecord
	days  map[string]models.DaySummary
	err   error
}

var (
	_ TickRecorder = (*MemoryStore)(nil)
	_ SeriesReader = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[string]models.DaySummary)}
}

// FailWith makes subsequent writes return err until cleared with nil.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryStore) RecordTick(_ context.Context, rec models.TickRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, t := range m.ticks {
		if t.Symbol == rec.Symbol && t.Date == rec.Date && t.Seq == rec.Seq {
			return fmt.Errorf("%w: %s/%s/%d", ErrTickExists, rec.Symbol, rec.Date, rec.Seq)
		}
	}
	m.ticks = append(m.ticks, rec)
	return nil
}

func (m *MemoryStore) NextSeq(_ context.Context, symbol, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := 0
	for _, t := range m.ticks {
		if t.Symbol == symbol && t.Date == date && t.Seq >= next {
			next = t.Seq + 1
		}
	}
	return next, nil
}

func (m *MemoryStore) RecordDay(_ context.Context, summary models.DaySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.days[summary.Date] = summary
	return nil
}

// All returns every recorded tick in write order.
func (m *MemoryStore) All() []models.TickRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TickRecord(nil), m.ticks...)
}

func (m *MemoryStore) ListSeries(date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, t := range m.ticks {
		if t.Date == date {
			seen[t.Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Ticks(symbol, date string) ([]models.TickRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TickRecord
	for _, t := range m.ticks {
		if t.Symbol == symbol && t.Date == date {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) Day(date string) (*models.DaySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.days[date]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) Close() error { return nil }
