package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"paragon-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is the BadgerDB implementation of TickRecorder and SeriesReader.
type BadgerStore struct {
	db *badger.DB
}

var (
	_ TickRecorder = (*BadgerStore)(nil)
	_ SeriesReader = (*BadgerStore)(nil)
)

// NewBadgerStore opens (or creates) a BadgerDB database at dbPath.
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", dbPath, err)
	}
	return &BadgerStore{db: db}, nil
}

func tickKey(symbol, date string, seq int) []byte {
	return []byte(fmt.Sprintf("tick/%s/%s/%010d", symbol, date, seq))
}

func tickPrefix(symbol, date string) []byte {
	return []byte(fmt.Sprintf("tick/%s/%s/", symbol, date))
}

func dayKey(date string) []byte {
	return []byte("day/" + date)
}

// RecordTick stores the record as JSON. An existing key is never overwritten.
func (s *BadgerStore) RecordTick(_ context.Context, rec models.TickRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := tickKey(rec.Symbol, rec.Date, rec.Seq)
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrTickExists, key)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// NextSeq seeks to the last key under the (symbol, date) prefix.
func (s *BadgerStore) NextSeq(_ context.Context, symbol, date string) (int, error) {
	prefix := tickPrefix(symbol, date)
	next := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte(nil), prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		key := string(it.Item().Key())
		seq, err := strconv.Atoi(key[len(prefix):])
		if err != nil {
			return fmt.Errorf("bad tick key %q: %w", key, err)
		}
		next = seq + 1
		return nil
	})
	return next, err
}

func (s *BadgerStore) RecordDay(_ context.Context, summary models.DaySummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dayKey(summary.Date), data)
	})
}

func (s *BadgerStore) ListSeries(date string) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("tick/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			parts := strings.Split(string(it.Item().Key()), "/")
			if len(parts) == 4 && parts[2] == date {
				seen[parts[1]] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Ticks relies on the zero-padded sequence so key order equals tick order.
func (s *BadgerStore) Ticks(symbol, date string) ([]models.TickRecord, error) {
	var out []models.TickRecord
	prefix := tickPrefix(symbol, date)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.TickRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Day returns (nil, nil) when no summary has been stored for date.
func (s *BadgerStore) Day(date string) (*models.DaySummary, error) {
	var summary models.DaySummary
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dayKey(date))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("day summary value is empty in database")
			}
			return json.Unmarshal(val, &summary)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
