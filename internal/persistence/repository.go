package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paragon-bot-go/internal/models"
)

// ErrTickExists is returned when a tick key is written twice. The tick log is append-only.
var ErrTickExists = errors.New("tick record already exists")

// TickRecorder defines the append-only storage the trading loop writes to.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, rqlite)
// from the rest of the application.
type TickRecorder interface {
	// RecordTick appends one per-symbol tick record keyed by (symbol, date, seq).
	RecordTick(ctx context.Context, rec models.TickRecord) error

	// NextSeq returns the sequence after the last one recorded for (symbol, date),
	// or 0 when nothing has been recorded yet.
	NextSeq(ctx context.Context, symbol, date string) (int, error)

	// RecordDay stores the closing summary of a trading day.
	RecordDay(ctx context.Context, summary models.DaySummary) error

	// Close gracefully closes the connection to the database.
	Close() error
}

// SeriesReader reads back recorded ticks for export and reporting.
type SeriesReader interface {
	// ListSeries returns the symbols that have ticks on date, sorted.
	ListSeries(date string) ([]string, error)

	// Ticks returns a symbol's records for date in sequence order.
	Ticks(symbol, date string) ([]models.TickRecord, error)

	// Day returns the stored summary for date, or (nil, nil) if none exists.
	Day(date string) (*models.DaySummary, error)
}

// Open creates the recorder selected by the storage config.
func Open(ctx context.Context, cfg models.StorageConfig) (TickRecorder, error) {
	switch strings.ToLower(cfg.Backend) {
	case "badger":
		return NewBadgerStore(cfg.Path)
	case "rqlite":
		return NewRqliteStore(ctx, cfg.Endpoint, cfg.User, cfg.Pass)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
