package base

import (
	"context"
	"log/slog"
	"time"
)

// BlockTimestamper resolves a block number to its timestamp.
type BlockTimestamper interface {
	BlockTimestamp(ctx context.Context, number int64) (time.Time, bool, error)
}

type memoEntry struct {
	ts time.Time
	ok bool
}

// TimestampMemo is a read-through block timestamp cache scoped to one
// aggregation run. Failed and missing lookups are remembered as absent, so
// every block is fetched at most once. Not safe for concurrent use.
type TimestampMemo struct {
	source  BlockTimestamper
	entries map[int64]memoEntry
	logger  *slog.Logger
}

func NewTimestampMemo(source BlockTimestamper, logger *slog.Logger) *TimestampMemo {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimestampMemo{
		source:  source,
		entries: make(map[int64]memoEntry),
		logger:  logger,
	}
}

func (m *TimestampMemo) Get(ctx context.Context, number int64) (time.Time, bool) {
	if e, ok := m.entries[number]; ok {
		return e.ts, e.ok
	}

	ts, ok, err := m.source.BlockTimestamp(ctx, number)
	if err != nil {
		m.logger.Warn("block timestamp lookup failed", "block", number, "error", err)
		ok = false
	}
	m.entries[number] = memoEntry{ts: ts, ok: ok}
	return ts, ok
}

// Len returns the number of distinct blocks looked up so far.
func (m *TimestampMemo) Len() int {
	return len(m.entries)
}
