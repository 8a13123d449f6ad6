// Package store provides the narrow persistence accessors the engine uses:
// the watchlist, the portfolio book and the append-only trade log.
package store

import (
	"context"
	"time"

	"github.com/stockpilot/engine/pkg/types"
)

// Store is the persistence contract. The engine never issues queries
// directly; everything goes through these accessors.
type Store interface {
	// ActiveWatchlist returns the candidate instruments with their
	// last-known quality metadata.
	ActiveWatchlist(ctx context.Context) ([]types.WatchlistItem, error)

	// ActivePortfolio returns every open position.
	ActivePortfolio(ctx context.Context) ([]*types.Position, error)

	// UpsertPosition creates or replaces a position keyed by symbol.
	UpsertPosition(ctx context.Context, pos *types.Position) error

	// ClosePosition removes a fully sold position from the book.
	ClosePosition(ctx context.Context, symbol string) error

	// RecordTrade appends to the trade log. Entries are never mutated.
	RecordTrade(ctx context.Context, entry *types.TradeLogEntry) error

	// CheckDuplicateOrder reports whether a trade for symbol/side exists
	// within the window. This is an advisory check against the log, not a
	// transactional unique constraint; concurrent processes can still race.
	CheckDuplicateOrder(ctx context.Context, symbol string, side types.Side, window time.Duration) (bool, error)

	// CountTradesSince counts logged trades for a side since the cutoff,
	// backing the daily buy limit.
	CountTradesSince(ctx context.Context, side types.Side, since time.Time) (int, error)

	// RecentTrades returns the newest limit entries, newest first.
	RecentTrades(ctx context.Context, limit int) ([]*types.TradeLogEntry, error)
}
