package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stockpilot/engine/pkg/types"
)

// Memory is an in-process Store used by the backtester and tests.
type Memory struct {
	mu        sync.RWMutex
	watchlist []types.WatchlistItem
	positions map[string]*types.Position
	trades    []*types.TradeLogEntry

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		positions: make(map[string]*types.Position),
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests and simulated time.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

// SetWatchlist replaces the watchlist contents.
func (m *Memory) SetWatchlist(items []types.WatchlistItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchlist = append([]types.WatchlistItem(nil), items...)
}

func (m *Memory) ActiveWatchlist(ctx context.Context) ([]types.WatchlistItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.WatchlistItem(nil), m.watchlist...), nil
}

func (m *Memory) ActivePortfolio(ctx context.Context) ([]*types.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		cp := *pos
		out = append(out, &cp)
	}
	// Entry order, then symbol, matching the Postgres query; callers that
	// replay the book must see the same sequence on every run.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryAt.Equal(out[j].EntryAt) {
			return out[i].EntryAt.Before(out[j].EntryAt)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (m *Memory) UpsertPosition(ctx context.Context, pos *types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pos
	m.positions[pos.Symbol] = &cp
	return nil
}

func (m *Memory) ClosePosition(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	return nil
}

func (m *Memory) RecordTrade(ctx context.Context, entry *types.TradeLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.trades = append(m.trades, &cp)
	return nil
}

func (m *Memory) CheckDuplicateOrder(ctx context.Context, symbol string, side types.Side, window time.Duration) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.now().Add(-window)
	for i := len(m.trades) - 1; i >= 0; i-- {
		t := m.trades[i]
		if t.ExecutedAt.Before(cutoff) {
			break
		}
		if t.Symbol == symbol && t.Side == side {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CountTradesSince(ctx context.Context, side types.Side, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.trades {
		if t.Side == side && !t.ExecutedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) RecentTrades(ctx context.Context, limit int) ([]*types.TradeLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*types.TradeLogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *m.trades[i]
		out = append(out, &cp)
	}
	return out, nil
}
