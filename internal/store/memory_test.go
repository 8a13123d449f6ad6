package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockpilot/engine/pkg/types"
)

func TestPositionLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	pos := &types.Position{
		Symbol:           "AAPL",
		Quantity:         100,
		OriginalQuantity: 100,
		AvgEntryPrice:    decimal.NewFromInt(1000),
	}
	if err := m.UpsertPosition(ctx, pos); err != nil {
		t.Fatal(err)
	}

	book, _ := m.ActivePortfolio(ctx)
	if len(book) != 1 {
		t.Fatalf("book size = %d, want 1", len(book))
	}

	// Mutating the returned copy must not leak into the store.
	book[0].Quantity = 1
	book, _ = m.ActivePortfolio(ctx)
	if book[0].Quantity != 100 {
		t.Fatal("store mutated through a returned copy")
	}

	if err := m.ClosePosition(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}
	book, _ = m.ActivePortfolio(ctx)
	if len(book) != 0 {
		t.Fatalf("book size = %d after close, want 0", len(book))
	}
}

func TestActivePortfolioOrdered(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// Inserted out of order; reads must come back by entry time, then
	// symbol, the same way the Postgres query orders them.
	m.UpsertPosition(ctx, &types.Position{Symbol: "CCC", EntryAt: base.Add(time.Hour)})
	m.UpsertPosition(ctx, &types.Position{Symbol: "BBB", EntryAt: base})
	m.UpsertPosition(ctx, &types.Position{Symbol: "AAA", EntryAt: base})

	for i := 0; i < 20; i++ {
		book, err := m.ActivePortfolio(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if book[0].Symbol != "AAA" || book[1].Symbol != "BBB" || book[2].Symbol != "CCC" {
			t.Fatalf("order = %s, %s, %s; want AAA, BBB, CCC",
				book[0].Symbol, book[1].Symbol, book[2].Symbol)
		}
	}
}

func TestDuplicateOrderWindow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	m.RecordTrade(ctx, &types.TradeLogEntry{
		Symbol: "AAPL", Side: types.SideBuy, ExecutedAt: now.Add(-5 * time.Minute),
	})

	dup, _ := m.CheckDuplicateOrder(ctx, "AAPL", types.SideBuy, 10*time.Minute)
	if !dup {
		t.Fatal("recent buy not detected inside the window")
	}
	dup, _ = m.CheckDuplicateOrder(ctx, "AAPL", types.SideSell, 10*time.Minute)
	if dup {
		t.Fatal("sell reported duplicate from a buy entry")
	}
	dup, _ = m.CheckDuplicateOrder(ctx, "MSFT", types.SideBuy, 10*time.Minute)
	if dup {
		t.Fatal("different symbol reported duplicate")
	}
	dup, _ = m.CheckDuplicateOrder(ctx, "AAPL", types.SideBuy, 2*time.Minute)
	if dup {
		t.Fatal("entry outside a narrower window reported duplicate")
	}
}

func TestCountTradesSince(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	m.RecordTrade(ctx, &types.TradeLogEntry{Side: types.SideBuy, ExecutedAt: day.Add(-time.Hour)})
	m.RecordTrade(ctx, &types.TradeLogEntry{Side: types.SideBuy, ExecutedAt: day.Add(time.Hour)})
	m.RecordTrade(ctx, &types.TradeLogEntry{Side: types.SideBuy, ExecutedAt: day.Add(2 * time.Hour)})
	m.RecordTrade(ctx, &types.TradeLogEntry{Side: types.SideSell, ExecutedAt: day.Add(3 * time.Hour)})

	count, _ := m.CountTradesSince(ctx, types.SideBuy, day)
	if count != 2 {
		t.Fatalf("count = %d, want 2 (yesterday's buy excluded)", count)
	}
}

func TestRecentTradesNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		m.RecordTrade(ctx, &types.TradeLogEntry{
			ID:         string(rune('a' + i)),
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	trades, _ := m.RecentTrades(ctx, 3)
	if len(trades) != 3 {
		t.Fatalf("len = %d, want 3", len(trades))
	}
	if trades[0].ID != "e" || trades[2].ID != "c" {
		t.Fatalf("order = %s..%s, want e..c", trades[0].ID, trades[2].ID)
	}

	all, _ := m.RecentTrades(ctx, 0)
	if len(all) != 5 {
		t.Fatalf("limit 0 returned %d, want all 5", len(all))
	}
}
